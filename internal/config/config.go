package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort        int           `yaml:"http_port"`
	SMTPPort        int           `yaml:"smtp_port"`
	DBPath          string        `yaml:"db_path"`
	Domain          string        `yaml:"domain"`
	AuthSecret      string        `yaml:"auth_secret"`
	SessionMaxAge   time.Duration `yaml:"session_max_age"`
	SMTPAuthEnabled bool          `yaml:"smtp_auth_enabled"`
	SMTPUsername    string        `yaml:"smtp_username"`
	SMTPPassword    string        `yaml:"smtp_password"`
	PowDifficulty   int           `yaml:"pow_difficulty"`
	PowPrefix       string        `yaml:"pow_prefix"`
	LegacyPIN       string        `yaml:"legacy_pin"`
	StorageQuota    int64         `yaml:"storage_quota_bytes"`
	FetchLimit      int           `yaml:"fetch_limit"`
	LogLevel        string        `yaml:"log_level"`
}

func Default() Config {
	return Config{
		HTTPPort:        3025,
		SMTPPort:        2025,
		Domain:          "bridgbox.cloud",
		SessionMaxAge:   7 * 24 * time.Hour,
		SMTPAuthEnabled: false,
		SMTPUsername:    "bridgbox",
		SMTPPassword:    "bridgbox",
		PowDifficulty:   0,
		PowPrefix:       "bridgbox",
		StorageQuota:    5 << 30,
		FetchLimit:      50,
		LogLevel:        "info",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// --config or BRIDGBOX_CONFIG, then environment variables, then flags.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("bridgbox", pflag.ContinueOnError)
	configPath := fs.String("config", getEnvString("BRIDGBOX_CONFIG", ""), "path to a YAML config file")
	httpPort := fs.Int("http-port", 0, "HTTP listen port")
	smtpPort := fs.Int("smtp-port", 0, "SMTP listen port")
	dbPath := fs.String("db", "", "sqlite database path (empty for in-memory)")
	domain := fs.String("domain", "", "mail domain served by this instance")
	powDifficulty := fs.Int("pow-difficulty", 0, "leading zero hex digits required on send (0 disables)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	cfg := Default()
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if fs.Changed("http-port") {
		cfg.HTTPPort = *httpPort
	}
	if fs.Changed("smtp-port") {
		cfg.SMTPPort = *smtpPort
	}
	if fs.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if fs.Changed("domain") {
		cfg.Domain = *domain
	}
	if fs.Changed("pow-difficulty") {
		cfg.PowDifficulty = *powDifficulty
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}

	cfg.Domain = strings.ToLower(strings.TrimSpace(cfg.Domain))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.SMTPPort = getEnvInt("SMTP_PORT", c.SMTPPort)
	c.DBPath = getEnvString("DB_PATH", c.DBPath)
	c.Domain = getEnvString("BRIDGBOX_DOMAIN", c.Domain)
	c.AuthSecret = getEnvString("AUTH_SECRET", c.AuthSecret)
	c.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", c.SessionMaxAge)
	c.SMTPAuthEnabled = getEnvBool("SMTP_AUTH_ENABLED", c.SMTPAuthEnabled)
	c.SMTPUsername = getEnvString("SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = getEnvString("SMTP_PASSWORD", c.SMTPPassword)
	c.PowDifficulty = getEnvInt("POW_DIFFICULTY", c.PowDifficulty)
	c.PowPrefix = getEnvString("POW_PREFIX", c.PowPrefix)
	c.LegacyPIN = getEnvString("LEGACY_PIN", c.LegacyPIN)
	c.StorageQuota = int64(getEnvInt("STORAGE_QUOTA_BYTES", int(c.StorageQuota)))
	c.FetchLimit = getEnvInt("FETCH_LIMIT", c.FetchLimit)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range", c.HTTPPort))
	}
	if c.SMTPPort < 0 || c.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("smtp port %d out of range", c.SMTPPort))
	}
	if c.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if c.PowDifficulty < 0 || c.PowDifficulty > 64 {
		errs = append(errs, fmt.Errorf("pow difficulty %d must be between 0 and 64", c.PowDifficulty))
	}
	if c.LegacyPIN != "" && len(c.LegacyPIN) != 4 {
		errs = append(errs, errors.New("legacy pin must be 4 characters"))
	}
	if c.StorageQuota <= 0 {
		errs = append(errs, errors.New("storage quota must be positive"))
	}
	if c.FetchLimit <= 0 {
		errs = append(errs, errors.New("fetch limit must be positive"))
	}
	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("session max age must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
