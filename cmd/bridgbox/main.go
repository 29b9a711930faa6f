package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/bridgbox/bridgbox/internal/api"
	"github.com/bridgbox/bridgbox/internal/auth"
	"github.com/bridgbox/bridgbox/internal/compose"
	"github.com/bridgbox/bridgbox/internal/config"
	"github.com/bridgbox/bridgbox/internal/contacts"
	"github.com/bridgbox/bridgbox/internal/directory"
	"github.com/bridgbox/bridgbox/internal/drive"
	"github.com/bridgbox/bridgbox/internal/notes"
	"github.com/bridgbox/bridgbox/internal/notify"
	"github.com/bridgbox/bridgbox/internal/smtpserver"
	"github.com/bridgbox/bridgbox/internal/store"
	"github.com/bridgbox/bridgbox/internal/zap"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	authManager, err := auth.New(cfg.AuthSecret, cfg.SessionMaxAge)
	if err != nil {
		logger.Error("init auth", "error", err)
		os.Exit(1)
	}
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}

	schemas, err := zap.LoadSchemas()
	if err != nil {
		logger.Error("load zap schemas", "error", err)
		os.Exit(1)
	}

	dir := directory.New(db, cfg.Domain)
	notifier := notify.NewNotifier(db, notify.NewHub(), logger)
	mail := compose.NewService(db, dir, notifier, db, compose.Options{
		PowDifficulty: cfg.PowDifficulty,
		PowPrefix:     cfg.PowPrefix,
		FetchLimit:    cfg.FetchLimit,
	}, logger)
	zaps := zap.NewService(db, schemas, logger)
	files := drive.NewService(db, dir, cfg.StorageQuota, logger)
	runner := zap.NewRunner(files, mail, dir, logger)
	files.UseAutomations(zaps, runner)
	mail.UseAutomations(zaps, runner, dir)

	apiServer := api.NewServer(cfg, api.Deps{
		Store:     db,
		Auth:      authManager,
		Directory: dir,
		Mail:      mail,
		Notifier:  notifier,
		Zaps:      zaps,
		Drive:     files,
		Contacts:  contacts.NewService(db, dir),
		Notes:     notes.NewService(db),
	}, logger)

	smtpAuthCfg := smtpserver.AuthConfig{
		Enabled:  cfg.SMTPAuthEnabled,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}
	if smtpAuthCfg.Enabled {
		logger.Info("smtp auth enabled", "username", smtpAuthCfg.Username)
	} else {
		logger.Warn("smtp auth disabled; gateway accepts unauthenticated connections")
	}

	smtpSrv := smtpserver.New(mail, dir, logger, smtpserver.Config{
		Addr:   fmt.Sprintf(":%d", cfg.SMTPPort),
		Domain: cfg.Domain,
		Auth:   smtpAuthCfg,
	})

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.SMTPPort > 0 {
		go func() {
			if err := smtpSrv.ListenAndServe(); err != nil {
				logger.Error("smtp server stopped", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("http server listening", "addr", httpAddr, "domain", cfg.Domain, "pow_difficulty", cfg.PowDifficulty)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	if err := smtpSrv.Close(); err != nil {
		logger.Error("shutdown smtp", "error", err)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
