// Package directory maps human-readable Bridgbox names to wallet
// addresses.
package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bridgbox/bridgbox/internal/store"
)

var (
	ErrNotFound        = errors.New("user not found")
	ErrTaken           = errors.New("username is taken")
	ErrInvalidUsername = errors.New("username must be 3-32 characters of a-z, 0-9, dot, dash or underscore")
	ErrInvalidAddress  = errors.New("address must be 0x followed by 40 hex characters")
)

var (
	addressPattern  = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
	usernamePattern = regexp.MustCompile(`^[a-z0-9._-]{3,32}$`)
)

type Store interface {
	ReserveUsername(ctx context.Context, username, address string, now time.Time) error
	LookupUsername(ctx context.Context, username string) (string, error)
}

type Directory struct {
	store  Store
	domain string
}

func New(store Store, domain string) *Directory {
	return &Directory{store: store, domain: strings.ToLower(strings.TrimSpace(domain))}
}

func (d *Directory) Domain() string {
	return d.domain
}

// NormalizeAddress validates a wallet address and lowercases it.
func NormalizeAddress(address string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if !addressPattern.MatchString(normalized) {
		return "", ErrInvalidAddress
	}
	return normalized, nil
}

func IsAddress(value string) bool {
	_, err := NormalizeAddress(value)
	return err == nil
}

func NormalizeUsername(username string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(normalized) {
		return "", ErrInvalidUsername
	}
	return normalized, nil
}

func (d *Directory) Register(ctx context.Context, username, address string) (string, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return "", err
	}
	addr, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}
	if err := d.store.ReserveUsername(ctx, name, addr, time.Now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrTaken
		}
		return "", fmt.Errorf("register username: %w", err)
	}
	return name, nil
}

// Resolve turns a wallet address, a username, or name@domain into a
// lowercased wallet address.
func (d *Directory) Resolve(ctx context.Context, input string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "" {
		return "", ErrNotFound
	}
	if addr, err := NormalizeAddress(trimmed); err == nil {
		return addr, nil
	}
	name := trimmed
	if at := strings.LastIndexByte(trimmed, '@'); at >= 0 {
		local, domain := trimmed[:at], trimmed[at+1:]
		if addr, err := NormalizeAddress(local); err == nil {
			return addr, nil
		}
		if d.domain != "" && domain != d.domain {
			return "", ErrNotFound
		}
		name = local
	}
	address, err := d.store.LookupUsername(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve %q: %w", input, err)
	}
	return address, nil
}

// ResolveAlias resolves the part before "@" as a username regardless of
// domain. Automation filters store aliases this way.
func (d *Directory) ResolveAlias(ctx context.Context, alias string) (string, error) {
	local := strings.ToLower(strings.TrimSpace(alias))
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	if addr, err := NormalizeAddress(local); err == nil {
		return addr, nil
	}
	address, err := d.store.LookupUsername(ctx, local)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve alias %q: %w", alias, err)
	}
	return address, nil
}
