package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate rejects configs the app cannot run with. It is used at startup and
// as the hot-reload validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Telegram.OfficialToken) == "" {
		errs = append(errs, errors.New("telegram.official_token is required"))
	}
	if strings.TrimSpace(cfg.Telegram.StudentToken) == "" {
		errs = append(errs, errors.New("telegram.student_token is required"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Telegram.Mode)) {
	case "", "poll":
	case "webhook":
		if strings.TrimSpace(cfg.Telegram.PublicURL) == "" {
			errs = append(errs, errors.New("telegram.public_url is required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("telegram.mode: unknown %q", cfg.Telegram.Mode))
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "pebble":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for driver postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.State.Driver)) {
	case "", "store":
	case "redis":
		if strings.TrimSpace(cfg.State.RedisAddr) == "" {
			errs = append(errs, errors.New("state.redis_addr is required for driver redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.driver: unknown %q", cfg.State.Driver))
	}

	if cfg.Dispatch.RatePerSec < 0 || cfg.Dispatch.MaxDownloadMB < 0 || cfg.Dispatch.Workers < 0 {
		errs = append(errs, errors.New("dispatch: numeric limits must be >= 0"))
	}
	if tz := strings.TrimSpace(cfg.Dispatch.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("dispatch.timezone: invalid %q: %w", tz, err))
		}
	}

	if cfg.Mail.Enabled {
		if cfg.Mail.ClientID == "" || cfg.Mail.ClientSecret == "" {
			errs = append(errs, errors.New("mail.client_id and mail.client_secret are required when mail is enabled"))
		}
		if spec := strings.TrimSpace(cfg.Mail.RenewSpec); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				errs = append(errs, fmt.Errorf("mail.renew_spec: %w", err))
			}
		}
	}

	durations := map[string]string{
		"telegram.poll_timeout":     cfg.Telegram.PollTimeout,
		"http.read_timeout":         cfg.HTTP.ReadTimeout,
		"http.write_timeout":        cfg.HTTP.WriteTimeout,
		"http.idle_timeout":         cfg.HTTP.IdleTimeout,
		"auth.access_ttl":           cfg.Auth.AccessTTL,
		"auth.refresh_ttl":          cfg.Auth.RefreshTTL,
		"storage.busy_timeout":      cfg.Storage.BusyTimeout,
		"state.ttl":                 cfg.State.TTL,
		"dispatch.send_timeout":     cfg.Dispatch.SendTimeout,
		"dispatch.download_timeout": cfg.Dispatch.DownloadTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
