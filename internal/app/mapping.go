package app

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/auth"
	"relaybot/internal/config"
	"relaybot/internal/dispatch"
	"relaybot/internal/httpapi"
	"relaybot/internal/state"
	"relaybot/internal/storage"
	"relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Ops: logx.OpsConfig{
			Enabled:    l.Ops.Enabled,
			ChatID:     l.Ops.ChatID,
			MinLevel:   l.Ops.MinLevel,
			RatePerSec: l.Ops.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "sqlite3" {
		driver = "sqlite"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapState(cfg *config.Config) (state.Config, error) {
	ttl, err := config.ParseDurationOrDefault("state.ttl", cfg.State.TTL, state.DefaultTTL)
	if err != nil {
		return state.Config{}, err
	}
	return state.Config{
		Driver:    strings.ToLower(strings.TrimSpace(cfg.State.Driver)),
		RedisAddr: cfg.State.RedisAddr,
		RedisDB:   cfg.State.RedisDB,
		TTL:       ttl,
	}, nil
}

// mapDispatch leaves zero values for dispatch.New to default.
func mapDispatch(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	send, err := config.ParseDurationField("dispatch.send_timeout", d.SendTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	download, err := config.ParseDurationField("dispatch.download_timeout", d.DownloadTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return dispatch.Config{}, fmt.Errorf("dispatch.timezone: %w", err)
		}
	}
	return dispatch.Config{
		RatePerSec:       d.RatePerSec,
		SendTimeout:      send,
		DownloadTimeout:  download,
		MaxDownloadBytes: int64(d.MaxDownloadMB) << 20,
		ViewerURL:        cfg.Telegram.MiniAppURL,
		Location:         loc,
	}, nil
}

func mapAuth(cfg *config.Config) (auth.Config, error) {
	access, err := config.ParseDurationOrDefault("auth.access_ttl", cfg.Auth.AccessTTL, auth.DefaultAccessTTL)
	if err != nil {
		return auth.Config{}, err
	}
	refresh, err := config.ParseDurationOrDefault("auth.refresh_ttl", cfg.Auth.RefreshTTL, auth.DefaultRefreshTTL)
	if err != nil {
		return auth.Config{}, err
	}
	return auth.Config{BotToken: cfg.Telegram.OfficialToken, AccessTTL: access, RefreshTTL: refresh}, nil
}

func mapHTTP(cfg *config.Config) httpapi.Config {
	h := cfg.HTTP
	return httpapi.Config{
		Addr:            h.Addr,
		ReadTimeout:     config.MustDuration(h.ReadTimeout, 0),
		WriteTimeout:    config.MustDuration(h.WriteTimeout, 0),
		IdleTimeout:     config.MustDuration(h.IdleTimeout, 0),
		BroadcastSecret: h.BroadcastSecret,
		Pprof:           h.Pprof,
	}
}

// mapTelegram builds the adapter config of one bot. Webhooks are served at
// <public_url>/telegram/<name>.
func mapTelegram(cfg *config.Config, name, token string) telegram.Config {
	t := cfg.Telegram
	mode := telegram.ModePoll
	if strings.EqualFold(strings.TrimSpace(t.Mode), string(telegram.ModeWebhook)) {
		mode = telegram.ModeWebhook
	}
	tc := telegram.Config{
		Name:        name,
		Token:       token,
		Mode:        mode,
		PollTimeout: config.MustDuration(t.PollTimeout, 10*time.Second),
		SecretToken: t.WebhookSecret,
	}
	// Bot API calls share the per-send bound of the dispatcher.
	tc.RequestTimeout = config.MustDuration(cfg.Dispatch.SendTimeout, dispatch.DefaultSendTimeout)
	if mode == telegram.ModeWebhook {
		tc.PublicURL = strings.TrimRight(t.PublicURL, "/") + "/telegram/" + name
	}
	return tc
}
