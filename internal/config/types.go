package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "2h"). String values may reference ${ENV_VARS}.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`
	Auth     AuthConfig     `json:"auth"`
	Storage  StorageConfig  `json:"storage"`
	State    StateConfig    `json:"state"`
	Dispatch DispatchConfig `json:"dispatch"`
	Mail     MailConfig     `json:"mail"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type TelegramConfig struct {
	OfficialToken string `json:"official_token"`
	StudentToken  string `json:"student_token"`

	// Mode is "poll" (default) or "webhook".
	Mode string `json:"mode,omitempty"`
	// PublicURL is the externally reachable base URL; webhooks are registered
	// at <public_url>/telegram/<bot>.
	PublicURL     string `json:"public_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	PollTimeout   string `json:"poll_timeout,omitempty"`

	// MiniAppURL is opened by the "Open viewer" button.
	MiniAppURL string `json:"mini_app_url,omitempty"`
	// AuthURLBase is the OAuth front door, e.g. "https://auth.example.com/".
	AuthURLBase string `json:"auth_url_base"`
}

type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// BroadcastSecret guards the server-to-server endpoints (do not log).
	BroadcastSecret string `json:"broadcast_secret"`
	Pprof           bool   `json:"pprof,omitempty"`
}

type AuthConfig struct {
	JWTSecret  string `json:"jwt_secret"`
	Issuer     string `json:"issuer,omitempty"`
	AccessTTL  string `json:"access_ttl,omitempty"`  // default 2h
	RefreshTTL string `json:"refresh_ttl,omitempty"` // default 168h
}

// StorageConfig selects the document store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./relaybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // sqlite | postgres | pebble | memory
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type StateConfig struct {
	Driver    string `json:"driver,omitempty"` // store (default) | redis
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	TTL       string `json:"ttl,omitempty"` // default 24h
}

type DispatchConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`     // default 25
	SendTimeout     string `json:"send_timeout,omitempty"`     // default 10s
	DownloadTimeout string `json:"download_timeout,omitempty"` // default 60s
	MaxDownloadMB   int    `json:"max_download_mb,omitempty"`  // default 50
	Timezone        string `json:"timezone,omitempty"`
	Workers         int    `json:"workers,omitempty"` // update handlers per bot, default 4
}

type MailConfig struct {
	Enabled      bool     `json:"enabled"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURI     string   `json:"token_uri,omitempty"`
	Topic        string   `json:"topic,omitempty"`
	RenewSpec    string   `json:"renew_spec,omitempty"` // cron spec, default "@daily"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Ops     LoggingOps  `json:"ops"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOps mirrors warnings to an operator chat through the official bot.
type LoggingOps struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}
