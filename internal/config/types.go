package config

// Config is the gigwatch configuration file (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1h").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Catalog       CatalogConfig       `json:"catalog"`
	Dispatcher    DispatcherConfig    `json:"dispatcher"`
	Ledger        LedgerConfig        `json:"ledger"`
	Subscribers   SubscribersConfig   `json:"subscribers"`
	Spotify       SpotifyConfig       `json:"spotify"`
	Geocoder      GeocoderConfig      `json:"geocoder"`
	Check         CheckConfig         `json:"check"`
	Observability ObservabilityConfig `json:"observability"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// LogChatID receives warnings and errors when logging.telegram is enabled.
	LogChatID int64  `json:"log_chat_id,omitempty"`
	APIURL    string `json:"api_url,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// CatalogConfig configures the Ticketmaster Discovery client.
//
// Defaults: daily_quota 5000, per_second 5, quota_period "24h", timeout "15s".
type CatalogConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	APIKey      string `json:"api_key"`
	DailyQuota  int    `json:"daily_quota,omitempty"`
	PerSecond   int    `json:"per_second,omitempty"`
	QuotaPeriod string `json:"quota_period,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// DispatcherConfig defaults: global_per_sec 30, send_interval "1.1s", error_pause "1s".
type DispatcherConfig struct {
	GlobalPerSec int    `json:"global_per_sec,omitempty"`
	SendInterval string `json:"send_interval,omitempty"`
	ErrorPause   string `json:"error_pause,omitempty"`
}

// LedgerConfig selects the notified-pairs store.
//
// Example:
//
//	"ledger": { "driver": "file", "path": "./data/notified.json" }
type LedgerConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	KeyPrefix     string `json:"key_prefix,omitempty"`
}

type SubscribersConfig struct {
	Path string `json:"path,omitempty"`
}

type SpotifyConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	APIBase      string `json:"api_base,omitempty"`
	AccountsBase string `json:"accounts_base,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
}

// GeocoderConfig controls the Nominatim fallback for venues without city/country.
// Enabled defaults to true when omitted.
type GeocoderConfig struct {
	Enabled    *bool   `json:"enabled,omitempty"`
	BaseURL    string  `json:"base_url,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

func (g GeocoderConfig) IsEnabled() bool { return g.Enabled == nil || *g.Enabled }

// CheckConfig controls the run trigger.
//
// Schedule accepts cron ("@hourly", "0 * * * *"), a duration ("1h") or HH:MM ("01:00").
// RunOnStart defaults to true when omitted.
type CheckConfig struct {
	Schedule   string `json:"schedule,omitempty"`
	Cooldown   string `json:"cooldown,omitempty"`
	RunOnStart *bool  `json:"run_on_start,omitempty"`
}

func (c CheckConfig) ShouldRunOnStart() bool { return c.RunOnStart == nil || *c.RunOnStart }

// ObservabilityConfig controls the debug HTTP server (/metrics, /healthz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - A non-loopback address needs a token or allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}
