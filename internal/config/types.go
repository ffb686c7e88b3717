package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Retract   RetractConfig   `json:"retract"`
	Links     LinksConfig     `json:"links"`
	API       APIConfig       `json:"api,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// BotUsername and AppName form the public secure-link prefix
	// https://t.me/<bot_username>/<app_name>?startapp=<id>.
	BotUsername string `json:"bot_username"`
	AppName     string `json:"app_name"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the recipient/link store.
type StorageConfig struct {
	Driver      string `json:"driver"`                 // "sqlite"
	Path        string `json:"path"`                   // database file
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// BroadcastConfig tunes dispatch pacing. All durations are Go duration
// strings. The defaults match Telegram's published bot limits; other
// transports may need different values.
type BroadcastConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`   // limiter ceiling, default 25
	BaseDelay     string `json:"base_delay,omitempty"`     // between deliveries, default "100ms"
	CooldownEvery int    `json:"cooldown_every,omitempty"` // default 30
	Cooldown      string `json:"cooldown,omitempty"`       // default "2s"
	ProgressEvery int    `json:"progress_every,omitempty"` // default 50
	SendTimeout   string `json:"send_timeout,omitempty"`   // per-delivery bound, default "30s"
}

// RetractConfig controls deferred deletion of delivered messages.
type RetractConfig struct {
	Retention string `json:"retention,omitempty"` // default "24h"
	Workers   int    `json:"workers,omitempty"`   // default 2
}

// LinksConfig controls the secure-link store and its in-memory cache tier.
type LinksConfig struct {
	TTL       string `json:"ttl,omitempty"`        // default "720h" (30 days)
	CacheSize int    `json:"cache_size,omitempty"` // default 20
	Refresh   string `json:"refresh,omitempty"`    // cache refresh cron interval, default "1h"
}

// APIConfig controls the HTTP resolve endpoint.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":5000"
}
