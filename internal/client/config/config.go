package config

import "time"

// Config holds runtime settings for the pantrysync client.
//
// Durations are time.Duration values; JSON files express them through
// timex.Duration, flags take whole seconds.
type Config struct {
	ServerEndpointAddr string
	RealtimeURL        string
	DataDir            string
	LogLevel           string

	UserID      string
	GroupID     string
	AccessToken string

	OnlineCheckInterval time.Duration
	PersistDebounce     time.Duration
	InvalidateInterval  time.Duration
	DedupWindow         time.Duration
	DedupSweepInterval  time.Duration
	SignedURLTTL        time.Duration
	OrphanBlobGrace     time.Duration

	MaxAttempts    int
	BlobRetryLimit int

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RealtimeURL = "ws://127.0.0.1:4000/realtime"
	c.DataDir = ".pantrysync"
	c.LogLevel = "info"

	c.OnlineCheckInterval = 3 * time.Second
	c.PersistDebounce = 500 * time.Millisecond
	c.InvalidateInterval = time.Second
	c.DedupWindow = 5 * time.Second
	c.DedupSweepInterval = 10 * time.Second
	c.SignedURLTTL = time.Hour
	c.OrphanBlobGrace = 24 * time.Hour

	c.MaxAttempts = 10
	c.BlobRetryLimit = 3

	c.ReconnectBaseDelay = time.Second
	c.ReconnectMaxDelay = 30 * time.Second
	c.MaxReconnectAttempts = 10

	c.S3Bucket = "pantry-images"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
