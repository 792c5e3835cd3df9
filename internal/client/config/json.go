package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/flagx"
	"github.com/dmitrijs2005/pantrysync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Zero values
// mean "not set" and leave the corresponding Config field untouched.
type JsonConfig struct {
	ServerEndpointAddr string `json:"server_endpoint_addr"`
	RealtimeURL        string `json:"realtime_url"`
	DataDir            string `json:"data_dir"`
	LogLevel           string `json:"log_level"`

	UserID      string `json:"user_id"`
	GroupID     string `json:"group_id"`
	AccessToken string `json:"access_token"`

	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	PersistDebounce     timex.Duration `json:"persist_debounce"`
	InvalidateInterval  timex.Duration `json:"invalidate_interval"`
	DedupWindow         timex.Duration `json:"dedup_window"`
	DedupSweepInterval  timex.Duration `json:"dedup_sweep_interval"`
	SignedURLTTL        timex.Duration `json:"signed_url_ttl"`
	OrphanBlobGrace     timex.Duration `json:"orphan_blob_grace"`

	MaxAttempts    int `json:"max_attempts"`
	BlobRetryLimit int `json:"blob_retry_limit"`

	ReconnectBaseDelay   timex.Duration `json:"reconnect_base_delay"`
	ReconnectMaxDelay    timex.Duration `json:"reconnect_max_delay"`
	MaxReconnectAttempts int            `json:"max_reconnect_attempts"`

	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
}

// parseJson overlays Config with values loaded from the file named by -c or
// -config. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFilePath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.RealtimeURL, jc.RealtimeURL)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.UserID, jc.UserID)
	setString(&cfg.GroupID, jc.GroupID)
	setString(&cfg.AccessToken, jc.AccessToken)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)

	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.PersistDebounce, jc.PersistDebounce)
	setDuration(&cfg.InvalidateInterval, jc.InvalidateInterval)
	setDuration(&cfg.DedupWindow, jc.DedupWindow)
	setDuration(&cfg.DedupSweepInterval, jc.DedupSweepInterval)
	setDuration(&cfg.SignedURLTTL, jc.SignedURLTTL)
	setDuration(&cfg.OrphanBlobGrace, jc.OrphanBlobGrace)
	setDuration(&cfg.ReconnectBaseDelay, jc.ReconnectBaseDelay)
	setDuration(&cfg.ReconnectMaxDelay, jc.ReconnectMaxDelay)

	setInt(&cfg.MaxAttempts, jc.MaxAttempts)
	setInt(&cfg.BlobRetryLimit, jc.BlobRetryLimit)
	setInt(&cfg.MaxReconnectAttempts, jc.MaxReconnectAttempts)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
