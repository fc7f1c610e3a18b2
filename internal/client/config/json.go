package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/flagx"
	"github.com/dmitrijs2005/chunkpipe/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent or
// zero fields keep the value already in Config.
type JsonConfig struct {
	ServerURL string `json:"server_url"`
	GRPCAddr  string `json:"grpc_addr"`
	APIKey    string `json:"api_key"`

	BufferBackend string `json:"buffer_backend"`
	BufferPath    string `json:"buffer_path"`
	KeyCachePath  string `json:"key_cache_path"`
	ChunkSize     int    `json:"chunk_size"`

	UploadInterval timex.Duration `json:"upload_interval"`
	MaxRetries     int            `json:"max_retries"`
	RetryDelay     timex.Duration `json:"retry_delay"`
	RequestTimeout timex.Duration `json:"request_timeout"`

	StoreRetries    int            `json:"store_retries"`
	StoreRetryDelay timex.Duration `json:"store_retry_delay"`

	RelayMaxRetries   int            `json:"relay_max_retries"`
	RelayRetryDelay   timex.Duration `json:"relay_retry_delay"`
	RelayPollInterval timex.Duration `json:"relay_poll_interval"`

	Encrypt      *bool  `json:"encrypt"`
	Codec        string `json:"codec"`
	SignedTokens *bool  `json:"signed_tokens"`
	ProxyURL     string `json:"proxy_url"`

	LogFormat string `json:"log_format"`
	LogLevel  string `json:"log_level"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath()
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

	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.GRPCAddr, jc.GRPCAddr)
	setString(&cfg.APIKey, jc.APIKey)
	setString(&cfg.BufferBackend, jc.BufferBackend)
	setString(&cfg.BufferPath, jc.BufferPath)
	setString(&cfg.KeyCachePath, jc.KeyCachePath)
	setInt(&cfg.ChunkSize, jc.ChunkSize)

	setDuration(&cfg.UploadInterval, jc.UploadInterval)
	setInt(&cfg.MaxRetries, jc.MaxRetries)
	setDuration(&cfg.RetryDelay, jc.RetryDelay)
	setDuration(&cfg.RequestTimeout, jc.RequestTimeout)

	setInt(&cfg.StoreRetries, jc.StoreRetries)
	setDuration(&cfg.StoreRetryDelay, jc.StoreRetryDelay)

	setInt(&cfg.RelayMaxRetries, jc.RelayMaxRetries)
	setDuration(&cfg.RelayRetryDelay, jc.RelayRetryDelay)
	setDuration(&cfg.RelayPollInterval, jc.RelayPollInterval)

	if jc.Encrypt != nil {
		cfg.Encrypt = *jc.Encrypt
	}
	setString(&cfg.Codec, jc.Codec)
	if jc.SignedTokens != nil {
		cfg.SignedTokens = *jc.SignedTokens
	}
	setString(&cfg.ProxyURL, jc.ProxyURL)

	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.LogLevel, jc.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
