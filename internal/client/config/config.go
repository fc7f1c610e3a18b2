package config

import (
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/buffer"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
)

// Config holds runtime settings of the sender.
type Config struct {
	ServerURL string
	GRPCAddr  string
	APIKey    string

	BufferBackend string
	BufferPath    string
	KeyCachePath  string
	ChunkSize     int

	UploadInterval time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration

	StoreRetries    int
	StoreRetryDelay time.Duration

	RelayMaxRetries   int
	RelayRetryDelay   time.Duration
	RelayPollInterval time.Duration

	Encrypt      bool
	Codec        string
	SignedTokens bool
	ProxyURL     string

	LogFormat string
	LogLevel  string
}

const dataDir = ".chunkpipe"

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.GRPCAddr = "127.0.0.1:50051"

	c.BufferBackend = buffer.BackendSQLite
	c.BufferPath = filepath.Join(dataDir, "buffer.db")
	c.KeyCachePath = filepath.Join(dataDir, "receiver-key.json")
	c.ChunkSize = common.DefaultChunkSize

	c.UploadInterval = 30 * time.Second
	c.MaxRetries = 5
	c.RetryDelay = time.Second
	c.RequestTimeout = 30 * time.Second

	c.StoreRetries = 3
	c.StoreRetryDelay = 100 * time.Millisecond

	c.RelayMaxRetries = 3
	c.RelayRetryDelay = time.Second
	c.RelayPollInterval = 100 * time.Millisecond

	c.Codec = cryptox.CodecRaw

	c.LogFormat = "text"
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
