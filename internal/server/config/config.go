// Package config handles configuration for the receiver, including
// defaults, JSON overlay, environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
)

// Config holds runtime settings of the receiver.
//
// Fields:
//   - HTTPAddr / GRPCAddr: bind addresses of the upload API and relay endpoint.
//   - OutputDir: root of the filesystem sink.
//   - APIKey: shared secret; generated at startup when empty.
//   - PathMode: sanitize, allow-paths or ignore.
//   - Encrypt: enables key management and envelope decryption.
//   - Keystore*: key persistence (memory, filesystem, postgres).
//   - MaxKeyAge / KeyCleanupInterval: age based removal of inactive keys;
//     MaxKeyAge may not be shorter than KeyTTL.
//   - Storage / S3*: chunk sink selection and object storage settings.
type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	OutputDir     string
	APIKey        string
	PathMode      string
	MaxChunkBytes int64

	Encrypt            bool
	KeystoreType       string
	KeystoreDir        string
	KeystoreDSN        string
	KeystorePassphrase string
	KeyBits            int
	KeyTTL             time.Duration
	MaxKeyAge          time.Duration
	KeyCleanupInterval time.Duration

	Storage     string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
	S3PathStyle bool

	LogFormat string
	LogLevel  string
}

// LoadDefaults populates c with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.OutputDir = "./uploads"
	c.PathMode = "ignore"
	c.MaxChunkBytes = 8 << 20

	c.KeystoreType = "filesystem"
	c.KeystoreDir = "./keys"
	c.KeyBits = cryptox.DefaultKeyBits
	c.KeyTTL = 90 * 24 * time.Hour
	c.MaxKeyAge = 0
	c.KeyCleanupInterval = time.Hour

	c.Storage = "fs"
	c.S3Region = "us-east-1"

	c.LogFormat = "text"
	c.LogLevel = "info"
}

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects settings that contradict each other.
func (c *Config) Validate() error {
	if c.MaxKeyAge > 0 && c.MaxKeyAge < c.KeyTTL {
		return fmt.Errorf("%w: max key age %s is shorter than key ttl %s", ErrInvalidConfig, c.MaxKeyAge, c.KeyTTL)
	}
	return nil
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment and finally command-line
// flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
