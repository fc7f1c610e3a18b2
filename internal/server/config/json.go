package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/flagx"
	"github.com/dmitrijs2005/chunkpipe/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// Durations use timex.Duration, which accepts both strings such as "1s"
// and integer nanoseconds. Pointer fields tell "false" apart from absent.
type JsonConfig struct {
	HTTPAddr      string `json:"http_addr"`
	GRPCAddr      string `json:"grpc_addr"`
	OutputDir     string `json:"output_dir"`
	APIKey        string `json:"api_key"`
	PathMode      string `json:"path_mode"`
	MaxChunkBytes int64  `json:"max_chunk_bytes"`

	Encrypt            *bool          `json:"encrypt"`
	KeystoreType       string         `json:"keystore_type"`
	KeystoreDir        string         `json:"keystore_dir"`
	KeystoreDSN        string         `json:"keystore_dsn"`
	KeystorePassphrase string         `json:"keystore_passphrase"`
	KeyBits            int            `json:"key_bits"`
	KeyTTL             timex.Duration `json:"key_ttl"`
	MaxKeyAge          timex.Duration `json:"max_key_age"`
	KeyCleanupInterval timex.Duration `json:"key_cleanup_interval"`

	Storage     string `json:"storage"`
	S3Bucket    string `json:"s3_bucket"`
	S3Region    string `json:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
	S3Prefix    string `json:"s3_prefix"`
	S3PathStyle *bool  `json:"s3_path_style"`

	LogFormat string `json:"log_format"`
	LogLevel  string `json:"log_level"`
}

// parseJson loads configuration values from the JSON file named by -c or
// -config into cfg. Without that flag nothing is loaded. Panics if the file
// cannot be read or contains invalid JSON.
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

	setString(&cfg.HTTPAddr, jc.HTTPAddr)
	setString(&cfg.GRPCAddr, jc.GRPCAddr)
	setString(&cfg.OutputDir, jc.OutputDir)
	setString(&cfg.APIKey, jc.APIKey)
	setString(&cfg.PathMode, jc.PathMode)
	if jc.MaxChunkBytes != 0 {
		cfg.MaxChunkBytes = jc.MaxChunkBytes
	}

	if jc.Encrypt != nil {
		cfg.Encrypt = *jc.Encrypt
	}
	setString(&cfg.KeystoreType, jc.KeystoreType)
	setString(&cfg.KeystoreDir, jc.KeystoreDir)
	setString(&cfg.KeystoreDSN, jc.KeystoreDSN)
	setString(&cfg.KeystorePassphrase, jc.KeystorePassphrase)
	setInt(&cfg.KeyBits, jc.KeyBits)
	setDuration(&cfg.KeyTTL, jc.KeyTTL)
	setDuration(&cfg.MaxKeyAge, jc.MaxKeyAge)
	setDuration(&cfg.KeyCleanupInterval, jc.KeyCleanupInterval)

	setString(&cfg.Storage, jc.Storage)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3Prefix, jc.S3Prefix)
	if jc.S3PathStyle != nil {
		cfg.S3PathStyle = *jc.S3PathStyle
	}

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
