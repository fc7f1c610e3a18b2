package config

import "github.com/dmitrijs2005/chunkpipe/internal/envx"

// parseEnv overlays Config with CHUNKPIPE_* variables. Panics on values
// that do not parse.
func parseEnv(cfg *Config) {
	envx.String(&cfg.HTTPAddr, "CHUNKPIPE_HTTP_ADDR")
	envx.String(&cfg.GRPCAddr, "CHUNKPIPE_GRPC_ADDR")
	envx.String(&cfg.OutputDir, "CHUNKPIPE_OUTPUT_DIR")
	envx.String(&cfg.APIKey, "CHUNKPIPE_API_KEY")
	envx.String(&cfg.PathMode, "CHUNKPIPE_PATH_MODE")
	envx.String(&cfg.KeystoreType, "CHUNKPIPE_KEYSTORE_TYPE")
	envx.String(&cfg.KeystoreDir, "CHUNKPIPE_KEYSTORE_DIR")
	envx.String(&cfg.KeystoreDSN, "CHUNKPIPE_KEYSTORE_DSN")
	envx.String(&cfg.KeystorePassphrase, "CHUNKPIPE_KEYSTORE_PASSPHRASE")
	envx.String(&cfg.Storage, "CHUNKPIPE_STORAGE")
	envx.String(&cfg.S3Bucket, "CHUNKPIPE_S3_BUCKET")
	envx.String(&cfg.S3Region, "CHUNKPIPE_S3_REGION")
	envx.String(&cfg.S3Endpoint, "CHUNKPIPE_S3_ENDPOINT")
	envx.String(&cfg.S3AccessKey, "CHUNKPIPE_S3_ACCESS_KEY")
	envx.String(&cfg.S3SecretKey, "CHUNKPIPE_S3_SECRET_KEY")
	envx.String(&cfg.S3Prefix, "CHUNKPIPE_S3_PREFIX")
	envx.String(&cfg.LogFormat, "CHUNKPIPE_LOG_FORMAT")
	envx.String(&cfg.LogLevel, "CHUNKPIPE_LOG_LEVEL")

	var maxChunk int
	for _, err := range []error{
		envx.Int(&maxChunk, "CHUNKPIPE_MAX_CHUNK_BYTES"),
		envx.Bool(&cfg.Encrypt, "CHUNKPIPE_ENCRYPT"),
		envx.Int(&cfg.KeyBits, "CHUNKPIPE_KEY_BITS"),
		envx.Duration(&cfg.KeyTTL, "CHUNKPIPE_KEY_TTL"),
		envx.Duration(&cfg.MaxKeyAge, "CHUNKPIPE_MAX_KEY_AGE"),
		envx.Duration(&cfg.KeyCleanupInterval, "CHUNKPIPE_KEY_CLEANUP_INTERVAL"),
		envx.Bool(&cfg.S3PathStyle, "CHUNKPIPE_S3_PATH_STYLE"),
	} {
		if err != nil {
			panic(err)
		}
	}
	if maxChunk > 0 {
		cfg.MaxChunkBytes = int64(maxChunk)
	}
}
