package config

import "github.com/dmitrijs2005/chunkpipe/internal/envx"

// parseEnv overlays Config with CHUNKPIPE_* variables. Panics on values
// that do not parse.
func parseEnv(cfg *Config) {
	envx.String(&cfg.ServerURL, "CHUNKPIPE_SERVER_URL")
	envx.String(&cfg.GRPCAddr, "CHUNKPIPE_GRPC_ADDR")
	envx.String(&cfg.APIKey, "CHUNKPIPE_API_KEY")
	envx.String(&cfg.BufferBackend, "CHUNKPIPE_BUFFER_BACKEND")
	envx.String(&cfg.BufferPath, "CHUNKPIPE_BUFFER_PATH")
	envx.String(&cfg.KeyCachePath, "CHUNKPIPE_KEY_CACHE_PATH")
	envx.String(&cfg.Codec, "CHUNKPIPE_CODEC")
	envx.String(&cfg.ProxyURL, "CHUNKPIPE_PROXY_URL")
	envx.String(&cfg.LogFormat, "CHUNKPIPE_LOG_FORMAT")
	envx.String(&cfg.LogLevel, "CHUNKPIPE_LOG_LEVEL")

	for _, err := range []error{
		envx.Int(&cfg.ChunkSize, "CHUNKPIPE_CHUNK_SIZE"),
		envx.Duration(&cfg.UploadInterval, "CHUNKPIPE_UPLOAD_INTERVAL"),
		envx.Int(&cfg.MaxRetries, "CHUNKPIPE_MAX_RETRIES"),
		envx.Duration(&cfg.RetryDelay, "CHUNKPIPE_RETRY_DELAY"),
		envx.Duration(&cfg.RequestTimeout, "CHUNKPIPE_REQUEST_TIMEOUT"),
		envx.Int(&cfg.StoreRetries, "CHUNKPIPE_STORE_RETRIES"),
		envx.Duration(&cfg.StoreRetryDelay, "CHUNKPIPE_STORE_RETRY_DELAY"),
		envx.Int(&cfg.RelayMaxRetries, "CHUNKPIPE_RELAY_MAX_RETRIES"),
		envx.Duration(&cfg.RelayRetryDelay, "CHUNKPIPE_RELAY_RETRY_DELAY"),
		envx.Duration(&cfg.RelayPollInterval, "CHUNKPIPE_RELAY_POLL_INTERVAL"),
		envx.Bool(&cfg.Encrypt, "CHUNKPIPE_ENCRYPT"),
		envx.Bool(&cfg.SignedTokens, "CHUNKPIPE_SIGNED_TOKENS"),
	} {
		if err != nil {
			panic(err)
		}
	}
}
