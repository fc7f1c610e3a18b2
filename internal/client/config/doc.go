// Package config loads runtime configuration for the chunkpipe sender.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. CHUNKPIPE_* environment variables (see parseEnv).
//  4. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   receiver base URL
//	-g string   receiver gRPC address (relay endpoint)
//	-k string   API key
//	-b string   buffer backend: sqlite, bolt, badger, memory
//	-p string   buffer path
//	-s int      chunk size in bytes
//	-i int      upload interval (seconds)
//	-r int      max upload attempts per chunk
//	-x string   SOCKS5 proxy URL
//	-l string   log level
//	-e          encrypt chunks
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "upload_interval": "30s",
//	  "encrypt": true
//	}
package config
