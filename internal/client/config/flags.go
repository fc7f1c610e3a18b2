package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
// Only the flags declared here are taken from os.Args, using
// flagx.FilterArgsWithBools, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgsWithBools(os.Args[1:],
		[]string{"-a", "-g", "-k", "-b", "-p", "-s", "-i", "-r", "-x", "-l"},
		[]string{"-e"},
	)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "receiver base URL")
	fs.StringVar(&cfg.GRPCAddr, "g", cfg.GRPCAddr, "receiver gRPC address")
	fs.StringVar(&cfg.APIKey, "k", cfg.APIKey, "API key")
	fs.StringVar(&cfg.BufferBackend, "b", cfg.BufferBackend, "buffer backend (sqlite, bolt, badger, memory)")
	fs.StringVar(&cfg.BufferPath, "p", cfg.BufferPath, "buffer path")
	fs.IntVar(&cfg.ChunkSize, "s", cfg.ChunkSize, "chunk size in bytes")
	uploadInterval := fs.Int("i", int(cfg.UploadInterval.Seconds()), "upload interval (in seconds)")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "max upload attempts per chunk")
	fs.StringVar(&cfg.ProxyURL, "x", cfg.ProxyURL, "SOCKS5 proxy URL")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.Encrypt, "e", cfg.Encrypt, "encrypt chunks")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.UploadInterval = time.Duration(*uploadInterval) * time.Second
		}
	})
}
