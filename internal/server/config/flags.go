package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/chunkpipe/internal/flagx"
)

// parseFlags populates selected receiver Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC bind address (e.g., ":50051")
//	-o string   output directory
//	-k string   API key
//	-m string   path mode (sanitize, allow-paths, ignore)
//	-t string   keystore type (memory, filesystem, postgres)
//	-d string   keystore directory
//	-n string   keystore DSN
//	-s string   storage sink (fs, s3)
//	-b string   S3 bucket
//	-l string   log level
//	-e          enable encryption
//
// Only the flags declared here are taken from os.Args, using
// flagx.FilterArgsWithBools, to avoid collisions with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgsWithBools(os.Args[1:],
		[]string{"-a", "-g", "-o", "-k", "-m", "-t", "-d", "-n", "-s", "-b", "-l"},
		[]string{"-e"},
	)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.HTTPAddr, "a", cfg.HTTPAddr, "HTTP address and port to run server")
	fs.StringVar(&cfg.GRPCAddr, "g", cfg.GRPCAddr, "gRPC address and port to run server")
	fs.StringVar(&cfg.OutputDir, "o", cfg.OutputDir, "output directory")
	fs.StringVar(&cfg.APIKey, "k", cfg.APIKey, "API key")
	fs.StringVar(&cfg.PathMode, "m", cfg.PathMode, "path mode")
	fs.StringVar(&cfg.KeystoreType, "t", cfg.KeystoreType, "keystore type")
	fs.StringVar(&cfg.KeystoreDir, "d", cfg.KeystoreDir, "keystore directory")
	fs.StringVar(&cfg.KeystoreDSN, "n", cfg.KeystoreDSN, "keystore DSN")
	fs.StringVar(&cfg.Storage, "s", cfg.Storage, "storage sink")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.Encrypt, "e", cfg.Encrypt, "enable encryption")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
