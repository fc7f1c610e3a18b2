package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/chunkpipe/internal/buildinfo"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/dmitrijs2005/chunkpipe/internal/server"
	"github.com/dmitrijs2005/chunkpipe/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	l := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	app, err := server.NewApp(ctx, cfg, l)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
