package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/chunkpipe/internal/buildinfo"
	"github.com/dmitrijs2005/chunkpipe/internal/client/cli"
	"github.com/dmitrijs2005/chunkpipe/internal/client/config"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	l := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	app, err := cli.NewApp(ctx, cfg, l)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
