package main

import (
	"context"
	"log"
	"os"

	"github.com/flicapp/identity/internal/server"
	"github.com/flicapp/identity/internal/server/config"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
)

func main() {
	if err := run(); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	db, err := repomanager.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	app, err := server.NewApp(cfg, db)
	if err != nil {
		return err
	}

	return app.Run(ctx)
}
