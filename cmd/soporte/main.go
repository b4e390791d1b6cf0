package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"soporte/internal/app"
	"soporte/pkg/config"
	"soporte/pkg/logger"
	"soporte/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseFlags()

	cfg, err := config.Load(flags.Config)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	config.ApplyEnv(cfg)

	// explicit flags win over env/config
	addr := cfg.Addr()
	if flags.Set["addr"] || (cfg.Server.Address == "" && cfg.Server.Port == 0) {
		addr = flags.Addr
	}
	dbPath := cfg.Server.DBPath
	if flags.Set["db"] || dbPath == "" {
		dbPath = flags.DB
	}

	logger.Init(cfg.Logging.Level)

	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}

	a, err := app.New(cfg, addr, dbPath, verStr)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
