package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/omapi/internal/config"
	"github.com/danmuck/omapi/internal/logging"
	"github.com/danmuck/omapi/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/omapictl/config.toml", "path to the omapi config file")
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "omapictl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	logging.ConfigureRuntime("omapictl", cfg.LogLevel)
	log.Info().Str("path", *configPath).Msg("loaded omapi config")

	svc := server.NewService(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "omapictl: %v\n", err)
		os.Exit(1)
	}
}
