package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/meridianhq/tenantgate/internal"
	"github.com/meridianhq/tenantgate/internal/config"
	"github.com/meridianhq/tenantgate/internal/log"
)

var BuildVersion = "dev"

func main() {
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(BuildVersion)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting tenantgate", map[string]any{
		"version": BuildVersion,
		"addr":    cfg.Addr,
	})

	gate, err := internal.NewTenantGate(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to build application: %v", err)
		os.Exit(1)
	}

	if err := gate.Run(); err != nil {
		log.LogError("Server exited with error: %v", err)
		os.Exit(1)
	}
}
