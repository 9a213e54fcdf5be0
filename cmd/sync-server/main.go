package main

import (
	"flag"
	"fmt"

	"github.com/bizsync/registry-sync/pkg/app"
	"github.com/bizsync/registry-sync/pkg/app/syncserver"
	"github.com/bizsync/registry-sync/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	app.Main("sync-server", app.RunnerFunc(func() error {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		return syncserver.NewServer(cfg).Run()
	}))
}
