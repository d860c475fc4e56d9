package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iriberri/provgraph/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()
	a.Log.Info("Provenance engine running",
		"db_driver", a.Cfg.DBDriver,
		"worker_enabled", a.Cfg.WorkerEnabled,
		"engine_version", a.Cfg.EngineVersion,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	a.Log.Info("Shutting down")
}
