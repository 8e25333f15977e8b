// Command devserver runs an in-memory backend implementing the REST and
// websocket contracts the sync client expects. It exists for local
// development and manual testing, not production use.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"

	"github.com/pelusa-v/pelusa-sync/internal/devserver"
	"github.com/pelusa-v/pelusa-sync/internal/logger"
)

type config struct {
	Addr    string `env:"PELUSA_DEVSERVER_ADDR" envDefault:"127.0.0.1:4000"`
	LogMode string `env:"PELUSA_LOG_MODE" envDefault:"dev"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	hub := devserver.NewHub(log)
	go hub.Start()

	app := devserver.NewApp(hub, log)
	go func() {
		log.Info("devserver listening", "addr", cfg.Addr)
		if err := app.Listen(cfg.Addr); err != nil {
			log.Fatal("serve devserver", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	_ = app.Shutdown()
	log.Info("devserver stopped")
}
