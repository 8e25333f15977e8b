package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-sync/internal/bus"
	"github.com/pelusa-v/pelusa-sync/internal/chat"
	"github.com/pelusa-v/pelusa-sync/internal/config"
	"github.com/pelusa-v/pelusa-sync/internal/handlers"
	"github.com/pelusa-v/pelusa-sync/internal/logger"
	"github.com/pelusa-v/pelusa-sync/internal/rest"
	"github.com/pelusa-v/pelusa-sync/internal/storage"
	"github.com/pelusa-v/pelusa-sync/internal/storage/sqlite"
	"github.com/pelusa-v/pelusa-sync/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	var kv storage.KV
	if cfg.DBPath == "" {
		kv = storage.NewMemory()
	} else {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			log.Fatal("open storage", "path", cfg.DBPath, "error", err)
		}
		kv = store
	}
	defer kv.Close()

	var events bus.Bus
	switch cfg.BusDriver {
	case "redis":
		redisBus, err := bus.NewRedis(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Fatal("connect redis bus", "error", err)
		}
		events = redisBus
	default:
		events = bus.NewMemory()
	}
	defer events.Close()

	backend := rest.NewClient(cfg.BackendURL, cfg.UserID, log)
	push := transport.NewClient(cfg.TransportURL+"?user="+cfg.UserID, events, log)

	session, err := chat.New(chat.Options{
		Backend:      backend,
		Transport:    push,
		Bus:          events,
		KV:           kv,
		Logger:       log,
		SelfID:       cfg.UserID,
		PageSize:     cfg.PageSize,
		CachedChats:  cfg.CachedChats,
		TypingWindow: cfg.TypingWindow,
	})
	if err != nil {
		log.Fatal("build session", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Start(ctx); err != nil {
		log.Fatal("start session", "error", err)
	}
	go func() {
		if err := push.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("transport stopped", "error", err)
		}
	}()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handlers.New(session).Register(app)

	go func() {
		log.Info("ui api listening", "addr", cfg.HTTPAddr)
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Error("serve ui api", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := session.Shutdown(shutdownCtx); err != nil {
		log.Warn("flush session state", "error", err)
	}
	_ = app.Shutdown()
	log.Info("shutdown complete")
}
