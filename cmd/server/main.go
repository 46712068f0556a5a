package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ntbroker/wrtc-signal/internal/config"
	"github.com/ntbroker/wrtc-signal/internal/eventbus"
	"github.com/ntbroker/wrtc-signal/internal/logs"
	"github.com/ntbroker/wrtc-signal/internal/metrics"
	"github.com/ntbroker/wrtc-signal/internal/server"
)

func main() {
	cfg := config.FromEnv()
	logger := logs.New(cfg.LogLevel)
	defer logger.Sync()

	metrics.Init()

	bus := eventbus.New(logger)
	bus.On(eventbus.RoomCreated, func(ev eventbus.Event) {
		logger.Info("room created", logs.F("data", ev.Data))
	})
	bus.On(eventbus.RoomRemoved, func(ev eventbus.Event) {
		logger.Info("room removed", logs.F("data", ev.Data))
	})
	bus.On(eventbus.ServerError, func(ev eventbus.Event) {
		logger.Error("server error", logs.F("data", ev.Data))
	})

	srv := server.New(cfg, logger, bus)
	if err := srv.Start(); err != nil {
		logger.Fatal("start failed", logs.F("err", err))
	}
	logger.Info("listening", logs.F("addr", cfg.BindAddr()), logs.F("path", cfg.Path))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", logs.F("err", err))
	}
	logger.Info("bye")
}
