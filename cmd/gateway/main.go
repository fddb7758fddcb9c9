package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Norland77/chat-socket-service/internal/app"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := app.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg, log)
	if err != nil {
		log.Fatal("start gateway", zap.Error(err))
	}
	log.Info("gateway listening",
		zap.String("addr", handle.Addr()), zap.String("ws_path", cfg.WSPath))

	if err := handle.Wait(); err != nil {
		log.Fatal("gateway exited", zap.Error(err))
	}
}
