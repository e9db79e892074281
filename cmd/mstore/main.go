package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/Lomkaaa/M-Store-server/internal/auth"
	"github.com/Lomkaaa/M-Store-server/internal/basket"
	"github.com/Lomkaaa/M-Store-server/internal/config"
	"github.com/Lomkaaa/M-Store-server/internal/handler"
	"github.com/Lomkaaa/M-Store-server/internal/logger"
	"github.com/Lomkaaa/M-Store-server/internal/service"
	"github.com/Lomkaaa/M-Store-server/internal/store"
	"github.com/Lomkaaa/M-Store-server/internal/sweeper"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.GetConfig()

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	basket := basket.NewBasket(store)
	auth := auth.NewAuth(cfg.Auth, store)
	service := service.NewService(store, basket)

	// обновление статусов заказов: сразу при старте и далее по таймеру
	sweeper := sweeper.NewSweeper(cfg.Sweeper, store, zaplog)
	go sweeper.Run(ctx)

	return handler.Serve(ctx, cfg.Handler, auth, service, zaplog)
}
