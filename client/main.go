package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/tiffinledger/tiffin/internal/clientapp"
	"github.com/tiffinledger/tiffin/internal/envutil"
	"github.com/tiffinledger/tiffin/internal/logging"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := envutil.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(logging.Config{Level: envutil.String("LOG_LEVEL", "info")})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := clientapp.Run(ctx, clientapp.DefaultConfigFromEnv(), logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("client stopped", zap.Error(err))
	}
}
