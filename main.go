package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"godetect/app"
	"godetect/internal/config"
	"godetect/internal/errors"
)

func main() {
	// A missing .env is fine; the environment and defaults still apply
	if err := godotenv.Load(); err != nil {
		log.Printf("[INFO] no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := app.RunSynthetic(ctx, cfg, os.Stdout); err != nil {
		log.Printf("[ERROR] [%s] %v", errors.GetCode(err), err)
		stop()
		os.Exit(1)
	}
}
