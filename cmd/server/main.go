package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sundayezeilo/shorturl/internal/app"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// a signal during startup aborts migrations and dialing too
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.Start(ctx)
}
