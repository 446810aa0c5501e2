package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"reconcile/internal/app"
	"reconcile/internal/config"
	"reconcile/internal/listener"
	"reconcile/internal/logging"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log, err := logging.New(cfg)
	must(err)

	a, err := app.Open(cfg, log)
	must(err)
	defer a.Close()

	svc := listener.NewService(a.DB, cfg, a.Batch, log.Named("listener"))
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
