package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// signalContext is cancelled on SIGINT or SIGTERM so the connection
// can say goodbye to the server before the process ends
func signalContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signalChan)

		select {
		case <-signalChan:
			log.Info().Str("event", "signal").Msg("caught SIGINT or SIGTERM, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
