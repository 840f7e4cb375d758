package server

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Run starts Listen and blocks until SIGINT/SIGTERM, then waits up to
// the configured shutdown timeout for the accept loop to return before
// closing the store. It does not wait for open connections or drain
// their outbound queues.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- a.Listen(ctx, a.Config.ListenAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down", zap.Duration("timeout", a.Config.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	select {
	case <-errc:
	case <-shutdownCtx.Done():
	}

	if err := a.Close(); err != nil {
		a.Logger.Warn("error closing store", zap.Error(err))
	}
	return nil
}
