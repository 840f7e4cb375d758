// Package server wires every component — storage, sessions, the
// command engines, security, metrics — into a running TCP listener,
// and owns its graceful shutdown.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lanternchat/lantern/internal/auth"
	"github.com/lanternchat/lantern/internal/config"
	"github.com/lanternchat/lantern/internal/dispatch"
	"github.com/lanternchat/lantern/internal/invites"
	"github.com/lanternchat/lantern/internal/messages"
	"github.com/lanternchat/lantern/internal/metrics"
	"github.com/lanternchat/lantern/internal/rooms"
	"github.com/lanternchat/lantern/internal/security"
	"github.com/lanternchat/lantern/internal/session"
	"github.com/lanternchat/lantern/internal/store/adapter"
	"github.com/lanternchat/lantern/internal/store/mysql"
	"github.com/lanternchat/lantern/internal/store/postgres"
)

// App is a fully wired lanternd instance, ready to Listen.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      adapter.Adapter
	Sessions   *session.Registry
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics

	blocklist *security.Blocklist
}

// New opens the store, migrates it, registers auth schemes, and wires
// every engine the dispatcher routes to.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := store.Open(ctx, cfg.Store.DSN); err != nil {
		return nil, fmt.Errorf("server: open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("server: migrate: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	auditor := security.NewAuditor(store, logger)
	blocklist := security.NewBlocklist()

	sessions := session.New(
		func(connID, userID string, reason session.DropReason) {
			auditor.Record(context.Background(), userID, security.ActionSlowConsumer, "connection", connID, string(reason), "")
		},
		m.LiveConnections,
		m.SlowConsumerDrop,
	)

	auth.RegisterScheme("basic", auth.NewBasicHandler(store))
	auth.RegisterScheme("token", auth.NewTokenHandler([]byte(cfg.Token.Secret), cfg.Token.Lifetime, store))

	d := &dispatch.Dispatcher{
		Store:       store,
		Sessions:    sessions,
		Rooms:       rooms.New(store, sessions),
		Messages:    messages.New(store, sessions, m),
		Invites:     invites.New(store, sessions),
		RateLimiter: security.NewRateLimiter(),
		Auditor:     auditor,
		Blocklist:   blocklist,
		Metrics:     m,
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Sessions:   sessions,
		Dispatcher: d,
		Metrics:    m,
		blocklist:  blocklist,
	}, nil
}

func openStore(cfg config.StoreConfig) (adapter.Adapter, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(), nil
	case "mysql":
		return mysql.New(), nil
	default:
		return nil, fmt.Errorf("server: unknown store driver %q", cfg.Driver)
	}
}

// Close releases the store connection.
func (a *App) Close() error {
	return a.Store.Close()
}

// handshakeTimeout is how long Listen waits for a new connection's key
// exchange before giving up on it.
func (a *App) handshakeTimeout() time.Duration {
	return a.Config.HandshakeTimeout
}
