package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lanternchat/lantern/internal/config"
)

func TestListenStopsOnContextCancel(t *testing.T) {
	app := &App{
		Config: &config.Config{HandshakeTimeout: time.Second},
		Logger: zaptest.NewLogger(t),
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.Listen(ctx, "127.0.0.1:0") }()

	// Give Accept a moment to block, then cancel and expect a clean return.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after context cancellation")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	app := &App{Config: &config.Config{HandshakeTimeout: 5 * time.Second}}
	require.Equal(t, 5*time.Second, app.handshakeTimeout())
}
