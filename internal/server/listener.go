package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanternchat/lantern/internal/crypto"
	"github.com/lanternchat/lantern/internal/dispatch"
	"github.com/lanternchat/lantern/internal/security"
	"github.com/lanternchat/lantern/internal/session"
)

// Listen accepts connections on addr until ctx is canceled. Each
// connection gets its own handshake, read loop, and write loop.
func (a *App) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	a.Logger.Info("listening", zap.String("addr", addr))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go a.handleConn(ctx, conn)
	}
}

func (a *App) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	peerIP := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(peerIP); err == nil {
		peerIP = host
	}
	if a.blocklist != nil && a.blocklist.IsBlocked(peerIP, time.Now()) {
		return
	}
	if allowed, _ := a.Dispatcher.RateLimiter.AllowConnect(ctx, peerIP); !allowed {
		a.Dispatcher.Auditor.Record(ctx, "", security.ActionRateLimitHit, "connection", "", "pre-auth connect rate exceeded", peerIP)
		if a.Dispatcher.Metrics != nil {
			a.Dispatcher.Metrics.RateLimitHits.Inc()
		}
		return
	}

	hctx, cancel := context.WithTimeout(ctx, a.handshakeTimeout())
	codec, err := crypto.ServerHandshake(hctx, conn)
	cancel()
	if err != nil {
		a.Logger.Debug("handshake failed", zap.String("peer", peerIP), zap.Error(err))
		return
	}

	connID := uuid.NewString()
	sess := a.Sessions.Register(connID, conn.RemoteAddr())
	defer a.Sessions.Drop(connID, session.DropExplicit)

	cc := dispatch.NewConnContext(connID, peerIP)

	done := make(chan struct{})
	go a.writeLoop(codec, sess, done)

	a.readLoop(ctx, codec, cc)
	close(done)
}

func (a *App) readLoop(ctx context.Context, codec *crypto.Codec, cc *dispatch.ConnContext) {
	for {
		line, err := codec.RecvLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				a.Logger.Debug("recv error", zap.String("conn", cc.ConnID), zap.Error(err))
			}
			if errors.Is(err, crypto.ErrNonceReuse) || errors.Is(err, crypto.ErrMalformedFrame) {
				a.Dispatcher.Auditor.Record(ctx, cc.UserID, security.ActionNonceReuse, "connection", cc.ConnID, err.Error(), cc.PeerIP)
			}
			return
		}
		if fatal := a.Dispatcher.HandleLine(ctx, cc, line); fatal {
			return
		}
	}
}

func (a *App) writeLoop(codec *crypto.Codec, sess *session.Session, done <-chan struct{}) {
	for {
		select {
		case line, ok := <-sess.Send():
			if !ok {
				return
			}
			if err := codec.SendLine(line); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
