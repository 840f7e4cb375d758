package crypto

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandshakeAndRoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	var serverCodec, clientCodec *Codec
	var serverErr, clientErr error

	done := make(chan struct{})
	go func() {
		defer close(done)
		serverCodec, serverErr = ServerHandshake(context.Background(), serverConn)
	}()

	clientCodec, clientErr = ClientHandshake(context.Background(), clientConn)
	<-done

	require.NoError(t, serverErr)
	require.NoError(t, clientErr)

	require.NoError(t, clientCodec.SendLine("hello from client"))
	got, err := serverCodec.RecvLine()
	require.NoError(t, err)
	require.Equal(t, "hello from client", got)

	require.NoError(t, serverCodec.SendLine("hello from server"))
	got, err = clientCodec.RecvLine()
	require.NoError(t, err)
	require.Equal(t, "hello from server", got)

	require.NoError(t, clientCodec.SendLine("second line"))
	got, err = serverCodec.RecvLine()
	require.NoError(t, err)
	require.Equal(t, "second line", got)
}

func TestHandshakeTimeout(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ServerHandshake(ctx, serverConn)
	require.Error(t, err)
}

func TestRecvLineMalformedFrame(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	done := make(chan struct{})
	var serverCodec *Codec
	var serverErr error
	go func() {
		defer close(done)
		serverCodec, serverErr = ServerHandshake(context.Background(), serverConn)
	}()
	clientCodec, err := ClientHandshake(context.Background(), clientConn)
	<-done
	require.NoError(t, err)
	require.NoError(t, serverErr)
	_ = clientCodec

	go func() {
		_, _ = io.WriteString(clientConn, "not-valid-base64!!!\n")
	}()

	_, err = serverCodec.RecvLine()
	require.ErrorIs(t, err, ErrMalformedFrame)
}
