package transport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanternchat/lantern/internal/crypto"
)

func TestClientRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	var serverCodec *crypto.Codec
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		require.NoError(t, err)
		serverCodec, err = crypto.ServerHandshake(context.Background(), conn)
		require.NoError(t, err)
	}()

	client, err := Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	<-serverDone
	require.NotNil(t, serverCodec)

	require.NoError(t, client.Send("hello"))
	got, err := serverCodec.RecvLine()
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	require.NoError(t, serverCodec.SendLine("world"))
	got, err = client.Recv()
	require.NoError(t, err)
	require.Equal(t, "world", got)
}

func TestDialUnreachable(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
}
