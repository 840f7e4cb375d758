// Package transport dials the server and performs the handshake,
// handing the caller a ready-to-use *crypto.Codec.
package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/lanternchat/lantern/internal/crypto"
)

// Client is one TCP connection to a lanternd server, past the
// handshake.
type Client struct {
	conn  net.Conn
	Codec *crypto.Codec
}

// Dial connects to addr and performs the client side of the
// handshake.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	codec, err := crypto.ClientHandshake(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: handshake: %w", err)
	}

	return &Client{conn: conn, Codec: codec}, nil
}

// Send writes one plaintext command line.
func (c *Client) Send(line string) error {
	return c.Codec.SendLine(line)
}

// Recv reads one decrypted line from the server, blocking until one
// arrives.
func (c *Client) Recv() (string, error) {
	return c.Codec.RecvLine()
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
