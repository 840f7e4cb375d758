// Package crypto wraps a duplex byte stream into a line-oriented,
// authenticated-encryption channel. The server performs an ephemeral
// X25519 exchange on accept, derives a symmetric key with HKDF, and
// frames every subsequent line as a ChaCha20-Poly1305 sealed, base64,
// newline-delimited record.
package crypto

import (
	"bufio"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DefaultHandshakeTimeout bounds the key exchange, per spec.
const DefaultHandshakeTimeout = 10 * time.Second

// MaxFrameSize is the largest ciphertext a single frame may carry.
const MaxFrameSize = 64 * 1024

var (
	// ErrHandshakeTimeout means the peer did not complete the exchange in time.
	ErrHandshakeTimeout = errors.New("crypto: handshake timeout")
	// ErrHandshakeFailed covers any malformed or rejected handshake message.
	ErrHandshakeFailed = errors.New("crypto: handshake failed")
	// ErrFrameTooLarge means a frame's ciphertext, sent or received,
	// exceeded MaxFrameSize.
	ErrFrameTooLarge = errors.New("crypto: frame too large")
	// ErrMalformedFrame means a line failed base64 or AEAD decoding.
	ErrMalformedFrame = errors.New("crypto: malformed frame")
	// ErrNonceReuse means a peer's nonce did not advance monotonically.
	ErrNonceReuse = errors.New("crypto: nonce reuse")
)

const hkdfInfo = "lanternchat/v1 transport key"

// ServerHandshake performs the server side of the key exchange: it sends
// its ephemeral public key first, then waits for the client's. rw must
// be line-buffered; each value is written/read as one newline-terminated
// base64 blob.
func ServerHandshake(ctx context.Context, rw io.ReadWriter) (*Codec, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	defer cancel()
	return doHandshake(ctx, rw, true)
}

// ClientHandshake performs the client side: it waits for the server's
// ephemeral public key, then replies with its own.
func ClientHandshake(ctx context.Context, rw io.ReadWriter) (*Codec, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	defer cancel()
	return doHandshake(ctx, rw, false)
}

func doHandshake(ctx context.Context, rw io.ReadWriter, isServer bool) (*Codec, error) {
	curve := ecdh.X25519()
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}

	type result struct {
		peerPub *ecdh.PublicKey
		err     error
	}
	done := make(chan result, 1)

	// br is shared with the Codec once the handshake completes, so any
	// bytes it buffered past the peer's key line (a coalesced first
	// frame) aren't dropped.
	br := bufio.NewReader(rw)

	go func() {
		if isServer {
			if err := writeHandshakeLine(rw, priv.PublicKey().Bytes()); err != nil {
				done <- result{nil, err}
				return
			}
			peer, err := readHandshakeLine(br, curve)
			done <- result{peer, err}
			return
		}
		peer, err := readHandshakeLine(br, curve)
		if err != nil {
			done <- result{nil, err}
			return
		}
		if err := writeHandshakeLine(rw, priv.PublicKey().Bytes()); err != nil {
			done <- result{nil, err}
			return
		}
		done <- result{peer, nil}
	}()

	var peerPub *ecdh.PublicKey
	select {
	case <-ctx.Done():
		return nil, ErrHandshakeTimeout
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, r.err)
		}
		peerPub = r.peerPub
	}

	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	key, err := deriveKey(shared)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init aead: %w", err)
	}

	return newCodec(rw, br, aead), nil
}

func deriveKey(shared []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func writeHandshakeLine(w io.Writer, b []byte) error {
	enc := base64.StdEncoding.EncodeToString(b)
	_, err := io.WriteString(w, enc+"\n")
	return err
}

func readHandshakeLine(br *bufio.Reader, curve ecdh.Curve) (*ecdh.PublicKey, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = trimNewline(line)
	raw, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return nil, ErrMalformedFrame
	}
	return curve.NewPublicKey(raw)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
