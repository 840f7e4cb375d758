package crypto

import (
	"bufio"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Codec is a line-oriented, authenticated-encryption channel established
// by ServerHandshake or ClientHandshake. It is safe for concurrent use:
// SendLine calls are serialized by one mutex and RecvLine calls by
// another, so a reader and a writer never block each other.
type Codec struct {
	rw   io.ReadWriter
	br   *bufio.Reader
	aead cipher.AEAD

	writeMu   sync.Mutex
	sendNonce uint64

	readMu    sync.Mutex
	recvNonce uint64
}

// newCodec wraps rw for writing and reuses br for reading. br must be
// the same reader the handshake used to read the peer's key line, so
// any bytes it already buffered past that line aren't lost.
func newCodec(rw io.ReadWriter, br *bufio.Reader, aead cipher.AEAD) *Codec {
	return &Codec{rw: rw, br: br, aead: aead}
}

// SendLine encrypts and frames a single line of plaintext and writes it.
func (c *Codec) SendLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSize-8:], c.sendNonce)
	c.sendNonce++

	ciphertext := c.aead.Seal(nil, nonce, []byte(line), nil)
	if len(ciphertext) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, 0, len(nonce)+len(ciphertext))
	frame = append(frame, nonce...)
	frame = append(frame, ciphertext...)

	enc := base64.StdEncoding.EncodeToString(frame)
	_, err := io.WriteString(c.rw, enc+"\n")
	return err
}

// RecvLine reads and decrypts one frame, returning the plaintext line.
// It returns io.EOF when the underlying stream is closed cleanly.
func (c *Codec) RecvLine() (string, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	raw, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	raw = trimNewline(raw)
	if raw == "" {
		return "", ErrMalformedFrame
	}

	frame, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", ErrMalformedFrame
	}

	nonceSize := c.aead.NonceSize()
	if len(frame) < nonceSize {
		return "", ErrMalformedFrame
	}
	nonce, ciphertext := frame[:nonceSize], frame[nonceSize:]
	if len(ciphertext) > MaxFrameSize {
		return "", ErrFrameTooLarge
	}

	got := binary.BigEndian.Uint64(nonce[nonceSize-8:])
	if got != c.recvNonce {
		return "", ErrNonceReuse
	}

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrMalformedFrame
	}
	c.recvNonce++

	return string(plaintext), nil
}
