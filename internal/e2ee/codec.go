// Package e2ee encrypts media payloads end to end with a key derived
// from a shared passphrase. The server never sees the key.
package e2ee

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrDecodeFailure   = errors.New("frame decode failure")
	ErrEmptyPassphrase = errors.New("empty passphrase")
)

const (
	keyIterations = 100_000
	keySalt       = "peercall/e2ee/v1"
	// Overhead is the number of bytes EncodeFrame adds to a frame.
	Overhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

// Key is a derived frame key. A nil *Key means encryption is off.
type Key struct {
	aead cipher.AEAD
}

// DeriveKey stretches passphrase with PBKDF2-HMAC-SHA256 into an
// XChaCha20-Poly1305 key. Peers using the same passphrase derive the
// same key.
func DeriveKey(passphrase string) (*Key, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	raw := pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, chacha20poly1305.KeySize, sha256.New)
	aead, err := chacha20poly1305.NewX(raw)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Key{aead: aead}, nil
}

// EncodeFrame seals frame as nonce || ciphertext. With a nil key the frame
// is returned unchanged.
func EncodeFrame(frame []byte, key *Key) ([]byte, error) {
	if key == nil {
		return frame, nil
	}
	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(frame)+chacha20poly1305.Overhead)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("frame nonce: %w", err)
	}
	return key.aead.Seal(out, out, frame, nil), nil
}

// DecodeFrame reverses EncodeFrame. A wrong key or a truncated frame
// yields ErrDecodeFailure.
func DecodeFrame(frame []byte, key *Key) ([]byte, error) {
	if key == nil {
		return frame, nil
	}
	if len(frame) < Overhead {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrDecodeFailure, len(frame))
	}
	nonce, ciphertext := frame[:chacha20poly1305.NonceSizeX], frame[chacha20poly1305.NonceSizeX:]
	plain, err := key.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecodeFailure
	}
	return plain, nil
}

// Codec holds the process-wide key shared by every media stream.
type Codec struct {
	key atomic.Pointer[Key]
}

func NewCodec() *Codec { return &Codec{} }

// SetKey installs a key derived from passphrase and reports whether
// encryption is active. An empty passphrase turns encryption off.
func (c *Codec) SetKey(passphrase string) bool {
	key, err := DeriveKey(passphrase)
	if err != nil {
		c.key.Store(nil)
		return false
	}
	c.key.Store(key)
	return true
}

func (c *Codec) Key() *Key { return c.key.Load() }

func (c *Codec) Active() bool { return c.key.Load() != nil }
