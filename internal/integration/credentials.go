package integration

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrSealedCorrupt reports sealed credentials that fail authentication.
var ErrSealedCorrupt = errors.New("integration: sealed credentials corrupt")

// Sealer encrypts provider credentials at rest.
type Sealer struct {
	key [32]byte
}

// NewSealer builds a sealer from a 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("integration: credentials key must be 32 bytes, got %d", len(key))
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// NewSealerFromBase64 decodes a standard base64 key.
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("integration: decode credentials key: %w", err)
	}
	return NewSealer(raw)
}

// Seal encodes creds as nonce||box.
func (s *Sealer) Seal(creds Credentials) ([]byte, error) {
	if creds.IsZero() {
		return nil, nil
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("integration: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open reverses Seal. Empty input yields zero credentials.
func (s *Sealer) Open(sealed []byte) (Credentials, error) {
	if len(sealed) == 0 {
		return Credentials{}, nil
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return Credentials{}, ErrSealedCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return Credentials{}, ErrSealedCorrupt
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, fmt.Errorf("integration: decode credentials: %w", err)
	}
	return creds, nil
}
