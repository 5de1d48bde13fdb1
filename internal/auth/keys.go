package auth

import (
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
)

const minSecretLen = 16

// SigningKey is the process-wide HMAC key. Epoch increases with every rotation.
type SigningKey struct {
	Epoch  uint64
	Secret []byte
}

// KeySource supplies the currently active signing key. Only one key is active
// at a time; tokens signed under an earlier epoch stop verifying on rotation.
type KeySource interface {
	Current() SigningKey
}

func validateKey(k SigningKey) error {
	if len(k.Secret) < minSecretLen {
		return fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidKey, minSecretLen)
	}
	return nil
}

// StaticKey is a KeySource that never rotates.
type StaticKey struct {
	key SigningKey
}

// NewStaticKey wraps secret as the key for epoch.
func NewStaticKey(secret string, epoch uint64) (*StaticKey, error) {
	k := SigningKey{Epoch: epoch, Secret: []byte(secret)}
	if err := validateKey(k); err != nil {
		return nil, err
	}
	return &StaticKey{key: k}, nil
}

func (s *StaticKey) Current() SigningKey { return s.key }

// RotatingKeys holds one active key that can be replaced at runtime.
type RotatingKeys struct {
	mu  sync.Mutex
	cur atomic.Pointer[SigningKey]
}

// NewRotatingKeys starts with initial as the active key.
func NewRotatingKeys(initial SigningKey) (*RotatingKeys, error) {
	if err := validateKey(initial); err != nil {
		return nil, err
	}
	r := &RotatingKeys{}
	r.cur.Store(&initial)
	return r, nil
}

func (r *RotatingKeys) Current() SigningKey { return *r.cur.Load() }

// Rotate installs secret under the next epoch and returns the new key.
func (r *RotatingKeys) Rotate(secret []byte) (SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := SigningKey{Epoch: r.cur.Load().Epoch + 1, Secret: append([]byte(nil), secret...)}
	if err := validateKey(next); err != nil {
		return SigningKey{}, err
	}
	r.cur.Store(&next)
	return next, nil
}

// GenerateSecret returns n random bytes for use as an ephemeral secret.
func GenerateSecret(n int) ([]byte, error) {
	if n < minSecretLen {
		n = minSecretLen
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return b, nil
}
