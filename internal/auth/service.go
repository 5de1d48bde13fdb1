package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentsched.org/internal/obs"
)

const (
	defaultTTL = 2 * time.Minute
	maxTTL     = 15 * time.Minute
)

// Service issues tokens under a fixed policy and verifies them against the
// active signing key.
type Service struct {
	policy     *Policy
	keys       KeySource
	now        func() time.Time
	defaultTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithDefaultTTL sets the lifetime used when Issue is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < time.Second || ttl > maxTTL {
			return fmt.Errorf("auth: default ttl must be within [1s, %s]", maxTTL)
		}
		s.defaultTTL = ttl
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(policy *Policy, keys KeySource, opts ...ServiceOption) (*Service, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: policy is required", ErrInvalidPolicy)
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: key source is required", ErrInvalidKey)
	}
	if err := validateKey(keys.Current()); err != nil {
		return nil, err
	}
	svc := &Service{
		policy:     policy,
		keys:       keys,
		now:        time.Now,
		defaultTTL: defaultTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Policy returns the immutable policy the service enforces.
func (s *Service) Policy() *Policy { return s.policy }

// Issue mints a token for subject. The lifetime is truncated to whole seconds.
func (s *Service) Issue(subject string, scope Scope, audience, onBehalfOf string, ttl time.Duration) (Token, error) {
	subject = strings.TrimSpace(subject)
	audience = strings.TrimSpace(audience)
	if !s.policy.Allows(subject, scope, audience) {
		obs.Log(obs.LevelCritical, "token_issuance_denied", map[string]any{
			"subject":  subject,
			"scope":    string(scope),
			"audience": audience,
		})
		return Token{}, fmt.Errorf("%w: %s may not obtain %s for %s", ErrIssuanceDenied, subject, scope, audience)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	ttl = ttl.Truncate(time.Second)
	if ttl < time.Second || ttl > maxTTL {
		return Token{}, fmt.Errorf("auth: ttl must be within [1s, %s]", maxTTL)
	}

	key := s.keys.Current()
	issued := s.now().UTC().Truncate(time.Second)
	tok := Token{
		ID:         uuid.NewString(),
		Subject:    subject,
		Scope:      scope,
		Audience:   audience,
		OnBehalfOf: strings.TrimSpace(onBehalfOf),
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(ttl),
		KeyEpoch:   key.Epoch,
	}
	sig, err := sign(key, tok)
	if err != nil {
		return Token{}, err
	}
	tok.Signature = sig
	obs.TokenIssued(string(scope))
	return tok, nil
}

// Verify checks tok against the currently active key. See the package-level Verify.
func (s *Service) Verify(tok Token, scope Scope, audience string, now time.Time) error {
	err := Verify(s.keys.Current(), tok, scope, audience, now)
	result := "ok"
	if err != nil {
		result = "invalid"
		var te *TokenError
		if errors.As(err, &te) {
			result = string(te.Reason)
		}
	}
	obs.TokenVerified(result)
	return err
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }
