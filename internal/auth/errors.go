package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrIssuanceDenied means the subject/scope/audience triple is not in the policy.
	ErrIssuanceDenied = errors.New("auth: issuance denied")
	// ErrInvalidToken is matched by every *TokenError.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrInvalidPolicy = errors.New("auth: invalid policy")
	ErrInvalidKey    = errors.New("auth: invalid signing key")
)

// Reason classifies a failed verification.
type Reason string

const (
	ReasonExpired       Reason = "expired"
	ReasonWrongScope    Reason = "wrong_scope"
	ReasonWrongAudience Reason = "wrong_audience"
	ReasonBadSignature  Reason = "bad_signature"
)

// TokenError reports why a token was rejected.
type TokenError struct {
	Reason Reason
	Detail string
}

func (e *TokenError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidToken, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrInvalidToken, e.Reason, e.Detail)
}

func (e *TokenError) Is(target error) bool { return target == ErrInvalidToken }

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Reason, true
	}
	return "", false
}

func invalid(reason Reason, format string, args ...any) error {
	return &TokenError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
