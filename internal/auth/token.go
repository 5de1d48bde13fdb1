// Package auth issues and verifies capability tokens between agents.
//
// A Token is a plain struct whose Signature field is a compact HS256 JWT over
// the same fields. Verification is a pure function of the token, the current
// signing key and the supplied instant.
package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "agentsched"

// Token asserts that Subject may perform Scope against Audience on behalf of OnBehalfOf.
type Token struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Scope      Scope     `json:"scope"`
	Audience   string    `json:"audience"`
	OnBehalfOf string    `json:"on_behalf_of,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	KeyEpoch   uint64    `json:"key_epoch"`
	Signature  string    `json:"signature"`
}

type claims struct {
	Scope      Scope  `json:"scope"`
	OnBehalfOf string `json:"obo,omitempty"`
	jwt.RegisteredClaims
}

func sign(key SigningKey, t Token) (string, error) {
	c := claims{
		Scope:      t.Scope,
		OnBehalfOf: t.OnBehalfOf,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   t.Subject,
			Audience:  jwt.ClaimStrings{t.Audience},
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
			ID:        t.ID,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	tok.Header["kid"] = strconv.FormatUint(key.Epoch, 10)
	signed, err := tok.SignedString(key.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks tok against the active key, the expected scope and audience,
// and the validity window [IssuedAt, ExpiresAt). Checks run in that order and
// the first failure is returned as a *TokenError.
func Verify(key SigningKey, tok Token, scope Scope, audience string, now time.Time) error {
	var c claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(tok.Signature, &c, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != strconv.FormatUint(key.Epoch, 10) {
			return nil, fmt.Errorf("key epoch %q is not active", kid)
		}
		return key.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return invalid(ReasonBadSignature, "%v", err)
	}
	if field := mismatch(c, tok, key.Epoch); field != "" {
		return invalid(ReasonBadSignature, "%s does not match signed claims", field)
	}

	if tok.Scope != scope {
		return invalid(ReasonWrongScope, "have %s, want %s", tok.Scope, scope)
	}
	if tok.Audience != audience {
		return invalid(ReasonWrongAudience, "have %s, want %s", tok.Audience, audience)
	}
	iat, exp := c.IssuedAt.Time, c.ExpiresAt.Time
	if now.Before(iat) || !now.Before(exp) {
		return invalid(ReasonExpired, "valid %s to %s", iat.UTC().Format(time.RFC3339), exp.UTC().Format(time.RFC3339))
	}
	return nil
}

// mismatch names the first struct field that differs from the signed claims.
// Timestamps must match exactly; tokens are issued on whole seconds.
func mismatch(c claims, tok Token, epoch uint64) string {
	switch {
	case c.Issuer != issuer:
		return "issuer"
	case c.ID != tok.ID:
		return "id"
	case c.Subject != tok.Subject:
		return "subject"
	case c.Scope != tok.Scope:
		return "scope"
	case len(c.Audience) != 1 || c.Audience[0] != tok.Audience:
		return "audience"
	case c.OnBehalfOf != tok.OnBehalfOf:
		return "on_behalf_of"
	case c.IssuedAt == nil || !c.IssuedAt.Time.Equal(tok.IssuedAt):
		return "issued_at"
	case c.ExpiresAt == nil || !c.ExpiresAt.Time.Equal(tok.ExpiresAt):
		return "expires_at"
	case tok.KeyEpoch != epoch:
		return "key_epoch"
	}
	return ""
}
