package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

var issuedAt = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, keys KeySource) *Service {
	t.Helper()
	policy, err := NewPolicy(DefaultGrants())
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if keys == nil {
		keys, err = NewStaticKey("0123456789abcdef0123456789abcdef", 1)
		if err != nil {
			t.Fatalf("NewStaticKey: %v", err)
		}
	}
	svc, err := NewService(policy, keys, WithClock(func() time.Time { return issuedAt }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func mustIssue(t *testing.T, svc *Service, subject string, scope Scope, ttl time.Duration) Token {
	t.Helper()
	tok, err := svc.Issue(subject, scope, SubjectNotifier, "user-1", ttl)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func wantReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	got, ok := ReasonOf(err)
	if !ok || got != reason {
		t.Fatalf("expected reason %s, got %s (%v)", reason, got, err)
	}
}

func TestVerifyWithinWindow(t *testing.T) {
	svc := newTestService(t, nil)
	ttl := 2 * time.Minute
	tok := mustIssue(t, svc, SubjectOrchestrator, ScopeMessagingSend, ttl)

	for _, offset := range []time.Duration{0, time.Second, ttl / 2, ttl - time.Nanosecond} {
		if err := svc.Verify(tok, ScopeMessagingSend, SubjectNotifier, issuedAt.Add(offset)); err != nil {
			t.Fatalf("offset %v: %v", offset, err)
		}
	}
	for _, offset := range []time.Duration{ttl, ttl + time.Second, time.Hour} {
		wantReason(t, svc.Verify(tok, ScopeMessagingSend, SubjectNotifier, issuedAt.Add(offset)), ReasonExpired)
	}
	wantReason(t, svc.Verify(tok, ScopeMessagingSend, SubjectNotifier, issuedAt.Add(-time.Second)), ReasonExpired)
}

func TestCalendarTokenNeverPassesForMessaging(t *testing.T) {
	svc := newTestService(t, nil)
	tok := mustIssue(t, svc, SubjectPlanner, ScopeCalendarWrite, time.Minute)
	for _, now := range []time.Time{issuedAt, issuedAt.Add(time.Hour)} {
		for _, aud := range []string{SubjectNotifier, "somebody-else"} {
			wantReason(t, svc.Verify(tok, ScopeMessagingSend, aud, now), ReasonWrongScope)
		}
	}
}

func TestVerifyWrongAudience(t *testing.T) {
	svc := newTestService(t, nil)
	tok := mustIssue(t, svc, SubjectOrchestrator, ScopeMessagingSend, time.Minute)
	wantReason(t, svc.Verify(tok, ScopeMessagingSend, SubjectPlanner, issuedAt), ReasonWrongAudience)
}

func TestVerifyDetectsTampering(t *testing.T) {
	svc := newTestService(t, nil)
	tok := mustIssue(t, svc, SubjectPlanner, ScopeCalendarWrite, time.Minute)

	widened := tok
	widened.Scope = ScopeMessagingSend
	wantReason(t, svc.Verify(widened, ScopeMessagingSend, SubjectNotifier, issuedAt), ReasonBadSignature)

	extended := tok
	extended.ExpiresAt = tok.ExpiresAt.Add(time.Hour)
	wantReason(t, svc.Verify(extended, ScopeCalendarWrite, SubjectNotifier, issuedAt.Add(30*time.Minute)), ReasonBadSignature)

	nudged := tok
	nudged.ExpiresAt = tok.ExpiresAt.Add(999 * time.Millisecond)
	wantReason(t, svc.Verify(nudged, ScopeCalendarWrite, SubjectNotifier, tok.ExpiresAt.Add(500*time.Millisecond)), ReasonBadSignature)

	other := tok
	other.OnBehalfOf = "user-2"
	wantReason(t, svc.Verify(other, ScopeCalendarWrite, SubjectNotifier, issuedAt), ReasonBadSignature)

	garbage := tok
	garbage.Signature = "not-a-jwt"
	wantReason(t, svc.Verify(garbage, ScopeCalendarWrite, SubjectNotifier, issuedAt), ReasonBadSignature)
}

func TestRotationInvalidatesPreviousEpoch(t *testing.T) {
	keys, err := NewRotatingKeys(SigningKey{Epoch: 7, Secret: []byte("first-secret-0123456789")})
	if err != nil {
		t.Fatalf("NewRotatingKeys: %v", err)
	}
	svc := newTestService(t, keys)
	tok := mustIssue(t, svc, SubjectPlanner, ScopeCalendarWrite, time.Minute)
	if tok.KeyEpoch != 7 {
		t.Fatalf("unexpected epoch %d", tok.KeyEpoch)
	}
	if err := svc.Verify(tok, ScopeCalendarWrite, SubjectNotifier, issuedAt); err != nil {
		t.Fatalf("Verify before rotation: %v", err)
	}

	next, err := keys.Rotate([]byte("second-secret-0123456789"))
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if next.Epoch != 8 {
		t.Fatalf("unexpected epoch after rotation %d", next.Epoch)
	}
	wantReason(t, svc.Verify(tok, ScopeCalendarWrite, SubjectNotifier, issuedAt), ReasonBadSignature)

	fresh := mustIssue(t, svc, SubjectPlanner, ScopeCalendarWrite, time.Minute)
	if err := svc.Verify(fresh, ScopeCalendarWrite, SubjectNotifier, issuedAt); err != nil {
		t.Fatalf("Verify after rotation: %v", err)
	}

	if _, err := keys.Rotate([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestIssueDeniedOutsidePolicy(t *testing.T) {
	svc := newTestService(t, nil)
	cases := []struct {
		subject  string
		scope    Scope
		audience string
	}{
		{SubjectPlanner, ScopeMessagingSend, SubjectNotifier},
		{SubjectOrchestrator, ScopeCalendarWrite, SubjectNotifier},
		{SubjectNotifier, ScopeMessagingSend, SubjectNotifier},
		{SubjectPlanner, ScopeCalendarWrite, SubjectPlanner},
	}
	for _, tc := range cases {
		if _, err := svc.Issue(tc.subject, tc.scope, tc.audience, "user-1", time.Minute); !errors.Is(err, ErrIssuanceDenied) {
			t.Fatalf("%+v: expected ErrIssuanceDenied, got %v", tc, err)
		}
	}
}

func TestIssueAppliesDefaultTTL(t *testing.T) {
	svc := newTestService(t, nil)
	tok, err := svc.Issue(SubjectPlanner, ScopeCalendarWrite, SubjectNotifier, "user-1", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != defaultTTL {
		t.Fatalf("unexpected ttl %v", got)
	}
	if tok.ID == "" || tok.Signature == "" {
		t.Fatalf("token incomplete: %+v", tok)
	}
	if _, err := svc.Issue(SubjectPlanner, ScopeCalendarWrite, SubjectNotifier, "user-1", time.Hour); err == nil {
		t.Fatal("expected error for ttl above maximum")
	}
}

func TestNewPolicyValidation(t *testing.T) {
	if _, err := NewPolicy([]Grant{{Subject: "planner", Scope: "calendar.read", Audience: "notifier"}}); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	if _, err := NewPolicy([]Grant{{Subject: "", Scope: ScopeCalendarWrite, Audience: "notifier"}}); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	p, err := NewPolicy(append(DefaultGrants(), DefaultGrants()...))
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if len(p.Grants()) != 2 {
		t.Fatalf("duplicates should collapse: %v", p.Grants())
	}
	var zero *Policy
	if zero.Allows(SubjectPlanner, ScopeCalendarWrite, SubjectNotifier) {
		t.Fatal("nil policy must allow nothing")
	}
}

func TestCallerContext(t *testing.T) {
	ctx := ContextWithCaller(context.Background(), " user-7 ")
	id, ok := CallerFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected caller: %q, ok=%v", id, ok)
	}
	if _, ok := CallerFromContext(ContextWithCaller(context.Background(), "")); ok {
		t.Fatal("empty caller should not be stored")
	}
}
