package agent

import (
	"context"
	"fmt"
	"time"

	"agentsched.org/internal/auth"
	"agentsched.org/internal/event"
	"agentsched.org/internal/obs"
	"agentsched.org/internal/sink"
)

const defaultNotifyTimeout = 5 * time.Second

// Verifier checks capability tokens.
type Verifier interface {
	Verify(tok auth.Token, scope auth.Scope, audience string, now time.Time) error
}

// Delivery is the outcome of one notification attempt.
type Delivery struct {
	Status  event.Status  `json:"status"`
	Message sink.Message  `json:"message"`
	Elapsed time.Duration `json:"elapsed"`
	Err     error         `json:"-"`
}

// Notifier verifies a messaging.send token and dispatches the reminder.
type Notifier struct {
	verifier Verifier
	sink     sink.Notifier
	timeout  time.Duration
	channel  sink.Channel
	now      func() time.Time
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithTimeout bounds each sink call.
func WithTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithChannel selects the delivery channel.
func WithChannel(ch sink.Channel) NotifierOption {
	return func(n *Notifier) {
		if ch != "" {
			n.channel = ch
		}
	}
}

// WithNotifierClock overrides the instant used for token verification.
func WithNotifierClock(fn func() time.Time) NotifierOption {
	return func(n *Notifier) {
		if fn != nil {
			n.now = fn
		}
	}
}

// NewNotifier wires the Notifier's collaborators.
func NewNotifier(v Verifier, s sink.Notifier, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		verifier: v,
		sink:     s,
		timeout:  defaultNotifyTimeout,
		channel:  sink.ChannelEmail,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers the reminder for rec. A rejected token is returned as an
// error and nothing is sent. Sink failures and timeouts are reported through
// Delivery with status NotificationFailed and a nil error.
func (n *Notifier) Notify(ctx context.Context, rec event.Record, tok auth.Token) (Delivery, error) {
	if err := n.verifier.Verify(tok, auth.ScopeMessagingSend, auth.SubjectNotifier, n.now()); err != nil {
		return Delivery{}, err
	}
	if tok.OnBehalfOf != rec.UserID {
		return Delivery{}, fmt.Errorf("%w: token for %q, event owned by %q", ErrPrincipalMismatch, tok.OnBehalfOf, rec.UserID)
	}

	msg := sink.NewMessage(rec, n.channel)
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	started := time.Now()
	done := make(chan error, 1)
	go func() { done <- n.sink.Send(ctx, rec.UserID, msg) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	elapsed := time.Since(started)

	if err != nil {
		obs.ObserveNotification("failed", elapsed)
		return Delivery{
			Status:  event.StatusNotificationFailed,
			Message: msg,
			Elapsed: elapsed,
			Err:     fmt.Errorf("%w: %v", ErrNotificationFailed, err),
		}, nil
	}
	obs.ObserveNotification("sent", elapsed)
	return Delivery{Status: event.StatusNotificationSent, Message: msg, Elapsed: elapsed}, nil
}
