// Package sink holds the side-effecting collaborators of the pipeline:
// calendars that store event records and notifiers that deliver messages.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentsched.org/internal/event"
)

// Calendar persists event records.
type Calendar interface {
	Create(ctx context.Context, rec event.Record) error
}

// ConflictChecker is implemented by calendars that can detect an existing
// event for the same user and start time.
type ConflictChecker interface {
	HasEventAt(ctx context.Context, userID string, start time.Time) (bool, error)
}

// StatusRecorder is implemented by calendars that track notification status.
type StatusRecorder interface {
	SetStatus(ctx context.Context, id string, status event.Status) error
}

// Notifier delivers a message to a user. It may be slow and may fail.
type Notifier interface {
	Send(ctx context.Context, userID string, msg Message) error
}

// Channel is the delivery medium of a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelSlack Channel = "slack"
)

// ParseChannel maps a name to a Channel; the empty string selects email.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case "":
		return ChannelEmail, nil
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelSlack:
		return c, nil
	}
	return "", fmt.Errorf("unknown notification channel %q", s)
}

// Message is a reminder for one event.
type Message struct {
	EventID string    `json:"event_id"`
	UserID  string    `json:"user_id"`
	Channel Channel   `json:"channel"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SendAt  time.Time `json:"send_at"`
}

// NewMessage renders the reminder text for rec.
func NewMessage(rec event.Record, ch Channel) Message {
	if ch == "" {
		ch = ChannelEmail
	}
	return Message{
		EventID: rec.ID,
		UserID:  rec.UserID,
		Channel: ch,
		Subject: "Reminder: " + rec.Title,
		Body:    fmt.Sprintf("Don't forget: %s at %s", rec.Title, rec.Start.Format(time.RFC3339)),
		SendAt:  rec.RemindAt(),
	}
}

func encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
