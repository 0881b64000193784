// Package models defines the Message entity: server-mediated inter-session
// mail.
package models

import "time"

// Status is the delivery lifecycle of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusExpired   Status = "expired"
)

// Metadata carries optional routing hints a sender may attach.
type Metadata struct {
	TaskID   string `json:"taskId,omitempty"`
	Type     string `json:"type,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Message is one piece of mail from one session to another. The sender's
// session is the authenticated principal; there is no separate "author"
// field distinct from From.
type Message struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Body   string `json:"body"`
	Status Status `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`

	Metadata Metadata `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// repository's lock.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		clone.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		clone.ReadAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		clone.ExpiresAt = &t
	}
	return &clone
}

// Expired reports whether the message's TTL has elapsed as of now.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}
