package model

import "time"

// Outbox entry statuses. An entry is terminal once it reaches
// SENT, FAILED or CANCELLED.
const (
	OutboxPending   = "PENDING"
	OutboxSending   = "SENDING"
	OutboxSent      = "SENT"
	OutboxFailed    = "FAILED"
	OutboxCancelled = "CANCELLED"
)

// OutboxEntry is a queued outbound email waiting out its undo window.
type OutboxEntry struct {
	ID            int64
	UserID        int64
	From          string
	To            []string
	Cc            []string
	Bcc           []string
	Subject       string
	HTMLBody      string
	TextBody      string
	SendAt        time.Time
	Status        string
	Attempts      int
	ErrorMessage  string
	SentMessageID int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
