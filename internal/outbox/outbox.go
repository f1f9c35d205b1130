// Package outbox is the durable queue of outbound messages. Entries wait
// out a visibility delay (the undo window) before a polling dispatcher
// hands them to the transmission client, retrying failures with a bounded
// attempt budget.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailsuite/internal/model"
	"mailsuite/internal/repository"
	"mailsuite/internal/smtpx"
)

var (
	// ErrNotFound means no pending entry owned by the caller exists.
	ErrNotFound = errors.New("outbox: entry not found")
	// ErrAlreadyProcessed means cancellation arrived at or after the send
	// time; the dispatcher may already own the entry.
	ErrAlreadyProcessed = errors.New("outbox: entry already processed")
	// ErrNoRecipients rejects a queue request with an empty recipient set.
	ErrNoRecipients = errors.New("outbox: no recipients")
)

// undoCutoff separates undo-window sends from scheduled-for-later sends.
// Both cancel into the same CANCELLED state, but the UX differs, so Queue
// reports which kind the entry is.
const undoCutoff = 60 * time.Second

// Sender transmits a composed message. Implemented by *smtpx.Client.
type Sender interface {
	Send(ctx context.Context, msg *smtpx.Outgoing) (*smtpx.SendResult, error)
}

// QueueParams describes one outbound email.
type QueueParams struct {
	UserID      int64
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	HTMLBody    string
	TextBody    string
	ScheduledAt *time.Time
}

// Queued is the result of queueing an email.
type Queued struct {
	ID      int64
	SendAt  time.Time
	CanUndo bool
}

// Service exposes the queue and cancel operations to the route layer.
type Service struct {
	store     repository.OutboxStore
	undoDelay time.Duration
	logger    *zap.Logger
}

func NewService(store repository.OutboxStore, undoDelay time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		undoDelay: undoDelay,
		logger:    logger,
	}
}

// Queue stores an email for later dispatch. SendAt is now plus the undo
// delay unless an explicit future schedule is given.
func (s *Service) Queue(ctx context.Context, p QueueParams) (Queued, error) {
	if len(p.To)+len(p.Cc)+len(p.Bcc) == 0 {
		return Queued{}, ErrNoRecipients
	}

	now := time.Now()
	sendAt := now.Add(s.undoDelay)
	if p.ScheduledAt != nil && p.ScheduledAt.After(now) {
		sendAt = *p.ScheduledAt
	}

	entry := &model.OutboxEntry{
		UserID:   p.UserID,
		From:     p.From,
		To:       p.To,
		Cc:       p.Cc,
		Bcc:      p.Bcc,
		Subject:  p.Subject,
		HTMLBody: p.HTMLBody,
		TextBody: p.TextBody,
		SendAt:   sendAt,
		Status:   model.OutboxPending,
	}

	id, err := s.store.Create(ctx, entry)
	if err != nil {
		return Queued{}, fmt.Errorf("outbox: queue email: %w", err)
	}

	s.logger.Info("Queued outbound email",
		zap.Int64("entry_id", id),
		zap.Int64("user_id", p.UserID),
		zap.Time("send_at", sendAt),
	)

	return Queued{
		ID:      id,
		SendAt:  sendAt,
		CanUndo: sendAt.Sub(now) <= undoCutoff,
	}, nil
}

// Cancel withdraws a pending entry strictly before its send time. The
// check here is best-effort; the authoritative guard is the conditional
// claim performed by the dispatcher.
func (s *Service) Cancel(ctx context.Context, id, userID int64) error {
	entry, err := s.store.GetPendingByIDAndUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("outbox: cancel: %w", err)
	}

	now := time.Now()
	if !now.Before(entry.SendAt) {
		return ErrAlreadyProcessed
	}

	ok, err := s.store.CancelPending(ctx, id, now)
	if err != nil {
		return fmt.Errorf("outbox: cancel: %w", err)
	}
	if !ok {
		// Lost the race against the dispatcher.
		return ErrAlreadyProcessed
	}

	s.logger.Info("Cancelled outbound email",
		zap.Int64("entry_id", id),
		zap.Int64("user_id", userID),
	)
	return nil
}
