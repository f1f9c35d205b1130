package outbox

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailsuite/internal/folder"
	"mailsuite/internal/model"
	"mailsuite/internal/notify"
	"mailsuite/internal/repository"
	"mailsuite/internal/smtpx"
	"mailsuite/pkg/metrics"
)

// mirrorAttempts bounds the SENT-folder mirror write retries after a
// successful transmission.
const mirrorAttempts = 3

// Dispatcher polls the outbox and transmits due entries. Each tick claims
// its batch with a conditional PENDING->SENDING transition and processes
// it to completion before the next tick runs, so a given entry is never
// worked by two actors of the same process; across processes the
// conditional claim itself arbitrates ownership.
type Dispatcher struct {
	store       repository.OutboxStore
	messages    repository.MessageStore
	sender      Sender
	notifier    notify.Notifier
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
	interval    time.Duration
	batchSize   int
}

func NewDispatcher(
	store repository.OutboxStore,
	messages repository.MessageStore,
	sender Sender,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:       store,
		messages:    messages,
		sender:      sender,
		notifier:    notifier,
		logger:      logger,
		maxAttempts: 3,
		retryDelay:  30 * time.Second,
		interval:    time.Second,
		batchSize:   10,
	}
}

// WithMaxAttempts sets the terminal-failure attempt cap.
func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	d.maxAttempts = n
	return d
}

// WithRetryDelay sets how far a failed entry's send time is pushed forward.
func (d *Dispatcher) WithRetryDelay(delay time.Duration) *Dispatcher {
	d.retryDelay = delay
	return d
}

// WithInterval sets the tick interval.
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithBatchSize sets the per-tick batch cap.
func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	d.batchSize = n
	return d
}

// Start runs the tick loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting outbox dispatcher",
		zap.Int("max_attempts", d.maxAttempts),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessDue(ctx, time.Now())
		}
	}
}

// ProcessDue executes one dispatcher tick against the given clock reading:
// claim up to batchSize due entries, oldest send time first, and attempt
// each. One entry's failure never blocks the rest of the batch.
func (d *Dispatcher) ProcessDue(ctx context.Context, now time.Time) {
	entries, err := d.store.ClaimDue(ctx, now, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to claim due outbox entries", zap.Error(err))
		return
	}
	metrics.DispatchBatchSize.Observe(float64(len(entries)))
	if len(entries) == 0 {
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SendAt.Before(entries[j].SendAt)
	})

	for _, entry := range entries {
		d.dispatch(ctx, now, entry)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, now time.Time, entry *model.OutboxEntry) {
	result, err := d.sender.Send(ctx, &smtpx.Outgoing{
		From:     entry.From,
		To:       entry.To,
		Cc:       entry.Cc,
		Bcc:      entry.Bcc,
		Subject:  entry.Subject,
		HTMLBody: entry.HTMLBody,
		TextBody: entry.TextBody,
	})
	if err != nil {
		d.handleFailure(ctx, now, entry, err)
		return
	}

	mirrorID := d.recordSent(ctx, now, entry, result)
	if err := d.store.MarkSent(ctx, entry.ID, mirrorID); err != nil {
		d.logger.Error("Failed to mark entry sent",
			zap.Int64("entry_id", entry.ID),
			zap.Error(err),
		)
		return
	}

	metrics.RecordDispatch("sent")
	d.notifier.ScheduledEmailSent(entry.UserID, entry.ID, entry.Subject)
	d.logger.Info("Dispatched outbound email",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("user_id", entry.UserID),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)),
	)
}

// recordSent mirrors the transmitted message into the local SENT folder.
// Transmission already happened, so the write is retried with the transport
// message id as the repair key; a concurrent writer's row counts as ours.
// Returns 0 when no mirror row could be produced, which the store persists
// as an absent reference, never a dangling one.
func (d *Dispatcher) recordSent(ctx context.Context, now time.Time, entry *model.OutboxEntry, result *smtpx.SendResult) int64 {
	globalID := strings.Trim(result.TransportMessageID, "<>")
	mirror := &model.MirroredMessage{
		UserID:          entry.UserID,
		GlobalMessageID: globalID,
		Folder:          folder.Sent,
		From:            entry.From,
		To:              entry.To,
		Cc:              entry.Cc,
		Bcc:             entry.Bcc,
		Subject:         entry.Subject,
		HTMLBody:        entry.HTMLBody,
		TextBody:        entry.TextBody,
		Snippet:         model.Snippet(entry.TextBody, entry.Subject),
		IsRead:          true,
		SentAt:          now,
	}

	for attempt := 1; attempt <= mirrorAttempts; attempt++ {
		id, err := d.messages.Create(ctx, mirror)
		if err == nil {
			return id
		}
		if errors.Is(err, repository.ErrDuplicate) {
			if existing, gerr := d.messages.GetByGlobalID(ctx, entry.UserID, globalID); gerr == nil {
				return existing.ID
			}
		}
		d.logger.Warn("Failed to mirror sent message",
			zap.Int64("entry_id", entry.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return 0
}

func (d *Dispatcher) handleFailure(ctx context.Context, now time.Time, entry *model.OutboxEntry, sendErr error) {
	d.logger.Warn("Outbox dispatch failed",
		zap.Int64("entry_id", entry.ID),
		zap.Int("attempt", entry.Attempts),
		zap.Error(sendErr),
	)

	// Re-read the attempt count: another instance may have consumed
	// attempts while this one was transmitting.
	attempts := entry.Attempts
	if current, err := d.store.Get(ctx, entry.ID); err == nil {
		attempts = current.Attempts
	}

	if attempts >= d.maxAttempts {
		if err := d.store.MarkFailed(ctx, entry.ID, sendErr.Error()); err != nil {
			d.logger.Error("Failed to mark entry failed",
				zap.Int64("entry_id", entry.ID),
				zap.Error(err),
			)
			return
		}
		metrics.RecordDispatch("failed")
		return
	}

	if err := d.store.Reschedule(ctx, entry.ID, now.Add(d.retryDelay), sendErr.Error()); err != nil {
		d.logger.Error("Failed to reschedule entry",
			zap.Int64("entry_id", entry.ID),
			zap.Error(err),
		)
		return
	}
	metrics.RecordDispatch("retried")
}
