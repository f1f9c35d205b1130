package repository

import (
	"context"
	"errors"
	"time"

	"mailsuite/internal/model"
)

var (
	// ErrNotFound means the referenced row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate means a unique constraint rejected the insert.
	ErrDuplicate = errors.New("repository: duplicate")
)

// OutboxStore persists queued outbound messages.
type OutboxStore interface {
	Create(ctx context.Context, e *model.OutboxEntry) (int64, error)
	Get(ctx context.Context, id int64) (*model.OutboxEntry, error)
	// GetPendingByIDAndUser returns the PENDING entry owned by the user,
	// or ErrNotFound.
	GetPendingByIDAndUser(ctx context.Context, id, userID int64) (*model.OutboxEntry, error)
	// CancelPending transitions PENDING -> CANCELLED only while the entry
	// is still PENDING and its send time is after now. Returns whether the
	// transition happened.
	CancelPending(ctx context.Context, id int64, now time.Time) (bool, error)
	// ClaimDue atomically transitions up to limit due PENDING entries to
	// SENDING, incrementing attempts, and returns them. The conditional
	// update is the sole point of contention between dispatcher instances:
	// an entry is returned to exactly one claimant.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error)
	MarkSent(ctx context.Context, id, sentMessageID int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	// Reschedule returns a SENDING entry to PENDING with a new send time
	// after a failed attempt.
	Reschedule(ctx context.Context, id int64, sendAt time.Time, errMsg string) error
}

// MessageStore persists the local mailbox mirror.
type MessageStore interface {
	// Create inserts a new mirrored message. ErrDuplicate when another row
	// already holds the same (user, global message id).
	Create(ctx context.Context, m *model.MirroredMessage) (int64, error)
	Get(ctx context.Context, id int64) (*model.MirroredMessage, error)
	GetByGlobalID(ctx context.Context, userID int64, globalID string) (*model.MirroredMessage, error)
	ExistsGlobal(ctx context.Context, userID int64, globalID string) (bool, error)
	ListGlobalIDsByFolder(ctx context.Context, userID int64, folder string) ([]string, error)
	UpdateFlags(ctx context.Context, id int64, isRead, isStarred bool) error
	UpdateFolder(ctx context.Context, id int64, folder string) error
	Delete(ctx context.Context, id int64) error
	AddAttachment(ctx context.Context, a *model.Attachment) (int64, error)
	ListAttachments(ctx context.Context, messageID int64) ([]*model.Attachment, error)
}

// CredentialStore persists encrypted mailbox credentials.
type CredentialStore interface {
	Save(ctx context.Context, cred *model.StoredCredential) error
	Get(ctx context.Context, userID int64) (*model.StoredCredential, error)
	// List returns every stored account, for the background sync loop.
	List(ctx context.Context) ([]*model.StoredCredential, error)
}
