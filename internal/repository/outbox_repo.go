package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsuite/internal/model"
)

// OutboxRepository is the Postgres OutboxStore.
type OutboxRepository struct {
	db *pgxpool.Pool
}

func NewOutboxRepository(db *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const outboxColumns = `
	id, user_id, from_addr, to_addrs, cc_addrs, bcc_addrs, subject,
	html_body, text_body, send_at, status, attempts, error_message,
	sent_message_id, created_at, updated_at
`

func (r *OutboxRepository) Create(ctx context.Context, e *model.OutboxEntry) (int64, error) {
	query := `
        INSERT INTO outbox_entries
            (user_id, from_addr, to_addrs, cc_addrs, bcc_addrs, subject,
             html_body, text_body, send_at, status, attempts, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, NOW(), NOW())
        RETURNING id
    `
	var id int64
	err := r.db.QueryRow(ctx, query,
		e.UserID, e.From, e.To, e.Cc, e.Bcc, e.Subject,
		e.HTMLBody, e.TextBody, e.SendAt, e.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return id, nil
}

func (r *OutboxRepository) Get(ctx context.Context, id int64) (*model.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_entries WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *OutboxRepository) GetPendingByIDAndUser(ctx context.Context, id, userID int64) (*model.OutboxEntry, error) {
	query := `
        SELECT ` + outboxColumns + `
        FROM outbox_entries
        WHERE id = $1 AND user_id = $2 AND status = 'PENDING'
    `
	return r.scanOne(r.db.QueryRow(ctx, query, id, userID))
}

func (r *OutboxRepository) CancelPending(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
        UPDATE outbox_entries
        SET status = 'CANCELLED', updated_at = NOW()
        WHERE id = $1 AND status = 'PENDING' AND send_at > $2
    `
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel outbox entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error) {
	query := `
        WITH due AS (
            SELECT id
            FROM outbox_entries
            WHERE status = 'PENDING' AND send_at <= $1
            ORDER BY send_at ASC
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        UPDATE outbox_entries o
        SET status = 'SENDING', attempts = o.attempts + 1, updated_at = NOW()
        FROM due
        WHERE o.id = due.id AND o.status = 'PENDING'
        RETURNING o.id, o.user_id, o.from_addr, o.to_addrs, o.cc_addrs,
                  o.bcc_addrs, o.subject, o.html_body, o.text_body, o.send_at,
                  o.status, o.attempts, o.error_message, o.sent_message_id,
                  o.created_at, o.updated_at
    `
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id, sentMessageID int64) error {
	// A zero reference means the mirror row could not be produced; store
	// NULL rather than a dangling id.
	query := `
        UPDATE outbox_entries
        SET status = 'SENT', sent_message_id = NULLIF($1, 0), error_message = '', updated_at = NOW()
        WHERE id = $2
    `
	_, err := r.db.Exec(ctx, query, sentMessageID, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry sent: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	query := `
        UPDATE outbox_entries
        SET status = 'FAILED', error_message = $1, updated_at = NOW()
        WHERE id = $2
    `
	_, err := r.db.Exec(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) Reschedule(ctx context.Context, id int64, sendAt time.Time, errMsg string) error {
	query := `
        UPDATE outbox_entries
        SET status = 'PENDING', send_at = $1, error_message = $2, updated_at = NOW()
        WHERE id = $3
    `
	_, err := r.db.Exec(ctx, query, sendAt, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *OutboxRepository) scanOne(row pgx.Row) (*model.OutboxEntry, error) {
	e, err := scanOutbox(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func scanOutbox(row rowScanner) (*model.OutboxEntry, error) {
	var e model.OutboxEntry
	var sentMessageID *int64
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.From,
		&e.To,
		&e.Cc,
		&e.Bcc,
		&e.Subject,
		&e.HTMLBody,
		&e.TextBody,
		&e.SendAt,
		&e.Status,
		&e.Attempts,
		&e.ErrorMessage,
		&sentMessageID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sentMessageID != nil {
		e.SentMessageID = *sentMessageID
	}
	return &e, nil
}
