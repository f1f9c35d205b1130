package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsuite/internal/model"
)

// MessageRepository is the Postgres MessageStore.
type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `
	id, user_id, global_message_id, folder, uid, from_addr, to_addrs,
	cc_addrs, bcc_addrs, subject, html_body, text_body, snippet, is_read,
	is_starred, has_attachments, sent_at, created_at
`

func (r *MessageRepository) Create(ctx context.Context, m *model.MirroredMessage) (int64, error) {
	query := `
        INSERT INTO mirrored_messages
            (user_id, global_message_id, folder, uid, from_addr, to_addrs,
             cc_addrs, bcc_addrs, subject, html_body, text_body, snippet,
             is_read, is_starred, has_attachments, sent_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
        RETURNING id
    `
	var id int64
	err := r.db.QueryRow(ctx, query,
		m.UserID, m.GlobalMessageID, m.Folder, m.UID, m.From, m.To,
		m.Cc, m.Bcc, m.Subject, m.HTMLBody, m.TextBody, m.Snippet,
		m.IsRead, m.IsStarred, m.HasAttachments, m.SentAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("failed to insert mirrored message: %w", err)
	}
	return id, nil
}

func (r *MessageRepository) Get(ctx context.Context, id int64) (*model.MirroredMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM mirrored_messages WHERE id = $1`
	return scanMessageRow(r.db.QueryRow(ctx, query, id))
}

func (r *MessageRepository) GetByGlobalID(ctx context.Context, userID int64, globalID string) (*model.MirroredMessage, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM mirrored_messages
        WHERE user_id = $1 AND global_message_id = $2
    `
	return scanMessageRow(r.db.QueryRow(ctx, query, userID, globalID))
}

func (r *MessageRepository) ExistsGlobal(ctx context.Context, userID int64, globalID string) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM mirrored_messages
            WHERE user_id = $1 AND global_message_id = $2
        )
    `
	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, globalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return exists, nil
}

func (r *MessageRepository) ListGlobalIDsByFolder(ctx context.Context, userID int64, folder string) ([]string, error) {
	query := `
        SELECT global_message_id
        FROM mirrored_messages
        WHERE user_id = $1 AND folder = $2
    `
	rows, err := r.db.Query(ctx, query, userID, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MessageRepository) UpdateFlags(ctx context.Context, id int64, isRead, isStarred bool) error {
	query := `
        UPDATE mirrored_messages
        SET is_read = $1, is_starred = $2
        WHERE id = $3
    `
	_, err := r.db.Exec(ctx, query, isRead, isStarred, id)
	if err != nil {
		return fmt.Errorf("failed to update flags: %w", err)
	}
	return nil
}

func (r *MessageRepository) UpdateFolder(ctx context.Context, id int64, folder string) error {
	query := `
        UPDATE mirrored_messages
        SET folder = $1
        WHERE id = $2
    `
	_, err := r.db.Exec(ctx, query, folder, id)
	if err != nil {
		return fmt.Errorf("failed to update folder: %w", err)
	}
	return nil
}

func (r *MessageRepository) Delete(ctx context.Context, id int64) error {
	// Attachment rows cascade via their foreign key.
	query := `DELETE FROM mirrored_messages WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (r *MessageRepository) AddAttachment(ctx context.Context, a *model.Attachment) (int64, error) {
	query := `
        INSERT INTO attachments (message_id, filename, mime_type, size, content_ref)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	var id int64
	err := r.db.QueryRow(ctx, query,
		a.MessageID, a.Filename, a.MimeType, a.Size, a.ContentRef,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attachment: %w", err)
	}
	return id, nil
}

func (r *MessageRepository) ListAttachments(ctx context.Context, messageID int64) ([]*model.Attachment, error) {
	query := `
        SELECT id, message_id, filename, mime_type, size, content_ref
        FROM attachments
        WHERE message_id = $1
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var atts []*model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.MimeType, &a.Size, &a.ContentRef); err != nil {
			return nil, err
		}
		atts = append(atts, &a)
	}
	return atts, rows.Err()
}

func scanMessageRow(row pgx.Row) (*model.MirroredMessage, error) {
	var m model.MirroredMessage
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.GlobalMessageID,
		&m.Folder,
		&m.UID,
		&m.From,
		&m.To,
		&m.Cc,
		&m.Bcc,
		&m.Subject,
		&m.HTMLBody,
		&m.TextBody,
		&m.Snippet,
		&m.IsRead,
		&m.IsStarred,
		&m.HasAttachments,
		&m.SentAt,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
