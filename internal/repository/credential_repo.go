package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsuite/internal/model"
)

// CredentialRepository is the Postgres CredentialStore.
type CredentialRepository struct {
	db *pgxpool.Pool
}

func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Save(ctx context.Context, cred *model.StoredCredential) error {
	query := `
        INSERT INTO mailbox_credentials (user_id, address, encrypted_secret, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (user_id)
        DO UPDATE SET address = EXCLUDED.address,
                      encrypted_secret = EXCLUDED.encrypted_secret,
                      updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query, cred.UserID, cred.Address, cred.Encrypted)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) Get(ctx context.Context, userID int64) (*model.StoredCredential, error) {
	query := `SELECT user_id, address, encrypted_secret FROM mailbox_credentials WHERE user_id = $1`
	var cred model.StoredCredential
	err := r.db.QueryRow(ctx, query, userID).Scan(&cred.UserID, &cred.Address, &cred.Encrypted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &cred, nil
}

func (r *CredentialRepository) List(ctx context.Context) ([]*model.StoredCredential, error) {
	query := `SELECT user_id, address, encrypted_secret FROM mailbox_credentials ORDER BY user_id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*model.StoredCredential
	for rows.Next() {
		var cred model.StoredCredential
		if err := rows.Scan(&cred.UserID, &cred.Address, &cred.Encrypted); err != nil {
			return nil, err
		}
		creds = append(creds, &cred)
	}
	return creds, rows.Err()
}
