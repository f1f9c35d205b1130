package account

import (
	"context"
	"fmt"

	"mailsuite/internal/model"
	"mailsuite/internal/repository"
	"mailsuite/internal/vault"
)

// Service stores and resolves per-user mailbox credentials. Secrets exist
// in plaintext only inside a single call.
type Service struct {
	vault *vault.Vault
	store repository.CredentialStore
}

func NewService(v *vault.Vault, store repository.CredentialStore) *Service {
	return &Service{vault: v, store: store}
}

// Save encrypts and persists the mailbox password for a user.
func (s *Service) Save(ctx context.Context, userID int64, address, password string) error {
	encrypted, err := s.vault.Encrypt(password)
	if err != nil {
		return fmt.Errorf("account: encrypt credential: %w", err)
	}
	return s.store.Save(ctx, &model.StoredCredential{
		UserID:    userID,
		Address:   address,
		Encrypted: encrypted,
	})
}

// Resolve loads and decrypts one user's mailbox credentials.
// vault.ErrCorruptCredential passes through to the caller untouched.
func (s *Service) Resolve(ctx context.Context, userID int64) (address, password string, err error) {
	cred, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", "", err
	}
	password, err = s.vault.Decrypt(cred.Encrypted)
	if err != nil {
		return "", "", err
	}
	return cred.Address, password, nil
}

// List returns every stored account without decrypting anything.
func (s *Service) List(ctx context.Context) ([]*model.StoredCredential, error) {
	return s.store.List(ctx)
}

// Decrypt exposes the vault for accounts already loaded by List.
func (s *Service) Decrypt(encrypted string) (string, error) {
	return s.vault.Decrypt(encrypted)
}
