package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailsuite/internal/folder"
	"mailsuite/internal/imapx"
	"mailsuite/internal/model"
	"mailsuite/internal/repository"
)

// Remote mutations recover the message's remote location from the local
// row, search the folder by global message id and apply the change. A
// message the remote no longer has (already moved by another client) makes
// the operation a no-op success: remote state is authoritative and
// idempotent correction is expected.

// ErrMessageNotFound means the local mirror has no such message for the
// user.
var ErrMessageNotFound = errors.New("syncer: message not found")

// MarkRead sets or clears the remote \Seen flag and mirrors it locally.
func (s *Service) MarkRead(ctx context.Context, userID, messageID int64, creds Credentials, read bool) error {
	m, err := s.ownedMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}

	err = s.withRemote(ctx, creds, m, func(sess imapx.Mailbox, uids []uint32) error {
		return sess.SetFlags(ctx, uids, []string{`\Seen`}, read)
	})
	if err != nil {
		return err
	}

	if err := s.store.UpdateFlags(ctx, m.ID, read, m.IsStarred); err != nil {
		return fmt.Errorf("syncer: mark read: %w", err)
	}
	s.notifier.EmailUpdated(userID, m.ID, map[string]any{"is_read": read})
	return nil
}

// ToggleStar sets or clears the remote \Flagged flag and mirrors it
// locally. This is the write-back hook for user flag actions.
func (s *Service) ToggleStar(ctx context.Context, userID, messageID int64, creds Credentials, starred bool) error {
	m, err := s.ownedMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}

	err = s.withRemote(ctx, creds, m, func(sess imapx.Mailbox, uids []uint32) error {
		return sess.SetFlags(ctx, uids, []string{`\Flagged`}, starred)
	})
	if err != nil {
		return err
	}

	if err := s.store.UpdateFlags(ctx, m.ID, m.IsRead, starred); err != nil {
		return fmt.Errorf("syncer: toggle star: %w", err)
	}
	s.notifier.EmailUpdated(userID, m.ID, map[string]any{"is_starred": starred})
	return nil
}

// MoveToFolder moves the message to another canonical folder remotely and
// updates the local row.
func (s *Service) MoveToFolder(ctx context.Context, userID, messageID int64, creds Credentials, targetCanonical string) error {
	target, ok := folder.ToProvider(targetCanonical)
	if !ok {
		return fmt.Errorf("syncer: unknown folder %q", targetCanonical)
	}

	m, err := s.ownedMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}

	err = s.withRemote(ctx, creds, m, func(sess imapx.Mailbox, uids []uint32) error {
		return sess.Move(ctx, uids, target)
	})
	if err != nil {
		return err
	}

	if err := s.store.UpdateFolder(ctx, m.ID, targetCanonical); err != nil {
		return fmt.Errorf("syncer: move message: %w", err)
	}
	s.notifier.EmailUpdated(userID, m.ID, map[string]any{"folder": targetCanonical})
	return nil
}

// Delete routes a user deletion to the remote trash and retires the local
// row to the TRASH folder. Sync itself never deletes mirror rows.
func (s *Service) Delete(ctx context.Context, userID, messageID int64, creds Credentials) error {
	m, err := s.ownedMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}

	trash, _ := folder.ToProvider(folder.Trash)
	err = s.withRemote(ctx, creds, m, func(sess imapx.Mailbox, uids []uint32) error {
		return sess.Move(ctx, uids, trash)
	})
	if err != nil {
		return err
	}

	if err := s.store.UpdateFolder(ctx, m.ID, folder.Trash); err != nil {
		return fmt.Errorf("syncer: delete message: %w", err)
	}
	s.notifier.EmailDeleted(userID, m.ID)
	return nil
}

func (s *Service) ownedMessage(ctx context.Context, userID, messageID int64) (*model.MirroredMessage, error) {
	m, err := s.store.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if m.UserID != userID {
		return nil, ErrMessageNotFound
	}
	return m, nil
}

// withRemote opens a session, locates the message in its recorded folder
// and runs fn against the matching UIDs. An unmappable folder, a missing
// remote folder or an empty search result all make the call a no-op
// success.
func (s *Service) withRemote(ctx context.Context, creds Credentials, m *model.MirroredMessage, fn func(sess imapx.Mailbox, uids []uint32) error) error {
	providerName, ok := folder.ToProvider(m.Folder)
	if !ok {
		return nil
	}

	sess, err := s.connector.Connect(ctx, creds.Username, creds.Password)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Logout() }()

	if _, err := sess.Select(ctx, providerName); err != nil {
		if errors.Is(err, imapx.ErrFolderNotFound) {
			return nil
		}
		return err
	}

	uids, err := sess.SearchHeader(ctx, "Message-Id", m.GlobalMessageID)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		s.logger.Debug("Remote message already gone, treating as applied",
			zap.Int64("message_id", m.ID),
			zap.String("folder", m.Folder),
		)
		return nil
	}

	return fn(sess, uids)
}
