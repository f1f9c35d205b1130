// Package syncer pulls remote mailbox folders into the local mirror.
// Sync is idempotent and incremental: messages are deduplicated on their
// global message id and each call fetches a bounded window of the most
// recent messages only.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailsuite/internal/folder"
	"mailsuite/internal/imapx"
	"mailsuite/internal/model"
	"mailsuite/internal/notify"
	"mailsuite/internal/repository"
	"mailsuite/pkg/lock"
	"mailsuite/pkg/metrics"
)

// Credentials are one user's decrypted mailbox credentials. They live for
// the duration of a single operation only.
type Credentials struct {
	Username string
	Password string
}

// Result summarizes one sync call. Total counts the messages the call
// actually processed (new + failed); duplicates skipped by dedup are not
// counted.
type Result struct {
	Synced int
	Errors int
	Total  int
}

func (r *Result) add(other Result) {
	r.Synced += other.Synced
	r.Errors += other.Errors
	r.Total += other.Total
}

// Service is the sync engine. Connector sessions are per-operation: every
// public method acquires, uses and logs out its own session.
type Service struct {
	connector  imapx.Connector
	store      repository.MessageStore
	notifier   notify.Notifier
	locker     *lock.Locker
	logger     *zap.Logger
	fetchLimit int
}

func NewService(
	connector imapx.Connector,
	store repository.MessageStore,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		connector:  connector,
		store:      store,
		notifier:   notifier,
		logger:     logger,
		fetchLimit: 100,
	}
}

// WithLocker enables cross-instance serialization of per-user syncs.
func (s *Service) WithLocker(l *lock.Locker) *Service {
	s.locker = l
	return s
}

// WithFetchLimit bounds the per-call fetch window.
func (s *Service) WithFetchLimit(n int) *Service {
	s.fetchLimit = n
	return s
}

// SyncFolder mirrors the last limit messages of one canonical folder.
// Folder absence on the remote side is a zero-result success, not an
// error. A limit of zero uses the service default.
func (s *Service) SyncFolder(ctx context.Context, userID int64, creds Credentials, canonicalFolder string, limit int) (Result, error) {
	if limit <= 0 {
		limit = s.fetchLimit
	}
	providerName, ok := folder.ToProvider(canonicalFolder)
	if !ok {
		return Result{}, fmt.Errorf("syncer: unknown folder %q", canonicalFolder)
	}

	start := time.Now()

	sess, err := s.connector.Connect(ctx, creds.Username, creds.Password)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = sess.Logout() }()

	total, err := s.selectWithFallback(ctx, sess, providerName)
	if err != nil {
		if errors.Is(err, imapx.ErrFolderNotFound) {
			return Result{}, nil
		}
		return Result{}, err
	}
	if total == 0 {
		return Result{}, nil
	}

	from := uint32(1)
	if total > uint32(limit) {
		from = total - uint32(limit) + 1
	}

	msgs, err := sess.FetchRange(ctx, from, total)
	if err != nil {
		return Result{}, err
	}

	res := s.ingest(ctx, userID, creds, canonicalFolder, msgs)

	metrics.RecordSync(canonicalFolder, res.Synced, res.Errors, time.Since(start))
	s.notifier.SyncCompleted(userID, notify.SyncSummary{
		Folder: canonicalFolder,
		Synced: res.Synced,
		Errors: res.Errors,
		Total:  res.Total,
	})
	s.logger.Info("Folder sync finished",
		zap.Int64("user_id", userID),
		zap.String("folder", canonicalFolder),
		zap.Int("synced", res.Synced),
		zap.Int("errors", res.Errors),
	)
	return res, nil
}

// ingest walks fetched messages in ascending sequence order, dedups them
// against the local mirror and persists the new ones. The dedup set is
// scoped to this invocation; it never leaks across calls or users.
func (s *Service) ingest(ctx context.Context, userID int64, creds Credentials, canonicalFolder string, msgs []*imapx.RawMessage) Result {
	seen := make(map[string]struct{})
	existing, err := s.store.ListGlobalIDsByFolder(ctx, userID, canonicalFolder)
	if err != nil {
		s.logger.Warn("Failed to preload local message ids", zap.Error(err))
	}
	for _, id := range existing {
		seen[id] = struct{}{}
	}

	domain := domainOf(creds.Username)

	var res Result
	for _, raw := range msgs {
		globalID := globalIDOf(raw, domain)
		if _, ok := seen[globalID]; ok {
			continue
		}

		// The same message can legitimately be visible in two mailbox
		// views; the natural key is global, not per-folder.
		exists, err := s.store.ExistsGlobal(ctx, userID, globalID)
		if err != nil {
			res.Errors++
			continue
		}
		if exists {
			seen[globalID] = struct{}{}
			continue
		}

		body, err := parseBody(raw.Body)
		if err != nil {
			res.Errors++
			s.logger.Warn("Skipping unparseable message",
				zap.Int64("user_id", userID),
				zap.Uint32("uid", raw.UID),
				zap.Error(err),
			)
			continue
		}

		msg := &model.MirroredMessage{
			UserID:          userID,
			GlobalMessageID: globalID,
			Folder:          canonicalFolder,
			UID:             raw.UID,
			From:            raw.Envelope.From,
			To:              raw.Envelope.To,
			Cc:              raw.Envelope.Cc,
			Bcc:             raw.Envelope.Bcc,
			Subject:         raw.Envelope.Subject,
			HTMLBody:        body.HTML,
			TextBody:        body.Text,
			Snippet:         model.Snippet(body.Text, raw.Envelope.Subject),
			IsRead:          hasFlag(raw.Flags, `\Seen`),
			IsStarred:       hasFlag(raw.Flags, `\Flagged`),
			HasAttachments:  len(body.Attachments) > 0,
			SentAt:          raw.Envelope.Date,
		}

		id, err := s.store.Create(ctx, msg)
		if errors.Is(err, repository.ErrDuplicate) {
			// A concurrent run inserted it first; the first writer is
			// authoritative for the immutable fields, only flags refresh.
			if existingMsg, gerr := s.store.GetByGlobalID(ctx, userID, globalID); gerr == nil {
				_ = s.store.UpdateFlags(ctx, existingMsg.ID, msg.IsRead, msg.IsStarred)
			}
			seen[globalID] = struct{}{}
			continue
		}
		if err != nil {
			res.Errors++
			s.logger.Warn("Failed to persist message",
				zap.Int64("user_id", userID),
				zap.Uint32("uid", raw.UID),
				zap.Error(err),
			)
			continue
		}

		for _, att := range body.Attachments {
			att.MessageID = id
			if _, aerr := s.store.AddAttachment(ctx, att); aerr != nil {
				// Partial attachment failure must not abort the message.
				s.logger.Warn("Failed to persist attachment",
					zap.Int64("message_id", id),
					zap.String("filename", att.Filename),
					zap.Error(aerr),
				)
			}
		}

		seen[globalID] = struct{}{}
		res.Synced++
		s.notifier.NewEmail(userID, notify.NewEmailSummary{
			MessageID: id,
			Folder:    canonicalFolder,
			From:      msg.From,
			Subject:   msg.Subject,
			Snippet:   msg.Snippet,
		})
	}

	res.Total = res.Synced + res.Errors
	return res
}

// selectWithFallback opens the folder, trying an upper-cased variant name
// when the exact name does not exist.
func (s *Service) selectWithFallback(ctx context.Context, sess imapx.Mailbox, providerName string) (uint32, error) {
	total, err := sess.Select(ctx, providerName)
	if err == nil {
		return total, nil
	}
	if !errors.Is(err, imapx.ErrFolderNotFound) {
		return 0, err
	}
	upper := strings.ToUpper(providerName)
	if upper == providerName {
		return 0, imapx.ErrFolderNotFound
	}
	return sess.Select(ctx, upper)
}

// SyncAllFolders fans SyncFolder out over the canonical folder set,
// sequentially, bounding simultaneous connections per user to one. When
// another instance is already syncing this user the call is skipped.
func (s *Service) SyncAllFolders(ctx context.Context, userID int64, creds Credentials) (Result, error) {
	if s.locker != nil {
		key := lock.SyncKey(userID)
		if !s.locker.TryAcquire(ctx, key) {
			s.logger.Warn("Sync already in progress elsewhere, skipping",
				zap.Int64("user_id", userID),
			)
			return Result{}, nil
		}
		defer s.locker.Release(ctx, key)
	}

	var res Result
	for _, canonical := range folder.Canonical {
		folderRes, err := s.SyncFolder(ctx, userID, creds, canonical, 0)
		if err != nil {
			// Contained per folder: one unreachable folder does not abort
			// the run.
			s.logger.Warn("Folder sync failed",
				zap.Int64("user_id", userID),
				zap.String("folder", canonical),
				zap.Error(err),
			)
			res.Errors++
			res.Total++
			continue
		}
		res.add(folderRes)
	}
	return res, nil
}

// CheckNewMail cheaply counts unseen INBOX messages without fetching or
// parsing anything. Used for lightweight polling.
func (s *Service) CheckNewMail(ctx context.Context, userID int64, creds Credentials) (int, error) {
	sess, err := s.connector.Connect(ctx, creds.Username, creds.Password)
	if err != nil {
		return 0, err
	}
	defer func() { _ = sess.Logout() }()

	providerName, _ := folder.ToProvider(folder.Inbox)
	if _, err := sess.Select(ctx, providerName); err != nil {
		if errors.Is(err, imapx.ErrFolderNotFound) {
			return 0, nil
		}
		return 0, err
	}

	return sess.SearchUnseen(ctx)
}

// TestConnection verifies the credentials against the remote server and
// returns a human-readable classification on failure.
func (s *Service) TestConnection(ctx context.Context, creds Credentials) error {
	sess, err := s.connector.Connect(ctx, creds.Username, creds.Password)
	if err != nil {
		return errors.New(imapx.ClassifyDialError(err))
	}
	_ = sess.Logout()
	return nil
}
