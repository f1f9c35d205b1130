package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailsuite/internal/model"
)

// In-memory store implementations. Used by tests and by deployments that
// run without a database.

// MemoryOutboxStore is an OutboxStore backed by a map and a mutex.
type MemoryOutboxStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*model.OutboxEntry
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{
		nextID:  1,
		entries: make(map[int64]*model.OutboxEntry),
	}
}

func (s *MemoryOutboxStore) Create(_ context.Context, e *model.OutboxEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	cp.ID = s.nextID
	s.nextID++
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.entries[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryOutboxStore) Get(_ context.Context, id int64) (*model.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryOutboxStore) GetPendingByIDAndUser(_ context.Context, id, userID int64) (*model.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.UserID != userID || e.Status != model.OutboxPending {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryOutboxStore) CancelPending(_ context.Context, id int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Status != model.OutboxPending || !e.SendAt.After(now) {
		return false, nil
	}
	e.Status = model.OutboxCancelled
	e.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryOutboxStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*model.OutboxEntry
	for _, e := range s.entries {
		if e.Status == model.OutboxPending && !e.SendAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SendAt.Before(due[j].SendAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*model.OutboxEntry, 0, len(due))
	for _, e := range due {
		e.Status = model.OutboxSending
		e.Attempts++
		e.UpdatedAt = time.Now()
		cp := *e
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *MemoryOutboxStore) MarkSent(_ context.Context, id, sentMessageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = model.OutboxSent
	e.SentMessageID = sentMessageID
	e.ErrorMessage = ""
	e.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryOutboxStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = model.OutboxFailed
	e.ErrorMessage = errMsg
	e.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryOutboxStore) Reschedule(_ context.Context, id int64, sendAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = model.OutboxPending
	e.SendAt = sendAt
	e.ErrorMessage = errMsg
	e.UpdatedAt = time.Now()
	return nil
}

// MemoryMessageStore is a MessageStore backed by maps and a mutex.
type MemoryMessageStore struct {
	mu          sync.Mutex
	nextID      int64
	nextAttID   int64
	messages    map[int64]*model.MirroredMessage
	attachments map[int64][]*model.Attachment
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		nextID:      1,
		nextAttID:   1,
		messages:    make(map[int64]*model.MirroredMessage),
		attachments: make(map[int64][]*model.Attachment),
	}
}

func (s *MemoryMessageStore) Create(_ context.Context, m *model.MirroredMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.messages {
		if existing.UserID == m.UserID && existing.GlobalMessageID == m.GlobalMessageID {
			return 0, ErrDuplicate
		}
	}

	cp := *m
	cp.ID = s.nextID
	s.nextID++
	cp.CreatedAt = time.Now()
	s.messages[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryMessageStore) Get(_ context.Context, id int64) (*model.MirroredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMessageStore) GetByGlobalID(_ context.Context, userID int64, globalID string) (*model.MirroredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.UserID == userID && m.GlobalMessageID == globalID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryMessageStore) ExistsGlobal(_ context.Context, userID int64, globalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.UserID == userID && m.GlobalMessageID == globalID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryMessageStore) ListGlobalIDsByFolder(_ context.Context, userID int64, folder string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, m := range s.messages {
		if m.UserID == userID && m.Folder == folder {
			ids = append(ids, m.GlobalMessageID)
		}
	}
	return ids, nil
}

func (s *MemoryMessageStore) UpdateFlags(_ context.Context, id int64, isRead, isStarred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.IsRead = isRead
	m.IsStarred = isStarred
	return nil
}

func (s *MemoryMessageStore) UpdateFolder(_ context.Context, id int64, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Folder = folder
	return nil
}

func (s *MemoryMessageStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	delete(s.attachments, id)
	return nil
}

func (s *MemoryMessageStore) AddAttachment(_ context.Context, a *model.Attachment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[a.MessageID]; !ok {
		return 0, ErrNotFound
	}
	cp := *a
	cp.ID = s.nextAttID
	s.nextAttID++
	s.attachments[cp.MessageID] = append(s.attachments[cp.MessageID], &cp)
	return cp.ID, nil
}

func (s *MemoryMessageStore) ListAttachments(_ context.Context, messageID int64) ([]*model.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	atts := s.attachments[messageID]
	out := make([]*model.Attachment, 0, len(atts))
	for _, a := range atts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// CountByUser returns the number of mirrored messages a user has; handy in
// tests asserting dedup behavior.
func (s *MemoryMessageStore) CountByUser(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.UserID == userID {
			n++
		}
	}
	return n
}

// MemoryCredentialStore is a CredentialStore backed by a map.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[int64]*model.StoredCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[int64]*model.StoredCredential)}
}

func (s *MemoryCredentialStore) Save(_ context.Context, cred *model.StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.creds[cp.UserID] = &cp
	return nil
}

func (s *MemoryCredentialStore) Get(_ context.Context, userID int64) (*model.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *MemoryCredentialStore) List(_ context.Context) ([]*model.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.StoredCredential, 0, len(s.creds))
	for _, cred := range s.creds {
		cp := *cred
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
