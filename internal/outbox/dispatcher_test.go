package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsuite/internal/folder"
	"mailsuite/internal/model"
	"mailsuite/internal/notify"
	"mailsuite/internal/repository"
	"mailsuite/internal/smtpx"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []*smtpx.Outgoing
	err   error
}

func (f *fakeSender) Send(_ context.Context, msg *smtpx.Outgoing) (*smtpx.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	if f.err != nil {
		return nil, f.err
	}
	return &smtpx.SendResult{
		TransportMessageID: fmt.Sprintf("<sent-%d@example.com>", len(f.calls)),
		Accepted:           msg.To,
	}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func queueEntry(t *testing.T, store repository.OutboxStore, sendAt time.Time) int64 {
	t.Helper()
	id, err := store.Create(context.Background(), &model.OutboxEntry{
		UserID:   1,
		From:     "alice@example.com",
		To:       []string{"bob@example.com"},
		Subject:  "hello",
		TextBody: "hello there",
		SendAt:   sendAt,
		Status:   model.OutboxPending,
	})
	require.NoError(t, err)
	return id
}

func TestProcessDueTransmitsAndMirrors(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	messages := repository.NewMemoryMessageStore()
	sender := &fakeSender{}
	d := NewDispatcher(store, messages, sender, notify.NopNotifier{}, zap.NewNop())

	now := time.Now()
	id := queueEntry(t, store, now.Add(-time.Second))

	d.ProcessDue(context.Background(), now)

	entry, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, 1, sender.callCount())

	mirror, err := messages.Get(context.Background(), entry.SentMessageID)
	require.NoError(t, err)
	assert.Equal(t, folder.Sent, mirror.Folder)
	assert.Equal(t, "sent-1@example.com", mirror.GlobalMessageID)
	assert.Equal(t, "hello", mirror.Subject)
	assert.True(t, mirror.IsRead)
	assert.Equal(t, "hello there", mirror.Snippet)
}

func TestProcessDueSkipsFutureEntries(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	sender := &fakeSender{}
	d := NewDispatcher(store, repository.NewMemoryMessageStore(), sender, notify.NopNotifier{}, zap.NewNop())

	now := time.Now()
	id := queueEntry(t, store, now.Add(10*time.Second))

	d.ProcessDue(context.Background(), now)

	entry, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxPending, entry.Status)
	assert.Zero(t, sender.callCount())
}

func TestProcessDueSendsAfterUndoWindowExpires(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	svc := newTestService(store, 10*time.Second)
	sender := &fakeSender{}
	d := NewDispatcher(store, repository.NewMemoryMessageStore(), sender, notify.NopNotifier{}, zap.NewNop())

	q, err := svc.Queue(context.Background(), QueueParams{
		UserID: 1,
		From:   "alice@example.com",
		To:     []string{"bob@example.com"},
	})
	require.NoError(t, err)
	require.True(t, q.CanUndo)

	// Still inside the window: nothing happens.
	d.ProcessDue(context.Background(), q.SendAt.Add(-time.Second))
	assert.Zero(t, sender.callCount())

	// One second past the window the entry goes out.
	d.ProcessDue(context.Background(), q.SendAt.Add(time.Second))
	assert.Equal(t, 1, sender.callCount())

	entry, err := store.Get(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, entry.Status)
}

func TestProcessDueRetriesThenFails(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	sender := &fakeSender{err: errors.New("dial tcp: connection refused")}
	d := NewDispatcher(store, repository.NewMemoryMessageStore(), sender, notify.NopNotifier{}, zap.NewNop()).
		WithMaxAttempts(3).
		WithRetryDelay(30 * time.Second)

	t0 := time.Now()
	id := queueEntry(t, store, t0)

	d.ProcessDue(context.Background(), t0)
	entry, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxPending, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.WithinDuration(t, t0.Add(30*time.Second), entry.SendAt, time.Millisecond)

	// Before the retry delay elapses the entry is invisible.
	d.ProcessDue(context.Background(), t0.Add(10*time.Second))
	assert.Equal(t, 1, sender.callCount())

	d.ProcessDue(context.Background(), t0.Add(30*time.Second))
	d.ProcessDue(context.Background(), t0.Add(60*time.Second))

	entry, err = store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxFailed, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
	assert.Contains(t, entry.ErrorMessage, "connection refused")
	assert.Equal(t, 3, sender.callCount())

	// A terminal entry is never picked up again.
	d.ProcessDue(context.Background(), t0.Add(time.Hour))
	assert.Equal(t, 3, sender.callCount())
}

func TestProcessDueRecoversAfterTransientFailure(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	sender := &fakeSender{err: errors.New("write tcp: broken pipe")}
	d := NewDispatcher(store, repository.NewMemoryMessageStore(), sender, notify.NopNotifier{}, zap.NewNop()).
		WithRetryDelay(30 * time.Second)

	t0 := time.Now()
	id := queueEntry(t, store, t0)

	d.ProcessDue(context.Background(), t0)

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	d.ProcessDue(context.Background(), t0.Add(30*time.Second))

	entry, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
	assert.Empty(t, entry.ErrorMessage)
}

func TestProcessDueHonorsBatchSizeAndOrder(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	sender := &fakeSender{}
	d := NewDispatcher(store, repository.NewMemoryMessageStore(), sender, notify.NopNotifier{}, zap.NewNop()).
		WithBatchSize(2)

	now := time.Now()
	late := queueEntry(t, store, now.Add(-time.Second))
	earliest := queueEntry(t, store, now.Add(-3*time.Second))
	middle := queueEntry(t, store, now.Add(-2*time.Second))

	d.ProcessDue(context.Background(), now)

	// Oldest send times go first; the third entry waits for the next tick.
	assert.Equal(t, 2, sender.callCount())
	for _, id := range []int64{earliest, middle} {
		entry, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.OutboxSent, entry.Status)
	}
	entry, err := store.Get(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxPending, entry.Status)

	d.ProcessDue(context.Background(), now)
	assert.Equal(t, 3, sender.callCount())
}

func TestConcurrentDispatchersNeverDoubleSend(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	messages := repository.NewMemoryMessageStore()
	sender := &fakeSender{}

	now := time.Now()
	for i := 0; i < 5; i++ {
		queueEntry(t, store, now.Add(-time.Second))
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		d := NewDispatcher(store, messages, sender, notify.NopNotifier{}, zap.NewNop())
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ProcessDue(context.Background(), now)
		}()
	}
	wg.Wait()

	// The conditional claim hands each entry to exactly one dispatcher.
	assert.Equal(t, 5, sender.callCount())
}

// flakyMessageStore fails the first n inserts.
type flakyMessageStore struct {
	*repository.MemoryMessageStore
	failures int
}

func (s *flakyMessageStore) Create(ctx context.Context, m *model.MirroredMessage) (int64, error) {
	if s.failures > 0 {
		s.failures--
		return 0, errors.New("insert failed: connection reset by peer")
	}
	return s.MemoryMessageStore.Create(ctx, m)
}

func TestDispatchRetriesSentMirrorWrite(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	messages := &flakyMessageStore{MemoryMessageStore: repository.NewMemoryMessageStore(), failures: 2}
	sender := &fakeSender{}
	d := NewDispatcher(store, messages, sender, notify.NopNotifier{}, zap.NewNop())

	now := time.Now()
	id := queueEntry(t, store, now.Add(-time.Second))

	d.ProcessDue(context.Background(), now)

	entry, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, entry.Status)
	assert.NotZero(t, entry.SentMessageID)
	assert.Equal(t, 1, sender.callCount())

	mirror, err := messages.Get(context.Background(), entry.SentMessageID)
	require.NoError(t, err)
	assert.Equal(t, folder.Sent, mirror.Folder)
}

func TestDispatchResolvesMirrorRaceToExistingRow(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	messages := repository.NewMemoryMessageStore()
	sender := &fakeSender{}
	d := NewDispatcher(store, messages, sender, notify.NopNotifier{}, zap.NewNop())

	// A concurrent writer already mirrored the transmitted message.
	existingID, err := messages.Create(context.Background(), &model.MirroredMessage{
		UserID:          1,
		GlobalMessageID: "sent-1@example.com",
		Folder:          folder.Sent,
	})
	require.NoError(t, err)

	now := time.Now()
	id := queueEntry(t, store, now.Add(-time.Second))

	d.ProcessDue(context.Background(), now)

	entry, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, entry.Status)
	assert.Equal(t, existingID, entry.SentMessageID)
	assert.Equal(t, 1, messages.CountByUser(1))
}

func TestCancelledEntryIsNeverDispatched(t *testing.T) {
	store := repository.NewMemoryOutboxStore()
	svc := newTestService(store, time.Minute)
	sender := &fakeSender{}
	d := NewDispatcher(store, repository.NewMemoryMessageStore(), sender, notify.NopNotifier{}, zap.NewNop())

	q, err := svc.Queue(context.Background(), QueueParams{
		UserID: 1,
		From:   "alice@example.com",
		To:     []string{"bob@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), q.ID, 1))

	d.ProcessDue(context.Background(), q.SendAt.Add(time.Hour))
	assert.Zero(t, sender.callCount())
}
