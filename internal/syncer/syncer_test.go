package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsuite/internal/folder"
	"mailsuite/internal/imapx"
	"mailsuite/internal/model"
	"mailsuite/internal/notify"
	"mailsuite/internal/repository"
)

type flagOp struct {
	uids  []uint32
	flags []string
	add   bool
}

type moveOp struct {
	uids   []uint32
	target string
}

// fakeMailbox implements imapx.Mailbox over in-memory folders keyed by
// provider name.
type fakeMailbox struct {
	mu        sync.Mutex
	folders   map[string][]*imapx.RawMessage
	unseen    int
	selected  string
	fetched   [][2]uint32
	flagOps   []flagOp
	moves     []moveOp
	loggedOut bool
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{folders: make(map[string][]*imapx.RawMessage)}
}

func (f *fakeMailbox) ListFolders(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.folders))
	for name := range f.folders {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeMailbox) Select(_ context.Context, name string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.folders[name]
	if !ok {
		return 0, imapx.ErrFolderNotFound
	}
	f.selected = name
	return uint32(len(msgs)), nil
}

func (f *fakeMailbox) FetchRange(_ context.Context, from, to uint32) ([]*imapx.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, [2]uint32{from, to})
	msgs := f.folders[f.selected]
	if from < 1 || to > uint32(len(msgs)) {
		return nil, fmt.Errorf("fetch range %d:%d out of bounds", from, to)
	}
	return msgs[from-1 : to], nil
}

func (f *fakeMailbox) SearchHeader(_ context.Context, _, value string) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var uids []uint32
	for _, m := range f.folders[f.selected] {
		if strings.Trim(m.Envelope.MessageID, "<>") == value {
			uids = append(uids, m.UID)
		}
	}
	return uids, nil
}

func (f *fakeMailbox) SearchUnseen(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unseen, nil
}

func (f *fakeMailbox) Move(_ context.Context, uids []uint32, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, moveOp{uids: uids, target: target})

	kept := f.folders[f.selected][:0]
	for _, m := range f.folders[f.selected] {
		moved := false
		for _, uid := range uids {
			if m.UID == uid {
				moved = true
				break
			}
		}
		if moved {
			f.folders[target] = append(f.folders[target], m)
		} else {
			kept = append(kept, m)
		}
	}
	f.folders[f.selected] = kept
	return nil
}

func (f *fakeMailbox) SetFlags(_ context.Context, uids []uint32, flags []string, add bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagOps = append(f.flagOps, flagOp{uids: uids, flags: flags, add: add})
	return nil
}

func (f *fakeMailbox) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

type fakeConnector struct {
	mbox     *fakeMailbox
	err      error
	connects int
}

func (c *fakeConnector) Connect(_ context.Context, _, _ string) (imapx.Mailbox, error) {
	c.connects++
	if c.err != nil {
		return nil, c.err
	}
	return c.mbox, nil
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func plainBody(text string) []byte {
	return []byte(crlf("Content-Type: text/plain; charset=utf-8\n\n" + text))
}

func attachmentBody(text, filename string) []byte {
	return []byte(crlf(`Content-Type: multipart/mixed; boundary=frontier

--frontier
Content-Type: text/plain; charset=utf-8

` + text + `
--frontier
Content-Type: application/pdf
Content-Disposition: attachment; filename="` + filename + `"

%PDF-1.4 payload
--frontier--
`))
}

func rawMsg(uid uint32, messageID, subject string, flags []string, body []byte) *imapx.RawMessage {
	return &imapx.RawMessage{
		UID:    uid,
		SeqNum: uid,
		Envelope: imapx.Envelope{
			MessageID: messageID,
			Subject:   subject,
			From:      "sender@example.org",
			To:        []string{"user@example.com"},
			Date:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		},
		Flags: flags,
		Body:  body,
	}
}

func inboxMessages(n int) []*imapx.RawMessage {
	msgs := make([]*imapx.RawMessage, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, rawMsg(
			uint32(i),
			fmt.Sprintf("<msg-%d@example.org>", i),
			fmt.Sprintf("subject %d", i),
			nil,
			plainBody(fmt.Sprintf("body %d", i)),
		))
	}
	return msgs
}

var testCreds = Credentials{Username: "user@example.com", Password: "pw"}

func newTestSyncer(conn imapx.Connector, store repository.MessageStore) *Service {
	return NewService(conn, store, notify.NopNotifier{}, zap.NewNop())
}

func TestSyncFolderMirrorsNewMessages(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = inboxMessages(5)
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	res, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 5, Errors: 0, Total: 5}, res)
	assert.True(t, mbox.loggedOut)

	m, err := store.GetByGlobalID(context.Background(), 1, "msg-3@example.org")
	require.NoError(t, err)
	assert.Equal(t, folder.Inbox, m.Folder)
	assert.Equal(t, "subject 3", m.Subject)
	assert.Equal(t, "body 3", m.TextBody)
	assert.Equal(t, "body 3", m.Snippet)
	assert.Equal(t, "sender@example.org", m.From)
	assert.False(t, m.IsRead)
	assert.False(t, m.HasAttachments)
}

func TestSyncFolderIsIdempotent(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = inboxMessages(5)
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	first, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 5, Errors: 0, Total: 5}, first)

	second, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{}, second)
	assert.Equal(t, 5, store.CountByUser(1))
}

func TestSyncFolderFetchesBoundedWindow(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = inboxMessages(10)
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	res, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 3)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 3, Errors: 0, Total: 3}, res)

	// Only the newest 3 sequence numbers are fetched.
	require.Len(t, mbox.fetched, 1)
	assert.Equal(t, [2]uint32{8, 10}, mbox.fetched[0])
}

func TestSyncFolderMissingRemoteFolder(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = inboxMessages(2)
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, repository.NewMemoryMessageStore())

	res, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Drafts, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.True(t, mbox.loggedOut)
}

func TestSyncFolderUppercaseFallback(t *testing.T) {
	mbox := newFakeMailbox()
	// The provider exposes SENT instead of the usual Sent.
	mbox.folders["SENT"] = inboxMessages(2)
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	res, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Sent, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 2, Errors: 0, Total: 2}, res)

	m, err := store.GetByGlobalID(context.Background(), 1, "msg-1@example.org")
	require.NoError(t, err)
	assert.Equal(t, folder.Sent, m.Folder)
}

func TestSyncFolderCountsParseFailuresWithoutAborting(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = []*imapx.RawMessage{
		rawMsg(1, "<ok-1@example.org>", "fine", nil, plainBody("one")),
		rawMsg(2, "<broken@example.org>", "broken", nil, []byte("this is not a header\r\n\r\nbody")),
		rawMsg(3, "<ok-2@example.org>", "fine too", nil, plainBody("three")),
	}
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	res, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 2, Errors: 1, Total: 3}, res)
	assert.Equal(t, 2, store.CountByUser(1))

	// The failed message was not persisted, so the next run tries it again.
	res, err = svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 0, Errors: 1, Total: 1}, res)
}

func TestSyncFolderReadsFlagsAndAttachments(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = []*imapx.RawMessage{
		rawMsg(1, "<starred@example.org>", "starred", []string{`\Seen`, `\Flagged`}, plainBody("x")),
		rawMsg(2, "<report@example.org>", "report", nil, attachmentBody("see attached", "report.pdf")),
	}
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	_, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)

	starred, err := store.GetByGlobalID(context.Background(), 1, "starred@example.org")
	require.NoError(t, err)
	assert.True(t, starred.IsRead)
	assert.True(t, starred.IsStarred)

	report, err := store.GetByGlobalID(context.Background(), 1, "report@example.org")
	require.NoError(t, err)
	assert.True(t, report.HasAttachments)

	atts, err := store.ListAttachments(context.Background(), report.ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "report.pdf", atts[0].Filename)
	assert.Equal(t, "application/pdf", atts[0].MimeType)
	assert.NotEmpty(t, atts[0].ContentRef)
}

func TestSyncFolderSynthesizesGlobalIDWithoutHeader(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = []*imapx.RawMessage{
		rawMsg(7, "", "no message id", nil, plainBody("anonymous")),
	}
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	_, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)

	_, err = store.GetByGlobalID(context.Background(), 1, "7@example.com")
	assert.NoError(t, err)
}

func TestSyncFolderDedupsAcrossFolders(t *testing.T) {
	shared := rawMsg(1, "<shared@example.org>", "shared", nil, plainBody("shared"))
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = []*imapx.RawMessage{shared}
	mbox.folders["Archive"] = []*imapx.RawMessage{shared}
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	res, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 1, Errors: 0, Total: 1}, res)

	// The archive view of the same message is recognized and skipped.
	res, err = svc.SyncFolder(context.Background(), 1, testCreds, folder.Archive, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	m, err := store.GetByGlobalID(context.Background(), 1, "shared@example.org")
	require.NoError(t, err)
	assert.Equal(t, folder.Inbox, m.Folder)
}

// racingStore makes every existence lookup miss, forcing the insert conflict
// path a concurrent sync run would produce.
type racingStore struct {
	*repository.MemoryMessageStore
}

func (r *racingStore) ExistsGlobal(context.Context, int64, string) (bool, error) {
	return false, nil
}

func TestSyncFolderRefreshesFlagsOnInsertConflict(t *testing.T) {
	store := repository.NewMemoryMessageStore()
	_, err := store.Create(context.Background(), &model.MirroredMessage{
		UserID:          1,
		GlobalMessageID: "dup@example.org",
		Folder:          folder.Archive,
		Subject:         "original",
	})
	require.NoError(t, err)

	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = []*imapx.RawMessage{
		rawMsg(1, "<dup@example.org>", "changed subject", []string{`\Seen`}, plainBody("x")),
	}
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, &racingStore{store})

	res, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	// The first writer keeps the immutable fields; only flags refresh.
	m, err := store.GetByGlobalID(context.Background(), 1, "dup@example.org")
	require.NoError(t, err)
	assert.Equal(t, "original", m.Subject)
	assert.Equal(t, folder.Archive, m.Folder)
	assert.True(t, m.IsRead)
}

func TestSyncAllFoldersAggregates(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = inboxMessages(2)
	mbox.folders["Sent"] = []*imapx.RawMessage{
		rawMsg(1, "<sent-1@example.org>", "sent one", []string{`\Seen`}, plainBody("sent")),
	}
	store := repository.NewMemoryMessageStore()
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, store)

	res, err := svc.SyncAllFolders(context.Background(), 1, testCreds)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 3, Errors: 0, Total: 3}, res)
	assert.Equal(t, 3, store.CountByUser(1))
}

func TestCheckNewMail(t *testing.T) {
	mbox := newFakeMailbox()
	mbox.folders["INBOX"] = inboxMessages(4)
	mbox.unseen = 2
	svc := newTestSyncer(&fakeConnector{mbox: mbox}, repository.NewMemoryMessageStore())

	n, err := svc.CheckNewMail(context.Background(), 1, testCreds)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mbox.loggedOut)
}

func TestConnectionErrorIsClassified(t *testing.T) {
	conn := &fakeConnector{err: &imapx.AuthError{Err: errors.New("LOGIN failed")}}
	svc := newTestSyncer(conn, repository.NewMemoryMessageStore())

	err := svc.TestConnection(context.Background(), testCreds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")

	res, err := svc.SyncFolder(context.Background(), 1, testCreds, folder.Inbox, 50)
	require.Error(t, err)
	assert.Equal(t, Result{}, res)
}
