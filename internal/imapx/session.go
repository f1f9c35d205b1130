package imapx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"mailsuite/pkg/retry"
)

// Session is one authenticated IMAP connection. Sessions are never pooled
// or shared between concurrent callers; every public operation of the
// higher layers acquires, uses and logs out its own session.
type Session struct {
	client *imapclient.Client
	retry  retry.Policy
}

// ListFolders returns the provider names of all folders.
func (s *Session) ListFolders(ctx context.Context) ([]string, error) {
	var names []string
	err := s.retry.Do(ctx, func() error {
		mailboxes, err := s.client.List("", "*", &imap.ListOptions{}).Collect()
		if err != nil {
			return fmt.Errorf("imap: list folders: %w", err)
		}
		names = names[:0]
		for _, mb := range mailboxes {
			names = append(names, mb.Mailbox)
		}
		return nil
	})
	return names, err
}

// Select opens a folder and returns its message count.
// A missing folder is reported as ErrFolderNotFound, not retried.
func (s *Session) Select(_ context.Context, folder string) (uint32, error) {
	data, err := s.client.Select(folder, nil).Wait()
	if err != nil {
		if isFolderNotFound(err) {
			return 0, ErrFolderNotFound
		}
		return 0, fmt.Errorf("imap: select %s: %w", folder, err)
	}
	return data.NumMessages, nil
}

// isFolderNotFound recognizes a missing-folder SELECT rejection. The RFC
// 5530 response code is authoritative; the text heuristic covers servers
// that send no code at all.
func isFolderNotFound(err error) bool {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case imap.ResponseCodeNonExistent, imap.ResponseCodeTryCreate:
			return true
		}
	}

	text := strings.ToLower(err.Error())
	return strings.Contains(text, "nonexistent") ||
		strings.Contains(text, "no such") ||
		strings.Contains(text, "doesn't exist") ||
		strings.Contains(text, "not found")
}

// FetchRange fetches messages by sequence number, inclusive, in ascending
// order, with envelope, flags, UID and a peeked body section.
func (s *Session) FetchRange(ctx context.Context, from, to uint32) ([]*RawMessage, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	seqSet := imap.SeqSet{}
	seqSet.AddRange(from, to)

	var out []*RawMessage
	err := s.retry.Do(ctx, func() error {
		bufs, err := s.client.Fetch(seqSet, opts).Collect()
		if err != nil {
			return fmt.Errorf("imap: fetch %d:%d: %w", from, to, err)
		}
		out = out[:0]
		for _, buf := range bufs {
			msg := rawFromBuffer(buf)
			msg.Body = buf.FindBodySection(bodySection)
			out = append(out, msg)
		}
		return nil
	})
	return out, err
}

// SearchHeader returns the UIDs of messages whose header field matches the
// given value exactly.
func (s *Session) SearchHeader(ctx context.Context, name, value string) ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: name, Value: value}},
	}

	var uids []uint32
	err := s.retry.Do(ctx, func() error {
		data, err := s.client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("imap: search header %s: %w", name, err)
		}
		uids = uids[:0]
		for _, uid := range data.AllUIDs() {
			uids = append(uids, uint32(uid))
		}
		return nil
	})
	return uids, err
}

// SearchUnseen counts messages without the \Seen flag in the open folder.
func (s *Session) SearchUnseen(ctx context.Context) (int, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	var count int
	err := s.retry.Do(ctx, func() error {
		data, err := s.client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("imap: search unseen: %w", err)
		}
		count = len(data.AllUIDs())
		return nil
	})
	return count, err
}

// Move moves messages to another folder by UID.
func (s *Session) Move(ctx context.Context, uids []uint32, targetFolder string) error {
	if len(uids) == 0 {
		return nil
	}
	uidSet := toUIDSet(uids)
	return s.retry.Do(ctx, func() error {
		if _, err := s.client.Move(uidSet, targetFolder).Wait(); err != nil {
			return fmt.Errorf("imap: move to %s: %w", targetFolder, err)
		}
		return nil
	})
}

// SetFlags adds or removes flags on messages by UID.
func (s *Session) SetFlags(ctx context.Context, uids []uint32, flags []string, add bool) error {
	if len(uids) == 0 {
		return nil
	}

	imapFlags := make([]imap.Flag, 0, len(flags))
	for _, f := range flags {
		imapFlags = append(imapFlags, imap.Flag(f))
	}

	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}

	uidSet := toUIDSet(uids)
	return s.retry.Do(ctx, func() error {
		_, err := s.client.Store(uidSet, &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  imapFlags,
		}, nil).Collect()
		if err != nil {
			return fmt.Errorf("imap: store flags: %w", err)
		}
		return nil
	})
}

// Logout ends the session. Safe to call on every exit path.
func (s *Session) Logout() error {
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()
		return fmt.Errorf("imap: logout: %w", err)
	}
	return nil
}

func toUIDSet(uids []uint32) imap.UIDSet {
	imapUIDs := make([]imap.UID, 0, len(uids))
	for _, uid := range uids {
		imapUIDs = append(imapUIDs, imap.UID(uid))
	}
	return imap.UIDSetNum(imapUIDs...)
}

func rawFromBuffer(buf *imapclient.FetchMessageBuffer) *RawMessage {
	msg := &RawMessage{
		UID:    uint32(buf.UID),
		SeqNum: buf.SeqNum,
	}

	if env := buf.Envelope; env != nil {
		msg.Envelope.MessageID = env.MessageID
		msg.Envelope.Subject = env.Subject
		msg.Envelope.Date = env.Date
		if len(env.From) > 0 {
			msg.Envelope.From = env.From[0].Addr()
		}
		msg.Envelope.To = addrStrings(env.To)
		msg.Envelope.Cc = addrStrings(env.Cc)
		msg.Envelope.Bcc = addrStrings(env.Bcc)
	}

	for _, f := range buf.Flags {
		msg.Flags = append(msg.Flags, string(f))
	}

	return msg
}

func addrStrings(addrs []imap.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr())
	}
	return out
}
