package model

import "time"

// MirroredMessage is the local copy of one logical remote email.
// GlobalMessageID is unique across all folders and users and is the
// dedup key for sync.
type MirroredMessage struct {
	ID              int64
	UserID          int64
	GlobalMessageID string
	Folder          string
	UID             uint32
	From            string
	To              []string
	Cc              []string
	Bcc             []string
	Subject         string
	HTMLBody        string
	TextBody        string
	Snippet         string
	IsRead          bool
	IsStarred       bool
	HasAttachments  bool
	SentAt          time.Time
	CreatedAt       time.Time
}

// Attachment is owned by its MirroredMessage and deleted with it.
type Attachment struct {
	ID         int64
	MessageID  int64
	Filename   string
	MimeType   string
	Size       int64
	ContentRef string
}

// StoredCredential holds a user's mailbox account encrypted at rest. The
// secret is decrypted on demand and never cached in plaintext beyond a
// single operation.
type StoredCredential struct {
	UserID    int64
	Address   string
	Encrypted string
}
