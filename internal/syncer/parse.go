package syncer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"mailsuite/internal/imapx"
	"mailsuite/internal/model"
)

// parsedBody is the MIME content extracted from one raw message.
type parsedBody struct {
	Text        string
	HTML        string
	Attachments []*model.Attachment
}

// parseBody parses a raw RFC 5322 body with go-message, extracting the
// text/plain part, the text/html part and attachment metadata. A body that
// cannot be opened as a message at all is a parse failure; unreadable
// individual parts are skipped.
func parseBody(raw []byte) (*parsedBody, error) {
	if len(raw) == 0 {
		return &parsedBody{}, nil
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("syncer: parse message: %w", err)
	}
	defer mr.Close()

	var body parsedBody
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			content, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				body.Text = string(content)
			case strings.HasPrefix(contentType, "text/html"):
				body.HTML = string(content)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			content, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			body.Attachments = append(body.Attachments, &model.Attachment{
				Filename:   filename,
				MimeType:   contentType,
				Size:       int64(len(content)),
				ContentRef: uuid.NewString(),
			})
		}
	}

	return &body, nil
}

// globalIDOf derives the dedup key for a raw message: its own Message-ID
// header when present, otherwise an id synthesized from the server-assigned
// UID and the account's domain.
func globalIDOf(raw *imapx.RawMessage, domain string) string {
	if id := strings.Trim(raw.Envelope.MessageID, "<>"); id != "" {
		return id
	}
	return fmt.Sprintf("%d@%s", raw.UID, domain)
}

// domainOf extracts the domain part of the account address, defaulting to
// localhost for bare usernames.
func domainOf(username string) string {
	if idx := strings.Index(username, "@"); idx >= 0 && idx+1 < len(username) {
		return username[idx+1:]
	}
	return "localhost"
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}
