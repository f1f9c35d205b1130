package smtpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"mailsuite/config"
	"mailsuite/pkg/metrics"
)

// ErrNoRecipients is returned before any transport attempt when the
// combined To/Cc/Bcc list is empty.
var ErrNoRecipients = errors.New("smtp: no recipients")

// Outgoing is a composed message handed to the transmission client.
type Outgoing struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	HTMLBody string
	TextBody string
}

// SendResult reports the transport outcome per recipient.
type SendResult struct {
	TransportMessageID string
	Accepted           []string
	Rejected           []string
}

// Client transmits composed messages over SMTP. With no host configured it
// simulates success deterministically so the rest of the pipeline works
// without live infrastructure.
type Client struct {
	cfg config.SMTPConfig
}

func NewClient(cfg config.SMTPConfig) *Client {
	return &Client{cfg: cfg}
}

// Send validates, sanitizes and transmits the message, reporting
// per-recipient accept/reject.
func (c *Client) Send(ctx context.Context, msg *Outgoing) (*SendResult, error) {
	recipients := allRecipients(msg)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	msg.HTMLBody = SanitizeHTML(msg.HTMLBody)

	if c.cfg.Host == "" {
		return &SendResult{
			TransportMessageID: generateMessageID(msg.From),
			Accepted:           recipients,
		}, nil
	}

	start := time.Now()
	result, err := c.transmit(msg, recipients)
	if err != nil {
		metrics.RecordTransmit("error", time.Since(start))
		return nil, err
	}
	metrics.RecordTransmit("ok", time.Since(start))
	return result, nil
}

func (c *Client) transmit(msg *Outgoing, recipients []string) (*SendResult, error) {
	client, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	messageID := generateMessageID(msg.From)
	body, err := buildMessage(msg, messageID)
	if err != nil {
		return nil, fmt.Errorf("smtp: build message: %w", err)
	}

	if err := client.Mail(msg.From, nil); err != nil {
		return nil, fmt.Errorf("smtp: MAIL FROM rejected: %w", err)
	}

	result := &SendResult{TransportMessageID: messageID}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt, nil); err != nil {
			result.Rejected = append(result.Rejected, rcpt)
			continue
		}
		result.Accepted = append(result.Accepted, rcpt)
	}
	if len(result.Accepted) == 0 {
		return nil, fmt.Errorf("smtp: all %d recipients rejected", len(result.Rejected))
	}

	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("smtp: DATA: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("smtp: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("smtp: close body: %w", err)
	}

	_ = client.Quit()
	return result, nil
}

func (c *Client) dial() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	tlsCfg := &tls.Config{ServerName: c.cfg.Host}

	var client *smtp.Client
	var err error
	if c.cfg.SSL {
		client, err = smtp.DialTLS(addr, tlsCfg)
	} else {
		client, err = smtp.DialStartTLS(addr, tlsCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp: dial %s: %w", addr, err)
	}

	if c.cfg.Password != "" {
		auth := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp: authentication failed: %w", err)
		}
	}

	return client, nil
}

func buildMessage(msg *Outgoing, messageID string) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(msg.Subject)
	header.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	if len(msg.To) > 0 {
		header.SetAddressList("To", toAddressList(msg.To))
	}
	if len(msg.Cc) > 0 {
		header.SetAddressList("Cc", toAddressList(msg.Cc))
	}
	header.Set("Message-ID", messageID)

	iw, err := mail.CreateInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}

	if msg.TextBody != "" {
		var h mail.InlineHeader
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(msg.TextBody)); err != nil {
			return nil, err
		}
		w.Close()
	}

	if msg.HTMLBody != "" {
		var h mail.InlineHeader
		h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(msg.HTMLBody)); err != nil {
			return nil, err
		}
		w.Close()
	}

	if err := iw.Close(); err != nil {
		return nil, err
	}

	return &buf, nil
}

func toAddressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}

func allRecipients(msg *Outgoing) []string {
	out := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	for _, group := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, addr := range group {
			if strings.TrimSpace(addr) != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// generateMessageID produces an RFC 5322 Message-ID using the domain of the
// sender address.
func generateMessageID(from string) string {
	domain := "localhost"
	if idx := strings.Index(from, "@"); idx >= 0 && idx+1 < len(from) {
		domain = from[idx+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
