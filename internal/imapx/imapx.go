package imapx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"

	"mailsuite/pkg/retry"
)

// ErrFolderNotFound means the requested folder does not exist on the
// remote server.
var ErrFolderNotFound = errors.New("imap: folder not found")

// AuthError is a fatal login failure. It is never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "imap: authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Envelope holds the parsed envelope data of one remote message.
type Envelope struct {
	MessageID string
	Subject   string
	From      string
	To        []string
	Cc        []string
	Bcc       []string
	Date      time.Time
}

// RawMessage is one fetched remote message: envelope, server flags and the
// unparsed RFC 5322 body.
type RawMessage struct {
	UID      uint32
	SeqNum   uint32
	Envelope Envelope
	Flags    []string
	Body     []byte
}

// Mailbox is the session surface the sync engine depends on. The production
// implementation is *Session; tests substitute a fake.
type Mailbox interface {
	ListFolders(ctx context.Context) ([]string, error)
	Select(ctx context.Context, folder string) (total uint32, err error)
	FetchRange(ctx context.Context, from, to uint32) ([]*RawMessage, error)
	SearchHeader(ctx context.Context, name, value string) ([]uint32, error)
	SearchUnseen(ctx context.Context) (int, error)
	Move(ctx context.Context, uids []uint32, targetFolder string) error
	SetFlags(ctx context.Context, uids []uint32, flags []string, add bool) error
	Logout() error
}

// Connector establishes authenticated mailbox sessions.
type Connector interface {
	Connect(ctx context.Context, username, password string) (Mailbox, error)
}

// Dialer is the production Connector over go-imap.
type Dialer struct {
	Host             string
	Port             int
	TLS              bool
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	Retry            retry.Policy
}

// NewDialer returns a Dialer with the standard timeouts: 45s for the
// connection and greeting phase, 90s per socket operation.
func NewDialer(host string, port int, useTLS bool) *Dialer {
	return &Dialer{
		Host:             host,
		Port:             port,
		TLS:              useTLS,
		ConnectTimeout:   45 * time.Second,
		OperationTimeout: 90 * time.Second,
		Retry:            retry.Default(),
	}
}

// Connect dials, greets and logs in, retrying transient network failures.
// Login failures are fatal and returned as *AuthError. The caller owns the
// returned session and must Logout it on every exit path.
func (d *Dialer) Connect(ctx context.Context, username, password string) (Mailbox, error) {
	var sess *Session
	err := d.Retry.Do(ctx, func() error {
		s, err := d.dialAndLogin(username, password)
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (d *Dialer) dialAndLogin(username, password string) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	netDialer := &net.Dialer{Timeout: d.ConnectTimeout}

	var conn net.Conn
	var err error
	if d.TLS {
		conn, err = tls.DialWithDialer(netDialer, "tcp", addr, &tls.Config{ServerName: d.Host})
	} else {
		conn, err = netDialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap: dial %s: %w", addr, err)
	}

	if d.OperationTimeout > 0 {
		conn = &deadlineConn{Conn: conn, timeout: d.OperationTimeout}
	}

	client := imapclient.New(conn, &imapclient.Options{})

	if err := client.Login(username, password).Wait(); err != nil {
		_ = client.Close()
		return nil, &AuthError{Err: err}
	}

	return &Session{client: client, retry: d.Retry}, nil
}

// deadlineConn refreshes the read/write deadline before every socket
// operation, so a stalled command surfaces as a retryable timeout instead
// of a hang.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(b)
}

// ClassifyDialError turns a connection/login failure into the
// human-readable classification shown by "test connection" operations.
func ClassifyDialError(err error) string {
	if err == nil {
		return ""
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return "bad credentials: the mailbox rejected the username or password"
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) || strings.Contains(err.Error(), "x509") {
		return "certificate issue: the server presented an untrusted or mismatched certificate"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout: the server did not respond in time"
	}

	return "network unreachable: could not connect to the mail server"
}
