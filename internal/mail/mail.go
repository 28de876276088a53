package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mail-agent/internal/model"
)

// TransportError indicates a mailbox connection, authentication, or
// protocol failure. The agent loop retries these with backoff rather
// than terminating.
type TransportError struct {
	Op   string
	Auth bool
	Err  error
}

func (e *TransportError) Error() string {
	if e.Auth {
		return fmt.Sprintf("transport auth error (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport error (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err (or any error in its chain) is
// a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAuthError reports whether err is a TransportError caused by failed
// authentication.
func IsAuthError(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Auth
}

// OutgoingMessage is a message to be sent through the transport.
type OutgoingMessage struct {
	To      string
	Subject string
	Body    string

	// InReplyTo is the Message-ID being replied to; when set, the
	// composed message carries In-Reply-To and References headers so
	// clients thread it correctly.
	InReplyTo string
}

// Transport is the mailbox capability the agent depends on. One
// implementation exists per mail provider; the IMAP/SMTP variant is
// constructed from configuration at startup.
type Transport interface {
	// FetchUnread returns up to limit unread messages, oldest first,
	// skipping any UID for which exclude returns true.
	FetchUnread(ctx context.Context, limit int, exclude func(uint32) bool) ([]model.Message, error)

	// MarkRead sets the \Seen flag. Marking an already-read message is
	// a no-op.
	MarkRead(ctx context.Context, uid uint32) error

	// Archive moves the message out of the inbox. Archiving a message
	// that is already gone from the inbox is a no-op.
	Archive(ctx context.Context, uid uint32) error

	// Send submits an outgoing message.
	Send(ctx context.Context, out OutgoingMessage) error
}
