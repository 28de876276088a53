package model

import "time"

// Message is a single mail message fetched from the mailbox. It is
// immutable once fetched; the agent loop owns it for the duration of
// one processing cycle.
type Message struct {
	// UID is the IMAP UID of the message, unique within the mailbox.
	UID uint32 `json:"uid"`

	// MessageID is the RFC 5322 Message-ID header, when present.
	MessageID string `json:"message_id"`

	// From is the sender address (addr-spec, no display name).
	From string `json:"from"`

	// To holds the recipient addresses.
	To []string `json:"to"`

	// Subject is the decoded subject line.
	Subject string `json:"subject"`

	// Body is the plain-text body. When a message carries only an HTML
	// part, Body holds a stripped plain-text rendering of it.
	Body string `json:"body"`

	// Date is when the message was received.
	Date time.Time `json:"date"`

	// Headers holds the raw header values keyed by canonical name.
	Headers map[string]string `json:"headers,omitempty"`
}

// SenderDomain returns the domain part of the sender address, or an
// empty string when the address carries no domain.
func (m Message) SenderDomain() string {
	for i := len(m.From) - 1; i >= 0; i-- {
		if m.From[i] == '@' {
			return m.From[i+1:]
		}
	}
	return ""
}
