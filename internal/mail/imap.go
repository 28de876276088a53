package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"

	"github.com/nhle/mail-agent/internal/model"
)

// Client implements Transport over IMAP (reading, flag changes) and
// SMTP (sending). Each operation opens its own short-lived IMAP
// session, which keeps the agent robust against idle disconnects.
type Client struct {
	cfg model.MailConfig
}

// NewClient creates a mail client from the mailbox configuration.
func NewClient(cfg model.MailConfig) *Client {
	return &Client{cfg: cfg}
}

// connect establishes a connection to the IMAP server, authenticates,
// and selects INBOX. The caller is responsible for calling Logout on
// the returned client.
func (c *Client) connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.cfg.IMAPHost + ":" + c.cfg.IMAPPort

	var client *imapclient.Client
	var err error

	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &TransportError{
			Op:  "connect",
			Err: fmt.Errorf("connecting to IMAP %s: %w", addr, err),
		}
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &TransportError{
			Op:   "login",
			Auth: true,
			Err:  fmt.Errorf("authenticating %s: %w", c.cfg.Username, err),
		}
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &TransportError{
			Op:  "select",
			Err: fmt.Errorf("selecting INBOX: %w", err),
		}
	}

	return client, nil
}

// Verify connects, authenticates, and selects INBOX once, so startup
// can fail fast on an unreachable or misconfigured mail server.
func (c *Client) Verify(ctx context.Context) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return client.Logout().Wait()
}

// FetchUnread searches INBOX for unseen messages, skips excluded UIDs,
// and fetches up to limit full messages, oldest first. Bodies are
// fetched with BODY.PEEK so fetching never sets \Seen itself.
func (c *Client) FetchUnread(
	ctx context.Context, limit int, exclude func(uint32) bool,
) ([]model.Message, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &TransportError{
			Op:  "search",
			Err: fmt.Errorf("searching unseen messages: %w", err),
		}
	}

	uids := searchData.AllUIDs()
	if exclude != nil {
		kept := uids[:0]
		for _, uid := range uids {
			if !exclude(uint32(uid)) {
				kept = append(kept, uid)
			}
		}
		uids = kept
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	var messages []model.Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		messages = append(messages, messageFromBuffer(buf, bodySection))
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, &TransportError{
			Op:  "fetch",
			Err: fmt.Errorf("fetching messages: %w", err),
		}
	}

	return messages, nil
}

// MarkRead adds the \Seen flag to the message. IMAP flag stores are
// idempotent, so repeating this on a read message changes nothing.
func (c *Client) MarkRead(ctx context.Context, uid uint32) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return &TransportError{
			Op:  "mark_read",
			Err: fmt.Errorf("setting \\Seen on UID %d: %w", uid, err),
		}
	}
	return nil
}

// commonArchiveFolders are tried in order when no archive folder is
// configured.
var commonArchiveFolders = []string{
	"Archive", "[Gmail]/All Mail", "Archives", "INBOX.Archive",
}

// Archive moves the message to the archive mailbox, falling back to
// marking it \Deleted when no archive folder accepts it. A UID that is
// no longer present in INBOX is treated as already archived.
func (c *Client) Archive(ctx context.Context, uid uint32) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	uidSet := imap.UIDSetNum(imap.UID(uid))

	// Absent from the mailbox means a previous archive already moved
	// it; repeat dispatches must not fail.
	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		UID: []imap.UIDSet{uidSet},
	}, nil).Wait()
	if err == nil && len(searchData.AllUIDs()) == 0 {
		return nil
	}

	folders := commonArchiveFolders
	if c.cfg.ArchiveFolder != "" {
		folders = []string{c.cfg.ArchiveFolder}
	}

	for _, folder := range folders {
		if _, err := client.Move(uidSet, folder).Wait(); err == nil {
			return nil
		}
	}

	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return &TransportError{
			Op:  "archive",
			Err: fmt.Errorf("archiving UID %d: %w", uid, err),
		}
	}
	return nil
}

// messageFromBuffer builds a model.Message from a fetched buffer,
// parsing the MIME body for a plain-text rendering.
func messageFromBuffer(
	buf *imapclient.FetchMessageBuffer,
	bodySection *imap.FetchItemBodySection,
) model.Message {
	msg := model.Message{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		msg.MessageID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject
		msg.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			msg.From = buf.Envelope.From[0].Addr()
		}
		for _, to := range buf.Envelope.To {
			msg.To = append(msg.To, to.Addr())
		}
	}

	if raw := buf.FindBodySection(bodySection); raw != nil {
		text, html, headers := parseMIMEBody(raw)
		msg.Headers = headers
		msg.Body = text
		if msg.Body == "" && html != "" {
			msg.Body = stripHTML(html)
		}
	}

	return msg
}

// parseMIMEBody parses a raw RFC 5322 message using go-message and
// extracts the text/plain body, text/html body, and header mapping.
func parseMIMEBody(raw []byte) (textBody, htmlBody string, headers map[string]string) {
	reader := bytes.NewReader(raw)

	mr, err := gomail.CreateReader(reader)
	if err != nil {
		// Unparseable MIME; treat the payload as plain text.
		return string(raw), "", nil
	}
	defer mr.Close()

	headers = make(map[string]string)
	fields := mr.Header.Fields()
	for fields.Next() {
		if _, ok := headers[fields.Key()]; !ok {
			value, err := fields.Text()
			if err != nil {
				continue
			}
			headers[fields.Key()] = value
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := inline.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			if textBody == "" {
				textBody = string(body)
			}
		case strings.HasPrefix(contentType, "text/html"):
			if htmlBody == "" {
				htmlBody = string(body)
			}
		}
	}

	return textBody, htmlBody, headers
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags and decodes common entities, providing a
// basic plain-text rendering for HTML-only messages.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}

// messageDate formats a time for the Date header of outgoing mail.
func messageDate(t time.Time) string {
	return t.Format(time.RFC1123Z)
}
