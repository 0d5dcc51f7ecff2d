package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"admin-activead/internal/cfg"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// Message is an HR e-mail reduced to what the parser needs.
type Message struct {
	UID       uint32
	MessageID string
	Subject   string
	Body      string
}

// Mailbox is one open session on the HR folder.
type Mailbox interface {
	FetchUnseen(ctx context.Context) ([]Message, error)
	MarkSeen(ctx context.Context, uids []uint32) error
	Close() error
}

// Dialer opens a new mailbox session.
type Dialer func(ctx context.Context) (Mailbox, error)

type imapMailbox struct {
	c *client.Client
}

// IMAPDialer returns a Dialer for the configured IMAP over TLS mailbox.
func IMAPDialer(s cfg.IMAPSettings) Dialer {
	return func(ctx context.Context) (Mailbox, error) {
		c, err := client.DialTLS(s.Addr(), nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", s.Addr(), err)
		}
		c.Timeout = time.Minute

		if err := c.Login(s.User, s.Pass); err != nil {
			c.Logout()
			return nil, fmt.Errorf("login as %s: %w", s.User, err)
		}
		if _, err := c.Select(s.Folder, false); err != nil {
			c.Logout()
			return nil, fmt.Errorf("select %s: %w", s.Folder, err)
		}
		return &imapMailbox{c: c}, nil
	}
}

func (m *imapMailbox) FetchUnseen(ctx context.Context) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	raw := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, raw)
	}()

	var out []Message
	for msg := range raw {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		parsed, err := ParseMessage(body)
		if err != nil {
			// keep draining so UidFetch can finish
			continue
		}
		parsed.UID = msg.Uid
		out = append(out, parsed)
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("fetch unseen: %w", err)
	}
	return out, ctx.Err()
}

func (m *imapMailbox) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (m *imapMailbox) Close() error {
	return m.c.Logout()
}

// ParseMessage reads an RFC 5322 message and keeps its Message-ID, decoded
// subject and first text/plain part. Non-UTF-8 charsets are converted.
func ParseMessage(r io.Reader) (Message, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil && mr == nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var msg Message
	msg.Subject, _ = mr.Header.Subject()
	msg.MessageID, _ = mr.Header.MessageID()

	var fallback string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if msg.Body == "" && fallback == "" {
				return msg, fmt.Errorf("read part: %w", err)
			}
			break
		}

		h, ok := p.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if !strings.HasPrefix(ct, "text/") && ct != "" {
			continue
		}
		data, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		if ct == "text/plain" || ct == "" {
			msg.Body = string(data)
			break
		}
		if fallback == "" {
			fallback = string(data)
		}
	}
	if msg.Body == "" {
		msg.Body = fallback
	}
	return msg, nil
}
