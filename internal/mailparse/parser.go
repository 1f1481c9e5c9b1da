package mailparse

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	_ "github.com/emersion/go-message/charset"

	"github.com/nhle/mailsync/internal/model"
)

// ParsedMessage is the structured form of one raw mailbox message.
// Threading headers are already canonicalized: MessageID and InReplyTo
// are in <local@domain> form or empty, References entries likewise.
type ParsedMessage struct {
	MessageID  string
	InReplyTo  string
	References []string

	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Date    time.Time

	Text        string
	HTML        string
	Attachments []model.Attachment
}

// Parse turns raw RFC 2822 message bytes into a ParsedMessage using
// go-message, extracting headers, text and HTML bodies, and attachment
// metadata. Attachment content is read only to measure its size and
// then discarded.
//
// A message whose headers cannot be read at all returns a *ParseError.
// Failures inside individual MIME parts degrade: the parts read so far
// are kept and the walk stops.
func Parse(raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return nil, &ParseError{Reason: "reading message header", Err: err}
	}
	defer mr.Close()

	h := mr.Header

	parsed := &ParsedMessage{
		MessageID:  NormalizeMessageID(h.Get("Message-Id")),
		InReplyTo:  NormalizeMessageID(h.Get("In-Reply-To")),
		References: ParseReferences(h.Get("References")),
	}

	if subject, err := h.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = h.Get("Subject")
	}

	if date, err := h.Date(); err == nil && !date.IsZero() {
		parsed.Date = date
	} else {
		parsed.Date = time.Now().UTC()
	}

	parsed.From = firstAddress(h, "From")
	parsed.To = addressStrings(h, "To")
	parsed.Cc = addressStrings(h, "Cc")
	parsed.Bcc = addressStrings(h, "Bcc")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever was extracted before the bad part.
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if parsed.Text == "" {
					parsed.Text = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				if parsed.HTML == "" {
					parsed.HTML = string(body)
				}
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()

			// Read to get size without storing content.
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			parsed.Attachments = append(parsed.Attachments, model.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
				ContentID:   strings.Trim(ph.Get("Content-Id"), "<>"),
			})
		}
	}

	return parsed, nil
}

// firstAddress renders the first address of a header field as
// "Name <addr>", or returns the raw header value when it cannot be
// parsed as an address list.
func firstAddress(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(h.Get(key))
	}
	return FormatAddress(addrs[0].Name, addrs[0].Address)
}

// addressStrings renders every address of a header field.
func addressStrings(h mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		if raw := strings.TrimSpace(h.Get(key)); raw != "" {
			return []string{raw}
		}
		return nil
	}

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, FormatAddress(a.Name, a.Address))
	}
	return out
}
