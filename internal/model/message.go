package model

import "time"

// Direction identifies whether a message was pulled from the remote
// mailbox or produced by the local outbound-send path.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// IMAP system flags mirrored into the store. Flag values are stored as
// received from the server, backslash included.
const (
	FlagSeen     = "\\Seen"
	FlagAnswered = "\\Answered"
	FlagFlagged  = "\\Flagged"
	FlagDeleted  = "\\Deleted"
	FlagDraft    = "\\Draft"
)

// Attachment holds metadata about a single message attachment.
// Attachment content is never stored; only this metadata is retained.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
}

// Message is the persisted mirror of a single mailbox message. It is the
// only entity the sync core stores: created on first sync of a UID or
// remote id, updated in place on re-sync, and never deleted.
type Message struct {
	// ID is the internal store row identifier.
	ID string `json:"id"`

	// TenantID scopes the message to one tenant mailbox. Every store
	// operation filters on it; messages never cross tenant boundaries.
	TenantID string `json:"tenant_id"`

	// UID is the protocol-assigned message number within the mailbox.
	// It is nil for messages that were not fetched over IMAP (outbound
	// copies), and unique per tenant when present.
	UID *uint32 `json:"uid,omitempty"`

	// RemoteID is the canonical <local@domain> form of the Message-ID
	// header, or empty when the header was missing or malformed.
	// Unique per tenant when present.
	RemoteID string `json:"remote_id,omitempty"`

	// Direction records whether the message arrived via mailbox sync
	// or was sent from this system.
	Direction Direction `json:"direction"`

	From    string   `json:"from"`
	To      []string `json:"to,omitempty"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`

	// Date is the message date from the headers, falling back to the
	// fetch time when absent.
	Date time.Time `json:"date"`

	// Attachments holds attachment metadata only.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Flags is the current set of protocol flags (e.g. \Seen).
	Flags []string `json:"flags,omitempty"`

	// ThreadID groups this message into a conversation. Never empty
	// once stored.
	ThreadID string `json:"thread_id"`

	// InReplyTo is the canonical id of the direct parent, or empty.
	InReplyTo string `json:"in_reply_to,omitempty"`

	// References is the ordered list of canonical ancestor ids from the
	// References header. Order is preserved and duplicates are kept.
	References []string `json:"references,omitempty"`

	// IsThreadStarter marks the earliest message (by Date) of its
	// thread. Maintained by thread statistics recomputation; exactly
	// one message per tenant+thread carries it.
	IsThreadStarter bool `json:"is_thread_starter"`

	// ThreadCount is the thread's message count as of the last
	// statistics recomputation. May be briefly stale between ingestion
	// and aggregation.
	ThreadCount int `json:"thread_count"`

	// LastMessageAt is the newest message date in the thread as of the
	// last statistics recomputation.
	LastMessageAt time.Time `json:"last_message_at"`

	// CreatedAt/UpdatedAt track store row lifecycle.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFlag reports whether the message carries the given protocol flag.
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// IsUnread reports whether the message lacks the \Seen flag.
func (m *Message) IsUnread() bool {
	return !m.HasFlag(FlagSeen)
}

// IsReply reports whether the message has a direct parent reference.
func (m *Message) IsReply() bool {
	return m.InReplyTo != ""
}
