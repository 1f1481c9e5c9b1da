// Package view builds read-only, Gmail-style conversation projections
// from the message store. Nothing in this package mutates state.
package view

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/k3a/html2text"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/mailparse"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// ErrThreadNotFound is returned when a thread has no messages for the
// tenant.
var ErrThreadNotFound = errors.New("thread not found")

// snippetLength is the approximate snippet size in runes.
const snippetLength = 150

// previewCap bounds the member-message preview on thread summaries.
const previewCap = 10

// Participant is one deduplicated address taking part in a thread.
type Participant struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role"` // from, to, cc
}

// ThreadSummary is one conversation row in the thread list.
type ThreadSummary struct {
	ThreadID       string          `json:"thread_id"`
	Subject        string          `json:"subject"`
	Snippet        string          `json:"snippet"`
	HasAttachments bool            `json:"has_attachments"`
	UnreadCount    int             `json:"unread_count"`
	MessageCount   int             `json:"message_count"`
	LastMessageAt  time.Time       `json:"last_message_at"`
	Participants   []Participant   `json:"participants"`
	Labels         []string        `json:"labels,omitempty"`
	Messages       []model.Message `json:"messages"` // capped, newest first
}

// ThreadPage is one page of thread summaries plus the total distinct
// thread count for the tenant.
type ThreadPage struct {
	Threads  []ThreadSummary `json:"threads"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
}

// ThreadMessage is a thread member with per-message derived fields.
type ThreadMessage struct {
	model.Message

	IsReply  bool `json:"is_reply"`
	IsUnread bool `json:"is_unread"`
	Position int  `json:"position"`
	Total    int  `json:"total"`
}

// TimelineEvent is one direction-tagged entry of a thread's timeline.
type TimelineEvent struct {
	MessageID string          `json:"message_id"`
	Direction model.Direction `json:"direction"`
	From      string          `json:"from"`
	Date      time.Time       `json:"date"`
}

// ThreadDetail is the full transcript of one conversation.
type ThreadDetail struct {
	ThreadID     string          `json:"thread_id"`
	Subject      string          `json:"subject"`
	Messages     []ThreadMessage `json:"messages"` // date ascending
	Participants []Participant   `json:"participants"`
	Timeline     []TimelineEvent `json:"timeline"`
	HasInbound   bool            `json:"has_inbound"`
	HasOutbound  bool            `json:"has_outbound"`
	ReplyCount   int             `json:"reply_count"`
	MessageCount int             `json:"message_count"`
}

// Reader is the store view the builder reads from.
type Reader interface {
	ListThreadIDs(ctx context.Context, tenantID, search string, page, pageSize int) (*store.ThreadIDPage, error)
	MessagesByThreadIDs(ctx context.Context, tenantID string, threadIDs []string) (map[string][]model.Message, error)
	ThreadMessages(ctx context.Context, tenantID, threadID string, newestFirst bool) ([]model.Message, error)
}

// Builder produces paginated thread summaries and full-thread
// transcripts. Both operations are pure reads.
type Builder struct {
	store Reader
	log   *logrus.Entry
}

// NewBuilder creates a Builder on the given store.
func NewBuilder(store Reader, log *logrus.Entry) *Builder {
	return &Builder{store: store, log: log}
}

// ListThreads returns one page of conversation summaries for the
// tenant, newest activity first, optionally pre-filtered by a
// case-insensitive substring over subject, from, to, and body.
func (b *Builder) ListThreads(ctx context.Context, tenantID string, page, pageSize int, search string) (*ThreadPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	idPage, err := b.store.ListThreadIDs(ctx, tenantID, search, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}

	grouped, err := b.store.MessagesByThreadIDs(ctx, tenantID, idPage.ThreadIDs)
	if err != nil {
		return nil, fmt.Errorf("loading thread pages: %w", err)
	}

	threads := make([]ThreadSummary, 0, len(idPage.ThreadIDs))
	for _, threadID := range idPage.ThreadIDs {
		messages := grouped[threadID]
		if len(messages) == 0 {
			continue
		}
		threads = append(threads, buildSummary(threadID, messages))
	}

	return &ThreadPage{
		Threads:  threads,
		Page:     page,
		PageSize: pageSize,
		Total:    idPage.Total,
	}, nil
}

// GetFullThread returns the complete transcript of one conversation
// ordered by date, or ErrThreadNotFound when the tenant has no messages
// under the thread id.
func (b *Builder) GetFullThread(ctx context.Context, tenantID, threadID string) (*ThreadDetail, error) {
	messages, err := b.store.ThreadMessages(ctx, tenantID, threadID, false)
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	if len(messages) == 0 {
		return nil, ErrThreadNotFound
	}

	detail := &ThreadDetail{
		ThreadID:     threadID,
		Subject:      canonicalSubject(messages, false),
		Participants: detailParticipants(messages),
		MessageCount: len(messages),
	}

	for i, m := range messages {
		tm := ThreadMessage{
			Message:  m,
			IsReply:  m.IsReply(),
			IsUnread: m.IsUnread(),
			Position: i + 1,
			Total:    len(messages),
		}
		detail.Messages = append(detail.Messages, tm)

		detail.Timeline = append(detail.Timeline, TimelineEvent{
			MessageID: m.ID,
			Direction: m.Direction,
			From:      m.From,
			Date:      m.Date,
		})

		switch m.Direction {
		case model.DirectionInbound:
			detail.HasInbound = true
		case model.DirectionOutbound:
			detail.HasOutbound = true
		}
		if tm.IsReply {
			detail.ReplyCount++
		}
	}

	return detail, nil
}

// buildSummary shapes one newest-first thread group into a summary row.
func buildSummary(threadID string, messages []model.Message) ThreadSummary {
	summary := ThreadSummary{
		ThreadID:      threadID,
		Subject:       canonicalSubject(messages, true),
		Snippet:       snippet(messages[0]),
		MessageCount:  len(messages),
		LastMessageAt: messages[0].Date,
		Participants:  summaryParticipants(messages),
		Labels:        unionFlags(messages),
	}

	for _, m := range messages {
		if len(m.Attachments) > 0 {
			summary.HasAttachments = true
		}
		if m.IsUnread() {
			summary.UnreadCount++
		}
	}

	preview := messages
	if len(preview) > previewCap {
		preview = preview[:previewCap]
	}
	summary.Messages = preview

	return summary
}

// canonicalSubject picks the thread's display subject: the earliest
// subject without a reply prefix, else the earliest subject with the
// prefix stripped. newestFirst tells how messages are ordered.
func canonicalSubject(messages []model.Message, newestFirst bool) string {
	oldestToNewest := messages
	if newestFirst {
		oldestToNewest = make([]model.Message, len(messages))
		for i := range messages {
			oldestToNewest[len(messages)-1-i] = messages[i]
		}
	}

	for _, m := range oldestToNewest {
		if m.Subject != "" && !mailparse.HasReplyPrefix(m.Subject) {
			return m.Subject
		}
	}
	return mailparse.StripReplyPrefix(oldestToNewest[0].Subject)
}

// snippet renders the first ~150 characters of a message's content,
// preferring the text body and falling back to tag-stripped HTML.
func snippet(m model.Message) string {
	content := m.Text
	if content == "" && m.HTML != "" {
		content = html2text.HTML2Text(m.HTML)
	}

	runes := []rune(content)
	if len(runes) <= snippetLength {
		return content
	}
	return string(runes[:snippetLength]) + "…"
}

// summaryParticipants deduplicates from/to addresses across the group,
// tagging roles and sorting senders first.
func summaryParticipants(messages []model.Message) []Participant {
	seen := make(map[string]bool)
	var senders, recipients []Participant

	add := func(formatted, role string) {
		address := mailparse.ExtractEmailAddress(formatted)
		if address == "" || seen[address] {
			return
		}
		seen[address] = true
		p := Participant{
			Address: address,
			Name:    mailparse.ExtractDisplayName(formatted),
			Role:    role,
		}
		if role == "from" {
			senders = append(senders, p)
		} else {
			recipients = append(recipients, p)
		}
	}

	// Two passes so an address appearing as both sender and recipient
	// is tagged as a sender.
	for _, m := range messages {
		add(m.From, "from")
	}
	for _, m := range messages {
		for _, to := range m.To {
			add(to, "to")
		}
	}

	sort.SliceStable(senders, func(i, j int) bool { return senders[i].Address < senders[j].Address })
	return append(senders, recipients...)
}

// detailParticipants deduplicates addresses across the group in
// from, then to, then cc order.
func detailParticipants(messages []model.Message) []Participant {
	seen := make(map[string]bool)
	var out []Participant

	add := func(formatted, role string) {
		address := mailparse.ExtractEmailAddress(formatted)
		if address == "" || seen[address] {
			return
		}
		seen[address] = true
		out = append(out, Participant{
			Address: address,
			Name:    mailparse.ExtractDisplayName(formatted),
			Role:    role,
		})
	}

	for _, m := range messages {
		add(m.From, "from")
	}
	for _, m := range messages {
		for _, to := range m.To {
			add(to, "to")
		}
	}
	for _, m := range messages {
		for _, cc := range m.Cc {
			add(cc, "cc")
		}
	}

	return out
}

// unionFlags collects the distinct protocol flags across the group,
// exposed as thread labels.
func unionFlags(messages []model.Message) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, m := range messages {
		for _, f := range m.Flags {
			if !seen[f] {
				seen[f] = true
				labels = append(labels, f)
			}
		}
	}
	sort.Strings(labels)
	return labels
}
