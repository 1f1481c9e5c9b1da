package store

import (
	"context"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// ThreadIDPage is one page of distinct thread ids for a tenant, newest
// activity first, together with the total distinct-thread count.
type ThreadIDPage struct {
	ThreadIDs []string
	Total     int
}

// MessageStore defines the persistence operations the sync core and the
// conversation views consume. Every operation is scoped by tenant id
// and never crosses tenant boundaries.
type MessageStore interface {
	// UpsertMessage reconciles one message into the store, matching on
	// (tenant, uid) when the UID is present, else (tenant, remoteId).
	// On a match the row is updated in place and msg adopts the stored
	// id and thread id; otherwise the row is inserted. Returns whether
	// a new row was created. A duplicate-key race that survives one
	// in-place retry returns a *ConflictError.
	UpsertMessage(ctx context.Context, tenantID string, msg *model.Message) (bool, error)

	// ThreadIDForRemoteID returns the thread id of the stored message
	// with the given canonical remote id, with ok=false when absent.
	ThreadIDForRemoteID(ctx context.Context, tenantID, remoteID string) (string, bool, error)

	// GetByUID returns the stored message with the given protocol UID,
	// or ErrNotFound.
	GetByUID(ctx context.Context, tenantID string, uid uint32) (*model.Message, error)

	// ThreadMessages returns every message of a tenant+thread group
	// ordered by date, ascending or descending.
	ThreadMessages(ctx context.Context, tenantID, threadID string, newestFirst bool) ([]model.Message, error)

	// MessagesByThreadIDs batch-loads the given thread groups, each
	// ordered newest first.
	MessagesByThreadIDs(ctx context.Context, tenantID string, threadIDs []string) (map[string][]model.Message, error)

	// ApplyThreadStats writes thread statistics across a tenant+thread
	// group in one pass: count, newest date, and the starter flag set
	// on exactly the starter row and cleared on all others.
	ApplyThreadStats(ctx context.Context, tenantID, threadID string, count int, lastAt time.Time, starterID string) error

	// ListThreadIDs pages through a tenant's distinct thread ids,
	// newest activity first, optionally pre-filtered by a
	// case-insensitive substring over subject, from, to, and text body.
	ListThreadIDs(ctx context.Context, tenantID, search string, page, pageSize int) (*ThreadIDPage, error)

	// DistinctThreadIDs returns all thread ids for a tenant.
	DistinctThreadIDs(ctx context.Context, tenantID string) ([]string, error)

	// UpdateFlagsByUID replaces the stored flag set of the message with
	// the given UID, mirroring a remote flag mutation.
	UpdateFlagsByUID(ctx context.Context, tenantID string, uid uint32, flags []string) error
}
