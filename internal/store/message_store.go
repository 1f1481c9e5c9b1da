package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

// messageRow is the flat SQLite representation of model.Message.
// List-shaped fields are stored as JSON text columns.
type messageRow struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	UID             sql.NullInt64  `db:"uid"`
	RemoteID        sql.NullString `db:"remote_id"`
	Direction       string         `db:"direction"`
	FromAddr        string         `db:"from_addr"`
	ToAddrs         string         `db:"to_addrs"`
	CcAddrs         string         `db:"cc_addrs"`
	BccAddrs        string         `db:"bcc_addrs"`
	Subject         string         `db:"subject"`
	BodyText        string         `db:"body_text"`
	BodyHTML        string         `db:"body_html"`
	Date            time.Time      `db:"date"`
	Attachments     string         `db:"attachments"`
	Flags           string         `db:"flags"`
	ThreadID        string         `db:"thread_id"`
	InReplyTo       string         `db:"in_reply_to"`
	ReferenceIDs    string         `db:"reference_ids"`
	IsThreadStarter bool           `db:"is_thread_starter"`
	ThreadCount     int            `db:"thread_count"`
	LastMessageAt   sql.NullTime   `db:"last_message_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *messageRow) toModel() (*model.Message, error) {
	msg := &model.Message{
		ID:              r.ID,
		TenantID:        r.TenantID,
		RemoteID:        r.RemoteID.String,
		Direction:       model.Direction(r.Direction),
		From:            r.FromAddr,
		Subject:         r.Subject,
		Text:            r.BodyText,
		HTML:            r.BodyHTML,
		Date:            r.Date,
		ThreadID:        r.ThreadID,
		InReplyTo:       r.InReplyTo,
		IsThreadStarter: r.IsThreadStarter,
		ThreadCount:     r.ThreadCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}

	if r.UID.Valid {
		uid := uint32(r.UID.Int64)
		msg.UID = &uid
	}
	if r.LastMessageAt.Valid {
		msg.LastMessageAt = r.LastMessageAt.Time
	}

	jsonCols := []struct {
		raw string
		dst any
	}{
		{r.ToAddrs, &msg.To},
		{r.CcAddrs, &msg.Cc},
		{r.BccAddrs, &msg.Bcc},
		{r.Flags, &msg.Flags},
		{r.ReferenceIDs, &msg.References},
		{r.Attachments, &msg.Attachments},
	}
	for _, c := range jsonCols {
		if c.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return nil, fmt.Errorf("decoding message %s columns: %w", r.ID, err)
		}
	}

	return msg, nil
}

// jsonList marshals a slice for a JSON text column, never empty.
func jsonList(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

// nullableUID converts an optional UID into a driver value, omitting
// the column entirely (NULL) when absent so absent UIDs never collide
// on a shared value.
func nullableUID(uid *uint32) any {
	if uid == nil {
		return nil
	}
	return int64(*uid)
}

// nullableString converts "" into NULL for sparse-unique columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const messageColumns = `
	id, tenant_id, uid, remote_id, direction,
	from_addr, to_addrs, cc_addrs, bcc_addrs,
	subject, body_text, body_html, date,
	attachments, flags,
	thread_id, in_reply_to, reference_ids,
	is_thread_starter, thread_count, last_message_at,
	created_at, updated_at`

// upsertFilter builds the reconciliation filter. A message carries a
// UID, a remote id, or both; a row matching either identifier is the
// same message, so when both are present the filter accepts either.
// That lets an ingest carrying a UID find a row stored earlier by
// remote id alone (an appended outbound copy) and backfill it.
func upsertFilter(tenantID string, msg *model.Message) (string, []any, string) {
	switch {
	case msg.UID != nil && msg.RemoteID != "":
		return "tenant_id = ? AND (uid = ? OR remote_id = ?)",
			[]any{tenantID, int64(*msg.UID), msg.RemoteID},
			fmt.Sprintf("uid %d", *msg.UID)
	case msg.UID != nil:
		return "tenant_id = ? AND uid = ?",
			[]any{tenantID, int64(*msg.UID)},
			fmt.Sprintf("uid %d", *msg.UID)
	default:
		return "tenant_id = ? AND remote_id = ?",
			[]any{tenantID, msg.RemoteID},
			fmt.Sprintf("remote id %s", msg.RemoteID)
	}
}

// UpsertMessage reconciles a message into the store. Matching on the
// upsert filter updates the row in place (content and flags refresh
// safely on re-sync; the stored thread id is kept and copied back into
// msg so re-resolution never re-threads an existing row). A missing row
// is inserted. An insert that races a concurrent upsert into a unique
// violation is retried once as an update against the same filter;
// persisting failure is a *ConflictError.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, tenantID string, msg *model.Message) (bool, error) {
	if msg == nil {
		return false, fmt.Errorf("upserting nil message for tenant %s", tenantID)
	}
	if msg.UID == nil && msg.RemoteID == "" {
		return false, fmt.Errorf("message for tenant %s has neither uid nor remote id", tenantID)
	}
	msg.TenantID = tenantID

	where, args, key := upsertFilter(tenantID, msg)

	var existingID, existingThread string
	err := s.db.QueryRowxContext(ctx,
		"SELECT id, thread_id FROM messages WHERE "+where+matchOrder, args...,
	).Scan(&existingID, &existingThread)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if insErr := s.insertMessage(ctx, msg); insErr != nil {
			if !isUniqueViolation(insErr) {
				return false, fmt.Errorf("inserting message (%s): %w", key, insErr)
			}
			// Lost a race with a concurrent upsert of the same message:
			// retry once as an update against the same filter.
			if retryErr := s.adoptAndUpdate(ctx, msg, where, args); retryErr != nil {
				return false, &ConflictError{TenantID: tenantID, Key: key, Err: retryErr}
			}
			return false, nil
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("matching message (%s): %w", key, err)

	default:
		msg.ID = existingID
		msg.ThreadID = existingThread
		if updErr := s.updateByID(ctx, msg); updErr != nil {
			return false, fmt.Errorf("updating message (%s): %w", key, updErr)
		}
		return false, nil
	}
}

// matchOrder makes a two-row match (uid on one row, remote id on
// another) deterministic: the uid-keyed row wins.
const matchOrder = " ORDER BY uid IS NULL, id LIMIT 1"

func (s *SQLiteStore) insertMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TenantID, nullableUID(msg.UID), nullableString(msg.RemoteID), string(msg.Direction),
		msg.From, jsonList(msg.To), jsonList(msg.Cc), jsonList(msg.Bcc),
		msg.Subject, msg.Text, msg.HTML, msg.Date.UTC(),
		jsonList(msg.Attachments), jsonList(msg.Flags),
		msg.ThreadID, msg.InReplyTo, jsonList(msg.References),
		msg.IsThreadStarter, msg.ThreadCount, nil,
		msg.CreatedAt, msg.UpdatedAt,
	)
	return err
}

// adoptAndUpdate re-reads the row now occupying the filter, adopts its
// identity, and refreshes it.
func (s *SQLiteStore) adoptAndUpdate(ctx context.Context, msg *model.Message, where string, args []any) error {
	var existingID, existingThread string
	err := s.db.QueryRowxContext(ctx,
		"SELECT id, thread_id FROM messages WHERE "+where+matchOrder, args...,
	).Scan(&existingID, &existingThread)
	if err != nil {
		return fmt.Errorf("re-reading after unique violation: %w", err)
	}

	msg.ID = existingID
	msg.ThreadID = existingThread
	return s.updateByID(ctx, msg)
}

// updateByID refreshes the content, flags, and threading-header fields
// of the already-matched row. The stored thread id and thread
// statistics are left untouched; uid and remote id are backfilled when
// the update carries one the row lacks.
func (s *SQLiteStore) updateByID(ctx context.Context, msg *model.Message) error {
	msg.UpdatedAt = time.Now().UTC()

	setArgs := []any{
		string(msg.Direction),
		msg.From, jsonList(msg.To), jsonList(msg.Cc), jsonList(msg.Bcc),
		msg.Subject, msg.Text, msg.HTML, msg.Date.UTC(),
		jsonList(msg.Attachments), jsonList(msg.Flags),
		msg.InReplyTo, jsonList(msg.References),
		nullableUID(msg.UID), nullableString(msg.RemoteID),
		msg.UpdatedAt,
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			direction = ?,
			from_addr = ?, to_addrs = ?, cc_addrs = ?, bcc_addrs = ?,
			subject = ?, body_text = ?, body_html = ?, date = ?,
			attachments = ?, flags = ?,
			in_reply_to = ?, reference_ids = ?,
			uid = COALESCE(?, uid), remote_id = COALESCE(?, remote_id),
			updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		append(setArgs, msg.TenantID, msg.ID)...,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("message %s vanished before update", msg.ID)
	}
	return nil
}

// ThreadIDForRemoteID returns the thread id of the stored message with
// the given canonical remote id.
func (s *SQLiteStore) ThreadIDForRemoteID(ctx context.Context, tenantID, remoteID string) (string, bool, error) {
	var threadID string
	err := s.db.GetContext(ctx, &threadID,
		"SELECT thread_id FROM messages WHERE tenant_id = ? AND remote_id = ?",
		tenantID, remoteID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up remote id %s: %w", remoteID, err)
	}
	return threadID, true, nil
}

// GetByUID returns the stored message with the given protocol UID.
func (s *SQLiteStore) GetByUID(ctx context.Context, tenantID string, uid uint32) (*model.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+messageColumns+" FROM messages WHERE tenant_id = ? AND uid = ?",
		tenantID, int64(uid),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message uid %d: %w", uid, err)
	}
	return row.toModel()
}

// ThreadMessages returns every message of a tenant+thread group ordered
// by date.
func (s *SQLiteStore) ThreadMessages(ctx context.Context, tenantID, threadID string, newestFirst bool) ([]model.Message, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+messageColumns+" FROM messages WHERE tenant_id = ? AND thread_id = ? ORDER BY date "+order+", id "+order,
		tenantID, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	return rowsToModels(rows)
}

// MessagesByThreadIDs batch-loads the given thread groups, each ordered
// newest first.
func (s *SQLiteStore) MessagesByThreadIDs(ctx context.Context, tenantID string, threadIDs []string) (map[string][]model.Message, error) {
	grouped := make(map[string][]model.Message, len(threadIDs))
	if len(threadIDs) == 0 {
		return grouped, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+messageColumns+" FROM messages WHERE tenant_id = ? AND thread_id IN (?) ORDER BY date DESC, id DESC",
		tenantID, threadIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("building thread batch query: %w", err)
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("loading thread batch: %w", err)
	}

	for i := range rows {
		msg, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		grouped[msg.ThreadID] = append(grouped[msg.ThreadID], *msg)
	}
	return grouped, nil
}

// ApplyThreadStats writes thread statistics across a tenant+thread
// group in one pass, setting the starter flag on exactly starterID.
func (s *SQLiteStore) ApplyThreadStats(ctx context.Context, tenantID, threadID string, count int, lastAt time.Time, starterID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			thread_count = ?,
			last_message_at = ?,
			is_thread_starter = CASE WHEN id = ? THEN 1 ELSE 0 END,
			updated_at = ?
		WHERE tenant_id = ? AND thread_id = ?`,
		count, lastAt.UTC(), starterID, time.Now().UTC(), tenantID, threadID,
	)
	if err != nil {
		return fmt.Errorf("applying stats for thread %s: %w", threadID, err)
	}
	return nil
}

// buildSearchClause appends the optional case-insensitive substring
// pre-filter over subject, from, to, and text body.
func buildSearchClause(search string) (string, []any) {
	if search == "" {
		return "", nil
	}
	pattern := "%" + search + "%"
	clause := ` AND (subject LIKE ? COLLATE NOCASE
		OR from_addr LIKE ? COLLATE NOCASE
		OR to_addrs LIKE ? COLLATE NOCASE
		OR body_text LIKE ? COLLATE NOCASE)`
	return clause, []any{pattern, pattern, pattern, pattern}
}

// ListThreadIDs pages through a tenant's distinct thread ids ordered by
// newest activity.
func (s *SQLiteStore) ListThreadIDs(ctx context.Context, tenantID, search string, page, pageSize int) (*ThreadIDPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	searchClause, searchArgs := buildSearchClause(search)
	baseArgs := append([]any{tenantID}, searchArgs...)

	var total int
	err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(DISTINCT thread_id) FROM messages WHERE tenant_id = ?"+searchClause,
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("counting threads: %w", err)
	}

	var threadIDs []string
	err = s.db.SelectContext(ctx, &threadIDs, `
		SELECT thread_id FROM messages
		WHERE tenant_id = ?`+searchClause+`
		GROUP BY thread_id
		ORDER BY MAX(date) DESC
		LIMIT ? OFFSET ?`,
		append(baseArgs, pageSize, (page-1)*pageSize)...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}

	return &ThreadIDPage{ThreadIDs: threadIDs, Total: total}, nil
}

// DistinctThreadIDs returns all thread ids for a tenant.
func (s *SQLiteStore) DistinctThreadIDs(ctx context.Context, tenantID string) ([]string, error) {
	var threadIDs []string
	err := s.db.SelectContext(ctx, &threadIDs,
		"SELECT DISTINCT thread_id FROM messages WHERE tenant_id = ?",
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing distinct threads: %w", err)
	}
	return threadIDs, nil
}

// UpdateFlagsByUID replaces the stored flag set of the message with the
// given UID.
func (s *SQLiteStore) UpdateFlagsByUID(ctx context.Context, tenantID string, uid uint32, flags []string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE messages SET flags = ?, updated_at = ? WHERE tenant_id = ? AND uid = ?",
		jsonList(flags), time.Now().UTC(), tenantID, int64(uid),
	)
	if err != nil {
		return fmt.Errorf("updating flags for uid %d: %w", uid, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("updating flags for uid %d: %w", uid, ErrNotFound)
	}
	return nil
}

func rowsToModels(rows []messageRow) ([]model.Message, error) {
	out := make([]model.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, nil
}
