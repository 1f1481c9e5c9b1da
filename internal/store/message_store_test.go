package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/tests/testutil"
)

func uidPtr(uid uint32) *uint32 {
	return &uid
}

func inboundMessage(uid *uint32, remoteID, threadID string, date time.Time) *model.Message {
	return &model.Message{
		UID:       uid,
		RemoteID:  remoteID,
		Direction: model.DirectionInbound,
		From:      "Alice <alice@example.com>",
		To:        []string{"Bob <bob@example.com>"},
		Subject:   "hello",
		Text:      "body",
		Date:      date,
		Flags:     []string{model.FlagSeen},
		ThreadID:  threadID,
	}
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

	msg := inboundMessage(uidPtr(7), "<m1@x>", "<m1@x>", date)
	created, err := s.UpsertMessage(ctx, "t1", msg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, msg.ID)

	// Re-sync the same UID with different flags: one record, refreshed.
	again := inboundMessage(uidPtr(7), "<m1@x>", "<m1@x>", date)
	again.Flags = []string{model.FlagSeen, model.FlagAnswered}
	created, err = s.UpsertMessage(ctx, "t1", again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, msg.ID, again.ID)

	stored, err := s.GetByUID(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, []string{model.FlagSeen, model.FlagAnswered}, stored.Flags)

	page, err := s.ListThreadIDs(ctx, "t1", "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestUpsertKeepsStoredThreadID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

	msg := inboundMessage(uidPtr(7), "<m1@x>", "<orig@x>", date)
	_, err := s.UpsertMessage(ctx, "t1", msg)
	require.NoError(t, err)

	// A later re-sync resolving to a different thread keeps the
	// original assignment.
	again := inboundMessage(uidPtr(7), "<m1@x>", "<other@x>", date)
	_, err = s.UpsertMessage(ctx, "t1", again)
	require.NoError(t, err)
	assert.Equal(t, "<orig@x>", again.ThreadID)

	stored, err := s.GetByUID(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, "<orig@x>", stored.ThreadID)
}

func TestUpsertWithoutUIDMatchesOnRemoteID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

	out := inboundMessage(nil, "<sent@x>", "<sent@x>", date)
	out.Direction = model.DirectionOutbound
	created, err := s.UpsertMessage(ctx, "t1", out)
	require.NoError(t, err)
	assert.True(t, created)

	// Same remote id, now with a UID: updates and backfills the UID.
	in := inboundMessage(uidPtr(42), "<sent@x>", "<sent@x>", date)
	created, err = s.UpsertMessage(ctx, "t1", in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, out.ID, in.ID)

	stored, err := s.GetByUID(ctx, "t1", 42)
	require.NoError(t, err)
	assert.Equal(t, out.ID, stored.ID)
	require.NotNil(t, stored.UID)
	assert.Equal(t, uint32(42), *stored.UID)
	assert.Equal(t, "<sent@x>", stored.RemoteID)
}

func TestUpsertWithoutUIDThenWithout(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

	out := inboundMessage(nil, "<draft@x>", "<draft@x>", date)
	created, err := s.UpsertMessage(ctx, "t1", out)
	require.NoError(t, err)
	assert.True(t, created)

	// Re-sync still without a UID: matches on remote id, no second row.
	again := inboundMessage(nil, "<draft@x>", "<draft@x>", date)
	created, err = s.UpsertMessage(ctx, "t1", again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, out.ID, again.ID)
}

func TestUpsertNilUIDsDoNotCollide(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

	first := inboundMessage(nil, "<one@x>", "<one@x>", date)
	created, err := s.UpsertMessage(ctx, "t1", first)
	require.NoError(t, err)
	assert.True(t, created)

	second := inboundMessage(nil, "<two@x>", "<two@x>", date)
	created, err = s.UpsertMessage(ctx, "t1", second)
	require.NoError(t, err)
	assert.True(t, created)

	page, err := s.ListThreadIDs(ctx, "t1", "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestUpsertRequiresIdentity(t *testing.T) {
	s := testutil.NewTestStore(t)

	msg := inboundMessage(nil, "", "<x@x>", time.Now())
	_, err := s.UpsertMessage(context.Background(), "t1", msg)
	assert.Error(t, err)
}

func TestUpsertScopedByTenant(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

	msg1 := inboundMessage(uidPtr(7), "<m1@x>", "<m1@x>", date)
	created, err := s.UpsertMessage(ctx, "t1", msg1)
	require.NoError(t, err)
	assert.True(t, created)

	// The same UID under another tenant is a distinct message.
	msg2 := inboundMessage(uidPtr(7), "<m1@x>", "<m1@x>", date)
	created, err = s.UpsertMessage(ctx, "t2", msg2)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, msg1.ID, msg2.ID)
}

func TestThreadIDForRemoteID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	msg := inboundMessage(uidPtr(1), "<a@x>", "<thread@x>", time.Now().UTC())
	_, err := s.UpsertMessage(ctx, "t1", msg)
	require.NoError(t, err)

	threadID, ok, err := s.ThreadIDForRemoteID(ctx, "t1", "<a@x>")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<thread@x>", threadID)

	_, ok, err = s.ThreadIDForRemoteID(ctx, "t1", "<absent@x>")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.ThreadIDForRemoteID(ctx, "t2", "<a@x>")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListThreadIDsPaginationDisjoint(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 25; i++ {
		remote := fmt.Sprintf("<thread-%02d@x>", i)
		msg := inboundMessage(uidPtr(uint32(i+1)), remote, remote, base.Add(time.Duration(i)*time.Hour))
		_, err := s.UpsertMessage(ctx, "t1", msg)
		require.NoError(t, err)
	}

	page1, err := s.ListThreadIDs(ctx, "t1", "", 1, 10)
	require.NoError(t, err)
	page2, err := s.ListThreadIDs(ctx, "t1", "", 2, 10)
	require.NoError(t, err)

	assert.Equal(t, 25, page1.Total)
	assert.Equal(t, 25, page2.Total)
	assert.Len(t, page1.ThreadIDs, 10)
	assert.Len(t, page2.ThreadIDs, 10)

	seen := make(map[string]bool)
	for _, id := range page1.ThreadIDs {
		seen[id] = true
	}
	for _, id := range page2.ThreadIDs {
		assert.False(t, seen[id], "thread %s repeated across pages", id)
	}

	page3, err := s.ListThreadIDs(ctx, "t1", "", 3, 10)
	require.NoError(t, err)
	assert.Len(t, page3.ThreadIDs, 5)
}

func TestListThreadIDsSearch(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

	invoice := inboundMessage(uidPtr(1), "<inv@x>", "<inv@x>", date)
	invoice.Subject = "Invoice 2026-02"
	_, err := s.UpsertMessage(ctx, "t1", invoice)
	require.NoError(t, err)

	party := inboundMessage(uidPtr(2), "<party@x>", "<party@x>", date)
	party.Subject = "Birthday party"
	party.Text = "bring an invoice as a joke"
	_, err = s.UpsertMessage(ctx, "t1", party)
	require.NoError(t, err)

	other := inboundMessage(uidPtr(3), "<other@x>", "<other@x>", date)
	other.Subject = "Totally unrelated"
	other.Text = "nothing to see"
	_, err = s.UpsertMessage(ctx, "t1", other)
	require.NoError(t, err)

	page, err := s.ListThreadIDs(ctx, "t1", "INVOICE", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.ElementsMatch(t, []string{"<inv@x>", "<party@x>"}, page.ThreadIDs)
}

func TestUpdateFlagsByUID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	msg := inboundMessage(uidPtr(5), "<f@x>", "<f@x>", time.Now().UTC())
	_, err := s.UpsertMessage(ctx, "t1", msg)
	require.NoError(t, err)

	require.NoError(t, s.UpdateFlagsByUID(ctx, "t1", 5, []string{model.FlagAnswered}))

	stored, err := s.GetByUID(ctx, "t1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{model.FlagAnswered}, stored.Flags)

	err = s.UpdateFlagsByUID(ctx, "t1", 99, []string{model.FlagSeen})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMessagesByThreadIDs(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

	for i, remote := range []string{"<a1@x>", "<a2@x>"} {
		msg := inboundMessage(uidPtr(uint32(i+1)), remote, "<a@x>", base.Add(time.Duration(i)*time.Hour))
		_, err := s.UpsertMessage(ctx, "t1", msg)
		require.NoError(t, err)
	}
	single := inboundMessage(uidPtr(3), "<b1@x>", "<b@x>", base)
	_, err := s.UpsertMessage(ctx, "t1", single)
	require.NoError(t, err)

	grouped, err := s.MessagesByThreadIDs(ctx, "t1", []string{"<a@x>", "<b@x>"})
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	require.Len(t, grouped["<a@x>"], 2)
	require.Len(t, grouped["<b@x>"], 1)

	// Newest first within each group.
	assert.Equal(t, "<a2@x>", grouped["<a@x>"][0].RemoteID)
}
