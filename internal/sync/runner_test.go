package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/sync"
	"github.com/nhle/mailsync/tests/testutil"
)

func TestNewRunnerSkipsDisabledTenants(t *testing.T) {
	s := testutil.NewTestStore(t)
	engine := sync.NewEngine(s, dialerFor(&fakeSession{}), testLogger())

	runner := sync.NewRunner(engine, []model.TenantConfig{
		{TenantID: "on", Enabled: true},
		{TenantID: "off", Enabled: false},
	}, testLogger())

	statuses := runner.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "on", statuses[0].TenantID)
	assert.Equal(t, sync.RunIdle, statuses[0].State)
}

func TestRunnerInitialRun(t *testing.T) {
	s := testutil.NewTestStore(t)
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	session := &fakeSession{messages: []mailbox.RawMessage{
		{UID: 1, Raw: rawMessage("<a@x.com>", "", "", "Kickoff", "x", base)},
	}}
	engine := sync.NewEngine(s, dialerFor(session), testLogger())

	tenant := model.TenantConfig{
		TenantID: "t1", Mailbox: "INBOX", Enabled: true,
		PollIntervalSec: 3600,
	}
	runner := sync.NewRunner(engine, []model.TenantConfig{tenant}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Start(ctx)
	defer runner.Stop()

	// The loop runs once immediately on start.
	require.Eventually(t, func() bool {
		statuses := runner.Statuses()
		return len(statuses) == 1 && !statuses[0].LastSync.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	_, err := s.GetByUID(context.Background(), "t1", 1)
	assert.NoError(t, err)
}

func TestRunnerTriggerReachesNamedTenant(t *testing.T) {
	s := testutil.NewTestStore(t)
	dial := func(ctx context.Context, cfg model.IMAPConfig) (mailbox.Session, error) {
		return &fakeSession{}, nil
	}
	engine := sync.NewEngine(s, dial, testLogger())

	tenants := []model.TenantConfig{
		{TenantID: "a", Mailbox: "INBOX", Enabled: true, PollIntervalSec: 3600},
		{TenantID: "b", Mailbox: "INBOX", Enabled: true, PollIntervalSec: 3600},
	}
	runner := sync.NewRunner(engine, tenants, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Start(ctx)
	defer runner.Stop()

	require.Eventually(t, func() bool {
		for _, st := range runner.Statuses() {
			if st.LastSync.IsZero() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	before := make(map[string]time.Time)
	for _, st := range runner.Statuses() {
		before[st.TenantID] = st.LastSync
	}

	// A trigger for b must run b regardless of which loops are idle.
	runner.Trigger("b")

	require.Eventually(t, func() bool {
		for _, st := range runner.Statuses() {
			if st.TenantID == "b" {
				return st.LastSync.After(before["b"])
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	for _, st := range runner.Statuses() {
		if st.TenantID == "a" {
			assert.True(t, st.LastSync.Equal(before["a"]), "tenant a ran on b's trigger")
		}
	}

	// Unknown ids are ignored.
	runner.Trigger("missing")
}
