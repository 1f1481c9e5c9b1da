package thread

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

// StatsStore is the store view the aggregator writes through.
type StatsStore interface {
	ThreadMessages(ctx context.Context, tenantID, threadID string, newestFirst bool) ([]model.Message, error)
	ApplyThreadStats(ctx context.Context, tenantID, threadID string, count int, lastAt time.Time, starterID string) error
}

// Aggregator recomputes the denormalized per-thread fields after each
// ingested message.
type Aggregator struct {
	store StatsStore
	log   *logrus.Entry
}

// NewAggregator creates an Aggregator on the given store.
func NewAggregator(store StatsStore, log *logrus.Entry) *Aggregator {
	return &Aggregator{store: store, log: log}
}

// Recompute reloads the tenant+thread group ordered by date and writes
// the thread count, newest message date, and starter designation across
// the group in one pass. The earliest message by date is the starter;
// the flag is explicitly cleared on every other member. An empty group
// is a logged no-op. Repeated invocation on an unchanged group writes
// an identical result.
func (a *Aggregator) Recompute(ctx context.Context, tenantID, threadID string) error {
	messages, err := a.store.ThreadMessages(ctx, tenantID, threadID, false)
	if err != nil {
		return fmt.Errorf("recomputing thread %s: %w", threadID, err)
	}

	if len(messages) == 0 {
		a.log.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"thread_id": threadID,
		}).Debug("skipping stats for empty thread")
		return nil
	}

	starter := messages[0]
	lastAt := messages[len(messages)-1].Date
	for _, m := range messages {
		if m.Date.After(lastAt) {
			lastAt = m.Date
		}
	}

	err = a.store.ApplyThreadStats(ctx, tenantID, threadID, len(messages), lastAt, starter.ID)
	if err != nil {
		return fmt.Errorf("recomputing thread %s: %w", threadID, err)
	}
	return nil
}
