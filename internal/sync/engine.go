// Package sync orchestrates mailbox synchronization runs: fetching raw
// messages, threading them, and reconciling them into the store.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/mailparse"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/thread"
)

// Result summarizes one sync run. Individual message failures are
// counted, never fatal; only connection-level failures abort a run.
type Result struct {
	Processed int `json:"processed"`
	New       int `json:"new"`
	Errors    int `json:"errors"`
}

// flagOp selects how a flag mutation applies to the stored mirror.
type flagOp int

const (
	flagOpSet flagOp = iota
	flagOpAdd
	flagOpRemove
)

// Engine implements the produced sync interface: mailbox runs, flag
// mutations, and thread recomputation. All operations take the tenant
// configuration explicitly; the engine holds no per-tenant state.
type Engine struct {
	store      store.MessageStore
	dial       mailbox.Dialer
	aggregator *thread.Aggregator
	log        *logrus.Entry

	// flight collapses concurrent runs for the same tenant mailbox so
	// a slow run is never overlapped by the next trigger.
	flight singleflight.Group
}

// NewEngine creates an Engine over the given store and session dialer.
func NewEngine(s store.MessageStore, dial mailbox.Dialer, log *logrus.Entry) *Engine {
	return &Engine{
		store:      s,
		dial:       dial,
		aggregator: thread.NewAggregator(s, log),
		log:        log,
	}
}

// SyncMailbox runs one synchronization pass for the tenant's mailbox.
// Concurrent calls for the same tenant+mailbox share a single in-flight
// run. A connection failure aborts the run (after a best-effort logout)
// and surfaces to the caller; per-message parse and conflict failures
// are logged, counted, and skipped.
func (e *Engine) SyncMailbox(ctx context.Context, tenant model.TenantConfig) (*Result, error) {
	key := tenant.TenantID + "/" + tenant.Mailbox
	v, err, _ := e.flight.Do(key, func() (any, error) {
		return e.runSync(ctx, tenant)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (e *Engine) runSync(ctx context.Context, tenant model.TenantConfig) (*Result, error) {
	log := e.log.WithFields(logrus.Fields{
		"tenant_id": tenant.TenantID,
		"mailbox":   tenant.Mailbox,
	})

	session, err := e.dial(ctx, tenant.IMAP)
	if err != nil {
		return nil, fmt.Errorf("syncing tenant %s: %w", tenant.TenantID, err)
	}
	defer session.Close()

	count, err := session.OpenMailbox(tenant.Mailbox)
	if err != nil {
		return nil, fmt.Errorf("syncing tenant %s: %w", tenant.TenantID, err)
	}

	result := &Result{}
	if count == 0 {
		log.Info("mailbox empty, nothing to sync")
		return result, nil
	}

	err = session.WithMailboxLock(func() error {
		return session.ForEachMessage(1, 0, func(raw mailbox.RawMessage) error {
			result.Processed++

			created, ingestErr := e.ingest(ctx, tenant.TenantID, raw)
			if ingestErr != nil {
				if mailparse.IsParseError(ingestErr) || store.IsConflict(ingestErr) {
					result.Errors++
					log.WithError(ingestErr).WithField("uid", raw.UID).
						Warn("skipping message")
					return nil
				}
				return ingestErr
			}

			if created {
				result.New++
			}
			return nil
		})
	})
	if err != nil {
		return result, fmt.Errorf("syncing tenant %s: %w", tenant.TenantID, err)
	}

	log.WithFields(logrus.Fields{
		"processed": result.Processed,
		"new":       result.New,
		"errors":    result.Errors,
	}).Info("sync run complete")

	return result, nil
}

// ingest moves one raw message through parse, thread resolution,
// reconciliation, and statistics recomputation.
func (e *Engine) ingest(ctx context.Context, tenantID string, raw mailbox.RawMessage) (bool, error) {
	parsed, err := mailparse.Parse(raw.Raw)
	if err != nil {
		return false, err
	}

	threadID, err := thread.Resolve(ctx, e.store, tenantID,
		parsed.MessageID, parsed.InReplyTo, parsed.References)
	if err != nil {
		return false, err
	}

	uid := raw.UID
	msg := &model.Message{
		UID:         &uid,
		RemoteID:    parsed.MessageID,
		Direction:   model.DirectionInbound,
		From:        parsed.From,
		To:          parsed.To,
		Cc:          parsed.Cc,
		Bcc:         parsed.Bcc,
		Subject:     parsed.Subject,
		Text:        parsed.Text,
		HTML:        parsed.HTML,
		Date:        parsed.Date,
		Attachments: parsed.Attachments,
		Flags:       raw.Flags,
		ThreadID:    threadID,
		InReplyTo:   parsed.InReplyTo,
		References:  parsed.References,
	}

	created, err := e.store.UpsertMessage(ctx, tenantID, msg)
	if err != nil {
		return false, err
	}

	// Recompute against the stored thread id: an update keeps the
	// row's original thread.
	if err := e.aggregator.Recompute(ctx, tenantID, msg.ThreadID); err != nil {
		return created, err
	}
	return created, nil
}

// SetMessageFlags replaces the remote flag set of a message and mirrors
// the result into the store.
func (e *Engine) SetMessageFlags(ctx context.Context, tenant model.TenantConfig, uid uint32, flags []string) error {
	return e.mutateFlags(ctx, tenant, uid, flags, flagOpSet)
}

// AddMessageFlags adds flags to a message remotely and in the store.
func (e *Engine) AddMessageFlags(ctx context.Context, tenant model.TenantConfig, uid uint32, flags []string) error {
	return e.mutateFlags(ctx, tenant, uid, flags, flagOpAdd)
}

// RemoveMessageFlags removes flags from a message remotely and in the
// store.
func (e *Engine) RemoveMessageFlags(ctx context.Context, tenant model.TenantConfig, uid uint32, flags []string) error {
	return e.mutateFlags(ctx, tenant, uid, flags, flagOpRemove)
}

// mutateFlags opens a short-lived session distinct from any sync run,
// applies one lock-scoped STORE, and mirrors the outcome locally. A
// message not yet synced locally only mutates remote state.
func (e *Engine) mutateFlags(ctx context.Context, tenant model.TenantConfig, uid uint32, flags []string, op flagOp) error {
	session, err := e.dial(ctx, tenant.IMAP)
	if err != nil {
		return fmt.Errorf("mutating flags for tenant %s: %w", tenant.TenantID, err)
	}
	defer session.Close()

	if _, err := session.OpenMailbox(tenant.Mailbox); err != nil {
		return fmt.Errorf("mutating flags for tenant %s: %w", tenant.TenantID, err)
	}

	switch op {
	case flagOpSet:
		err = session.SetFlags(uid, flags)
	case flagOpAdd:
		err = session.AddFlags(uid, flags)
	case flagOpRemove:
		err = session.RemoveFlags(uid, flags)
	}
	if err != nil {
		return fmt.Errorf("mutating flags for tenant %s uid %d: %w", tenant.TenantID, uid, err)
	}

	return e.mirrorFlags(ctx, tenant.TenantID, uid, flags, op)
}

// mirrorFlags applies the flag mutation to the stored copy.
func (e *Engine) mirrorFlags(ctx context.Context, tenantID string, uid uint32, flags []string, op flagOp) error {
	if op == flagOpSet {
		err := e.store.UpdateFlagsByUID(ctx, tenantID, uid, flags)
		if isNotFound(err) {
			return nil
		}
		return err
	}

	stored, err := e.store.GetByUID(ctx, tenantID, uid)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var next []string
	switch op {
	case flagOpAdd:
		next = stored.Flags
		for _, f := range flags {
			if !stored.HasFlag(f) {
				next = append(next, f)
			}
		}
	case flagOpRemove:
		drop := make(map[string]bool, len(flags))
		for _, f := range flags {
			drop[f] = true
		}
		for _, f := range stored.Flags {
			if !drop[f] {
				next = append(next, f)
			}
		}
	}

	return e.store.UpdateFlagsByUID(ctx, tenantID, uid, next)
}

// RecomputeAllThreads recomputes statistics for every thread of the
// tenant and returns the number of threads updated. Per-thread failures
// are logged and skipped. This is the manual reconciliation entry
// point; it refreshes statistics only and never merges placeholder
// threads.
func (e *Engine) RecomputeAllThreads(ctx context.Context, tenantID string) (int, error) {
	threadIDs, err := e.store.DistinctThreadIDs(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("recomputing threads for tenant %s: %w", tenantID, err)
	}

	updated := 0
	for _, threadID := range threadIDs {
		if err := e.aggregator.Recompute(ctx, tenantID, threadID); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"thread_id": threadID,
			}).Warn("skipping thread recompute")
			continue
		}
		updated++
	}
	return updated, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
