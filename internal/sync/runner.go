package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

// RunState represents the current state of a tenant's sync loop.
type RunState int

const (
	RunIdle RunState = iota
	RunActive
	RunError
)

// RunStatus holds the loop state for a single tenant mailbox.
type RunStatus struct {
	TenantID string
	State    RunState
	LastSync time.Time
	Error    error
}

// Runner drives periodic sync runs for a set of tenants. Each tenant
// gets its own ticker goroutine; the engine's single-flight gate keeps
// an external trigger from overlapping a run already in progress.
type Runner struct {
	engine  *Engine
	log     *logrus.Entry
	tenants []model.TenantConfig

	statuses map[string]*RunStatus
	// triggers carries one buffered channel per tenant so a trigger
	// for tenant A is never consumed by tenant B's loop. The buffer of
	// one coalesces triggers arriving mid-run.
	triggers map[string]chan struct{}
	stopCh   chan struct{}
	wg       gosync.WaitGroup
	mu       gosync.Mutex
	running  bool
}

// NewRunner creates a Runner for the given tenants.
func NewRunner(engine *Engine, tenants []model.TenantConfig, log *logrus.Entry) *Runner {
	r := &Runner{
		engine:   engine,
		log:      log,
		statuses: make(map[string]*RunStatus),
		triggers: make(map[string]chan struct{}),
		stopCh:   make(chan struct{}),
	}
	for _, t := range tenants {
		if !t.Enabled {
			continue
		}
		r.tenants = append(r.tenants, t)
		r.statuses[t.TenantID] = &RunStatus{TenantID: t.TenantID, State: RunIdle}
		r.triggers[t.TenantID] = make(chan struct{}, 1)
	}
	return r
}

// Start launches one polling goroutine per enabled tenant. It is a
// no-op when already running.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	for _, tenant := range r.tenants {
		r.wg.Add(1)
		go r.pollTenant(ctx, tenant)
	}
}

// Stop halts all polling goroutines and waits for them to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
}

// Trigger requests an immediate run for a tenant without waiting for
// its next tick. Non-blocking; a trigger already pending for the tenant
// absorbs the request, and unknown tenant ids are ignored.
func (r *Runner) Trigger(tenantID string) {
	ch, ok := r.triggers[tenantID]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Statuses returns the current loop status of every tenant.
func (r *Runner) Statuses() []RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]RunStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		statuses = append(statuses, *s)
	}
	return statuses
}

// pollTenant runs the periodic loop for a single tenant.
func (r *Runner) pollTenant(ctx context.Context, tenant model.TenantConfig) {
	defer r.wg.Done()

	interval := time.Duration(tenant.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 120 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	triggerCh := r.triggers[tenant.TenantID]

	// Do an initial run immediately.
	r.runOnce(ctx, tenant)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, tenant)
		case <-triggerCh:
			r.runOnce(ctx, tenant)
		}
	}
}

// runOnce performs one sync run and records its outcome. A failed run
// is reported and retried on the next cycle, never mid-run.
func (r *Runner) runOnce(ctx context.Context, tenant model.TenantConfig) {
	r.setStatus(tenant.TenantID, RunActive, nil)

	result, err := r.engine.SyncMailbox(ctx, tenant)
	if err != nil {
		r.setStatus(tenant.TenantID, RunError, err)
		r.log.WithError(err).WithField("tenant_id", tenant.TenantID).
			Error("sync run failed")
		return
	}

	r.setStatus(tenant.TenantID, RunIdle, nil)
	r.log.WithFields(logrus.Fields{
		"tenant_id": tenant.TenantID,
		"processed": result.Processed,
		"new":       result.New,
		"errors":    result.Errors,
	}).Debug("sync run finished")
}

// setStatus updates the recorded status for a tenant.
func (r *Runner) setStatus(tenantID string, state RunState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[tenantID]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if state == RunIdle && err == nil {
		status.LastSync = time.Now()
	}
}
