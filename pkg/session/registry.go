// Package session owns the ticket and iterator state for connected runs.
// The registry is process-local by design: the remote client re-authenticates
// on its next poll, so nothing here needs to survive a restart.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/fieldserve/trellis/pkg/models"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// Registry correlates opaque session tickets to runs and holds each run's
// iterator state. Safe for concurrent sessions; every run has its own cursor.
// Abandoned runs are evicted after TTL so a client that vanishes mid-session
// does not leak state until restart.
type Registry struct {
	mu        sync.RWMutex
	runs      map[string]*models.Run
	byTicket  map[string]string
	iterators map[string]*models.IteratorState

	ttl    time.Duration
	logger ectologger.Logger
	done   chan struct{}
	closed sync.Once
}

func NewRegistry(ttl time.Duration, logger ectologger.Logger) *Registry {
	return &Registry{
		runs:      make(map[string]*models.Run),
		byTicket:  make(map[string]string),
		iterators: make(map[string]*models.IteratorState),
		ttl:       ttl,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// StartSweeper evicts abandoned runs on the given interval until Close.
func (r *Registry) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) Close() {
	r.closed.Do(func() { close(r.done) })
}

// StartRun creates a run for the authenticated user and hands out a fresh
// ticket. Each run gets its own state; nothing is shared across sessions.
func (r *Registry) StartRun(ctx context.Context, username, companyFile string, kind models.RunKind, invoiceID string) *models.Run {
	_, span := tracing.StartSpan(ctx, "session.Registry.StartRun")
	defer span.End()

	now := time.Now().UTC()
	run := &models.Run{
		ID:          uuid.New().String(),
		Ticket:      uuid.New().String(),
		Username:    username,
		CompanyFile: companyFile,
		Kind:        kind,
		InvoiceID:   invoiceID,
		Status:      models.RunStatusActive,
		StartedAt:   now,
		LastSeenAt:  now,
	}

	r.mu.Lock()
	r.runs[run.ID] = run
	r.byTicket[run.Ticket] = run.ID
	r.mu.Unlock()

	r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": run.ID, "kind": kind}).Info("Started run")
	return run
}

// ResolveTicket resolves a ticket to its run. Unknown tickets return nil
// rather than an error; the protocol must degrade gracefully when the remote
// client presents a stale ticket.
func (r *Registry) ResolveTicket(ctx context.Context, ticket string) *models.Run {
	_, span := tracing.StartSpan(ctx, "session.Registry.ResolveTicket")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	runID, ok := r.byTicket[ticket]
	if !ok {
		return nil
	}
	run := r.runs[runID]
	if run == nil {
		return nil
	}
	run.LastSeenAt = time.Now().UTC()
	return run
}

// RecordVersions stores the client/server version strings on the run.
func (r *Registry) RecordVersions(ctx context.Context, ticket, clientVersion, serverVersion string) {
	run := r.ResolveTicket(ctx, ticket)
	if run == nil {
		return
	}
	r.mu.Lock()
	run.ClientVersion = clientVersion
	run.ServerVersion = serverVersion
	r.mu.Unlock()
}

// GetOrCreateIterator returns the run's iterator state, creating it at the
// given phase on first use. Exactly one IteratorState exists per active run.
func (r *Registry) GetOrCreateIterator(ctx context.Context, runID string, initial models.Phase) models.IteratorState {
	_, span := tracing.StartSpan(ctx, "session.Registry.GetOrCreateIterator")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.iterators[runID]
	if !ok {
		state = &models.IteratorState{
			Phase:     initial,
			UpdatedAt: time.Now().UTC(),
		}
		r.iterators[runID] = state
	}
	return *state
}

// ReplaceIterator overwrites the run's iterator state.
func (r *Registry) ReplaceIterator(ctx context.Context, runID string, state models.IteratorState) {
	_, span := tracing.StartSpan(ctx, "session.Registry.ReplaceIterator")
	defer span.End()

	state.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	r.iterators[runID] = &state
	r.mu.Unlock()
}

// SetLastError records the most recent error message on the run so the
// remote client's getLastError call has something to return.
func (r *Registry) SetLastError(ctx context.Context, runID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[runID]; ok {
		run.LastError = message
	}
}

// EndRun discards the run and its iterator state. Returns the ended run for
// audit, or nil for an unknown ticket.
func (r *Registry) EndRun(ctx context.Context, ticket string, status models.RunStatus) *models.Run {
	_, span := tracing.StartSpan(ctx, "session.Registry.EndRun")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	runID, ok := r.byTicket[ticket]
	if !ok {
		return nil
	}
	run := r.runs[runID]
	delete(r.byTicket, ticket)
	delete(r.runs, runID)
	delete(r.iterators, runID)

	if run != nil {
		now := time.Now().UTC()
		run.Status = status
		run.EndedAt = &now
		r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": run.ID, "status": status}).Info("Ended run")
	}
	return run
}

// ActiveRuns reports the number of live runs. Used by the health endpoint.
func (r *Registry) ActiveRuns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

func (r *Registry) sweep() {
	cutoff := time.Now().UTC().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	for ticket, runID := range r.byTicket {
		run := r.runs[runID]
		if run == nil || run.LastSeenAt.Before(cutoff) {
			delete(r.byTicket, ticket)
			delete(r.runs, runID)
			delete(r.iterators, runID)
			if run != nil {
				r.logger.WithFields(map[string]any{"run_id": runID}).Warn("Evicted abandoned run")
			}
		}
	}
}
