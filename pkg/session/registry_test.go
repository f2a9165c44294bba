package session

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/trellis/pkg/models"
)

func newTestRegistry(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(ttl, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	t.Cleanup(r.Close)
	return r
}

func strPtr(s string) *string { return &s }

func TestStartRunAndResolveTicket(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	run := r.StartRun(ctx, "qbwc", "", models.RunKindBulkSync, "")
	require.NotEmpty(t, run.ID)
	require.NotEmpty(t, run.Ticket)
	assert.NotEqual(t, run.ID, run.Ticket)
	assert.Equal(t, models.RunStatusActive, run.Status)

	resolved := r.ResolveTicket(ctx, run.Ticket)
	require.NotNil(t, resolved)
	assert.Equal(t, run.ID, resolved.ID)

	assert.Nil(t, r.ResolveTicket(ctx, "not-a-ticket"))
	assert.Equal(t, 1, r.ActiveRuns())
}

func TestConcurrentRunsHaveIndependentState(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	first := r.StartRun(ctx, "qbwc", "", models.RunKindBulkSync, "")
	second := r.StartRun(ctx, "qbwc", "", models.RunKindBulkSync, "")
	require.NotEqual(t, first.Ticket, second.Ticket)

	r.GetOrCreateIterator(ctx, first.ID, models.PhaseCompany)
	r.GetOrCreateIterator(ctx, second.ID, models.PhaseCompany)
	r.ReplaceIterator(ctx, first.ID, models.IteratorState{Phase: models.PhaseCustomers, IteratorID: strPtr("{X}"), Remaining: 3})

	firstState := r.GetOrCreateIterator(ctx, first.ID, models.PhaseCompany)
	secondState := r.GetOrCreateIterator(ctx, second.ID, models.PhaseCompany)
	assert.Equal(t, models.PhaseCustomers, firstState.Phase)
	assert.Equal(t, models.PhaseCompany, secondState.Phase)
	assert.False(t, secondState.HasIterator())
}

func TestGetOrCreateIteratorReturnsCopy(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	run := r.StartRun(ctx, "qbwc", "", models.RunKindBulkSync, "")
	state := r.GetOrCreateIterator(ctx, run.ID, models.PhaseCompany)
	state.Phase = models.PhaseCustomers

	// mutating the returned value must not leak into the registry
	fresh := r.GetOrCreateIterator(ctx, run.ID, models.PhaseCompany)
	assert.Equal(t, models.PhaseCompany, fresh.Phase)
}

func TestEndRunDiscardsEverything(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	run := r.StartRun(ctx, "qbwc", "", models.RunKindInvoiceExport, "inv-1")
	r.GetOrCreateIterator(ctx, run.ID, models.PhaseCompany)

	ended := r.EndRun(ctx, run.Ticket, models.RunStatusClosed)
	require.NotNil(t, ended)
	assert.Equal(t, models.RunStatusClosed, ended.Status)
	require.NotNil(t, ended.EndedAt)

	assert.Nil(t, r.ResolveTicket(ctx, run.Ticket))
	assert.Equal(t, 0, r.ActiveRuns())
	assert.Nil(t, r.EndRun(ctx, run.Ticket, models.RunStatusClosed))
}

func TestSetLastError(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	run := r.StartRun(ctx, "qbwc", "", models.RunKindBulkSync, "")
	r.SetLastError(ctx, run.ID, "iterator expired")

	resolved := r.ResolveTicket(ctx, run.Ticket)
	require.NotNil(t, resolved)
	assert.Equal(t, "iterator expired", resolved.LastError)
}

func TestSweepEvictsAbandonedRuns(t *testing.T) {
	r := newTestRegistry(t, 10*time.Millisecond)
	ctx := context.Background()

	stale := r.StartRun(ctx, "qbwc", "", models.RunKindBulkSync, "")
	time.Sleep(25 * time.Millisecond)
	fresh := r.StartRun(ctx, "qbwc", "", models.RunKindBulkSync, "")

	r.sweep()

	assert.Nil(t, r.ResolveTicket(ctx, stale.Ticket))
	assert.NotNil(t, r.ResolveTicket(ctx, fresh.Ticket))
	assert.Equal(t, 1, r.ActiveRuns())
}

func TestRecordVersions(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	run := r.StartRun(ctx, "qbwc", "", models.RunKindBulkSync, "")
	r.RecordVersions(ctx, run.Ticket, "qbxml 13.0", "trellis-bridge 1.0.0")

	resolved := r.ResolveTicket(ctx, run.Ticket)
	require.NotNil(t, resolved)
	assert.Equal(t, "qbxml 13.0", resolved.ClientVersion)
	assert.Equal(t, "trellis-bridge 1.0.0", resolved.ServerVersion)
}
