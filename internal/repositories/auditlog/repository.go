package auditlog

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/fieldserve/trellis/pkg/database"
	"github.com/fieldserve/trellis/pkg/models"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// Repository is the append-only sink for protocol and lifecycle events.
// Write-only from the bridge's point of view; the list methods exist for the
// admin surface, never for the exchange path.
type Repository struct {
	db              database.DB
	logger          ectologger.Logger
	maxPayloadBytes int
}

func NewRepository(db database.DB, logger ectologger.Logger, maxPayloadBytes int) *Repository {
	return &Repository{
		db:              db,
		logger:          logger,
		maxPayloadBytes: maxPayloadBytes,
	}
}

// Append writes one event. Oversized payloads are truncated, never rejected;
// an audit write must not fault a live session.
func (r *Repository) Append(ctx context.Context, entry models.AuditLogEntry) error {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.Append")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Direction == "" {
		entry.Direction = models.AuditDirectionNone
	}

	payload := entry.Payload
	message := entry.Message
	if payload != nil && r.maxPayloadBytes > 0 && len(*payload) > r.maxPayloadBytes {
		truncated := truncatePayload(*payload, r.maxPayloadBytes)
		payload = &truncated
		message = fmt.Sprintf("%s (payload truncated to %d bytes)", message, len(truncated))
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("qb_audit_log")
	ib.Cols("id", "run_id", "method", "direction", "status_code", "message", "payload", "company_file", "created_at")
	ib.Values(entry.ID, entry.RunID, entry.Method, entry.Direction, entry.StatusCode, message, payload, entry.CompanyFile, entry.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": entry.RunID, "method": entry.Method}).Error("Failed to append audit log entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append audit log entry")
	}
	return nil
}

// truncatePayload cuts the payload at maxBytes, backing off to the nearest
// rune boundary so the stored text stays valid UTF-8.
func truncatePayload(payload string, maxBytes int) string {
	if len(payload) <= maxBytes {
		return payload
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return payload[:cut]
}

// ListByRun returns a run's events in chronological order.
func (r *Repository) ListByRun(ctx context.Context, runID string, limit int) ([]models.AuditLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.ListByRun")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 200
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "run_id", "method", "direction", "status_code", "message", "payload", "company_file", "created_at")
	sb.From("qb_audit_log")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("created_at ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to list audit log entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list audit log entries")
	}
	return entries, nil
}
