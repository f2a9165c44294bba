package stagedotheritem

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/fieldserve/trellis/pkg/database"
	"github.com/fieldserve/trellis/pkg/models"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// Repository is the shared staging destination for the four "other item"
// subtypes: non-inventory, other-charge, sales-tax items, and sales-tax
// groups. The first page of the first subtype in a session truncates the
// destination; every later page and subtype appends.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Truncate clears the destination ahead of a fresh pull.
func (r *Repository) Truncate(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "stagedotheritem.Repository.Truncate")
	defer span.End()

	if _, err := r.db.ExecContext(ctx, "DELETE FROM staged_other_items"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to truncate staged other items")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to truncate staged other items")
	}
	r.logger.WithContext(ctx).Info("Truncated staged other items")
	return nil
}

// Append inserts one page of items tagged with the run id and subtype. An
// empty batch is a no-op returning zero affected rows.
func (r *Repository) Append(ctx context.Context, runID string, items []models.OtherItem) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedotheritem.Repository.Append")
	defer span.End()

	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("staged_other_items")
	ib.Cols("id", "run_id", "subtype", "list_id", "name", "full_name", "is_active", "description", "price", "tax_rate", "time_modified", "created_at")
	for _, item := range items {
		ib.Values(uuid.New().String(), runID, item.Subtype, item.ListID, item.Name, item.FullName, item.IsActive, item.Description, item.Price, item.TaxRate, item.TimeModified, now)
	}

	query, args := ib.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID, "count": len(items)}).Error("Failed to append staged other items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append staged other items")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": runID, "count": rows}).Debug("Appended staged other items")
	return rows, nil
}

// CountBySubtype returns per-subtype row counts for the destination.
func (r *Repository) CountBySubtype(ctx context.Context) (map[models.OtherItemSubtype]int, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedotheritem.Repository.CountBySubtype")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("subtype", "COUNT(*) AS count")
	sb.From("staged_other_items")
	sb.GroupBy("subtype")

	query, args := sb.Build()
	var rows []struct {
		Subtype models.OtherItemSubtype `db:"subtype"`
		Count   int                     `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count staged other items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count staged other items")
	}

	counts := make(map[models.OtherItemSubtype]int, len(rows))
	for _, row := range rows {
		counts[row.Subtype] = row.Count
	}
	return counts, nil
}
