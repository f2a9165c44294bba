package stagedinventoryitem

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

// Repository appends pulled inventory items into run-tagged staging.
// No dedup or merge happens here; promotion into canonical storage is an
// external collaborator's job.
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

// Append inserts one page of items tagged with the run id. An empty batch is
// a no-op returning zero affected rows.
func (r *Repository) Append(ctx context.Context, runID string, items []models.InventoryItem) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedinventoryitem.Repository.Append")
	defer span.End()

	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("staged_inventory_items")
	ib.Cols("id", "run_id", "list_id", "name", "full_name", "is_active", "sales_desc", "sales_price", "purchase_cost", "quantity_on_hand", "time_modified", "created_at")
	for _, item := range items {
		ib.Values(uuid.New().String(), runID, item.ListID, item.Name, item.FullName, item.IsActive, item.SalesDesc, item.SalesPrice, item.PurchaseCost, item.QuantityOnHand, item.TimeModified, now)
	}

	query, args := ib.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID, "count": len(items)}).Error("Failed to append staged inventory items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append staged inventory items")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": runID, "count": rows}).Debug("Appended staged inventory items")
	return rows, nil
}

// CountByRun returns the number of staged rows for a run.
func (r *Repository) CountByRun(ctx context.Context, runID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedinventoryitem.Repository.CountByRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("staged_inventory_items")
	sb.Where(sb.Equal("run_id", runID))

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to count staged inventory items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count staged inventory items")
	}
	return count, nil
}
