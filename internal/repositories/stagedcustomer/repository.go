package stagedcustomer

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

// Repository appends pulled customers into run-tagged staging.
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

// Append inserts one page of customers tagged with the run id. An empty
// batch is a no-op returning zero affected rows.
func (r *Repository) Append(ctx context.Context, runID string, customers []models.Customer) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedcustomer.Repository.Append")
	defer span.End()

	if len(customers) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("staged_customers")
	ib.Cols("id", "run_id", "list_id", "name", "full_name", "company_name", "email", "phone", "is_active", "time_modified", "created_at")
	for _, customer := range customers {
		ib.Values(uuid.New().String(), runID, customer.ListID, customer.Name, customer.FullName, customer.CompanyName, customer.Email, customer.Phone, customer.IsActive, customer.TimeModified, now)
	}

	query, args := ib.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID, "count": len(customers)}).Error("Failed to append staged customers")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append staged customers")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": runID, "count": rows}).Debug("Appended staged customers")
	return rows, nil
}

// CountByRun returns the number of staged rows for a run.
func (r *Repository) CountByRun(ctx context.Context, runID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedcustomer.Repository.CountByRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("staged_customers")
	sb.Where(sb.Equal("run_id", runID))

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to count staged customers")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count staged customers")
	}
	return count, nil
}
