package billing

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/fieldserve/trellis/config"
	"github.com/fieldserve/trellis/pkg/database"
	"github.com/fieldserve/trellis/pkg/models"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// Repository reads the live billing data the snapshot builder consumes.
// Everything here is read-only; the bridge never mutates work orders.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
	cfg    *config.Config
}

func NewRepository(db database.DB, logger ectologger.Logger, cfg *config.Config) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		cfg:    cfg,
	}
}

// GetWorkOrder returns nil without an error when the work order does not
// exist; callers translate that into their own not-found semantics.
func (r *Repository) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	ctx, span := tracing.StartSpan(ctx, "billing.Repository.GetWorkOrder")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "number", "customer_name", "customer_list_id", "po_number")
	sb.From("work_orders")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var wo models.WorkOrder
	if err := r.db.GetContext(ctx, &wo, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"work_order_id": id}).Error("Failed to get work order")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get work order")
	}
	return &wo, nil
}

// ListBillableRows reads the aggregated invoice-preview view for one work
// order. The view owns the per-category aggregation; this just fetches it.
func (r *Repository) ListBillableRows(ctx context.Context, workOrderID string) ([]models.BillableRow, error) {
	ctx, span := tracing.StartSpan(ctx, "billing.Repository.ListBillableRows")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("work_order_id", "source_id", "category", "technician_name", "item_name", "item_list_id", "unit_price", "qty", "amount")
	sb.From("invoice_preview")
	sb.Where(sb.Equal("work_order_id", workOrderID))

	query, args := sb.Build()
	var rows []models.BillableRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"work_order_id": workOrderID}).Error("Failed to list billable rows")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list billable rows")
	}
	return rows, nil
}

// GetTaxConfig reads the qb_settings row, falling back to the configured
// defaults for anything the row leaves unset. A missing row is not an error;
// the defaults stand alone.
func (r *Repository) GetTaxConfig(ctx context.Context) (*models.TaxConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "billing.Repository.GetTaxConfig")
	defer span.End()

	taxCfg := &models.TaxConfig{
		Rate:               r.cfg.TaxRate,
		FallbackItemListID: r.cfg.FallbackItemListID,
	}
	if r.cfg.TaxItemName != "" {
		name := r.cfg.TaxItemName
		taxCfg.TaxItemFullName = &name
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("tax_rate", "tax_item_full_name", "tax_item_list_id", "fallback_item_list_id")
	sb.From("qb_settings")
	sb.OrderBy("updated_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var row struct {
		TaxRate            *float64 `db:"tax_rate"`
		TaxItemFullName    *string  `db:"tax_item_full_name"`
		TaxItemListID      *string  `db:"tax_item_list_id"`
		FallbackItemListID *string  `db:"fallback_item_list_id"`
	}
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return taxCfg, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get tax config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get tax config")
	}

	if row.TaxRate != nil {
		taxCfg.Rate = *row.TaxRate
	}
	if row.TaxItemFullName != nil && *row.TaxItemFullName != "" {
		taxCfg.TaxItemFullName = row.TaxItemFullName
	}
	if row.TaxItemListID != nil && *row.TaxItemListID != "" {
		taxCfg.TaxItemListID = row.TaxItemListID
	}
	if row.FallbackItemListID != nil && *row.FallbackItemListID != "" {
		taxCfg.FallbackItemListID = *row.FallbackItemListID
	}
	return taxCfg, nil
}
