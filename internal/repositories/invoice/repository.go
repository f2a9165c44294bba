package invoice

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

// ErrAlreadyExported is returned when a snapshot rebuild targets an invoice
// that has already been pushed to QuickBooks. Exported invoices and their
// lines are immutable.
var ErrAlreadyExported = httperror.NewHTTPError(http.StatusConflict, "invoice already exported; cannot rebuild")

const invoiceColumns = "id, work_order_id, customer_list_id, ref_number, txn_date, po_number, memo, subtotal, tax_rate, tax, total, status, error_message, content_hash, attempt_count, qb_txn_id, qb_edit_sequence, exported_at, last_attempt_at, created_at, updated_at"

// Repository persists invoice headers and their wholly-owned lines.
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

// GetByRefNumber retrieves an invoice by its deterministic reference number.
// Returns nil without an error when no invoice exists yet.
func (r *Repository) GetByRefNumber(ctx context.Context, refNumber string) (*models.Invoice, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.GetByRefNumber")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(invoiceColumns)
	sb.From("invoices")
	sb.Where(sb.Equal("ref_number", refNumber))
	sb.Limit(1)

	query, args := sb.Build()
	var inv models.Invoice
	if err := r.db.GetContext(ctx, &inv, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ref_number": refNumber}).Error("Failed to get invoice by ref number")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get invoice")
	}
	return &inv, nil
}

// Get retrieves an invoice by ID.
func (r *Repository) Get(ctx context.Context, id string) (*models.Invoice, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(invoiceColumns)
	sb.From("invoices")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var inv models.Invoice
	if err := r.db.GetContext(ctx, &inv, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "invoice %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get invoice")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get invoice")
	}
	return &inv, nil
}

// GetLines returns an invoice's lines in line-number order.
func (r *Repository) GetLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.GetLines")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "invoice_id", "line_number", "item_list_id", "description", "qty", "rate", "amount", "source_type", "source_id", "taxable", "service_date", "class_name")
	sb.From("invoice_lines")
	sb.Where(sb.Equal("invoice_id", invoiceID))
	sb.OrderBy("line_number ASC")

	query, args := sb.Build()
	var lines []models.InvoiceLine
	if err := r.db.SelectContext(ctx, &lines, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"invoice_id": invoiceID}).Error("Failed to get invoice lines")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get invoice lines")
	}
	return lines, nil
}

// NextPendingID returns the oldest invoice id with status Ready, or nil when
// nothing is waiting to be exported.
func (r *Repository) NextPendingID(ctx context.Context) (*string, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.NextPendingID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.From("invoices")
	sb.Where(sb.Equal("status", models.InvoiceStatusReady))
	sb.OrderBy("created_at ASC")
	sb.Limit(1)

	query, args := sb.Build()
	var id string
	if err := r.db.GetContext(ctx, &id, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get next pending invoice")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get next pending invoice")
	}
	return &id, nil
}

// SaveSnapshot upserts the invoice header and replaces its lines, all inside
// one transaction. Any failure rolls the whole snapshot back; a partial
// invoice is never visible. The upsert refuses to touch an Exported header.
func (r *Repository) SaveSnapshot(ctx context.Context, inv *models.Invoice, lines []models.InvoiceLine) (*models.Invoice, error) {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.SaveSnapshot")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"work_order_id": inv.WorkOrderID,
		"ref_number":    inv.RefNumber,
	})

	txCtx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin snapshot transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto("invoices").
		Cols("id", "work_order_id", "customer_list_id", "ref_number", "txn_date", "po_number", "memo",
			"subtotal", "tax_rate", "tax", "total", "status", "error_message", "content_hash",
			"attempt_count", "created_at", "updated_at").
		Values(uuid.New().String(), inv.WorkOrderID, inv.CustomerListID, inv.RefNumber, inv.TxnDate,
			inv.PONumber, inv.Memo, inv.Subtotal, inv.TaxRate, inv.Tax, inv.Total,
			models.InvoiceStatusReady, nil, inv.ContentHash, 0, now, now)
	ub := ib.OnConflict("ref_number")
	ub.Set(
		ub.Assign("work_order_id", database.Excluded("work_order_id")),
		ub.Assign("customer_list_id", database.Excluded("customer_list_id")),
		ub.Assign("txn_date", database.Excluded("txn_date")),
		ub.Assign("po_number", database.Excluded("po_number")),
		ub.Assign("memo", database.Excluded("memo")),
		ub.Assign("subtotal", database.Excluded("subtotal")),
		ub.Assign("tax_rate", database.Excluded("tax_rate")),
		ub.Assign("tax", database.Excluded("tax")),
		ub.Assign("total", database.Excluded("total")),
		ub.Assign("status", database.Excluded("status")),
		ub.Assign("error_message", nil),
		ub.Assign("content_hash", database.Excluded("content_hash")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	ub.Where("invoices.status <> 'Exported'")
	ib.Returning(invoiceColumns)

	query, args := ib.Build()
	var stored models.Invoice
	err = tx.GetContext(txCtx, &stored, query, args...)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			// The conflict row exists but the WHERE guard skipped it.
			return nil, ErrAlreadyExported
		}
		log.WithError(err).Error("Failed to upsert invoice header")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert invoice header")
	}

	if _, err := tx.ExecContext(txCtx, "DELETE FROM invoice_lines WHERE invoice_id = $1", stored.ID); err != nil {
		log.WithError(err).Error("Failed to delete prior invoice lines")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace invoice lines")
	}

	if len(lines) > 0 {
		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto("invoice_lines")
		ib.Cols("id", "invoice_id", "line_number", "item_list_id", "description", "qty", "rate", "amount", "source_type", "source_id", "taxable", "service_date", "class_name")
		for _, line := range lines {
			ib.Values(uuid.New().String(), stored.ID, line.LineNumber, line.ItemListID, line.Description, line.Qty, line.Rate, line.Amount, line.SourceType, line.SourceID, line.Taxable, line.ServiceDate, line.ClassName)
		}
		lineQuery, lineArgs := ib.Build()
		if _, err := tx.ExecContext(txCtx, lineQuery, lineArgs...); err != nil {
			log.WithError(err).Error("Failed to insert invoice lines")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace invoice lines")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit snapshot")
	}

	log.WithFields(map[string]any{"invoice_id": stored.ID, "lines": len(lines)}).Info("Saved invoice snapshot")
	return &stored, nil
}

// MarkExported advances the invoice to Exported, storing the external
// identifiers QuickBooks returned.
func (r *Repository) MarkExported(ctx context.Context, id, qbTxnID, qbEditSequence string) error {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.MarkExported")
	defer span.End()

	now := time.Now().UTC()
	query := `
		UPDATE invoices SET
			status = $2,
			qb_txn_id = $3,
			qb_edit_sequence = $4,
			error_message = NULL,
			exported_at = $5,
			last_attempt_at = $5,
			attempt_count = attempt_count + 1,
			updated_at = $5
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, models.InvoiceStatusExported, qbTxnID, qbEditSequence, now)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to mark invoice exported")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark invoice exported")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "invoice %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "qb_txn_id": qbTxnID}).Info("Marked invoice exported")
	return nil
}

// MarkExportFailed records a failed push attempt. The invoice stays Ready so
// the next session retries it; the prior error message is overwritten.
func (r *Repository) MarkExportFailed(ctx context.Context, id, message string) error {
	ctx, span := tracing.StartSpan(ctx, "invoice.Repository.MarkExportFailed")
	defer span.End()

	now := time.Now().UTC()
	query := `
		UPDATE invoices SET
			error_message = $2,
			last_attempt_at = $3,
			attempt_count = attempt_count + 1,
			updated_at = $3
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, message, now)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to mark invoice export failure")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark invoice export failure")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "invoice %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "error": message}).Warn("Marked invoice export failure")
	return nil
}
