// Package export turns a Ready invoice snapshot into the structured add
// command the sync protocol carries, and records the outcome QuickBooks
// reports back.
package export

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/fieldserve/trellis/pkg/models"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// InvoiceStore is the slice of the invoice repository the exporter uses.
type InvoiceStore interface {
	NextPendingID(ctx context.Context) (*string, error)
	Get(ctx context.Context, id string) (*models.Invoice, error)
	GetLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error)
	MarkExported(ctx context.Context, id, qbTxnID, qbEditSequence string) error
	MarkExportFailed(ctx context.Context, id, message string) error
}

// TaxConfigSource resolves the configured sales-tax item at payload time.
type TaxConfigSource interface {
	GetTaxConfig(ctx context.Context) (*models.TaxConfig, error)
}

// Emitter publishes export lifecycle events. Optional; nil disables it.
type Emitter interface {
	InvoiceExported(ctx context.Context, inv *models.Invoice)
	InvoiceExportFailed(ctx context.Context, inv *models.Invoice, message string)
}

type Service struct {
	invoices InvoiceStore
	taxCfg   TaxConfigSource
	emitter  Emitter
	logger   ectologger.Logger
}

func NewService(invoices InvoiceStore, taxCfg TaxConfigSource, emitter Emitter, logger ectologger.Logger) *Service {
	return &Service{
		invoices: invoices,
		taxCfg:   taxCfg,
		emitter:  emitter,
		logger:   logger,
	}
}

// NextPendingInvoiceID returns the id of the oldest invoice waiting to be
// exported, or nil when the queue is empty.
func (s *Service) NextPendingInvoiceID(ctx context.Context) (*string, error) {
	ctx, span := tracing.StartSpan(ctx, "export.Service.NextPendingInvoiceID")
	defer span.End()

	return s.invoices.NextPendingID(ctx)
}

// BuildAddPayload assembles the invoice-add command for one snapshot. The
// synthetic tax line is excluded; QuickBooks recomputes tax from the tax item
// on the header.
func (s *Service) BuildAddPayload(ctx context.Context, invoiceID string) (*models.InvoiceAdd, error) {
	ctx, span := tracing.StartSpan(ctx, "export.Service.BuildAddPayload")
	defer span.End()

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvoiceStatusExported {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "invoice %s already exported", invoiceID)
	}
	if inv.CustomerListID == nil || *inv.CustomerListID == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "invoice %s has no customer mapping", invoiceID)
	}

	lines, err := s.invoices.GetLines(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	chargeLines := ectolinq.Filter(lines, func(line models.InvoiceLine) bool {
		return line.SourceType != models.LineSourceTax
	})
	if len(chargeLines) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "invoice %s has no billable lines", invoiceID)
	}
	for _, line := range chargeLines {
		if line.ItemListID == nil || *line.ItemListID == "" {
			return nil, httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "invoice %s line %d has no item mapping", invoiceID, line.LineNumber)
		}
	}

	add := &models.InvoiceAdd{
		CustomerListID: *inv.CustomerListID,
		RefNumber:      inv.RefNumber,
		TxnDate:        inv.TxnDate,
		PONumber:       inv.PONumber,
		Memo:           inv.Memo,
		Lines: ectolinq.Map(chargeLines, func(line models.InvoiceLine) models.InvoiceLineAdd {
			taxable := line.Taxable
			return models.InvoiceLineAdd{
				ItemListID:  *line.ItemListID,
				Description: line.Description,
				Quantity:    line.Qty,
				Rate:        line.Rate,
				ClassName:   line.ClassName,
				ServiceDate: line.ServiceDate,
				Taxable:     &taxable,
			}
		}),
	}

	// The header tax ref makes QuickBooks recompute tax, so a zero-tax
	// invoice must not carry one. The item name itself is advisory; a
	// misconfigured item should not block the export, QuickBooks falls back
	// to the company default.
	if inv.Tax != 0 {
		if taxCfg, err := s.taxCfg.GetTaxConfig(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to resolve tax item for export; omitting tax item ref")
		} else if taxCfg.TaxItemFullName != nil && *taxCfg.TaxItemFullName != "" {
			add.TaxItemFullName = taxCfg.TaxItemFullName
		}
	}

	return add, nil
}

// OnExportSuccess records the identifiers QuickBooks assigned.
func (s *Service) OnExportSuccess(ctx context.Context, invoiceID, qbTxnID, qbEditSequence string) error {
	ctx, span := tracing.StartSpan(ctx, "export.Service.OnExportSuccess")
	defer span.End()

	if err := s.invoices.MarkExported(ctx, invoiceID, qbTxnID, qbEditSequence); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"invoice_id": invoiceID,
		"qb_txn_id":  qbTxnID,
	}).Info("Invoice exported")

	if s.emitter != nil {
		if inv, err := s.invoices.Get(ctx, invoiceID); err == nil {
			s.emitter.InvoiceExported(ctx, inv)
		}
	}
	return nil
}

// OnExportFailure records the failure and leaves the invoice Ready so the
// next session retries it.
func (s *Service) OnExportFailure(ctx context.Context, invoiceID, message string) error {
	ctx, span := tracing.StartSpan(ctx, "export.Service.OnExportFailure")
	defer span.End()

	if err := s.invoices.MarkExportFailed(ctx, invoiceID, message); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"invoice_id": invoiceID,
		"error":      message,
	}).Warn("Invoice export failed")

	if s.emitter != nil {
		if inv, err := s.invoices.Get(ctx, invoiceID); err == nil {
			s.emitter.InvoiceExportFailed(ctx, inv, message)
		}
	}
	return nil
}
