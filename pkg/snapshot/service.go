// Package snapshot freezes a work order's live billing data into an
// exportable invoice: header, ordered lines, computed totals, and a content
// hash. A snapshot can be rebuilt any number of times until it is exported.
package snapshot

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/fieldserve/trellis/pkg/fingerprint"
	"github.com/fieldserve/trellis/pkg/models"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// ErrAlreadyExported is returned when a rebuild targets an exported invoice.
var ErrAlreadyExported = httperror.NewHTTPError(http.StatusConflict, "invoice already exported; cannot rebuild")

// RefNumberPrefix makes invoice ref numbers a deterministic function of the
// work-order number.
const RefNumberPrefix = "WO-"

// BillingStore is the read side: live work-order and billing data.
type BillingStore interface {
	GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error)
	ListBillableRows(ctx context.Context, workOrderID string) ([]models.BillableRow, error)
	GetTaxConfig(ctx context.Context) (*models.TaxConfig, error)
}

// InvoiceStore is the write side: invoice headers and lines.
type InvoiceStore interface {
	GetByRefNumber(ctx context.Context, refNumber string) (*models.Invoice, error)
	SaveSnapshot(ctx context.Context, inv *models.Invoice, lines []models.InvoiceLine) (*models.Invoice, error)
	GetLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error)
}

type Service struct {
	billing  BillingStore
	invoices InvoiceStore
	logger   ectologger.Logger
}

func NewService(billing BillingStore, invoices InvoiceStore, logger ectologger.Logger) *Service {
	return &Service{
		billing:  billing,
		invoices: invoices,
		logger:   logger,
	}
}

// Build computes a fresh snapshot for the work order and persists it,
// replacing any prior unexported snapshot for the same ref number.
func (s *Service) Build(ctx context.Context, workOrderID string) (*models.Invoice, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Service.Build")
	defer span.End()

	wo, err := s.billing.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "work order %s not found", workOrderID)
	}

	refNumber := RefNumberPrefix + wo.Number
	existing, err := s.invoices.GetByRefNumber(ctx, refNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == models.InvoiceStatusExported {
		return nil, ErrAlreadyExported
	}

	rows, err := s.billing.ListBillableRows(ctx, wo.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "work order %s has no billable rows", workOrderID)
	}
	taxCfg, err := s.billing.GetTaxConfig(ctx)
	if err != nil {
		return nil, err
	}

	lines, subtotal := s.buildLines(rows, taxCfg)
	tax := Round2(subtotal * taxCfg.Rate)
	total := Round2(subtotal + tax)

	if tax != 0 {
		lines = append(lines, models.InvoiceLine{
			LineNumber:  len(lines) + 1,
			ItemListID:  taxCfg.TaxItemListID,
			Description: taxLineDescription(taxCfg),
			Qty:         1,
			Rate:        tax,
			Amount:      tax,
			SourceType:  models.LineSourceTax,
			Taxable:     false,
		})
	}

	memo := fmt.Sprintf("Work order %s", wo.Number)
	inv := &models.Invoice{
		WorkOrderID:    wo.ID,
		CustomerListID: wo.CustomerListID,
		RefNumber:      refNumber,
		TxnDate:        time.Now().UTC(),
		PONumber:       wo.PONumber,
		Memo:           &memo,
		Subtotal:       subtotal,
		TaxRate:        taxCfg.Rate,
		Tax:            tax,
		Total:          total,
		Status:         models.InvoiceStatusReady,
	}

	hash, err := s.hash(inv, lines)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ref_number": refNumber}).Error("Failed to hash invoice snapshot")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to hash invoice snapshot")
	}
	inv.ContentHash = hash

	stored, err := s.invoices.SaveSnapshot(ctx, inv, lines)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"work_order_id": wo.ID,
		"ref_number":    refNumber,
		"lines":         len(lines),
		"total":         total,
	}).Info("Built invoice snapshot")
	return stored, nil
}

// GetStatus reports where a work order's invoice sits in the export
// lifecycle without touching anything.
func (s *Service) GetStatus(ctx context.Context, workOrderID string) (*models.InvoiceStatusResult, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Service.GetStatus")
	defer span.End()

	wo, err := s.billing.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return &models.InvoiceStatusResult{State: models.InvoiceStatusStateNotFound}, nil
	}

	refNumber := RefNumberPrefix + wo.Number
	inv, err := s.invoices.GetByRefNumber(ctx, refNumber)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return &models.InvoiceStatusResult{State: models.InvoiceStatusStateNone, RefNumber: refNumber}, nil
	}

	return &models.InvoiceStatusResult{
		State:          models.InvoiceStatusStateFound,
		RefNumber:      inv.RefNumber,
		Status:         inv.Status,
		ErrorMessage:   inv.ErrorMessage,
		QBTxnID:        inv.QBTxnID,
		QBEditSequence: inv.QBEditSequence,
		AttemptCount:   inv.AttemptCount,
		LastAttemptAt:  inv.LastAttemptAt,
	}, nil
}

// buildLines sorts billable rows into a stable presentation order and maps
// them to invoice lines. Parts rows with no mapped item fall back to the
// configured generic item so the invoice never references nothing.
func (s *Service) buildLines(rows []models.BillableRow, taxCfg *models.TaxConfig) ([]models.InvoiceLine, float64) {
	sorted := make([]models.BillableRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if a, b := categoryRank(sorted[i].Category), categoryRank(sorted[j].Category); a != b {
			return a < b
		}
		if sorted[i].TechnicianName != sorted[j].TechnicianName {
			return sorted[i].TechnicianName < sorted[j].TechnicianName
		}
		return sorted[i].ItemName < sorted[j].ItemName
	})

	lines := make([]models.InvoiceLine, 0, len(sorted))
	var subtotal float64
	for _, row := range sorted {
		amount := Round2(row.Amount)
		subtotal += amount

		itemListID := row.ItemListID
		if itemListID == nil && row.Category == models.LineSourceParts && taxCfg.FallbackItemListID != "" {
			fallback := taxCfg.FallbackItemListID
			itemListID = &fallback
		}

		sourceID := row.SourceID
		lines = append(lines, models.InvoiceLine{
			LineNumber:  len(lines) + 1,
			ItemListID:  itemListID,
			Description: lineDescription(row),
			Qty:         row.Qty,
			Rate:        row.UnitPrice,
			Amount:      amount,
			SourceType:  row.Category,
			SourceID:    &sourceID,
			Taxable:     true,
		})
	}
	return lines, Round2(subtotal)
}

// hash fingerprints the fields that make two snapshots meaningfully equal.
// Timestamps and row ids stay out so an unchanged rebuild hashes the same.
func (s *Service) hash(inv *models.Invoice, lines []models.InvoiceLine) (string, error) {
	type hashLine struct {
		ItemListID  *string `json:"item_list_id"`
		Description string  `json:"description"`
		Qty         float64 `json:"qty"`
		Rate        float64 `json:"rate"`
		Amount      float64 `json:"amount"`
		SourceType  string  `json:"source_type"`
	}
	hashLines := make([]hashLine, 0, len(lines))
	for _, line := range lines {
		hashLines = append(hashLines, hashLine{
			ItemListID:  line.ItemListID,
			Description: line.Description,
			Qty:         line.Qty,
			Rate:        line.Rate,
			Amount:      line.Amount,
			SourceType:  line.SourceType,
		})
	}
	return fingerprint.GenerateFromValue(struct {
		RefNumber      string     `json:"ref_number"`
		CustomerListID *string    `json:"customer_list_id"`
		Subtotal       float64    `json:"subtotal"`
		TaxRate        float64    `json:"tax_rate"`
		Tax            float64    `json:"tax"`
		Total          float64    `json:"total"`
		Lines          []hashLine `json:"lines"`
	}{
		RefNumber:      inv.RefNumber,
		CustomerListID: inv.CustomerListID,
		Subtotal:       inv.Subtotal,
		TaxRate:        inv.TaxRate,
		Tax:            inv.Tax,
		Total:          inv.Total,
		Lines:          hashLines,
	})
}

// Round2 rounds to two decimals, half away from zero. All monetary math in
// the bridge goes through this so totals match what QuickBooks recomputes.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func categoryRank(category string) int {
	switch category {
	case models.LineSourceLabour:
		return 0
	case models.LineSourceParts:
		return 1
	case models.LineSourceFees:
		return 2
	default:
		return 3
	}
}

func lineDescription(row models.BillableRow) string {
	if row.TechnicianName != "" {
		return row.TechnicianName + " - " + row.ItemName
	}
	return row.ItemName
}

func taxLineDescription(taxCfg *models.TaxConfig) string {
	if taxCfg.TaxItemFullName != nil && *taxCfg.TaxItemFullName != "" {
		return *taxCfg.TaxItemFullName
	}
	return "Sales Tax"
}
