package snapshot

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/trellis/pkg/models"
)

type fakeBillingStore struct {
	workOrder *models.WorkOrder
	rows      []models.BillableRow
	taxCfg    *models.TaxConfig
}

func (f *fakeBillingStore) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	return f.workOrder, nil
}

func (f *fakeBillingStore) ListBillableRows(ctx context.Context, workOrderID string) ([]models.BillableRow, error) {
	return f.rows, nil
}

func (f *fakeBillingStore) GetTaxConfig(ctx context.Context) (*models.TaxConfig, error) {
	return f.taxCfg, nil
}

type fakeInvoiceStore struct {
	existing   *models.Invoice
	savedInv   *models.Invoice
	savedLines []models.InvoiceLine
}

func (f *fakeInvoiceStore) GetByRefNumber(ctx context.Context, refNumber string) (*models.Invoice, error) {
	return f.existing, nil
}

func (f *fakeInvoiceStore) SaveSnapshot(ctx context.Context, inv *models.Invoice, lines []models.InvoiceLine) (*models.Invoice, error) {
	f.savedInv = inv
	f.savedLines = lines
	stored := *inv
	stored.ID = "inv-1"
	return &stored, nil
}

func (f *fakeInvoiceStore) GetLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error) {
	return f.savedLines, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func strPtr(s string) *string { return &s }

func TestBuild_ComputesTotalsAndTaxLine(t *testing.T) {
	billing := &fakeBillingStore{
		workOrder: &models.WorkOrder{
			ID:             "wo-1",
			Number:         "1042",
			CustomerName:   "Acme Farms",
			CustomerListID: strPtr("80000001-1"),
		},
		rows: []models.BillableRow{
			{WorkOrderID: "wo-1", SourceID: "parts-7", Category: models.LineSourceParts, TechnicianName: "Dana", ItemName: "Hydraulic Hose", UnitPrice: 25, Qty: 1, Amount: 25},
			{WorkOrderID: "wo-1", SourceID: "lab-3", Category: models.LineSourceLabour, TechnicianName: "Dana", ItemName: "Shop Labour", ItemListID: strPtr("80000010-1"), UnitPrice: 80, Qty: 1, Amount: 80},
			{WorkOrderID: "wo-1", SourceID: "fee-2", Category: models.LineSourceFees, ItemName: "Shop Supplies", ItemListID: strPtr("80000011-1"), UnitPrice: 10, Qty: 1, Amount: 10},
		},
		taxCfg: &models.TaxConfig{
			Rate:               0.13,
			TaxItemFullName:    strPtr("HST ON"),
			TaxItemListID:      strPtr("80000020-1"),
			FallbackItemListID: "80000099-1",
		},
	}
	invoices := &fakeInvoiceStore{}
	svc := NewService(billing, invoices, testLogger())

	inv, err := svc.Build(context.Background(), "wo-1")
	require.NoError(t, err)

	assert.Equal(t, "WO-1042", inv.RefNumber)
	assert.Equal(t, 115.00, inv.Subtotal)
	assert.Equal(t, 14.95, inv.Tax)
	assert.Equal(t, 129.95, inv.Total)
	assert.Equal(t, models.InvoiceStatusReady, inv.Status)
	assert.NotEmpty(t, inv.ContentHash)

	require.Len(t, invoices.savedLines, 4)

	// labour sorts before parts before fees, tax line trails
	assert.Equal(t, models.LineSourceLabour, invoices.savedLines[0].SourceType)
	assert.Equal(t, models.LineSourceParts, invoices.savedLines[1].SourceType)
	assert.Equal(t, models.LineSourceFees, invoices.savedLines[2].SourceType)
	assert.Equal(t, models.LineSourceTax, invoices.savedLines[3].SourceType)

	// unmapped parts row gets the fallback item
	require.NotNil(t, invoices.savedLines[1].ItemListID)
	assert.Equal(t, "80000099-1", *invoices.savedLines[1].ItemListID)

	// tax line carries the configured tax item and is not itself taxable
	taxLine := invoices.savedLines[3]
	assert.Equal(t, "HST ON", taxLine.Description)
	assert.Equal(t, 14.95, taxLine.Amount)
	assert.False(t, taxLine.Taxable)

	// line numbers are contiguous from 1
	for i, line := range invoices.savedLines {
		assert.Equal(t, i+1, line.LineNumber)
	}
}

func TestBuild_RefusesExportedInvoice(t *testing.T) {
	billing := &fakeBillingStore{
		workOrder: &models.WorkOrder{ID: "wo-1", Number: "1042"},
		taxCfg:    &models.TaxConfig{Rate: 0.13},
	}
	invoices := &fakeInvoiceStore{
		existing: &models.Invoice{RefNumber: "WO-1042", Status: models.InvoiceStatusExported},
	}
	svc := NewService(billing, invoices, testLogger())

	_, err := svc.Build(context.Background(), "wo-1")
	assert.ErrorIs(t, err, ErrAlreadyExported)
	assert.Nil(t, invoices.savedInv)
}

func TestBuild_WorkOrderNotFound(t *testing.T) {
	svc := NewService(&fakeBillingStore{}, &fakeInvoiceStore{}, testLogger())

	_, err := svc.Build(context.Background(), "missing")
	assert.Error(t, err)
}

func TestBuild_NoBillableRows(t *testing.T) {
	billing := &fakeBillingStore{
		workOrder: &models.WorkOrder{ID: "wo-1", Number: "1042"},
		taxCfg:    &models.TaxConfig{Rate: 0.13},
	}
	invoices := &fakeInvoiceStore{}
	svc := NewService(billing, invoices, testLogger())

	_, err := svc.Build(context.Background(), "wo-1")
	assert.Error(t, err)
	assert.Nil(t, invoices.savedInv)
}

func TestBuild_ZeroTaxOmitsTaxLine(t *testing.T) {
	billing := &fakeBillingStore{
		workOrder: &models.WorkOrder{ID: "wo-2", Number: "7"},
		rows: []models.BillableRow{
			{WorkOrderID: "wo-2", SourceID: "lab-1", Category: models.LineSourceLabour, ItemName: "Labour", ItemListID: strPtr("80000010-1"), UnitPrice: 50, Qty: 2, Amount: 100},
		},
		taxCfg: &models.TaxConfig{Rate: 0},
	}
	invoices := &fakeInvoiceStore{}
	svc := NewService(billing, invoices, testLogger())

	inv, err := svc.Build(context.Background(), "wo-2")
	require.NoError(t, err)
	assert.Equal(t, 100.00, inv.Subtotal)
	assert.Equal(t, 0.00, inv.Tax)
	require.Len(t, invoices.savedLines, 1)
}

func TestBuild_HashStableAcrossRebuilds(t *testing.T) {
	billing := &fakeBillingStore{
		workOrder: &models.WorkOrder{ID: "wo-3", Number: "88"},
		rows: []models.BillableRow{
			{WorkOrderID: "wo-3", SourceID: "lab-1", Category: models.LineSourceLabour, ItemName: "Labour", ItemListID: strPtr("80000010-1"), UnitPrice: 60, Qty: 1, Amount: 60},
		},
		taxCfg: &models.TaxConfig{Rate: 0.13, TaxItemListID: strPtr("80000020-1")},
	}
	svc := NewService(billing, &fakeInvoiceStore{}, testLogger())

	first, err := svc.Build(context.Background(), "wo-3")
	require.NoError(t, err)
	second, err := svc.Build(context.Background(), "wo-3")
	require.NoError(t, err)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestGetStatus(t *testing.T) {
	t.Run("work order missing", func(t *testing.T) {
		svc := NewService(&fakeBillingStore{}, &fakeInvoiceStore{}, testLogger())
		result, err := svc.GetStatus(context.Background(), "missing")
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceStatusStateNotFound, result.State)
	})

	t.Run("no invoice yet", func(t *testing.T) {
		billing := &fakeBillingStore{workOrder: &models.WorkOrder{ID: "wo-1", Number: "1042"}}
		svc := NewService(billing, &fakeInvoiceStore{}, testLogger())
		result, err := svc.GetStatus(context.Background(), "wo-1")
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceStatusStateNone, result.State)
		assert.Equal(t, "WO-1042", result.RefNumber)
	})

	t.Run("invoice found", func(t *testing.T) {
		billing := &fakeBillingStore{workOrder: &models.WorkOrder{ID: "wo-1", Number: "1042"}}
		invoices := &fakeInvoiceStore{existing: &models.Invoice{
			RefNumber:    "WO-1042",
			Status:       models.InvoiceStatusExported,
			QBTxnID:      strPtr("ABC-123"),
			AttemptCount: 2,
		}}
		svc := NewService(billing, invoices, testLogger())
		result, err := svc.GetStatus(context.Background(), "wo-1")
		require.NoError(t, err)
		assert.Equal(t, models.InvoiceStatusStateFound, result.State)
		assert.Equal(t, models.InvoiceStatusExported, result.Status)
		require.NotNil(t, result.QBTxnID)
		assert.Equal(t, "ABC-123", *result.QBTxnID)
	})
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 14.95, Round2(14.9495))
	assert.Equal(t, 0.13, Round2(0.125))
	assert.Equal(t, -0.13, Round2(-0.125))
	assert.Equal(t, 100.00, Round2(100))
}
