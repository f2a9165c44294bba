package export

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/trellis/pkg/models"
)

type fakeInvoiceStore struct {
	pendingID  *string
	invoice    *models.Invoice
	lines      []models.InvoiceLine
	exportedID string
	qbTxnID    string
	failedID   string
	failedMsg  string
}

func (f *fakeInvoiceStore) NextPendingID(ctx context.Context) (*string, error) {
	return f.pendingID, nil
}

func (f *fakeInvoiceStore) Get(ctx context.Context, id string) (*models.Invoice, error) {
	return f.invoice, nil
}

func (f *fakeInvoiceStore) GetLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error) {
	return f.lines, nil
}

func (f *fakeInvoiceStore) MarkExported(ctx context.Context, id, qbTxnID, qbEditSequence string) error {
	f.exportedID = id
	f.qbTxnID = qbTxnID
	return nil
}

func (f *fakeInvoiceStore) MarkExportFailed(ctx context.Context, id, message string) error {
	f.failedID = id
	f.failedMsg = message
	return nil
}

type fakeTaxConfigSource struct {
	taxCfg *models.TaxConfig
}

func (f *fakeTaxConfigSource) GetTaxConfig(ctx context.Context) (*models.TaxConfig, error) {
	return f.taxCfg, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func strPtr(s string) *string { return &s }

func readyInvoice() *models.Invoice {
	return &models.Invoice{
		ID:             "inv-1",
		WorkOrderID:    "wo-1",
		CustomerListID: strPtr("80000001-1"),
		RefNumber:      "WO-1042",
		TxnDate:        time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Status:         models.InvoiceStatusReady,
		Subtotal:       105,
		Tax:            13.65,
		Total:          118.65,
	}
}

func TestBuildAddPayload(t *testing.T) {
	store := &fakeInvoiceStore{
		invoice: readyInvoice(),
		lines: []models.InvoiceLine{
			{LineNumber: 1, ItemListID: strPtr("80000010-1"), Description: "Dana - Shop Labour", Qty: 1, Rate: 80, Amount: 80, SourceType: models.LineSourceLabour, Taxable: true},
			{LineNumber: 2, ItemListID: strPtr("80000099-1"), Description: "Hydraulic Hose", Qty: 1, Rate: 25, Amount: 25, SourceType: models.LineSourceParts, Taxable: true},
			{LineNumber: 3, ItemListID: strPtr("80000020-1"), Description: "HST ON", Qty: 1, Rate: 13.65, Amount: 13.65, SourceType: models.LineSourceTax},
		},
	}
	taxes := &fakeTaxConfigSource{taxCfg: &models.TaxConfig{Rate: 0.13, TaxItemFullName: strPtr("HST ON")}}
	svc := NewService(store, taxes, nil, testLogger())

	add, err := svc.BuildAddPayload(context.Background(), "inv-1")
	require.NoError(t, err)

	assert.Equal(t, "80000001-1", add.CustomerListID)
	assert.Equal(t, "WO-1042", add.RefNumber)
	require.NotNil(t, add.TaxItemFullName)
	assert.Equal(t, "HST ON", *add.TaxItemFullName)

	// tax line stays home; QuickBooks recomputes tax from the item ref
	require.Len(t, add.Lines, 2)
	assert.Equal(t, "80000010-1", add.Lines[0].ItemListID)
	assert.Equal(t, "Hydraulic Hose", add.Lines[1].Description)
}

func TestBuildAddPayload_ZeroTaxOmitsTaxItemRef(t *testing.T) {
	inv := readyInvoice()
	inv.Subtotal = 105
	inv.Tax = 0
	inv.Total = 105
	store := &fakeInvoiceStore{
		invoice: inv,
		lines: []models.InvoiceLine{
			{LineNumber: 1, ItemListID: strPtr("80000010-1"), Description: "Dana - Shop Labour", Qty: 1, Rate: 80, Amount: 80, SourceType: models.LineSourceLabour},
		},
	}
	taxes := &fakeTaxConfigSource{taxCfg: &models.TaxConfig{Rate: 0.13, TaxItemFullName: strPtr("HST ON")}}
	svc := NewService(store, taxes, nil, testLogger())

	add, err := svc.BuildAddPayload(context.Background(), "inv-1")
	require.NoError(t, err)

	// a tax ref would make QuickBooks add tax the snapshot says is zero
	assert.Nil(t, add.TaxItemFullName)
}

func TestBuildAddPayload_MissingCustomerMapping(t *testing.T) {
	inv := readyInvoice()
	inv.CustomerListID = nil
	store := &fakeInvoiceStore{invoice: inv}
	svc := NewService(store, &fakeTaxConfigSource{taxCfg: &models.TaxConfig{}}, nil, testLogger())

	_, err := svc.BuildAddPayload(context.Background(), "inv-1")
	assert.Error(t, err)
}

func TestBuildAddPayload_MissingItemMapping(t *testing.T) {
	store := &fakeInvoiceStore{
		invoice: readyInvoice(),
		lines: []models.InvoiceLine{
			{LineNumber: 1, Description: "Unmapped", Qty: 1, Rate: 10, Amount: 10, SourceType: models.LineSourceFees},
		},
	}
	svc := NewService(store, &fakeTaxConfigSource{taxCfg: &models.TaxConfig{}}, nil, testLogger())

	_, err := svc.BuildAddPayload(context.Background(), "inv-1")
	assert.Error(t, err)
}

func TestBuildAddPayload_AlreadyExported(t *testing.T) {
	inv := readyInvoice()
	inv.Status = models.InvoiceStatusExported
	store := &fakeInvoiceStore{invoice: inv}
	svc := NewService(store, &fakeTaxConfigSource{taxCfg: &models.TaxConfig{}}, nil, testLogger())

	_, err := svc.BuildAddPayload(context.Background(), "inv-1")
	assert.Error(t, err)
}

func TestOnExportSuccess(t *testing.T) {
	store := &fakeInvoiceStore{invoice: readyInvoice()}
	svc := NewService(store, &fakeTaxConfigSource{taxCfg: &models.TaxConfig{}}, nil, testLogger())

	err := svc.OnExportSuccess(context.Background(), "inv-1", "TXN-9", "17")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", store.exportedID)
	assert.Equal(t, "TXN-9", store.qbTxnID)
}

func TestOnExportFailure(t *testing.T) {
	store := &fakeInvoiceStore{invoice: readyInvoice()}
	svc := NewService(store, &fakeTaxConfigSource{taxCfg: &models.TaxConfig{}}, nil, testLogger())

	err := svc.OnExportFailure(context.Background(), "inv-1", "3140: customer ref invalid")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", store.failedID)
	assert.Equal(t, "3140: customer ref invalid", store.failedMsg)
}

func TestNextPendingInvoiceID(t *testing.T) {
	store := &fakeInvoiceStore{pendingID: strPtr("inv-7")}
	svc := NewService(store, &fakeTaxConfigSource{taxCfg: &models.TaxConfig{}}, nil, testLogger())

	id, err := svc.NextPendingInvoiceID(context.Background())
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "inv-7", *id)

	store.pendingID = nil
	id, err = svc.NextPendingInvoiceID(context.Background())
	require.NoError(t, err)
	assert.Nil(t, id)
}
