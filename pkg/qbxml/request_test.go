package qbxml

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/trellis/pkg/models"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func TestBuildStartQuery_CompanyProbe(t *testing.T) {
	b := NewRequestBuilder(Version{Major: 13, Minor: 0})

	payload, err := b.BuildStartQuery(models.PhaseCompany, QueryFilters{})
	require.NoError(t, err)
	golden(t).Assert(t, "company_probe", []byte(payload))
}

func TestBuildStartQuery_InventoryWithFilters(t *testing.T) {
	b := NewRequestBuilder(Version{Major: 13, Minor: 0})
	since := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	payload, err := b.BuildStartQuery(models.PhaseInventoryItems, QueryFilters{
		MaxReturned:      100,
		ActiveOnly:       true,
		FromModifiedDate: &since,
		IncludeFields:    []string{"ListID", "Name"},
	})
	require.NoError(t, err)
	golden(t).Assert(t, "inventory_start", []byte(payload))
}

func TestBuildContinueQuery(t *testing.T) {
	b := NewRequestBuilder(Version{Major: 13, Minor: 0})

	payload, err := b.BuildContinueQuery(models.PhaseCustomers, "{C3-77}", 100)
	require.NoError(t, err)
	golden(t).Assert(t, "customer_continue", []byte(payload))
}

func TestBuildContinueQuery_RequiresIteratorID(t *testing.T) {
	b := NewRequestBuilder(Version{Major: 13, Minor: 0})

	_, err := b.BuildContinueQuery(models.PhaseCustomers, "", 100)
	assert.Error(t, err)
}

func TestBuildStartQuery_UnknownPhase(t *testing.T) {
	b := NewRequestBuilder(Version{Major: 13, Minor: 0})

	_, err := b.BuildStartQuery(models.PhaseDone, QueryFilters{})
	assert.Error(t, err)
}

func TestBuildInvoiceAdd(t *testing.T) {
	b := NewRequestBuilder(Version{Major: 13, Minor: 0})
	serviceDate := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	payload, err := b.BuildInvoiceAdd(models.InvoiceAdd{
		CustomerListID:  "80000001-1",
		RefNumber:       "WO-1042",
		TxnDate:         time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		PONumber:        strPtr("PO-77"),
		Memo:            strPtr("Work order 1042"),
		TaxItemFullName: strPtr("HST ON"),
		Lines: []models.InvoiceLineAdd{
			{
				ItemListID:  "80000010-1",
				Description: "Dana - Shop Labour",
				Quantity:    2.5,
				Rate:        80,
				Taxable:     boolPtr(true),
			},
			{
				ItemListID:  "80000099-1",
				Description: `Hose & fittings 1/4"`,
				Quantity:    1,
				Rate:        12.5,
				ClassName:   strPtr("Field Service"),
				ServiceDate: &serviceDate,
				Taxable:     boolPtr(false),
			},
		},
	})
	require.NoError(t, err)
	golden(t).Assert(t, "invoice_add", []byte(payload))
}

func TestBuildInvoiceAdd_RequiresCustomer(t *testing.T) {
	b := NewRequestBuilder(Version{Major: 13, Minor: 0})

	_, err := b.BuildInvoiceAdd(models.InvoiceAdd{RefNumber: "WO-1"})
	assert.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "80", formatNumber(80))
	assert.Equal(t, "12.5", formatNumber(12.5))
	assert.Equal(t, "0.13", formatNumber(0.13))
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "-4.25", formatNumber(-4.25))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "Hose &amp; fittings 1/4&quot;", Escape(`Hose & fittings 1/4"`))
	assert.Equal(t, "&lt;tag&gt;", Escape("<tag>"))
	assert.Equal(t, "O&apos;Leary", Escape("O'Leary"))
}
