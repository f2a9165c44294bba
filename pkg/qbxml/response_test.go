package qbxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/trellis/pkg/models"
)

func wrapRs(inner string) string {
	return `<?xml version="1.0" ?><QBXML><QBXMLMsgsRs>` + inner + `</QBXMLMsgsRs></QBXML>`
}

func TestParseQueryResponse_InventoryPage(t *testing.T) {
	payload := wrapRs(`<ItemInventoryQueryRs statusCode="0" statusMessage="Status OK" iteratorID="{A1}" iteratorRemainingCount="42">` +
		`<ItemInventoryRet>` +
		`<ListID>80000001-1</ListID>` +
		`<Name>Hydraulic Hose</Name>` +
		`<FullName>Parts:Hydraulic Hose</FullName>` +
		`<IsActive>true</IsActive>` +
		`<SalesDesc>1/4 inch hydraulic hose</SalesDesc>` +
		`<SalesPrice>12.50</SalesPrice>` +
		`<PurchaseCost>7.25</PurchaseCost>` +
		`<QuantityOnHand>240</QuantityOnHand>` +
		`<TimeModified>2026-02-11T09:30:00-05:00</TimeModified>` +
		`</ItemInventoryRet>` +
		`<ItemInventoryRet>` +
		`<ListID>80000002-1</ListID>` +
		`<Name>Bare Minimum</Name>` +
		`</ItemInventoryRet>` +
		`</ItemInventoryQueryRs>`)

	page, err := ParseQueryResponse(models.PhaseInventoryItems, payload)
	require.NoError(t, err)

	assert.Equal(t, 0, page.StatusCode)
	require.NotNil(t, page.IteratorID)
	assert.Equal(t, "{A1}", *page.IteratorID)
	assert.Equal(t, 42, page.Remaining)
	require.Len(t, page.InventoryItems, 2)
	assert.Equal(t, 2, page.RecordCount())

	full := page.InventoryItems[0]
	assert.Equal(t, "Parts:Hydraulic Hose", full.FullName)
	require.NotNil(t, full.SalesPrice)
	assert.Equal(t, 12.50, *full.SalesPrice)
	require.NotNil(t, full.QuantityOnHand)
	assert.Equal(t, 240.0, *full.QuantityOnHand)
	require.NotNil(t, full.TimeModified)

	// optional fields stay nil when the response omits them
	sparse := page.InventoryItems[1]
	assert.Equal(t, "Bare Minimum", sparse.FullName)
	assert.True(t, sparse.IsActive)
	assert.Nil(t, sparse.SalesPrice)
	assert.Nil(t, sparse.SalesDesc)
	assert.Nil(t, sparse.TimeModified)
}

func TestParseQueryResponse_ServiceItemsUseNestedBlock(t *testing.T) {
	payload := wrapRs(`<ItemServiceQueryRs statusCode="0" statusMessage="Status OK">` +
		`<ItemServiceRet>` +
		`<ListID>80000010-1</ListID>` +
		`<Name>Shop Labour</Name>` +
		`<SalesOrPurchase><Desc>Shop labour, hourly</Desc><Price>80.00</Price></SalesOrPurchase>` +
		`</ItemServiceRet>` +
		`</ItemServiceQueryRs>`)

	page, err := ParseQueryResponse(models.PhaseServiceItems, payload)
	require.NoError(t, err)
	require.Len(t, page.ServiceItems, 1)

	item := page.ServiceItems[0]
	require.NotNil(t, item.Description)
	assert.Equal(t, "Shop labour, hourly", *item.Description)
	require.NotNil(t, item.Price)
	assert.Equal(t, 80.0, *item.Price)
}

func TestParseQueryResponse_OtherItemSubtypes(t *testing.T) {
	tests := []struct {
		phase   models.Phase
		element string
		subtype models.OtherItemSubtype
	}{
		{models.PhaseNonInventoryItems, "ItemNonInventoryQueryRs", models.OtherItemSubtypeNonInventory},
		{models.PhaseOtherChargeItems, "ItemOtherChargeQueryRs", models.OtherItemSubtypeOtherCharge},
		{models.PhaseSalesTaxItems, "ItemSalesTaxQueryRs", models.OtherItemSubtypeSalesTax},
		{models.PhaseSalesTaxGroups, "ItemSalesTaxGroupQueryRs", models.OtherItemSubtypeSalesTaxGroup},
	}

	for _, tt := range tests {
		t.Run(string(tt.subtype), func(t *testing.T) {
			ret := `<ListID>80000020-1</ListID><Name>Thing</Name>`
			if tt.subtype == models.OtherItemSubtypeSalesTax {
				ret += `<TaxRate>13.0</TaxRate>`
			}
			retElement := tt.element[:len(tt.element)-len("QueryRs")] + "Ret"
			payload := wrapRs(`<` + tt.element + ` statusCode="0">` +
				`<` + retElement + `>` + ret + `</` + retElement + `>` +
				`</` + tt.element + `>`)

			page, err := ParseQueryResponse(tt.phase, payload)
			require.NoError(t, err)
			require.Len(t, page.OtherItems, 1)
			assert.Equal(t, tt.subtype, page.OtherItems[0].Subtype)
			if tt.subtype == models.OtherItemSubtypeSalesTax {
				require.NotNil(t, page.OtherItems[0].TaxRate)
				assert.Equal(t, 13.0, *page.OtherItems[0].TaxRate)
			}
		})
	}
}

func TestParseQueryResponse_CustomerPage(t *testing.T) {
	payload := wrapRs(`<CustomerQueryRs statusCode="0" statusMessage="Status OK">` +
		`<CustomerRet>` +
		`<ListID>80000030-1</ListID>` +
		`<Name>Acme Farms</Name>` +
		`<FullName>Acme Farms</FullName>` +
		`<CompanyName>Acme Farms Ltd</CompanyName>` +
		`<Email>billing@acmefarms.example</Email>` +
		`<Phone>555-0142</Phone>` +
		`<IsActive>false</IsActive>` +
		`</CustomerRet>` +
		`</CustomerQueryRs>`)

	page, err := ParseQueryResponse(models.PhaseCustomers, payload)
	require.NoError(t, err)
	require.Len(t, page.Customers, 1)

	customer := page.Customers[0]
	assert.Equal(t, "Acme Farms", customer.FullName)
	require.NotNil(t, customer.CompanyName)
	assert.Equal(t, "Acme Farms Ltd", *customer.CompanyName)
	assert.False(t, customer.IsActive)
}

func TestParseQueryResponse_BenignNoMatchStatus(t *testing.T) {
	payload := wrapRs(`<CustomerQueryRs statusCode="1" statusMessage="A query request did not find a matching object"/>`)

	page, err := ParseQueryResponse(models.PhaseCustomers, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, page.StatusCode)
	assert.Equal(t, 0, page.RecordCount())
	assert.Nil(t, page.IteratorID)
}

func TestParseQueryResponse_MissingResultElement(t *testing.T) {
	payload := wrapRs(`<CustomerQueryRs statusCode="0"/>`)

	_, err := ParseQueryResponse(models.PhaseInventoryItems, payload)
	assert.Error(t, err)
}

func TestParseQueryResponse_MalformedPayload(t *testing.T) {
	_, err := ParseQueryResponse(models.PhaseCustomers, "<<definitely not xml")
	assert.Error(t, err)
}

func TestParseInvoiceAddResponse(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		payload := wrapRs(`<InvoiceAddRs statusCode="0" statusMessage="Status OK">` +
			`<InvoiceRet><TxnID>5D1-1395</TxnID><EditSequence>1700000000</EditSequence><RefNumber>WO-1042</RefNumber></InvoiceRet>` +
			`</InvoiceAddRs>`)

		result, err := ParseInvoiceAddResponse(payload)
		require.NoError(t, err)
		assert.True(t, result.Succeeded())
		assert.Equal(t, "5D1-1395", result.TxnID)
		assert.Equal(t, "1700000000", result.EditSequence)
		assert.Equal(t, "WO-1042", result.RefNumber)
	})

	t.Run("accepted with warning", func(t *testing.T) {
		payload := wrapRs(`<InvoiceAddRs statusCode="530" statusMessage="Warning">` +
			`<InvoiceRet><TxnID>5D2-1396</TxnID></InvoiceRet>` +
			`</InvoiceAddRs>`)

		result, err := ParseInvoiceAddResponse(payload)
		require.NoError(t, err)
		assert.True(t, result.Succeeded())
	})

	t.Run("rejected", func(t *testing.T) {
		payload := wrapRs(`<InvoiceAddRs statusCode="3140" statusMessage="Invalid customer reference"/>`)

		result, err := ParseInvoiceAddResponse(payload)
		require.NoError(t, err)
		assert.False(t, result.Succeeded())
		assert.Equal(t, 3140, result.StatusCode)
		assert.Empty(t, result.TxnID)
	})

	t.Run("missing result element", func(t *testing.T) {
		_, err := ParseInvoiceAddResponse(wrapRs(``))
		assert.Error(t, err)
	})
}
