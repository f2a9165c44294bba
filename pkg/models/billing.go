package models

// WorkOrder is the read-only slice of a work order the bridge needs to build
// an invoice. The full work-order schema lives upstream.
type WorkOrder struct {
	ID             string  `json:"id" db:"id"`
	Number         string  `json:"number" db:"number"`
	CustomerName   string  `json:"customer_name" db:"customer_name"`
	CustomerListID *string `json:"customer_list_id,omitempty" db:"customer_list_id"`
	PONumber       *string `json:"po_number,omitempty" db:"po_number"`
}

// BillableRow is one row of the aggregated invoice-preview view: a single
// billable charge with its provenance.
type BillableRow struct {
	WorkOrderID    string  `json:"work_order_id" db:"work_order_id"`
	SourceID       string  `json:"source_id" db:"source_id"`
	Category       string  `json:"category" db:"category"`
	TechnicianName string  `json:"technician_name" db:"technician_name"`
	ItemName       string  `json:"item_name" db:"item_name"`
	ItemListID     *string `json:"item_list_id,omitempty" db:"item_list_id"`
	UnitPrice      float64 `json:"unit_price" db:"unit_price"`
	Qty            float64 `json:"qty" db:"qty"`
	Amount         float64 `json:"amount" db:"amount"`
}

// TaxConfig is the tax/item configuration the snapshot builder reads:
// the flat tax rate, the QuickBooks sales-tax item, and the generic
// fallback item substituted for unmapped parts rows.
type TaxConfig struct {
	Rate               float64 `json:"rate" db:"rate"`
	TaxItemFullName    *string `json:"tax_item_full_name,omitempty" db:"tax_item_full_name"`
	TaxItemListID      *string `json:"tax_item_list_id,omitempty" db:"tax_item_list_id"`
	FallbackItemListID string  `json:"fallback_item_list_id" db:"fallback_item_list_id"`
}
