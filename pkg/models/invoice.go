package models

import "time"

// InvoiceStatus is the export lifecycle state of an invoice snapshot.
type InvoiceStatus string

const (
	InvoiceStatusReady    InvoiceStatus = "Ready"
	InvoiceStatusExported InvoiceStatus = "Exported"
	InvoiceStatusError    InvoiceStatus = "Error"
)

// Line source types. LineSourceTax marks the synthetic tax line appended by
// the snapshot builder; it never travels as an InvoiceLineAdd.
const (
	LineSourceLabour = "RegularLabour"
	LineSourceParts  = "PartsUsed"
	LineSourceFees   = "WorkOrderFees"
	LineSourceTax    = "SalesTax"
)

// Invoice is the canonical exportable document built from live billing data.
// RefNumber is a deterministic function of the work-order number, so a
// rebuild always resolves to the same row.
type Invoice struct {
	ID             string        `json:"id" db:"id"`
	WorkOrderID    string        `json:"work_order_id" db:"work_order_id"`
	CustomerListID *string       `json:"customer_list_id,omitempty" db:"customer_list_id"`
	RefNumber      string        `json:"ref_number" db:"ref_number"`
	TxnDate        time.Time     `json:"txn_date" db:"txn_date"`
	PONumber       *string       `json:"po_number,omitempty" db:"po_number"`
	Memo           *string       `json:"memo,omitempty" db:"memo"`
	Subtotal       float64       `json:"subtotal" db:"subtotal"`
	TaxRate        float64       `json:"tax_rate" db:"tax_rate"`
	Tax            float64       `json:"tax" db:"tax"`
	Total          float64       `json:"total" db:"total"`
	Status         InvoiceStatus `json:"status" db:"status"`
	ErrorMessage   *string       `json:"error_message,omitempty" db:"error_message"`
	ContentHash    string        `json:"content_hash" db:"content_hash"`
	AttemptCount   int           `json:"attempt_count" db:"attempt_count"`
	QBTxnID        *string       `json:"qb_txn_id,omitempty" db:"qb_txn_id"`
	QBEditSequence *string       `json:"qb_edit_sequence,omitempty" db:"qb_edit_sequence"`
	ExportedAt     *time.Time    `json:"exported_at,omitempty" db:"exported_at"`
	LastAttemptAt  *time.Time    `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// InvoiceLine is one charge on an invoice. Lines are fully owned by their
// invoice and replaced wholesale on rebuild.
type InvoiceLine struct {
	ID          string     `json:"id" db:"id"`
	InvoiceID   string     `json:"invoice_id" db:"invoice_id"`
	LineNumber  int        `json:"line_number" db:"line_number"`
	ItemListID  *string    `json:"item_list_id,omitempty" db:"item_list_id"`
	Description string     `json:"description" db:"description"`
	Qty         float64    `json:"qty" db:"qty"`
	Rate        float64    `json:"rate" db:"rate"`
	Amount      float64    `json:"amount" db:"amount"`
	SourceType  string     `json:"source_type" db:"source_type"`
	SourceID    *string    `json:"source_id,omitempty" db:"source_id"`
	Taxable     bool       `json:"taxable" db:"taxable"`
	ServiceDate *time.Time `json:"service_date,omitempty" db:"service_date"`
	ClassName   *string    `json:"class_name,omitempty" db:"class_name"`
}

// InvoiceStatusState is the outer result of a status lookup.
type InvoiceStatusState string

const (
	InvoiceStatusStateNotFound InvoiceStatusState = "not_found" // no such work order
	InvoiceStatusStateNone     InvoiceStatusState = "none"      // work order exists, no invoice yet
	InvoiceStatusStateFound    InvoiceStatusState = "found"
)

// InvoiceStatusResult is the read-only answer to GetStatus.
type InvoiceStatusResult struct {
	State          InvoiceStatusState `json:"state"`
	RefNumber      string             `json:"ref_number,omitempty"`
	Status         InvoiceStatus      `json:"status,omitempty"`
	ErrorMessage   *string            `json:"error_message,omitempty"`
	QBTxnID        *string            `json:"qb_txn_id,omitempty"`
	QBEditSequence *string            `json:"qb_edit_sequence,omitempty"`
	AttemptCount   int                `json:"attempt_count,omitempty"`
	LastAttemptAt  *time.Time         `json:"last_attempt_at,omitempty"`
}

// InvoiceAdd is the structured payload for the protocol's one-shot invoice
// creation command.
type InvoiceAdd struct {
	CustomerListID  string
	RefNumber       string
	TxnDate         time.Time
	PONumber        *string
	Memo            *string
	TaxItemFullName *string
	Lines           []InvoiceLineAdd
}

// InvoiceLineAdd is one ordered line in an InvoiceAdd.
type InvoiceLineAdd struct {
	ItemListID  string
	Description string
	Quantity    float64
	Rate        float64
	ClassName   *string
	ServiceDate *time.Time
	Taxable     *bool
}
