package models

import "time"

// Phase is the entity type a bulk sync session is currently pulling.
// Phases advance in one fixed order and are never revisited.
type Phase string

const (
	PhaseCompany           Phase = "company"
	PhaseInventoryItems    Phase = "item_inventory"
	PhaseServiceItems      Phase = "item_service"
	PhaseNonInventoryItems Phase = "item_noninventory"
	PhaseOtherChargeItems  Phase = "item_other_charge"
	PhaseSalesTaxItems     Phase = "item_sales_tax"
	PhaseSalesTaxGroups    Phase = "item_sales_tax_group"
	PhaseCustomers         Phase = "customer"
	PhaseInvoiceAdd        Phase = "invoice_add"
	PhaseDone              Phase = "done"
)

// IteratorState is the per-run pagination cursor. IteratorID carries the
// protocol's opaque continuation id; nil means the next request for the phase
// is a Start request.
type IteratorState struct {
	Phase      Phase
	IteratorID *string
	Remaining  int
	UpdatedAt  time.Time
}

// HasIterator reports whether the state holds an open continuation id.
func (s *IteratorState) HasIterator() bool {
	return s.IteratorID != nil && *s.IteratorID != ""
}
