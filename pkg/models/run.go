package models

import "time"

// RunKind selects which session flavor a connected run drives.
type RunKind string

const (
	RunKindBulkSync      RunKind = "bulk_sync"
	RunKindInvoiceExport RunKind = "invoice_export"
)

// RunStatus is the lifecycle status of a connected run.
type RunStatus string

const (
	RunStatusActive RunStatus = "active"
	RunStatusClosed RunStatus = "closed"
	RunStatusFailed RunStatus = "failed"
)

// Run represents one connected session with the remote client. A run is keyed
// internally by ID and externally by the opaque Ticket handed out on
// authenticate. Run state is process-local and never persisted.
type Run struct {
	ID            string
	Ticket        string
	Username      string
	CompanyFile   string
	Kind          RunKind
	ClientVersion string
	ServerVersion string
	Status        RunStatus
	LastError     string

	// InvoiceID is set for invoice-export runs only.
	InvoiceID string

	StartedAt  time.Time
	LastSeenAt time.Time
	EndedAt    *time.Time
}
