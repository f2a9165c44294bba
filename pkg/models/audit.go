package models

import "time"

// AuditDirection marks whether an audited payload was sent to or received
// from the remote client.
type AuditDirection string

const (
	AuditDirectionInbound  AuditDirection = "inbound"
	AuditDirectionOutbound AuditDirection = "outbound"
	AuditDirectionNone     AuditDirection = "none"
)

// AuditLogEntry is one protocol or lifecycle event. Append-only; nothing in
// the exchange path ever reads these back.
type AuditLogEntry struct {
	ID          string         `json:"id" db:"id"`
	RunID       string         `json:"run_id" db:"run_id"`
	Method      string         `json:"method" db:"method"`
	Direction   AuditDirection `json:"direction" db:"direction"`
	StatusCode  *string        `json:"status_code,omitempty" db:"status_code"`
	Message     string         `json:"message" db:"message"`
	Payload     *string        `json:"payload,omitempty" db:"payload"`
	CompanyFile string         `json:"company_file" db:"company_file"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}
