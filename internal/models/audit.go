package models

import "time"

const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionRescheduled   = "rescheduled"
	ActionConfirmed     = "confirmed"
	ActionStarted       = "started"
	ActionCompleted     = "completed"
	ActionCancelled     = "cancelled"
	ActionNoShow        = "no_show"
	ActionDeleted       = "deleted"
	ActionRefunded      = "refunded"
	ActionSnapshot      = "snapshot_refreshed"
	ActionDepositReq    = "deposit_requested"
	ActionDepositSubmit = "deposit_submitted"
	ActionDepositOK     = "deposit_confirmed"
	ActionDepositReject = "deposit_rejected"
)

// AuditEvent is an append-only record of one state-changing operation.
type AuditEvent struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	AppointmentID string         `json:"appointment_id"`
	Action        string         `json:"action"`
	Actor         string         `json:"actor"`
	Source        string         `json:"source"`
	Changes       map[string]any `json:"changes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
