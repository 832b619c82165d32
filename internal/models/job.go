package models

import "time"

const (
	JobScheduled = "scheduled"
	JobDone      = "done"
	JobSkipped   = "skipped"
	JobFailed    = "failed"
)

// JobRecord tracks a delayed job for operational visibility. Failed records form the dead-letter view.
type JobRecord struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	AppointmentID string    `json:"appointment_id"`
	Kind          string    `json:"kind"`
	FireAt        time.Time `json:"fire_at"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     *string   `json:"last_error"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
