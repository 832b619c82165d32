package domain

import (
	"context"
	"time"

	"reserva/internal/interval"
	"reserva/internal/models"
)

// ConflictQuery selects active appointments on any of ResourceIDs overlapping Interval.
type ConflictQuery struct {
	TenantID             string
	Interval             interval.Interval
	ResourceIDs          []string
	ExcludeAppointmentID string
	ExcludeGroupID       string
}

type AppointmentFilter struct {
	TenantID   string
	From       time.Time
	To         time.Time
	ResourceID string
	LocationID string
	CustomerID string
	SeriesID   string
	GroupID    string
	Statuses   []string
	Limit      int
}

// Store is the tenant-scoped persistence surface shared by the database handle and its transactions.
type Store interface {
	GetCustomer(ctx context.Context, tenantID, id string) (*models.Customer, error)
	FindCustomers(ctx context.Context, tenantID, email, phone string) ([]*models.Customer, error)
	UpsertCustomer(ctx context.Context, c *models.Customer) error
	GetService(ctx context.Context, tenantID, id string) (*models.Service, error)
	GetResource(ctx context.Context, tenantID, id string) (*models.Resource, error)

	GetAppointment(ctx context.Context, tenantID, id string) (*models.Appointment, error)
	GetAppointmentBySecureCode(ctx context.Context, tenantID, code string) (*models.Appointment, error)
	FindAppointmentByExternalID(ctx context.Context, tenantID, source, externalID string) (*models.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]*models.Appointment, error)
	HasConflict(ctx context.Context, q ConflictQuery) (bool, error)
	BusyIntervals(ctx context.Context, tenantID string, resourceIDs []string, window interval.Interval) ([]interval.Interval, error)
	InsertAppointment(ctx context.Context, a *models.Appointment) error
	UpdateAppointment(ctx context.Context, a *models.Appointment, expectedVersion int64) error
	DeleteAppointment(ctx context.Context, tenantID, id string) error

	GetDeposit(ctx context.Context, tenantID, id string) (*models.Deposit, error)
	InsertDeposit(ctx context.Context, d *models.Deposit) error
	UpdateDeposit(ctx context.Context, d *models.Deposit) error
	RecomputePayment(ctx context.Context, tenantID, appointmentID string) error

	AppendAudit(ctx context.Context, e *models.AuditEvent) error
	ClearDispatchMarks(ctx context.Context, appointmentID string) error
}

type Repository interface {
	Store
	InTx(ctx context.Context, fn func(tx Store) error) error

	Timeline(ctx context.Context, tenantID, appointmentID string) ([]models.AuditEvent, error)
	Stats(ctx context.Context, tenantID string, from, to time.Time, top int) (*models.Stats, error)
	PendingDeposits(ctx context.Context, tenantID string) ([]models.Deposit, error)
	ConfirmedPayments(ctx context.Context, tenantID string, from, to time.Time) ([]models.Deposit, error)
	Receivables(ctx context.Context, tenantID string, asOf time.Time) (*models.ReceivablesReport, error)
	RevenueReport(ctx context.Context, tenantID string, from, to time.Time) ([]models.RevenueRow, error)
	ListFailedJobs(ctx context.Context, tenantID string, limit int) ([]models.JobRecord, error)
}

// JobStore is what background job handlers need from persistence.
type JobStore interface {
	GetAppointment(ctx context.Context, tenantID, id string) (*models.Appointment, error)
	RecordJob(ctx context.Context, rec *models.JobRecord) error
	MarkJob(ctx context.Context, id, status string, attempts int, lastErr *string) error
	ClaimDispatch(ctx context.Context, appointmentID, key string) (bool, error)
	ReleaseDispatch(ctx context.Context, appointmentID, key string) error
}

// CacheRepository backs the slot cache and public rate limiting.
type CacheRepository interface {
	GetSlots(ctx context.Context, key, field string) ([]byte, error)
	SetSlots(ctx context.Context, key, field string, data []byte) error
	InvalidateSlots(ctx context.Context, key string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notification is handed to the delivery collaborator; delivery itself happens elsewhere.
type Notification struct {
	TenantID      string            `json:"tenant_id"`
	AppointmentID string            `json:"appointment_id"`
	Kind          string            `json:"kind"`
	Channels      []string          `json:"channels"`
	Recipient     string            `json:"recipient"`
	Subject       string            `json:"subject"`
	Body          string            `json:"body"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// PMSClient pushes reservations to the property-management system.
type PMSClient interface {
	PushReservation(ctx context.Context, a *models.Appointment) error
}

type LedgerRef struct {
	EntryID           string
	BankTransactionID string
}

// Accounting reconciles confirmed deposits against the books.
type Accounting interface {
	PostDeposit(ctx context.Context, a *models.Appointment, d *models.Deposit) (LedgerRef, error)
}
