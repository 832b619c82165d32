package events

import (
	"encoding/json"
	"sync"
	"time"

	"reserva/internal/models"
)

const (
	EventAppointmentCreated     = "appointment_created"
	EventAppointmentUpdated     = "appointment_updated"
	EventAppointmentRescheduled = "appointment_rescheduled"
	EventAppointmentConfirmed   = "appointment_confirmed"
	EventAppointmentStarted     = "appointment_started"
	EventAppointmentCompleted   = "appointment_completed"
	EventAppointmentCancelled   = "appointment_cancelled"
	EventAppointmentNoShow      = "appointment_no_show"
	EventAppointmentDeleted     = "appointment_deleted"
	EventDepositConfirmed       = "deposit_confirmed"
	EventDepositRejected        = "deposit_rejected"
)

// AllTypes lists every event type published by the scheduler.
var AllTypes = []string{
	EventAppointmentCreated, EventAppointmentUpdated, EventAppointmentRescheduled,
	EventAppointmentConfirmed, EventAppointmentStarted, EventAppointmentCompleted,
	EventAppointmentCancelled, EventAppointmentNoShow, EventAppointmentDeleted,
	EventDepositConfirmed, EventDepositRejected,
}

// AppointmentEventPayload is the appointment snapshot handed to event consumers.
type AppointmentEventPayload struct {
	TenantID      string    `json:"tenant_id"`
	AppointmentID string    `json:"appointment_id"`
	CustomerID    string    `json:"customer_id,omitempty"`
	ServiceID     string    `json:"service_id,omitempty"`
	ResourceIDs   []string  `json:"resource_ids"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	SeriesID      string    `json:"series_id,omitempty"`
	GroupID       string    `json:"group_id,omitempty"`
	Source        string    `json:"source"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

func PayloadFor(a *models.Appointment, changedBy string) AppointmentEventPayload {
	return AppointmentEventPayload{
		TenantID:      a.TenantID,
		AppointmentID: a.ID,
		CustomerID:    a.CustomerID,
		ServiceID:     a.ServiceID,
		ResourceIDs:   a.ResourceIDs(),
		Status:        a.Status,
		PaymentStatus: a.PaymentStatus,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		SeriesID:      a.SeriesID,
		GroupID:       a.GroupID(),
		Source:        a.Source,
		ChangedBy:     changedBy,
		Reason:        a.CancellationReason,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every known event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, t := range AllTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers synchronously. Handler errors never reach the publisher.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. Appointment payloads are keyed by appointment id.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	event := Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}
	if p, ok := payload.(AppointmentEventPayload); ok {
		event.Key = p.AppointmentID
	}
	return event, nil
}
