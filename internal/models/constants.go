package models

import "slices"

const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusNoShow     = "no_show"
)

const (
	PaymentPending  = "pending"
	PaymentPartial  = "partial"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

const (
	SourceAdmin   = "admin"
	SourcePublic  = "public"
	SourceWebhook = "webhook"
	SourceSeries  = "series"
	SourceGroup   = "group"
	SourceBlock   = "block"
)

const (
	ResourcePerson    = "person"
	ResourceRoom      = "room"
	ResourceEquipment = "equipment"
	ResourceVehicle   = "vehicle"
)

const (
	ResourceActive   = "active"
	ResourceInactive = "inactive"
	ResourceOnLeave  = "on_leave"

	ServiceActive   = "active"
	ServiceInactive = "inactive"
)

const (
	// DefaultSlotStepMinutes is the availability grid step.
	DefaultSlotStepMinutes = 15

	// DefaultMaxSeriesOccurrences caps recurrence expansion.
	DefaultMaxSeriesOccurrences = 104

	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ActiveStatuses are the statuses that occupy a resource.
var ActiveStatuses = []string{StatusPending, StatusConfirmed, StatusInProgress}

var statusTransitions = map[string][]string{
	StatusPending:    {StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func IsActiveStatus(status string) bool {
	return slices.Contains(ActiveStatuses, status)
}

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to string) bool {
	return slices.Contains(statusTransitions[from], to)
}

func IsValidResourceType(t string) bool {
	switch t {
	case ResourcePerson, ResourceRoom, ResourceEquipment, ResourceVehicle:
		return true
	}
	return false
}
