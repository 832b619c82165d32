// Package notify holds the in-tree notification collaborators. Real delivery
// (email, SMS, chat) lives outside this service.
package notify

import (
	"context"
	"sync"

	"reserva/internal/domain"

	"github.com/rs/zerolog"
)

// LogNotifier records notifications in the log instead of delivering them.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.logger.Info().
		Str("tenant_id", msg.TenantID).
		Str("appointment_id", msg.AppointmentID).
		Str("kind", msg.Kind).
		Strs("channels", msg.Channels).
		Str("recipient", msg.Recipient).
		Str("subject", msg.Subject).
		Msg("notification queued")
	return nil
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *Recorder) Notify(_ context.Context, msg domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *Recorder) Sent() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.sent...)
}
