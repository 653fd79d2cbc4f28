package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type MessageKind string

const (
	KindBookingCreated       MessageKind = "booking_created"
	KindBookingModified      MessageKind = "booking_modified"
	KindBookingCancelled     MessageKind = "booking_cancelled"
	KindScheduleSuspended    MessageKind = "schedule_suspended"
	KindDoctorDeactivated    MessageKind = "doctor_deactivated"
	KindTreatmentDeactivated MessageKind = "treatment_deactivated"
)

// Notifier delivers a message to a patient's LINE account. Delivery is
// fire-and-forget from the booking core's perspective: a failed push
// never rolls back a committed booking, the boolean is only reported
// back to the caller as notification_sent.
type Notifier interface {
	Notify(ctx context.Context, lineUserID string, kind MessageKind, fields map[string]string) bool
}

// LogNotifier is the fallback when no LINE channel token is configured.
// It records the would-be push and reports it as not sent.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, lineUserID string, kind MessageKind, fields map[string]string) bool {
	n.Log.Info().
		Str("line_user_id", lineUserID).
		Str("kind", string(kind)).
		Fields(map[string]any{"fields": fields}).
		Msg("notification skipped: no LINE channel configured")
	return false
}
