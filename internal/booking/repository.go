package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service and the
// sweeper. The reservation methods own their transactions: each one
// locks the slot row(s) it touches, re-checks capacity under the lock
// and either commits the full mutation or rolls everything back.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByLineUserID(ctx context.Context, lineUserID string) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetTreatmentTypeByID(ctx context.Context, id uuid.UUID) (*TreatmentType, error)
	GetSlotView(ctx context.Context, slotID uuid.UUID) (*SlotView, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Eligibility checks (advisory, outside the reservation transaction)
	DoctorOffersTreatment(ctx context.Context, doctorID, treatmentTypeID uuid.UUID) (bool, error)
	HasBlacklistRecord(ctx context.Context, patientID uuid.UUID) (bool, error)
	HasActiveAppointmentOnDate(ctx context.Context, patientID uuid.UUID, date time.Time, excludeAppointmentID *uuid.UUID) (bool, error)

	// Alternative-slot suggestions for a losing booking attempt
	ListAlternativeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, minMinutes int, excludeSlotID uuid.UUID) ([]SlotView, error)
	ListSlotsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotView, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Reservation protocol
	ReserveAppointment(ctx context.Context, appt *Appointment, minutes int) (*Appointment, error)
	ReassignAppointment(ctx context.Context, appointmentID, newSlotID, newTreatmentTypeID uuid.UUID, oldSlotID uuid.UUID, oldMinutes, newMinutes int, newDate time.Time, newDoctorID uuid.UUID) (*Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID uuid.UUID, minutes int, cancelledBy, reason string) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// Lifecycle sweeper
	FindElapsedBooked(ctx context.Context, now time.Time) ([]Appointment, error)
	MarkNoShow(ctx context.Context, appointmentID, patientID uuid.UUID) error
	ListBlacklistCandidates(ctx context.Context) ([]Patient, error)
	BlacklistPatient(ctx context.Context, patientID uuid.UUID, reason, createdBy string) (bool, error)
	RemoveBlacklist(ctx context.Context, patientID uuid.UUID) error

	// Deactivation cascades: flag flip + bulk cancellation + minute
	// release, all in one transaction; the returned bookings carry the
	// notification identifiers for the decoupled notify step.
	DeactivateDoctorCascade(ctx context.Context, doctorID uuid.UUID, today time.Time, reason, cancelledBy string) ([]CancelledBooking, error)
	DeactivateTreatmentCascade(ctx context.Context, treatmentTypeID uuid.UUID, today time.Time, reason, cancelledBy string) ([]CancelledBooking, error)
	SuspendScheduleCascade(ctx context.Context, scheduleID uuid.UUID, reason, cancelledBy string) ([]CancelledBooking, error)

	// Administrative ledger adjustment
	AdjustSlotCapacity(ctx context.Context, slotID uuid.UUID, newTotalMinutes int) (*TimeSlot, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
