package booking

import (
	"time"

	"github.com/google/uuid"
)

// SlotMinutes is the fixed length of one bookable window. A treatment's
// duration can never exceed it, so a booking always fits in one slot.
const SlotMinutes = 30

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TreatmentType struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int // 1..SlotMinutes
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Schedule is one doctor's availability for one calendar date.
// (doctor_id, date) is unique.
type Schedule struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time // date only, midnight UTC
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TimeSlot is the capacity ledger row. RemainingMinutes is the single
// source of truth for how much of the window is still bookable and is
// only ever mutated under a row lock inside a reservation transaction.
type TimeSlot struct {
	ID               uuid.UUID
	ScheduleID       uuid.UUID
	StartTime        time.Time
	EndTime          time.Time
	TotalMinutes     int
	RemainingMinutes int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Patient struct {
	ID            uuid.UUID
	Name          string
	LineUserID    string
	NoShowCount   int // 0..3, saturating
	IsBlacklisted bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Blacklist struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Reason    string
	CreatedBy string
	CreatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	TreatmentTypeID uuid.UUID
	TimeSlotID      uuid.UUID
	AppointmentDate time.Time
	Status          Status
	CancelledReason *string
	CancelledBy     *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EventLog is an append-only audit record of booking lifecycle events.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// SlotView is a slot joined with its schedule, the shape the reservation
// protocol works with: the date, doctor and availability come from the
// schedule, the capacity from the slot.
type SlotView struct {
	TimeSlot
	DoctorID          uuid.UUID
	ScheduleDate      time.Time
	ScheduleAvailable bool
}

// CancelledBooking is one appointment cancelled by a cascade, paired
// with the patient's notification channel so the caller can run the
// decoupled notify step.
type CancelledBooking struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	LineUserID    string
}
