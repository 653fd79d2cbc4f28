package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-booking/internal/notify"
)

const (
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingModified    = "BOOKING_MODIFIED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventBookingNoShow      = "BOOKING_NO_SHOW"
	EventPatientBlacklisted = "PATIENT_BLACKLISTED"
	EventSlotAdjusted       = "SLOT_ADJUSTED"
)

// RoleSuper is the only role allowed to remove a blacklist record.
const RoleSuper = "super"

type Service struct {
	repo         Repository
	notifier     notify.Notifier
	windowDays   int
	modifyCutoff time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

type ServiceConfig struct {
	BookingWindowDays int
	ModifyCutoff      time.Duration
	Now               func() time.Time // nil means time.Now
}

func NewService(repo Repository, notifier notify.Notifier, cfg ServiceConfig, log zerolog.Logger) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:         repo,
		notifier:     notifier,
		windowDays:   cfg.BookingWindowDays,
		modifyCutoff: cfg.ModifyCutoff,
		now:          now,
		log:          log,
	}
}

// CapacityError is ErrInsufficientCapacity plus the alternative slots a
// caller can offer instead. Always empty-able: no alternatives is a
// valid suggestion set.
type CapacityError struct {
	Alternatives []SlotView
}

func (e *CapacityError) Error() string { return ErrInsufficientCapacity.Error() }
func (e *CapacityError) Unwrap() error { return ErrInsufficientCapacity }

type BookParams struct {
	PatientID       *uuid.UUID // either this or LineUserID identifies the patient
	LineUserID      string
	SlotID          uuid.UUID
	TreatmentTypeID uuid.UUID
}

type BookingResult struct {
	Appointment      *Appointment
	NotificationSent bool
}

// Book runs the eligibility guard, then the reservation protocol: the
// slot row is locked inside the repository transaction, capacity is
// re-checked under the lock, and the ledger decrement plus the
// appointment insert commit together or not at all.
func (s *Service) Book(ctx context.Context, p BookParams) (*BookingResult, error) {
	patient, err := s.resolvePatient(ctx, p.PatientID, p.LineUserID)
	if err != nil {
		return nil, err
	}

	if err := s.checkBlacklist(ctx, patient); err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotView(ctx, p.SlotID)
	if err != nil {
		return nil, err
	}
	if !slot.ScheduleAvailable {
		return nil, ErrScheduleSuspended
	}

	if err := s.checkDateWindow(slot.ScheduleDate); err != nil {
		return nil, err
	}

	treatment, err := s.repo.GetTreatmentTypeByID(ctx, p.TreatmentTypeID)
	if err != nil {
		return nil, err
	}
	if !treatment.Active {
		return nil, ErrTreatmentInactive
	}

	doctor, err := s.repo.GetDoctorByID(ctx, slot.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, ErrDoctorInactive
	}

	offered, err := s.repo.DoctorOffersTreatment(ctx, doctor.ID, treatment.ID)
	if err != nil {
		return nil, fmt.Errorf("check treatment offering: %w", err)
	}
	if !offered {
		return nil, ErrTreatmentNotOffered
	}

	dup, err := s.repo.HasActiveAppointmentOnDate(ctx, patient.ID, slot.ScheduleDate, nil)
	if err != nil {
		return nil, fmt.Errorf("check daily duplicate: %w", err)
	}
	if dup {
		return nil, ErrDuplicateDailyBooking
	}

	// Advisory only. The authoritative check happens under the row lock
	// inside ReserveAppointment; this one just avoids opening a
	// transaction for a request that already cannot fit.
	if slot.RemainingMinutes < treatment.DurationMinutes {
		return nil, s.capacityError(ctx, slot, treatment.DurationMinutes)
	}

	created, err := s.repo.ReserveAppointment(ctx, &Appointment{
		PatientID:       patient.ID,
		DoctorID:        doctor.ID,
		TreatmentTypeID: treatment.ID,
		TimeSlotID:      slot.ID,
		AppointmentDate: slot.ScheduleDate,
	}, treatment.DurationMinutes)
	if err != nil {
		if errors.Is(err, ErrInsufficientCapacity) {
			// Lost the race after the advisory check passed.
			return nil, s.capacityError(ctx, slot, treatment.DurationMinutes)
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventBookingCreated, map[string]any{
		"patient_id":        patient.ID.String(),
		"slot_id":           slot.ID.String(),
		"treatment_type_id": treatment.ID.String(),
	})

	sent := s.notifier.Notify(ctx, patient.LineUserID, notify.KindBookingCreated, map[string]string{
		"date":      slot.ScheduleDate.Format("2006-01-02"),
		"time":      slot.StartTime.Format("15:04"),
		"doctor":    doctor.Name,
		"treatment": treatment.Name,
	})

	return &BookingResult{Appointment: created, NotificationSent: sent}, nil
}

type ModifyParams struct {
	AppointmentID   uuid.UUID
	SlotID          uuid.UUID
	TreatmentTypeID uuid.UUID
}

// Modify changes the slot and/or treatment of a booked appointment.
// Rejected outright when the appointment is not in booked status or
// when the current slot starts within the cutoff (a lead time of
// exactly the cutoff is still too late; one second more is fine).
func (s *Service) Modify(ctx context.Context, p ModifyParams) (*BookingResult, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusBooked {
		return nil, ErrNotModifiable
	}

	oldSlot, err := s.repo.GetSlotView(ctx, appt.TimeSlotID)
	if err != nil {
		return nil, err
	}
	if oldSlot.StartTime.Sub(s.now()) <= s.modifyCutoff {
		return nil, ErrTooLateToModify
	}

	oldTreatment, err := s.repo.GetTreatmentTypeByID(ctx, appt.TreatmentTypeID)
	if err != nil {
		return nil, err
	}

	newSlot := oldSlot
	if p.SlotID != appt.TimeSlotID {
		newSlot, err = s.repo.GetSlotView(ctx, p.SlotID)
		if err != nil {
			return nil, err
		}
		if !newSlot.ScheduleAvailable {
			return nil, ErrScheduleSuspended
		}
		if err := s.checkDateWindow(newSlot.ScheduleDate); err != nil {
			return nil, err
		}

		dup, err := s.repo.HasActiveAppointmentOnDate(ctx, appt.PatientID, newSlot.ScheduleDate, &appt.ID)
		if err != nil {
			return nil, fmt.Errorf("check daily duplicate: %w", err)
		}
		if dup {
			return nil, ErrDuplicateDailyBooking
		}
	}

	newTreatment := oldTreatment
	if p.TreatmentTypeID != appt.TreatmentTypeID {
		newTreatment, err = s.repo.GetTreatmentTypeByID(ctx, p.TreatmentTypeID)
		if err != nil {
			return nil, err
		}
		if !newTreatment.Active {
			return nil, ErrTreatmentInactive
		}
	}

	offered, err := s.repo.DoctorOffersTreatment(ctx, newSlot.DoctorID, newTreatment.ID)
	if err != nil {
		return nil, fmt.Errorf("check treatment offering: %w", err)
	}
	if !offered {
		return nil, ErrTreatmentNotOffered
	}

	updated, err := s.repo.ReassignAppointment(ctx,
		appt.ID, newSlot.ID, newTreatment.ID,
		oldSlot.ID, oldTreatment.DurationMinutes, newTreatment.DurationMinutes,
		newSlot.ScheduleDate, newSlot.DoctorID,
	)
	if err != nil {
		if errors.Is(err, ErrInsufficientCapacity) {
			return nil, s.capacityError(ctx, newSlot, newTreatment.DurationMinutes)
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventBookingModified, map[string]any{
		"old_slot_id": oldSlot.ID.String(),
		"new_slot_id": newSlot.ID.String(),
	})

	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	sent := false
	if err == nil {
		sent = s.notifier.Notify(ctx, patient.LineUserID, notify.KindBookingModified, map[string]string{
			"date": newSlot.ScheduleDate.Format("2006-01-02"),
			"time": newSlot.StartTime.Format("15:04"),
		})
	}

	return &BookingResult{Appointment: updated, NotificationSent: sent}, nil
}

// Cancel moves a booked appointment to cancelled and returns its
// minutes to the slot in the same transaction.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, cancelledBy, reason string) (*BookingResult, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusBooked {
		return nil, ErrNotModifiable
	}

	treatment, err := s.repo.GetTreatmentTypeByID(ctx, appt.TreatmentTypeID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.repo.CancelAppointment(ctx, appt.ID, treatment.DurationMinutes, cancelledBy, reason)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, cancelled.ID, EventBookingCancelled, map[string]any{
		"cancelled_by": cancelledBy,
		"reason":       reason,
	})

	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	sent := false
	if err == nil {
		sent = s.notifier.Notify(ctx, patient.LineUserID, notify.KindBookingCancelled, map[string]string{
			"reason": reason,
		})
	}

	return &BookingResult{Appointment: cancelled, NotificationSent: sent}, nil
}

// CheckIn moves booked to checked_in; it also accepts a no_show
// appointment as a manual late check-in correction.
func (s *Service) CheckIn(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(appt.Status, StatusCheckedIn); err != nil {
		return nil, err
	}
	return s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCheckedIn)
}

// Complete moves checked_in to completed.
func (s *Service) Complete(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(appt.Status, StatusCompleted); err != nil {
		return nil, err
	}
	return s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCompleted)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotView, error) {
	return s.repo.ListSlotsByDoctorDate(ctx, doctorID, dateOnly(date))
}

// Administrative operations

type CascadeResult struct {
	Cancelled int
	Notified  int
}

// DeactivateDoctor disables the doctor and cancels every future booked
// appointment in one transaction, then runs the decoupled notify step
// over the affected patients.
func (s *Service) DeactivateDoctor(ctx context.Context, doctorID uuid.UUID, actor string) (*CascadeResult, error) {
	cancelled, err := s.repo.DeactivateDoctorCascade(ctx, doctorID, dateOnly(s.now()), "doctor deactivated", actor)
	if err != nil {
		return nil, err
	}
	return s.notifyCascade(ctx, cancelled, notify.KindDoctorDeactivated), nil
}

func (s *Service) DeactivateTreatmentType(ctx context.Context, treatmentTypeID uuid.UUID, actor string) (*CascadeResult, error) {
	cancelled, err := s.repo.DeactivateTreatmentCascade(ctx, treatmentTypeID, dateOnly(s.now()), "treatment type disabled", actor)
	if err != nil {
		return nil, err
	}
	return s.notifyCascade(ctx, cancelled, notify.KindTreatmentDeactivated), nil
}

func (s *Service) SuspendSchedule(ctx context.Context, scheduleID uuid.UUID, actor string) (*CascadeResult, error) {
	cancelled, err := s.repo.SuspendScheduleCascade(ctx, scheduleID, "schedule suspended", actor)
	if err != nil {
		return nil, err
	}
	return s.notifyCascade(ctx, cancelled, notify.KindScheduleSuspended), nil
}

func (s *Service) notifyCascade(ctx context.Context, cancelled []CancelledBooking, kind notify.MessageKind) *CascadeResult {
	res := &CascadeResult{Cancelled: len(cancelled)}
	for _, c := range cancelled {
		s.logEvent(ctx, c.AppointmentID, EventBookingCancelled, map[string]any{
			"cascade": string(kind),
		})
		if s.notifier.Notify(ctx, c.LineUserID, kind, nil) {
			res.Notified++
		}
	}
	return res
}

func (s *Service) AdjustSlotCapacity(ctx context.Context, slotID uuid.UUID, newTotalMinutes int) (*TimeSlot, error) {
	slot, err := s.repo.AdjustSlotCapacity(ctx, slotID, newTotalMinutes)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, uuid.Nil, EventSlotAdjusted, map[string]any{
		"slot_id":       slotID.String(),
		"total_minutes": newTotalMinutes,
	})
	return slot, nil
}

// RemoveBlacklist deletes a patient's blacklist record. Restricted to
// the super role; the identity itself is trusted as supplied by the
// auth collaborator.
func (s *Service) RemoveBlacklist(ctx context.Context, patientID uuid.UUID, role string) error {
	if role != RoleSuper {
		return ErrForbidden
	}
	return s.repo.RemoveBlacklist(ctx, patientID)
}

// Internals

func (s *Service) resolvePatient(ctx context.Context, patientID *uuid.UUID, lineUserID string) (*Patient, error) {
	if patientID != nil {
		return s.repo.GetPatientByID(ctx, *patientID)
	}
	if lineUserID != "" {
		return s.repo.GetPatientByLineUserID(ctx, lineUserID)
	}
	return nil, ErrPatientNotFound
}

func (s *Service) checkBlacklist(ctx context.Context, patient *Patient) error {
	if patient.IsBlacklisted {
		return ErrBlacklisted
	}
	locked, err := s.repo.HasBlacklistRecord(ctx, patient.ID)
	if err != nil {
		return fmt.Errorf("check blacklist: %w", err)
	}
	if locked {
		return ErrAccountLocked
	}
	return nil
}

// checkDateWindow enforces today <= date <= today+windowDays, both ends
// inclusive.
func (s *Service) checkDateWindow(date time.Time) error {
	today := dateOnly(s.now())
	d := dateOnly(date)

	if d.Before(today) {
		return ErrPastDate
	}
	if d.After(today.AddDate(0, 0, s.windowDays)) {
		return ErrDateTooFar
	}
	return nil
}

func (s *Service) capacityError(ctx context.Context, slot *SlotView, minutes int) error {
	alts, err := s.repo.ListAlternativeSlots(ctx, slot.DoctorID, slot.ScheduleDate, minutes, slot.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("slot_id", slot.ID.String()).Msg("failed to load alternative slots")
		alts = nil
	}
	return &CapacityError{Alternatives: alts}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		CreatedAt: s.now(),
		Payload:   data,
	}
	if appointmentID != uuid.Nil {
		apptID := appointmentID
		ev.AppointmentID = &apptID
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("insert event log")
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
