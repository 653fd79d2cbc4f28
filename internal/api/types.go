package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-booking/internal/booking"
)

type CreateBookingRequest struct {
	// Exactly one of PatientID / LineUserID identifies the patient; the
	// X-Line-User-ID header takes precedence over the body field.
	PatientID       string `json:"patient_id,omitempty"`
	LineUserID      string `json:"line_user_id,omitempty"`
	SlotID          string `json:"slot_id"`
	TreatmentTypeID string `json:"treatment_type_id"`
}

type ModifyBookingRequest struct {
	// Clients send the current values for fields they keep unchanged.
	SlotID          string `json:"slot_id"`
	TreatmentTypeID string `json:"treatment_type_id"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

type AdjustSlotRequest struct {
	TotalMinutes int `json:"total_minutes"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	TreatmentTypeID uuid.UUID `json:"treatment_type_id"`
	TimeSlotID      uuid.UUID `json:"time_slot_id"`
	AppointmentDate string    `json:"appointment_date"`
	Status          string    `json:"status"`
	CancelledReason *string   `json:"cancelled_reason,omitempty"`
	CancelledBy     *string   `json:"cancelled_by,omitempty"`
}

type SlotResponse struct {
	ID               uuid.UUID `json:"id"`
	DoctorID         uuid.UUID `json:"doctor_id"`
	Date             string    `json:"date"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	TotalMinutes     int       `json:"total_minutes"`
	RemainingMinutes int       `json:"remaining_minutes"`
}

type BookingEnvelope struct {
	Success          bool                `json:"success"`
	Appointment      AppointmentResponse `json:"appointment"`
	NotificationSent bool                `json:"notification_sent"`
}

type CascadeEnvelope struct {
	Success   bool `json:"success"`
	Cancelled int  `json:"cancelled"`
	Notified  int  `json:"notified"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the stable error payload shape. AlternativeSlots is
// only present on capacity failures and may be an empty list.
type ErrorEnvelope struct {
	Success          bool           `json:"success"`
	Error            ErrorBody      `json:"error"`
	AlternativeSlots []SlotResponse `json:"alternative_slots,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		TreatmentTypeID: a.TreatmentTypeID,
		TimeSlotID:      a.TimeSlotID,
		AppointmentDate: a.AppointmentDate.Format("2006-01-02"),
		Status:          string(a.Status),
		CancelledReason: a.CancelledReason,
		CancelledBy:     a.CancelledBy,
	}
}

func toSlotResponses(slots []booking.SlotView) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			ID:               s.ID,
			DoctorID:         s.DoctorID,
			Date:             s.ScheduleDate.Format("2006-01-02"),
			StartTime:        s.StartTime,
			EndTime:          s.EndTime,
			TotalMinutes:     s.TotalMinutes,
			RemainingMinutes: s.RemainingMinutes,
		})
	}
	return out
}
