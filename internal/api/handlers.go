package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinic-booking/internal/booking"
	"github.com/clinicore/clinic-booking/internal/metrics"
)

func createBookingHandler(svc BookingService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "slot_id must be a valid UUID")
			return
		}

		treatmentID, err := uuid.Parse(req.TreatmentTypeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "treatment_type_id must be a valid UUID")
			return
		}

		params := booking.BookParams{
			SlotID:          slotID,
			TreatmentTypeID: treatmentID,
		}

		if lineID := r.Header.Get("X-Line-User-ID"); lineID != "" {
			params.LineUserID = lineID
		} else if req.LineUserID != "" {
			params.LineUserID = req.LineUserID
		} else if req.PatientID != "" {
			patientID, err := uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "patient_id must be a valid UUID")
				return
			}
			params.PatientID = &patientID
		} else {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "patient_id or line_user_id is required")
			return
		}

		res, err := svc.Book(r.Context(), params)
		if err != nil {
			m.BookingsTotal.WithLabelValues("book", booking.ErrorCode(err)).Inc()
			writeDomainError(w, err)
			return
		}
		m.BookingsTotal.WithLabelValues("book", "ok").Inc()

		writeJSON(w, http.StatusCreated, BookingEnvelope{
			Success:          true,
			Appointment:      toAppointmentResponse(res.Appointment),
			NotificationSent: res.NotificationSent,
		})
	}
}

func modifyBookingHandler(svc BookingService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ModifyBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "slot_id must be a valid UUID")
			return
		}
		treatmentID, err := uuid.Parse(req.TreatmentTypeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "treatment_type_id must be a valid UUID")
			return
		}

		res, err := svc.Modify(r.Context(), booking.ModifyParams{
			AppointmentID:   id,
			SlotID:          slotID,
			TreatmentTypeID: treatmentID,
		})
		if err != nil {
			m.BookingsTotal.WithLabelValues("modify", booking.ErrorCode(err)).Inc()
			writeDomainError(w, err)
			return
		}
		m.BookingsTotal.WithLabelValues("modify", "ok").Inc()

		writeJSON(w, http.StatusOK, BookingEnvelope{
			Success:          true,
			Appointment:      toAppointmentResponse(res.Appointment),
			NotificationSent: res.NotificationSent,
		})
	}
}

func cancelBookingHandler(svc BookingService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req CancelBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "could not parse JSON")
			return
		}

		cancelledBy := "patient"
		if r.Header.Get("X-Admin-Role") != "" {
			cancelledBy = "admin"
		}

		res, err := svc.Cancel(r.Context(), id, cancelledBy, req.Reason)
		if err != nil {
			m.BookingsTotal.WithLabelValues("cancel", booking.ErrorCode(err)).Inc()
			writeDomainError(w, err)
			return
		}
		m.BookingsTotal.WithLabelValues("cancel", "ok").Inc()

		writeJSON(w, http.StatusOK, BookingEnvelope{
			Success:          true,
			Appointment:      toAppointmentResponse(res.Appointment),
			NotificationSent: res.NotificationSent,
		})
	}
}

func checkInHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.CheckIn(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, BookingEnvelope{
			Success:     true,
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func completeHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, BookingEnvelope{
			Success:     true,
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func getBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, BookingEnvelope{
			Success:     true,
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func listPatientBookingsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListPatientAppointments(r.Context(), id, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"appointments": out,
		})
	}
}

func listDoctorSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.ListDoctorSlots(r.Context(), id, date)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"slots":   toSlotResponses(slots),
		})
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
