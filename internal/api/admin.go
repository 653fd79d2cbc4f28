package api

import (
	"encoding/json"
	"net/http"

	"github.com/clinicore/clinic-booking/internal/booking"
)

// Admin handlers. The auth collaborator supplies the actor identity and
// role in headers; the core trusts them and only enforces the role
// checks the operations require.

func deactivateDoctorHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		res, err := svc.DeactivateDoctor(r.Context(), id, adminActor(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CascadeEnvelope{
			Success:   true,
			Cancelled: res.Cancelled,
			Notified:  res.Notified,
		})
	}
}

func deactivateTreatmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		res, err := svc.DeactivateTreatmentType(r.Context(), id, adminActor(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CascadeEnvelope{
			Success:   true,
			Cancelled: res.Cancelled,
			Notified:  res.Notified,
		})
	}
}

func suspendScheduleHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		res, err := svc.SuspendSchedule(r.Context(), id, adminActor(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CascadeEnvelope{
			Success:   true,
			Cancelled: res.Cancelled,
			Notified:  res.Notified,
		})
	}
}

func adjustSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req AdjustSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, booking.CodeInvalidRequest, "could not parse JSON")
			return
		}

		slot, err := svc.AdjustSlotCapacity(r.Context(), id, req.TotalMinutes)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"slot": SlotResponse{
				ID:               slot.ID,
				StartTime:        slot.StartTime,
				EndTime:          slot.EndTime,
				TotalMinutes:     slot.TotalMinutes,
				RemainingMinutes: slot.RemainingMinutes,
			},
		})
	}
}

func removeBlacklistHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "patientId")
		if !ok {
			return
		}

		if err := svc.RemoveBlacklist(r.Context(), id, r.Header.Get("X-Admin-Role")); err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func adminActor(r *http.Request) string {
	if actor := r.Header.Get("X-Admin-ID"); actor != "" {
		return actor
	}
	return "admin"
}
