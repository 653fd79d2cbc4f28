package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clinicore/clinic-booking/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorEnvelope{
		Success: false,
		Error:   ErrorBody{Code: code, Message: message},
	})
}

// writeDomainError maps a booking error to its HTTP status and stable
// code. Infrastructure failures deliberately lose their detail here;
// they are logged where they happen.
func writeDomainError(w http.ResponseWriter, err error) {
	var capErr *booking.CapacityError
	if errors.As(err, &capErr) {
		alts := toSlotResponses(capErr.Alternatives)
		writeJSON(w, http.StatusBadRequest, ErrorEnvelope{
			Success:          false,
			Error:            ErrorBody{Code: booking.CodeNoCapacity, Message: err.Error()},
			AlternativeSlots: alts,
		})
		return
	}

	code := booking.ErrorCode(err)
	status := statusForError(err, code)

	message := err.Error()
	if code == booking.CodeInternal {
		message = "internal error"
	}

	writeError(w, status, code, message)
}

func statusForError(err error, code string) int {
	switch {
	case errors.Is(err, booking.ErrBlacklisted),
		errors.Is(err, booking.ErrAccountLocked),
		errors.Is(err, booking.ErrNotModifiable),
		errors.Is(err, booking.ErrTooLateToModify),
		errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrDuplicateDailyBooking),
		errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrSlotExhausted):
		return http.StatusConflict
	case code == booking.CodeNotFound:
		return http.StatusNotFound
	case code == booking.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
