package booking

import "errors"

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrTreatmentNotFound   = errors.New("treatment type not found")
	ErrSlotNotFound        = errors.New("time slot not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrBlacklistNotFound   = errors.New("blacklist record not found")

	ErrInsufficientCapacity  = errors.New("slot does not have enough remaining minutes")
	ErrDuplicateDailyBooking = errors.New("patient already has an active appointment on this date")
	ErrBlacklisted           = errors.New("patient is blacklisted")
	ErrAccountLocked         = errors.New("patient account is locked by a blacklist record")
	ErrPastDate              = errors.New("appointment date is in the past")
	ErrDateTooFar            = errors.New("appointment date is beyond the booking window")
	ErrScheduleSuspended     = errors.New("schedule is suspended")
	ErrDoctorInactive        = errors.New("doctor is not active")
	ErrTreatmentInactive     = errors.New("treatment type is not active")
	ErrTreatmentNotOffered   = errors.New("doctor does not offer this treatment type")

	ErrNotModifiable     = errors.New("appointment is not in a modifiable status")
	ErrTooLateToModify   = errors.New("too close to the slot start to modify")
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrSlotExhausted     = errors.New("slot capacity cannot be adjusted once fully booked")
	ErrInvalidAdjustment = errors.New("new capacity must be positive and cover the minutes already booked")
	ErrLedgerCorrupt     = errors.New("slot remaining minutes would exceed total minutes")

	ErrForbidden = errors.New("insufficient role for this operation")
)

// Stable error codes returned to API callers. The mapping is part of
// the external contract; new failures get new codes, existing codes
// never change meaning.
const (
	CodeInvalidRequest  = "E001"
	CodePastDate        = "E002"
	CodeNoCapacity      = "E003"
	CodeDuplicateDaily  = "E004"
	CodeBlacklisted     = "E005"
	CodeAccountLocked   = "E006"
	CodeNotFound        = "E007"
	CodeInvalidStatus   = "E008"
	CodeDateTooFar      = "E009"
	CodeTooLateToModify = "E010"
	CodeInternal        = "E500"
)

// ErrorCode maps a domain error to its stable code. Unknown errors are
// infrastructure failures and map to CodeInternal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPastDate):
		return CodePastDate
	case errors.Is(err, ErrInsufficientCapacity):
		return CodeNoCapacity
	case errors.Is(err, ErrDuplicateDailyBooking):
		return CodeDuplicateDaily
	case errors.Is(err, ErrBlacklisted):
		return CodeBlacklisted
	case errors.Is(err, ErrAccountLocked):
		return CodeAccountLocked
	case errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrTreatmentNotFound),
		errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrScheduleNotFound),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrBlacklistNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotModifiable),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSlotExhausted):
		return CodeInvalidStatus
	case errors.Is(err, ErrDateTooFar):
		return CodeDateTooFar
	case errors.Is(err, ErrTooLateToModify):
		return CodeTooLateToModify
	case errors.Is(err, ErrScheduleSuspended),
		errors.Is(err, ErrDoctorInactive),
		errors.Is(err, ErrTreatmentInactive),
		errors.Is(err, ErrTreatmentNotOffered),
		errors.Is(err, ErrInvalidAdjustment):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
