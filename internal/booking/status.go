package booking

type Status string

const (
	StatusBooked    Status = "booked"
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// transitions is the full set of legal status edges. completed and
// cancelled are terminal. no_show is not: a late check-in may still
// correct it back to checked_in, and nothing else.
var transitions = map[Status][]Status{
	StatusBooked:    {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
	StatusNoShow:    {StatusCheckedIn},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether s -> to is a legal edge.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates s -> to and returns ErrInvalidTransition
// for anything outside the table. Every status mutation goes through
// this before touching storage.
func CheckTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return ErrInvalidTransition
	}
	if !from.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	return nil
}
