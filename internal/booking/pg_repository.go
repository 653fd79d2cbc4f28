package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it too, which is how the repository tests run without a
// live Postgres.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	db DB
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.LineUserID,
		&p.NoShowCount,
		&p.IsBlacklisted,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Active,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanTreatmentType(row pgx.Row) (*TreatmentType, error) {
	var t TreatmentType

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.DurationMinutes,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreatmentNotFound
		}
		return nil, err
	}

	return &t, nil
}

func scanSlotView(row pgx.Row) (*SlotView, error) {
	var s SlotView

	err := row.Scan(
		&s.ID,
		&s.ScheduleID,
		&s.StartTime,
		&s.EndTime,
		&s.TotalMinutes,
		&s.RemainingMinutes,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DoctorID,
		&s.ScheduleDate,
		&s.ScheduleAvailable,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.TreatmentTypeID,
		&a.TimeSlotID,
		&a.AppointmentDate,
		&a.Status,
		&a.CancelledReason,
		&a.CancelledBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const appointmentColumns = `id, patient_id, doctor_id, treatment_type_id, time_slot_id, appointment_date, status, cancelled_reason, cancelled_by, created_at, updated_at`

const slotViewSelect = `
	SELECT ts.id, ts.schedule_id, ts.start_time, ts.end_time, ts.total_minutes, ts.remaining_minutes, ts.created_at, ts.updated_at,
	       s.doctor_id, s.date, s.is_available
	FROM time_slots ts
	JOIN schedules s ON s.id = ts.schedule_id
`

// Lookups

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, line_user_id, no_show_count, is_blacklisted, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByLineUserID(ctx context.Context, lineUserID string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, line_user_id, no_show_count, is_blacklisted, created_at, updated_at
		FROM patients
		WHERE line_user_id = $1
	`, lineUserID)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetTreatmentTypeByID(ctx context.Context, id uuid.UUID) (*TreatmentType, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, duration_minutes, active, created_at, updated_at
		FROM treatment_types
		WHERE id = $1
	`, id)
	return scanTreatmentType(row)
}

func (r *PgRepository) GetSlotView(ctx context.Context, slotID uuid.UUID) (*SlotView, error) {
	row := r.db.QueryRow(ctx, slotViewSelect+` WHERE ts.id = $1`, slotID)
	return scanSlotView(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// Eligibility checks

func (r *PgRepository) DoctorOffersTreatment(ctx context.Context, doctorID, treatmentTypeID uuid.UUID) (bool, error) {
	var offered bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM doctor_treatments
			WHERE doctor_id = $1 AND treatment_type_id = $2
		)
	`, doctorID, treatmentTypeID).Scan(&offered)
	if err != nil {
		return false, fmt.Errorf("check doctor treatment: %w", err)
	}
	return offered, nil
}

func (r *PgRepository) HasBlacklistRecord(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM blacklists WHERE patient_id = $1)
	`, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check blacklist record: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) HasActiveAppointmentOnDate(ctx context.Context, patientID uuid.UUID, date time.Time, excludeAppointmentID *uuid.UUID) (bool, error) {
	var exclude uuid.UUID
	if excludeAppointmentID != nil {
		exclude = *excludeAppointmentID
	}

	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1
			  AND appointment_date = $2
			  AND status IN ('booked', 'checked_in')
			  AND id <> $3
		)
	`, patientID, date, exclude).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check daily duplicate: %w", err)
	}
	return exists, nil
}

// Slot listings

func (r *PgRepository) ListAlternativeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, minMinutes int, excludeSlotID uuid.UUID) ([]SlotView, error) {
	rows, err := r.db.Query(ctx, slotViewSelect+`
		WHERE s.doctor_id = $1
		  AND s.date = $2
		  AND s.is_available
		  AND ts.remaining_minutes >= $3
		  AND ts.id <> $4
		ORDER BY ts.start_time
	`, doctorID, date, minMinutes, excludeSlotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlotViews(rows)
}

func (r *PgRepository) ListSlotsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotView, error) {
	rows, err := r.db.Query(ctx, slotViewSelect+`
		WHERE s.doctor_id = $1
		  AND s.date = $2
		ORDER BY ts.start_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlotViews(rows)
}

func collectSlotViews(rows pgx.Rows) ([]SlotView, error) {
	var result []SlotView
	for rows.Next() {
		s, err := scanSlotView(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Reservation protocol. Every method here follows the same shape:
// begin, lock the slot row(s), re-check the invariant under the lock,
// mutate ledger and appointment together, commit. Any failure rolls the
// whole transaction back.

func (r *PgRepository) ReserveAppointment(ctx context.Context, appt *Appointment, minutes int) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var remaining int
	err = tx.QueryRow(ctx, `
		SELECT remaining_minutes
		FROM time_slots
		WHERE id = $1
		FOR UPDATE
	`, appt.TimeSlotID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("lock slot: %w", err)
	}

	// The pre-transaction check already saw enough capacity; this one is
	// the authoritative check because the row is now locked.
	if remaining < minutes {
		return nil, ErrInsufficientCapacity
	}

	_, err = tx.Exec(ctx, `
		UPDATE time_slots
		SET remaining_minutes = remaining_minutes - $2,
		    updated_at = now()
		WHERE id = $1
	`, appt.TimeSlotID, minutes)
	if err != nil {
		return nil, fmt.Errorf("decrement slot: %w", err)
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, treatment_type_id, time_slot_id, appointment_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'booked', now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.PatientID, appt.DoctorID, appt.TreatmentTypeID, appt.TimeSlotID, appt.AppointmentDate)

	created, err := scanAppointment(row)
	if err != nil {
		// The partial unique index on (patient_id, appointment_date)
		// is the authoritative one-active-appointment-per-day check; a
		// concurrent booking that slipped past the advisory pre-check
		// fails here and rolls the reservation back.
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDailyBooking
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve tx: %w", err)
	}

	return created, nil
}

func (r *PgRepository) ReassignAppointment(ctx context.Context, appointmentID, newSlotID, newTreatmentTypeID uuid.UUID, oldSlotID uuid.UUID, oldMinutes, newMinutes int, newDate time.Time, newDoctorID uuid.UUID) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reassign tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sameSlot := oldSlotID == newSlotID

	// Lock both rows in a fixed order so two concurrent modifies on the
	// same slot pair cannot deadlock.
	lockOrder := []uuid.UUID{oldSlotID, newSlotID}
	if !sameSlot && newSlotID.String() < oldSlotID.String() {
		lockOrder = []uuid.UUID{newSlotID, oldSlotID}
	}
	if sameSlot {
		lockOrder = lockOrder[:1]
	}

	state := make(map[uuid.UUID]*struct{ remaining, total int }, len(lockOrder))
	for _, slotID := range lockOrder {
		var remaining, total int
		err = tx.QueryRow(ctx, `
			SELECT remaining_minutes, total_minutes
			FROM time_slots
			WHERE id = $1
			FOR UPDATE
		`, slotID).Scan(&remaining, &total)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrSlotNotFound
			}
			return nil, fmt.Errorf("lock slot: %w", err)
		}
		state[slotID] = &struct{ remaining, total int }{remaining, total}
	}

	// Release the old treatment's minutes to the old slot, then check
	// the new slot's effective availability. For a same-slot change the
	// released minutes count toward the new treatment.
	old := state[oldSlotID]
	releasedOld := old.remaining + oldMinutes
	if releasedOld > old.total {
		return nil, ErrLedgerCorrupt
	}

	available := state[newSlotID].remaining
	if sameSlot {
		available = releasedOld
	}
	if available < newMinutes {
		// Abort everything: the release above must not persist either.
		return nil, ErrInsufficientCapacity
	}

	if sameSlot {
		_, err = tx.Exec(ctx, `
			UPDATE time_slots
			SET remaining_minutes = remaining_minutes + $2 - $3,
			    updated_at = now()
			WHERE id = $1
		`, oldSlotID, oldMinutes, newMinutes)
		if err != nil {
			return nil, fmt.Errorf("adjust slot: %w", err)
		}
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE time_slots
			SET remaining_minutes = remaining_minutes + $2,
			    updated_at = now()
			WHERE id = $1
		`, oldSlotID, oldMinutes)
		if err != nil {
			return nil, fmt.Errorf("release old slot: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE time_slots
			SET remaining_minutes = remaining_minutes - $2,
			    updated_at = now()
			WHERE id = $1
		`, newSlotID, newMinutes)
		if err != nil {
			return nil, fmt.Errorf("reserve new slot: %w", err)
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET time_slot_id = $2,
		    treatment_type_id = $3,
		    appointment_date = $4,
		    doctor_id = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'booked'
		RETURNING `+appointmentColumns+`
	`, appointmentID, newSlotID, newTreatmentTypeID, newDate, newDoctorID)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNotModifiable
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDailyBooking
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reassign tx: %w", err)
	}

	return updated, nil
}

func (r *PgRepository) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, minutes int, cancelledBy, reason string) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancelled_by = $2,
		    cancelled_reason = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'booked'
		RETURNING `+appointmentColumns+`
	`, appointmentID, cancelledBy, reason)

	cancelled, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNotModifiable
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if err := r.releaseSlot(ctx, tx, cancelled.TimeSlotID, minutes); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}

	return cancelled, nil
}

// releaseSlot gives minutes back to a slot inside an open transaction.
// Overflowing total_minutes means the ledger and the appointments table
// disagree; that is a bug to surface, not a value to clamp.
func (r *PgRepository) releaseSlot(ctx context.Context, tx pgx.Tx, slotID uuid.UUID, minutes int) error {
	var remaining, total int
	err := tx.QueryRow(ctx, `
		UPDATE time_slots
		SET remaining_minutes = remaining_minutes + $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING remaining_minutes, total_minutes
	`, slotID, minutes).Scan(&remaining, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("release slot: %w", err)
	}
	if remaining > total {
		return ErrLedgerCorrupt
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The row exists but its status changed under us.
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	return updated, nil
}

// Lifecycle sweeper

func (r *PgRepository) FindElapsedBooked(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.treatment_type_id, a.time_slot_id, a.appointment_date, a.status, a.cancelled_reason, a.cancelled_by, a.created_at, a.updated_at
		FROM appointments a
		JOIN time_slots ts ON ts.id = a.time_slot_id
		WHERE a.status = 'booked'
		  AND ts.end_time < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkNoShow(ctx context.Context, appointmentID, patientID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin no-show tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'no_show',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'booked'
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("mark no-show: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already swept or checked in meanwhile; nothing to count.
		return ErrAppointmentNotFound
	}

	// Saturating increment. The cap lives in the SQL so a double sweep
	// can never push the count past 3.
	_, err = tx.Exec(ctx, `
		UPDATE patients
		SET no_show_count = LEAST(no_show_count + 1, 3),
		    updated_at = now()
		WHERE id = $1
	`, patientID)
	if err != nil {
		return fmt.Errorf("increment no-show count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit no-show tx: %w", err)
	}

	return nil
}

func (r *PgRepository) ListBlacklistCandidates(ctx context.Context) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, line_user_id, no_show_count, is_blacklisted, created_at, updated_at
		FROM patients
		WHERE no_show_count >= 3
		  AND NOT is_blacklisted
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) BlacklistPatient(ctx context.Context, patientID uuid.UUID, reason, createdBy string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin blacklist tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE patients
		SET is_blacklisted = true,
		    updated_at = now()
		WHERE id = $1
		  AND NOT is_blacklisted
	`, patientID)
	if err != nil {
		return false, fmt.Errorf("set blacklist flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already blacklisted; keep the sweep idempotent.
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO blacklists (id, patient_id, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (patient_id) DO NOTHING
	`, uuid.New(), patientID, reason, createdBy)
	if err != nil {
		return false, fmt.Errorf("insert blacklist record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit blacklist tx: %w", err)
	}

	return true, nil
}

func (r *PgRepository) RemoveBlacklist(ctx context.Context, patientID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unblacklist tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM blacklists WHERE patient_id = $1
	`, patientID)
	if err != nil {
		return fmt.Errorf("delete blacklist record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlacklistNotFound
	}

	// Reset the counter too or the next sweep would re-blacklist the
	// patient immediately.
	_, err = tx.Exec(ctx, `
		UPDATE patients
		SET is_blacklisted = false,
		    no_show_count = 0,
		    updated_at = now()
		WHERE id = $1
	`, patientID)
	if err != nil {
		return fmt.Errorf("clear blacklist flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unblacklist tx: %w", err)
	}

	return nil
}

// Deactivation cascades

type cascadeRow struct {
	appointmentID uuid.UUID
	slotID        uuid.UUID
	minutes       int
	patientID     uuid.UUID
	lineUserID    string
}

const cascadeSelect = `
	SELECT a.id, a.time_slot_id, tt.duration_minutes, p.id, p.line_user_id
	FROM appointments a
	JOIN treatment_types tt ON tt.id = a.treatment_type_id
	JOIN patients p ON p.id = a.patient_id
`

func (r *PgRepository) DeactivateDoctorCascade(ctx context.Context, doctorID uuid.UUID, today time.Time, reason, cancelledBy string) ([]CancelledBooking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin doctor cascade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE doctors
		SET active = false,
		    updated_at = now()
		WHERE id = $1
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("deactivate doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDoctorNotFound
	}

	cancelled, err := r.cascadeCancel(ctx, tx, cascadeSelect+`
		WHERE a.doctor_id = $1
		  AND a.appointment_date >= $2
		  AND a.status = 'booked'
	`, []any{doctorID, today}, reason, cancelledBy)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit doctor cascade tx: %w", err)
	}

	return cancelled, nil
}

func (r *PgRepository) DeactivateTreatmentCascade(ctx context.Context, treatmentTypeID uuid.UUID, today time.Time, reason, cancelledBy string) ([]CancelledBooking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin treatment cascade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE treatment_types
		SET active = false,
		    updated_at = now()
		WHERE id = $1
	`, treatmentTypeID)
	if err != nil {
		return nil, fmt.Errorf("deactivate treatment type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrTreatmentNotFound
	}

	cancelled, err := r.cascadeCancel(ctx, tx, cascadeSelect+`
		WHERE a.treatment_type_id = $1
		  AND a.appointment_date >= $2
		  AND a.status = 'booked'
	`, []any{treatmentTypeID, today}, reason, cancelledBy)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit treatment cascade tx: %w", err)
	}

	return cancelled, nil
}

func (r *PgRepository) SuspendScheduleCascade(ctx context.Context, scheduleID uuid.UUID, reason, cancelledBy string) ([]CancelledBooking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin schedule cascade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE schedules
		SET is_available = false,
		    updated_at = now()
		WHERE id = $1
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("suspend schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrScheduleNotFound
	}

	cancelled, err := r.cascadeCancel(ctx, tx, cascadeSelect+`
		JOIN time_slots ts ON ts.id = a.time_slot_id
		WHERE ts.schedule_id = $1
		  AND a.status = 'booked'
	`, []any{scheduleID}, reason, cancelledBy)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit schedule cascade tx: %w", err)
	}

	return cancelled, nil
}

// cascadeCancel cancels every booked appointment matched by query and
// returns minutes to the slots, all inside the caller's transaction.
// Rows are fully read before the per-row updates because the
// transaction's connection runs one query at a time.
func (r *PgRepository) cascadeCancel(ctx context.Context, tx pgx.Tx, query string, args []any, reason, cancelledBy string) ([]CancelledBooking, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select cascade targets: %w", err)
	}

	var targets []cascadeRow
	for rows.Next() {
		var c cascadeRow
		if err := rows.Scan(&c.appointmentID, &c.slotID, &c.minutes, &c.patientID, &c.lineUserID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan cascade target: %w", err)
		}
		targets = append(targets, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cancelled := make([]CancelledBooking, 0, len(targets))
	for _, c := range targets {
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = 'cancelled',
			    cancelled_by = $2,
			    cancelled_reason = $3,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'booked'
		`, c.appointmentID, cancelledBy, reason)
		if err != nil {
			return nil, fmt.Errorf("cascade cancel appointment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}

		if err := r.releaseSlot(ctx, tx, c.slotID, c.minutes); err != nil {
			return nil, err
		}

		cancelled = append(cancelled, CancelledBooking{
			AppointmentID: c.appointmentID,
			PatientID:     c.patientID,
			LineUserID:    c.lineUserID,
		})
	}

	return cancelled, nil
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Administrative ledger adjustment

func (r *PgRepository) AdjustSlotCapacity(ctx context.Context, slotID uuid.UUID, newTotalMinutes int) (*TimeSlot, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin adjust tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var remaining, total int
	err = tx.QueryRow(ctx, `
		SELECT remaining_minutes, total_minutes
		FROM time_slots
		WHERE id = $1
		FOR UPDATE
	`, slotID).Scan(&remaining, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("lock slot: %w", err)
	}

	// Business policy: a fully exhausted slot cannot be unstuck by a
	// manual edit.
	if remaining == 0 {
		return nil, ErrSlotExhausted
	}

	newRemaining := remaining + (newTotalMinutes - total)
	if newTotalMinutes <= 0 || newRemaining < 0 {
		return nil, ErrInvalidAdjustment
	}

	var slot TimeSlot
	err = tx.QueryRow(ctx, `
		UPDATE time_slots
		SET total_minutes = $2,
		    remaining_minutes = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, schedule_id, start_time, end_time, total_minutes, remaining_minutes, created_at, updated_at
	`, slotID, newTotalMinutes, newRemaining).Scan(
		&slot.ID,
		&slot.ScheduleID,
		&slot.StartTime,
		&slot.EndTime,
		&slot.TotalMinutes,
		&slot.RemainingMinutes,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("adjust slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit adjust tx: %w", err)
	}

	return &slot, nil
}
