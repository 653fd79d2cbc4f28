package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentCols = []string{
	"id", "patient_id", "doctor_id", "treatment_type_id", "time_slot_id",
	"appointment_date", "status", "cancelled_reason", "cancelled_by",
	"created_at", "updated_at",
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func appointmentRow(id, patientID, slotID uuid.UUID, status Status, date time.Time) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(appointmentCols).AddRow(
		id, patientID, uuid.New(), uuid.New(), slotID,
		date, status, nil, nil, now, now,
	)
}

func TestReserveAppointmentCommitsDecrementAndInsert(t *testing.T) {
	mock, repo := newMockRepo(t)

	slotID := uuid.New()
	patientID := uuid.New()
	date := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes"}).AddRow(30))
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(slotID, 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), patientID, pgxmock.AnyArg(), pgxmock.AnyArg(), slotID, date).
		WillReturnRows(appointmentRow(uuid.New(), patientID, slotID, StatusBooked, date))
	mock.ExpectCommit()

	created, err := repo.ReserveAppointment(context.Background(), &Appointment{
		PatientID:       patientID,
		DoctorID:        uuid.New(),
		TreatmentTypeID: uuid.New(),
		TimeSlotID:      slotID,
		AppointmentDate: date,
	}, 20)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, created.Status)
	assert.Equal(t, slotID, created.TimeSlotID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveAppointmentRollsBackOnInsufficientCapacity(t *testing.T) {
	mock, repo := newMockRepo(t)

	slotID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes"}).AddRow(10))
	mock.ExpectRollback()

	_, err := repo.ReserveAppointment(context.Background(), &Appointment{
		TimeSlotID: slotID,
	}, 20)
	require.ErrorIs(t, err, ErrInsufficientCapacity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveAppointmentUnknownSlot(t *testing.T) {
	mock, repo := newMockRepo(t)

	slotID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes"}))
	mock.ExpectRollback()

	_, err := repo.ReserveAppointment(context.Background(), &Appointment{
		TimeSlotID: slotID,
	}, 20)
	require.ErrorIs(t, err, ErrSlotNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveAppointmentMapsDailyUniqueViolation(t *testing.T) {
	mock, repo := newMockRepo(t)

	slotID := uuid.New()
	patientID := uuid.New()
	date := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	// A concurrent booking for the same patient and date commits first;
	// the partial unique index rejects this insert and the whole
	// reservation, slot decrement included, rolls back.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes"}).AddRow(30))
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(slotID, 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), patientID, pgxmock.AnyArg(), pgxmock.AnyArg(), slotID, date).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_appointments_active_per_day"})
	mock.ExpectRollback()

	_, err := repo.ReserveAppointment(context.Background(), &Appointment{
		PatientID:       patientID,
		DoctorID:        uuid.New(),
		TreatmentTypeID: uuid.New(),
		TimeSlotID:      slotID,
		AppointmentDate: date,
	}, 20)
	require.ErrorIs(t, err, ErrDuplicateDailyBooking)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAppointmentReleasesMinutes(t *testing.T) {
	mock, repo := newMockRepo(t)

	apptID := uuid.New()
	slotID := uuid.New()
	date := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(apptID, "patient", "changed plans").
		WillReturnRows(appointmentRow(apptID, uuid.New(), slotID, StatusCancelled, date))
	mock.ExpectQuery("UPDATE time_slots").
		WithArgs(slotID, 20).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(30, 30))
	mock.ExpectCommit()

	cancelled, err := repo.CancelAppointment(context.Background(), apptID, 20, "patient", "changed plans")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAppointmentNotBooked(t *testing.T) {
	mock, repo := newMockRepo(t)

	apptID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(apptID, "patient", "late").
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectRollback()

	_, err := repo.CancelAppointment(context.Background(), apptID, 20, "patient", "late")
	require.ErrorIs(t, err, ErrNotModifiable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAppointmentDetectsLedgerOverflow(t *testing.T) {
	mock, repo := newMockRepo(t)

	apptID := uuid.New()
	slotID := uuid.New()
	date := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(apptID, "patient", "oops").
		WillReturnRows(appointmentRow(apptID, uuid.New(), slotID, StatusCancelled, date))
	mock.ExpectQuery("UPDATE time_slots").
		WithArgs(slotID, 20).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(40, 30))
	mock.ExpectRollback()

	_, err := repo.CancelAppointment(context.Background(), apptID, 20, "patient", "oops")
	require.ErrorIs(t, err, ErrLedgerCorrupt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignAppointmentLocksSlotsInOrder(t *testing.T) {
	mock, repo := newMockRepo(t)

	// Fixed IDs so the lock order is known: "aaa..." sorts before "bbb...".
	oldSlotID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	newSlotID := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")
	apptID := uuid.New()
	newDoctorID := uuid.New()
	newDate := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(oldSlotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(10, 30))
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(newSlotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(30, 30))
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(oldSlotID, 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(newSlotID, 25).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(apptID, newSlotID, pgxmock.AnyArg(), newDate, newDoctorID).
		WillReturnRows(appointmentRow(apptID, uuid.New(), newSlotID, StatusBooked, newDate))
	mock.ExpectCommit()

	updated, err := repo.ReassignAppointment(context.Background(),
		apptID, newSlotID, uuid.New(), oldSlotID, 20, 25, newDate, newDoctorID)
	require.NoError(t, err)
	assert.Equal(t, newSlotID, updated.TimeSlotID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignAppointmentSameSlotUsesReleasedMinutes(t *testing.T) {
	mock, repo := newMockRepo(t)

	slotID := uuid.New()
	apptID := uuid.New()
	doctorID := uuid.New()
	date := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	// Remaining 5, but releasing the old 20-minute treatment makes room
	// for the 25-minute one in the same slot.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(5, 30))
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(slotID, 20, 25).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(apptID, slotID, pgxmock.AnyArg(), date, doctorID).
		WillReturnRows(appointmentRow(apptID, uuid.New(), slotID, StatusBooked, date))
	mock.ExpectCommit()

	_, err := repo.ReassignAppointment(context.Background(),
		apptID, slotID, uuid.New(), slotID, 20, 25, date, doctorID)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignAppointmentRollsBackWhenNewSlotFull(t *testing.T) {
	mock, repo := newMockRepo(t)

	oldSlotID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	newSlotID := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(oldSlotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(10, 30))
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(newSlotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(5, 30))
	mock.ExpectRollback()

	_, err := repo.ReassignAppointment(context.Background(),
		uuid.New(), newSlotID, uuid.New(), oldSlotID, 20, 25,
		time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), uuid.New())
	require.ErrorIs(t, err, ErrInsufficientCapacity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignAppointmentMapsDailyUniqueViolation(t *testing.T) {
	mock, repo := newMockRepo(t)

	oldSlotID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	newSlotID := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")
	apptID := uuid.New()
	newDate := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	// Moving the appointment to a date where the patient already has an
	// active one trips the unique index; both slot updates roll back.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(oldSlotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(10, 30))
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(newSlotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(30, 30))
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(oldSlotID, 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(newSlotID, 25).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(apptID, newSlotID, pgxmock.AnyArg(), newDate, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_appointments_active_per_day"})
	mock.ExpectRollback()

	_, err := repo.ReassignAppointment(context.Background(),
		apptID, newSlotID, uuid.New(), oldSlotID, 20, 25, newDate, uuid.New())
	require.ErrorIs(t, err, ErrDuplicateDailyBooking)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAppointmentStatusCASMiss(t *testing.T) {
	mock, repo := newMockRepo(t)

	apptID := uuid.New()

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(apptID, StatusCheckedIn, StatusBooked).
		WillReturnRows(pgxmock.NewRows(appointmentCols))

	_, err := repo.UpdateAppointmentStatus(context.Background(), apptID, StatusBooked, StatusCheckedIn)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNoShowIncrementsSaturatingCount(t *testing.T) {
	mock, repo := newMockRepo(t)

	apptID := uuid.New()
	patientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE patients").
		WithArgs(patientID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkNoShow(context.Background(), apptID, patientID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNoShowSkipsRacedAppointment(t *testing.T) {
	mock, repo := newMockRepo(t)

	apptID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.MarkNoShow(context.Background(), apptID, uuid.New())
	require.ErrorIs(t, err, ErrAppointmentNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlacklistPatientIdempotent(t *testing.T) {
	mock, repo := newMockRepo(t)

	patientID := uuid.New()

	t.Run("first run creates the record", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE patients").
			WithArgs(patientID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("INSERT INTO blacklists").
			WithArgs(pgxmock.AnyArg(), patientID, "3 no-shows", "system").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		created, err := repo.BlacklistPatient(context.Background(), patientID, "3 no-shows", "system")
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE patients").
			WithArgs(patientID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		created, err := repo.BlacklistPatient(context.Background(), patientID, "3 no-shows", "system")
		require.NoError(t, err)
		assert.False(t, created)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustSlotCapacityRejectsExhaustedSlot(t *testing.T) {
	mock, repo := newMockRepo(t)

	slotID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(0, 30))
	mock.ExpectRollback()

	_, err := repo.AdjustSlotCapacity(context.Background(), slotID, 60)
	require.ErrorIs(t, err, ErrSlotExhausted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustSlotCapacityRejectsInvalidTotal(t *testing.T) {
	tests := []struct {
		name     string
		newTotal int
	}{
		{"zero total", 0},
		{"negative total", -15},
		{"below booked minutes", 15}, // 20 booked of 30, remaining would go negative
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, repo := newMockRepo(t)

			slotID := uuid.New()

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
				WithArgs(slotID).
				WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(10, 30))
			mock.ExpectRollback()

			_, err := repo.AdjustSlotCapacity(context.Background(), slotID, tt.newTotal)
			require.ErrorIs(t, err, ErrInvalidAdjustment)

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdjustSlotCapacityExtends(t *testing.T) {
	mock, repo := newMockRepo(t)

	slotID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_minutes, total_minutes").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(10, 30))
	mock.ExpectQuery("UPDATE time_slots").
		WithArgs(slotID, 45, 25).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "schedule_id", "start_time", "end_time",
			"total_minutes", "remaining_minutes", "created_at", "updated_at",
		}).AddRow(slotID, uuid.New(), now, now.Add(30*time.Minute), 45, 25, now, now))
	mock.ExpectCommit()

	slot, err := repo.AdjustSlotCapacity(context.Background(), slotID, 45)
	require.NoError(t, err)
	assert.Equal(t, 45, slot.TotalMinutes)
	assert.Equal(t, 25, slot.RemainingMinutes)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuspendScheduleCascadeUnknownSchedule(t *testing.T) {
	mock, repo := newMockRepo(t)

	scheduleID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE schedules").
		WithArgs(scheduleID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := repo.SuspendScheduleCascade(context.Background(), scheduleID, "closed", "admin")
	require.ErrorIs(t, err, ErrScheduleNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateDoctorCascadeCancelsAndReleases(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	apptID := uuid.New()
	slotID := uuid.New()
	patientID := uuid.New()
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE doctors").
		WithArgs(doctorID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT a.id, a.time_slot_id").
		WithArgs(doctorID, today).
		WillReturnRows(pgxmock.NewRows([]string{"id", "time_slot_id", "duration_minutes", "id", "line_user_id"}).
			AddRow(apptID, slotID, 20, patientID, "U-ann"))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(apptID, "admin", "doctor left").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE time_slots").
		WithArgs(slotID, 20).
		WillReturnRows(pgxmock.NewRows([]string{"remaining_minutes", "total_minutes"}).AddRow(30, 30))
	mock.ExpectCommit()

	cancelled, err := repo.DeactivateDoctorCascade(context.Background(), doctorID, today, "doctor left", "admin")
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, apptID, cancelled[0].AppointmentID)
	assert.Equal(t, "U-ann", cancelled[0].LineUserID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAlternativeSlots(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	date := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	excludeID := uuid.New()
	altID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT ts.id, ts.schedule_id").
		WithArgs(doctorID, date, 20, excludeID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "schedule_id", "start_time", "end_time",
			"total_minutes", "remaining_minutes", "created_at", "updated_at",
			"doctor_id", "date", "is_available",
		}).AddRow(altID, uuid.New(), now, now.Add(30*time.Minute), 30, 30, now, now, doctorID, date, true))

	alts, err := repo.ListAlternativeSlots(context.Background(), doctorID, date, 20, excludeID)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, altID, alts[0].ID)
	assert.Equal(t, doctorID, alts[0].DoctorID)

	require.NoError(t, mock.ExpectationsWereMet())
}
