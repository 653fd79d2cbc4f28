package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinic-booking/internal/booking"
	"github.com/clinicore/clinic-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := applySchema(context.Background(), pool); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctorsAndTreatments(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSchedules(context.Background(), pool, doctorIDs, 14); err != nil {
		log.Fatalf("seed schedules: %v", err)
	}

	log.Println("seed complete")
}

// Schema migration tooling is out of scope; the seed tool applies the
// schema directly so a fresh database is usable in one step.
const schema = `
CREATE TABLE IF NOT EXISTS doctors (
	id uuid PRIMARY KEY,
	name text NOT NULL,
	active boolean NOT NULL DEFAULT true,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS treatment_types (
	id uuid PRIMARY KEY,
	name text NOT NULL,
	duration_minutes int NOT NULL CHECK (duration_minutes BETWEEN 1 AND 30),
	active boolean NOT NULL DEFAULT true,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS doctor_treatments (
	doctor_id uuid NOT NULL REFERENCES doctors(id),
	treatment_type_id uuid NOT NULL REFERENCES treatment_types(id),
	PRIMARY KEY (doctor_id, treatment_type_id)
);

CREATE TABLE IF NOT EXISTS schedules (
	id uuid PRIMARY KEY,
	doctor_id uuid NOT NULL REFERENCES doctors(id),
	date date NOT NULL,
	is_available boolean NOT NULL DEFAULT true,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (doctor_id, date)
);

CREATE TABLE IF NOT EXISTS time_slots (
	id uuid PRIMARY KEY,
	schedule_id uuid NOT NULL REFERENCES schedules(id) ON DELETE CASCADE,
	start_time timestamptz NOT NULL,
	end_time timestamptz NOT NULL,
	total_minutes int NOT NULL DEFAULT 30,
	remaining_minutes int NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	CHECK (remaining_minutes >= 0 AND remaining_minutes <= total_minutes)
);

CREATE TABLE IF NOT EXISTS patients (
	id uuid PRIMARY KEY,
	name text NOT NULL,
	line_user_id text NOT NULL UNIQUE,
	no_show_count int NOT NULL DEFAULT 0 CHECK (no_show_count BETWEEN 0 AND 3),
	is_blacklisted boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blacklists (
	id uuid PRIMARY KEY,
	patient_id uuid NOT NULL UNIQUE REFERENCES patients(id),
	reason text NOT NULL,
	created_by text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS appointments (
	id uuid PRIMARY KEY,
	patient_id uuid NOT NULL REFERENCES patients(id),
	doctor_id uuid NOT NULL REFERENCES doctors(id),
	treatment_type_id uuid NOT NULL REFERENCES treatment_types(id),
	time_slot_id uuid NOT NULL REFERENCES time_slots(id),
	appointment_date date NOT NULL,
	status text NOT NULL DEFAULT 'booked',
	cancelled_reason text,
	cancelled_by text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_appointments_patient_date ON appointments (patient_id, appointment_date);
CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_active_per_day
	ON appointments (patient_id, appointment_date)
	WHERE status IN ('booked', 'checked_in');
CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments (status);
CREATE INDEX IF NOT EXISTS idx_time_slots_schedule ON time_slots (schedule_id);

CREATE TABLE IF NOT EXISTS event_logs (
	id bigserial PRIMARY KEY,
	event_type text NOT NULL,
	appointment_id uuid,
	payload jsonb,
	created_at timestamptz NOT NULL DEFAULT now()
);
`

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

func seedDoctorsAndTreatments(ctx context.Context, pool *pgxpool.Pool, doctorCount int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors and treatment catalog", doctorCount)

	treatments := []struct {
		name    string
		minutes int
	}{
		{"Consultation", 10},
		{"Follow-up", 10},
		{"Scaling", 30},
		{"Filling", 20},
		{"Extraction", 30},
		{"Root canal session", 30},
		{"Fluoride treatment", 15},
		{"X-ray review", 5},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	treatmentIDs := make([]uuid.UUID, 0, len(treatments))
	for _, t := range treatments {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO treatment_types (id, name, duration_minutes, active, created_at, updated_at)
			VALUES ($1, $2, $3, true, now(), now())
		`, id, t.name, t.minutes)
		if err != nil {
			return nil, err
		}
		treatmentIDs = append(treatmentIDs, id)
	}

	doctorIDs := make([]uuid.UUID, 0, doctorCount)
	for i := 0; i < doctorCount; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, active, created_at, updated_at)
			VALUES ($1, $2, true, now(), now())
		`, id, "Dr. "+gofakeit.Name())
		if err != nil {
			return nil, err
		}
		doctorIDs = append(doctorIDs, id)

		// Every doctor offers a random subset of the catalog, at least half.
		for _, tid := range treatmentIDs {
			if gofakeit.Bool() || gofakeit.Bool() {
				_, err := tx.Exec(ctx, `
					INSERT INTO doctor_treatments (doctor_id, treatment_type_id)
					VALUES ($1, $2)
				`, id, tid)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors and treatments seeded")
	return doctorIDs, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 250

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, line_user_id, no_show_count, is_blacklisted, created_at, updated_at)
				VALUES ($1, $2, $3, 0, false, now(), now())
			`, uuid.New(), gofakeit.Name(), "U"+gofakeit.UUID())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	return nil
}

// seedSchedules creates one schedule per doctor per day for the coming
// days, with 30-minute slots from 09:00 to 17:00.
func seedSchedules(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, days int) error {
	log.Printf("seeding schedules for %d doctors over %d days", len(doctorIDs), days)

	today := time.Now().UTC().Truncate(24 * time.Hour)

	for _, doctorID := range doctorIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for d := 0; d < days; d++ {
			date := today.AddDate(0, 0, d)
			scheduleID := uuid.New()

			_, err := tx.Exec(ctx, `
				INSERT INTO schedules (id, doctor_id, date, is_available, created_at, updated_at)
				VALUES ($1, $2, $3, true, now(), now())
			`, scheduleID, doctorID, date)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			for h := 9; h < 17; h++ {
				for _, m := range []int{0, 30} {
					start := date.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
					_, err := tx.Exec(ctx, `
						INSERT INTO time_slots (id, schedule_id, start_time, end_time, total_minutes, remaining_minutes, created_at, updated_at)
						VALUES ($1, $2, $3, $4, $5, $5, now(), now())
					`, uuid.New(), scheduleID, start, start.Add(booking.SlotMinutes*time.Minute), booking.SlotMinutes)
					if err != nil {
						_ = tx.Rollback(ctx)
						return err
					}
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("schedules seeded")
	return nil
}
