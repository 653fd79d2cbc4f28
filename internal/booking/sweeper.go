package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sweeper runs the idempotent batch transitions: elapsed booked
// appointments become no-shows, and patients who hit the no-show cap
// get blacklisted. Both operations tolerate overlapping runs; the
// saturating SQL and the flag guards keep a double execution from
// corrupting counts or duplicating records.
type Sweeper struct {
	repo Repository
	log  zerolog.Logger
}

func NewSweeper(repo Repository, log zerolog.Logger) *Sweeper {
	return &Sweeper{repo: repo, log: log}
}

// SweepNoShows transitions every booked appointment whose slot ended
// strictly before now. Each transition increments the patient's
// no-show count, capped at 3. It never touches checked_in appointments
// and never sets the blacklist flag itself.
func (sw *Sweeper) SweepNoShows(ctx context.Context, now time.Time) (int, error) {
	candidates, err := sw.repo.FindElapsedBooked(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find elapsed booked appointments: %w", err)
	}

	swept := 0
	for _, appt := range candidates {
		err := sw.repo.MarkNoShow(ctx, appt.ID, appt.PatientID)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Raced with a check-in or a parallel sweep; skip.
				continue
			}
			sw.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("mark no-show")
			continue
		}
		swept++
		sw.logEvent(ctx, &appt.ID, EventBookingNoShow, map[string]any{
			"patient_id": appt.PatientID.String(),
		})
	}

	return swept, nil
}

// SweepBlacklist flags every patient at the no-show cap who is not yet
// blacklisted and writes the one-to-one Blacklist record. Running it
// twice produces the same state and exactly one record per patient.
func (sw *Sweeper) SweepBlacklist(ctx context.Context) (int, error) {
	candidates, err := sw.repo.ListBlacklistCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list blacklist candidates: %w", err)
	}

	flagged := 0
	for _, p := range candidates {
		reason := fmt.Sprintf("automatic: reached %d no-shows", p.NoShowCount)
		created, err := sw.repo.BlacklistPatient(ctx, p.ID, reason, "system")
		if err != nil {
			sw.log.Error().Err(err).Str("patient_id", p.ID.String()).Msg("blacklist patient")
			continue
		}
		if created {
			flagged++
			sw.log.Info().Str("patient_id", p.ID.String()).Int("no_show_count", p.NoShowCount).Msg("patient blacklisted")
			sw.logEvent(ctx, nil, EventPatientBlacklisted, map[string]any{
				"patient_id": p.ID.String(),
				"reason":     reason,
			})
		}
	}

	return flagged, nil
}

func (sw *Sweeper) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		sw.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}
	if err := sw.repo.InsertEvent(ctx, ev); err != nil {
		sw.log.Error().Err(err).Str("event", eventType).Msg("insert event log")
	}
}
