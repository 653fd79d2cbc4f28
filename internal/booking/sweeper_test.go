package booking

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepNoShows(t *testing.T) {
	fx := newFixture(t)
	appt := fx.book(t)
	sw := NewSweeper(fx.repo, zerolog.Nop())

	t.Run("before slot end nothing happens", func(t *testing.T) {
		swept, err := sw.SweepNoShows(context.Background(), fx.slot.EndTime.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, swept)
	})

	t.Run("slot end itself is not elapsed", func(t *testing.T) {
		swept, err := sw.SweepNoShows(context.Background(), fx.slot.EndTime)
		require.NoError(t, err)
		assert.Equal(t, 0, swept)
	})

	t.Run("after slot end the booking becomes a no-show", func(t *testing.T) {
		swept, err := sw.SweepNoShows(context.Background(), fx.slot.EndTime.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, swept)

		got, err := fx.repo.GetAppointmentByID(context.Background(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusNoShow, got.Status)
		assert.Equal(t, 1, fx.patient.NoShowCount)
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		swept, err := sw.SweepNoShows(context.Background(), fx.slot.EndTime.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, swept)
		assert.Equal(t, 1, fx.patient.NoShowCount)
	})
}

func TestSweepNoShowsSkipsCheckedIn(t *testing.T) {
	fx := newFixture(t)
	appt := fx.book(t)
	_, err := fx.svc.CheckIn(context.Background(), appt.ID)
	require.NoError(t, err)

	sw := NewSweeper(fx.repo, zerolog.Nop())
	swept, err := sw.SweepNoShows(context.Background(), fx.slot.EndTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
	assert.Equal(t, 0, fx.patient.NoShowCount)
}

func TestSweepBlacklist(t *testing.T) {
	fx := newFixture(t)
	fx.patient.NoShowCount = 3
	sw := NewSweeper(fx.repo, zerolog.Nop())

	flagged, err := sw.SweepBlacklist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)
	assert.True(t, fx.patient.IsBlacklisted)

	// Idempotent: already flagged patients are not re-flagged.
	flagged, err = sw.SweepBlacklist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
}

func TestSweepBlacklistIgnoresBelowCap(t *testing.T) {
	fx := newFixture(t)
	fx.patient.NoShowCount = 2
	sw := NewSweeper(fx.repo, zerolog.Nop())

	flagged, err := sw.SweepBlacklist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
	assert.False(t, fx.patient.IsBlacklisted)
}
