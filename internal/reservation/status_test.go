package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stay-ledger/backend/internal/storage/models"
)

func TestTransition(t *testing.T) {
	// 10:00 on 2024-05-10 at the property.
	now := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		res  *models.Reservation
		want models.ReservationStatus
	}{
		{"check-in started", stay("a", "2024-05-10", "2024-05-12", models.StatusUpcoming), models.StatusCurrent},
		{"check-in tomorrow", stay("a", "2024-05-11", "2024-05-12", models.StatusUpcoming), models.StatusUpcoming},
		{"check-out today completes", stay("a", "2024-05-08", "2024-05-10", models.StatusCurrent), models.StatusCompleted},
		{"check-out tomorrow stays current", stay("a", "2024-05-08", "2024-05-11", models.StatusCurrent), models.StatusCurrent},
		{"missed stay completes directly", stay("a", "2024-05-01", "2024-05-03", models.StatusUpcoming), models.StatusCompleted},
		{"pending is untouched", stay("a", "2024-05-01", "2024-05-03", models.StatusPending), models.StatusPending},
		{"cancelled is terminal", stay("a", "2024-05-09", "2024-05-12", models.StatusCancelled), models.StatusCancelled},
		{"completed is terminal", stay("a", "2024-05-20", "2024-05-22", models.StatusCompleted), models.StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.res, now, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTransitionUsesPropertyTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:00 UTC on the 10th is still the evening of the 9th in New York.
	now := time.Date(2024, 5, 10, 2, 0, 0, 0, time.UTC)
	res := stay("a", "2024-05-10", "2024-05-12", models.StatusUpcoming)

	got, err := Transition(res, now, loc)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUpcoming, got)

	got, err = Transition(res, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCurrent, got)
}

func TestTransitionFlagsImpossibleRange(t *testing.T) {
	res := stay("a", "2024-05-10", "2024-05-10", models.StatusUpcoming)
	got, err := Transition(res, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.ErrorIs(t, err, ErrImpossibleRange)
	assert.Equal(t, models.StatusUpcoming, got)
}

func TestInitialStatus(t *testing.T) {
	now := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, models.StatusUpcoming, initialStatus(rng("2024-06-01", "2024-06-03"), "", now, time.UTC))
	assert.Equal(t, models.StatusCurrent, initialStatus(rng("2024-05-10", "2024-05-12"), "", now, time.UTC))
	assert.Equal(t, models.StatusCompleted, initialStatus(rng("2024-05-01", "2024-05-03"), models.StatusUpcoming, now, time.UTC))
	assert.Equal(t, models.StatusPending, initialStatus(rng("2024-06-01", "2024-06-03"), models.StatusPending, now, time.UTC))
}
