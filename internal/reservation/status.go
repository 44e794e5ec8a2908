package reservation

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/storage/models"
)

// ErrImpossibleRange marks a stored stay whose check-out is not after its
// check-in. Such records are reported, never transitioned.
var ErrImpossibleRange = errors.New("check-out is not after check-in")

// Transition returns the status res should hold at now. Only upcoming and
// current stays move; pending, completed and cancelled are returned as is.
//
// A stay becomes current once its check-in day has started in loc and
// completes once its check-out day has started.
func Transition(res *models.Reservation, now time.Time, loc *time.Location) (models.ReservationStatus, error) {
	if res.Status != models.StatusUpcoming && res.Status != models.StatusCurrent {
		return res.Status, nil
	}
	if !res.Range().Valid() {
		return res.Status, errors.Wrapf(ErrImpossibleRange, "reservation %s %s", res.ID, res.Range())
	}

	today := models.DateOf(now, loc)
	if !res.CheckOutDate.After(today) {
		return models.StatusCompleted, nil
	}
	if res.Status == models.StatusUpcoming && !res.CheckInDate.Midnight(loc).After(now) {
		return models.StatusCurrent, nil
	}
	return res.Status, nil
}

// initialStatus derives the status of a new or re-dated stay.
func initialStatus(rng models.DateRange, requested models.ReservationStatus, now time.Time, loc *time.Location) models.ReservationStatus {
	if requested == models.StatusPending {
		return models.StatusPending
	}
	probe := &models.Reservation{
		Status:       models.StatusUpcoming,
		CheckInDate:  rng.Start,
		CheckOutDate: rng.End,
	}
	status, err := Transition(probe, now, loc)
	if err != nil {
		return models.StatusUpcoming
	}
	return status
}

// StatusChange records one transition applied by a sweep.
type StatusChange struct {
	ID              string                   `json:"id"`
	ReservationCode string                   `json:"reservationCode"`
	From            models.ReservationStatus `json:"from"`
	To              models.ReservationStatus `json:"to"`
}

// Anomaly is a record the sweep could not evaluate.
type Anomaly struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// SweepResult summarises one pass of the status engine.
type SweepResult struct {
	Checked   int            `json:"checked"`
	Changed   []StatusChange `json:"changed"`
	Anomalies []Anomaly      `json:"anomalies"`
	RanAt     time.Time      `json:"ranAt"`
}
