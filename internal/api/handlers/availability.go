package handlers

import (
	"net/http"

	"github.com/stay-ledger/backend/internal/api/middleware"
	"github.com/stay-ledger/backend/internal/availability"
	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage/models"
)

// CheckResponse answers whether a stay could be booked.
type CheckResponse struct {
	Available bool                   `json:"available"`
	Conflicts []reservation.Conflict `json:"conflicts"`
}

// GetAvailability returns the blocked days in [from, to).
func GetAvailability(agg *availability.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := dateParam(w, r, "from")
		if !ok {
			return
		}
		to, ok := dateParam(w, r, "to")
		if !ok {
			return
		}

		cal, err := agg.BlockedDates(r.Context(), from, to)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cal)
	}
}

// CheckAvailability reports whether checkIn to checkOut is free.
func CheckAvailability(agg *availability.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checkIn, ok := dateParam(w, r, "checkIn")
		if !ok {
			return
		}
		checkOut, ok := dateParam(w, r, "checkOut")
		if !ok {
			return
		}

		available, conflicts, err := agg.Check(r.Context(), models.DateRange{Start: checkIn, End: checkOut})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if conflicts == nil {
			conflicts = []reservation.Conflict{}
		}
		writeJSON(w, http.StatusOK, CheckResponse{Available: available, Conflicts: conflicts})
	}
}

func dateParam(w http.ResponseWriter, r *http.Request, name string) (models.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation,
			name+" is required", map[string]string{"field": name})
		return models.Date{}, false
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation,
			name+" must be a YYYY-MM-DD date", map[string]string{"field": name})
		return models.Date{}, false
	}
	return d, true
}
