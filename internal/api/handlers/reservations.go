package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/stay-ledger/backend/internal/api/middleware"
	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage/models"
)

// ListReservations returns stays matching the status, period, userId and
// limit query parameters.
func ListReservations(svc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := models.ReservationFilter{
			Status:   models.ReservationStatus(q.Get("status")),
			Period:   models.Period(q.Get("period")),
			GuestRef: q.Get("userId"),
		}
		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation,
					"limit must be a non-negative integer", map[string]string{"field": "limit"})
				return
			}
			filter.Limit = limit
		}

		list, err := svc.List(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// CreateReservation books a new stay.
func CreateReservation(svc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in reservation.CreateInput
		if !decodeJSON(w, r, &in) {
			return
		}

		res, err := svc.Create(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// GetReservation returns a single stay by ID.
func GetReservation(svc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// UpdateReservation applies a partial update.
func UpdateReservation(svc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in reservation.UpdateInput
		if !decodeJSON(w, r, &in) {
			return
		}

		res, err := svc.Update(r.Context(), mux.Vars(r)["id"], in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// DeleteReservation cancels a stay, or removes it for good with cancel=false.
func DeleteReservation(svc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		hardDelete := false
		if raw := r.URL.Query().Get("cancel"); raw != "" {
			cancel, err := strconv.ParseBool(raw)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "cancel must be true or false")
				return
			}
			hardDelete = !cancel
		}

		if hardDelete {
			if err := svc.Delete(r.Context(), id); err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
			return
		}

		res, err := svc.Cancel(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// SweepReservations runs the status sweep now.
func SweepReservations(svc *reservation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.Sweep(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
