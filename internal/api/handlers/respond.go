// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/stay-ledger/backend/internal/api/middleware"
	"github.com/stay-ledger/backend/internal/calendar"
	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the body into dst. It writes the error response itself
// and reports whether the handler may go on.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeValid is decodeJSON followed by the validate tags of dst.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}
	err := validate.Struct(dst)
	if err == nil {
		return true
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		err = &reservation.ValidationError{Field: fe.Field(), Message: "failed " + fe.Tag() + " validation"}
	}
	writeServiceError(w, r, err)
	return false
}

// writeServiceError maps domain errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *reservation.ValidationError
		conflict   *reservation.ConflictError
		failure    *calendar.SyncFailure
	)
	switch {
	case errors.As(err, &validation):
		middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation, validation.Error(), validation)
	case errors.As(err, &conflict):
		middleware.WriteErrorWithDetails(w, http.StatusConflict, middleware.ErrConflict, conflict.Error(), conflict)
	case errors.Is(err, reservation.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Reservation not found")
	case errors.Is(err, calendar.ErrFeedNotFound), errors.Is(err, storage.ErrRowNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Feed not found")
	case errors.As(err, &failure):
		middleware.WriteErrorWithDetails(w, http.StatusBadGateway, middleware.ErrSyncFailed, failure.Reason,
			map[string]string{"feedId": failure.FeedID, "kind": string(failure.Kind)})
	case storage.IsUniqueViolation(err):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "A record with the same unique value exists")
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		// Client went away; nothing useful to write.
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "An unexpected error occurred")
	}
}
