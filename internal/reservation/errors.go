package reservation

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/storage/models"
)

// Sentinels matched with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("reservation conflict")
	ErrNotFound   = errors.New("reservation not found")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError lists every occupied interval the proposed stay collides with.
type ConflictError struct {
	Proposed  models.DateRange `json:"proposed"`
	Conflicts []Conflict       `json:"conflicts"`
}

func (e *ConflictError) Error() string {
	refs := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		refs = append(refs, fmt.Sprintf("%s %s %s", c.Kind, c.Ref, c.Range))
	}
	return fmt.Sprintf("%s overlaps %s", e.Proposed, strings.Join(refs, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError reports an unknown reservation id.
type NotFoundError struct {
	ID string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reservation %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
