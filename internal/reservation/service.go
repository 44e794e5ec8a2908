// Package reservation owns the lifecycle of locally managed stays: creation,
// edits, cancellation and the date-driven status transitions.
package reservation

import (
	"context"
	"database/sql"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stay-ledger/backend/internal/pkg/clock"
	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Notifier receives reservation events. Implementations must not block.
type Notifier interface {
	ReservationEvent(ctx context.Context, event string, res *models.Reservation)
	ReservationDeleted(ctx context.Context, id string)
	ReservationStatusChanged(ctx context.Context, res *models.Reservation, previous models.ReservationStatus)
}

// Options carries the collaborators every Service needs besides storage.
type Options struct {
	Clock    clock.Clock
	Location *time.Location
	Notifier Notifier
	Logger   *slog.Logger
}

// Service manages reservations.
type Service struct {
	db           *storage.DB
	reservations *storage.ReservationRepository
	events       *storage.ExternalEventRepository
	settings     *storage.SettingsRepository

	clock    clock.Clock
	loc      *time.Location
	notifier Notifier
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a new reservation service.
func NewService(
	db *storage.DB,
	reservations *storage.ReservationRepository,
	events *storage.ExternalEventRepository,
	settings *storage.SettingsRepository,
	opts Options,
) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		db:           db,
		reservations: reservations,
		events:       events,
		settings:     settings,
		clock:        opts.Clock,
		loc:          opts.Location,
		notifier:     opts.Notifier,
		validate:     newValidator(),
		logger:       opts.Logger.With("component", "reservation"),
	}
}

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	GuestRef        string                   `json:"userId" validate:"required"`
	GuestName       string                   `json:"guestName"`
	GuestPhone      string                   `json:"guestPhone"`
	CheckInDate     string                   `json:"checkInDate" validate:"required"`
	CheckOutDate    string                   `json:"checkOutDate" validate:"required"`
	CheckInTime     string                   `json:"checkInTime" validate:"omitempty,datetime=15:04"`
	CheckOutTime    string                   `json:"checkOutTime" validate:"omitempty,datetime=15:04"`
	Status          models.ReservationStatus `json:"status" validate:"omitempty,oneof=pending upcoming"`
	Source          models.ReservationSource `json:"source" validate:"omitempty,oneof=airbnb direct other"`
	NumberOfGuests  *int                     `json:"numberOfGuests" validate:"omitempty,min=1"`
	Notes           string                   `json:"notes"`
	TotalAmount     float64                  `json:"totalAmount" validate:"gte=0"`
	IsPaid          bool                     `json:"isPaid"`
	ReservationCode string                   `json:"reservationCode" validate:"omitempty,max=32"`
	CreatedBy       string                   `json:"createdBy"`
}

// UpdateInput is a partial edit. Nil fields are left unchanged.
type UpdateInput struct {
	GuestRef       *string                   `json:"userId" validate:"omitempty,min=1"`
	GuestName      *string                   `json:"guestName"`
	GuestPhone     *string                   `json:"guestPhone"`
	CheckInDate    *string                   `json:"checkInDate"`
	CheckOutDate   *string                   `json:"checkOutDate"`
	CheckInTime    *string                   `json:"checkInTime" validate:"omitempty,datetime=15:04"`
	CheckOutTime   *string                   `json:"checkOutTime" validate:"omitempty,datetime=15:04"`
	Status         *models.ReservationStatus `json:"status" validate:"omitempty,oneof=pending upcoming"`
	Source         *models.ReservationSource `json:"source" validate:"omitempty,oneof=airbnb direct other"`
	NumberOfGuests *int                      `json:"numberOfGuests" validate:"omitempty,min=1"`
	Notes          *string                   `json:"notes"`
	TotalAmount    *float64                  `json:"totalAmount" validate:"omitempty,gte=0"`
	IsPaid         *bool                     `json:"isPaid"`
}

// Create validates in, checks the dates against every occupied interval and
// stores the stay. The check and the insert share one write transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Reservation, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	rng, err := parseRange(in.CheckInDate, in.CheckOutDate)
	if err != nil {
		return nil, err
	}

	res := &models.Reservation{
		GuestRef:        strings.TrimSpace(in.GuestRef),
		GuestName:       in.GuestName,
		GuestPhone:      in.GuestPhone,
		CheckInDate:     rng.Start,
		CheckOutDate:    rng.End,
		CheckInTime:     in.CheckInTime,
		CheckOutTime:    in.CheckOutTime,
		Status:          initialStatus(rng, in.Status, s.clock.Now(), s.loc),
		Source:          in.Source,
		NumberOfGuests:  1,
		Notes:           in.Notes,
		TotalAmount:     in.TotalAmount,
		IsPaid:          in.IsPaid,
		ReservationCode: in.ReservationCode,
		CreatedBy:       in.CreatedBy,
	}
	if in.NumberOfGuests != nil {
		res.NumberOfGuests = *in.NumberOfGuests
	}
	if res.Source == "" {
		res.Source = models.SourceDirect
	}
	if res.ReservationCode == "" {
		res.ReservationCode = newReservationCode()
	}
	if err := s.applyDefaultTimes(ctx, res); err != nil {
		return nil, err
	}

	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := s.ensureFree(ctx, tx, rng, ""); err != nil {
			return err
		}
		return s.reservations.Create(ctx, tx, res)
	})
	if storage.IsUniqueViolation(err) {
		return nil, invalid("reservationCode", "reservation code %s is already in use", res.ReservationCode)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created",
		"reservation_id", res.ID,
		"code", res.ReservationCode,
		"check_in", res.CheckInDate,
		"check_out", res.CheckOutDate,
		"status", res.Status,
	)
	s.notify(ctx, "created", res)
	return res, nil
}

// Update applies a partial edit. Date changes on a non-cancelled stay are
// checked for conflicts, excluding the stay itself.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.Reservation, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	var (
		res      *models.Reservation
		previous models.ReservationStatus
	)
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := s.reservations.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return &NotFoundError{ID: id}
		}
		previous = current.Status

		datesChanged, err := s.applyPatch(current, in)
		if err != nil {
			return err
		}

		if datesChanged && current.Status != models.StatusCancelled {
			if err := s.ensureFree(ctx, tx, current.Range(), current.ID); err != nil {
				return err
			}
		}
		if (datesChanged || in.Status != nil) && !current.Status.Terminal() {
			current.Status = initialStatus(current.Range(), current.Status, s.clock.Now(), s.loc)
		}

		res = current
		return s.reservations.Update(ctx, tx, current)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation updated", "reservation_id", res.ID, "status", res.Status)
	s.notify(ctx, "updated", res)
	if res.Status != previous && s.notifier != nil {
		s.notifier.ReservationStatusChanged(ctx, res, previous)
	}
	return res, nil
}

// applyPatch copies the set fields of in onto res and reports whether the
// stay's dates moved.
func (s *Service) applyPatch(res *models.Reservation, in UpdateInput) (bool, error) {
	if in.Status != nil {
		if res.Status.Terminal() {
			return false, invalid("status", "a %s reservation cannot change status", res.Status)
		}
		res.Status = *in.Status
	}

	rng := res.Range()
	if in.CheckInDate != nil {
		d, err := models.ParseDate(*in.CheckInDate)
		if err != nil {
			return false, invalid("checkInDate", "%s", err)
		}
		rng.Start = d
	}
	if in.CheckOutDate != nil {
		d, err := models.ParseDate(*in.CheckOutDate)
		if err != nil {
			return false, invalid("checkOutDate", "%s", err)
		}
		rng.End = d
	}
	if !rng.End.After(rng.Start) {
		return false, invalid("checkOutDate", "check-out %s must be after check-in %s", rng.End, rng.Start)
	}
	datesChanged := !rng.Start.Equal(res.CheckInDate) || !rng.End.Equal(res.CheckOutDate)
	res.CheckInDate, res.CheckOutDate = rng.Start, rng.End

	if in.GuestRef != nil {
		res.GuestRef = strings.TrimSpace(*in.GuestRef)
	}
	if in.GuestName != nil {
		res.GuestName = *in.GuestName
	}
	if in.GuestPhone != nil {
		res.GuestPhone = *in.GuestPhone
	}
	if in.CheckInTime != nil {
		res.CheckInTime = *in.CheckInTime
	}
	if in.CheckOutTime != nil {
		res.CheckOutTime = *in.CheckOutTime
	}
	if in.Source != nil {
		res.Source = *in.Source
	}
	if in.NumberOfGuests != nil {
		res.NumberOfGuests = *in.NumberOfGuests
	}
	if in.Notes != nil {
		res.Notes = *in.Notes
	}
	if in.TotalAmount != nil {
		res.TotalAmount = *in.TotalAmount
	}
	if in.IsPaid != nil {
		res.IsPaid = *in.IsPaid
	}
	return datesChanged, nil
}

// Cancel marks a stay cancelled. Cancelling twice is a no-op; completed
// stays cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Reservation, error) {
	var (
		res     *models.Reservation
		changed bool
	)
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := s.reservations.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return &NotFoundError{ID: id}
		}
		res = current

		switch current.Status {
		case models.StatusCancelled:
			return nil
		case models.StatusCompleted:
			return invalid("status", "a completed reservation cannot be cancelled")
		}

		current.Status = models.StatusCancelled
		changed = true
		return s.reservations.Update(ctx, tx, current)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("reservation cancelled", "reservation_id", res.ID, "code", res.ReservationCode)
		s.notify(ctx, "cancelled", res)
	}
	return res, nil
}

// Delete removes a stay permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	existed, err := s.reservations.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return &NotFoundError{ID: id}
	}

	s.logger.Info("reservation deleted", "reservation_id", id)
	if s.notifier != nil {
		s.notifier.ReservationDeleted(ctx, id)
	}
	return nil
}

// Get returns a stay after bringing its status up to date.
func (s *Service) Get(ctx context.Context, id string) (*models.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &NotFoundError{ID: id}
	}

	if _, err := s.advance(ctx, res); err != nil {
		if !errors.Is(err, ErrImpossibleRange) {
			return nil, err
		}
		s.logger.Warn("reservation has impossible range", "reservation_id", res.ID, "error", err)
	}
	return res, nil
}

// List sweeps statuses and then returns the stays matching filter.
func (s *Service) List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", filter.Status)
	}
	if !filter.Period.Valid() {
		return nil, invalid("period", "unknown period %q", filter.Period)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}

	if _, err := s.Sweep(ctx); err != nil {
		return nil, err
	}

	list, err := s.reservations.List(ctx, filter, s.Today())
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Reservation{}
	}
	return list, nil
}

// Sweep advances every upcoming and current stay whose dates demand it.
// Stays with impossible ranges are skipped and reported as anomalies.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	active, err := s.reservations.ListByStatus(ctx, models.StatusUpcoming, models.StatusCurrent)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{
		Checked:   len(active),
		Changed:   []StatusChange{},
		Anomalies: []Anomaly{},
		RanAt:     s.clock.Now(),
	}
	for i := range active {
		res := &active[i]
		change, err := s.advance(ctx, res)
		if errors.Is(err, ErrImpossibleRange) {
			s.logger.Warn("skipping reservation with impossible range",
				"reservation_id", res.ID,
				"check_in", res.CheckInDate,
				"check_out", res.CheckOutDate,
			)
			result.Anomalies = append(result.Anomalies, Anomaly{ID: res.ID, Reason: err.Error()})
			continue
		}
		if err != nil {
			return nil, err
		}
		if change != nil {
			result.Changed = append(result.Changed, *change)
		}
	}

	if len(result.Changed) > 0 || len(result.Anomalies) > 0 {
		s.logger.Info("status sweep finished",
			"checked", result.Checked,
			"changed", len(result.Changed),
			"anomalies", len(result.Anomalies),
		)
	}
	return result, nil
}

// advance applies the transition due for res, if any, with a compare-and-set
// write. Losing the race to a concurrent writer reloads res.
func (s *Service) advance(ctx context.Context, res *models.Reservation) (*StatusChange, error) {
	next, err := Transition(res, s.clock.Now(), s.loc)
	if err != nil {
		return nil, err
	}
	if next == res.Status {
		return nil, nil
	}

	ok, err := s.reservations.CompareAndSetStatus(ctx, res, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		fresh, err := s.reservations.GetByID(ctx, nil, res.ID)
		if err != nil {
			return nil, err
		}
		if fresh != nil {
			*res = *fresh
		}
		return nil, nil
	}

	change := &StatusChange{ID: res.ID, ReservationCode: res.ReservationCode, From: res.Status, To: next}
	res.Status = next
	s.logger.Info("reservation status changed",
		"reservation_id", res.ID,
		"from", change.From,
		"to", change.To,
	)
	if s.notifier != nil {
		s.notifier.ReservationStatusChanged(ctx, res, change.From)
	}
	return change, nil
}

// Now returns the current instant from the service clock.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Today returns the current date at the property.
func (s *Service) Today() models.Date {
	return models.DateOf(s.clock.Now(), s.loc)
}

// Exportable returns the stays to publish to the channel feed: everything
// not cancelled, not imported from the channel itself and not yet over.
func (s *Service) Exportable(ctx context.Context) ([]models.Reservation, error) {
	return s.reservations.ListExportable(ctx, models.SourceAirbnb, s.Today())
}

// ensureFree fails with a ConflictError when rng intersects any non-cancelled
// stay other than excludeID or any feed event.
func (s *Service) ensureFree(ctx context.Context, tx *sql.Tx, rng models.DateRange, excludeID string) error {
	stays, err := s.reservations.ListOverlapping(ctx, tx, rng)
	if err != nil {
		return err
	}
	events, err := s.events.ListOverlapping(ctx, tx, rng)
	if err != nil {
		return err
	}

	candidates := append(models.ReservationBlockers(stays), models.EventBlockers(events)...)
	if conflicts := Detect(rng, candidates, excludeID); len(conflicts) > 0 {
		return &ConflictError{Proposed: rng, Conflicts: conflicts}
	}
	return nil
}

func (s *Service) applyDefaultTimes(ctx context.Context, res *models.Reservation) error {
	if res.CheckInTime == "" {
		v, err := s.settings.Get(ctx, storage.SettingCheckinTime, "15:00")
		if err != nil {
			return err
		}
		res.CheckInTime = v
	}
	if res.CheckOutTime == "" {
		v, err := s.settings.Get(ctx, storage.SettingCheckoutTime, "11:00")
		if err != nil {
			return err
		}
		res.CheckOutTime = v
	}
	return nil
}

func (s *Service) notify(ctx context.Context, event string, res *models.Reservation) {
	if s.notifier != nil {
		s.notifier.ReservationEvent(ctx, event, res)
	}
}

// check runs struct validation and converts the first failure into a
// ValidationError named after the JSON field.
func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fe.Field(), "%s", describe(fe))
	}
	return errors.Wrap(err, "validating input")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a time of day in HH:MM format"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func parseRange(checkIn, checkOut string) (models.DateRange, error) {
	start, err := models.ParseDate(checkIn)
	if err != nil {
		return models.DateRange{}, invalid("checkInDate", "%s", err)
	}
	end, err := models.ParseDate(checkOut)
	if err != nil {
		return models.DateRange{}, invalid("checkOutDate", "%s", err)
	}
	if !end.After(start) {
		return models.DateRange{}, invalid("checkOutDate", "check-out %s must be after check-in %s", end, start)
	}
	return models.DateRange{Start: start, End: end}, nil
}

func newReservationCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "RSV-" + strings.ToUpper(id[:8])
}
