package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// DateLayout is the wire and storage format for civil dates.
const DateLayout = "2006-01-02"

// Date is a zone-naive calendar date. Internally it is midnight UTC of that
// day so arithmetic never crosses a DST transition.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its parts. Out-of-range parts are normalised the
// same way time.Date normalises them.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, errors.Newf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals known to be valid.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return NewDate(y, m, d)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// DaysUntil returns the number of days from d to o.
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

// Midnight returns the instant the day starts in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, day := d.t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "date must be a string")
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	case time.Time:
		*d = DateOf(v, time.UTC)
		return nil
	default:
		return errors.Newf("cannot scan %T into Date", src)
	}
}

func (d *Date) scanString(s string) error {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// DateRange is the half-open interval [Start, End).
type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Valid reports whether the range covers at least one day.
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && r.End.After(r.Start)
}

// Overlaps reports whether r and o share at least one day. Touching ranges
// do not overlap.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start.Before(o.End) && r.End.After(o.Start)
}

// Intersect returns the common part of r and o.
func (r DateRange) Intersect(o DateRange) (DateRange, bool) {
	if !r.Overlaps(o) {
		return DateRange{}, false
	}
	out := r
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if o.End.Before(out.End) {
		out.End = o.End
	}
	return out, true
}

// Contains reports whether day falls in [Start, End).
func (r DateRange) Contains(day Date) bool {
	return !day.Before(r.Start) && day.Before(r.End)
}

// Nights returns the number of days covered.
func (r DateRange) Nights() int {
	if !r.Valid() {
		return 0
	}
	return r.Start.DaysUntil(r.End)
}

// Days lists every day in [Start, End).
func (r DateRange) Days() []Date {
	n := r.Nights()
	days := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, r.Start.AddDays(i))
	}
	return days
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End)
}

// BlockKind tags where a blocking interval came from.
type BlockKind string

const (
	BlockReservation BlockKind = "reservation"
	BlockExternal    BlockKind = "external"
)

// Block is a tagged occupied interval, either a local stay or a feed event.
type Block struct {
	Kind  BlockKind `json:"kind"`
	Ref   string    `json:"ref"`
	Label string    `json:"label,omitempty"`
	Range DateRange `json:"range"`
}

// Blocker is implemented by every record that can occupy the property.
type Blocker interface {
	Block() Block
	// Blocks reports whether the record currently occupies its interval.
	Blocks() bool
}
