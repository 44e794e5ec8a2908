// Package calendar imports blocked dates from external iCal feeds and exports
// local stays in the same format.
package calendar

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/storage/models"
)

var (
	// ErrNotCalendar is returned for payloads without a VCALENDAR.
	ErrNotCalendar = errors.New("payload is not an iCalendar document")
	// ErrNoValidEvents is returned when the feed has events but none parse.
	ErrNoValidEvents = errors.New("no event in the feed could be parsed")
)

// ParseError describes one VEVENT that was skipped.
type ParseError struct {
	Index  int    `json:"index"`
	UID    string `json:"uid,omitempty"`
	Reason string `json:"reason"`
}

func (e ParseError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("event %d (%s): %s", e.Index, e.UID, e.Reason)
	}
	return fmt.Sprintf("event %d: %s", e.Index, e.Reason)
}

// ParseResult holds the events that parsed and the ones that did not.
type ParseResult struct {
	Events []models.ExternalEvent
	Errors []ParseError
}

// Parser parses iCal/ICS calendar feeds into date-granular events.
type Parser struct {
	loc *time.Location
}

// NewParser creates a parser that interprets floating times, and converts
// UTC times, in loc.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

type property struct {
	params map[string]string
	value  string
}

type rawEvent struct {
	index int
	props map[string]property
}

// Parse reads iCal data. Malformed events are skipped and reported in
// ParseResult.Errors; the call fails only when the payload is not a calendar
// or when it holds events and every one of them is malformed.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	lines, err := unfold(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading calendar")
	}

	var (
		result     = &ParseResult{}
		seenCal    bool
		current    *rawEvent
		nested     int
		eventIndex int
		byUID      = map[string]int{}
	)

	finish := func(raw *rawEvent) {
		ev, err := p.toEvent(raw)
		if err != nil {
			result.Errors = append(result.Errors, ParseError{
				Index:  raw.index,
				UID:    raw.props["UID"].value,
				Reason: err.Error(),
			})
			return
		}
		// Later occurrences of a UID replace earlier ones.
		if i, ok := byUID[ev.UID]; ok {
			result.Events[i] = ev
			return
		}
		byUID[ev.UID] = len(result.Events)
		result.Events = append(result.Events, ev)
	}

	for _, line := range lines {
		name, params, value, ok := splitProperty(line)
		if !ok {
			continue
		}

		switch {
		case name == "BEGIN" && strings.EqualFold(value, "VCALENDAR"):
			seenCal = true

		case name == "BEGIN" && strings.EqualFold(value, "VEVENT"):
			if current != nil {
				result.Errors = append(result.Errors, ParseError{
					Index:  current.index,
					UID:    current.props["UID"].value,
					Reason: "VEVENT not terminated before the next one began",
				})
			}
			current = &rawEvent{index: eventIndex, props: map[string]property{}}
			nested = 0
			eventIndex++

		case name == "END" && strings.EqualFold(value, "VEVENT"):
			if current != nil && nested == 0 {
				finish(current)
				current = nil
			}

		case current == nil:
			// Outside an event: VTIMEZONE, calendar properties and the like.

		case name == "BEGIN":
			nested++

		case name == "END":
			if nested > 0 {
				nested--
			}

		case nested == 0:
			current.props[name] = property{params: params, value: value}
		}
	}

	if current != nil {
		result.Errors = append(result.Errors, ParseError{
			Index:  current.index,
			UID:    current.props["UID"].value,
			Reason: "VEVENT not terminated",
		})
	}

	if !seenCal {
		return nil, ErrNotCalendar
	}
	if len(result.Events) == 0 && len(result.Errors) > 0 {
		return result, errors.Wrapf(ErrNoValidEvents, "%d malformed event(s), first: %s", len(result.Errors), result.Errors[0])
	}

	sort.SliceStable(result.Events, func(i, j int) bool {
		a, b := result.Events[i], result.Events[j]
		if c := a.Start.Compare(b.Start); c != 0 {
			return c < 0
		}
		return a.UID < b.UID
	})
	return result, nil
}

// toEvent turns the collected properties of one VEVENT into a date range.
// End dates that do not fall after the start become start plus one day.
func (p *Parser) toEvent(raw *rawEvent) (models.ExternalEvent, error) {
	uid := strings.TrimSpace(raw.props["UID"].value)
	if uid == "" {
		return models.ExternalEvent{}, errors.New("missing UID")
	}

	startProp, ok := raw.props["DTSTART"]
	if !ok {
		return models.ExternalEvent{}, errors.New("missing DTSTART")
	}
	startAt, allDay, err := p.parseDateTime(startProp)
	if err != nil {
		return models.ExternalEvent{}, errors.Wrap(err, "DTSTART")
	}
	start := models.DateOf(startAt, p.loc)

	var end models.Date
	switch {
	case raw.props["DTEND"].value != "":
		endAt, _, err := p.parseDateTime(raw.props["DTEND"])
		if err != nil {
			return models.ExternalEvent{}, errors.Wrap(err, "DTEND")
		}
		end = models.DateOf(endAt, p.loc)
	case raw.props["DURATION"].value != "":
		d, err := parseDuration(raw.props["DURATION"].value)
		if err != nil {
			return models.ExternalEvent{}, errors.Wrap(err, "DURATION")
		}
		if allDay {
			end = start.AddDays(int(d.Hours() / 24))
		} else {
			end = models.DateOf(startAt.Add(d), p.loc)
		}
	default:
		end = start.AddDays(1)
	}
	if !end.After(start) {
		end = start.AddDays(1)
	}

	return models.ExternalEvent{
		UID:     uid,
		Start:   start,
		End:     end,
		Summary: unescape(raw.props["SUMMARY"].value),
		Status:  models.ExternalEventStatus,
	}, nil
}

// parseDateTime parses an iCal DATE or DATE-TIME value. It reports whether
// the value was a bare date.
func (p *Parser) parseDateTime(prop property) (time.Time, bool, error) {
	value := strings.TrimSpace(prop.value)
	if value == "" {
		return time.Time{}, false, errors.New("empty value")
	}

	if strings.EqualFold(prop.params["VALUE"], "DATE") || len(value) == 8 {
		t, err := time.ParseInLocation("20060102", value, p.loc)
		if err != nil {
			return time.Time{}, false, errors.Newf("invalid date %q", value)
		}
		return t, true, nil
	}

	if strings.HasSuffix(value, "Z") {
		for _, layout := range []string{"20060102T150405Z", "2006-01-02T15:04:05Z"} {
			if t, err := time.Parse(layout, value); err == nil {
				return t.In(p.loc), false, nil
			}
		}
		return time.Time{}, false, errors.Newf("invalid UTC date-time %q", value)
	}

	loc := p.loc
	if tzid := strings.Trim(prop.params["TZID"], `"`); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	for _, layout := range []string{"20060102T150405", "20060102T1504", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, layout == "2006-01-02", nil
		}
	}
	return time.Time{}, false, errors.Newf("invalid date-time %q", value)
}

var durationRE = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration handles the RFC 5545 dur-value forms. Negative durations are
// rejected.
func parseDuration(value string) (time.Duration, error) {
	m := durationRE.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil || value == "P" || strings.HasSuffix(value, "T") {
		return 0, errors.Newf("invalid duration %q", value)
	}
	if m[1] == "-" {
		return 0, errors.Newf("negative duration %q", value)
	}

	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, errors.Newf("invalid duration %q", value)
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}

// unfold joins RFC 5545 continuation lines into logical lines.
func unfold(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// splitProperty splits "NAME;P1=a;P2=b:value". Colons inside quoted
// parameter values do not end the name part.
func splitProperty(line string) (name string, params map[string]string, value string, ok bool) {
	inQuotes := false
	colon := -1
	for i, c := range line {
		switch c {
		case '"':
			inQuotes = !inQuotes
		case ':':
			if !inQuotes {
				colon = i
			}
		}
		if colon >= 0 {
			break
		}
	}
	if colon <= 0 {
		return "", nil, "", false
	}

	head := line[:colon]
	value = line[colon+1:]

	parts := strings.Split(head, ";")
	name = strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		params = make(map[string]string, len(parts)-1)
		for _, part := range parts[1:] {
			k, v, found := strings.Cut(part, "=")
			if found {
				params[strings.ToUpper(k)] = v
			}
		}
	}
	return name, params, value, true
}

// unescape reverses iCal text escaping.
func unescape(value string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(value)
}
