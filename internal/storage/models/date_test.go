package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rng(start, end string) DateRange {
	return DateRange{Start: MustParseDate(start), End: MustParseDate(end)}
}

func TestDateRangeOverlap(t *testing.T) {
	base := rng("2024-03-01", "2024-03-05")
	cases := []struct {
		name  string
		other DateRange
		want  bool
	}{
		{"touching after", rng("2024-03-05", "2024-03-08"), false},
		{"touching before", rng("2024-02-25", "2024-03-01"), false},
		{"one day overlap", rng("2024-03-04", "2024-03-06"), true},
		{"contained", rng("2024-03-02", "2024-03-03"), true},
		{"containing", rng("2024-02-01", "2024-04-01"), true},
		{"identical", base, true},
		{"disjoint", rng("2024-04-01", "2024-04-02"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, base.Overlaps(tc.other))
			assert.Equal(t, tc.want, tc.other.Overlaps(base), "overlap must be symmetric")
		})
	}
}

func TestDateRangeIntersectAndDays(t *testing.T) {
	got, ok := rng("2024-03-01", "2024-03-05").Intersect(rng("2024-03-03", "2024-03-10"))
	require.True(t, ok)
	assert.Equal(t, "[2024-03-03, 2024-03-05)", got.String())

	_, ok = rng("2024-03-01", "2024-03-05").Intersect(rng("2024-03-05", "2024-03-10"))
	assert.False(t, ok)

	r := rng("2024-02-28", "2024-03-02")
	assert.Equal(t, 3, r.Nights())
	days := r.Days()
	require.Len(t, days, 3)
	assert.Equal(t, "2024-02-29", days[1].String())
	assert.True(t, r.Contains(MustParseDate("2024-02-28")))
	assert.False(t, r.Contains(MustParseDate("2024-03-02")))

	assert.False(t, rng("2024-03-05", "2024-03-05").Valid())
	assert.Empty(t, rng("2024-03-05", "2024-03-01").Days())
}

func TestDateAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := MustParseDate("2024-03-09")
	end := MustParseDate("2024-03-12")
	assert.Equal(t, 3, start.DaysUntil(end))
	assert.Equal(t, "2024-03-10", start.AddDays(1).String())

	midnight := MustParseDate("2024-03-10").Midnight(ny)
	assert.Equal(t, time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC), midnight.UTC())

	late := time.Date(2024, 3, 10, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-09", DateOf(late, ny).String())
	assert.Equal(t, "2024-03-10", DateOf(late, nil).String())
}

func TestDateEncoding(t *testing.T) {
	var payload struct {
		Day  Date  `json:"day"`
		None Date  `json:"none"`
		Ptr  *Date `json:"ptr"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"day":"2024-06-10","none":null}`), &payload))
	assert.Equal(t, "2024-06-10", payload.Day.String())
	assert.True(t, payload.None.IsZero())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"2024-06-10","none":null,"ptr":null}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"day":"10/06/2024"}`), &payload))
	assert.Error(t, json.Unmarshal([]byte(`{"day":20240610}`), &payload))

	_, err = ParseDate("2024-02-30")
	assert.Error(t, err)
}

func TestDateScanAndValue(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2024-06-10"))
	assert.Equal(t, "2024-06-10", d.String())

	require.NoError(t, d.Scan([]byte("2024-06-11T00:00:00Z")))
	assert.Equal(t, "2024-06-11", d.String())

	require.NoError(t, d.Scan(time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-12", d.String())

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, d.Scan(42))

	v, err := MustParseDate("2024-06-10").Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-06-10", v)

	v, err = Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestBlockers(t *testing.T) {
	stays := []Reservation{
		{ID: "a", GuestName: "Ada", CheckInDate: MustParseDate("2024-06-01"), CheckOutDate: MustParseDate("2024-06-03"), Status: StatusUpcoming},
		{ID: "b", ReservationCode: "RSV-B", CheckInDate: MustParseDate("2024-06-05"), CheckOutDate: MustParseDate("2024-06-07"), Status: StatusCancelled},
		{ID: "c", CheckInDate: MustParseDate("2024-06-09"), CheckOutDate: MustParseDate("2024-06-09"), Status: StatusUpcoming},
	}
	blockers := ReservationBlockers(stays)
	require.Len(t, blockers, 3)
	assert.True(t, blockers[0].Blocks())
	assert.Equal(t, "Ada", blockers[0].Block().Label)
	assert.False(t, blockers[1].Blocks(), "cancelled")
	assert.Equal(t, "RSV-B", blockers[1].Block().Label)
	assert.False(t, blockers[2].Blocks(), "empty range")

	events := EventBlockers([]ExternalEvent{{UID: "x", Start: MustParseDate("2024-06-01"), End: MustParseDate("2024-06-02")}})
	require.Len(t, events, 1)
	assert.True(t, events[0].Blocks())
	assert.Equal(t, BlockExternal, events[0].Block().Kind)
}
