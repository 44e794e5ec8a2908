package calendar

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stay-ledger/backend/internal/storage/models"
)

// ExportProductID identifies this service in exported calendars.
const ExportProductID = "-//stay-ledger//reservations//EN"

// WriteICS writes stays as all-day events so a channel can import them back
// as blocked dates. DTEND is exclusive, matching the stored ranges. Guest
// details stay out of the export.
func WriteICS(w io.Writer, propertyID string, stays []models.Reservation, stamp time.Time) error {
	bw := bufio.NewWriter(w)
	line := func(format string, args ...any) {
		fmt.Fprintf(bw, format+"\r\n", args...)
	}

	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:%s", ExportProductID)
	line("CALSCALE:GREGORIAN")
	line("METHOD:PUBLISH")
	line("X-WR-CALNAME:%s", escape(propertyID))

	dtstamp := stamp.UTC().Format("20060102T150405Z")
	for _, res := range stays {
		if !res.Blocks() {
			continue
		}
		line("BEGIN:VEVENT")
		line("UID:%s@%s", res.ID, escape(propertyID))
		line("DTSTAMP:%s", dtstamp)
		line("DTSTART;VALUE=DATE:%s", compactDate(res.CheckInDate))
		line("DTEND;VALUE=DATE:%s", compactDate(res.CheckOutDate))
		line("SUMMARY:Reserved")
		line("TRANSP:OPAQUE")
		line("END:VEVENT")
	}

	line("END:VCALENDAR")
	return bw.Flush()
}

func compactDate(d models.Date) string {
	return strings.ReplaceAll(d.String(), "-", "")
}

// escape applies iCal text escaping.
func escape(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)
	return replacer.Replace(value)
}
