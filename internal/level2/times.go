package level2

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// cleanFAAText strips the trailing whitespace FAA text blocks pad
// their lines with, and any trailing blank lines.
func cleanFAAText(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	return strings.TrimRightFunc(strings.Join(lines, "\n"), unicode.IsSpace)
}

// num converts a digits-only field captured by one of the product
// regexps. Callers guarantee the match, so a failed parse is zero.
func num(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// dayHourMin lifts an FAA day-hour-minute field ("ddhhmm", or "ddhh"
// with the minute omitted) onto a full date. The day of month alone
// does not pin down a date near a month boundary, so candidate dates
// are probed alternately forward and backward from the receive date.
func dayHourMin(rcvd time.Time, faa string) (time.Time, error) {
	if len(faa) != 4 && len(faa) != 6 {
		return time.Time{}, fmt.Errorf("day-hour field %q: %w", faa, ErrDateRange)
	}
	day := num(faa[0:2])
	hour := num(faa[2:4])
	minute := 0
	if len(faa) == 6 {
		minute = num(faa[4:6])
	}

	date := time.Date(rcvd.Year(), rcvd.Month(), rcvd.Day(), 0, 0, 0, 0, time.UTC)
	if day == date.Day() {
		return withHour(date, hour, minute), nil
	}
	fwd, back := date, date
	for i := 0; i < 10; i++ {
		fwd = fwd.AddDate(0, 0, 1)
		if fwd.Day() == day {
			return withHour(fwd, hour, minute), nil
		}
		back = back.AddDate(0, 0, -1)
		if back.Day() == day {
			return withHour(back, hour, minute), nil
		}
	}
	return time.Time{}, fmt.Errorf("day %02d not within 10 days of %s: %w",
		day, date.Format("2006-01-02"), ErrDateRange)
}

// withHour puts an hour and minute on a date, honoring the FAA
// convention that hour 24 is midnight at the end of the day.
func withHour(d time.Time, hour, minute int) time.Time {
	if hour == 24 {
		d = d.AddDate(0, 0, 1)
		hour = 0
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.UTC)
}

// calendarDate builds a UTC time, rejecting field combinations that do
// not name a real calendar date instead of silently normalizing them.
func calendarDate(year, month, day, hour, minute int) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("month %d day %d: %w", month, day, ErrDateRange)
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("no %04d-%02d-%02d %02d:%02d on the calendar: %w",
			year, month, day, hour, minute, ErrDateRange)
	}
	return t, nil
}

// referencedTime completes a transmitted month/day/hour/minute with a
// year, picking whichever of the reference's year and its neighbors
// lands closest to the reference. Candidates are checked this year
// first so a tie stays in the reference's own year.
func referencedTime(ref time.Time, month, day, hour, minute int) (time.Time, error) {
	var best time.Time
	bestDiff := time.Duration(-1)
	for _, y := range []int{ref.Year(), ref.Year() + 1, ref.Year() - 1} {
		c, err := calendarDate(y, month, day, hour, minute)
		if err != nil {
			continue
		}
		if d := absDuration(ref.Sub(c)); bestDiff < 0 || d < bestDiff {
			best, bestDiff = c, d
		}
	}
	if bestDiff < 0 {
		return time.Time{}, fmt.Errorf("month %d day %d in no year near %d: %w",
			month, day, ref.Year(), ErrDateRange)
	}
	return best, nil
}

// apduTime lifts the hour and minute from an APDU header onto the
// date nearest the receive time, trying the receive date and the days
// either side. When yesterday and tomorrow tie, favorPast picks
// yesterday; forecast event times always favor the past.
func apduTime(rcvd time.Time, hour, minute int, favorPast bool) time.Time {
	now := time.Date(rcvd.Year(), rcvd.Month(), rcvd.Day(), rcvd.Hour(), rcvd.Minute(), 0, 0, time.UTC)
	today := time.Date(rcvd.Year(), rcvd.Month(), rcvd.Day(), hour, minute, 0, 0, time.UTC)
	plus := today.AddDate(0, 0, 1)
	minus := today.AddDate(0, 0, -1)

	dToday := absDuration(now.Sub(today))
	dPlus := absDuration(now.Sub(plus))
	dMinus := absDuration(now.Sub(minus))

	winner := today
	switch min(dToday, dPlus, dMinus) {
	case dPlus:
		winner = plus
	case dMinus:
		winner = minus
	}
	if !winner.Equal(today) && dPlus == dMinus {
		if favorPast {
			winner = minus
		} else {
			winner = plus
		}
	}
	return winner
}

// notamTime parses the yymmddhhmm timestamps NOTAM and SUA texts
// carry, completing the two digit year against the receive year.
func notamTime(currentYear int, faa string) (time.Time, error) {
	if len(faa) != 10 {
		return time.Time{}, fmt.Errorf("notam time %q: %w", faa, ErrDateRange)
	}
	year := doubleDigitYear(currentYear, num(faa[0:2]))
	return calendarDate(year, num(faa[2:4]), num(faa[4:6]), num(faa[6:8]), num(faa[8:10]))
}

// singleDigitYear completes a single year digit with the decade that
// puts it nearest the current year. Ties round down.
func singleDigitYear(currentYear, digit int) int {
	diff := digit - currentYear%10
	switch {
	case diff >= 5:
		return currentYear + diff - 10
	case diff <= -6:
		return currentYear + diff + 10
	default:
		return currentYear + diff
	}
}

// doubleDigitYear completes a two digit year with the century that
// puts it nearest the current year. Ties round down.
func doubleDigitYear(currentYear, year int) int {
	diff := year - currentYear%100
	switch {
	case diff >= 50:
		return currentYear + diff - 100
	case diff <= -60:
		return currentYear + diff + 100
	default:
		return currentYear + diff
	}
}

// inWindow reports whether t falls inside [anchor-past, anchor+future].
// Reconstructed times outside their product's window mean the lift
// picked the wrong date and the report cannot be trusted.
func inWindow(t, anchor time.Time, past, future time.Duration) bool {
	return !t.Before(anchor.Add(-past)) && !t.After(anchor.Add(future))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
