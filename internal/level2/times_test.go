package level2

import (
	"errors"
	"testing"
	"time"
)

func ts(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestCleanFAAText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"METAR KCMH 230851Z", "METAR KCMH 230851Z"},
		{"LINE ONE   \nLINE TWO\t\n", "LINE ONE\nLINE TWO"},
		{"A \n \nB  \n\n \n", "A\n\nB"},
		{"   \n\n", ""},
	}
	for _, tt := range tests {
		if got := cleanFAAText(tt.in); got != tt.want {
			t.Errorf("cleanFAAText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDayHourMin(t *testing.T) {
	tests := []struct {
		name string
		rcvd time.Time
		faa  string
		want time.Time
	}{
		{"same day", ts(2020, 8, 23, 9, 0), "231652", ts(2020, 8, 23, 16, 52)},
		{"no minute", ts(2020, 8, 23, 9, 0), "2316", ts(2020, 8, 23, 16, 0)},
		{"prior month", ts(2020, 9, 1, 0, 30), "311945", ts(2020, 8, 31, 19, 45)},
		{"next month", ts(2020, 8, 31, 23, 50), "010030", ts(2020, 9, 1, 0, 30)},
		{"hour 24 rolls over", ts(2020, 8, 23, 9, 0), "2424", ts(2020, 8, 25, 0, 0)},
		{"previous day", ts(2020, 8, 23, 9, 0), "220000", ts(2020, 8, 22, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dayHourMin(tt.rcvd, tt.faa)
			if err != nil {
				t.Fatalf("dayHourMin(%q): %v", tt.faa, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("dayHourMin(%q) = %s, want %s", tt.faa, got, tt.want)
			}
		})
	}
}

func TestDayHourMinRejects(t *testing.T) {
	tests := []struct {
		name string
		faa  string
	}{
		{"day too far", "051234"},
		{"five digits", "12345"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dayHourMin(ts(2020, 8, 23, 9, 0), tt.faa); !errors.Is(err, ErrDateRange) {
				t.Errorf("dayHourMin(%q) err = %v, want ErrDateRange", tt.faa, err)
			}
		})
	}
}

func TestApduTime(t *testing.T) {
	tests := []struct {
		name         string
		rcvd         time.Time
		hour, minute int
		want         time.Time
	}{
		{"exact", ts(2020, 8, 23, 9, 0), 9, 0, ts(2020, 8, 23, 9, 0)},
		{"late yesterday", ts(2020, 8, 23, 0, 10), 23, 50, ts(2020, 8, 22, 23, 50)},
		{"early tomorrow", ts(2020, 8, 23, 23, 55), 0, 5, ts(2020, 8, 24, 0, 5)},
		{"half day ahead picks tomorrow", ts(2020, 8, 23, 21, 0), 9, 0, ts(2020, 8, 24, 9, 0)},
		{"half day behind picks yesterday", ts(2020, 8, 23, 9, 0), 21, 0, ts(2020, 8, 22, 21, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := apduTime(tt.rcvd, tt.hour, tt.minute, true)
			if !got.Equal(tt.want) {
				t.Errorf("apduTime(%s, %02d:%02d) = %s, want %s",
					tt.rcvd, tt.hour, tt.minute, got, tt.want)
			}
		})
	}
}

func TestApduTimeTruncatesSeconds(t *testing.T) {
	rcvd := time.Date(2020, 8, 23, 9, 0, 42, 500, time.UTC)
	got := apduTime(rcvd, 9, 0, true)
	if !got.Equal(ts(2020, 8, 23, 9, 0)) {
		t.Errorf("apduTime = %s, want second and nanosecond dropped", got)
	}
}

func TestCalendarDate(t *testing.T) {
	got, err := calendarDate(2020, 2, 29, 12, 30)
	if err != nil {
		t.Fatalf("leap day: %v", err)
	}
	if !got.Equal(ts(2020, 2, 29, 12, 30)) {
		t.Errorf("calendarDate = %s", got)
	}

	bad := []struct {
		name                    string
		year, month, day, h, mn int
	}{
		{"month 13", 2020, 13, 1, 0, 0},
		{"month 0", 2020, 0, 1, 0, 0},
		{"june 31", 2020, 6, 31, 0, 0},
		{"feb 29 off leap", 2019, 2, 29, 0, 0},
		{"day 0", 2020, 6, 0, 0, 0},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := calendarDate(tt.year, tt.month, tt.day, tt.h, tt.mn); !errors.Is(err, ErrDateRange) {
				t.Errorf("err = %v, want ErrDateRange", err)
			}
		})
	}
}

func TestReferencedTime(t *testing.T) {
	tests := []struct {
		name       string
		ref        time.Time
		month, day int
		want       time.Time
	}{
		{"same year", ts(2020, 6, 15, 0, 0), 6, 15, ts(2020, 6, 15, 12, 0)},
		{"january after december", ts(2020, 12, 30, 0, 0), 1, 2, ts(2021, 1, 2, 12, 0)},
		{"december before january", ts(2020, 1, 2, 0, 0), 12, 30, ts(2019, 12, 30, 12, 0)},
		{"leap day from off year", ts(2021, 1, 15, 0, 0), 2, 29, ts(2020, 2, 29, 12, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := referencedTime(tt.ref, tt.month, tt.day, 12, 0)
			if err != nil {
				t.Fatalf("referencedTime: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("referencedTime = %s, want %s", got, tt.want)
			}
		})
	}

	t.Run("tie stays in reference year", func(t *testing.T) {
		// 2020-01-01 and 2021-01-01 are both 183 days from this ref.
		got, err := referencedTime(ts(2020, 7, 2, 0, 0), 1, 1, 0, 0)
		if err != nil {
			t.Fatalf("referencedTime: %v", err)
		}
		if !got.Equal(ts(2020, 1, 1, 0, 0)) {
			t.Errorf("referencedTime = %s, want 2020-01-01", got)
		}
	})

	t.Run("no year fits", func(t *testing.T) {
		if _, err := referencedTime(ts(2020, 6, 15, 0, 0), 2, 30, 0, 0); !errors.Is(err, ErrDateRange) {
			t.Errorf("err = %v, want ErrDateRange", err)
		}
	})
}

func TestNotamTime(t *testing.T) {
	got, err := notamTime(2020, "2008231652")
	if err != nil {
		t.Fatalf("notamTime: %v", err)
	}
	if !got.Equal(ts(2020, 8, 23, 16, 52)) {
		t.Errorf("notamTime = %s", got)
	}

	// The two digit year completes against the receive year.
	got, err = notamTime(2020, "1912310000")
	if err != nil {
		t.Fatalf("notamTime: %v", err)
	}
	if got.Year() != 2019 {
		t.Errorf("year = %d, want 2019", got.Year())
	}

	if _, err := notamTime(2020, "20082316"); !errors.Is(err, ErrDateRange) {
		t.Errorf("short field err = %v, want ErrDateRange", err)
	}
	if _, err := notamTime(2020, "2002300000"); !errors.Is(err, ErrDateRange) {
		t.Errorf("feb 30 err = %v, want ErrDateRange", err)
	}
}

func TestSingleDigitYear(t *testing.T) {
	tests := []struct {
		current, digit, want int
	}{
		{2020, 0, 2020},
		{2020, 9, 2019},
		{2019, 0, 2020},
		{2024, 8, 2028},
		{2024, 9, 2019},
		{2025, 0, 2020},
	}
	for _, tt := range tests {
		if got := singleDigitYear(tt.current, tt.digit); got != tt.want {
			t.Errorf("singleDigitYear(%d, %d) = %d, want %d", tt.current, tt.digit, got, tt.want)
		}
	}
}

func TestDoubleDigitYear(t *testing.T) {
	tests := []struct {
		current, year, want int
	}{
		{2020, 20, 2020},
		{2020, 19, 2019},
		{2020, 99, 1999},
		{1999, 0, 2000},
		{2049, 99, 1999},
		{2020, 69, 2069},
	}
	for _, tt := range tests {
		if got := doubleDigitYear(tt.current, tt.year); got != tt.want {
			t.Errorf("doubleDigitYear(%d, %d) = %d, want %d", tt.current, tt.year, got, tt.want)
		}
	}
}
