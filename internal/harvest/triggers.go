package harvest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Trigger is one checkpoint of a replay test group. The curator dumps
// its state when the virtual clock passes At.
type Trigger struct {
	At     time.Time
	Number int
	Name   string
	Offset int // seconds past the group's midnight, adjustment included
	Raw    int // the documented checkpoint time
	Adjust int // slop applied to the documented time
}

// triggerRun tracks progress through a test group's triggers.
type triggerRun struct {
	triggers []Trigger
	results  string
	next     int
}

// groupName formats a test group number the way its files are named.
func groupName(group int) string {
	return fmt.Sprintf("tg%02d", group)
}

// ResultsDir returns the dump tree for a test group.
func ResultsDir(dir string, group int) string {
	return filepath.Join(dir, "results", groupName(group))
}

// LoadTriggers reads a test group's schedule. start-dates.csv gives
// the UTC start date of each group; tgNN.csv lists its triggers as
// seconds past that midnight with a per-trigger adjustment.
func LoadTriggers(dir string, group int) ([]Trigger, error) {
	start, err := groupStart(filepath.Join(dir, "triggers", "start-dates.csv"), group)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "triggers", groupName(group)+".csv")
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	triggers := make([]Trigger, 0, len(rows))
	for i, row := range rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("%s row %d: want 4 fields, got %d", path, i+1, len(row))
		}
		offset, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: time offset: %w", path, i+1, err)
		}
		adjust, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: time adjustment: %w", path, i+1, err)
		}
		number, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: trigger number: %w", path, i+1, err)
		}

		triggers = append(triggers, Trigger{
			At:     start.Add(time.Duration(offset+adjust) * time.Second),
			Number: number,
			Name:   strings.TrimSpace(row[3]),
			Offset: offset + adjust,
			Raw:    offset,
			Adjust: adjust,
		})
	}
	return triggers, nil
}

// groupStart finds the group's row in start-dates.csv and returns UTC
// midnight of its date.
func groupStart(path string, group int) (time.Time, error) {
	rows, err := readCSV(path)
	if err != nil {
		return time.Time{}, err
	}

	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil || n != group {
			continue
		}
		year, err1 := strconv.Atoi(strings.TrimSpace(row[1]))
		month, err2 := strconv.Atoi(strings.TrimSpace(row[2]))
		day, err3 := strconv.Atoi(strings.TrimSpace(row[3]))
		if err1 != nil || err2 != nil || err3 != nil {
			return time.Time{}, fmt.Errorf("%s: bad date for group %d", path, group)
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("%s: test group %d not listed", path, group)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// PrepareResults rebuilds the dump tree for a test group: the old
// results are removed and one directory per trigger is created.
func PrepareResults(dir string, group int, triggers []Trigger) (string, error) {
	root := ResultsDir(dir, group)
	if err := os.RemoveAll(root); err != nil {
		return "", fmt.Errorf("clear %s: %w", root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	for _, trig := range triggers {
		if err := os.Mkdir(filepath.Join(root, fmt.Sprintf("%02d", trig.Number)), 0o755); err != nil {
			return "", err
		}
	}
	return root, nil
}
