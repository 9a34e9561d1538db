package clock

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Clock abstracts time for the pipeline. Production code uses the wall
// clock; test replays use an offset clock derived from the sync file the
// trickle driver writes. All expiration decisions go through a Clock.
type Clock interface {
	Now() time.Time
	SleepUntil(ctx context.Context, t time.Time) error
}

// Wall is the production clock.
type Wall struct{}

func (Wall) Now() time.Time {
	return time.Now().UTC()
}

func (Wall) SleepUntil(ctx context.Context, t time.Time) error {
	return sleepUntil(ctx, t, time.Now().UTC())
}

// Offset is a clock shifted from the wall clock by a fixed delta. A
// negative delta replays the past.
type Offset struct {
	Delta time.Duration
}

func (o Offset) Now() time.Time {
	return time.Now().UTC().Add(o.Delta)
}

func (o Offset) SleepUntil(ctx context.Context, t time.Time) error {
	return sleepUntil(ctx, t, o.Now())
}

func sleepUntil(ctx context.Context, t, now time.Time) error {
	d := t.Sub(now)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Manual is a hand-advanced clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// SleepUntil on a Manual clock jumps straight to t.
func (m *Manual) SleepUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.now) {
		m.now = t.UTC()
	}
	return nil
}

// WriteSyncFile records the signed offset (virtual = wall + offset) as a
// single line of fractional seconds. The file is written to a temp name
// and renamed so a concurrent waiter never sees it half-written.
func WriteSyncFile(path string, offset time.Duration) error {
	line := strconv.FormatFloat(offset.Seconds(), 'f', -1, 64) + "\n"
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(line), 0o644); err != nil {
		return fmt.Errorf("failed to write sync file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish sync file: %w", err)
	}
	return nil
}

// ReadSyncFile reads the offset written by WriteSyncFile.
func ReadSyncFile(path string) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read sync file: %w", err)
	}
	return parseSyncOffset(data)
}

func parseSyncOffset(data []byte) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("bad sync file contents: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// WaitForSyncFile polls until the sync file appears, then returns the
// offset it holds. Test runs start before trickle has produced the
// file, and a writer without the rename step may create it before the
// offset lands, so an absent or still-empty file keeps the poll going.
func WaitForSyncFile(ctx context.Context, path string, poll time.Duration) (time.Duration, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		data, err := os.ReadFile(path)
		switch {
		case err == nil && len(strings.TrimSpace(string(data))) > 0:
			return parseSyncOffset(data)
		case err != nil && !os.IsNotExist(err):
			return 0, fmt.Errorf("failed to read sync file: %w", err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RemoveSyncFile deletes the sync file if present.
func RemoveSyncFile(path string) {
	_ = os.Remove(path)
}
