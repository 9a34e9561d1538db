package level0

import (
	"math"
	"time"

	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/types"
)

// RSRTracker measures reception quality per ground station. Every
// packet is counted against its arrival second; once enough seconds
// have accumulated, each tick folds the sliding window into a
// synthetic RSR product for the curator.
//
// Expected packet rates come either from each station's declared tier
// (high power stations transmit four packets a second, medium three,
// low two) or, when calibration is off, from the best second observed
// inside the window.
type RSRTracker struct {
	windowSecs  int
	everySecs   int
	useExpected bool
	clk         clock.Clock

	counts    map[int64]map[string]int
	tiers     map[string]int
	lastSec   int64
	totalSecs int
}

// NewRSRTracker builds a tracker from the RSR settings in cfg. Returns
// nil when RSR is disabled so callers can skip the whole concern.
func NewRSRTracker(cfg *config.Config, clk clock.Clock) *RSRTracker {
	if !cfg.RSREnabled {
		return nil
	}
	return &RSRTracker{
		windowSecs:  cfg.RSRWindowSecs,
		everySecs:   cfg.RSREverySecs,
		useExpected: cfg.RSRUseExpected,
		clk:         clk,
		counts:      make(map[int64]map[string]int),
		tiers:       make(map[string]int),
	}
}

// Observe counts one received packet. When the packet opens a new
// second and the emission cadence lines up, the previous window is
// summarized and returned as a product; otherwise the return is nil.
func (t *RSRTracker) Observe(rcvd time.Time, tier int, station string) *types.Product {
	cursec := rcvd.Unix()
	t.tiers[station] = tier

	var out *types.Product
	if cursec > t.lastSec {
		if t.totalSecs > t.windowSecs && t.totalSecs%t.everySecs == 0 {
			out = t.report(cursec)
		}
		t.lastSec = cursec

		if len(t.counts) > t.windowSecs+2 {
			cutoff := cursec - int64(t.windowSecs+2)
			for sec := range t.counts {
				if sec < cutoff {
					delete(t.counts, sec)
				}
			}
		}

		t.totalSecs++
	}

	m := t.counts[cursec]
	if m == nil {
		m = make(map[string]int)
		t.counts[cursec] = m
	}
	m[station]++

	return out
}

// report sums the window ending one second before cursec and turns it
// into an RSR product. Returns nil when the window saw no packets at
// all.
func (t *RSRTracker) report(cursec int64) *types.Product {
	received := make(map[string]int)
	best := make(map[string]int)

	for sec := cursec - 1; sec >= cursec-int64(t.windowSecs); sec-- {
		for st, n := range t.counts[sec] {
			received[st] += n
			if n > best[st] {
				best[st] = n
			}
		}
	}
	if len(received) == 0 {
		return nil
	}

	stations := make(map[string]types.RSREntry, len(received))
	for st, n := range received {
		expected := best[st]
		if t.useExpected {
			expected = tierPacketsPerSecond(t.tiers[st])
		}
		pct := int(math.Round(float64(n) / (float64(expected) * float64(t.windowSecs)) * 100))
		if pct > 100 {
			pct = 100
		}
		stations[st] = types.RSREntry{Received: n, Expected: expected, Percent: pct}
	}

	now := t.clk.Now().UTC()
	return &types.Product{
		Type:           types.RSR,
		UniqueName:     "RSR",
		RcvdTime:       now,
		ExpirationTime: now.Add(time.Duration(t.windowSecs+10) * time.Second),
		Stations:       stations,
		NoDedup:        true,
	}
}

// tierPacketsPerSecond maps a station's TIS-B tier nibble to its
// scheduled packets per second.
func tierPacketsPerSecond(tier int) int {
	switch {
	case tier >= 13:
		return 4
	case tier >= 10:
		return 3
	case tier >= 5:
		return 2
	default:
		return 1
	}
}
