package level0

import (
	"testing"
	"time"

	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/types"
)

func testTracker(useExpected bool) (*RSRTracker, *clock.Manual) {
	clk := clock.NewManual(time.Date(2020, 8, 23, 9, 0, 0, 0, time.UTC))
	cfg := &config.Config{
		RSREnabled:     true,
		RSREverySecs:   3,
		RSRWindowSecs:  3,
		RSRUseExpected: useExpected,
	}
	return NewRSRTracker(cfg, clk), clk
}

// feed delivers n packets for station during the given unix second.
func feed(tr *RSRTracker, sec int64, n, tier int, station string) *types.Product {
	var out *types.Product
	for i := 0; i < n; i++ {
		if p := tr.Observe(time.Unix(sec, 0).UTC(), tier, station); p != nil {
			out = p
		}
	}
	return out
}

func TestRSRTrackerDisabled(t *testing.T) {
	clk := clock.NewManual(time.Date(2020, 8, 23, 9, 0, 0, 0, time.UTC))
	if tr := NewRSRTracker(&config.Config{RSREnabled: false}, clk); tr != nil {
		t.Fatal("tracker should be nil when disabled")
	}
}

func TestRSRTrackerReport(t *testing.T) {
	tr, _ := testTracker(true)

	// High tier station at full rate, second station losing packets.
	for sec := int64(100); sec <= 105; sec++ {
		if p := feed(tr, sec, 4, 15, "-135~45"); p != nil {
			t.Fatalf("unexpected report during second %d", sec)
		}
		feed(tr, sec, 1, 15, "-90.25~40.5")
	}

	// The seventh distinct second closes the window.
	p := feed(tr, 106, 1, 15, "-135~45")
	if p == nil {
		t.Fatal("no report after seven seconds")
	}

	if p.Type != types.RSR || p.UniqueName != "RSR" {
		t.Errorf("product = %s/%s, want RSR/RSR", p.Type, p.UniqueName)
	}
	if !p.NoDedup {
		t.Error("RSR product must bypass dedup")
	}

	wantExpire := time.Date(2020, 8, 23, 9, 0, 13, 0, time.UTC)
	if !p.ExpirationTime.Equal(wantExpire) {
		t.Errorf("expiration = %v, want %v", p.ExpirationTime, wantExpire)
	}

	if len(p.Stations) != 2 {
		t.Fatalf("stations = %d, want 2", len(p.Stations))
	}
	full := p.Stations["-135~45"]
	if full.Received != 12 || full.Expected != 4 || full.Percent != 100 {
		t.Errorf("full rate station = %+v, want 12/4/100", full)
	}
	lossy := p.Stations["-90.25~40.5"]
	if lossy.Received != 3 || lossy.Expected != 4 || lossy.Percent != 25 {
		t.Errorf("lossy station = %+v, want 3/4/25", lossy)
	}
}

func TestRSRTrackerCapsAtFull(t *testing.T) {
	tr, _ := testTracker(true)

	// Tier 0 expects one packet a second, so four a second would score
	// 400 percent without the cap.
	for sec := int64(100); sec <= 105; sec++ {
		feed(tr, sec, 4, 0, "-135~45")
	}
	p := feed(tr, 106, 1, 0, "-135~45")
	if p == nil {
		t.Fatal("no report after seven seconds")
	}
	got := p.Stations["-135~45"]
	if got.Received != 12 || got.Expected != 1 || got.Percent != 100 {
		t.Errorf("station = %+v, want 12/1/100", got)
	}
}

func TestRSRTrackerBestSecond(t *testing.T) {
	tr, _ := testTracker(false)

	counts := map[int64]int{100: 2, 101: 4, 102: 3, 103: 2, 104: 3, 105: 4}
	for sec := int64(100); sec <= 105; sec++ {
		feed(tr, sec, counts[sec], 15, "-135~45")
	}

	// Window covers seconds 103 to 105: nine packets, best second four.
	p := feed(tr, 106, 1, 15, "-135~45")
	if p == nil {
		t.Fatal("no report after seven seconds")
	}
	got := p.Stations["-135~45"]
	if got.Received != 9 || got.Expected != 4 || got.Percent != 75 {
		t.Errorf("station = %+v, want 9/4/75", got)
	}
}

func TestRSRTrackerEmptyWindow(t *testing.T) {
	tr, _ := testTracker(true)

	for sec := int64(100); sec <= 105; sec++ {
		feed(tr, sec, 1, 15, "-135~45")
	}

	// Reception resumes long after the window it would summarize.
	if p := feed(tr, 2000, 1, 15, "-135~45"); p != nil {
		t.Fatalf("report = %+v, want nil for an empty window", p)
	}
}
