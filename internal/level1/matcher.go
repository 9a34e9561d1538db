package level1

import (
	"fmt"
	"time"

	"github.com/stationwx/fisb978/internal/level0"
)

// twgoEntry holds the halves of one report seen so far. Either half
// may be nil.
type twgoEntry struct {
	text       *level0.TwgoPayload
	graphics   *level0.TwgoPayload
	lastUpdate time.Time
}

// TwgoMatcher pairs text records with their separately broadcast
// graphic overlays.
//
// Text always goes out as soon as it arrives, but it is also retained:
// when the matching graphics show up, the pair goes out together, and
// when the same text is rebroadcast later, the held graphics ride
// along again instead of being lost until the next overlay
// transmission. Changed text invalidates any held graphics, since the
// new report may have moved. Graphics without text are held quietly
// until the text arrives or the TWGO TTL drops them.
//
// A cancellation (report status 0) always goes out and clears both
// held halves.
type TwgoMatcher struct {
	ttl  time.Duration
	held map[string]*twgoEntry
}

func NewTwgoMatcher(ttl time.Duration) *TwgoMatcher {
	return &TwgoMatcher{
		ttl:  ttl,
		held: make(map[string]*twgoEntry),
	}
}

// Match runs one APDU through the pairing rules. The APDU's payload
// moves from Twgo into TwgoText and, when a pair is complete,
// TwgoGraphics. A nil return with nil error means the frame is held
// back; held payloads are emitted as copies so later arrivals cannot
// disturb what has already gone downstream.
func (m *TwgoMatcher) Match(a *level0.APDU, now time.Time) (*level0.APDU, error) {
	tw := a.Twgo
	if tw == nil {
		return nil, fmt.Errorf("%w: product %d has no twgo payload", ErrNoRecords, a.ProductID)
	}

	switch tw.RecordFormat {
	case level0.TwgoGraphicFormat:
		if len(tw.GraphicRecords) == 0 {
			return nil, fmt.Errorf("%w: graphic twgo with no records", ErrNoRecords)
		}
		rec := tw.GraphicRecords[0]
		e := m.entry(matchKey(a, tw, rec.ReportYear, rec.ReportNumber), now)
		e.graphics = tw
		e.lastUpdate = now

		if e.text == nil {
			return nil, nil
		}
		return emit(a, clonePayload(e.text), clonePayload(tw)), nil

	case level0.TwgoTextFormat:
		if len(tw.TextRecords) != 1 {
			return nil, fmt.Errorf("%w: %d text records in one twgo", ErrTextRecordCount, len(tw.TextRecords))
		}
		rec := tw.TextRecords[0]
		key := matchKey(a, tw, rec.ReportYear, rec.ReportNumber)

		// Cancellations go out unconditionally and wipe the held state
		// so stale graphics cannot pair with a dead report.
		if rec.ReportStatus == 0 {
			delete(m.held, key)
			return emit(a, tw, nil), nil
		}

		// Active records with empty text are renewals. Only NOTAM-TFRs
		// send them meaningfully; everything else is noise.
		if rec.Text == "" {
			if a.ProductID != level0.ProductNotam {
				return nil, nil
			}
			return emit(a, tw, nil), nil
		}

		e := m.entry(key, now)
		e.lastUpdate = now

		if e.text != nil && e.text.TextRecords[0].Text != rec.Text {
			// The report changed. Held graphics belong to the old
			// text, so drop them and send the new text alone.
			e.graphics = nil
		}
		e.text = tw

		if e.graphics != nil {
			return emit(a, clonePayload(tw), clonePayload(e.graphics)), nil
		}
		return emit(a, clonePayload(tw), nil), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrRecordFormat, tw.RecordFormat)
	}
}

// Expunge drops held entries idle past the TWGO TTL and reports how
// many were dropped.
func (m *TwgoMatcher) Expunge(now time.Time) int {
	n := 0
	for key, e := range m.held {
		if now.Sub(e.lastUpdate) >= m.ttl {
			delete(m.held, key)
			n++
		}
	}
	return n
}

func (m *TwgoMatcher) entry(key string, now time.Time) *twgoEntry {
	e := m.held[key]
	if e == nil {
		e = &twgoEntry{lastUpdate: now}
		m.held[key] = e
	}
	return e
}

// matchKey builds the identity the two halves share. Location matters
// for D-NOTAMs, where report numbers repeat per airport, and the month
// disambiguates products that reuse numbers across months.
func matchKey(a *level0.APDU, tw *level0.TwgoPayload, year, number int) string {
	loc := tw.Location
	if loc == "" {
		loc = "X"
	}
	return fmt.Sprintf("%d-%d-%d-%s-%d", a.ProductID, year, number, loc, a.Month)
}

// emit rewrites a as the matcher's output frame.
func emit(a *level0.APDU, text, graphics *level0.TwgoPayload) *level0.APDU {
	a.TwgoText = text
	a.TwgoGraphics = graphics
	a.Twgo = nil
	return a
}

// clonePayload copies a payload deeply enough that the held original
// and the emitted copy cannot share mutable state.
func clonePayload(tw *level0.TwgoPayload) *level0.TwgoPayload {
	cp := *tw
	cp.TextRecords = append([]level0.TwgoText(nil), tw.TextRecords...)
	cp.GraphicRecords = append([]level0.TwgoGraphic(nil), tw.GraphicRecords...)
	for i := range cp.GraphicRecords {
		g := &cp.GraphicRecords[i]
		g.ObjectQualifiers = append([]byte(nil), g.ObjectQualifiers...)
		g.Vertices = append([]level0.Vertex(nil), g.Vertices...)
		if g.Start != nil {
			t := *g.Start
			g.Start = &t
		}
		if g.Stop != nil {
			t := *g.Stop
			g.Stop = &t
		}
	}
	return &cp
}
