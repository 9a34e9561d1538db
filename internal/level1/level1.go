// Package level1 reassembles what the broadcast splits apart: APDUs
// segmented across several frames are joined back into whole products,
// and text-with-graphic-overlay products have their separately sent
// text and graphics matched into pairs. Packets pass through otherwise
// untouched; only frames are dropped, replaced or combined.
package level1

import (
	"errors"
	"time"

	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/level0"
)

// Reassembly failures. Any of them drops the whole packet into the
// error sink, same as a decode failure one stage earlier.
var (
	ErrSegmentIndex    = errors.New("segment index out of range")
	ErrTextRecordCount = errors.New("expected exactly one text record")
	ErrNoRecords       = errors.New("twgo payload has no records")
	ErrRecordFormat    = errors.New("unknown twgo record format")
)

// expungeEvery is how often the pending buffers are swept for expired
// entries. Sweeps are driven by packet receive times, so replayed
// captures age their buffers at replay speed.
const expungeEvery = 30 * time.Second

// Reassembler is the stage driver. It is not safe for concurrent use;
// run one per ingest goroutine, downstream of one Parser.
type Reassembler struct {
	seg  *Unsegmenter
	twgo *TwgoMatcher

	lastExpunge time.Time
	segTimeouts int
	twgoOrphans int
}

func New(cfg *config.Config, dec *level0.Parser) *Reassembler {
	return &Reassembler{
		seg:  NewUnsegmenter(dec, cfg.SegmentTTL),
		twgo: NewTwgoMatcher(cfg.TwgoTTL),
	}
}

// Process runs every frame of pkt through reassembly and pairing,
// rewriting pkt.Frames in place. Frames held back for matching are
// removed; completed joins and pairs take their place. An error means
// the packet must be dropped.
func (r *Reassembler) Process(pkt *level0.Packet) error {
	now := pkt.RcvdTime
	r.maybeExpunge(now)

	if len(pkt.Frames) == 0 {
		return nil
	}

	kept := pkt.Frames[:0]
	for i := range pkt.Frames {
		f := pkt.Frames[i]
		if f.FrameType != level0.FrameAPDU || f.APDU == nil {
			kept = append(kept, f)
			continue
		}

		a := f.APDU
		if a.SFlag == 1 {
			joined, err := r.seg.Add(pkt.Station, a, now)
			if err != nil {
				return err
			}
			if joined == nil {
				continue
			}
			a = joined
			f.APDU = a
		}

		if pairable(a.ProductID) {
			out, err := r.twgo.Match(a, now)
			if err != nil {
				return err
			}
			if out == nil {
				continue
			}
			f.APDU = out
		}

		kept = append(kept, f)
	}
	pkt.Frames = kept
	return nil
}

// Stats reports how many pending buffers have been dropped by expiry
// since startup.
func (r *Reassembler) Stats() (segmentTimeouts, twgoOrphans int) {
	return r.segTimeouts, r.twgoOrphans
}

func (r *Reassembler) maybeExpunge(now time.Time) {
	if r.lastExpunge.IsZero() {
		r.lastExpunge = now
		return
	}
	if now.Sub(r.lastExpunge) < expungeEvery {
		return
	}
	r.segTimeouts += r.seg.Expunge(now)
	r.twgoOrphans += r.twgo.Expunge(now)
	r.lastExpunge = now
}

// pairable reports whether a product splits its text and graphics into
// separately broadcast records. SUA is text only and G-AIRMET graphics
// only, so both skip the matcher.
func pairable(productID int) bool {
	switch productID {
	case level0.ProductNotam, level0.ProductAirmet, level0.ProductSigmet,
		level0.ProductCWA, level0.ProductNotamTRA, level0.ProductNotamTMOA:
		return true
	}
	return false
}
