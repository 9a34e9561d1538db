package level1

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stationwx/fisb978/internal/level0"
)

// segmentBuffer collects the fragments of one product file. Slots are
// indexed by apdu number minus one and stay nil until their fragment
// arrives.
type segmentBuffer struct {
	need     int
	have     int
	inserted time.Time
	parts    []*level0.APDU
}

// Unsegmenter joins segmented APDUs back into whole products. Buffers
// are keyed by station, product id and product file id so fragment
// numbering from different stations never interleaves.
type Unsegmenter struct {
	dec     *level0.Parser
	ttl     time.Duration
	pending map[string]*segmentBuffer
}

func NewUnsegmenter(dec *level0.Parser, ttl time.Duration) *Unsegmenter {
	return &Unsegmenter{
		dec:     dec,
		ttl:     ttl,
		pending: make(map[string]*segmentBuffer),
	}
}

// Add stores one fragment. When it completes its product file the
// fragments are joined, decoded and returned as a single unsegmented
// APDU; until then Add returns nil. Duplicate fragments are ignored.
func (u *Unsegmenter) Add(station string, a *level0.APDU, now time.Time) (*level0.APDU, error) {
	key := fmt.Sprintf("%s|%d-%d", station, a.ProductID, a.ProductFileID)
	idx := a.APDUNumber - 1

	buf := u.pending[key]
	need := a.ProductFileLength
	if buf != nil {
		need = buf.need
	}
	if idx < 0 || idx >= need {
		return nil, fmt.Errorf("%w: fragment %d of %d for product %d file %d",
			ErrSegmentIndex, a.APDUNumber, need, a.ProductID, a.ProductFileID)
	}

	if buf == nil {
		buf = &segmentBuffer{
			need:     need,
			inserted: now,
			parts:    make([]*level0.APDU, need),
		}
		u.pending[key] = buf
	}
	if buf.parts[idx] != nil {
		return nil, nil
	}
	buf.parts[idx] = a
	buf.have++

	if buf.have < buf.need {
		return nil, nil
	}
	delete(u.pending, key)
	return u.join(buf.parts)
}

// join concatenates the fragment payloads in order and re-decodes the
// result. The first fragment's APDU header carries over; the segment
// bookkeeping fields are cleared so the output looks like it was never
// split.
func (u *Unsegmenter) join(parts []*level0.APDU) (*level0.APDU, error) {
	skip := segmentHeaderLen(parts[0].ProductID)

	var payload []byte
	for i, part := range parts {
		b, err := hex.DecodeString(part.SegmentHex)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i+1, err)
		}
		if i > 0 {
			if len(b) < skip {
				return nil, fmt.Errorf("%w: fragment %d shorter than its payload header",
					ErrSegmentIndex, i+1)
			}
			b = b[skip:]
		}
		payload = append(payload, b...)
	}

	joined := *parts[0]
	joined.SFlag = 0
	joined.ProductFileLength = 0
	joined.APDUNumber = 0
	joined.SegmentHex = ""
	if err := u.dec.DecodeProductPayload(&joined, payload); err != nil {
		return nil, err
	}
	return &joined, nil
}

// Expunge drops partial buffers older than the segment TTL and reports
// how many were dropped.
func (u *Unsegmenter) Expunge(now time.Time) int {
	n := 0
	for key, buf := range u.pending {
		if now.Sub(buf.inserted) >= u.ttl {
			delete(u.pending, key)
			n++
		}
	}
	return n
}

// segmentHeaderLen is how many leading payload bytes every fragment
// after the first repeats. Text-with-graphic-overlay products resend
// their six byte payload header on each segment.
func segmentHeaderLen(productID int) int {
	switch productID {
	case level0.ProductNotam, level0.ProductAirmet, level0.ProductSigmet,
		level0.ProductSUA, level0.ProductGAirmet, level0.ProductCWA,
		level0.ProductNotamTRA, level0.ProductNotamTMOA:
		return 6
	}
	return 0
}
