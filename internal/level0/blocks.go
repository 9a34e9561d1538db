package level0

import (
	"fmt"
	"strings"
)

// binsPerBlock is the fixed width of one global block row: 32 bins
// across by 4 rows.
const binsPerBlock = 128

// decodeBlock decodes one global block payload. The three byte block
// reference indicator is followed either by an empty-block bitmap or a
// run length encoded bin row, with the encoding keyed to the product.
func decodeBlock(body []byte, productID int) (*BlockPayload, error) {
	r := newReader(body)

	blk := &BlockPayload{
		BlockNumber: int(r.at(0)&0x0F)<<16 | int(r.at(1))<<8 | int(r.at(2)),
		ElementID:   int(r.at(0)&0x80) >> 7,
	}

	// NEXRAD, cloud tops and lightning carry scale and hemisphere in
	// the product specific bits. Icing and turbulence reuse those bits
	// for the altitude level and imply medium scale, northern
	// hemisphere.
	psBits := int(r.at(0)&0x70) >> 4
	switch productID {
	case ProductNexradRegional, ProductNexradConus, ProductCloudTops, ProductLightning:
		blk.ScaleFactor = psBits & 0x03
		blk.Hemisphere = (psBits & 0x04) >> 2
	case ProductIcingLow, ProductTurbulenceLow:
		blk.ScaleFactor = 1
		blk.AltitudeLevel = psBits*2000 + 2000
	case ProductIcingHigh, ProductTurbulenceHigh:
		blk.ScaleFactor = 1
		blk.AltitudeLevel = psBits*2000 + 18000
	default:
		return nil, fmt.Errorf("%w: %d is not a global block product", ErrUnknownProduct, productID)
	}
	if r.err != nil {
		return nil, r.err
	}

	if blk.ElementID == 0 {
		blk.EmptyBlocks = emptyBlockBitmap(r)
		if r.err != nil {
			return nil, r.err
		}
		return blk, nil
	}

	var err error
	switch productID {
	case ProductNexradRegional, ProductNexradConus:
		blk.Bins, err = nexradBins(r)
	case ProductTurbulenceLow, ProductTurbulenceHigh, ProductCloudTops:
		blk.Bins, err = turbulenceBins(r)
	case ProductIcingLow, ProductIcingHigh:
		blk.Bins, err = icingBins(r)
	case ProductLightning:
		blk.Bins, err = lightningBins(r)
	}
	if err != nil {
		return nil, err
	}

	return blk, nil
}

// emptyBlockBitmap expands the bitmap that follows an element id of
// zero. The block named by the reference indicator is itself empty and
// not part of the bitmap; the returned flags cover the blocks after
// it, low bit first.
func emptyBlockBitmap(r *reader) string {
	var sb strings.Builder

	length := int(r.at(3) & 0x0F)
	appendBitsLSB(&sb, r.at(3)>>4, 4)

	for i := 0; i < length; i++ {
		appendBitsLSB(&sb, r.at(4+i), 8)
	}

	return sb.String()
}

func appendBitsLSB(sb *strings.Builder, b byte, n int) {
	for i := 0; i < n; i++ {
		if b&0x01 != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
		b >>= 1
	}
}

// nexradBins expands single byte runs: five bits of count, three bits
// of intensity.
func nexradBins(r *reader) ([]byte, error) {
	bins := make([]byte, 0, binsPerBlock)
	ros := 3

	for {
		b := r.at(ros)
		if r.err != nil {
			return nil, r.err
		}
		count := int(b&0xF8)>>3 + 1
		val := b & 0x07
		bins = appendRun(bins, val, count)
		ros++

		if len(bins) == binsPerBlock {
			return bins, nil
		}
		if len(bins) > binsPerBlock {
			return nil, fmt.Errorf("%w: nexrad runs exceed %d bins", ErrBinCount, binsPerBlock)
		}
	}
}

// turbulenceBins expands the shared turbulence and cloud top encoding:
// one byte runs with the count in the high nibble, except a high
// nibble of 0xE which promotes the next byte to the count.
func turbulenceBins(r *reader) ([]byte, error) {
	bins := make([]byte, 0, binsPerBlock)
	ros := 3

	for {
		b := r.at(ros)
		if r.err != nil {
			return nil, r.err
		}
		val := b & 0x0F
		var count int
		if (b&0xF0)>>4 == 0x0E {
			count = int(r.at(ros+1)) + 1
			ros += 2
		} else {
			count = int(b&0xF0)>>4 + 1
			ros++
		}
		if r.err != nil {
			return nil, r.err
		}
		bins = appendRun(bins, val, count)

		if len(bins) == binsPerBlock {
			return bins, nil
		}
		if len(bins) > binsPerBlock {
			return nil, fmt.Errorf("%w: turbulence runs exceed %d bins", ErrBinCount, binsPerBlock)
		}
	}
}

// icingBins expands fixed two byte runs: a count byte then a full
// value byte packing SLD, severity and probability.
func icingBins(r *reader) ([]byte, error) {
	bins := make([]byte, 0, binsPerBlock)
	ros := 3

	for {
		count := int(r.at(ros)) + 1
		val := r.at(ros + 1)
		if r.err != nil {
			return nil, r.err
		}
		bins = appendRun(bins, val, count)
		ros += 2

		if len(bins) == binsPerBlock {
			return bins, nil
		}
		if len(bins) > binsPerBlock {
			return nil, fmt.Errorf("%w: icing runs exceed %d bins", ErrBinCount, binsPerBlock)
		}
	}
}

// lightningBins expands single byte runs of strike counts with a
// polarity bit. A raw 0xF8 byte is an off-standard marker for a run of
// 32 empty bins that shows up in live data as f8f8f8f8. Runs must land
// exactly on 128 bins and consume the whole frame; lightning data has
// a history of going bad in the field, so both conditions are checked.
func lightningBins(r *reader) ([]byte, error) {
	bins := make([]byte, 0, binsPerBlock)
	ros := 3
	runs := 0

	for {
		if ros == r.len() {
			return nil, fmt.Errorf("%w: lightning runs ended at %d of %d bins", ErrBinCount, len(bins), binsPerBlock)
		}
		b := r.at(ros)
		if r.err != nil {
			return nil, r.err
		}

		val := b & 0x0F
		count := int(b&0xF0)>>4 + 1
		if b == 0xF8 {
			count += 16
		}

		// A value of 8 is zero strikes with positive polarity, which
		// is still zero strikes.
		if val == 0x08 {
			val = 0
		}

		bins = appendRun(bins, val, count)
		runs++
		ros++

		if len(bins) == binsPerBlock {
			if runs != r.len()-3 {
				return nil, fmt.Errorf("%w: %d lightning bins with %d frame bytes unused",
					ErrBinCount, binsPerBlock, r.len()-3-runs)
			}
			return bins, nil
		}
		if len(bins) > binsPerBlock {
			return nil, fmt.Errorf("%w: lightning runs exceed %d bins", ErrBinCount, binsPerBlock)
		}
	}
}

func appendRun(bins []byte, val byte, count int) []byte {
	for i := 0; i < count; i++ {
		bins = append(bins, val)
	}
	return bins
}
