package level2

import (
	"fmt"
	"strconv"
	"time"

	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/types"
)

// blockMeta names one image product family and how long its tiles
// stay current. Observed products date their tiles by observation
// time, forecasts by valid time.
type blockMeta struct {
	name     string
	abbr     string
	ttl      time.Duration
	observed bool
}

func blockInfo(productID, altitudeLevel int) (blockMeta, error) {
	switch productID {
	case level0.ProductNexradRegional:
		return blockMeta{types.NexradRegional, "NR", radarExpire, true}, nil
	case level0.ProductNexradConus:
		return blockMeta{types.NexradConus, "NC", radarExpire, true}, nil
	case level0.ProductTurbulenceLow, level0.ProductTurbulenceHigh:
		return blockMeta{
			fmt.Sprintf("%s%05d", types.TurbulencePrefix, altitudeLevel),
			"T" + strconv.Itoa(altitudeLevel), griddedExpire, false,
		}, nil
	case level0.ProductIcingLow, level0.ProductIcingHigh:
		return blockMeta{
			fmt.Sprintf("%s%05d", types.IcingPrefix, altitudeLevel),
			"I" + strconv.Itoa(altitudeLevel), griddedExpire, false,
		}, nil
	case level0.ProductCloudTops:
		return blockMeta{types.CloudTops, "CT", griddedExpire, false}, nil
	case level0.ProductLightning:
		return blockMeta{types.Lightning, "LGT", radarExpire, true}, nil
	}
	return blockMeta{}, fmt.Errorf("product %d has no block form: %w", productID, ErrUnknownProduct)
}

// blockProducts expands one global block frame into image tiles. A bin
// run yields one tile, or two above 60 degrees north where blocks
// double in width. An empty-block bitmap yields one zeroed tile per
// flagged block.
func (s *Synthesizer) blockProducts(a *level0.APDU, rcvd time.Time) ([]*types.Product, error) {
	b := a.Block
	if b == nil {
		return nil, fmt.Errorf("block payload missing: %w", ErrRecordCount)
	}

	info, err := blockInfo(a.ProductID, b.AltitudeLevel)
	if err != nil {
		return nil, err
	}
	event := apduTime(rcvd, a.Hour, a.Minute, true)

	base := types.Product{
		Type:           info.name,
		UniqueName:     info.abbr + "-" + event.Format(time.RFC3339),
		RcvdTime:       rcvd,
		ScaleFactor:    b.ScaleFactor,
		ExpirationTime: rcvd.Add(info.ttl),
	}
	if info.observed {
		base.ObservationTime = &event
	} else {
		base.ValidTime = &event
	}

	if b.ElementID == 0 {
		return s.emptyBlocks(&base, b), nil
	}

	if len(b.Bins) != binsPerBlock {
		return nil, fmt.Errorf("block with %d bins: %w", len(b.Bins), ErrRecordCount)
	}
	alt := alternateBlockNumber(b.BlockNumber, b.ScaleFactor)
	first := base
	first.BlockNumber = alt
	if !above60(alt, b.ScaleFactor) {
		first.Bins = b.Bins
		return []*types.Product{&first}, nil
	}
	west, east := splitBins(b.Bins)
	second := first
	first.Bins = west
	second.BlockNumber = alt + 1
	second.Bins = east
	return []*types.Product{&first, &second}, nil
}

// emptyBlocks expands an empty-block bitmap into zeroed tiles. The
// leading flag covers the frame's own block number; the bitmap covers
// the blocks after it, spaced by the block numbering stride of the
// scale.
func (s *Synthesizer) emptyBlocks(base *types.Product, b *level0.BlockPayload) []*types.Product {
	stride := 1
	switch b.ScaleFactor {
	case 1:
		stride = 5
	case 2:
		stride = 9
	}

	var out []*types.Product
	bn := b.BlockNumber
	for _, flag := range "1" + b.EmptyBlocks {
		if flag == '1' {
			alt := alternateBlockNumber(bn, b.ScaleFactor)
			p := *base
			p.BlockNumber = alt
			p.Bins = make([]byte, binsPerBlock)
			p.NoDedup = true
			out = append(out, &p)
			if above60(alt, b.ScaleFactor) {
				q := p
				q.BlockNumber = alt + 1
				q.Bins = make([]byte, binsPerBlock)
				out = append(out, &q)
			}
		}
		if bn >= 405000 && b.ScaleFactor == 1 {
			bn += 2
		} else {
			bn += stride
		}
	}
	return out
}

// binsPerBlock is the pixel count of one tile: 32 columns by 4 rows
// below 60 degrees, 16 doubled columns by 4 rows above.
const binsPerBlock = 128

// alternateBlockNumber converts a wire block number to the row*1000+col
// form the plotting layers use. Wire numbering counts blocks of every
// scale along a shared row; the alternate form is per scale.
func alternateBlockNumber(blockNumber, scaleFactor int) int {
	offset, div := 0, 1
	switch scaleFactor {
	case 1:
		offset, div = 1800, 5
	case 2:
		offset, div = 3600, 9
	}
	row := (blockNumber - offset) / (offset + 450)
	col := (blockNumber - offset) % (offset + 450) / div
	return row*1000 + col
}

// above60 reports whether an alternate block number sits at or above
// 60 degrees north, where block widths double.
func above60(altBlockNumber, scaleFactor int) bool {
	row := altBlockNumber / 1000
	switch scaleFactor {
	case 1:
		return row >= 180
	case 2:
		return row >= 100
	default:
		return row >= 900
	}
}

// splitBins divides a 4x32 bin block into its western and eastern
// halves and doubles every pixel, giving two full 4x32 tiles. One
// transmitted block covers two plotting blocks above 60 degrees.
func splitBins(bins []byte) (west, east []byte) {
	west = make([]byte, 0, binsPerBlock)
	east = make([]byte, 0, binsPerBlock)
	for i := 0; i < 4; i++ {
		for j := 0; j < 16; j++ {
			w := bins[i*32+j]
			e := bins[i*32+j+16]
			west = append(west, w, w)
			east = append(east, e, e)
		}
	}
	return west, east
}
