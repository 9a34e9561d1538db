// Package raster assembles FIS-B global-block image tiles into
// georeferenced paletted PNGs.
//
// Tiles are keyed by alternate block number, a row*1000+column grid
// over the product's scale. Each tile covers 4 bin rows by 32 bin
// columns. An assembled image spans the bounding rectangle of every
// tile present; pixels no tile covered render as the palette's
// not-included slot.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"
	"strings"

	"github.com/stationwx/fisb978/internal/types"
)

const (
	tileRows = 4
	tileCols = 32
	tileBins = tileRows * tileCols
)

// res holds the per-pixel resolution in arcminutes of latitude and
// longitude, and the number of blocks in one longitude revolution,
// indexed by scale factor (0 high, 1 medium, 2 low).
var res = [3]struct {
	latMin       float64
	lonMin       float64
	blocksPerRev int
}{
	{1.0, 1.5, 450},
	{5.0, 7.5, 90},
	{9.0, 13.5, 50},
}

const (
	cornerUL = iota
	cornerLL
	cornerUR
	cornerLR
)

// Layer is one rendered plane of an image product. Icing bins pack
// three fields per byte and lightning two, so those products expand
// to several layers, each with its own filename suffix.
type Layer struct {
	Suffix  string
	Palette Palette
	extract func(byte) int
}

// LayersFor returns the render layers for an image product type, in
// the order their files are written.
func (s *Set) LayersFor(imageType string) []Layer {
	switch {
	case strings.HasPrefix(imageType, types.IcingPrefix):
		return []Layer{
			{"_SLD", s.IcingSLD, icingSLD},
			{"_SEV", s.IcingSEV, icingSEV},
			{"_PRB", s.IcingPRB, icingPRB},
		}
	case imageType == types.Lightning:
		return []Layer{
			{"_ALL", s.Lightning, lightningAll},
			{"_POS", s.Lightning, lightningPos},
		}
	case strings.HasPrefix(imageType, types.TurbulencePrefix):
		return []Layer{{"", s.Turb, simpleByte}}
	case imageType == types.CloudTops:
		return []Layer{{"", s.CloudTop, simpleByte}}
	default:
		return []Layer{{"", s.Radar, simpleByte}}
	}
}

// Icing bins pack probability in the low 3 bits, severity in the next
// 3 and the super-large-droplet class in the top 2. Lightning bins
// carry strike density in the low 3 bits with bit 3 set when any
// strike was positive.
func simpleByte(b byte) int   { return int(b) }
func icingSLD(b byte) int     { return int(b>>6) & 0x03 }
func icingSEV(b byte) int     { return int(b>>3) & 0x07 }
func icingPRB(b byte) int     { return int(b) & 0x07 }
func lightningAll(b byte) int { return int(b) & 0x07 }

func lightningPos(b byte) int {
	if b&0x08 == 0 {
		return 0
	}
	return int(b) & 0x07
}

// BoundingBox holds the four image corners in degrees, matching the
// rendered pixel grid.
type BoundingBox struct {
	UpperLeft  [2]float64 `json:"upper_left"`
	LowerLeft  [2]float64 `json:"lower_left"`
	UpperRight [2]float64 `json:"upper_right"`
	LowerRight [2]float64 `json:"lower_right"`
}

// Image is one assembled layer: the pixel grid plus its
// georeferencing. XMin and YMax anchor the outer edge of the
// upper-left pixel; XRes and YRes are degrees per pixel.
type Image struct {
	Paletted *image.Paletted
	Bounds   BoundingBox

	XMin float64
	YMax float64
	XRes float64
	YRes float64
}

func splitBinNum(bin int) (latBin, lonBin int) {
	return bin / 1000, bin % 1000
}

// binCorner returns the latitude and longitude in degrees of one
// corner of a tile. The grid counts blocks west from the
// antimeridian, so longitudes come out negative.
func binCorner(latBin, lonBin, corner, scale int) (lat, lon float64) {
	r := res[scale]
	pLon := float64((r.blocksPerRev - lonBin) * tileCols)
	pLat := float64((latBin + 1) * tileRows)
	if corner == cornerLL || corner == cornerLR {
		pLat -= tileRows
	}
	if corner == cornerUR || corner == cornerLR {
		pLon -= tileCols
	}
	return pLat * r.latMin / 60, -(pLon * r.lonMin / 60)
}

// buildPalette flattens a value-keyed palette into a color table plus
// the value-to-index mapping for pixel fills.
func buildPalette(p Palette) (color.Palette, map[int]uint8) {
	values := make([]int, 0, len(p))
	for v := range p {
		values = append(values, v)
	}
	sort.Ints(values)

	cp := make(color.Palette, len(values))
	idx := make(map[int]uint8, len(values))
	for i, v := range values {
		e := p[v]
		cp[i] = color.NRGBA{
			R: uint8(e.RGB >> 16),
			G: uint8(e.RGB >> 8),
			B: uint8(e.RGB),
			A: e.Alpha,
		}
		idx[v] = uint8(i)
	}
	return cp, idx
}

// Render assembles the tiles of one layer into a paletted image with
// its bounding box. Every tile must carry a full 128 bins; bin values
// outside the layer's palette render as not-included.
func Render(tiles map[int][]byte, scale int, layer Layer) (*Image, error) {
	if len(tiles) == 0 {
		return nil, errors.New("no tiles to render")
	}
	if scale < 0 || scale >= len(res) {
		return nil, fmt.Errorf("scale factor %d out of range", scale)
	}

	minLatBin, minLonBin := 1<<20, 1<<20
	maxLatBin, maxLonBin := -1, -1
	for bin := range tiles {
		latBin, lonBin := splitBinNum(bin)
		minLatBin = min(minLatBin, latBin)
		maxLatBin = max(maxLatBin, latBin)
		minLonBin = min(minLonBin, lonBin)
		maxLonBin = max(maxLonBin, lonBin)
	}

	w := (maxLonBin - minLonBin + 1) * tileCols
	h := (maxLatBin - minLatBin + 1) * tileRows

	cp, idx := buildPalette(layer.Palette)
	img := image.NewPaletted(image.Rect(0, 0, w, h), cp)
	bg := idx[notIncludedValue]
	for i := range img.Pix {
		img.Pix[i] = bg
	}

	for bin, bins := range tiles {
		if len(bins) != tileBins {
			return nil, fmt.Errorf("tile %d has %d bins, want %d", bin, len(bins), tileBins)
		}
		latBin, lonBin := splitBinNum(bin)
		x0 := (lonBin - minLonBin) * tileCols
		y0 := (maxLatBin - latBin) * tileRows
		for i, b := range bins {
			pi, ok := idx[layer.extract(b)]
			if !ok {
				pi = bg
			}
			img.Pix[(y0+i/tileCols)*img.Stride+x0+i%tileCols] = pi
		}
	}

	ulLat, ulLon := binCorner(maxLatBin, minLonBin, cornerUL, scale)
	llLat, llLon := binCorner(minLatBin, minLonBin, cornerLL, scale)
	urLat, urLon := binCorner(maxLatBin, maxLonBin, cornerUR, scale)
	lrLat, lrLon := binCorner(minLatBin, maxLonBin, cornerLR, scale)

	return &Image{
		Paletted: img,
		Bounds: BoundingBox{
			UpperLeft:  [2]float64{ulLat, ulLon},
			LowerLeft:  [2]float64{llLat, llLon},
			UpperRight: [2]float64{urLat, urLon},
			LowerRight: [2]float64{lrLat, lrLon},
		},
		XMin: ulLon,
		YMax: urLat,
		XRes: (urLon - ulLon) / float64(w),
		YRes: (urLat - llLat) / float64(h),
	}, nil
}

// EncodePNG writes the layer as a paletted PNG. Entry alphas land in
// the tRNS chunk.
func (im *Image) EncodePNG(w io.Writer) error {
	return png.Encode(w, im.Paletted)
}

// WriteWorldFile emits the ESRI world file georeferencing the PNG.
// World files anchor on the center of the upper-left pixel, not its
// edge.
func (im *Image) WriteWorldFile(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%.10f\n0.0\n0.0\n%.10f\n%.10f\n%.10f\n",
		im.XRes, -im.YRes, im.XMin+im.XRes/2, im.YMax-im.YRes/2)
	return err
}
