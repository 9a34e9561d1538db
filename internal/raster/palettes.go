package raster

import (
	"fmt"
	"sort"

	"github.com/stationwx/fisb978/internal/config"
)

// Display modes. General hides the empty and no-data slots so rasters
// overlay a chart cleanly, testing makes every slot opaque, and
// show-no-data distinguishes pixels a tile covered from pixels no
// tile reached.
const (
	ModeGeneral = iota
	ModeTesting
	ModeShowNoData
)

// notIncludedValue is the palette slot for pixels no tile covered.
const notIncludedValue = 255

const (
	noDataLabel  = "No Data"
	notInclLabel = "Not Incl"
	noDataGray   = 0xb6b6b6
)

// Entry is one palette slot: a packed 0xRRGGBB color plus the legend
// text for the bin value.
type Entry struct {
	RGB   int
	Alpha uint8
	Label string
	Units string
}

// Palette maps bin values to display entries. Every palette carries
// slot 255 for pixels no tile covered.
type Palette map[int]Entry

// Set holds the palette chosen for each image family under the
// configured display mode.
type Set struct {
	Radar     Palette
	Turb      Palette
	CloudTop  Palette
	Lightning Palette
	IcingSLD  Palette
	IcingSEV  Palette
	IcingPRB  Palette
}

// tuning carries the slots that vary with display mode. Everything
// else in the palettes is fixed.
type tuning struct {
	radar0       uint8
	radar1       uint8
	lightning0   uint8
	icing0       uint8
	noDataAlpha  uint8
	notInclAlpha uint8
	noDataRGB    int
	notInclRGB   int
}

// NewSet builds the palettes for the configured display mode. Testing
// mode ignores the radar and cloud-top map choices and always uses
// the primary tables.
func NewSet(cfg *config.Config) *Set {
	ni := int(cfg.NotIncludedRGB[0])<<16 | int(cfg.NotIncludedRGB[1])<<8 | int(cfg.NotIncludedRGB[2])
	t := tuning{noDataRGB: noDataGray, notInclRGB: ni}
	switch cfg.ImageMapMode {
	case ModeTesting:
		t.radar0, t.radar1 = 255, 255
		t.lightning0, t.icing0 = 255, 255
		t.noDataAlpha, t.notInclAlpha = 255, 255
	case ModeShowNoData:
		t.noDataAlpha, t.notInclAlpha = 255, 255
		t.noDataRGB = ni
	}

	s := &Set{
		Lightning: lightningMap0(t),
		IcingSLD:  icingSLDMap0(t),
		IcingSEV:  icingSEVMap0(t),
		IcingPRB:  icingPRBMap0(t),
	}
	if cfg.ImageMapMode == ModeTesting {
		s.Radar = radarMap0(t)
		s.Turb = turbMap0(t)
		s.CloudTop = cloudTopMap0(t)
		return s
	}

	if cfg.RadarMap == 1 {
		s.Radar = radarMap1(t)
	} else {
		s.Radar = radarMap0(t)
	}
	s.Turb = turbMap1(t)
	switch cfg.CloudTopMap {
	case 0:
		s.CloudTop = cloudTopMap0(t)
	case 2:
		s.CloudTop = cloudTopMap2(t)
	case 3:
		s.CloudTop = cloudTopMap3(t)
	case 4:
		s.CloudTop = cloudTopMap4(t)
	default:
		s.CloudTop = cloudTopMap1(t)
	}
	return s
}

func radarMap0(t tuning) Palette {
	return Palette{
		0:                {0x000000, t.radar0, "<5", "dBZ"},
		1:                {0x00ff35, t.radar1, "5-20", "dBZ"},
		2:                {0x0ba31e, 255, "20-30", "dBZ"},
		3:                {0xfffe3a, 255, "30-40", "dBZ"},
		4:                {0xff0011, 255, "40-45", "dBZ"},
		5:                {0x990017, 255, "45-50", "dBZ"},
		6:                {0xff00fb, 255, "50-55", "dBZ"},
		7:                {0x9a0096, 255, ">55", "dBZ"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "dBZ"},
	}
}

func radarMap1(t tuning) Palette {
	return Palette{
		0:                {0x000000, t.radar0, "<5", "dBZ"},
		1:                {0x00fffe, t.radar1, "5-20", "dBZ"},
		2:                {0x00ee31, 255, "20-30", "dBZ"},
		3:                {0x0ba31e, 255, "30-40", "dBZ"},
		4:                {0xfffe3a, 255, "40-45", "dBZ"},
		5:                {0xff973e, 255, "45-50", "dBZ"},
		6:                {0xff0011, 255, "50-55", "dBZ"},
		7:                {0xff00fb, 255, ">55", "dBZ"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "dBZ"},
	}
}

func turbMap0(t tuning) Palette {
	return Palette{
		0:                {0x000000, 255, "<7", "EDR*100"},
		1:                {0x0000ff, 255, "7-14", "EDR*100"},
		2:                {0x8686ff, 255, "14-21", "EDR*100"},
		3:                {0x76d3ff, 255, "21-28", "EDR*100"},
		4:                {0x008600, 255, "28-35", "EDR*100"},
		5:                {0x00ff00, 255, "35-42", "EDR*100"},
		6:                {0xc4ffc4, 255, "42-49", "EDR*100"},
		7:                {0xffff00, 255, "49-56", "EDR*100"},
		8:                {0xf18635, 255, "56-63", "EDR*100"},
		9:                {0x864613, 255, "63-70", "EDR*100"},
		10:               {0xff0000, 255, "70-77", "EDR*100"},
		11:               {0xffcdcd, 255, "77-84", "EDR*100"},
		12:               {0xff00ff, 255, "84-91", "EDR*100"},
		13:               {0xa500a5, 255, "91-98", "EDR*100"},
		14:               {0x000000, 255, ">98", "EDR*100"},
		15:               {noDataGray, 255, noDataLabel, "EDR*100"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "EDR*100"},
	}
}

// turbMap1 follows the Aviation Weather Center turbulence colors.
func turbMap1(t tuning) Palette {
	return Palette{
		0:                {0xffffff, 0, "<7", "EDR*100"},
		1:                {0xc8ffff, 0, "7-14", "EDR*100"},
		2:                {0xccfe71, 255, "14-21", "EDR*100"},
		3:                {0xedde35, 255, "21-28", "EDR*100"},
		4:                {0xffb42e, 255, "28-35", "EDR*100"},
		5:                {0xff9528, 255, "35-42", "EDR*100"},
		6:                {0xff7623, 255, "42-49", "EDR*100"},
		7:                {0xff4c1d, 255, "49-56", "EDR*100"},
		8:                {0xff0018, 255, "56-63", "EDR*100"},
		9:                {0xe30015, 255, "63-70", "EDR*100"},
		10:               {0xb90011, 255, "70-77", "EDR*100"},
		11:               {0x8f000d, 255, "77-84", "EDR*100"},
		12:               {0x7b000c, 255, "84-91", "EDR*100"},
		13:               {0x530008, 255, "91-98", "EDR*100"},
		14:               {0x410006, 255, ">98", "EDR*100"},
		15:               {t.noDataRGB, t.noDataAlpha, noDataLabel, "EDR*100"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "EDR*100"},
	}
}

func cloudTopMap0(t tuning) Palette {
	return Palette{
		0:                {0x000000, 255, "No Clouds", "ft MSL"},
		1:                {0x0000ff, 255, "< 1500", "ft MSL"},
		2:                {0x8686ff, 255, "1500-3000", "ft MSL"},
		3:                {0x76d3ff, 255, "3000-4500", "ft MSL"},
		4:                {0x008600, 255, "4500-6000", "ft MSL"},
		5:                {0x00ff00, 255, "6000-7500", "ft MSL"},
		6:                {0xc4ffc4, 255, "7500-9000", "ft MSL"},
		7:                {0xffff00, 255, "9000-10500", "ft MSL"},
		8:                {0xf18635, 255, "10500-12000", "ft MSL"},
		9:                {0x864613, 255, "12000-13500", "ft MSL"},
		10:               {0xff0000, 255, "13500-15000", "ft MSL"},
		11:               {0xffcdcd, 255, "15000-18000", "ft MSL"},
		12:               {0xff00ff, 255, "18000-21000", "ft MSL"},
		13:               {0xa500a5, 255, "21000-24000", "ft MSL"},
		14:               {0xff0000, 255, ">24000", "ft MSL"},
		15:               {noDataGray, 255, noDataLabel, "ft MSL"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "ft MSL"},
	}
}

func cloudTopMap1(t tuning) Palette {
	return Palette{
		0:                {0xffffff, 0, "No Clouds", "ft MSL"},
		1:                {0xeeeeee, 255, "< 1500", "ft MSL"},
		2:                {0xdddddd, 255, "1500-3000", "ft MSL"},
		3:                {0xcdcdcd, 255, "3000-4500", "ft MSL"},
		4:                {0xbbbbbb, 255, "4500-6000", "ft MSL"},
		5:                {0xaaaaaa, 255, "6000-7500", "ft MSL"},
		6:                {0x999999, 255, "7500-9000", "ft MSL"},
		7:                {0x888888, 255, "9000-10500", "ft MSL"},
		8:                {0x777777, 255, "10500-12000", "ft MSL"},
		9:                {0x666666, 255, "12000-13500", "ft MSL"},
		10:               {0x555555, 255, "13500-15000", "ft MSL"},
		11:               {0x444444, 255, "15000-18000", "ft MSL"},
		12:               {0x333333, 255, "18000-21000", "ft MSL"},
		13:               {0x222222, 255, "21000-24000", "ft MSL"},
		14:               {0x111111, 255, ">24000", "ft MSL"},
		15:               {t.noDataRGB, t.noDataAlpha, noDataLabel, "ft MSL"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "ft MSL"},
	}
}

func cloudTopMap2(t tuning) Palette {
	return Palette{
		0:                {0xffffff, 0, "No Clouds", "ft MSL"},
		1:                {0x27862f, 255, "< 1500", "ft MSL"},
		2:                {0x00f439, 255, "1500-3000", "ft MSL"},
		3:                {0x8ffb3b, 255, "3000-4500", "ft MSL"},
		4:                {0xabfb4d, 255, "4500-6000", "ft MSL"},
		5:                {0xfff93d, 255, "6000-7500", "ft MSL"},
		6:                {0xffa22e, 255, "7500-9000", "ft MSL"},
		7:                {0xd56830, 255, "9000-10500", "ft MSL"},
		8:                {0x9f5239, 255, "10500-12000", "ft MSL"},
		9:                {0x864724, 255, "12000-13500", "ft MSL"},
		10:               {0xa62f34, 255, "13500-15000", "ft MSL"},
		11:               {0xb3242b, 255, "15000-18000", "ft MSL"},
		12:               {0x7c0015, 255, "18000-21000", "ft MSL"},
		13:               {0x8c0014, 255, "21000-24000", "ft MSL"},
		14:               {0xf9001c, 255, ">24000", "ft MSL"},
		15:               {t.noDataRGB, t.noDataAlpha, noDataLabel, "ft MSL"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "ft MSL"},
	}
}

func cloudTopMap3(t tuning) Palette {
	return Palette{
		0:                {0xffffff, 0, "No Clouds", "ft MSL"},
		1:                {0xd8c2c2, 255, "< 1500", "ft MSL"},
		2:                {0xd3aeae, 255, "1500-3000", "ft MSL"},
		3:                {0xd19797, 255, "3000-4500", "ft MSL"},
		4:                {0xd27d7d, 255, "4500-6000", "ft MSL"},
		5:                {0xd56161, 255, "6000-7500", "ft MSL"},
		6:                {0xdb4343, 255, "7500-9000", "ft MSL"},
		7:                {0xed0000, 255, "9000-10500", "ft MSL"},
		8:                {0xe00000, 255, "10500-12000", "ft MSL"},
		9:                {0xd20000, 255, "12000-13500", "ft MSL"},
		10:               {0xbf0000, 255, "13500-15000", "ft MSL"},
		11:               {0xa90000, 255, "15000-18000", "ft MSL"},
		12:               {0x940000, 255, "18000-21000", "ft MSL"},
		13:               {0x7e0000, 255, "21000-24000", "ft MSL"},
		14:               {0x6b0003, 255, ">24000", "ft MSL"},
		15:               {t.noDataRGB, t.noDataAlpha, noDataLabel, "ft MSL"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "ft MSL"},
	}
}

func cloudTopMap4(t tuning) Palette {
	return Palette{
		0:                {0xffffff, 0, "No Clouds", "ft MSL"},
		1:                {0xe2dad0, 255, "< 1500", "ft MSL"},
		2:                {0xe0d1c0, 255, "1500-3000", "ft MSL"},
		3:                {0xe0c9ad, 255, "3000-4500", "ft MSL"},
		4:                {0xe2c199, 255, "4500-6000", "ft MSL"},
		5:                {0xe6b982, 255, "6000-7500", "ft MSL"},
		6:                {0xedb169, 255, "7500-9000", "ft MSL"},
		7:                {0xffa232, 255, "9000-10500", "ft MSL"},
		8:                {0xea9528, 255, "10500-12000", "ft MSL"},
		9:                {0xd4881e, 255, "12000-13500", "ft MSL"},
		10:               {0xbf7b16, 255, "13500-15000", "ft MSL"},
		11:               {0xa96d0f, 255, "15000-18000", "ft MSL"},
		12:               {0x946009, 255, "18000-21000", "ft MSL"},
		13:               {0x7e5204, 255, "21000-24000", "ft MSL"},
		14:               {0x694401, 255, ">24000", "ft MSL"},
		15:               {t.noDataRGB, t.noDataAlpha, noDataLabel, "ft MSL"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "ft MSL"},
	}
}

func lightningMap0(t tuning) Palette {
	return Palette{
		0:                {0x000000, t.lightning0, "0", "Strike Density"},
		1:                {0x00b4f1, 255, "1", "Strike Density"},
		2:                {0xc1d9ef, 255, "2", "Strike Density"},
		3:                {0x5a883b, 255, "3-5", "Strike Density"},
		4:                {0xc9e2b8, 255, "6-10", "Strike Density"},
		5:                {0xffff00, 255, "11-15", "Strike Density"},
		6:                {0xc95f14, 255, ">15", "Strike Density"},
		7:                {t.noDataRGB, t.noDataAlpha, noDataLabel, "Strike Density"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "Strike Density"},
	}
}

func icingSLDMap0(t tuning) Palette {
	return Palette{
		0:                {0x000000, t.icing0, "<= 5", "SLD %"},
		1:                {0xffff00, 255, "5-50", "SLD %"},
		2:                {0xff0000, 255, ">50", "SLD %"},
		3:                {t.noDataRGB, t.noDataAlpha, noDataLabel, "SLD %"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "SLD %"},
	}
}

func icingSEVMap0(t tuning) Palette {
	return Palette{
		0:                {0x000000, t.icing0, "None", "Type"},
		1:                {0x76d3ff, 255, "Trace", "Type"},
		2:                {0x00ff00, 255, "Light", "Type"},
		3:                {0xffff00, 255, "Moderate", "Type"},
		4:                {0xff00ff, 255, "Severe", "Type"},
		5:                {0xff0000, 255, "Heavy", "Type"},
		6:                {0x000000, 0, "Reserved", "Type"},
		7:                {t.noDataRGB, t.noDataAlpha, noDataLabel, "Type"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "Type"},
	}
}

func icingPRBMap0(t tuning) Palette {
	return Palette{
		0:                {0x000000, t.icing0, "<= 5", "%"},
		1:                {0x76d3ff, 255, "5-20", "%"},
		2:                {0x00ff00, 255, "20-30", "%"},
		3:                {0xffff00, 255, "30-40", "%"},
		4:                {0xf18635, 255, "40-60", "%"},
		5:                {0xff0000, 255, "60-80", "%"},
		6:                {0xff00ff, 255, ">80", "%"},
		7:                {t.noDataRGB, t.noDataAlpha, noDataLabel, "%"},
		notIncludedValue: {t.notInclRGB, t.notInclAlpha, notInclLabel, "%"},
	}
}

// Legend is the display key for one palette family, exported to the
// store so viewers can label raster values.
type Legend struct {
	Name    string        `json:"name"`
	Entries []LegendEntry `json:"entries"`
}

// LegendEntry is one legend row, value-sorted within its legend.
type LegendEntry struct {
	Value int    `json:"value"`
	Color string `json:"color"`
	Alpha uint8  `json:"alpha"`
	Label string `json:"label"`
	Units string `json:"units"`
}

// Legends exports every palette in the set, named by the image family
// a viewer keys on.
func (s *Set) Legends() []Legend {
	families := []struct {
		name string
		pal  Palette
	}{
		{"RADAR", s.Radar},
		{"TURBULENCE", s.Turb},
		{"CLOUDTOP", s.CloudTop},
		{"LIGHTNING", s.Lightning},
		{"ICING_SLD", s.IcingSLD},
		{"ICING_SEV", s.IcingSEV},
		{"ICING_PRB", s.IcingPRB},
	}

	out := make([]Legend, 0, len(families))
	for _, f := range families {
		values := make([]int, 0, len(f.pal))
		for v := range f.pal {
			values = append(values, v)
		}
		sort.Ints(values)

		entries := make([]LegendEntry, 0, len(values))
		for _, v := range values {
			e := f.pal[v]
			entries = append(entries, LegendEntry{
				Value: v,
				Color: fmt.Sprintf("#%06x", e.RGB),
				Alpha: e.Alpha,
				Label: e.Label,
				Units: e.Units,
			})
		}
		out = append(out, Legend{Name: f.name, Entries: entries})
	}
	return out
}
