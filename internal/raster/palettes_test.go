package raster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationwx/fisb978/internal/config"
)

func testSet(mode, radarMap, cloudTopMap int) *Set {
	return NewSet(&config.Config{
		ImageMapMode:   mode,
		RadarMap:       radarMap,
		CloudTopMap:    cloudTopMap,
		NotIncludedRGB: [3]uint8{0xec, 0xda, 0x96},
	})
}

func TestNewSetGeneralMode(t *testing.T) {
	s := testSet(ModeGeneral, 1, 4)

	// Alternate radar table selected, low slots transparent.
	assert.Equal(t, 0x00fffe, s.Radar[1].RGB)
	assert.Equal(t, uint8(0), s.Radar[0].Alpha)
	assert.Equal(t, uint8(0), s.Radar[1].Alpha)
	assert.Equal(t, uint8(255), s.Radar[2].Alpha)

	// Turbulence always uses the alternate table outside testing.
	assert.Equal(t, 0xccfe71, s.Turb[2].RGB)
	assert.Equal(t, noDataGray, s.Turb[15].RGB)
	assert.Equal(t, uint8(0), s.Turb[15].Alpha)

	assert.Equal(t, 0xffa232, s.CloudTop[7].RGB)
	assert.Equal(t, uint8(0), s.Lightning[0].Alpha)
	assert.Equal(t, uint8(0), s.IcingPRB[0].Alpha)

	// Uncovered pixels are invisible in general mode.
	assert.Equal(t, 0xecda96, s.Radar[notIncludedValue].RGB)
	assert.Equal(t, uint8(0), s.Radar[notIncludedValue].Alpha)
}

func TestNewSetTestingModeForcesPrimaryTables(t *testing.T) {
	s := testSet(ModeTesting, 1, 4)

	assert.Equal(t, 0x00ff35, s.Radar[1].RGB)
	assert.Equal(t, 0x000000, s.Turb[0].RGB)
	assert.Equal(t, 0x0000ff, s.CloudTop[1].RGB)

	// Everything opaque so low values show up.
	assert.Equal(t, uint8(255), s.Radar[0].Alpha)
	assert.Equal(t, uint8(255), s.Lightning[0].Alpha)
	assert.Equal(t, uint8(255), s.IcingSLD[0].Alpha)
	assert.Equal(t, uint8(255), s.Radar[notIncludedValue].Alpha)

	// Reserved icing severity slot stays invisible even here.
	assert.Equal(t, uint8(0), s.IcingSEV[6].Alpha)
}

func TestNewSetShowNoDataMode(t *testing.T) {
	s := testSet(ModeShowNoData, 1, 1)

	// No-data slots take the not-included color and turn opaque.
	assert.Equal(t, 0xecda96, s.Turb[15].RGB)
	assert.Equal(t, uint8(255), s.Turb[15].Alpha)
	assert.Equal(t, 0xecda96, s.Lightning[7].RGB)
	assert.Equal(t, uint8(255), s.Lightning[7].Alpha)
	assert.Equal(t, uint8(255), s.Radar[notIncludedValue].Alpha)

	// Data slots keep their general-mode transparency.
	assert.Equal(t, uint8(0), s.Radar[0].Alpha)
	assert.Equal(t, uint8(0), s.IcingSEV[0].Alpha)
}

func TestNewSetMapSelection(t *testing.T) {
	assert.Equal(t, 0x00ff35, testSet(ModeGeneral, 0, 1).Radar[1].RGB)
	assert.Equal(t, 0x00fffe, testSet(ModeGeneral, 1, 1).Radar[1].RGB)

	assert.Equal(t, 0x8686ff, testSet(ModeGeneral, 1, 0).CloudTop[2].RGB)
	assert.Equal(t, 0xdddddd, testSet(ModeGeneral, 1, 1).CloudTop[2].RGB)
	assert.Equal(t, 0x00f439, testSet(ModeGeneral, 1, 2).CloudTop[2].RGB)
	assert.Equal(t, 0xd3aeae, testSet(ModeGeneral, 1, 3).CloudTop[2].RGB)
	assert.Equal(t, 0xe0d1c0, testSet(ModeGeneral, 1, 4).CloudTop[2].RGB)

	// Out-of-range choice falls back to the grayscale table.
	assert.Equal(t, 0xdddddd, testSet(ModeGeneral, 1, 9).CloudTop[2].RGB)
}

func TestLegendsExport(t *testing.T) {
	legends := testSet(ModeGeneral, 1, 4).Legends()
	require.Len(t, legends, 7)

	names := make([]string, len(legends))
	for i, l := range legends {
		names[i] = l.Name
	}
	assert.Equal(t, []string{
		"RADAR", "TURBULENCE", "CLOUDTOP", "LIGHTNING",
		"ICING_SLD", "ICING_SEV", "ICING_PRB",
	}, names)

	radar := legends[0]
	require.Len(t, radar.Entries, 9)
	assert.Equal(t, 0, radar.Entries[0].Value)
	assert.Equal(t, "#00ee31", radar.Entries[2].Color)
	assert.Equal(t, "dBZ", radar.Entries[2].Units)

	last := radar.Entries[len(radar.Entries)-1]
	assert.Equal(t, notIncludedValue, last.Value)
	assert.Equal(t, "Not Incl", last.Label)
	assert.Equal(t, "#ecda96", last.Color)

	assert.Len(t, legends[1].Entries, 17)

	b, err := json.Marshal(radar.Entries)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"color":"#00ee31"`)
}
