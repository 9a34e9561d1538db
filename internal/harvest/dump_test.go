package harvest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationwx/fisb978/internal/store"
	"github.com/stationwx/fisb978/internal/types"
)

func TestAugmentCrlStatus(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]any
		want string
	}{
		{"no reports", map[string]any{}, "COMPLETE"},
		{"all starred", map[string]any{
			"reports": []any{"3-1991/TG*", "4-200/TO*"},
		}, "COMPLETE"},
		{"missing report", map[string]any{
			"reports": []any{"3-1991/TG*", "4-200/TO"},
		}, "INCOMPLETE"},
		{"overflowed list", map[string]any{
			"has_overflow": true,
			"reports":      []any{"3-1991/TG*"},
		}, "INCOMPLETE"},
	}
	for _, tc := range cases {
		augmentCrlStatus(tc.doc)
		assert.Equal(t, tc.want, tc.doc["status"], tc.name)
	}
}

func TestFeatureStatus(t *testing.T) {
	now := time.Date(2021, 3, 21, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		props map[string]any
		want  string
	}{
		{"daily window", map[string]any{"start_hour": "14", "stop_hour": "22"}, "Daily"},
		{"before start", map[string]any{
			"start_time": "2021-03-21T13:00:00Z", "stop_time": "2021-03-21T17:00:00Z",
		}, "Pending activation"},
		{"inside window", map[string]any{
			"start_time": "2021-03-21T11:00:00Z", "stop_time": "2021-03-21T17:00:00Z",
		}, "Active"},
		{"past stop", map[string]any{
			"start_time": "2021-03-21T08:00:00Z", "stop_time": "2021-03-21T09:00:00Z",
		}, "Expired"},
		{"stop only, at stop", map[string]any{"stop_time": "2021-03-21T12:00:00Z"}, "Expired"},
		{"stop only, before stop", map[string]any{"stop_time": "2021-03-21T13:00:00Z"}, "Active"},
		{"start only, not yet", map[string]any{"start_time": "2021-03-21T13:00:00Z"}, "Pending activation"},
		{"no times", map[string]any{"id": "x"}, "Active"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, featureStatus(tc.props, now), tc.name)
	}
}

func TestFeatureWKTAfterRoundTrip(t *testing.T) {
	fc := types.NewFeatureCollection()
	fc.Features = append(fc.Features,
		types.Feature{Geometry: types.GeoJSONGeom{Type: "Point", Coordinates: []float64{-83.25, 40.5}}},
		types.Feature{Geometry: types.GeoJSONGeom{Type: "LineString", Coordinates: [][]float64{{-83, 40}, {-82, 41}}}},
		types.Feature{Geometry: types.GeoJSONGeom{
			Type:        "Polygon",
			Coordinates: [][][]float64{{{-83.1, 40.1}, {-83, 40.1}, {-83, 40}, {-83.1, 40.1}}},
		}},
	)

	b, err := json.Marshal(fc)
	require.NoError(t, err)
	var back types.FeatureCollection
	require.NoError(t, json.Unmarshal(b, &back))

	kind, wkt, ok := featureWKT(back.Features[0])
	require.True(t, ok)
	assert.Equal(t, "PT", kind)
	assert.Equal(t, "POINT(-83.25 40.5)", wkt)

	kind, wkt, ok = featureWKT(back.Features[1])
	require.True(t, ok)
	assert.Equal(t, "LS", kind)
	assert.Equal(t, "LINESTRING(-83 40,-82 41)", wkt)

	kind, wkt, ok = featureWKT(back.Features[2])
	require.True(t, ok)
	assert.Equal(t, "PG", kind)
	assert.Equal(t, "POLYGON((-83.1 40.1,-83 40.1,-83 40,-83.1 40.1))", wkt)

	_, _, ok = featureWKT(types.Feature{Geometry: types.GeoJSONGeom{Type: "MultiPoint"}})
	assert.False(t, ok)
}

func TestVectorID(t *testing.T) {
	rec := &store.Record{UniqueName: "25-1234"}

	sigmet := &types.Product{GeoJSON: &types.FeatureCollection{Features: []types.Feature{{
		Properties: map[string]any{"altitudes": map[string]any{"bottom": float64(0), "top": float64(24000)}},
	}}}}
	assert.Equal(t, "25-1234/0:24000", vectorID(types.SIGMET, rec, sigmet))

	gairmet := &types.Product{GeoJSON: &types.FeatureCollection{Features: []types.Feature{{
		Properties: map[string]any{
			"element":   "TURB",
			"altitudes": map[string]any{"bottom": float64(2000), "top": float64(24000)},
		},
	}}}}
	assert.Equal(t, "25-1234/TURB-2000:24000", vectorID(types.GAirmet03Hr, rec, gairmet))

	pirep := &types.Product{ReportType: "UA", Station: "CMH", Fields: map[string]string{"tm": "1200"}}
	assert.Equal(t, "UA-CMH-1200", vectorID(types.PIREP, rec, pirep))

	assert.Equal(t, "25-1234", vectorID(types.METAR, rec, &types.Product{}))
}

func TestWriteMarkerNames(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2021, 3, 21, 2, 1, 40, 0, time.UTC)

	require.NoError(t, writeMarker(dir, Trigger{Name: "PLAIN", Offset: 7300, Raw: 7300}, now))
	b, err := os.ReadFile(filepath.Join(dir, "2021-03-21-020140_7300"))
	require.NoError(t, err)
	assert.Equal(t, "PLAIN\n", string(b))

	require.NoError(t, writeMarker(dir, Trigger{Name: "SHIFTED", Offset: 7320, Raw: 7300, Adjust: 20}, now))
	_, err = os.Stat(filepath.Join(dir, "2021-03-21-020140_7320~7300+20"))
	require.NoError(t, err)

	require.NoError(t, writeMarker(dir, Trigger{Name: "EARLY", Offset: 7280, Raw: 7300, Adjust: -20}, now))
	_, err = os.Stat(filepath.Join(dir, "2021-03-21-020140_7280~7300-20"))
	require.NoError(t, err)
}

func TestDumpTriggerWritesCheckpoint(t *testing.T) {
	c, _, _ := testCurator(t)

	apply(t, c, metar("KCMH", "METAR KCMH 211151Z 24008KT", t0.Add(2*time.Hour)))
	apply(t, c, tfr("3-1991"))
	apply(t, c, crlFor(8, "3-1991/TG"))

	results := t.TempDir()
	c.run = &triggerRun{results: results}
	require.NoError(t, c.dumpTrigger(Trigger{Number: 3, Name: "CHECK", Offset: 7320, Raw: 7300, Adjust: 20}, t0))

	dir := filepath.Join(results, "03")

	marker, err := os.ReadFile(filepath.Join(dir, "2021-03-21-120000_7320~7300+20"))
	require.NoError(t, err)
	assert.Equal(t, "CHECK\n", string(marker))

	metarDump, err := os.ReadFile(filepath.Join(dir, "METAR.db"))
	require.NoError(t, err)
	assert.Contains(t, string(metarDump), `"unique_name": "KCMH"`)

	// The TFR has no activity times, so its feature dumps as Active.
	tfrDump, err := os.ReadFile(filepath.Join(dir, "NOTAM_TFR.db"))
	require.NoError(t, err)
	assert.Contains(t, string(tfrDump), `"status": "Active"`)

	// The one listed report is held with both halves.
	crlDump, err := os.ReadFile(filepath.Join(dir, "CRL_8.db"))
	require.NoError(t, err)
	assert.Contains(t, string(crlDump), `"3-1991/TG*"`)
	assert.Contains(t, string(crlDump), `"status": "COMPLETE"`)

	vectors, err := os.ReadFile(filepath.Join(dir, "V-NOTAM_TFR-PG.csv"))
	require.NoError(t, err)
	assert.Equal(t, "3-1991\tPOLYGON((-83.1 40.1,-83 40.1,-83 40,-83.1 40.1))\n", string(vectors))

	_, err = os.Stat(filepath.Join(dir, "V-METAR-PT.csv"))
	assert.True(t, os.IsNotExist(err), "no geometry, no vector file")
	_, err = os.Stat(filepath.Join(dir, "image-report.txt"))
	assert.True(t, os.IsNotExist(err), "no live images, no report")
	_, err = os.Stat(filepath.Join(dir, "SIGMET.db"))
	assert.True(t, os.IsNotExist(err), "empty tables are not dumped")
}
