package harvest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stationwx/fisb978/internal/store"
	"github.com/stationwx/fisb978/internal/types"
)

// dumpTypes lists the store types written to .db files at a trigger
// checkpoint.
var dumpTypes = []string{
	types.METAR, types.TAF,
	crlType(8), crlType(11), crlType(12), crlType(14),
	crlType(15), crlType(16), crlType(17),
	types.PIREP, types.SUA,
	types.Winds06Hr, types.Winds12Hr, types.Winds24Hr,
	types.NotamD, types.NotamFDC, types.NotamTMOA, types.NotamTRA, types.NotamTFR,
	types.AIRMET, types.SIGMET, types.WST, types.CWA, types.SIGWX,
	types.ServiceStatus,
	types.GAirmet00Hr, types.GAirmet03Hr, types.GAirmet06Hr,
	types.FisBUnavailable, types.RSR,
}

// twgoDump is the set of types whose dumped features get an activity
// status derived from the virtual clock.
var twgoDump = map[string]bool{
	types.NotamD:      true,
	types.NotamFDC:    true,
	types.NotamTMOA:   true,
	types.NotamTRA:    true,
	types.NotamTFR:    true,
	types.AIRMET:      true,
	types.SIGMET:      true,
	types.WST:         true,
	types.CWA:         true,
	types.SIGWX:       true,
	types.GAirmet00Hr: true,
	types.GAirmet03Hr: true,
	types.GAirmet06Hr: true,
}

// vectorTypes lists the types whose geometry is exported as WKT.
var vectorTypes = []string{
	types.NotamD, types.NotamFDC, types.NotamTMOA, types.NotamTRA, types.NotamTFR,
	types.AIRMET, types.SIGMET, types.WST, types.CWA, types.SIGWX,
	types.GAirmet00Hr, types.GAirmet03Hr, types.GAirmet06Hr,
	types.PIREP,
	types.METAR, types.TAF, types.Winds06Hr, types.Winds12Hr, types.Winds24Hr,
}

// dumpTrigger snapshots curator state for one replay checkpoint: a
// marker file naming the trigger, the live rasters with their report,
// every populated table as a .db file and all geometry as WKT.
func (c *Curator) dumpTrigger(trig Trigger, now time.Time) error {
	dir := filepath.Join(c.run.results, fmt.Sprintf("%02d", trig.Number))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeMarker(dir, trig, now); err != nil {
		return err
	}
	if err := c.copyImages(dir, now); err != nil {
		return err
	}
	if err := c.dumpTables(dir, now); err != nil {
		return err
	}
	return c.dumpVectors(dir)
}

// writeMarker drops an all-but-empty file whose name records when the
// dump fired and which documented checkpoint it belongs to. A name of
// 2013-03-21-020140_7320~7300+20 means the dump ran 7320 seconds past
// midnight for the documented 7300-second checkpoint shifted +20.
func writeMarker(dir string, trig Trigger, now time.Time) error {
	name := now.UTC().Format("2006-01-02-150405") + "_" + strconv.Itoa(trig.Offset)
	if trig.Adjust != 0 {
		sign := "+"
		adj := trig.Adjust
		if adj < 0 {
			sign = "-"
			adj = -adj
		}
		name += "~" + strconv.Itoa(trig.Raw) + sign + strconv.Itoa(adj)
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(trig.Name+"\n"), 0o644)
}

// copyImages snapshots the rendered rasters and, when any image is
// live, a metadata report alongside them.
func (c *Curator) copyImages(dir string, now time.Time) error {
	for _, pattern := range []string{"*.png", "*.pgw"} {
		matches, err := filepath.Glob(filepath.Join(c.cfg.ImageDir, pattern))
		if err != nil {
			return err
		}
		for _, src := range matches {
			if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
				return err
			}
		}
	}

	report, hasImages := c.images.report(now)
	if !hasImages {
		return nil
	}
	return os.WriteFile(filepath.Join(dir, "image-report.txt"), []byte(report), 0o644)
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}

// dumpTables writes each populated table to <TYPE>.db, one indented
// JSON document per record separated by a blank line. TWGO and CRL
// records are annotated with their status at the virtual time.
func (c *Curator) dumpTables(dir string, now time.Time) error {
	for _, t := range dumpTypes {
		recs, err := c.db.FindByType(t)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			continue
		}

		f, err := os.Create(filepath.Join(dir, t+".db"))
		if err != nil {
			return err
		}
		for _, rec := range recs {
			doc := map[string]any{}
			if err := json.Unmarshal(rec.Payload, &doc); err != nil {
				f.Close()
				return fmt.Errorf("decode %s: %w", rec.ID, err)
			}
			if twgoDump[t] {
				if _, ok := doc["geojson"]; ok {
					augmentTwgoStatus(doc, now)
				}
			}
			if strings.HasPrefix(t, types.CRLPrefix) {
				augmentCrlStatus(doc)
			}

			b, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				f.Close()
				return err
			}
			if _, err := f.Write(append(b, '\n', '\n')); err != nil {
				f.Close()
				return err
			}
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// augmentCrlStatus marks a dumped CRL COMPLETE only when it has no
// overflow and every listed report is starred as held.
func augmentCrlStatus(doc map[string]any) {
	reports, _ := doc["reports"].([]any)
	if len(reports) == 0 {
		doc["status"] = "COMPLETE"
		return
	}
	if _, ok := doc["has_overflow"]; ok {
		doc["status"] = "INCOMPLETE"
		return
	}
	for _, r := range reports {
		s, _ := r.(string)
		if !strings.Contains(s, "*") {
			doc["status"] = "INCOMPLETE"
			return
		}
	}
	doc["status"] = "COMPLETE"
}

// augmentTwgoStatus stamps each dumped feature with its activity at
// the virtual time: Daily for repeating windows, otherwise Pending
// activation, Active or Expired per its start and stop times.
func augmentTwgoStatus(doc map[string]any, now time.Time) {
	geo, _ := doc["geojson"].(map[string]any)
	features, _ := geo["features"].([]any)
	for _, f := range features {
		feature, _ := f.(map[string]any)
		props, _ := feature["properties"].(map[string]any)
		if props == nil {
			continue
		}
		props["status"] = featureStatus(props, now)
	}
}

func featureStatus(props map[string]any, now time.Time) string {
	_, hasStartHour := props["start_hour"]
	_, hasStopHour := props["stop_hour"]
	if hasStartHour || hasStopHour {
		return "Daily"
	}

	start, hasStart := propTime(props, "start_time")
	stop, hasStop := propTime(props, "stop_time")
	switch {
	case hasStart && hasStop:
		if now.Before(start) {
			return "Pending activation"
		}
		if now.After(stop) {
			return "Expired"
		}
		return "Active"
	case hasStop:
		if !now.Before(stop) {
			return "Expired"
		}
		return "Active"
	case hasStart:
		if now.Before(start) {
			return "Pending activation"
		}
		return "Active"
	}
	return "Active"
}

func propTime(props map[string]any, key string) (time.Time, bool) {
	s, ok := props[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ExportVectors writes the current vector layers into dir, creating
// it if needed. This is the dump-vectors command; trigger dumps call
// the same export per results directory.
func (c *Curator) ExportVectors(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create vector directory: %w", err)
	}
	return c.dumpVectors(dir)
}

// dumpVectors exports stored geometry as WKT grouped into
// V-<type>-<kind>.csv files, where kind is PT, LS or PG. Each line is
// the record identity, a tab and the WKT text, sorted for stable
// diffs.
func (c *Curator) dumpVectors(dir string) error {
	files := map[string][]string{}

	for _, t := range vectorTypes {
		recs, err := c.db.FindByType(t)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			p, err := types.FromJSON(rec.Payload)
			if err != nil {
				return fmt.Errorf("decode %s: %w", rec.ID, err)
			}
			if p.GeoJSON == nil || len(p.GeoJSON.Features) == 0 {
				continue
			}

			id := vectorID(t, rec, p)
			multiple := len(p.GeoJSON.Features) > 1
			for i, feature := range p.GeoJSON.Features {
				kind, wkt, ok := featureWKT(feature)
				if !ok {
					continue
				}
				lineID := id
				if multiple {
					lineID = fmt.Sprintf("%s/%d", id, i+1)
				}
				name := fmt.Sprintf("V-%s-%s.csv", t, kind)
				files[name] = append(files[name], lineID+"\t"+wkt)
			}
		}
	}

	for name, lines := range files {
		sort.Strings(lines)
		content := strings.Join(lines, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// vectorID builds the identity part of a vector line. Weather
// graphics carry their altitude band so stacked outlooks stay
// distinct; PIREPs key on report type, station and observation time.
func vectorID(t string, rec *store.Record, p *types.Product) string {
	switch t {
	case types.AIRMET, types.SIGMET, types.WST, types.CWA, types.SIGWX:
		return rec.UniqueName + "/" + altitudeBand(p)
	case types.GAirmet00Hr, types.GAirmet03Hr, types.GAirmet06Hr:
		element, _ := p.GeoJSON.Features[0].Properties["element"].(string)
		return rec.UniqueName + "/" + element + "-" + altitudeBand(p)
	case types.PIREP:
		return p.ReportType + "-" + p.Station + "-" + p.Fields["tm"]
	}
	return rec.UniqueName
}

// altitudeBand renders the first feature's vertical extent as
// bottom:top.
func altitudeBand(p *types.Product) string {
	alt, _ := p.GeoJSON.Features[0].Properties["altitudes"].(map[string]any)
	return fmt.Sprintf("%d:%d", altInt(alt["bottom"]), altInt(alt["top"]))
}

func altInt(v any) int {
	f, _ := v.(float64)
	return int(f)
}

// featureWKT converts one feature's geometry to WKT. Polygons use the
// outer ring only.
func featureWKT(f types.Feature) (kind, wkt string, ok bool) {
	switch f.Geometry.Type {
	case "Point":
		pt, ok := coordPair(f.Geometry.Coordinates)
		if !ok {
			return "", "", false
		}
		return "PT", "POINT(" + coordText(pt) + ")", true
	case "LineString":
		pts, ok := coordList(f.Geometry.Coordinates)
		if !ok || len(pts) == 0 {
			return "", "", false
		}
		return "LS", "LINESTRING(" + coordsText(pts) + ")", true
	case "Polygon":
		rings, ok := coordRings(f.Geometry.Coordinates)
		if !ok || len(rings) == 0 || len(rings[0]) == 0 {
			return "", "", false
		}
		return "PG", "POLYGON((" + coordsText(rings[0]) + "))", true
	}
	return "", "", false
}

// Coordinate coercion. A payload decoded from the store carries
// nested []any; a freshly built collection carries typed slices.

func coordPair(v any) ([]float64, bool) {
	switch c := v.(type) {
	case []float64:
		return c, len(c) >= 2
	case []any:
		if len(c) < 2 {
			return nil, false
		}
		pt := make([]float64, len(c))
		for i, n := range c {
			f, ok := n.(float64)
			if !ok {
				return nil, false
			}
			pt[i] = f
		}
		return pt, true
	}
	return nil, false
}

func coordList(v any) ([][]float64, bool) {
	switch c := v.(type) {
	case [][]float64:
		return c, true
	case []any:
		pts := make([][]float64, len(c))
		for i, n := range c {
			pt, ok := coordPair(n)
			if !ok {
				return nil, false
			}
			pts[i] = pt
		}
		return pts, true
	}
	return nil, false
}

func coordRings(v any) ([][][]float64, bool) {
	switch c := v.(type) {
	case [][][]float64:
		return c, true
	case []any:
		rings := make([][][]float64, len(c))
		for i, n := range c {
			ring, ok := coordList(n)
			if !ok {
				return nil, false
			}
			rings[i] = ring
		}
		return rings, true
	}
	return nil, false
}

// coordText renders "x y" with the shortest float form.
func coordText(pt []float64) string {
	return strconv.FormatFloat(pt[0], 'g', -1, 64) + " " + strconv.FormatFloat(pt[1], 'g', -1, 64)
}

func coordsText(pts [][]float64) string {
	parts := make([]string, len(pts))
	for i, pt := range pts {
		parts[i] = coordText(pt)
	}
	return strings.Join(parts, ",")
}
