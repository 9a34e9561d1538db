package level2

import (
	"fmt"
	"time"

	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/types"
)

// Object element names, indexed by the object_element field.
var objectElements = []string{"TFR", "TURB", "LLWS", "SFC", "ICING", "FRZLVL", "IFR", "MTN"}

// geoShapes maps a geometry_options value to its shape kind and
// altitude reference. Options outside the table are reserved.
var geoShapes = map[int]struct {
	kind   string
	altRef string
}{
	3:  {types.GeoPolygon, "MSL"},
	4:  {types.GeoPolygon, "AGL"},
	7:  {types.GeoCircle, "MSL"},
	8:  {types.GeoCircle, "AGL"},
	9:  {types.GeoPoint, "AGL"},
	10: {types.GeoPoint, "MSL"},
	11: {types.GeoPolyline, "MSL"},
	12: {types.GeoPolyline, "AGL"},
}

// assembleGeometry converts the overlay records of a TWGO product into
// geometry elements. Objects the broadcast split across several
// records are merged back together first, and TRA and TMOA products
// get their two-record altitude overlays collapsed. ref anchors any
// month/day applicability times the records carry.
func assembleGeometry(records []level0.TwgoGraphic, ref time.Time, productID int) ([]types.Geometry, error) {
	recs := splitMultiVertex(records)
	recs = mergeAdjacent(recs)

	var override *types.AltitudeBand
	if productID == level0.ProductNotamTRA || productID == level0.ProductNotamTMOA {
		var err error
		if recs, override, err = collapseOverlay(recs); err != nil {
			return nil, err
		}
	}

	out := make([]types.Geometry, 0, len(recs))
	for i := range recs {
		g, err := buildGeometry(&recs[i], ref)
		if err != nil {
			return nil, err
		}
		if override != nil {
			g.Altitudes = *override
		}
		out = append(out, *g)
	}
	return out, nil
}

// splitMultiVertex gives every vertex of a multi-vertex point or
// circle record its own copy of the record. Polygons and polylines
// legitimately carry many vertices; points and circles do not.
func splitMultiVertex(records []level0.TwgoGraphic) []level0.TwgoGraphic {
	out := make([]level0.TwgoGraphic, 0, len(records))
	for _, r := range records {
		switch r.GeometryOptions {
		case 7, 8, 9, 10:
			if len(r.Vertices) > 1 {
				for _, v := range r.Vertices {
					c := r
					c.Vertices = []level0.Vertex{v}
					c.VertexCount = 1
					out = append(out, c)
				}
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// mergeAdjacent joins runs of polygon or polyline records carrying one
// object split across record boundaries. A polyline continues when its
// last vertex equals the next record's first; a polygon absorbs
// records until its ring closes.
func mergeAdjacent(records []level0.TwgoGraphic) []level0.TwgoGraphic {
	out := make([]level0.TwgoGraphic, 0, len(records))
	for i := 0; i < len(records); {
		r := records[i]
		shape, ok := geoShapes[r.GeometryOptions]
		if !ok || shape.kind == types.GeoPoint || shape.kind == types.GeoCircle {
			out = append(out, r)
			i++
			continue
		}

		verts := append([]level0.Vertex(nil), r.Vertices...)
		j := i + 1
		for ; j < len(records) && records[j].GeometryOptions == r.GeometryOptions; j++ {
			var merged []level0.Vertex
			var joined bool
			if shape.kind == types.GeoPolygon {
				merged, joined = appendPolygon(verts, records[j].Vertices)
			} else {
				merged, joined = appendPolyline(verts, records[j].Vertices)
			}
			if !joined {
				break
			}
			verts = merged
		}
		r.Vertices = verts
		r.VertexCount = len(verts)
		out = append(out, r)
		i = j
	}
	return out
}

// appendPolyline continues a polyline with the next record's vertices
// when the two share an endpoint. The shared vertex is kept once.
func appendPolyline(dst, next []level0.Vertex) ([]level0.Vertex, bool) {
	if len(dst) == 0 || len(next) == 0 {
		return dst, false
	}
	if !sameVertex(dst[len(dst)-1], next[0]) {
		return dst, false
	}
	return append(dst, next[1:]...), true
}

// appendPolygon extends an unfinished polygon ring with the next
// record's vertices. A record can hold several closed rings (one per
// altitude), so the start vertex resets after each closure; only a
// ring still open at the end accepts more vertices.
func appendPolygon(dst, next []level0.Vertex) ([]level0.Vertex, bool) {
	if len(dst) == 0 || len(next) == 0 {
		return dst, false
	}
	start := dst[0]
	closed := false
	for _, v := range dst[1:] {
		switch {
		case sameVertex(v, start):
			closed = true
		case closed:
			start = v
			closed = false
		}
	}
	if closed {
		return dst, false
	}
	if sameVertex(dst[len(dst)-1], next[0]) {
		next = next[1:]
	}
	return append(dst, next...), true
}

func sameVertex(a, b level0.Vertex) bool {
	return a.Lon == b.Lon && a.Lat == b.Lat && a.AltFt == b.AltFt
}

// collapseOverlay merges the two-record form TRA and TMOA products use
// to transmit a vertical extent: the first record draws the shape and
// the second supplies the opposite altitude bound. Anything else
// passes through untouched.
func collapseOverlay(records []level0.TwgoGraphic) ([]level0.TwgoGraphic, *types.AltitudeBand, error) {
	if len(records) != 2 || records[0].OverlayOperator != 1 {
		return records, nil, nil
	}
	s0, ok0 := geoShapes[records[0].GeometryOptions]
	s1, ok1 := geoShapes[records[1].GeometryOptions]
	if !ok0 || !ok1 || s0.kind != s1.kind {
		return nil, nil, fmt.Errorf("overlay operator across options %d and %d: %w",
			records[0].GeometryOptions, records[1].GeometryOptions, ErrGeometry)
	}
	if len(records[0].Vertices) != len(records[1].Vertices) {
		return nil, nil, fmt.Errorf("overlay vertex counts %d and %d differ: %w",
			len(records[0].Vertices), len(records[1].Vertices), ErrGeometry)
	}
	if len(records[0].Vertices) == 0 {
		return nil, nil, fmt.Errorf("overlay records with no vertices: %w", ErrGeometry)
	}

	switch s0.kind {
	case types.GeoPolygon:
		band := &types.AltitudeBand{
			Top:       records[0].Vertices[0].AltFt,
			TopRef:    s0.altRef,
			Bottom:    records[1].Vertices[0].AltFt,
			BottomRef: s1.altRef,
		}
		return records[:1], band, nil
	case types.GeoCircle:
		merged := records[0]
		merged.Vertices = []level0.Vertex{records[0].Vertices[0]}
		merged.Vertices[0].ZBottom = records[1].Vertices[0].ZBottom
		return []level0.TwgoGraphic{merged}, nil, nil
	}
	return nil, nil, fmt.Errorf("overlay operator on %s: %w", s0.kind, ErrGeometry)
}

// buildGeometry turns one merged record into a geometry element.
func buildGeometry(r *level0.TwgoGraphic, ref time.Time) (*types.Geometry, error) {
	shape, ok := geoShapes[r.GeometryOptions]
	if !ok {
		return nil, fmt.Errorf("geometry options %d: %w", r.GeometryOptions, ErrGeometry)
	}
	g := &types.Geometry{
		Kind:      shape.kind,
		Altitudes: types.AltitudeBand{TopRef: shape.altRef, BottomRef: shape.altRef},
	}

	wantStart := r.ApplicabilityOptions == 1 || r.ApplicabilityOptions == 3
	wantStop := r.ApplicabilityOptions == 2 || r.ApplicabilityOptions == 3
	switch r.DateTimeFormat {
	case 1:
		if wantStart && r.Start != nil {
			t, err := referencedTime(ref, r.Start.Month, r.Start.Day, r.Start.Hour, r.Start.Minute)
			if err != nil {
				return nil, err
			}
			g.StartTime = &t
		}
		if wantStop && r.Stop != nil {
			t, err := referencedTime(ref, r.Stop.Month, r.Stop.Day, r.Stop.Hour, r.Stop.Minute)
			if err != nil {
				return nil, err
			}
			g.StopTime = &t
		}
	case 3:
		if wantStart && r.Start != nil {
			g.StartHour = fmt.Sprintf("%02d%02d", r.Start.Hour, r.Start.Minute)
		}
		if wantStop && r.Stop != nil {
			g.StopHour = fmt.Sprintf("%02d%02d", r.Stop.Hour, r.Stop.Minute)
		}
	}

	if r.ObjectStatus == 13 {
		g.Cancelled = true
	}
	if r.ElementFlag != 0 {
		if r.ObjectElement < 0 || r.ObjectElement >= len(objectElements) {
			return nil, fmt.Errorf("object element %d: %w", r.ObjectElement, ErrGeometry)
		}
		g.Element = objectElements[r.ObjectElement]
	}
	if r.LabelFlag == 1 {
		g.AirportID = r.ObjectLabel
	}
	if r.QualFlag == 1 {
		g.Conditions = decodeQualifiers(r.ObjectQualifiers)
	}

	var err error
	switch shape.kind {
	case types.GeoPoint:
		err = fillPoint(g, r)
	case types.GeoCircle:
		err = fillCircle(g, r)
	default:
		err = fillOutline(g, r)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func fillPoint(g *types.Geometry, r *level0.TwgoGraphic) error {
	if len(r.Vertices) != 1 {
		return fmt.Errorf("point with %d vertices: %w", len(r.Vertices), ErrGeometry)
	}
	v := r.Vertices[0]
	g.Altitudes.Top = v.AltFt
	g.Coordinates = [][]float64{{v.Lon, v.Lat}}
	return nil
}

func fillCircle(g *types.Geometry, r *level0.TwgoGraphic) error {
	if len(r.Vertices) != 1 {
		return fmt.Errorf("circle with %d vertices: %w", len(r.Vertices), ErrGeometry)
	}
	v := r.Vertices[0]
	// Only right circular prisms are supported: both centers on the
	// same axis, equal radii, no rotation.
	if v.Lon != v.LonTop || v.Lat != v.LatTop || v.Alpha != 0 || v.RMajorNM != v.RMinorNM {
		return fmt.Errorf("slanted or elliptical prism: %w", ErrGeometry)
	}
	g.Altitudes.Top = v.ZTop
	g.Altitudes.Bottom = v.ZBottom
	g.Coordinates = [][]float64{{v.Lon, v.Lat}}
	g.RadiusNM = v.RMajorNM
	return nil
}

// fillOutline handles polygons and polylines. Vertices arrive grouped
// by altitude, one full outline per altitude bound, highest first.
func fillOutline(g *types.Geometry, r *level0.TwgoGraphic) error {
	if len(r.Vertices) == 0 {
		return fmt.Errorf("%s with no vertices: %w", g.Kind, ErrGeometry)
	}
	var alts []int
	byAlt := make(map[int][][]float64)
	for _, v := range r.Vertices {
		if _, ok := byAlt[v.AltFt]; !ok {
			alts = append(alts, v.AltFt)
		}
		byAlt[v.AltFt] = append(byAlt[v.AltFt], []float64{v.Lon, v.Lat})
	}
	switch len(alts) {
	case 1:
		g.Altitudes.Top = alts[0]
	case 2:
		if !sameCoords(byAlt[alts[0]], byAlt[alts[1]]) {
			return fmt.Errorf("altitude outlines differ: %w", ErrGeometry)
		}
		g.Altitudes.Top = alts[0]
		g.Altitudes.Bottom = alts[1]
	default:
		return fmt.Errorf("%d altitude outlines: %w", len(alts), ErrGeometry)
	}
	g.Coordinates = byAlt[alts[0]]
	return nil
}

func sameCoords(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i][0] != b[i][0] || a[i][1] != b[i][1] {
			return false
		}
	}
	return true
}

// decodeQualifiers expands the three qualifier bitmap bytes into
// condition names. Only the bits the broadcast actually assigns are
// mapped; the rest are reserved.
func decodeQualifiers(q []byte) []string {
	var out []string
	if len(q) < 3 {
		return out
	}
	if q[0]&0x80 != 0 {
		out = append(out, "UNSPCFD")
	}
	if q[1]&0x01 != 0 {
		out = append(out, "ASH")
	}
	names := []struct {
		mask byte
		name string
	}{
		{0x80, "DUST"}, {0x40, "CLOUDS"}, {0x20, "BLSNOW"}, {0x10, "SMOKE"},
		{0x08, "HAZE"}, {0x04, "FOG"}, {0x02, "MIST"}, {0x01, "PCPN"},
	}
	for _, n := range names {
		if q[2]&n.mask != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

// twgoExpiration picks the expiration for a TWGO product: an explicit
// end of validity wins, then the latest stop time when every geometry
// element carries one, then a flat retention period. The bypass knob
// forces the flat period for feeds with unreliable stop times.
func (s *Synthesizer) twgoExpiration(p *types.Product, rcvd time.Time, endOfValidity *time.Time) time.Time {
	if !s.cfg.BypassTwgoSmart {
		if endOfValidity != nil {
			return *endOfValidity
		}
		if t, ok := latestStop(p.Geometry); ok {
			return t
		}
	}
	return rcvd.Add(s.cfg.TwgoRetention)
}

// latestStop returns the latest stop time across the geometry, valid
// only when every element has one.
func latestStop(geo []types.Geometry) (time.Time, bool) {
	if len(geo) == 0 {
		return time.Time{}, false
	}
	var latest time.Time
	for _, g := range geo {
		if g.StopTime == nil {
			return time.Time{}, false
		}
		if g.StopTime.After(latest) {
			latest = *g.StopTime
		}
	}
	return latest, true
}
