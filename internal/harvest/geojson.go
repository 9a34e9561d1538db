package harvest

import (
	"errors"
	"fmt"
	"time"

	"github.com/stationwx/fisb978/internal/location"
	"github.com/stationwx/fisb978/internal/types"
)

// circlePoints is the vertex count used to approximate CIRCLE
// geometries.
const circlePoints = 32

var errBadGeometry = errors.New("unusable geometry")

// attachGeoJSON converts the overlay geometry of a TWGO product into
// a feature collection and clears the raw geometry. Circles become
// closed polygon rings; open transmitted polygons are closed on their
// first vertex. Products without geometry pass through untouched.
func attachGeoJSON(p *types.Product) error {
	if len(p.Geometry) == 0 {
		return nil
	}

	fc := types.NewFeatureCollection()
	for i := range p.Geometry {
		f, err := featureFrom(&p.Geometry[i], p.UniqueName)
		if err != nil {
			return err
		}
		fc.Features = append(fc.Features, f)
	}
	p.GeoJSON = fc
	p.Geometry = nil
	return nil
}

func featureFrom(g *types.Geometry, id string) (types.Feature, error) {
	var geom types.GeoJSONGeom
	switch g.Kind {
	case types.GeoPoint:
		if len(g.Coordinates) == 0 {
			return types.Feature{}, fmt.Errorf("point without coordinates: %w", errBadGeometry)
		}
		geom = types.GeoJSONGeom{Type: "Point", Coordinates: g.Coordinates[0]}
	case types.GeoPolyline:
		if len(g.Coordinates) < 2 {
			return types.Feature{}, fmt.Errorf("polyline with %d vertices: %w", len(g.Coordinates), errBadGeometry)
		}
		geom = types.GeoJSONGeom{Type: "LineString", Coordinates: g.Coordinates}
	case types.GeoPolygon:
		if len(g.Coordinates) < 3 {
			return types.Feature{}, fmt.Errorf("polygon with %d vertices: %w", len(g.Coordinates), errBadGeometry)
		}
		geom = types.GeoJSONGeom{Type: "Polygon", Coordinates: [][][]float64{closeRing(g.Coordinates)}}
	case types.GeoCircle:
		if len(g.Coordinates) == 0 || g.RadiusNM <= 0 {
			return types.Feature{}, fmt.Errorf("circle without center or radius: %w", errBadGeometry)
		}
		c := g.Coordinates[0]
		ring := location.CirclePolygon(c[0], c[1], g.RadiusNM, circlePoints)
		geom = types.GeoJSONGeom{Type: "Polygon", Coordinates: [][][]float64{ring}}
	default:
		return types.Feature{}, fmt.Errorf("geometry kind %q: %w", g.Kind, errBadGeometry)
	}

	props := map[string]any{"id": id, "altitudes": g.Altitudes}
	if g.Element != "" {
		props["element"] = g.Element
	}
	if g.AirportID != "" {
		props["airport_id"] = g.AirportID
	}
	if len(g.Conditions) > 0 {
		props["conditions"] = g.Conditions
	}
	if g.StartTime != nil {
		props["start_time"] = g.StartTime.UTC().Format(time.RFC3339)
	}
	if g.StopTime != nil {
		props["stop_time"] = g.StopTime.UTC().Format(time.RFC3339)
	}
	if g.StartHour != "" {
		props["start_hour"] = g.StartHour
	}
	if g.StopHour != "" {
		props["stop_hour"] = g.StopHour
	}
	if g.Cancelled {
		props["cancelled"] = true
	}

	return types.Feature{Type: "Feature", Geometry: geom, Properties: props}, nil
}

func closeRing(ring [][]float64) [][]float64 {
	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		ring = append(ring, []float64{first[0], first[1]})
	}
	return ring
}
