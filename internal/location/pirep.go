package location

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	geo "github.com/kellydunn/golang-geo"

	"github.com/stationwx/fisb978/internal/types"
)

const (
	// Bearing/distance projections past this are author garbage.
	maxProjectionNM = 400

	nmToKm = 1.852001
	smToNM = 0.86897624
)

var (
	// Raw coordinates like "4012N 08623W". Traffic is CONUS, so north
	// latitude and west longitude are assumed.
	latLongRE = regexp.MustCompile(`^([34][0-9]{3})N ([0-9]{5})W$`)

	// Spelled-out distance and direction like "10 SM EAST OF IND".
	distDirRE = regexp.MustCompile(`^([0-9]{1,2}) ?((NM|SM|M|MILE) )?` +
		`(NORTH|SOUTH|EAST|WEST|N|S|E|W|NE|NW|SE|SW|NORTHEAST|NORTHWEST|SOUTHEAST|SOUTHWEST|` +
		`NNE|ENE|ESE|SSE|SSW|WSW|WNW|NNW)( (OF )?([A-Z0-9]{3,5}))?$`)

	// Ident with packed bearing/distance like "IND270020": optional OV
	// prefix, optional ident (the station stands in when absent),
	// optional three-digit bearing and distance. The short variant
	// accepts the common two-digit distance truncation.
	identBearingRE      = regexp.MustCompile(`^(?:(OV|OVER|OVR)?( |-))?([A-Z0-9]{3,5})? ?(([0-9]{3}) ?([0-9]{3}))*$`)
	identBearingShortRE = regexp.MustCompile(`^(?:(OV|OVER|OVR)?( |-))?([A-Z0-9]{3,5})? ?(([0-9]{3}) ?([0-9]{2}))*$`)
)

// compassBearing converts the direction words PIREP authors use to
// magnetic bearings.
var compassBearing = map[string]float64{
	"NORTH": 0, "SOUTH": 180, "EAST": 90, "WEST": 270,
	"N": 0, "S": 180, "E": 90, "W": 270,
	"NE": 45, "NW": 315, "SE": 135, "SW": 225,
	"NORTHEAST": 45, "NORTHWEST": 315, "SOUTHEAST": 135, "SOUTHWEST": 225,
	"NNE": 22.5, "ENE": 67.5, "ESE": 112.5, "SSE": 157.5,
	"SSW": 202.5, "WSW": 247.5, "WNW": 292.5, "NNW": 337.5,
}

// PirepPosition resolves the /OV field of a PIREP to a point or route
// geometry. The encoding forms are tried in descending frequency:
// dash-separated routes, ident with packed bearing/distance,
// spelled-out distance and direction, raw latitude/longitude, and the
// runway phrases that place the report at the reporting station. A
// nil collection with a nil error means the field defeated every
// form.
func (s *Store) PirepPosition(ov, station, uniqueName string) (*types.FeatureCollection, error) {
	if strings.Contains(ov, "-") {
		coords, err := s.routeCoords(ov, station)
		if err != nil {
			return nil, err
		}
		if coords != nil {
			return feature("LineString", coords, uniqueName), nil
		}
	}

	point, err := s.identBearingDistance(ov, station)
	if err != nil {
		return nil, err
	}
	if point == nil {
		if point, err = s.distanceDirection(ov, station); err != nil {
			return nil, err
		}
	}
	if point == nil {
		point = latLong(ov)
	}
	if point == nil {
		if point, err = s.stationHint(ov, station); err != nil {
			return nil, err
		}
	}
	if point == nil {
		return nil, nil
	}
	return feature("Point", point, uniqueName), nil
}

func feature(geomType string, coords any, id string) *types.FeatureCollection {
	fc := types.NewFeatureCollection()
	fc.Features = append(fc.Features, types.Feature{
		Type:       "Feature",
		Geometry:   types.GeoJSONGeom{Type: geomType, Coordinates: coords},
		Properties: map[string]any{"id": id},
	})
	return fc
}

// routeCoords resolves a dash-separated route like "HUF-IND-TYQ170020".
// Every waypoint must resolve or the route form is abandoned.
func (s *Store) routeCoords(ov, station string) ([][]float64, error) {
	parts := strings.Split(ov, "-")
	coords := make([][]float64, 0, len(parts))
	for _, part := range parts {
		c, err := s.identBearingDistance(part, station)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, nil
		}
		coords = append(coords, c)
	}
	return coords, nil
}

func (s *Store) identBearingDistance(ov, station string) ([]float64, error) {
	m := identBearingRE.FindStringSubmatch(ov)
	if m == nil {
		m = identBearingShortRE.FindStringSubmatch(ov)
	}
	if m == nil {
		return nil, nil
	}

	ident := m[3]
	if ident == "" {
		ident = station
	}
	bearing, nm := -1.0, 0.0
	if m[5] != "" {
		b, _ := strconv.Atoi(m[5])
		d, _ := strconv.Atoi(m[6])
		bearing, nm = float64(b), float64(d)
	}
	return s.resolve(ident, bearing, nm)
}

func (s *Store) distanceDirection(ov, station string) ([]float64, error) {
	m := distDirRE.FindStringSubmatch(ov)
	if m == nil {
		return nil, nil
	}

	nm, _ := strconv.ParseFloat(m[1], 64)
	if m[3] == "SM" {
		nm *= smToNM
	}
	ident := m[7]
	if ident == "" {
		ident = station
	}
	return s.resolve(ident, compassBearing[m[4]], nm)
}

func latLong(ov string) []float64 {
	m := latLongRE.FindStringSubmatch(ov)
	if m == nil {
		return nil
	}
	lat, _ := strconv.Atoi(m[1])
	lon, _ := strconv.Atoi(m[2])
	return []float64{round6(float64(lon) / -100.0), round6(float64(lat) / 100.0)}
}

// stationHint covers phrases that place the report at the reporting
// station itself.
func (s *Store) stationHint(ov, station string) ([]float64, error) {
	at := strings.HasPrefix(ov, "RUNWAY") ||
		strings.HasPrefix(ov, "RWY") ||
		strings.HasPrefix(ov, "FINAL") ||
		strings.HasPrefix(ov, "ON FINAL") ||
		strings.HasPrefix(ov, "SHORT FINAL") ||
		ov == "DURD" || ov == "DURC"
	if !at {
		return nil, nil
	}
	return s.resolve(station, -1, 0)
}

// resolve finds an ident's coordinates, projected along a magnetic
// bearing and distance when bearing is not -1. Bearings outside 0-360
// and distances at or past 400 NM reject the match, as does a
// projection from a fix with no known declination.
func (s *Store) resolve(ident string, magBearing, nm float64) ([]float64, error) {
	if !plausibleIdent(ident) {
		return nil, nil
	}
	if magBearing != -1 {
		if magBearing < 0 || magBearing > 360 {
			return nil, nil
		}
		if nm < 0 || nm >= maxProjectionNM {
			return nil, nil
		}
	}

	f, err := s.findFix(ident)
	if err != nil || f == nil {
		return nil, err
	}

	lon, lat := f.lon, f.lat
	if magBearing != -1 {
		if !f.declination.Valid {
			return nil, nil
		}
		dest := geo.NewPoint(lat, lon).PointAtDistanceAndBearing(
			nm*nmToKm, magneticToTrue(magBearing, f.declination.Float64))
		lon, lat = dest.Lng(), dest.Lat()
	}
	return []float64{round6(lon), round6(lat)}, nil
}

// plausibleIdent rejects the all-numeric strings the regexes let
// through; a real ident has at least one letter.
func plausibleIdent(ident string) bool {
	for _, c := range ident {
		if c >= 'A' && c <= 'Z' {
			return true
		}
	}
	return false
}

// magneticToTrue applies the declination at the origin fix, west
// negative.
func magneticToTrue(mag, declination float64) float64 {
	t := mag + declination
	switch {
	case t >= 360:
		t -= 360
	case t < 0:
		t += 360
	}
	return t
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// CirclePolygon approximates a circle of radiusNM around a center as
// a closed ring of geodesic points, clockwise from north. Coordinates
// are [lon, lat] rounded to six decimals.
func CirclePolygon(lon, lat, radiusNM float64, points int) [][]float64 {
	center := geo.NewPoint(lat, lon)
	km := radiusNM * nmToKm

	ring := make([][]float64, 0, points+1)
	for i := 0; i < points; i++ {
		bearing := 360.0 / float64(points) * float64(i)
		dest := center.PointAtDistanceAndBearing(km, bearing)
		ring = append(ring, []float64{round6(dest.Lng()), round6(dest.Lat())})
	}
	ring = append(ring, []float64{ring[0][0], ring[0][1]})
	return ring
}
