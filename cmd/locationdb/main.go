// Command locationdb builds the SQLite side database the curator uses
// for location enrichment. Fix tables come from the FAA ADDS CSV
// exports, weather stations from the NWS station index plus the winds
// station list, and special-use airspace outlines from the FAA SUA
// GeoJSON export.
package main

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/location"
	"github.com/stationwx/fisb978/internal/types"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:          "locationdb",
		Short:        "Build the location side database",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "side database path (overrides LOCATION_DB)")

	open := func() (*location.Store, error) {
		path := dbPath
		if path == "" {
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			path = cfg.LocationDB
		}
		s, err := location.Open(path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}

	fixesCmd := &cobra.Command{
		Use:   "fixes <dir>",
		Short: "Load airports, navaids and designated points from the FAA ADDS CSV exports",
		Long: "fixes reads Airports.csv, NAVAID_System.csv and\n" +
			"Designated_Points.csv from the given directory (from\n" +
			"https://adds-faa.opendata.arcgis.com/) into the side database.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			return loadFixes(s, args[0])
		},
	}

	wxCmd := &cobra.Command{
		Use:   "wx <index.xml> <winds.txt>",
		Short: "Load weather reporting stations from the NWS station index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			return loadWx(s, args[0], args[1])
		},
	}

	suaCmd := &cobra.Command{
		Use:   "sua <airspace.geojson>",
		Short: "Load special-use airspace outlines from the FAA GeoJSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			return loadSUA(s, args[0])
		},
	}

	root.AddCommand(fixesCmd, wxCmd, suaCmd)
	return root
}

// loadFixes fills the three fix tables from the ADDS exports.
func loadFixes(s *location.Store, dir string) error {
	log := logrus.WithField("stage", "locationdb")

	n, err := loadAirports(s, filepath.Join(dir, "Airports.csv"))
	if err != nil {
		return err
	}
	log.WithField("rows", n).Info("Airports loaded")

	n, err = loadNavaids(s, filepath.Join(dir, "NAVAID_System.csv"))
	if err != nil {
		return err
	}
	log.WithField("rows", n).Info("Navaids loaded")

	n, err = loadDesignatedPoints(s, filepath.Join(dir, "Designated_Points.csv"))
	if err != nil {
		return err
	}
	log.WithField("rows", n).Info("Designated points loaded")
	return nil
}

// loadAirports reads Airports.csv: X, Y, ..., IDENT (col 4), ...,
// ICAO_ID (col 9). Airports with a four character ICAO ident get a
// second row under that name; METARs use either form.
func loadAirports(s *location.Store, path string) (int, error) {
	return eachCSVRow(path, 10, func(row []string) error {
		lon, lat, err := rowCoords(row[0], row[1])
		if err != nil {
			return err
		}
		ident := strings.TrimSpace(row[4])
		if ident == "" {
			return nil
		}
		if err := s.PutAirport(ident, lon, lat, nil); err != nil {
			return err
		}
		if iso := strings.TrimSpace(row[9]); iso != "" {
			return s.PutAirport(iso, lon, lat, nil)
		}
		return nil
	})
}

// loadNavaids reads NAVAID_System.csv: X, Y, ..., IDENT (col 13).
func loadNavaids(s *location.Store, path string) (int, error) {
	return eachCSVRow(path, 14, func(row []string) error {
		lon, lat, err := rowCoords(row[0], row[1])
		if err != nil {
			return err
		}
		ident := strings.TrimSpace(row[13])
		if ident == "" {
			return nil
		}
		return s.PutNavaid(ident, lon, lat, nil)
	})
}

// loadDesignatedPoints reads Designated_Points.csv: X, Y, ...,
// IDENT (col 10), LATITUDE (col 11), LONGITUDE (col 12),
// ..., MAG_VAR (col 14). Some rows leave the decimal X/Y columns
// empty and only carry DMS coordinates; those are converted. The
// magnetic variation, when present, is the declination PIREP bearing
// resolution needs.
func loadDesignatedPoints(s *location.Store, path string) (int, error) {
	return eachCSVRow(path, 15, func(row []string) error {
		var lon, lat float64
		var err error

		if strings.TrimSpace(row[0]) == "" {
			lon, err = dmsToDecimal(strings.TrimSpace(row[12]))
		} else {
			lon, err = strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(row[1]) == "" {
			lat, err = dmsToDecimal(strings.TrimSpace(row[11]))
		} else {
			lat, err = strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		}
		if err != nil {
			return err
		}

		ident := strings.TrimSpace(row[10])
		if ident == "" {
			return nil
		}

		var decl *float64
		if v := strings.TrimSpace(row[14]); v != "" {
			d, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			d = round6(d)
			decl = &d
		}
		return s.PutDesignatedPoint(ident, round6(lon), round6(lat), decl)
	})
}

// eachCSVRow streams the data rows of a headered CSV file through fn,
// skipping rows shorter than minCols.
func eachCSVRow(path string, minCols int, fn func(row []string) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		return 0, fmt.Errorf("%s: read header: %w", path, err)
	}

	n := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("%s: %w", path, err)
		}
		if len(row) < minCols {
			continue
		}
		if err := fn(row); err != nil {
			return n, fmt.Errorf("%s row %d: %w", path, n+1, err)
		}
		n++
	}
}

func rowCoords(xCol, yCol string) (lon, lat float64, err error) {
	lon, err = strconv.ParseFloat(strings.TrimSpace(xCol), 64)
	if err != nil {
		return 0, 0, err
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(yCol), 64)
	if err != nil {
		return 0, 0, err
	}
	return round6(lon), round6(lat), nil
}

// dmsToDecimal converts a "31-53-41.240N" style coordinate to decimal
// degrees. South and west are negative.
func dmsToDecimal(v string) (float64, error) {
	parts := strings.Split(v, "-")
	if len(parts) != 3 || len(parts[2]) < 2 {
		return 0, fmt.Errorf("bad DMS coordinate %q", v)
	}
	deg, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	hemi := parts[2][len(parts[2])-1]
	sec, err := strconv.ParseFloat(parts[2][:len(parts[2])-1], 64)
	if err != nil {
		return 0, err
	}

	dec := deg + min/60 + sec/3600
	if hemi == 'S' || hemi == 'W' {
		dec = -dec
	}
	return dec, nil
}

// nwsIndex mirrors the station elements of the NWS index.xml.
type nwsIndex struct {
	Stations []struct {
		ID  string  `xml:"station_id"`
		Lat float64 `xml:"latitude"`
		Lon float64 `xml:"longitude"`
	} `xml:"station"`
}

// loadWx fills the wx table. Wind stations usually pair with a METAR
// station one "K" prefix away; when they do, the METAR location wins
// because the wind list's coordinates are coarser.
func loadWx(s *location.Store, indexPath, windsPath string) error {
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return err
	}
	var idx nwsIndex
	if err := xml.Unmarshal(raw, &idx); err != nil {
		return fmt.Errorf("%s: %w", indexPath, err)
	}

	stations := map[string][2]float64{}
	for _, st := range idx.Stations {
		if st.ID == "" {
			continue
		}
		stations[st.ID] = [2]float64{round6(st.Lon), round6(st.Lat)}
	}

	winds, err := readWinds(windsPath)
	if err != nil {
		return err
	}
	for id, pos := range winds {
		if metar, ok := stations["K"+id]; ok {
			pos = metar
		}
		stations[id] = pos
	}

	for id, pos := range stations {
		if err := s.PutWx(id, pos[0], pos[1]); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{
		"stage": "locationdb",
		"rows":  len(stations),
	}).Info("Weather stations loaded")
	return nil
}

// readWinds parses the winds.txt station list: "ID,lat,lon" lines
// with # comments.
func readWinds(path string) (map[string][2]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	out := map[string][2]float64{}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			return nil, fmt.Errorf("%s: bad winds line %q", path, line)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, err
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(parts[0])] = [2]float64{round6(lon), round6(lat)}
	}
	return out, nil
}

// suaExport mirrors the FAA SUA GeoJSON: polygon features named by
// the NAME property. Coordinates may carry an elevation that the
// side database does not keep.
type suaExport struct {
	Features []struct {
		Properties map[string]any `json:"properties"`
		Geometry   struct {
			Type        string        `json:"type"`
			Coordinates [][][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// loadSUA fills the sua table. A few airspaces (R-7201A, the Powder
// River MOAs) ship as several features under one name; their features
// merge into one stored collection.
func loadSUA(s *location.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var export suaExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	merged := map[string]*types.FeatureCollection{}
	var order []string
	for _, f := range export.Features {
		name, _ := f.Properties["NAME"].(string)
		if name == "" {
			continue
		}
		key := location.NormalizeSUAName(name)

		rings := make([][][]float64, 0, len(f.Geometry.Coordinates))
		for _, ring := range f.Geometry.Coordinates {
			clean := make([][]float64, 0, len(ring))
			for _, pt := range ring {
				if len(pt) < 2 {
					continue
				}
				clean = append(clean, []float64{round6(pt[0]), round6(pt[1])})
			}
			rings = append(rings, clean)
		}

		feature := types.Feature{
			Type:       "Feature",
			Geometry:   types.GeoJSONGeom{Type: f.Geometry.Type, Coordinates: rings},
			Properties: f.Properties,
		}

		fc, ok := merged[key]
		if !ok {
			fc = types.NewFeatureCollection()
			merged[key] = fc
			order = append(order, key)
		}
		fc.Features = append(fc.Features, feature)
	}

	for _, key := range order {
		doc, err := json.Marshal(merged[key])
		if err != nil {
			return err
		}
		if err := s.PutSUA(key, doc); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{
		"stage": "locationdb",
		"rows":  len(order),
	}).Info("SUA outlines loaded")
	return nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
