package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Product type names as they appear in the store and on the wire
// between stages.
const (
	METAR            = "METAR"
	TAF              = "TAF"
	Winds06Hr        = "WINDS_06_HR"
	Winds12Hr        = "WINDS_12_HR"
	Winds24Hr        = "WINDS_24_HR"
	PIREP            = "PIREP"
	AIRMET           = "AIRMET"
	SIGMET           = "SIGMET"
	WST              = "WST"
	CWA              = "CWA"
	SIGWX            = "SIGWX"
	GAirmet00Hr      = "G_AIRMET_00_HR"
	GAirmet03Hr      = "G_AIRMET_03_HR"
	GAirmet06Hr      = "G_AIRMET_06_HR"
	NotamD           = "NOTAM_D"
	NotamFDC         = "NOTAM_FDC"
	NotamTMOA        = "NOTAM_TMOA"
	NotamTRA         = "NOTAM_TRA"
	NotamTFR         = "NOTAM_TFR"
	SUA              = "SUA"
	FisBUnavailable  = "FIS_B_UNAVAILABLE"
	ServiceStatus    = "SERVICE_STATUS"
	RSR              = "RSR"
	CancelNotam      = "CANCEL_NOTAM"
	CancelCWA        = "CANCEL_CWA"
	CancelAirmet     = "CANCEL_AIRMET"
	CancelSigmet     = "CANCEL_SIGMET"
	CancelGAirmet    = "CANCEL_G_AIRMET"
	NexradRegional   = "NEXRAD_REGIONAL"
	NexradConus      = "NEXRAD_CONUS"
	CloudTops        = "CLOUD_TOPS"
	Lightning        = "LIGHTNING"
	TurbulencePrefix = "TURBULENCE_"
	IcingPrefix      = "ICING_"
	CRL              = "CRL"
	CRLPrefix        = "CRL_"
	Image            = "IMAGE"
)

// Geometry kinds carried by TWGO overlay records.
const (
	GeoPoint    = "POINT"
	GeoPolygon  = "POLYGON"
	GeoPolyline = "POLYLINE"
	GeoCircle   = "CIRCLE"
)

// AltitudeBand is the vertical extent of one geometry element.
// References are "MSL" or "AGL"; a zero value with an empty reference
// means the bound was not transmitted.
type AltitudeBand struct {
	Top       int    `json:"top"`
	TopRef    string `json:"top_ref,omitempty"`
	Bottom    int    `json:"bottom"`
	BottomRef string `json:"bottom_ref,omitempty"`
}

// Geometry is one overlay element of a TWGO product. Coordinates are
// [lon, lat] pairs; a CIRCLE uses the first coordinate as its center.
type Geometry struct {
	Kind        string       `json:"kind"`
	Coordinates [][]float64  `json:"coordinates,omitempty"`
	RadiusNM    float64      `json:"radius_nm,omitempty"`
	Altitudes   AltitudeBand `json:"altitudes"`
	Element     string       `json:"element,omitempty"`
	AirportID   string       `json:"airport_id,omitempty"`
	Conditions  []string     `json:"conditions,omitempty"`
	StartTime   *time.Time   `json:"start_time,omitempty"`
	StopTime    *time.Time   `json:"stop_time,omitempty"`
	StartHour   string       `json:"start_hour,omitempty"`
	StopHour    string       `json:"stop_hour,omitempty"`
	Cancelled   bool         `json:"cancelled,omitempty"`
}

// SUADetail carries the pipe-delimited fields of a Special Use
// Airspace report.
type SUADetail struct {
	ScheduleID     string     `json:"schedule_id"`
	AirspaceID     string     `json:"airspace_id"`
	Status         string     `json:"status"`
	AirspaceType   string     `json:"airspace_type"`
	AirspaceName   string     `json:"airspace_name"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	LowAltitude    int        `json:"low_altitude"`
	HighAltitude   int        `json:"high_altitude"`
	SeparationRule string     `json:"separation_rule"`
	ShapeIndicator string     `json:"shape_indicator"`
	NFDCID         string     `json:"nfdc_id,omitempty"`
	NFDCName       string     `json:"nfdc_name,omitempty"`
	DAFIFID        string     `json:"dafif_id,omitempty"`
	DAFIFName      string     `json:"dafif_name,omitempty"`
}

// RSREntry is the reception report for one ground station.
type RSREntry struct {
	Received int `json:"received"`
	Expected int `json:"expected"`
	Percent  int `json:"percent"`
}

// Product is the unit of work from L2 onward: one typed report with
// fully reconstructed times. Only the fields relevant to the product's
// type are populated.
type Product struct {
	Type       string `json:"type"`
	UniqueName string `json:"unique_name"`
	Subtype    string `json:"subtype,omitempty"`
	Station    string `json:"station,omitempty"`
	Location   string `json:"location,omitempty"`

	RcvdTime       time.Time `json:"rcvd_time"`
	ExpirationTime time.Time `json:"expiration_time"`

	Contents string     `json:"contents,omitempty"`
	Geometry []Geometry `json:"geometry,omitempty"`

	ObservationTime      *time.Time `json:"observation_time,omitempty"`
	IssuedTime           *time.Time `json:"issued_time,omitempty"`
	ReportTime           *time.Time `json:"report_time,omitempty"`
	ValidPeriodBeginTime *time.Time `json:"valid_period_begin_time,omitempty"`
	ValidPeriodEndTime   *time.Time `json:"valid_period_end_time,omitempty"`
	ModelRunTime         *time.Time `json:"model_run_time,omitempty"`
	ForUseFromTime       *time.Time `json:"for_use_from_time,omitempty"`
	ForUseToTime         *time.Time `json:"for_use_to_time,omitempty"`
	StartOfActivityTime  *time.Time `json:"start_of_activity_time,omitempty"`
	EndOfValidityTime    *time.Time `json:"end_of_validity_time,omitempty"`

	// PIREP decoded /XX fields, keyed by the two-letter tag.
	Fields map[string]string `json:"fields,omitempty"`

	ReportType  string `json:"report_type,omitempty"`
	ReportYear  int    `json:"report_year,omitempty"`
	Number      string `json:"number,omitempty"`
	Accountable string `json:"accountable,omitempty"`
	Affected    string `json:"affected,omitempty"`
	Keyword     string `json:"keyword,omitempty"`

	SUA *SUADetail `json:"sua,omitempty"`

	// FIS-B unavailable.
	Product string   `json:"product,omitempty"`
	Centers []string `json:"centers,omitempty"`

	// Service status.
	Traffic []string `json:"traffic,omitempty"`

	// RSR.
	Stations map[string]RSREntry `json:"stations,omitempty"`

	// CRL.
	ProductID   int      `json:"product_id,omitempty"`
	RangeNM     int      `json:"range_nm,omitempty"`
	HasOverflow bool     `json:"has_overflow,omitempty"`
	Reports     []string `json:"reports,omitempty"`

	// Global-block image tile.
	BlockNumber int        `json:"block_number,omitempty"`
	ScaleFactor int        `json:"scale_factor,omitempty"`
	Bins        []byte     `json:"bins,omitempty"`
	ValidTime   *time.Time `json:"valid_time,omitempty"`

	// Set by the curator when a cancellation replaces a stored report.
	Cancel string `json:"cancel,omitempty"`

	// GeoJSON attached by the curator (location enrichment or
	// geometry conversion).
	GeoJSON *FeatureCollection `json:"geojson,omitempty"`

	// Skip content-digest dedup for products that are never
	// retransmitted verbatim (CRLs, service status, empty tiles).
	NoDedup bool `json:"no_dedup,omitempty"`
}

// Key is the store identity: type plus unique name.
func (p *Product) Key() string {
	return p.Type + "-" + p.UniqueName
}

// ToJSON encodes the product as a single JSON document.
func (p *Product) ToJSON() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal product: %w", err)
	}
	return b, nil
}

// FromJSON decodes a product from a JSON document.
func FromJSON(b []byte) (*Product, error) {
	var p Product
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product: %w", err)
	}
	return &p, nil
}

// FeatureCollection is the GeoJSON document attached to stored
// products.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   GeoJSONGeom    `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// GeoJSONGeom is the geometry member of a feature. Coordinates nest
// per the GeoJSON type: Point []float64, LineString [][]float64,
// Polygon [][][]float64.
type GeoJSONGeom struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// NewFeatureCollection returns an empty collection ready for appends.
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
}
