package level0

import "time"

// Frame type numbers used by the ground uplink framing layer. Types 1
// through 13 are reserved and only surface in detailed decodes.
const (
	FrameAPDU          = 0
	FrameCRL           = 14
	FrameServiceStatus = 15
)

// Product ids carried in APDU frames. Anything outside this set is a
// corrupted frame and fails the whole packet.
const (
	ProductNotam          = 8
	ProductAirmet         = 11
	ProductSigmet         = 12
	ProductSUA            = 13
	ProductGAirmet        = 14
	ProductCWA            = 15
	ProductNotamTRA       = 16
	ProductNotamTMOA      = 17
	ProductNexradRegional = 63
	ProductNexradConus    = 64
	ProductIcingLow       = 70
	ProductIcingHigh      = 71
	ProductCloudTops      = 84
	ProductTurbulenceLow  = 90
	ProductTurbulenceHigh = 91
	ProductLightning      = 103
	ProductGenericText    = 413
)

// TwgoTextFormat and TwgoGraphicFormat are the two record_format
// values actually transmitted; everything else is reserved.
const (
	TwgoTextFormat    = 2
	TwgoGraphicFormat = 8
)

// Packet is one decoded ground uplink message: the 8 byte station
// header plus every frame it carried.
type Packet struct {
	RcvdTime      time.Time     `json:"rcvd_time"`
	Station       string        `json:"station"`
	AppDataValid  int           `json:"app_data_valid"`
	PositionValid int           `json:"position_valid"`
	Detail        *PacketDetail `json:"detail,omitempty"`
	Frames        []Frame       `json:"frames"`

	// SiteTier is the raw TIS-B site id nibble, kept in memory for
	// reception rate accounting. Detailed decodes also expose it in
	// Detail as a hex digit.
	SiteTier int `json:"-"`
}

// PacketDetail holds header fields only produced by detailed decodes.
type PacketDetail struct {
	Latitude             float64 `json:"latitude"`
	Longitude            float64 `json:"longitude"`
	UTCCoupled           int     `json:"utc_coupled"`
	TransmissionTimeSlot int     `json:"transmission_time_slot"`
	MSO                  int     `json:"mso"`
	MSOUTCMillis         float64 `json:"mso_utc_ms"`
	DataChannel          int     `json:"data_channel,omitempty"`
	TISBSiteID           string  `json:"tisb_site_id"`
	TISBSiteIDType       string  `json:"tisb_site_id_type"`
	Reserved72           int     `json:"reserved_7_2"`
	Reserved858          int     `json:"reserved_8_58"`
}

// Frame is a tagged variant: FrameType selects which payload pointer
// is set. Reserved frame types carry their raw bytes as hex.
type Frame struct {
	FrameType int `json:"frame_type"`

	APDU          *APDU          `json:"apdu,omitempty"`
	CRL           *CRL           `json:"crl,omitempty"`
	ServiceStatus *ServiceStatus `json:"service_status,omitempty"`
	ReservedHex   string         `json:"reserved_hex,omitempty"`

	// Reserved bits 2-4 of the frame header, detailed decodes only.
	FrameHeader224 int `json:"frameheader_2_24,omitempty"`
}

// APDU is one application protocol data unit. Month and Day are only
// transmitted when TimeOpt is 2. Segmented APDUs carry their payload
// undecoded in SegmentHex; otherwise exactly one of Text, Twgo or
// Block is set according to the product id.
type APDU struct {
	ProductID int `json:"product_id"`
	TimeOpt   int `json:"t_opt"`
	Month     int `json:"month,omitempty"`
	Day       int `json:"day,omitempty"`
	Hour      int `json:"hour"`
	Minute    int `json:"minute"`
	SFlag     int `json:"s_flag"`

	ProductFileID     int    `json:"product_file_id,omitempty"`
	ProductFileLength int    `json:"product_file_length,omitempty"`
	APDUNumber        int    `json:"apdu_number,omitempty"`
	SegmentHex        string `json:"segment_hex,omitempty"`

	Text  string        `json:"text,omitempty"`
	Twgo  *TwgoPayload  `json:"twgo,omitempty"`
	Block *BlockPayload `json:"block,omitempty"`

	// Filled by the reassembly stage once a text record has been
	// matched with its graphic overlay; Twgo is cleared at the same
	// time. The wire decoder never sets these.
	TwgoText     *TwgoPayload `json:"twgo_text,omitempty"`
	TwgoGraphics *TwgoPayload `json:"twgo_graphics,omitempty"`

	// Detailed decode only. The A, G and P flags were collapsed to
	// reserved bits in later standards but still get reported.
	AGPFlag int `json:"agp_flag,omitempty"`
}

// TwgoPayload is the decoded payload of a text-with-graphic-overlay
// product. RecordFormat selects which record slice is populated.
type TwgoPayload struct {
	RecordFormat         int    `json:"record_format"`
	Location             string `json:"location"`
	RecordCount          int    `json:"record_count"`
	RecordReferencePoint int    `json:"record_reference_point"`

	TextRecords    []TwgoText    `json:"text_records,omitempty"`
	GraphicRecords []TwgoGraphic `json:"graphic_records,omitempty"`

	// Detailed decode only.
	ProductVersion int `json:"product_version,omitempty"`
}

// TwgoText is one text record. Text is left empty for cancelled
// reports (ReportStatus 0).
type TwgoText struct {
	RecordLength int    `json:"record_length"`
	ReportNumber int    `json:"report_number"`
	ReportYear   int    `json:"report_year"`
	ReportStatus int    `json:"report_status"`
	Text         string `json:"text,omitempty"`
}

// TwgoGraphic is one graphic overlay record.
type TwgoGraphic struct {
	RecordLength    int    `json:"record_length"`
	ReportNumber    int    `json:"report_number"`
	ReportYear      int    `json:"report_year"`
	StartYearOffset int    `json:"start_year_offset"`
	EndYearOffset   int    `json:"end_year_offset"`
	OverlayRecordID int    `json:"overlay_record_id"`
	LabelFlag       int    `json:"label_flag"`
	ObjectLabel     string `json:"object_label,omitempty"`
	ElementFlag     int    `json:"element_flag"`
	QualFlag        int    `json:"qual_flag"`
	ParamFlag       int    `json:"param_flag"`
	ObjectElement   int    `json:"object_element"`
	ObjectType      int    `json:"object_type"`
	ObjectStatus    int    `json:"object_status"`

	// Qualifier bitmap bytes, only sent on G-AIRMETs with QualFlag set.
	ObjectQualifiers []byte `json:"object_qualifiers,omitempty"`

	ApplicabilityOptions int `json:"applicability_options"`
	DateTimeFormat       int `json:"date_time_format"`
	GeometryOptions      int `json:"geometry_options"`
	OverlayOperator      int `json:"overlay_operator"`
	VertexCount          int `json:"vertex_count,omitempty"`

	Start *ClockTime `json:"start,omitempty"`
	Stop  *ClockTime `json:"stop,omitempty"`

	Vertices []Vertex `json:"vertices,omitempty"`
}

// ClockTime is a partial wall-clock time as transmitted. Which fields
// are meaningful depends on the record's date_time_format.
type ClockTime struct {
	Month  int `json:"month,omitempty"`
	Day    int `json:"day,omitempty"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Vertex is one element of an overlay geometry. Point, polygon and
// polyline geometries fill Lon, Lat and AltFt. Circular prisms use
// Lon/Lat as the bottom corner and add the top corner, the vertical
// extent in feet, the two radii in nautical miles and the rotation.
type Vertex struct {
	Lon   float64 `json:"lon"`
	Lat   float64 `json:"lat"`
	AltFt int     `json:"alt_ft,omitempty"`

	LonTop   float64 `json:"lon_top,omitempty"`
	LatTop   float64 `json:"lat_top,omitempty"`
	ZBottom  int     `json:"z_bottom_ft,omitempty"`
	ZTop     int     `json:"z_top_ft,omitempty"`
	RMajorNM float64 `json:"r_major_nm,omitempty"`
	RMinorNM float64 `json:"r_minor_nm,omitempty"`
	Alpha    int     `json:"alpha,omitempty"`
}

// BlockPayload is one global block tile: either a run-length bin row
// (ElementID 1) or an empty-block bitmap (ElementID 0). Bins holds one
// byte per bin, 128 per block; EmptyBlocks is a string of '1' and '0'
// flags for the blocks following BlockNumber.
type BlockPayload struct {
	BlockNumber   int    `json:"block_number"`
	ElementID     int    `json:"element_id"`
	ScaleFactor   int    `json:"scale_factor"`
	Hemisphere    int    `json:"hemisphere"`
	AltitudeLevel int    `json:"altitude_level,omitempty"`
	EmptyBlocks   string `json:"empty_blocks,omitempty"`
	Bins          []byte `json:"bins,omitempty"`
}

// CRL is a current report list frame for one product.
type CRL struct {
	ProductID       int        `json:"product_id"`
	ProductRangeNM  int        `json:"product_range_nm"`
	TFRNotam        int        `json:"tfr_notam"`
	OFlag           int        `json:"o_flag"`
	LFlag           int        `json:"l_flag"`
	Location        string     `json:"location,omitempty"`
	NumberOfReports int        `json:"number_of_reports"`
	Reports         []CRLEntry `json:"reports"`
}

// CRLEntry names one report the station currently considers active.
// For TMOA and TRA products the year field carries a month instead.
type CRLEntry struct {
	ReportYearOrMonth int `json:"report_year_or_month"`
	ReportNumber      int `json:"report_number"`
	TextFlag          int `json:"text_flag"`
	GraphicsFlag      int `json:"graphics_flag"`
}

// ServiceStatus lists the traffic targets the station is uplinking
// TIS-B or ADS-R data for.
type ServiceStatus struct {
	Targets []Target `json:"targets"`
}

// Target is one tracked aircraft. Services is a compact set of flags:
// "T" TIS-B, "R" ADS-R, "S" same-link rebroadcast, "X" none,
// "?" reserved. Address is the 24-bit ICAO address as six hex digits.
type Target struct {
	Services    string `json:"services"`
	AddressType int    `json:"address_type"`
	Address     string `json:"address"`
}
