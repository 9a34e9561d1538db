package level0

import (
	"encoding/hex"
	"fmt"

	"github.com/stationwx/fisb978/internal/dlac"
)

// apduHeader is the normalized 65 bit APDU header. Optional sections
// read as zero when absent.
type apduHeader struct {
	productID         int
	sFlag             int
	timeOpt           int
	month             int
	day               int
	hour              int
	minute            int
	productFileID     int
	productFileLength int
	apduNumber        int
	payloadStart      int
}

// decodeAPDUHeader reads the header bit fields in transmission order.
// Month and day only occupy bits when the time option says so, and the
// segmentation block only when the segmentation flag is set, so the
// offsets of later fields move around.
func decodeAPDUHeader(r *reader) apduHeader {
	var h apduHeader

	h.productID = r.bits(3, 11)
	h.sFlag = r.bits(14, 1)
	h.timeOpt = r.bits(15, 2)

	cursor := 17
	if h.timeOpt >= 1 {
		h.month = r.bits(cursor, 4)
		h.day = r.bits(cursor+4, 5)
		cursor += 9
	}

	h.hour = r.bits(cursor, 5)
	h.minute = r.bits(cursor+5, 6)
	cursor += 11

	if h.sFlag == 1 {
		h.productFileID = r.bits(cursor, 10)
		h.productFileLength = r.bits(cursor+10, 9)
		h.apduNumber = r.bits(cursor+19, 9)
		cursor += 28
	}

	h.payloadStart = (cursor-1)/8 + 1
	return h
}

func validProductID(id int) bool {
	switch id {
	case ProductNotam, ProductAirmet, ProductSigmet, ProductSUA,
		ProductGAirmet, ProductCWA, ProductNotamTRA, ProductNotamTMOA,
		ProductNexradRegional, ProductNexradConus,
		ProductIcingLow, ProductIcingHigh, ProductCloudTops,
		ProductTurbulenceLow, ProductTurbulenceHigh,
		ProductLightning, ProductGenericText:
		return true
	}
	return false
}

// decodeAPDU decodes one APDU frame body. Segmented payloads are kept
// as hex for later reassembly; everything else is decoded according to
// its product id.
func (p *Parser) decodeAPDU(body []byte) (*APDU, error) {
	r := newReader(body)
	h := decodeAPDUHeader(r)
	if r.err != nil {
		return nil, r.err
	}

	if !validProductID(h.productID) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProduct, h.productID)
	}

	a := &APDU{
		ProductID: h.productID,
		TimeOpt:   h.timeOpt,
		Hour:      h.hour,
		Minute:    h.minute,
		SFlag:     h.sFlag,
	}
	if h.timeOpt == 2 {
		a.Month = h.month
		a.Day = h.day
	}
	if p.detailed {
		a.AGPFlag = int(r.at(0)&0xE0) >> 5
	}

	payload := r.slice(h.payloadStart, r.len()-h.payloadStart)
	if r.err != nil {
		return nil, r.err
	}

	// Segments keep the same TWGO payload header on every part, so
	// the reassembled product can be decoded with the first part's
	// APDU times. Store the raw bytes and move on.
	if h.sFlag == 1 {
		a.ProductFileID = h.productFileID
		a.ProductFileLength = h.productFileLength
		a.APDUNumber = h.apduNumber
		a.SegmentHex = hex.EncodeToString(payload)
		return a, nil
	}

	if err := p.DecodeProductPayload(a, payload); err != nil {
		return nil, err
	}

	return a, nil
}

// DecodeProductPayload decodes payload into a according to a's product
// id. The reassembly stage calls this directly once every segment of a
// product file has arrived.
func (p *Parser) DecodeProductPayload(a *APDU, payload []byte) error {
	var err error
	switch a.ProductID {
	case ProductGenericText:
		a.Text = p.decodeText(payload)
	case ProductNotam, ProductAirmet, ProductSigmet, ProductSUA,
		ProductGAirmet, ProductCWA, ProductNotamTRA, ProductNotamTMOA:
		a.Twgo, err = p.decodeTwgo(payload, a.ProductID)
	default:
		a.Block, err = decodeBlock(payload, a.ProductID)
	}
	return err
}

// decodeTwgo decodes a text-with-graphic-overlay payload. The payload
// header is six bytes; records follow back to back.
func (p *Parser) decodeTwgo(body []byte, productID int) (*TwgoPayload, error) {
	r := newReader(body)

	tw := &TwgoPayload{
		RecordFormat:         int(r.at(0)&0xF0) >> 4,
		RecordCount:          int(r.at(1)&0xF0) >> 4,
		RecordReferencePoint: int(r.at(5)),
	}
	tw.Location = dlac.Decode(r.slice(2, 3), p.fourBit)
	if p.detailed {
		tw.ProductVersion = int(r.at(0) & 0x0F)
	}
	if r.err != nil {
		return nil, r.err
	}

	records := r.slice(6, r.len()-6)
	if r.err != nil {
		return nil, r.err
	}

	var err error
	switch tw.RecordFormat {
	case TwgoTextFormat:
		tw.TextRecords, err = p.decodeTextRecords(records, tw.RecordCount)
	case TwgoGraphicFormat:
		tw.GraphicRecords, err = p.decodeGraphicRecords(records, tw.RecordCount, productID)
	}
	if err != nil {
		return nil, err
	}

	return tw, nil
}

func (p *Parser) decodeTextRecords(body []byte, count int) ([]TwgoText, error) {
	r := newReader(body)
	recs := make([]TwgoText, 0, count)
	ros := 0

	for i := 0; i < count && r.err == nil; i++ {
		// Record length includes the five header bytes.
		length := int(r.at(ros))<<8 | int(r.at(ros+1))

		rec := TwgoText{
			RecordLength: length,
			ReportNumber: int(r.at(ros+2))<<6 | int(r.at(ros+3))>>2,
			ReportYear:   int(r.at(ros+3)&0x03)<<5 | int(r.at(ros+4)&0xF8)>>3,
			ReportStatus: int(r.at(ros+4)&0x04) >> 2,
		}
		if rec.ReportStatus == 1 {
			rec.Text = dlac.Decode(r.slice(ros+5, length-5), p.fourBit)
		}

		recs = append(recs, rec)
		ros += length
	}

	if r.err != nil {
		return nil, r.err
	}
	return recs, nil
}

func (p *Parser) decodeGraphicRecords(body []byte, count, productID int) ([]TwgoGraphic, error) {
	r := newReader(body)
	recs := make([]TwgoGraphic, 0, count)
	start := 0

	for i := 0; i < count && r.err == nil; i++ {
		rec, err := p.decodeGraphicRecord(r, start, productID)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
		start += rec.RecordLength
	}

	if r.err != nil {
		return nil, r.err
	}
	return recs, nil
}

func (p *Parser) decodeGraphicRecord(r *reader, start, productID int) (TwgoGraphic, error) {
	rec := TwgoGraphic{
		RecordLength:    int(r.at(start))<<2 | int(r.at(start+1)&0xC0)>>6,
		ReportNumber:    int(r.at(start+1)&0x3F)<<8 | int(r.at(start+2)),
		ReportYear:      int(r.at(start+3)) >> 1,
		StartYearOffset: int(r.at(start+3)&0x01)<<1 | int(r.at(start+4)&0x80)>>7,
		EndYearOffset:   int(r.at(start+4)&0x60) >> 5,
		OverlayRecordID: int(r.at(start+4)&0x1E)>>1 + 1,
		LabelFlag:       int(r.at(start+4) & 0x01),
	}

	// Past the fixed five bytes the layout depends on the flags.
	ros := start + 5

	if rec.LabelFlag == 0 {
		ros += 2
	} else {
		rec.ObjectLabel = dlac.Decode(r.slice(ros, 9), p.fourBit)
		ros += 9
	}

	rec.ElementFlag = int(r.at(ros)&0x80) >> 7
	rec.QualFlag = int(r.at(ros)&0x40) >> 6
	rec.ParamFlag = int(r.at(ros)&0x20) >> 5
	rec.ObjectElement = int(r.at(ros) & 0x1F)
	ros++

	rec.ObjectType = int(r.at(ros)&0xF0) >> 4
	rec.ObjectStatus = int(r.at(ros) & 0x0F)
	ros++

	// Qualifier bytes only appear on G-AIRMETs.
	if productID == ProductGAirmet && rec.QualFlag == 1 {
		q := r.slice(ros, 3)
		if q != nil {
			rec.ObjectQualifiers = append([]byte(nil), q...)
		}
		ros += 3
	}

	// A set param flag means the record is to be ignored downstream,
	// but its two bytes still have to be stepped over.
	if rec.ParamFlag == 1 {
		ros += 2
	}

	rec.ApplicabilityOptions = int(r.at(ros)&0xC0) >> 6
	rec.DateTimeFormat = int(r.at(ros)&0x30) >> 4
	rec.GeometryOptions = int(r.at(ros) & 0x0F)
	ros++

	rec.OverlayOperator = int(r.at(ros)&0xC0) >> 6
	if rec.OverlayOperator == 2 || rec.OverlayOperator == 3 {
		return rec, fmt.Errorf("%w: %d", ErrOverlayOperator, rec.OverlayOperator)
	}

	if rec.GeometryOptions != 0 {
		rec.VertexCount = int(r.at(ros)&0x3F) + 1
	}
	ros++

	if rec.ApplicabilityOptions == 1 || rec.ApplicabilityOptions == 3 {
		var ct *ClockTime
		ct, ros = readClockTime(r, ros, rec.DateTimeFormat)
		rec.Start = ct
	}
	if rec.ApplicabilityOptions == 2 || rec.ApplicabilityOptions == 3 {
		var ct *ClockTime
		ct, ros = readClockTime(r, ros, rec.DateTimeFormat)
		rec.Stop = ct
	}

	for v := 0; v < rec.VertexCount; v++ {
		if r.err != nil {
			break
		}
		switch rec.GeometryOptions {
		case 7, 8:
			rec.Vertices = append(rec.Vertices, readPrismVertex(r, ros))
			ros += 14
		case 3, 4, 9, 10, 11, 12:
			rec.Vertices = append(rec.Vertices, readPointVertex(r, ros))
			ros += 6
		default:
			return rec, fmt.Errorf("%w: %d", ErrVertexGeometry, rec.GeometryOptions)
		}
	}

	return rec, nil
}

// readClockTime reads one applicability time in the given format and
// returns the advanced offset. Format 0 transmits no time at all.
func readClockTime(r *reader, ros, format int) (*ClockTime, int) {
	switch format {
	case 1:
		ct := &ClockTime{
			Month:  int(r.at(ros)),
			Day:    int(r.at(ros + 1)),
			Hour:   int(r.at(ros + 2)),
			Minute: int(r.at(ros + 3)),
		}
		return ct, ros + 4
	case 2:
		ct := &ClockTime{
			Day:    int(r.at(ros)),
			Hour:   int(r.at(ros + 1)),
			Minute: int(r.at(ros + 2)),
		}
		return ct, ros + 3
	case 3:
		ct := &ClockTime{
			Hour:   int(r.at(ros)),
			Minute: int(r.at(ros + 1)),
		}
		return ct, ros + 2
	}
	return nil, ros
}

// readPointVertex decodes the six byte form used by points, polygons
// and polylines: 19 bit coordinates plus an altitude in hundreds of
// feet.
func readPointVertex(r *reader, ros int) Vertex {
	rawLon := int(r.at(ros))<<11 | int(r.at(ros+1))<<3 | int(r.at(ros+2)&0xE0)>>5
	rawLat := int(r.at(ros+2)&0x1F)<<14 | int(r.at(ros+3))<<6 | int(r.at(ros+4)&0xFC)>>2
	alt := int(r.at(ros+4)&0x03)<<8 | int(r.at(ros+5))

	lon, lat := convertRawLonLat(rawLon, rawLat, geo19Bits)
	return Vertex{Lon: lon, Lat: lat, AltFt: alt * 100}
}

// readPrismVertex decodes the fourteen byte circular prism form: two
// 18 bit corner pairs, floor and ceiling in 500 ft steps, radii in
// 0.2 NM steps and a rotation byte.
func readPrismVertex(r *reader, ros int) Vertex {
	rawLonBot := int(r.at(ros))<<10 | int(r.at(ros+1))<<2 | int(r.at(ros+2)&0xC0)>>6
	rawLatBot := int(r.at(ros+2)&0x3F)<<12 | int(r.at(ros+3))<<4 | int(r.at(ros+4)&0xF0)>>4
	rawLonTop := int(r.at(ros+4)&0x0F)<<14 | int(r.at(ros+5))<<6 | int(r.at(ros+6)&0xFC)>>2
	rawLatTop := int(r.at(ros+6)&0x03)<<16 | int(r.at(ros+7))<<8 | int(r.at(ros+8))

	lonBot, latBot := convertRawLonLat(rawLonBot, rawLatBot, geo18Bits)
	lonTop, latTop := convertRawLonLat(rawLonTop, rawLatTop, geo18Bits)

	zBot := int(r.at(ros+9)&0xFE) >> 1
	zTop := int(r.at(ros+9)&0x01)<<6 | int(r.at(ros+10)&0xFC)>>2
	rMajor := int(r.at(ros+10)&0x03)<<7 | int(r.at(ros+11)&0xFE)>>1
	rMinor := int(r.at(ros+11)&0x01)<<8 | int(r.at(ros+12))

	return Vertex{
		Lon:      lonBot,
		Lat:      latBot,
		LonTop:   lonTop,
		LatTop:   latTop,
		ZBottom:  zBot * 500,
		ZTop:     zTop * 500,
		RMajorNM: float64(rMajor) * 0.2,
		RMinorNM: float64(rMinor) * 0.2,
		Alpha:    int(r.at(ros + 13)),
	}
}
