// Package level0 decodes raw 978 MHz ground uplink capture lines into
// structured packets. It understands the 8 byte station header, the
// frame layer, APDU payloads for every whitelisted product, current
// report lists and service status frames. Nothing here reassembles
// segments or pairs text with graphics; that is the next stage's job.
package level0

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/dlac"
)

// Decode failures. All of them mean the packet is dropped and the raw
// line goes to the error sink; none of them stop the pipeline.
var (
	ErrLineFormat      = errors.New("malformed capture line")
	ErrPayloadLength   = errors.New("payload is not 432 bytes")
	ErrTruncatedFrame  = errors.New("truncated frame")
	ErrUnknownProduct  = errors.New("unknown apdu product id")
	ErrBinCount        = errors.New("bad run length bin count")
	ErrOverlayOperator = errors.New("unimplemented overlay operator")
	ErrVertexGeometry  = errors.New("unknown vertex geometry")
)

const uplinkPayloadBytes = 432

// Geographic unit sizes for the three raw coordinate widths.
const (
	geo24Bits = 360.0 / float64(1<<24)
	geo19Bits = 360.0 / float64(1<<19)
	geo18Bits = 360.0 / float64(1<<18)
)

// Station tier names indexed by the TIS-B site id nibble. Zero means
// the station uplinks no TIS-B data at all.
var tisbTierNames = [16]string{
	"NO-TISB", "S4", "S3", "S2", "S1", "L5", "L4", "L3",
	"L2", "L1", "M3", "M2", "M1", "H3", "H2", "H1",
}

const hexDigits = "0123456789ABCDEF"

// Parser turns capture lines into Packets. It is not safe for
// concurrent use; run one per ingest goroutine.
type Parser struct {
	detailed bool
	fourBit  bool
	clk      clock.Clock
}

// NewParser builds a parser from the decode settings in cfg. The clock
// supplies receive times for lines that carry no t= field.
func NewParser(cfg *config.Config, clk clock.Clock) *Parser {
	return &Parser{
		detailed: cfg.DecodeDetailed,
		fourBit:  cfg.DLAC4Bit,
		clk:      clk,
	}
}

// ParseLine decodes one capture line. Ground uplink lines start with
// '+'; anything else (ADS-B lines, comments, blanks) returns a nil
// packet and nil error so callers can skip quietly. A non-nil error
// means the line looked like an uplink but failed to decode.
func (p *Parser) ParseLine(line string) (*Packet, error) {
	if len(line) == 0 || line[0] != '+' {
		return nil, nil
	}

	semi := strings.IndexByte(line, ';')
	if semi < 0 {
		return nil, fmt.Errorf("%w: no field terminator", ErrLineFormat)
	}

	rcvd, hasTime, err := p.receiveTime(line)
	if err != nil {
		return nil, err
	}

	ba, err := hex.DecodeString(line[1:semi])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLineFormat, err)
	}
	if len(ba) != uplinkPayloadBytes {
		return nil, fmt.Errorf("%w: got %d", ErrPayloadLength, len(ba))
	}

	pkt := &Packet{
		RcvdTime:      rcvd,
		AppDataValid:  int(ba[6]&0x20) >> 5,
		PositionValid: int(ba[5] & 0x01),
		SiteTier:      int(ba[7]&0xF0) >> 4,
	}

	rawLat := int(ba[0])<<15 | int(ba[1])<<7 | int(ba[2])>>1
	rawLon := int(ba[2]&0x01)<<23 | int(ba[3])<<15 | int(ba[4])<<7 | int(ba[5])>>1
	lon, lat := convertRawLonLat(rawLon, rawLat, geo24Bits)
	pkt.Station = stationName(lon, lat)

	if p.detailed {
		pkt.Detail = p.headerDetail(ba, lon, lat, rcvd, hasTime)
	}

	frames, err := p.decodeFrames(ba)
	if err != nil {
		return nil, err
	}
	pkt.Frames = frames

	return pkt, nil
}

// receiveTime pulls the trailing t=<unix seconds> field out of the
// line. Lines without one get the current clock time.
func (p *Parser) receiveTime(line string) (time.Time, bool, error) {
	idx := strings.Index(line, ";t=")
	if idx < 0 {
		return p.clk.Now().UTC(), false, nil
	}
	val := line[idx+3:]
	if end := strings.IndexByte(val, ';'); end >= 0 {
		val = val[:end]
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: bad t= field: %v", ErrLineFormat, err)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), true, nil
}

func (p *Parser) headerDetail(ba []byte, lon, lat float64, rcvd time.Time, hasTime bool) *PacketDetail {
	slotID := int(ba[6] & 0x1F)
	tier := int(ba[7]&0xF0) >> 4
	mso := slotID * 22

	d := &PacketDetail{
		Latitude:             lat,
		Longitude:            lon,
		UTCCoupled:           int(ba[6]&0x80) >> 7,
		TransmissionTimeSlot: slotID + 1,
		MSO:                  mso,
		MSOUTCMillis:         float64(mso)*0.25 + 6.0,
		TISBSiteID:           string(hexDigits[tier]),
		TISBSiteIDType:       tisbTierNames[tier],
		Reserved72:           int(ba[6]&0x40) >> 6,
		Reserved858:          int(ba[7] & 0x0F),
	}

	// The data channel rotates with the second of day, so it only
	// makes sense when the line carried a real receive time.
	if hasTime {
		secOfDay := rcvd.Hour()*3600 + rcvd.Minute()*60 + rcvd.Second()
		ch := slotID - secOfDay%32
		if ch < 0 {
			ch += 32
		}
		d.DataChannel = ch + 1
	}

	return d
}

// decodeFrames walks the frame chain that starts at byte 8. A zero
// length header or running off the end of the payload ends the walk.
func (p *Parser) decodeFrames(ba []byte) ([]Frame, error) {
	frames := []Frame{}
	off := 8

	for off < uplinkPayloadBytes-1 {
		flen := int(ba[off])<<1 | int(ba[off+1]&0x80)>>7
		if flen == 0 {
			break
		}
		reserved := int(ba[off+1]&0x70) >> 4
		ftype := int(ba[off+1] & 0x0F)

		if off+2+flen > uplinkPayloadBytes {
			return nil, fmt.Errorf("%w: frame of %d bytes at offset %d", ErrTruncatedFrame, flen, off)
		}
		body := ba[off+2 : off+2+flen]

		f := Frame{FrameType: ftype}
		if p.detailed {
			f.FrameHeader224 = reserved
		}

		switch ftype {
		case FrameAPDU:
			apdu, err := p.decodeAPDU(body)
			if err != nil {
				return nil, err
			}
			f.APDU = apdu
			frames = append(frames, f)

		case FrameCRL:
			crl, err := p.decodeCRL(body)
			if err != nil {
				return nil, err
			}
			f.CRL = crl
			frames = append(frames, f)

		case FrameServiceStatus:
			ss, err := decodeServiceStatus(body)
			if err != nil {
				return nil, err
			}
			f.ServiceStatus = ss
			frames = append(frames, f)

		default:
			// Types 1-13 carry development or future data. Keep the
			// raw bytes around only for detailed decodes.
			if p.detailed {
				f.ReservedHex = hex.EncodeToString(body)
				frames = append(frames, f)
			}
		}

		off += flen + 2
	}

	return frames, nil
}

// convertRawLonLat scales raw coordinate fields into degrees and folds
// them into the conventional ranges. Values are rounded to six decimal
// places, which is about the precision of the underlying encoding.
func convertRawLonLat(rawLon, rawLat int, unit float64) (lon, lat float64) {
	lon = float64(rawLon) * unit
	if lon > 180 {
		lon -= 360
	}
	lat = float64(rawLat) * unit
	if lat > 90 {
		lat -= 180
	}
	return round6(lon), round6(lat)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// stationName is the pipeline-wide station id: longitude and latitude
// joined with a tilde so the coordinates can be recovered later.
func stationName(lon, lat float64) string {
	return formatCoord(lon) + "~" + formatCoord(lat)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// decodeText decodes a whole payload slice as DLAC.
func (p *Parser) decodeText(b []byte) string {
	return dlac.Decode(b, p.fourBit)
}
