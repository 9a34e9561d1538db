// Package level2 turns reassembled frames into self-contained weather
// products: text reports split out of generic text frames, TWGO
// reports with assembled geometry, image tiles from global block
// frames, current report lists and service status summaries. Every
// partial wall-clock time is lifted onto a full date here, so nothing
// downstream ever reasons about a bare day-of-month again.
package level2

import (
	"errors"
	"fmt"
	"time"

	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/types"
)

// Synthesis failures. Each one fails a single frame, never the packet;
// the caller sinks the frame and keeps whatever the other frames
// produced.
var (
	ErrSegmented      = errors.New("segmented apdu reached synthesis")
	ErrUnknownProduct = errors.New("no handler for product id")
	ErrRecordCount    = errors.New("unexpected record layout")
	ErrBadText        = errors.New("text does not match product form")
	ErrDateRange      = errors.New("date not representable near receive time")
	ErrTimeWindow     = errors.New("reconstructed time outside plausible window")
	ErrGeometry       = errors.New("geometry not supported")
	ErrWindProduct    = errors.New("winds times do not select a forecast")
	ErrCRLProduct     = errors.New("no report list defined for product")
)

// Expirations for products that do not state their own, matching the
// update cadence each is broadcast at.
const (
	metarExpire         = 2 * time.Hour
	pirepExpire         = 2 * time.Hour
	fisbOutageExpire    = 20 * time.Minute
	serviceStatusExpire = 40 * time.Second
	radarExpire         = 75 * time.Minute
	griddedExpire       = 105 * time.Minute
	crlTextExpire       = 20 * time.Minute
	crlGraphicExpire    = 10 * time.Minute
)

// notamPerm stands in for the end of validity of permanent NOTAMs.
var notamPerm = time.Date(2038, 1, 1, 0, 0, 0, 0, time.UTC)

// FrameError pairs a frame that failed synthesis with the reason, so
// the caller can sink it without losing the rest of the packet.
type FrameError struct {
	Frame *level0.Frame
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame type %d: %v", e.Frame.FrameType, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Synthesizer is the stage driver. It holds no state beyond
// configuration and is safe to share across goroutines.
type Synthesizer struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Synthesizer {
	return &Synthesizer{cfg: cfg}
}

// Process synthesizes products from every frame of pkt. Packets the
// station flagged invalid are skipped whole. A frame that fails
// synthesis comes back as a FrameError; the remaining frames still
// produce.
func (s *Synthesizer) Process(pkt *level0.Packet) ([]*types.Product, []*FrameError) {
	if pkt.AppDataValid != 1 {
		return nil, nil
	}
	rcvd := pkt.RcvdTime.UTC().Truncate(time.Second)

	var products []*types.Product
	var failed []*FrameError
	for i := range pkt.Frames {
		f := &pkt.Frames[i]
		out, err := s.frame(f, pkt.Station, rcvd)
		if err != nil {
			failed = append(failed, &FrameError{Frame: f, Err: err})
			continue
		}
		products = append(products, out...)
	}
	return products, failed
}

func (s *Synthesizer) frame(f *level0.Frame, station string, rcvd time.Time) ([]*types.Product, error) {
	switch f.FrameType {
	case level0.FrameAPDU:
		if f.APDU == nil {
			return nil, nil
		}
		return s.apdu(f.APDU, station, rcvd)
	case level0.FrameCRL:
		if f.CRL == nil {
			return nil, nil
		}
		p, err := s.crlProduct(f.CRL, station, rcvd)
		if err != nil {
			return nil, err
		}
		return []*types.Product{p}, nil
	case level0.FrameServiceStatus:
		if f.ServiceStatus == nil {
			return nil, nil
		}
		return []*types.Product{s.serviceStatusProduct(f.ServiceStatus, station, rcvd)}, nil
	}
	// Reserved frame types carry nothing to synthesize.
	return nil, nil
}

func (s *Synthesizer) apdu(a *level0.APDU, station string, rcvd time.Time) ([]*types.Product, error) {
	if a.SFlag != 0 {
		return nil, ErrSegmented
	}
	if !twgoSane(a) {
		// A reserved record format or reference point marks a record
		// layout this decoder cannot interpret, not a corrupt frame.
		return nil, nil
	}

	var (
		p   *types.Product
		err error
	)
	switch a.ProductID {
	case level0.ProductGenericText:
		p, err = s.textProduct(a, rcvd)
	case level0.ProductSUA:
		p, err = s.suaProduct(a, rcvd)
	case level0.ProductGAirmet:
		p, err = s.gairmetProduct(a, station, rcvd)
	case level0.ProductAirmet, level0.ProductSigmet, level0.ProductCWA:
		p, err = s.sigwxProduct(a, station, rcvd)
	case level0.ProductNotam, level0.ProductNotamTRA, level0.ProductNotamTMOA:
		p, err = s.notamProduct(a, station, rcvd)
	case level0.ProductNexradRegional, level0.ProductNexradConus,
		level0.ProductIcingLow, level0.ProductIcingHigh,
		level0.ProductCloudTops, level0.ProductTurbulenceLow,
		level0.ProductTurbulenceHigh, level0.ProductLightning:
		return s.blockProducts(a, rcvd)
	default:
		return nil, fmt.Errorf("product %d: %w", a.ProductID, ErrUnknownProduct)
	}
	if err != nil {
		return nil, fmt.Errorf("product %d: %w", a.ProductID, err)
	}
	if p == nil {
		return nil, nil
	}
	return []*types.Product{p}, nil
}

// twgoSane checks the record format and reference point of every TWGO
// payload on the frame. Values outside the transmitted sets belong to
// record layouts from newer standards; those frames skip quietly.
func twgoSane(a *level0.APDU) bool {
	switch a.ProductID {
	case level0.ProductNotam, level0.ProductAirmet, level0.ProductSigmet,
		level0.ProductSUA, level0.ProductGAirmet, level0.ProductCWA,
		level0.ProductNotamTRA, level0.ProductNotamTMOA:
	default:
		return true
	}
	for _, t := range []*level0.TwgoPayload{a.Twgo, a.TwgoText, a.TwgoGraphics} {
		if t == nil {
			continue
		}
		if t.RecordFormat != level0.TwgoTextFormat && t.RecordFormat != level0.TwgoGraphicFormat {
			return false
		}
		if t.RecordReferencePoint != 0 && t.RecordReferencePoint != 255 {
			return false
		}
	}
	return true
}

// crlProduct converts a current report list frame. Reports are encoded
// "id/flags", the flags naming which halves of the report the station
// has sent: "TG" both, "TO" text only, "GO" graphics only.
func (s *Synthesizer) crlProduct(c *level0.CRL, station string, rcvd time.Time) (*types.Product, error) {
	var ttl time.Duration
	switch c.ProductID {
	case level0.ProductNotam, level0.ProductCWA, level0.ProductNotamTRA, level0.ProductNotamTMOA:
		ttl = crlTextExpire
	case level0.ProductAirmet, level0.ProductSigmet, level0.ProductGAirmet:
		ttl = crlGraphicExpire
	default:
		return nil, fmt.Errorf("product %d: %w", c.ProductID, ErrCRLProduct)
	}

	reports := make([]string, 0, len(c.Reports))
	for _, r := range c.Reports {
		var flags string
		switch {
		case r.TextFlag == 1 && r.GraphicsFlag == 1:
			flags = "/TG"
		case r.TextFlag == 1:
			flags = "/TO"
		case r.GraphicsFlag == 1:
			flags = "/GO"
		default:
			return nil, fmt.Errorf("report %d-%d carries neither text nor graphics: %w",
				r.ReportYearOrMonth, r.ReportNumber, ErrCRLProduct)
		}
		reports = append(reports, fmt.Sprintf("%d-%d%s", r.ReportYearOrMonth, r.ReportNumber, flags))
	}

	return &types.Product{
		Type:           types.CRL,
		UniqueName:     fmt.Sprintf("CRL-%d-%s", c.ProductID, station),
		Station:        station,
		ProductID:      c.ProductID,
		RangeNM:        c.ProductRangeNM,
		HasOverflow:    c.OFlag == 1,
		Reports:        reports,
		RcvdTime:       rcvd,
		NoDedup:        true,
		ExpirationTime: rcvd.Add(ttl),
	}, nil
}

// Address qualifier suffixes, indexed by address_type. Type 0 is a
// plain ICAO address and gets no suffix.
var addressQualifiers = [8]string{"", "/1", "/2", "/3", "/4", "/5", "/6", "/7"}

// serviceStatusProduct summarizes the targets a station is providing
// TIS-B or ADS-R service for. Status frames repeat every second, so
// the product expires fast.
func (s *Synthesizer) serviceStatusProduct(ss *level0.ServiceStatus, station string, rcvd time.Time) *types.Product {
	traffic := make([]string, 0, len(ss.Targets))
	for _, t := range ss.Targets {
		suffix := ""
		if t.AddressType >= 0 && t.AddressType < len(addressQualifiers) {
			suffix = addressQualifiers[t.AddressType]
		}
		traffic = append(traffic, t.Address+suffix)
	}
	return &types.Product{
		Type:           types.ServiceStatus,
		UniqueName:     station,
		Traffic:        traffic,
		RcvdTime:       rcvd,
		NoDedup:        true,
		ExpirationTime: rcvd.Add(serviceStatusExpire),
	}
}
