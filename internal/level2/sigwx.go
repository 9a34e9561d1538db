package level2

import (
	"fmt"
	"regexp"
	"time"

	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/types"
)

var (
	// "TYPE STATION ddhhmm ...", with a headerless fallback some
	// producers use.
	sigwxHeaderRE      = regexp.MustCompile(`([^ ]+) ([^ ]+) ([0-3]\d[0-2]\d[0-5]\d)`)
	sigwxShortHeaderRE = regexp.MustCompile(`([^ ]+) +([0-3]\d[0-2]\d[0-5]\d)`)
)

// sigwxProduct handles AIRMETs, SIGMETs, convective SIGMETs (WST) and
// center weather advisories (CWA).
func (s *Synthesizer) sigwxProduct(a *level0.APDU, station string, rcvd time.Time) (*types.Product, error) {
	if a.TwgoText == nil || len(a.TwgoText.TextRecords) != 1 {
		return nil, fmt.Errorf("sigwx text records: %w", ErrRecordCount)
	}
	rec := a.TwgoText.TextRecords[0]
	reportID := fmt.Sprintf("%d-%d", rec.ReportYear, rec.ReportNumber)

	if rec.ReportStatus == 0 {
		typ := types.CancelAirmet
		switch a.ProductID {
		case level0.ProductSigmet:
			typ = types.CancelSigmet
		case level0.ProductCWA:
			typ = types.CancelCWA
		}
		return &types.Product{
			Type:           typ,
			UniqueName:     reportID,
			RcvdTime:       rcvd,
			ExpirationTime: rcvd.Add(s.cfg.CancelTTL),
		}, nil
	}

	text := cleanFAAText(rec.Text)
	if text == "" {
		return nil, fmt.Errorf("sigwx with empty text: %w", ErrBadText)
	}

	var issuedStr, keyword string
	if m := sigwxHeaderRE.FindStringSubmatch(text); m != nil {
		keyword, issuedStr = m[1], m[3]
	} else if m := sigwxShortHeaderRE.FindStringSubmatch(text); m != nil {
		keyword, issuedStr = m[1], m[2]
	} else {
		return nil, fmt.Errorf("sigwx header: %w", ErrBadText)
	}

	typ := types.SIGWX
	switch keyword {
	case "AIRMET":
		typ = types.AIRMET
	case "SIGMET":
		typ = types.SIGMET
	case "WST":
		typ = types.WST
	case "CWA":
		typ = types.CWA
	}

	issued, err := dayHourMin(rcvd, issuedStr)
	if err != nil {
		return nil, err
	}

	p := &types.Product{
		Type:       typ,
		UniqueName: reportID,
		Station:    station,
		RcvdTime:   rcvd,
		Contents:   text,
		IssuedTime: &issued,
	}

	if a.TwgoGraphics != nil && len(a.TwgoGraphics.GraphicRecords) > 0 {
		g0 := a.TwgoGraphics.GraphicRecords[0]
		if g0.GeometryOptions != 3 && g0.GeometryOptions != 4 {
			return nil, fmt.Errorf("sigwx geometry options %d: %w", g0.GeometryOptions, ErrGeometry)
		}
		if g0.ApplicabilityOptions == 3 && g0.Start != nil && g0.Stop != nil {
			from, err := referencedTime(issued, g0.Start.Month, g0.Start.Day, g0.Start.Hour, g0.Start.Minute)
			if err != nil {
				return nil, err
			}
			to, err := referencedTime(issued, g0.Stop.Month, g0.Stop.Day, g0.Stop.Hour, g0.Stop.Minute)
			if err != nil {
				return nil, err
			}
			if !inWindow(from, rcvd, 6*time.Hour, 24*time.Hour) {
				return nil, fmt.Errorf("in use from %s: %w", from.Format(time.RFC3339), ErrTimeWindow)
			}
			p.ForUseFromTime = &from
			p.ForUseToTime = &to
		}
		geo, err := assembleGeometry(a.TwgoGraphics.GraphicRecords, issued, a.ProductID)
		if err != nil {
			return nil, err
		}
		p.Geometry = geo
	}

	p.ExpirationTime = s.twgoExpiration(p, rcvd, nil)
	return p, nil
}
