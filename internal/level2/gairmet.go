package level2

import (
	"fmt"
	"time"

	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/types"
)

// gairmetProduct handles graphical AIRMETs: pure graphic overlays
// issued as 0, 3 and 6 hour forecast snapshots. The forecast hour is
// not transmitted directly; it falls out of the applicability window.
func (s *Synthesizer) gairmetProduct(a *level0.APDU, station string, rcvd time.Time) (*types.Product, error) {
	if a.Twgo == nil || len(a.Twgo.GraphicRecords) == 0 {
		return nil, fmt.Errorf("g-airmet graphic records: %w", ErrRecordCount)
	}
	rec := a.Twgo.GraphicRecords[0]
	reportID := fmt.Sprintf("%d-%d", rec.ReportYear, rec.ReportNumber)

	if rec.ObjectStatus == 13 {
		return &types.Product{
			Type:           types.CancelGAirmet,
			UniqueName:     reportID,
			RcvdTime:       rcvd,
			ExpirationTime: rcvd.Add(s.cfg.CancelTTL),
		}, nil
	}
	if rec.ObjectStatus != 15 {
		return nil, fmt.Errorf("g-airmet object status %d: %w", rec.ObjectStatus, ErrRecordCount)
	}
	if rec.DateTimeFormat != 1 {
		return nil, fmt.Errorf("g-airmet date time format %d: %w", rec.DateTimeFormat, ErrRecordCount)
	}
	switch rec.GeometryOptions {
	case 3, 4, 11, 12:
	default:
		return nil, fmt.Errorf("g-airmet geometry options %d: %w", rec.GeometryOptions, ErrGeometry)
	}
	if rec.Start == nil || rec.Stop == nil {
		return nil, fmt.Errorf("g-airmet without applicability times: %w", ErrRecordCount)
	}

	year := doubleDigitYear(rcvd.Year(), rec.ReportYear)
	issued, err := calendarDate(year, a.Month, a.Day, a.Hour, a.Minute)
	if err != nil {
		return nil, err
	}
	start, err := referencedTime(issued, rec.Start.Month, rec.Start.Day, rec.Start.Hour, rec.Start.Minute)
	if err != nil {
		return nil, err
	}
	stop, err := referencedTime(issued, rec.Stop.Month, rec.Stop.Day, rec.Stop.Hour, rec.Stop.Minute)
	if err != nil {
		return nil, err
	}

	var typ string
	switch {
	case start.Equal(stop):
		// The 6 hour outlook is sent with a zero length window.
		typ = types.GAirmet06Hr
		stop = start.Add(3 * time.Hour)
	case stop.Minute() == 0 && stop.Hour()%6 == 0:
		typ = types.GAirmet00Hr
	case stop.Minute() == 0 && stop.Hour()%6 == 3:
		typ = types.GAirmet03Hr
	default:
		return nil, fmt.Errorf("g-airmet window ends %s: %w", stop.Format(time.RFC3339), ErrBadText)
	}

	geo, err := assembleGeometry(a.Twgo.GraphicRecords, issued, a.ProductID)
	if err != nil {
		return nil, err
	}

	p := &types.Product{
		Type:           typ,
		UniqueName:     reportID,
		Station:        station,
		RcvdTime:       rcvd,
		IssuedTime:     &issued,
		ForUseFromTime: &start,
		ForUseToTime:   &stop,
		Geometry:       geo,
	}
	p.ExpirationTime = s.twgoExpiration(p, rcvd, nil)
	return p, nil
}
