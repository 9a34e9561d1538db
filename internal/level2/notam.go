package level2

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/types"
)

var (
	notamRE         = regexp.MustCompile(`NOTAM-(D|FDC|TMOA|TRA) ([^ ]+) ([^ ]+) !([^ ]+) ([^ ]+) ([^ ]+) ([^ ]+)`)
	notamContentsRE = regexp.MustCompile(`(?s)NOTAM-(D|FDC|TMOA|TRA) ([^ ]+) ([^ ]+) (.+)`)
	notamTFRRE      = regexp.MustCompile(`^NOTAM-TFR ([0-9]/[0-9]{4}) `)
	notamTimesRE    = regexp.MustCompile(`(\d\d[01]\d[0-3]\d[0-2]\d[0-5]\d)-(\d\d[01]\d[0-3]\d[0-2]\d[0-5]\d|PERM)`)
	fisbRE          = regexp.MustCompile(`FIS-B ([0-3]\d[0-2]\d[0-5]\d)Z ([^ ]+) (.+)`)
	fisbProductRE   = regexp.MustCompile(`^(.+) PRODUCT`)
)

var notamTypes = map[string]string{
	"D":    types.NotamD,
	"FDC":  types.NotamFDC,
	"TMOA": types.NotamTMOA,
	"TRA":  types.NotamTRA,
}

// notamProduct handles the NOTAM family: plain NOTAMs, TFRs, TMOA and
// TRA activations, outage notices and cancellations.
func (s *Synthesizer) notamProduct(a *level0.APDU, station string, rcvd time.Time) (*types.Product, error) {
	if a.TwgoText == nil || len(a.TwgoText.TextRecords) != 1 {
		return nil, fmt.Errorf("notam text records: %w", ErrRecordCount)
	}
	rec := a.TwgoText.TextRecords[0]

	reportID := fmt.Sprintf("%d-%d", rec.ReportYear, rec.ReportNumber)
	if a.ProductID == level0.ProductNotamTRA || a.ProductID == level0.ProductNotamTMOA {
		// TRA and TMOA report numbers recycle monthly; the current
		// report lists key them by the APDU month.
		reportID = fmt.Sprintf("%d-%d", a.Month, rec.ReportNumber)
	}

	if rec.ReportStatus == 0 {
		return &types.Product{
			Type:           types.CancelNotam,
			UniqueName:     reportID,
			RcvdTime:       rcvd,
			ExpirationTime: rcvd.Add(s.cfg.CancelTTL),
		}, nil
	}

	text := cleanFAAText(rec.Text)
	if text == "" {
		// A bare renewal refreshes the pairing state upstream but
		// carries nothing to synthesize.
		return nil, nil
	}

	switch {
	case strings.HasPrefix(text, "FIS-B"):
		return s.fisbUnavailable(text, reportID, rcvd)
	case strings.HasPrefix(text, "NOTAM-TFR"):
		return s.tfrNotam(a, text, reportID, station, rcvd)
	}
	return s.plainNotam(a, text, reportID, station, rcvd)
}

// fisbUnavailable parses a FIS-B product outage notice.
func (s *Synthesizer) fisbUnavailable(text, reportID string, rcvd time.Time) (*types.Product, error) {
	// The pre-2019 format spelled out "FIS-B SERVICE OUTAGE" before
	// the timestamp; rewrite it to the current form.
	if strings.HasPrefix(text, "FIS-B SERVICE OUTAGE ") {
		text = "FIS-B " + text[21:]
	}
	m := fisbRE.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("outage notice: %w", ErrBadText)
	}
	issued, err := dayHourMin(rcvd, m[1])
	if err != nil {
		return nil, err
	}
	p := &types.Product{
		Type:           types.FisBUnavailable,
		UniqueName:     reportID,
		RcvdTime:       rcvd,
		Contents:       m[3],
		Centers:        strings.Split(m[2], ","),
		IssuedTime:     &issued,
		ExpirationTime: rcvd.Add(fisbOutageExpire),
	}
	if pm := fisbProductRE.FindStringSubmatch(m[3]); pm != nil {
		p.Product = pm[1]
	}
	return p, nil
}

// tfrNotam parses a temporary flight restriction.
func (s *Synthesizer) tfrNotam(a *level0.APDU, text, reportID, station string, rcvd time.Time) (*types.Product, error) {
	m := notamTFRRE.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("tfr header: %w", ErrBadText)
	}
	p := &types.Product{
		Type:       types.NotamTFR,
		UniqueName: reportID,
		Number:     m[1],
		Station:    station,
		RcvdTime:   rcvd,
		Contents:   text,
	}
	if err := s.finishTwgoNotam(p, a, rcvd); err != nil {
		return nil, err
	}
	return p, nil
}

// plainNotam parses the keyword form common to D, FDC, TMOA and TRA
// NOTAMs.
func (s *Synthesizer) plainNotam(a *level0.APDU, text, reportID, station string, rcvd time.Time) (*types.Product, error) {
	m := notamRE.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("notam header: %w", ErrBadText)
	}
	c := notamContentsRE.FindStringSubmatch(text)
	if c == nil || !strings.HasPrefix(c[4], "!") {
		return nil, fmt.Errorf("notam contents: %w", ErrBadText)
	}

	location := a.TwgoText.Location
	if m[1] == "D" && location != "" {
		// D NOTAM numbers are only unique per issuing location.
		reportID += "-" + location
	}

	p := &types.Product{
		Type:        notamTypes[m[1]],
		UniqueName:  reportID,
		Station:     station,
		Location:    location,
		RcvdTime:    rcvd,
		Contents:    c[4],
		Accountable: m[4],
		Number:      m[5],
		Affected:    m[6],
		Keyword:     m[7],
	}
	if strings.HasPrefix(m[4], "SUA") {
		p.Subtype = "SUA"
	}
	if err := s.finishTwgoNotam(p, a, rcvd); err != nil {
		return nil, err
	}
	return p, nil
}

// finishTwgoNotam fills the parts shared by every NOTAM form: the
// activity window from the text, geometry from the graphic overlay
// when one was paired, and the expiration.
func (s *Synthesizer) finishTwgoNotam(p *types.Product, a *level0.APDU, rcvd time.Time) error {
	if err := s.notamDates(p, rcvd); err != nil {
		return err
	}
	if a.TwgoGraphics != nil {
		ref := rcvd
		if p.StartOfActivityTime != nil {
			ref = *p.StartOfActivityTime
		}
		geo, err := assembleGeometry(a.TwgoGraphics.GraphicRecords, ref, a.ProductID)
		if err != nil {
			return err
		}
		p.Geometry = geo
	}
	p.ExpirationTime = s.twgoExpiration(p, rcvd, notamEnd(p))
	return nil
}

// notamDates extracts the yymmddhhmm-yymmddhhmm activity window NOTAM
// texts embed. An end of PERM maps to the permanent stand-in date.
func (s *Synthesizer) notamDates(p *types.Product, rcvd time.Time) error {
	m := notamTimesRE.FindStringSubmatch(p.Contents)
	if m == nil {
		return nil
	}
	start, err := notamTime(rcvd.Year(), m[1])
	if err != nil {
		return err
	}
	if !inWindow(start, rcvd, 30*24*time.Hour, 365*24*time.Hour) {
		return fmt.Errorf("activity starts %s: %w", start.Format(time.RFC3339), ErrTimeWindow)
	}
	p.StartOfActivityTime = &start

	end := notamPerm
	if m[2] != "PERM" {
		if end, err = notamTime(rcvd.Year(), m[2]); err != nil {
			return err
		}
	}
	p.EndOfValidityTime = &end
	return nil
}

// notamEnd returns the end of validity to expire on, nil for permanent
// NOTAMs so geometry stop times or the flat retention take over.
func notamEnd(p *types.Product) *time.Time {
	if p.EndOfValidityTime == nil || p.EndOfValidityTime.Equal(notamPerm) {
		return nil
	}
	return p.EndOfValidityTime
}
