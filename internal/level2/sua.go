package level2

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/types"
)

var suaHeaderRE = regexp.MustCompile(`SUA ([0-3]\d[0-2]\d[0-5]\d) (.+)`)

// suaProduct handles Special Use Airspace status reports: a single
// pipe-delimited text record describing one scheduled activation. The
// last four fields (the NFDC and DAFIF identities) are often blank.
func (s *Synthesizer) suaProduct(a *level0.APDU, rcvd time.Time) (*types.Product, error) {
	if a.Twgo == nil || len(a.Twgo.TextRecords) != 1 {
		return nil, fmt.Errorf("sua text records: %w", ErrRecordCount)
	}
	rec := a.Twgo.TextRecords[0]
	if rec.ReportStatus == 0 {
		return nil, fmt.Errorf("sua cancellation: %w", ErrBadText)
	}

	fields := strings.Split(strings.TrimRightFunc(rec.Text, unicode.IsSpace), "|")
	if len(fields) < 11 {
		return nil, fmt.Errorf("sua with %d fields: %w", len(fields), ErrBadText)
	}
	m := suaHeaderRE.FindStringSubmatch(fields[0])
	if m == nil {
		return nil, fmt.Errorf("sua header: %w", ErrBadText)
	}

	start, err := notamTime(rcvd.Year(), fields[5])
	if err != nil {
		return nil, err
	}
	end, err := notamTime(rcvd.Year(), fields[6])
	if err != nil {
		return nil, err
	}
	low, err := strconv.Atoi(fields[7])
	if err != nil {
		return nil, fmt.Errorf("sua low altitude %q: %w", fields[7], ErrBadText)
	}
	high, err := strconv.Atoi(fields[8])
	if err != nil {
		return nil, fmt.Errorf("sua high altitude %q: %w", fields[8], ErrBadText)
	}

	separation := fields[9]
	if strings.TrimSpace(separation) == "" {
		separation = "U"
	}

	detail := &types.SUADetail{
		ScheduleID:     m[2],
		AirspaceID:     fields[1],
		Status:         fields[2],
		AirspaceType:   fields[3],
		AirspaceName:   fields[4],
		StartTime:      &start,
		EndTime:        &end,
		LowAltitude:    low * 100,
		HighAltitude:   high * 100,
		SeparationRule: separation,
		ShapeIndicator: fields[10],
	}
	if len(fields) >= 15 && fields[11] != "" {
		detail.NFDCID = fields[11]
		detail.NFDCName = fields[12]
		detail.DAFIFID = fields[13]
		detail.DAFIFName = fields[14]
	}

	return &types.Product{
		Type:           types.SUA,
		UniqueName:     fmt.Sprintf("%d-%d", rec.ReportYear, rec.ReportNumber),
		RcvdTime:       rcvd,
		SUA:            detail,
		ExpirationTime: end,
	}, nil
}
