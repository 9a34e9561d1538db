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
	metarRE = regexp.MustCompile(`^(METAR|SPECI) ([0-9A-Z]{4}) ([0-9]{6})`)
	tafRE   = regexp.MustCompile(`^(TAF|TAF\.AMD|TAF COR) ([0-9A-Z]{4}) ([0-9]{6})Z ([0-9]{4})/([0-9]{4})`)
	// Naval air stations issue TAFs without a Zulu issue time.
	tafShortRE = regexp.MustCompile(`^(TAF|TAF\.AMD|TAF COR) ([0-9A-Z]{4}) ([0-9]{4})/([0-9]{4})`)
	windsRE    = regexp.MustCompile(`^(WINDS) ([0-9A-Z]{3}) ([0-9]{6})Z`)
	pirepRE    = regexp.MustCompile(`^(PIREP) ([^ ]+) ([0-9]{6})Z ([^ ]+) (UA|UUA) (.+)`)
)

// textProduct dispatches a generic text report on its first word.
func (s *Synthesizer) textProduct(a *level0.APDU, rcvd time.Time) (*types.Product, error) {
	text := cleanFAAText(a.Text)
	switch {
	case strings.HasPrefix(text, "METAR"), strings.HasPrefix(text, "SPECI"):
		return s.metar(text, rcvd)
	case strings.HasPrefix(text, "TAF"):
		return s.taf(text, rcvd)
	case strings.HasPrefix(text, "WINDS"):
		return s.winds(a, text, rcvd)
	case strings.HasPrefix(text, "PIREP"):
		return s.pirep(text, rcvd)
	}
	return nil, fmt.Errorf("text report %.10q: %w", text, ErrBadText)
}

func (s *Synthesizer) metar(text string, rcvd time.Time) (*types.Product, error) {
	m := metarRE.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("metar header: %w", ErrBadText)
	}
	obs, err := dayHourMin(rcvd, m[3])
	if err != nil {
		return nil, err
	}
	if !inWindow(obs, rcvd, 3*time.Hour, 30*time.Minute) {
		return nil, fmt.Errorf("observation at %s: %w", obs.Format(time.RFC3339), ErrTimeWindow)
	}
	return &types.Product{
		Type:            types.METAR,
		UniqueName:      m[2],
		Location:        m[2],
		RcvdTime:        rcvd,
		Contents:        text,
		ObservationTime: &obs,
		ExpirationTime:  obs.Add(metarExpire),
	}, nil
}

func (s *Synthesizer) taf(text string, rcvd time.Time) (*types.Product, error) {
	var site, issuedStr, beginStr, endStr string
	if m := tafRE.FindStringSubmatch(text); m != nil {
		site, issuedStr, beginStr, endStr = m[2], m[3], m[4], m[5]
	} else if m := tafShortRE.FindStringSubmatch(text); m != nil {
		// No issue time; the start of the valid period stands in.
		site, issuedStr, beginStr, endStr = m[2], m[3], m[3], m[4]
	} else {
		return nil, fmt.Errorf("taf header: %w", ErrBadText)
	}

	issued, err := dayHourMin(rcvd, issuedStr)
	if err != nil {
		return nil, err
	}
	begin, err := dayHourMin(rcvd, beginStr)
	if err != nil {
		return nil, err
	}
	end, err := dayHourMin(rcvd, endStr)
	if err != nil {
		return nil, err
	}
	if !inWindow(issued, rcvd, 6*time.Hour, time.Hour) {
		return nil, fmt.Errorf("issued at %s: %w", issued.Format(time.RFC3339), ErrTimeWindow)
	}
	if !inWindow(begin, issued, 0, 30*time.Hour) {
		return nil, fmt.Errorf("valid period begins %s: %w", begin.Format(time.RFC3339), ErrTimeWindow)
	}

	return &types.Product{
		Type:                 types.TAF,
		UniqueName:           site,
		Location:             site,
		RcvdTime:             rcvd,
		Contents:             text,
		IssuedTime:           &issued,
		ValidPeriodBeginTime: &begin,
		ValidPeriodEndTime:   &end,
		ExpirationTime:       end,
	}, nil
}

// windMatrix selects the forecast span from the hour the product was
// posted (rows: 02, 08, 14, 20Z) and the hour it is valid for
// (columns: 06, 12, 18, 00Z). -1 marks pairings never issued.
var windMatrix = [4][4]int{
	{6, 12, -1, 24},
	{24, 6, 12, -1},
	{-1, 24, 6, 12},
	{12, -1, 24, 6},
}

func (s *Synthesizer) winds(a *level0.APDU, text string, rcvd time.Time) (*types.Product, error) {
	m := windsRE.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("winds header: %w", ErrBadText)
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("winds body missing: %w", ErrBadText)
	}

	valid, err := dayHourMin(rcvd, m[3])
	if err != nil {
		return nil, err
	}
	if !inWindow(valid, rcvd, 6*time.Hour, 30*time.Hour) {
		return nil, fmt.Errorf("valid at %s: %w", valid.Format(time.RFC3339), ErrTimeWindow)
	}

	var row int
	switch h := a.Hour; {
	case h >= 1 && h < 3:
		row = 0
	case h >= 7 && h < 9:
		row = 1
	case h >= 13 && h < 15:
		row = 2
	case h >= 19 && h < 21:
		row = 3
	default:
		return nil, fmt.Errorf("posted at hour %02d: %w", h, ErrWindProduct)
	}
	var col int
	switch num(m[3][2:6]) {
	case 600:
		col = 0
	case 1200:
		col = 1
	case 1800:
		col = 2
	case 0:
		col = 3
	default:
		return nil, fmt.Errorf("valid at hour %s: %w", m[3][2:6], ErrWindProduct)
	}
	span := windMatrix[row][col]
	if span == -1 {
		return nil, fmt.Errorf("posted hour %02d never issues a %s valid forecast: %w",
			a.Hour, m[3][2:6], ErrWindProduct)
	}

	// The valid time is the only one transmitted with a day; every
	// other time hangs off it by the span's fixed offsets.
	var typ string
	var avail, run, from, to time.Time
	switch span {
	case 6:
		typ = types.Winds06Hr
		avail, run = valid.Add(-4*time.Hour), valid.Add(-6*time.Hour)
		from, to = valid.Add(-4*time.Hour), valid.Add(3*time.Hour)
	case 12:
		typ = types.Winds12Hr
		avail, run = valid.Add(-10*time.Hour), valid.Add(-12*time.Hour)
		from, to = valid.Add(-3*time.Hour), valid.Add(6*time.Hour)
	case 24:
		typ = types.Winds24Hr
		avail, run = valid.Add(-22*time.Hour), valid.Add(-24*time.Hour)
		from, to = valid.Add(-6*time.Hour), valid.Add(6*time.Hour)
	}
	// The APDU header stamps the actual posting time; splice it into
	// the nominal availability date.
	avail = time.Date(avail.Year(), avail.Month(), avail.Day(), a.Hour, a.Minute, 0, 0, time.UTC)

	exp := to
	if span == 6 {
		// The 6 hour forecast stays in use until the next one arrives
		// a day later.
		exp = to.Add(24 * time.Hour)
	}

	return &types.Product{
		Type:           typ,
		UniqueName:     m[2],
		Location:       m[2],
		RcvdTime:       rcvd,
		Contents:       lines[1],
		IssuedTime:     &avail,
		ValidTime:      &valid,
		ModelRunTime:   &run,
		ForUseFromTime: &from,
		ForUseToTime:   &to,
		ExpirationTime: exp,
	}, nil
}

// pirepReplacer rewrites the slash field markers of a PIREP body to a
// splittable delimiter. Only /OV eats its following space; the value
// of every other field keeps its leading space for TrimSpace.
var pirepReplacer = strings.NewReplacer(
	"/OV ", "~OV", "/TM", "~TM", "/FL", "~FL", "/TP", "~TP", "/TB", "~TB",
	"/SK", "~SK", "/RM", "~RM", "/WX", "~WX", "/TA", "~TA", "/WV", "~WV", "/IC", "~IC",
)

func (s *Synthesizer) pirep(text string, rcvd time.Time) (*types.Product, error) {
	m := pirepRE.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("pirep header: %w", ErrBadText)
	}

	fields := make(map[string]string)
	for _, f := range strings.Split(pirepReplacer.Replace(m[6]), "~") {
		if f == "" {
			continue
		}
		if len(f) < 2 {
			return nil, fmt.Errorf("pirep field %q: %w", f, ErrBadText)
		}
		fields[strings.ToLower(f[:2])] = strings.TrimSpace(f[2:])
	}

	report, err := dayHourMin(rcvd, m[3])
	if err != nil {
		return nil, err
	}
	exp := rcvd.Add(pirepExpire)
	if s.cfg.PirepExpireFromReport {
		exp = report.Add(pirepExpire)
	}

	return &types.Product{
		Type:           types.PIREP,
		UniqueName:     m[5] + m[4] + strings.ReplaceAll(m[6], " ", ""),
		Station:        m[4],
		ReportType:     m[5],
		RcvdTime:       rcvd,
		Contents:       text,
		Fields:         fields,
		ReportTime:     &report,
		ExpirationTime: exp,
	}, nil
}
