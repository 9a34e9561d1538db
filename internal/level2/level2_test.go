package level2

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/types"
)

var baseTime = time.Date(2020, 8, 23, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		TwgoRetention:         61 * time.Minute,
		CancelTTL:             time.Hour,
		PirepExpireFromReport: true,
	}
}

func testSynth() *Synthesizer {
	return New(testConfig())
}

func packet(rcvd time.Time, frames ...level0.Frame) *level0.Packet {
	return &level0.Packet{
		RcvdTime:     rcvd,
		Station:      "-83~40",
		AppDataValid: 1,
		Frames:       frames,
	}
}

func apduFrame(a *level0.APDU) level0.Frame {
	return level0.Frame{FrameType: level0.FrameAPDU, APDU: a}
}

func twgoTextAPDU(pid int, loc string, rec level0.TwgoText) *level0.APDU {
	return &level0.APDU{
		ProductID: pid,
		TwgoText: &level0.TwgoPayload{
			RecordFormat: level0.TwgoTextFormat,
			Location:     loc,
			RecordCount:  1,
			TextRecords:  []level0.TwgoText{rec},
		},
	}
}

func TestProcessSkipsUnvalidatedPackets(t *testing.T) {
	s := testSynth()
	pkt := packet(baseTime, apduFrame(textAPDU(8, 51, "METAR KCMH 230851Z 24008KT")))
	pkt.AppDataValid = 0

	products, failed := s.Process(pkt)
	if products != nil || failed != nil {
		t.Errorf("products = %v, failed = %v, want none", products, failed)
	}
}

func TestProcessPacket(t *testing.T) {
	s := testSynth()
	rcvd := baseTime.Add(300 * time.Millisecond)
	pkt := packet(rcvd,
		apduFrame(textAPDU(8, 51, "METAR KCMH 230851Z 24008KT")),
		level0.Frame{FrameType: level0.FrameCRL, CRL: &level0.CRL{
			ProductID: 8,
			Reports:   []level0.CRLEntry{{ReportYearOrMonth: 20, ReportNumber: 12, TextFlag: 1}},
		}},
		level0.Frame{FrameType: level0.FrameServiceStatus, ServiceStatus: &level0.ServiceStatus{
			Targets: []level0.Target{{Services: "T", Address: "A12345"}},
		}},
		level0.Frame{FrameType: 10, ReservedHex: "00ff"},
		apduFrame(&level0.APDU{ProductID: 999}),
	)

	products, failed := s.Process(pkt)
	if len(products) != 3 {
		t.Fatalf("products = %d, want 3", len(products))
	}
	if len(failed) != 1 || !errors.Is(failed[0], ErrUnknownProduct) {
		t.Fatalf("failed = %v, want one unknown product", failed)
	}
	// The receive time is carried at second resolution.
	if !products[0].RcvdTime.Equal(baseTime) {
		t.Errorf("rcvd = %s, want %s", products[0].RcvdTime, baseTime)
	}
}

func TestProcessRejectsSegmented(t *testing.T) {
	s := testSynth()
	pkt := packet(baseTime, apduFrame(&level0.APDU{ProductID: 8, SFlag: 1}))
	products, failed := s.Process(pkt)
	if len(products) != 0 {
		t.Errorf("products = %d, want 0", len(products))
	}
	if len(failed) != 1 || !errors.Is(failed[0], ErrSegmented) {
		t.Errorf("failed = %v, want ErrSegmented", failed)
	}
}

func TestReservedTwgoLayoutSkipsQuietly(t *testing.T) {
	s := testSynth()
	a := twgoTextAPDU(8, "OSU", level0.TwgoText{ReportNumber: 1, ReportYear: 20, ReportStatus: 1, Text: "X"})
	a.TwgoText.RecordFormat = 5

	products, failed := s.Process(packet(baseTime, apduFrame(a)))
	if len(products) != 0 || len(failed) != 0 {
		t.Errorf("products = %d, failed = %d, want a quiet skip", len(products), len(failed))
	}

	a.TwgoText.RecordFormat = level0.TwgoTextFormat
	a.TwgoText.RecordReferencePoint = 7
	products, failed = s.Process(packet(baseTime, apduFrame(a)))
	if len(products) != 0 || len(failed) != 0 {
		t.Errorf("products = %d, failed = %d, want a quiet skip", len(products), len(failed))
	}
}

func TestCRLProduct(t *testing.T) {
	s := testSynth()
	c := &level0.CRL{
		ProductID:       8,
		ProductRangeNM:  100,
		OFlag:           1,
		NumberOfReports: 3,
		Reports: []level0.CRLEntry{
			{ReportYearOrMonth: 20, ReportNumber: 123, TextFlag: 1, GraphicsFlag: 1},
			{ReportYearOrMonth: 20, ReportNumber: 124, TextFlag: 1},
			{ReportYearOrMonth: 20, ReportNumber: 125, GraphicsFlag: 1},
		},
	}
	p, err := s.crlProduct(c, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("crlProduct: %v", err)
	}
	if p.Type != types.CRL || p.UniqueName != "CRL-8--83~40" || p.Station != "-83~40" {
		t.Errorf("identity = %s %s %s", p.Type, p.UniqueName, p.Station)
	}
	if p.ProductID != 8 || p.RangeNM != 100 || !p.HasOverflow {
		t.Errorf("product id = %d, range = %d, overflow = %v", p.ProductID, p.RangeNM, p.HasOverflow)
	}
	want := []string{"20-123/TG", "20-124/TO", "20-125/GO"}
	if !reflect.DeepEqual(p.Reports, want) {
		t.Errorf("reports = %v, want %v", p.Reports, want)
	}
	if !p.NoDedup {
		t.Error("report list dedups")
	}
	if !p.ExpirationTime.Equal(baseTime.Add(20 * time.Minute)) {
		t.Errorf("expiration = %s, want the text cadence", p.ExpirationTime)
	}

	// Graphics only products refresh faster.
	c.ProductID = level0.ProductGAirmet
	p, err = s.crlProduct(c, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("crlProduct: %v", err)
	}
	if !p.ExpirationTime.Equal(baseTime.Add(10 * time.Minute)) {
		t.Errorf("expiration = %s, want the graphics cadence", p.ExpirationTime)
	}
}

func TestCRLRejects(t *testing.T) {
	s := testSynth()
	if _, err := s.crlProduct(&level0.CRL{ProductID: 63}, "x", baseTime); !errors.Is(err, ErrCRLProduct) {
		t.Errorf("image product err = %v, want ErrCRLProduct", err)
	}
	c := &level0.CRL{ProductID: 8, Reports: []level0.CRLEntry{{ReportYearOrMonth: 20, ReportNumber: 1}}}
	if _, err := s.crlProduct(c, "x", baseTime); !errors.Is(err, ErrCRLProduct) {
		t.Errorf("flagless report err = %v, want ErrCRLProduct", err)
	}
}

func TestServiceStatusProduct(t *testing.T) {
	s := testSynth()
	ss := &level0.ServiceStatus{Targets: []level0.Target{
		{Services: "T", AddressType: 1, Address: "A12345"},
		{Services: "R", AddressType: 0, Address: "ABCDEF"},
	}}
	p := s.serviceStatusProduct(ss, "-83~40", baseTime)
	if p.Type != types.ServiceStatus || p.UniqueName != "-83~40" {
		t.Errorf("identity = %s %s", p.Type, p.UniqueName)
	}
	if !reflect.DeepEqual(p.Traffic, []string{"A12345/1", "ABCDEF"}) {
		t.Errorf("traffic = %v", p.Traffic)
	}
	if !p.NoDedup || !p.ExpirationTime.Equal(baseTime.Add(40*time.Second)) {
		t.Errorf("dedup = %v, expiration = %s", p.NoDedup, p.ExpirationTime)
	}
}

func TestNotamD(t *testing.T) {
	s := testSynth()
	text := "NOTAM-D KOSU 2008230815 !OSU 08/012 OSU RWY 09R/27L CLSD 2008231500-2008311200"
	a := twgoTextAPDU(level0.ProductNotam, "OSU",
		level0.TwgoText{ReportNumber: 12, ReportYear: 20, ReportStatus: 1, Text: text})

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	if p.Type != types.NotamD {
		t.Fatalf("type = %s", p.Type)
	}
	// D NOTAM numbers recycle per location, so the location joins the
	// identity.
	if p.UniqueName != "20-12-OSU" || p.Location != "OSU" {
		t.Errorf("identity = %s at %s", p.UniqueName, p.Location)
	}
	if p.Accountable != "OSU" || p.Number != "08/012" || p.Affected != "OSU" || p.Keyword != "RWY" {
		t.Errorf("header fields = %s %s %s %s", p.Accountable, p.Number, p.Affected, p.Keyword)
	}
	if p.Contents != "!OSU 08/012 OSU RWY 09R/27L CLSD 2008231500-2008311200" {
		t.Errorf("contents = %q", p.Contents)
	}
	if !p.StartOfActivityTime.Equal(ts(2020, 8, 23, 15, 0)) {
		t.Errorf("start = %s", p.StartOfActivityTime)
	}
	end := ts(2020, 8, 31, 12, 0)
	if !p.EndOfValidityTime.Equal(end) || !p.ExpirationTime.Equal(end) {
		t.Errorf("end = %s, expiration = %s", p.EndOfValidityTime, p.ExpirationTime)
	}
}

func TestNotamFDCKeepsPlainIdentity(t *testing.T) {
	s := testSynth()
	text := "NOTAM-FDC KDCA 2008230815 !FDC 0/4567 ZDC AIRSPACE SEE FDC 2008231500-2008311200"
	a := twgoTextAPDU(level0.ProductNotam, "DCA",
		level0.TwgoText{ReportNumber: 4567, ReportYear: 20, ReportStatus: 1, Text: text})

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	if p.Type != types.NotamFDC || p.UniqueName != "20-4567" {
		t.Errorf("identity = %s %s", p.Type, p.UniqueName)
	}
}

func TestNotamCancel(t *testing.T) {
	s := testSynth()
	a := twgoTextAPDU(level0.ProductNotam, "OSU",
		level0.TwgoText{ReportNumber: 4567, ReportYear: 20, ReportStatus: 0})

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	if p.Type != types.CancelNotam || p.UniqueName != "20-4567" {
		t.Errorf("identity = %s %s", p.Type, p.UniqueName)
	}
	if !p.ExpirationTime.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("expiration = %s", p.ExpirationTime)
	}
}

func TestNotamRenewalCarriesNothing(t *testing.T) {
	s := testSynth()
	a := twgoTextAPDU(level0.ProductNotam, "OSU",
		level0.TwgoText{ReportNumber: 12, ReportYear: 20, ReportStatus: 1, Text: "  \n "})

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	if p != nil {
		t.Errorf("product = %+v, want none", p)
	}
}

func TestNotamTFR(t *testing.T) {
	s := testSynth()
	text := "NOTAM-TFR 0/1234 ZDC SECURITY TFR WASHINGTON DC 2008231200-2008262359 EST"
	a := twgoTextAPDU(level0.ProductNotam, "DCA",
		level0.TwgoText{ReportNumber: 77, ReportYear: 20, ReportStatus: 1, Text: text})

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	if p.Type != types.NotamTFR || p.UniqueName != "20-77" || p.Number != "0/1234" {
		t.Errorf("identity = %s %s %s", p.Type, p.UniqueName, p.Number)
	}
	if p.Contents != text {
		t.Errorf("contents = %q", p.Contents)
	}
	end := ts(2020, 8, 26, 23, 59)
	if !p.EndOfValidityTime.Equal(end) || !p.ExpirationTime.Equal(end) {
		t.Errorf("end = %s, expiration = %s", p.EndOfValidityTime, p.ExpirationTime)
	}
}

func TestNotamTMOAKeyedByMonth(t *testing.T) {
	s := testSynth()
	text := "NOTAM-TMOA KZOB 2008231302 !ZOB 08/321 ZOB AIRSPACE MOA ACT 2008231400-2008231800"
	a := twgoTextAPDU(level0.ProductNotamTMOA, "ZOB",
		level0.TwgoText{ReportNumber: 321, ReportYear: 20, ReportStatus: 1, Text: text})
	a.TimeOpt = 2
	a.Month, a.Day = 8, 23

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	// Activation numbers recycle monthly; the report list keys them
	// by month, not year.
	if p.Type != types.NotamTMOA || p.UniqueName != "8-321" {
		t.Errorf("identity = %s %s", p.Type, p.UniqueName)
	}
	if !p.ExpirationTime.Equal(ts(2020, 8, 23, 18, 0)) {
		t.Errorf("expiration = %s", p.ExpirationTime)
	}
}

func TestNotamPermanent(t *testing.T) {
	s := testSynth()
	text := "NOTAM-D KOSU 2008230815 !OSU 08/013 OSU OBST TOWER LGT OTS 2008231500-PERM"
	a := twgoTextAPDU(level0.ProductNotam, "OSU",
		level0.TwgoText{ReportNumber: 13, ReportYear: 20, ReportStatus: 1, Text: text})

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	if !p.EndOfValidityTime.Equal(time.Date(2038, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %s, want the permanent stand-in", p.EndOfValidityTime)
	}
	// A permanent end never drives the expiration; the flat retention
	// keeps the report refreshing while the station still sends it.
	if !p.ExpirationTime.Equal(baseTime.Add(61 * time.Minute)) {
		t.Errorf("expiration = %s, want flat retention", p.ExpirationTime)
	}
}

func TestNotamSUASubtype(t *testing.T) {
	s := testSynth()
	text := "NOTAM-D KOSU 2008230815 !SUA 08/014 GABBS AIRSPACE SUA ACT 2008231500-2008231800"
	a := twgoTextAPDU(level0.ProductNotam, "OSU",
		level0.TwgoText{ReportNumber: 14, ReportYear: 20, ReportStatus: 1, Text: text})

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	if p.Subtype != "SUA" {
		t.Errorf("subtype = %q, want SUA", p.Subtype)
	}
}

func TestNotamActivityWindow(t *testing.T) {
	s := testSynth()
	text := "NOTAM-D KOSU 2008230815 !OSU 08/015 OSU RWY CLSD 2007201500-2008311200"
	a := twgoTextAPDU(level0.ProductNotam, "OSU",
		level0.TwgoText{ReportNumber: 15, ReportYear: 20, ReportStatus: 1, Text: text})

	if _, err := s.notamProduct(a, "-83~40", baseTime); !errors.Is(err, ErrTimeWindow) {
		t.Errorf("err = %v, want ErrTimeWindow", err)
	}
}

func TestNotamWithGeometry(t *testing.T) {
	s := testSynth()
	text := "NOTAM-TFR 0/1234 ZDC SECURITY TFR 2008231200-2008262359"
	a := twgoTextAPDU(level0.ProductNotam, "DCA",
		level0.TwgoText{ReportNumber: 78, ReportYear: 20, ReportStatus: 1, Text: text})
	a.TwgoGraphics = &level0.TwgoPayload{
		RecordFormat: level0.TwgoGraphicFormat,
		RecordCount:  1,
		GraphicRecords: []level0.TwgoGraphic{
			outlineRecord(3, 17999, [2]float64{-77.1, 38.8}, [2]float64{-77.0, 38.8},
				[2]float64{-77.0, 38.9}, [2]float64{-77.1, 38.8}),
		},
	}

	p, err := s.notamProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("notamProduct: %v", err)
	}
	if len(p.Geometry) != 1 || p.Geometry[0].Kind != types.GeoPolygon {
		t.Fatalf("geometry = %+v", p.Geometry)
	}
	if p.Geometry[0].Altitudes.Top != 17999 {
		t.Errorf("ceiling = %d", p.Geometry[0].Altitudes.Top)
	}
}

func TestFisbUnavailable(t *testing.T) {
	s := testSynth()
	tests := []struct {
		name string
		text string
	}{
		{"current form", "FIS-B 230800Z ZOB,ZID CONUS NEXRAD PRODUCT UNAVAILABLE"},
		{"legacy form", "FIS-B SERVICE OUTAGE 230800Z ZOB,ZID CONUS NEXRAD PRODUCT UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := twgoTextAPDU(level0.ProductNotam, "",
				level0.TwgoText{ReportNumber: 9, ReportYear: 20, ReportStatus: 1, Text: tt.text})
			p, err := s.notamProduct(a, "-83~40", baseTime)
			if err != nil {
				t.Fatalf("notamProduct: %v", err)
			}
			if p.Type != types.FisBUnavailable || p.UniqueName != "20-9" {
				t.Errorf("identity = %s %s", p.Type, p.UniqueName)
			}
			if !reflect.DeepEqual(p.Centers, []string{"ZOB", "ZID"}) {
				t.Errorf("centers = %v", p.Centers)
			}
			if p.Product != "CONUS NEXRAD" {
				t.Errorf("product = %q", p.Product)
			}
			if p.Contents != "CONUS NEXRAD PRODUCT UNAVAILABLE" {
				t.Errorf("contents = %q", p.Contents)
			}
			if !p.IssuedTime.Equal(ts(2020, 8, 23, 8, 0)) {
				t.Errorf("issued = %s", p.IssuedTime)
			}
			if !p.ExpirationTime.Equal(baseTime.Add(20 * time.Minute)) {
				t.Errorf("expiration = %s", p.ExpirationTime)
			}
		})
	}
}

func TestSigwxKeywords(t *testing.T) {
	s := testSynth()
	tests := []struct {
		pid  int
		text string
		typ  string
	}{
		{level0.ProductAirmet, "AIRMET KSLC 230845Z SIERRA FOR IFR", types.AIRMET},
		{level0.ProductSigmet, "SIGMET KZDC 230845Z ROMEO 1 VALID", types.SIGMET},
		{level0.ProductSigmet, "WST KZME 230845Z CONVECTIVE SIGMET 17C", types.WST},
		{level0.ProductCWA, "CWA KZOB 230845Z ZOB1 CWA 101", types.CWA},
		{level0.ProductCWA, "MIS KZOB 230845Z TURBC PIREPS", types.SIGWX},
	}
	for _, tt := range tests {
		t.Run(tt.typ+" "+tt.text[:3], func(t *testing.T) {
			a := twgoTextAPDU(tt.pid, "OSU",
				level0.TwgoText{ReportNumber: 55, ReportYear: 20, ReportStatus: 1, Text: tt.text})
			p, err := s.sigwxProduct(a, "-83~40", baseTime)
			if err != nil {
				t.Fatalf("sigwxProduct: %v", err)
			}
			if p.Type != tt.typ || p.UniqueName != "20-55" {
				t.Errorf("identity = %s %s", p.Type, p.UniqueName)
			}
			if !p.IssuedTime.Equal(ts(2020, 8, 23, 8, 45)) {
				t.Errorf("issued = %s", p.IssuedTime)
			}
			// No graphics, so the flat retention applies.
			if !p.ExpirationTime.Equal(baseTime.Add(61 * time.Minute)) {
				t.Errorf("expiration = %s", p.ExpirationTime)
			}
		})
	}
}

func TestSigwxHeaderWithoutStation(t *testing.T) {
	s := testSynth()
	a := twgoTextAPDU(level0.ProductSigmet, "OSU",
		level0.TwgoText{ReportNumber: 55, ReportYear: 20, ReportStatus: 1, Text: "SIGMET 230845Z CNL SIGMET ROMEO 1"})
	p, err := s.sigwxProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("sigwxProduct: %v", err)
	}
	if p.Type != types.SIGMET || !p.IssuedTime.Equal(ts(2020, 8, 23, 8, 45)) {
		t.Errorf("type = %s, issued = %s", p.Type, p.IssuedTime)
	}
}

func TestSigwxCancel(t *testing.T) {
	s := testSynth()
	tests := []struct {
		pid int
		typ string
	}{
		{level0.ProductAirmet, types.CancelAirmet},
		{level0.ProductSigmet, types.CancelSigmet},
		{level0.ProductCWA, types.CancelCWA},
	}
	for _, tt := range tests {
		a := twgoTextAPDU(tt.pid, "OSU", level0.TwgoText{ReportNumber: 55, ReportYear: 20, ReportStatus: 0})
		p, err := s.sigwxProduct(a, "-83~40", baseTime)
		if err != nil {
			t.Fatalf("sigwxProduct(%d): %v", tt.pid, err)
		}
		if p.Type != tt.typ || p.UniqueName != "20-55" {
			t.Errorf("identity = %s %s, want %s", p.Type, p.UniqueName, tt.typ)
		}
		if !p.ExpirationTime.Equal(baseTime.Add(time.Hour)) {
			t.Errorf("expiration = %s", p.ExpirationTime)
		}
	}
}

func TestSigwxWithGraphics(t *testing.T) {
	s := testSynth()
	a := twgoTextAPDU(level0.ProductSigmet, "OSU",
		level0.TwgoText{ReportNumber: 88, ReportYear: 20, ReportStatus: 1,
			Text: "SIGMET KZDC 230845Z ROMEO 1 VALID UNTIL 231245"})

	rec := outlineRecord(3, 35000, [2]float64{-84.0, 39.0}, [2]float64{-83.0, 39.0},
		[2]float64{-83.0, 40.0}, [2]float64{-84.0, 39.0})
	rec.ApplicabilityOptions = 3
	rec.DateTimeFormat = 1
	rec.Start = &level0.ClockTime{Month: 8, Day: 23, Hour: 9}
	rec.Stop = &level0.ClockTime{Month: 8, Day: 23, Hour: 12, Minute: 45}
	a.TwgoGraphics = &level0.TwgoPayload{
		RecordFormat:   level0.TwgoGraphicFormat,
		RecordCount:    1,
		GraphicRecords: []level0.TwgoGraphic{rec},
	}

	p, err := s.sigwxProduct(a, "-83~40", baseTime)
	if err != nil {
		t.Fatalf("sigwxProduct: %v", err)
	}
	if !p.ForUseFromTime.Equal(ts(2020, 8, 23, 9, 0)) || !p.ForUseToTime.Equal(ts(2020, 8, 23, 12, 45)) {
		t.Errorf("for use = %s to %s", p.ForUseFromTime, p.ForUseToTime)
	}
	if len(p.Geometry) != 1 || p.Geometry[0].Altitudes.Top != 35000 {
		t.Fatalf("geometry = %+v", p.Geometry)
	}
	// Every record carries a stop time, so it drives the expiration.
	if !p.ExpirationTime.Equal(ts(2020, 8, 23, 12, 45)) {
		t.Errorf("expiration = %s", p.ExpirationTime)
	}
}

func TestSigwxGraphicsRejects(t *testing.T) {
	s := testSynth()
	newAPDU := func(rec level0.TwgoGraphic) *level0.APDU {
		a := twgoTextAPDU(level0.ProductSigmet, "OSU",
			level0.TwgoText{ReportNumber: 88, ReportYear: 20, ReportStatus: 1,
				Text: "SIGMET KZDC 230845Z ROMEO 1"})
		a.TwgoGraphics = &level0.TwgoPayload{
			RecordFormat:   level0.TwgoGraphicFormat,
			RecordCount:    1,
			GraphicRecords: []level0.TwgoGraphic{rec},
		}
		return a
	}

	point := level0.TwgoGraphic{GeometryOptions: 9,
		Vertices: []level0.Vertex{{Lon: -83, Lat: 40}}, VertexCount: 1}
	if _, err := s.sigwxProduct(newAPDU(point), "-83~40", baseTime); !errors.Is(err, ErrGeometry) {
		t.Errorf("point overlay err = %v, want ErrGeometry", err)
	}

	far := outlineRecord(3, 35000, [2]float64{-84.0, 39.0}, [2]float64{-83.0, 39.0}, [2]float64{-83.0, 40.0})
	far.ApplicabilityOptions = 3
	far.DateTimeFormat = 1
	far.Start = &level0.ClockTime{Month: 8, Day: 25, Hour: 9}
	far.Stop = &level0.ClockTime{Month: 8, Day: 25, Hour: 12}
	if _, err := s.sigwxProduct(newAPDU(far), "-83~40", baseTime); !errors.Is(err, ErrTimeWindow) {
		t.Errorf("distant window err = %v, want ErrTimeWindow", err)
	}
}

func gairmetAPDU(hour, minute int, recs ...level0.TwgoGraphic) *level0.APDU {
	return &level0.APDU{
		ProductID: level0.ProductGAirmet,
		TimeOpt:   2,
		Month:     8,
		Day:       23,
		Hour:      hour,
		Minute:    minute,
		Twgo: &level0.TwgoPayload{
			RecordFormat:   level0.TwgoGraphicFormat,
			RecordCount:    len(recs),
			GraphicRecords: recs,
		},
	}
}

func gairmetRecord(startHour, stopHour, stopMinute int) level0.TwgoGraphic {
	rec := outlineRecord(3, 4000, [2]float64{-84.0, 39.0}, [2]float64{-83.0, 39.0},
		[2]float64{-83.0, 40.0}, [2]float64{-84.0, 39.0})
	rec.ReportNumber = 88
	rec.ReportYear = 20
	rec.ObjectStatus = 15
	rec.DateTimeFormat = 1
	rec.ApplicabilityOptions = 3
	rec.ElementFlag = 1
	rec.ObjectElement = 6 // IFR
	rec.Start = &level0.ClockTime{Month: 8, Day: 23, Hour: startHour}
	rec.Stop = &level0.ClockTime{Month: 8, Day: 23, Hour: stopHour, Minute: stopMinute}
	return rec
}

func TestGAirmetForecastHours(t *testing.T) {
	s := testSynth()
	tests := []struct {
		name                string
		startHour, stopHour int
		typ                 string
		wantFrom, wantTo    time.Time
	}{
		{"zero hour", 3, 6, types.GAirmet00Hr, ts(2020, 8, 23, 3, 0), ts(2020, 8, 23, 6, 0)},
		{"three hour", 3, 9, types.GAirmet03Hr, ts(2020, 8, 23, 3, 0), ts(2020, 8, 23, 9, 0)},
		{"six hour outlook", 9, 9, types.GAirmet06Hr, ts(2020, 8, 23, 9, 0), ts(2020, 8, 23, 12, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := gairmetAPDU(2, 45, gairmetRecord(tt.startHour, tt.stopHour, 0))
			p, err := s.gairmetProduct(a, "-83~40", baseTime)
			if err != nil {
				t.Fatalf("gairmetProduct: %v", err)
			}
			if p.Type != tt.typ || p.UniqueName != "20-88" {
				t.Errorf("identity = %s %s, want %s", p.Type, p.UniqueName, tt.typ)
			}
			if !p.IssuedTime.Equal(ts(2020, 8, 23, 2, 45)) {
				t.Errorf("issued = %s", p.IssuedTime)
			}
			if !p.ForUseFromTime.Equal(tt.wantFrom) || !p.ForUseToTime.Equal(tt.wantTo) {
				t.Errorf("for use = %s to %s, want %s to %s",
					p.ForUseFromTime, p.ForUseToTime, tt.wantFrom, tt.wantTo)
			}
			if len(p.Geometry) != 1 || p.Geometry[0].Element != "IFR" {
				t.Errorf("geometry = %+v", p.Geometry)
			}
		})
	}
}

func TestGAirmetCancel(t *testing.T) {
	s := testSynth()
	rec := gairmetRecord(3, 6, 0)
	rec.ObjectStatus = 13
	p, err := s.gairmetProduct(gairmetAPDU(2, 45, rec), "-83~40", baseTime)
	if err != nil {
		t.Fatalf("gairmetProduct: %v", err)
	}
	if p.Type != types.CancelGAirmet || p.UniqueName != "20-88" {
		t.Errorf("identity = %s %s", p.Type, p.UniqueName)
	}
	if !p.ExpirationTime.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("expiration = %s", p.ExpirationTime)
	}
}

func TestGAirmetRejects(t *testing.T) {
	s := testSynth()
	tests := []struct {
		name string
		mod  func(*level0.TwgoGraphic)
		want error
	}{
		{"window off the forecast grid", func(r *level0.TwgoGraphic) { r.Stop.Hour, r.Stop.Minute = 7, 30 }, ErrBadText},
		{"reserved object status", func(r *level0.TwgoGraphic) { r.ObjectStatus = 7 }, ErrRecordCount},
		{"wrong date time format", func(r *level0.TwgoGraphic) { r.DateTimeFormat = 2 }, ErrRecordCount},
		{"circle overlay", func(r *level0.TwgoGraphic) { r.GeometryOptions = 7 }, ErrGeometry},
		{"missing applicability", func(r *level0.TwgoGraphic) { r.Start, r.Stop = nil, nil }, ErrRecordCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := gairmetRecord(3, 6, 0)
			tt.mod(&rec)
			if _, err := s.gairmetProduct(gairmetAPDU(2, 45, rec), "-83~40", baseTime); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func suaAPDU(rec level0.TwgoText) *level0.APDU {
	return &level0.APDU{
		ProductID: level0.ProductSUA,
		Twgo: &level0.TwgoPayload{
			RecordFormat: level0.TwgoTextFormat,
			RecordCount:  1,
			TextRecords:  []level0.TwgoText{rec},
		},
	}
}

func TestSUAProduct(t *testing.T) {
	s := testSynth()
	text := "SUA 230845 4321|R5501A|W|R|RESTRICTED 5501A|2008231500|2008231800|050|180||P"
	p, err := s.suaProduct(suaAPDU(level0.TwgoText{ReportNumber: 43, ReportYear: 20, ReportStatus: 1, Text: text}), baseTime)
	if err != nil {
		t.Fatalf("suaProduct: %v", err)
	}
	if p.Type != types.SUA || p.UniqueName != "20-43" {
		t.Errorf("identity = %s %s", p.Type, p.UniqueName)
	}
	d := p.SUA
	if d == nil {
		t.Fatal("no detail")
	}
	if d.ScheduleID != "4321" || d.AirspaceID != "R5501A" || d.Status != "W" || d.AirspaceType != "R" {
		t.Errorf("detail = %+v", d)
	}
	if d.AirspaceName != "RESTRICTED 5501A" || d.ShapeIndicator != "P" {
		t.Errorf("name = %q, shape = %q", d.AirspaceName, d.ShapeIndicator)
	}
	// Altitudes are transmitted in hundreds of feet.
	if d.LowAltitude != 5000 || d.HighAltitude != 18000 {
		t.Errorf("altitudes = %d to %d", d.LowAltitude, d.HighAltitude)
	}
	// A blank separation rule reads as unknown.
	if d.SeparationRule != "U" {
		t.Errorf("separation = %q", d.SeparationRule)
	}
	if !d.StartTime.Equal(ts(2020, 8, 23, 15, 0)) || !d.EndTime.Equal(ts(2020, 8, 23, 18, 0)) {
		t.Errorf("window = %s to %s", d.StartTime, d.EndTime)
	}
	if !p.ExpirationTime.Equal(ts(2020, 8, 23, 18, 0)) {
		t.Errorf("expiration = %s", p.ExpirationTime)
	}
	if d.NFDCID != "" {
		t.Errorf("nfdc id = %q on an 11 field report", d.NFDCID)
	}
}

func TestSUAProductWithIdentities(t *testing.T) {
	s := testSynth()
	text := "SUA 230845 4321|R5501A|W|R|RESTRICTED 5501A|2008231500|2008231800|050|180|A|P|LADEN|LADEN EAST MOA|LAD01|LADEN E"
	p, err := s.suaProduct(suaAPDU(level0.TwgoText{ReportNumber: 43, ReportYear: 20, ReportStatus: 1, Text: text}), baseTime)
	if err != nil {
		t.Fatalf("suaProduct: %v", err)
	}
	d := p.SUA
	if d.SeparationRule != "A" {
		t.Errorf("separation = %q", d.SeparationRule)
	}
	if d.NFDCID != "LADEN" || d.NFDCName != "LADEN EAST MOA" || d.DAFIFID != "LAD01" || d.DAFIFName != "LADEN E" {
		t.Errorf("identities = %q %q %q %q", d.NFDCID, d.NFDCName, d.DAFIFID, d.DAFIFName)
	}
}

func TestSUARejects(t *testing.T) {
	s := testSynth()
	tests := []struct {
		name string
		rec  level0.TwgoText
	}{
		{"cancellation", level0.TwgoText{ReportStatus: 0}},
		{"too few fields", level0.TwgoText{ReportStatus: 1, Text: "SUA 230845 4321|R5501A|W"}},
		{"bad altitude", level0.TwgoText{ReportStatus: 1,
			Text: "SUA 230845 4321|R5501A|W|R|NAME|2008231500|2008231800|LOW|180||P"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.suaProduct(suaAPDU(tt.rec), baseTime); !errors.Is(err, ErrBadText) {
				t.Errorf("err = %v, want ErrBadText", err)
			}
		})
	}
}
