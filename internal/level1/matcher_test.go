package level1

import (
	"errors"
	"testing"
	"time"

	"github.com/stationwx/fisb978/internal/level0"
)

func textPayload(number, year, status int, text, location string) *level0.TwgoPayload {
	return &level0.TwgoPayload{
		RecordFormat: level0.TwgoTextFormat,
		Location:     location,
		RecordCount:  1,
		TextRecords: []level0.TwgoText{{
			ReportNumber: number,
			ReportYear:   year,
			ReportStatus: status,
			Text:         text,
		}},
	}
}

func graphicPayload(number, year int, location string) *level0.TwgoPayload {
	return &level0.TwgoPayload{
		RecordFormat: level0.TwgoGraphicFormat,
		Location:     location,
		RecordCount:  1,
		GraphicRecords: []level0.TwgoGraphic{{
			ReportNumber:    number,
			ReportYear:      year,
			OverlayRecordID: 1,
			GeometryOptions: 3,
			Vertices:        []level0.Vertex{{Lon: -84.218445, Lat: 39.90097}},
		}},
	}
}

func twgoAPDU(productID int, tw *level0.TwgoPayload) *level0.APDU {
	return &level0.APDU{ProductID: productID, Twgo: tw, Hour: 20, Minute: 5}
}

func TestMatcherHoldsGraphicsUntilText(t *testing.T) {
	m := NewTwgoMatcher(12 * time.Hour)
	now := baseTime

	out, err := m.Match(twgoAPDU(11, graphicPayload(55, 20, "OSU")), now)
	if err != nil {
		t.Fatalf("graphics: %v", err)
	}
	if out != nil {
		t.Fatalf("graphics without text emitted: %+v", out)
	}

	out, err = m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET TANGO FOR TURB", "OSU")), now.Add(time.Second))
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if out == nil {
		t.Fatal("text not emitted")
	}
	if out.Twgo != nil {
		t.Error("twgo payload not cleared on emit")
	}
	if out.TwgoText == nil || out.TwgoText.TextRecords[0].Text != "AIRMET TANGO FOR TURB" {
		t.Errorf("text half = %+v", out.TwgoText)
	}
	if out.TwgoGraphics == nil || out.TwgoGraphics.GraphicRecords[0].ReportNumber != 55 {
		t.Errorf("graphics half = %+v", out.TwgoGraphics)
	}
}

func TestMatcherTextFirstThenPair(t *testing.T) {
	m := NewTwgoMatcher(12 * time.Hour)
	now := baseTime

	out, err := m.Match(twgoAPDU(12, textPayload(9, 20, 1, "SIGMET ROMEO 2", "MKC")), now)
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if out == nil || out.TwgoText == nil {
		t.Fatal("fresh text should emit immediately")
	}
	if out.TwgoGraphics != nil {
		t.Errorf("graphics attached before any arrived: %+v", out.TwgoGraphics)
	}

	out, err = m.Match(twgoAPDU(12, graphicPayload(9, 20, "MKC")), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("graphics: %v", err)
	}
	if out == nil || out.TwgoText == nil || out.TwgoGraphics == nil {
		t.Fatalf("pair not emitted: %+v", out)
	}
	if out.TwgoText.TextRecords[0].Text != "SIGMET ROMEO 2" {
		t.Errorf("paired text = %q", out.TwgoText.TextRecords[0].Text)
	}
}

func TestMatcherRebroadcastKeepsGraphics(t *testing.T) {
	m := NewTwgoMatcher(12 * time.Hour)
	now := baseTime

	m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET", "OSU")), now)
	m.Match(twgoAPDU(11, graphicPayload(55, 20, "OSU")), now.Add(time.Second))

	// The same text again: the held overlay rides along instead of
	// being lost until the next graphics transmission.
	out, err := m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET", "OSU")), now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("rebroadcast: %v", err)
	}
	if out == nil || out.TwgoGraphics == nil {
		t.Fatalf("rebroadcast lost the overlay: %+v", out)
	}
}

func TestMatcherChangedTextDropsGraphics(t *testing.T) {
	m := NewTwgoMatcher(12 * time.Hour)
	now := baseTime

	m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET OLD", "OSU")), now)
	m.Match(twgoAPDU(11, graphicPayload(55, 20, "OSU")), now.Add(time.Second))

	out, err := m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET NEW", "OSU")), now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("changed text: %v", err)
	}
	if out == nil || out.TwgoText.TextRecords[0].Text != "AIRMET NEW" {
		t.Fatalf("changed text not emitted: %+v", out)
	}
	if out.TwgoGraphics != nil {
		t.Error("stale overlay attached to changed text")
	}

	out, err = m.Match(twgoAPDU(11, graphicPayload(55, 20, "OSU")), now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("new graphics: %v", err)
	}
	if out == nil || out.TwgoText == nil || out.TwgoText.TextRecords[0].Text != "AIRMET NEW" {
		t.Fatalf("new overlay should pair with the new text: %+v", out)
	}
}

func TestMatcherCancellationClearsBothHalves(t *testing.T) {
	m := NewTwgoMatcher(12 * time.Hour)
	now := baseTime

	m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET", "OSU")), now)
	m.Match(twgoAPDU(11, graphicPayload(55, 20, "OSU")), now.Add(time.Second))

	out, err := m.Match(twgoAPDU(11, textPayload(55, 20, 0, "", "OSU")), now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("cancellation: %v", err)
	}
	if out == nil || out.TwgoText == nil || out.TwgoText.TextRecords[0].ReportStatus != 0 {
		t.Fatalf("cancellation not emitted: %+v", out)
	}
	if out.TwgoGraphics != nil {
		t.Error("cancellation carried graphics")
	}

	// Everything about the report is gone; a late overlay is held as
	// if the report had never been seen.
	out, err = m.Match(twgoAPDU(11, graphicPayload(55, 20, "OSU")), now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("late graphics: %v", err)
	}
	if out != nil {
		t.Fatalf("late graphics paired with cancelled report: %+v", out)
	}
}

func TestMatcherRenewals(t *testing.T) {
	m := NewTwgoMatcher(12 * time.Hour)
	now := baseTime

	// Empty active text is a renewal. Only NOTAM-TFRs emit them.
	out, err := m.Match(twgoAPDU(11, textPayload(55, 20, 1, "", "OSU")), now)
	if err != nil {
		t.Fatalf("airmet renewal: %v", err)
	}
	if out != nil {
		t.Fatalf("empty airmet text emitted: %+v", out)
	}

	out, err = m.Match(twgoAPDU(8, textPayload(6733, 20, 1, "", "KOCQ")), now)
	if err != nil {
		t.Fatalf("notam renewal: %v", err)
	}
	if out == nil || out.TwgoText == nil {
		t.Fatal("NOTAM-TFR renewal not emitted")
	}

	// Renewals are not retained for matching.
	out, err = m.Match(twgoAPDU(8, graphicPayload(6733, 20, "KOCQ")), now.Add(time.Second))
	if err != nil {
		t.Fatalf("graphics after renewal: %v", err)
	}
	if out != nil {
		t.Fatalf("graphics paired with a renewal: %+v", out)
	}
}

func TestMatcherKeySeparation(t *testing.T) {
	m := NewTwgoMatcher(12 * time.Hour)
	now := baseTime

	m.Match(twgoAPDU(8, textPayload(70, 20, 1, "TFR TEXT", "KOCQ")), now)

	// Same report number at another airport must not pair.
	out, err := m.Match(twgoAPDU(8, graphicPayload(70, 20, "KMSP")), now.Add(time.Second))
	if err != nil {
		t.Fatalf("other location: %v", err)
	}
	if out != nil {
		t.Fatalf("paired across locations: %+v", out)
	}

	out, err = m.Match(twgoAPDU(8, graphicPayload(70, 20, "KOCQ")), now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("same location: %v", err)
	}
	if out == nil {
		t.Fatal("matching location did not pair")
	}

	// TRA reports reuse numbers across months, so the APDU month is
	// part of the identity.
	aug := twgoAPDU(16, textPayload(12, 21, 1, "TRA AUGUST", "XYZ"))
	aug.Month = 8
	m.Match(aug, now.Add(3*time.Second))

	sep := twgoAPDU(16, graphicPayload(12, 21, "XYZ"))
	sep.Month = 9
	out, err = m.Match(sep, now.Add(4*time.Second))
	if err != nil {
		t.Fatalf("other month: %v", err)
	}
	if out != nil {
		t.Fatalf("paired across months: %+v", out)
	}
}

func TestMatcherEmitsCopies(t *testing.T) {
	m := NewTwgoMatcher(12 * time.Hour)
	now := baseTime

	out, _ := m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET", "OSU")), now)
	out.TwgoText.TextRecords[0].Text = "MANGLED DOWNSTREAM"

	out, err := m.Match(twgoAPDU(11, graphicPayload(55, 20, "OSU")), now.Add(time.Second))
	if err != nil {
		t.Fatalf("graphics: %v", err)
	}
	if got := out.TwgoText.TextRecords[0].Text; got != "AIRMET" {
		t.Errorf("held text = %q, want AIRMET", got)
	}

	out.TwgoGraphics.GraphicRecords[0].Vertices[0].Lat = 0

	out, err = m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET", "OSU")), now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("rebroadcast: %v", err)
	}
	if got := out.TwgoGraphics.GraphicRecords[0].Vertices[0].Lat; got != 39.90097 {
		t.Errorf("held vertex lat = %v, want 39.90097", got)
	}
}

func TestMatcherExpunge(t *testing.T) {
	m := NewTwgoMatcher(time.Hour)
	now := baseTime

	m.Match(twgoAPDU(11, graphicPayload(55, 20, "OSU")), now)

	if n := m.Expunge(now.Add(30 * time.Minute)); n != 0 {
		t.Errorf("expunged %d entries half way through the TTL", n)
	}
	if n := m.Expunge(now.Add(time.Hour)); n != 1 {
		t.Errorf("expunged %d entries at the TTL, want 1", n)
	}

	out, err := m.Match(twgoAPDU(11, textPayload(55, 20, 1, "AIRMET", "OSU")), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if out == nil || out.TwgoGraphics != nil {
		t.Fatalf("expunged overlay resurfaced: %+v", out)
	}
}

func TestMatcherErrors(t *testing.T) {
	twoTexts := &level0.TwgoPayload{
		RecordFormat: level0.TwgoTextFormat,
		RecordCount:  2,
		TextRecords: []level0.TwgoText{
			{ReportNumber: 1, ReportStatus: 1, Text: "A"},
			{ReportNumber: 2, ReportStatus: 1, Text: "B"},
		},
	}

	tests := []struct {
		name string
		apdu *level0.APDU
		want error
	}{
		{"missing payload", &level0.APDU{ProductID: 11}, ErrNoRecords},
		{"two text records", twgoAPDU(11, twoTexts), ErrTextRecordCount},
		{"no text records", twgoAPDU(11, &level0.TwgoPayload{RecordFormat: level0.TwgoTextFormat}), ErrTextRecordCount},
		{"no graphic records", twgoAPDU(11, &level0.TwgoPayload{RecordFormat: level0.TwgoGraphicFormat}), ErrNoRecords},
		{"reserved format", twgoAPDU(11, &level0.TwgoPayload{RecordFormat: 5}), ErrRecordFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewTwgoMatcher(12 * time.Hour)
			if _, err := m.Match(tt.apdu, baseTime); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
