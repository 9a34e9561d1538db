package level0

import (
	"fmt"
	"strings"

	"github.com/stationwx/fisb978/internal/dlac"
)

// crlMaxReports is the most entries a CRL can list. Stations with more
// active reports set the overflow flag instead.
const crlMaxReports = 138

// decodeCRL decodes a current report list frame: a seven byte header
// (shortened to four when no location is sent) followed by three byte
// report entries.
func (p *Parser) decodeCRL(body []byte) (*CRL, error) {
	r := newReader(body)

	c := &CRL{
		ProductID:      int(r.at(0))<<3 | int(r.at(1)&0xE0)>>5,
		ProductRangeNM: int(r.at(2)) * 5,
		TFRNotam:       int(r.at(1)&0x10) >> 4,
		OFlag:          int(r.at(1)&0x02) >> 1,
		LFlag:          int(r.at(1) & 0x01),
	}

	entriesAt := 4
	if c.LFlag == 1 {
		c.Location = dlac.Decode(r.slice(3, 3), p.fourBit)
		c.NumberOfReports = int(r.at(6))
		entriesAt = 7
	} else {
		c.NumberOfReports = int(r.at(3))
	}

	c.Reports = make([]CRLEntry, 0, c.NumberOfReports)
	for i := 0; i < c.NumberOfReports && r.err == nil; i++ {
		off := entriesAt + i*3
		c.Reports = append(c.Reports, CRLEntry{
			ReportYearOrMonth: int(r.at(off) & 0x7F),
			ReportNumber:      int(r.at(off+1)&0x3F)<<8 | int(r.at(off+2)),
			TextFlag:          int(r.at(off+1)&0x80) >> 7,
			GraphicsFlag:      int(r.at(off+1)&0x40) >> 6,
		})
	}

	if r.err != nil {
		return nil, r.err
	}
	if c.NumberOfReports > crlMaxReports {
		return nil, fmt.Errorf("%w: crl lists %d reports", ErrTruncatedFrame, c.NumberOfReports)
	}
	return c, nil
}

// decodeServiceStatus decodes the per-aircraft service entries, four
// bytes each: a flags byte and a 24-bit ICAO address.
func decodeServiceStatus(body []byte) (*ServiceStatus, error) {
	r := newReader(body)
	ss := &ServiceStatus{Targets: make([]Target, 0, len(body)/4)}

	for i := 0; i+3 < len(body); i += 4 {
		b0 := r.at(i)
		addr := int(r.at(i+1))<<16 | int(r.at(i+2))<<8 | int(r.at(i+3))

		ss.Targets = append(ss.Targets, Target{
			Services:    serviceFlags(int(b0&0xF0) >> 4),
			AddressType: int(b0 & 0x07),
			Address:     fmt.Sprintf("%06x", addr),
		})
	}

	if r.err != nil {
		return nil, r.err
	}
	return ss, nil
}

// serviceFlags renders the service nibble as flag letters: T for
// TIS-B, R for ADS-R, S for same-link rebroadcast. X means no services
// and ? a reserved value.
func serviceFlags(services int) string {
	if services == 0 {
		return "X"
	}
	if services >= 8 {
		return "?"
	}
	var sb strings.Builder
	if services&0x01 != 0 {
		sb.WriteByte('T')
	}
	if services&0x02 != 0 {
		sb.WriteByte('R')
	}
	if services&0x04 != 0 {
		sb.WriteByte('S')
	}
	return sb.String()
}
