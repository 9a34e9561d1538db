package harvest

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/stationwx/fisb978/internal/store"
	"github.com/stationwx/fisb978/internal/types"
)

// planesGrace keeps a target in the merged service-status pool this
// long past the expiration of the status frame that reported it.
const planesGrace = 40 * time.Second

// crlAnnotate maps a report list's product id to the stored types its
// entries resolve against. Product 12 lists convective SIGMETs under
// the SIGMET id space, and report numbers are shared across the
// airmet/sigmet/cwa family, so those three lists resolve against the
// whole family.
var crlAnnotate = map[int][]string{
	8:  {types.NotamTFR},
	11: {types.AIRMET, types.SIGMET, types.WST, types.CWA, types.SIGWX},
	12: {types.AIRMET, types.SIGMET, types.WST, types.CWA, types.SIGWX},
	14: {types.GAirmet00Hr, types.GAirmet03Hr, types.GAirmet06Hr},
	15: {types.AIRMET, types.SIGMET, types.WST, types.CWA, types.SIGWX},
	16: {types.NotamTRA},
	17: {types.NotamTMOA},
}

// Cancellation targets, searched in storage order.
var (
	notamFamily  = []string{types.NotamD, types.NotamFDC, types.NotamTFR, types.NotamTRA, types.NotamTMOA}
	sigmetFamily = []string{types.SIGMET, types.WST, types.SIGWX}
	airmetFamily = []string{types.AIRMET, types.SIGWX}
	cwaFamily    = []string{types.CWA, types.SIGWX}
	gairmets     = []string{types.GAirmet00Hr, types.GAirmet03Hr, types.GAirmet06Hr}
)

func crlType(productID int) string {
	return fmt.Sprintf("%s%d", types.CRLPrefix, productID)
}

func (c *Curator) buildHandlers() map[string]handlerFunc {
	h := map[string]handlerFunc{
		types.METAR:     c.textWx,
		types.TAF:       c.textWx,
		types.Winds06Hr: c.textWx,
		types.Winds12Hr: c.textWx,
		types.Winds24Hr: c.textWx,
		types.PIREP:     c.pirep,
		types.SUA:       c.sua,

		types.NotamD:    c.notam,
		types.NotamFDC:  c.notam,
		types.NotamTMOA: c.notam,
		types.NotamTRA:  c.notam,
		types.NotamTFR:  c.notam,

		types.AIRMET: c.sigwx,
		types.SIGMET: c.sigwx,
		types.WST:    c.sigwx,
		types.CWA:    c.sigwx,
		types.SIGWX:  c.sigwx,

		types.GAirmet00Hr: c.gairmet,
		types.GAirmet03Hr: c.gairmet,
		types.GAirmet06Hr: c.gairmet,

		types.CancelNotam:   c.cancelNotam,
		types.CancelAirmet:  c.cancelSigwx,
		types.CancelSigmet:  c.cancelSigwx,
		types.CancelCWA:     c.cancelSigwx,
		types.CancelGAirmet: c.cancelGAirmet,

		types.FisBUnavailable: c.storeGated,
		types.ServiceStatus:   c.serviceStatus,
		types.RSR:             c.rsr,
		types.CRL:             c.crl,
	}
	for _, img := range imageList {
		h[img] = c.image
	}
	return h
}

// textWx handles the text weather family: METAR, TAF and the three
// winds-aloft forecasts. The station ident doubles as the unique
// name, so the location field is dropped after the optional
// coordinate lookup.
func (c *Curator) textWx(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, "")
	if err != nil || !changed {
		return err
	}

	if c.cfg.TextWxLocation && c.loc != nil && p.Location != "" {
		fc, err := c.loc.WxPoint(p.Location)
		if err != nil {
			return fmt.Errorf("wx location %q: %w", p.Location, err)
		}
		if fc != nil {
			p.GeoJSON = fc
		}
	}
	p.Location = ""
	return c.put(p)
}

func (c *Curator) pirep(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, "")
	if err != nil || !changed {
		return err
	}

	if c.cfg.PirepLocation && c.loc != nil {
		fc, err := c.loc.PirepPosition(p.Fields["ov"], p.Station, p.UniqueName)
		if err != nil {
			return fmt.Errorf("pirep location: %w", err)
		}
		switch {
		case fc != nil:
			p.GeoJSON = fc
		case c.cfg.SaveUnmatched:
			if err := appendUnmatched(c.cfg.UnmatchedFile, p.Contents); err != nil {
				c.log.WithError(err).Warn("unmatched pirep file")
			}
		}
	}
	return c.put(p)
}

func (c *Curator) sua(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, "")
	if err != nil || !changed {
		return err
	}

	if c.cfg.SUALocation && c.loc != nil && p.SUA != nil {
		fc, err := c.loc.SUAShape(p.SUA.NFDCID, p.SUA.DAFIFID,
			p.SUA.NFDCName, p.SUA.DAFIFName, p.SUA.AirspaceName)
		if err != nil {
			return fmt.Errorf("sua shape: %w", err)
		}
		if fc != nil {
			p.GeoJSON = fc
		}
	}
	return c.put(p)
}

// notam handles the whole NOTAM family. TFR, TRA and TMOA reports are
// tracked by a current report list, which is patched as soon as the
// report lands so its completeness marks never lag.
func (c *Curator) notam(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, "")
	if err != nil || !changed {
		return err
	}
	if err := attachGeoJSON(p); err != nil {
		return fmt.Errorf("%s: %w", p.Key(), err)
	}
	if err := c.put(p); err != nil {
		return err
	}
	if !c.cfg.ImmediateCRLUpdate {
		return nil
	}

	hasTG := p.Contents != "" && p.GeoJSON != nil
	switch p.Type {
	case types.NotamTFR:
		return c.updateCRL(crlType(8), p.UniqueName, p.Station, hasTG)
	case types.NotamTRA:
		return c.updateCRL(crlType(16), p.UniqueName, p.Station, hasTG)
	case types.NotamTMOA:
		return c.updateCRL(crlType(17), p.UniqueName, p.Station, hasTG)
	}
	return nil
}

func (c *Curator) sigwx(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, "")
	if err != nil || !changed {
		return err
	}
	if err := attachGeoJSON(p); err != nil {
		return fmt.Errorf("%s: %w", p.Key(), err)
	}
	if err := c.put(p); err != nil {
		return err
	}
	if !c.cfg.ImmediateCRLUpdate {
		return nil
	}

	hasTG := p.Contents != "" && p.GeoJSON != nil
	switch p.Type {
	case types.AIRMET:
		return c.updateCRL(crlType(11), p.UniqueName, p.Station, hasTG)
	case types.SIGMET, types.WST:
		return c.updateCRL(crlType(12), p.UniqueName, p.Station, hasTG)
	case types.CWA:
		return c.updateCRL(crlType(15), p.UniqueName, p.Station, hasTG)
	}
	// A keyword-less SIGWX report belongs to no report list.
	return nil
}

// gairmet handles the three forecast horizons. G-AIRMETs are graphic
// only, so their report list entries never earn the both-parts star.
func (c *Curator) gairmet(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, "")
	if err != nil || !changed {
		return err
	}
	if err := attachGeoJSON(p); err != nil {
		return fmt.Errorf("%s: %w", p.Key(), err)
	}
	if err := c.put(p); err != nil {
		return err
	}
	if !c.cfg.ImmediateCRLUpdate {
		return nil
	}
	return c.updateCRL(crlType(14), p.UniqueName, p.Station, false)
}

// storeGated stores the product as-is behind the change gate.
func (c *Curator) storeGated(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, "")
	if err != nil || !changed {
		return err
	}
	return c.put(p)
}

// cancelNotam rewrites a NOTAM cancellation into a tombstone of the
// record it cancels. The cancellation does not say which NOTAM class
// the report belonged to, so the stored family decides; an unseen
// report tombstones as NOTAM_D, the dominant class.
func (c *Curator) cancelNotam(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, p.UniqueName)
	if err != nil || !changed {
		return err
	}

	target, err := c.findExisting(notamFamily, p.UniqueName)
	if err != nil {
		return err
	}
	if target == "" {
		target = types.NotamD
	}
	p.Type = target
	p.Cancel = p.UniqueName
	return c.put(p)
}

// cancelSigwx tombstones an AIRMET, SIGMET/WST or CWA cancellation
// over the record it cancels.
func (c *Curator) cancelSigwx(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, p.UniqueName)
	if err != nil || !changed {
		return err
	}

	var family []string
	switch p.Type {
	case types.CancelAirmet:
		family = airmetFamily
	case types.CancelSigmet:
		family = sigmetFamily
	case types.CancelCWA:
		family = cwaFamily
	}
	target, err := c.findExisting(family, p.UniqueName)
	if err != nil {
		return err
	}
	if target == "" {
		target = strings.TrimPrefix(p.Type, "CANCEL_")
	}
	p.Type = target
	p.Cancel = p.UniqueName
	return c.put(p)
}

// cancelGAirmet stores the cancellation under its own type and
// removes the cancelled report from every forecast horizon it may be
// stored under.
func (c *Curator) cancelGAirmet(p *types.Product, digest string) error {
	changed, err := c.gate(p, digest, p.UniqueName)
	if err != nil || !changed {
		return err
	}

	p.Cancel = p.UniqueName
	if err := c.put(p); err != nil {
		return err
	}
	for _, t := range gairmets {
		if err := c.db.Delete(t + "-" + p.UniqueName); err != nil {
			return fmt.Errorf("delete cancelled %s-%s: %w", t, p.UniqueName, err)
		}
	}
	return nil
}

// serviceStatus folds one station's status frame into the merged
// target pool and stores the pool snapshot under that station.
// Targets linger a grace period past their expiration so second-by-
// second frames don't flap the list.
func (c *Curator) serviceStatus(p *types.Product, _ string) error {
	now := c.clk.Now()
	for _, t := range p.Traffic {
		c.planes[t] = p.ExpirationTime
	}
	for addr, exp := range c.planes {
		if now.Sub(exp) >= planesGrace {
			delete(c.planes, addr)
		}
	}

	traffic := make([]string, 0, len(c.planes))
	for addr := range c.planes {
		traffic = append(traffic, addr)
	}
	sort.Strings(traffic)
	p.Traffic = traffic
	return c.put(p)
}

func (c *Curator) rsr(p *types.Product, _ string) error {
	return c.put(p)
}

// crl stores a current report list under its own product-id type,
// keyed by ground station, optionally annotating each entry with a
// star when the listed report is fully held.
func (c *Curator) crl(p *types.Product, _ string) error {
	resolve, ok := crlAnnotate[p.ProductID]
	if !ok {
		return fmt.Errorf("report list for product %d: unknown product id", p.ProductID)
	}

	if c.cfg.AnnotateCRLReports && len(p.Reports) > 0 {
		parts, err := c.db.ReportParts(resolve, "")
		if err != nil {
			return fmt.Errorf("annotate %s: %w", crlType(p.ProductID), err)
		}
		p.Reports = annotateReports(p.Reports, parts)
	}

	p.Type = crlType(p.ProductID)
	p.UniqueName = p.Station
	return c.put(p)
}

// annotateReports stars every listed report the store fully holds: a
// /TG entry needs both the text and graphics halves, /TO and /GO need
// only the record to exist.
func annotateReports(reports []string, parts map[string]store.Parts) []string {
	out := make([]string, len(reports))
	for i, r := range reports {
		r = strings.TrimSuffix(r, "*")
		id := r
		if slash := strings.IndexByte(r, '/'); slash >= 0 {
			id = r[:slash]
		}
		if p, ok := parts[id]; ok {
			if !strings.Contains(r, "/TG") || (p.HasText && p.HasGeo) {
				r += "*"
			}
		}
		out[i] = r
	}
	return out
}

// updateCRL re-annotates a single entry of a stored report list right
// after its report landed.
func (c *Curator) updateCRL(table, reportID, station string, hasTG bool) error {
	rec, err := c.db.Get(table + "-" + station)
	if err != nil {
		return fmt.Errorf("fetch %s-%s: %w", table, station, err)
	}
	if rec == nil {
		return nil
	}

	crl, err := types.FromJSON(rec.Payload)
	if err != nil {
		return fmt.Errorf("decode %s-%s: %w", table, station, err)
	}

	for i, r := range crl.Reports {
		if !strings.HasPrefix(r, reportID+"/") {
			continue
		}
		r = strings.TrimSuffix(r, "*")
		if !strings.Contains(r, "/TG") || hasTG {
			r += "*"
		}
		crl.Reports[i] = r
		break
	}
	return c.put(crl)
}

// findExisting returns the first type in family with a stored record
// for the unique name.
func (c *Curator) findExisting(family []string, unique string) (string, error) {
	for _, t := range family {
		rec, err := c.db.Get(t + "-" + unique)
		if err != nil {
			return "", fmt.Errorf("fetch %s-%s: %w", t, unique, err)
		}
		if rec != nil {
			return t, nil
		}
	}
	return "", nil
}

func appendUnmatched(path, contents string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, contents)
	return err
}
