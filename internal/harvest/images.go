package harvest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/raster"
	"github.com/stationwx/fisb978/internal/stats"
	"github.com/stationwx/fisb978/internal/store"
	"github.com/stationwx/fisb978/internal/types"
)

// Image lifetimes. Radar and lightning composites mix observation
// times, so blocks older than the latency window relative to the
// newest block are dropped; forecast rasters are replaced whole when
// a new valid time arrives.
const (
	radarRevert    = 75 * time.Minute
	forecastRevert = 105 * time.Minute
	radarLatency   = 10 * time.Minute
)

// imageList names every raster product, in report order.
var imageList = buildImageList()

func buildImageList() []string {
	list := []string{types.NexradRegional, types.NexradConus, types.CloudTops, types.Lightning}
	for alt := 2000; alt <= 24000; alt += 2000 {
		list = append(list, fmt.Sprintf("%s%05d", types.IcingPrefix, alt))
	}
	for alt := 2000; alt <= 24000; alt += 2000 {
		list = append(list, fmt.Sprintf("%s%05d", types.TurbulencePrefix, alt))
	}
	return list
}

type tile struct {
	bins     []byte
	official time.Time
}

// imageState tracks the live blocks of one raster product between
// maintenance sweeps.
type imageState struct {
	name     string
	observed bool          // times are observations, not forecasts
	revert   time.Duration // a block older than this is gone
	latency  time.Duration // 0 means new times replace the image whole

	bins    map[int]tile
	scale   int
	newest  time.Time
	oldest  time.Time
	changed time.Time
	created time.Time
	hasData bool
}

func newImageState(name string) *imageState {
	st := &imageState{name: name, bins: make(map[int]tile)}
	switch name {
	case types.NexradRegional, types.NexradConus, types.Lightning:
		st.observed = true
		st.revert = radarRevert
		st.latency = radarLatency
	default:
		st.revert = forecastRevert
	}
	return st
}

func (st *imageState) clear() {
	st.bins = make(map[int]tile)
	st.newest = time.Time{}
	st.oldest = time.Time{}
	st.changed = time.Time{}
	st.created = time.Time{}
	st.hasData = false
}

// imageRecord is the store row a rendered image advertises.
type imageRecord struct {
	Type            string             `json:"type"`
	UniqueName      string             `json:"unique_name"`
	ObservationTime *time.Time         `json:"observation_time,omitempty"`
	ValidTime       *time.Time         `json:"valid_time,omitempty"`
	BBox            raster.BoundingBox `json:"bbox"`
	InsertTime      time.Time          `json:"insert_time"`
	ExpirationTime  time.Time          `json:"expiration_time"`
}

// imageSet owns the raster lifecycle for every image product.
type imageSet struct {
	cfg      *config.Config
	db       Store
	clk      clock.Clock
	log      *logrus.Entry
	meter    *stats.Stats
	palettes *raster.Set
	states   map[string]*imageState
}

func newImageSet(cfg *config.Config, db Store, clk clock.Clock, log *logrus.Entry, meter *stats.Stats) *imageSet {
	s := &imageSet{
		cfg:      cfg,
		db:       db,
		clk:      clk,
		log:      log,
		meter:    meter,
		palettes: raster.NewSet(cfg),
		states:   make(map[string]*imageState),
	}
	for _, name := range imageList {
		s.states[name] = newImageState(name)
	}
	return s
}

// reset removes every image file and store row left over from a
// previous run. Image state lives in memory, so stale artifacts
// cannot be trusted after a restart.
func (s *imageSet) reset() error {
	if !s.cfg.ProcessImages {
		return nil
	}
	for _, name := range imageList {
		if err := s.removeFiles(name); err != nil {
			return err
		}
		if err := s.db.Delete(types.Image + "-" + name); err != nil {
			return fmt.Errorf("reset image row %s: %w", name, err)
		}
		s.states[name].clear()
	}
	return nil
}

func (s *imageSet) removeFiles(name string) error {
	for _, layer := range s.palettes.LayersFor(name) {
		base := filepath.Join(s.cfg.ImageDir, name+layer.Suffix)
		for _, path := range []string{base + ".png", base + ".pgw"} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
	}
	return nil
}

// process folds one block product into its image state. A duplicate
// of a block already held is ignored; a block newer than everything
// held advances the image's reference time.
func (s *imageSet) process(p *types.Product) error {
	if !s.cfg.ProcessImages {
		return nil
	}
	st, ok := s.states[p.Type]
	if !ok {
		return fmt.Errorf("image type %q: unknown image product", p.Type)
	}

	var official time.Time
	switch {
	case st.observed && p.ObservationTime != nil:
		official = *p.ObservationTime
	case !st.observed && p.ValidTime != nil:
		official = *p.ValidTime
	default:
		return fmt.Errorf("image %s without a reference time", p.Key())
	}

	if held, ok := st.bins[p.BlockNumber]; ok {
		if held.official.Equal(official) && bytes.Equal(held.bins, p.Bins) {
			return nil
		}
	}

	if official.After(st.newest) {
		st.newest = official
		if st.latency == 0 && len(st.bins) > 0 {
			// A new forecast time replaces the raster wholesale.
			st.bins = make(map[int]tile)
		}
	}

	st.bins[p.BlockNumber] = tile{bins: p.Bins, official: official}
	st.scale = p.ScaleFactor
	st.changed = s.clk.Now()
	st.hasData = true
	return nil
}

// sweep ages out stale blocks, tears down images with nothing left,
// and renders whatever changed. Failures are reported through fail
// and never stop the remaining image types.
func (s *imageSet) sweep(now time.Time, fail func(error, []byte)) {
	if !s.cfg.ProcessImages {
		return
	}
	for _, name := range imageList {
		st := s.states[name]
		if !st.hasData {
			continue
		}

		anyChanges := false
		oldest := st.newest
		for bn, t := range st.bins {
			if st.latency > 0 && st.newest.Sub(t.official) >= st.latency {
				delete(st.bins, bn)
				anyChanges = true
				continue
			}
			if now.Sub(t.official) >= st.revert {
				delete(st.bins, bn)
				anyChanges = true
				continue
			}
			if t.official.Before(oldest) {
				oldest = t.official
			}
		}
		st.oldest = oldest
		if anyChanges {
			st.changed = now
		}

		if len(st.bins) == 0 {
			if err := s.removeFiles(name); err != nil {
				fail(err, []byte(name))
			}
			if err := s.db.Delete(types.Image + "-" + name); err != nil {
				fail(fmt.Errorf("delete image row %s: %w", name, err), []byte(name))
			}
			st.clear()
			s.log.WithField("image", name).Debug("image reverted")
			continue
		}

		if err := s.render(st, now); err != nil {
			fail(err, []byte(name))
		}
	}
}

// render writes the PNG and world file for every layer of an image,
// then advertises it in the store. Renders are suppressed while
// blocks are still arriving (the quiet window) and when the files
// already reflect the latest change.
func (s *imageSet) render(st *imageState, now time.Time) error {
	if now.Sub(st.changed) < s.cfg.ImageQuiet {
		return nil
	}
	if st.created.After(st.changed) {
		return nil
	}

	tiles := make(map[int][]byte, len(st.bins))
	for bn, t := range st.bins {
		tiles[bn] = t.bins
	}

	var bounds raster.BoundingBox
	for i, layer := range s.palettes.LayersFor(st.name) {
		img, err := raster.Render(tiles, st.scale, layer)
		if err != nil {
			return fmt.Errorf("render %s%s: %w", st.name, layer.Suffix, err)
		}
		if i == 0 {
			bounds = img.Bounds
		}
		if err := s.writeImage(st.name+layer.Suffix, img); err != nil {
			return err
		}
		s.meter.IncrementImages()
	}

	rec := imageRecord{
		Type:           types.Image,
		UniqueName:     st.name,
		BBox:           bounds,
		InsertTime:     now,
		ExpirationTime: st.oldest.Add(st.revert),
	}
	if st.observed {
		obs := st.oldest
		rec.ObservationTime = &obs
	} else {
		valid := st.oldest
		rec.ValidTime = &valid
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode image row %s: %w", st.name, err)
	}
	err = s.db.Upsert(&store.Record{
		ID:             types.Image + "-" + st.name,
		Type:           types.Image,
		UniqueName:     st.name,
		HasGeo:         true,
		InsertTime:     now,
		ExpirationTime: rec.ExpirationTime,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("upsert image row %s: %w", st.name, err)
	}

	st.created = now
	s.log.WithFields(logrus.Fields{
		"image":  st.name,
		"blocks": len(st.bins),
	}).Debug("image rendered")
	return nil
}

// writeImage lands the PNG and its sidecar world file atomically: a
// temp name first, renamed into place.
func (s *imageSet) writeImage(base string, img *raster.Image) error {
	pngPath := filepath.Join(s.cfg.ImageDir, base+".png")
	if err := writeAtomic(pngPath, img.EncodePNG); err != nil {
		return fmt.Errorf("write %s: %w", pngPath, err)
	}
	pgwPath := filepath.Join(s.cfg.ImageDir, base+".pgw")
	if err := writeAtomic(pgwPath, img.WriteWorldFile); err != nil {
		return fmt.Errorf("write %s: %w", pgwPath, err)
	}
	return nil
}

func writeAtomic(path string, write func(w io.Writer) error) error {
	tmp := path + "." + uuid.NewString()[:8] + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// report formats the state of every live image. Composites that mix
// observation times report their oldest data as the image time; the
// age of a forecast raster runs from its newest valid time.
func (s *imageSet) report(now time.Time) (string, bool) {
	const stamp = "2006/01/02 15:04:05"

	hasImages := false
	var b strings.Builder
	fmt.Fprintf(&b, "Current Image Report at %s\n\n", now.UTC().Format(stamp))
	for _, name := range imageList {
		st := s.states[name]
		if !st.hasData {
			continue
		}
		hasImages = true
		fmt.Fprintf(&b, "%s\n", name)
		if st.observed {
			fmt.Fprintf(&b, "  observation_time: %s\n", st.oldest.UTC().Format(stamp))
			fmt.Fprintf(&b, "  newest_data: %s\n", st.newest.UTC().Format(stamp))
			fmt.Fprintf(&b, "  image_age (mm:ss): %s\n", mmss(now.Sub(st.oldest)))
		} else {
			fmt.Fprintf(&b, "  valid_time: %s\n", st.newest.UTC().Format(stamp))
			fmt.Fprintf(&b, "  image_age (mm:ss): %s\n", mmss(now.Sub(st.newest)))
		}
		fmt.Fprintf(&b, "  last_changed: %s\n", st.changed.UTC().Format(stamp))
	}
	b.WriteString("\n\n")
	return b.String(), hasImages
}

// mmss formats an age as mm:ss; ages over an hour keep counting
// minutes.
func mmss(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// image is the product handler for every raster block type.
func (c *Curator) image(p *types.Product, _ string) error {
	return c.images.process(p)
}
