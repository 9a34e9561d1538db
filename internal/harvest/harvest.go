// Package harvest is the curator stage. It drains the spool
// directory, folds every document into the authoritative store, and
// keeps the derived views current: rendered images, annotated report
// lists, and the merged service-status pool.
package harvest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/level3"
	"github.com/stationwx/fisb978/internal/spool"
	"github.com/stationwx/fisb978/internal/stats"
	"github.com/stationwx/fisb978/internal/store"
	"github.com/stationwx/fisb978/internal/types"
)

// idlePoll is the sleep between spool scans that find nothing.
const idlePoll = 250 * time.Millisecond

// Store is the slice of the datastore the curator drives. *store.Store
// satisfies it.
type Store interface {
	Upsert(rec *store.Record) error
	Get(id string) (*store.Record, error)
	Delete(id string) error
	DeleteExpired(now time.Time) (int64, error)
	FindByType(types ...string) ([]*store.Record, error)
	ReportParts(types []string, subtype string) (map[string]store.Parts, error)
	Changed(id, digest string, at time.Time, cancel string) (bool, error)
	Ping() error
}

// Locator resolves geographic enrichment from the location side
// database. A nil Locator disables enrichment regardless of
// configuration.
type Locator interface {
	WxPoint(ident string) (*types.FeatureCollection, error)
	PirepPosition(ov, station, uniqueName string) (*types.FeatureCollection, error)
	SUAShape(candidates ...string) (*types.FeatureCollection, error)
}

type handlerFunc func(p *types.Product, digest string) error

// Curator owns the harvest loop and the product handlers.
type Curator struct {
	cfg   *config.Config
	db    Store
	loc   Locator
	clk   clock.Clock
	meter *stats.Stats
	log   *logrus.Entry
	sink  *stats.Sink

	handlers map[string]handlerFunc
	images   *imageSet
	planes   map[string]time.Time
	run      *triggerRun

	lastMaint time.Time
}

// New builds a curator over the given store. The clock decides what
// "now" means, so a replayed capture drives the curator with its
// historical time.
func New(cfg *config.Config, db Store, loc Locator, clk clock.Clock, meter *stats.Stats) *Curator {
	c := &Curator{
		cfg:    cfg,
		db:     db,
		loc:    loc,
		clk:    clk,
		meter:  meter,
		log:    logrus.WithField("stage", "harvest"),
		planes: make(map[string]time.Time),
	}
	c.images = newImageSet(cfg, db, clk, c.log, meter)
	c.handlers = c.buildHandlers()
	return c
}

// SetSink routes unprocessable documents into a stage error file.
func (c *Curator) SetSink(k *stats.Sink) { c.sink = k }

// EnableTriggers switches the curator into replay-test mode: state is
// dumped under resultsDir as the clock passes each trigger, and Run
// returns once the last one has fired.
func (c *Curator) EnableTriggers(triggers []Trigger, resultsDir string) {
	c.run = &triggerRun{triggers: triggers, results: resultsDir}
}

// Run drains the spool until the context is cancelled, applying
// maintenance on the configured cadence. In trigger mode it returns
// nil after the final trigger.
func (c *Curator) Run(ctx context.Context) error {
	if err := c.images.reset(); err != nil {
		return err
	}
	if err := c.maintain(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		files, err := spool.Scan(c.cfg.SpoolDir)
		if err != nil {
			return fmt.Errorf("scan spool: %w", err)
		}

		if len(files) == 0 {
			if err := c.clk.SleepUntil(ctx, c.clk.Now().Add(idlePoll)); err != nil {
				return err
			}
			done, err := c.checkTriggers()
			if done || err != nil {
				return err
			}
			if err := c.maybeMaintain(ctx); err != nil {
				return err
			}
			continue
		}

		for _, path := range files {
			doc, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read spool file: %w", err)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove spool file: %w", err)
			}
			if err := c.Apply(ctx, doc); err != nil {
				return err
			}
			done, err := c.checkTriggers()
			if done || err != nil {
				return err
			}
			if err := c.maybeMaintain(ctx); err != nil {
				return err
			}
		}
	}
}

// Apply folds one spool document into the store. Documents that
// cannot be applied land in the error sink; the only error Apply
// returns is a cancelled context while waiting out a store outage.
func (c *Curator) Apply(ctx context.Context, doc []byte) error {
	p, err := types.FromJSON(doc)
	if err != nil {
		c.fail(fmt.Errorf("parse document: %w", err), doc)
		return nil
	}

	now := c.clk.Now()
	if c.cfg.ExpireMessages && !p.ExpirationTime.After(now) {
		// Dead on arrival. Replays of old captures produce these in
		// bulk, so the drop is quiet unless asked for.
		if c.cfg.PrintImmediateExpire {
			c.log.WithFields(logrus.Fields{
				"id":      p.Key(),
				"expired": p.ExpirationTime,
			}).Info("expired on arrival")
		}
		c.meter.IncrementDOA()
		return nil
	}

	h, ok := c.handlers[p.Type]
	if !ok {
		c.fail(fmt.Errorf("unknown product type %q", p.Type), doc)
		return nil
	}

	digest, err := level3.Digest(p)
	if err != nil {
		c.fail(fmt.Errorf("digest: %w", err), doc)
		return nil
	}

	if err := h(p, digest); err != nil {
		if pingErr := c.db.Ping(); pingErr != nil {
			// The document is already off the spool; it is lost, like
			// every message in flight across an outage.
			c.fail(fmt.Errorf("store unavailable, document dropped: %w", err), doc)
			return c.reconnect(ctx)
		}
		c.fail(err, doc)
		return nil
	}

	c.meter.IncrementHarvested()
	c.meter.UpdateLastMessageTime()
	return nil
}

// Sweep runs one maintenance pass immediately: expired rows are
// removed and overdue images re-rendered. The expire-sweep command is
// its only caller; Run drives maintenance on its own cadence.
func (c *Curator) Sweep(ctx context.Context) error {
	return c.maintain(ctx)
}

// maybeMaintain runs maintenance when the configured interval has
// passed since the last run.
func (c *Curator) maybeMaintain(ctx context.Context) error {
	if c.clk.Now().Sub(c.lastMaint) < c.cfg.MaintInterval {
		return nil
	}
	return c.maintain(ctx)
}

// maintain expires stored messages and advances the image lifecycle.
func (c *Curator) maintain(ctx context.Context) error {
	now := c.clk.Now()
	c.lastMaint = now

	if c.cfg.ExpireMessages {
		n, err := c.db.DeleteExpired(now)
		if err != nil {
			if pingErr := c.db.Ping(); pingErr != nil {
				c.log.WithError(err).Warn("expire sweep lost to store outage")
				return c.reconnect(ctx)
			}
			c.fail(fmt.Errorf("expire sweep: %w", err), nil)
		} else if n > 0 {
			c.meter.AddExpired(n)
			c.log.WithField("rows", n).Debug("expired messages")
		}
	}

	c.images.sweep(now, c.fail)
	return nil
}

// reconnect blocks until the store answers a ping again, backing off
// exponentially up to the configured retry interval.
func (c *Curator) reconnect(ctx context.Context) error {
	backoff := time.Second
	if backoff > c.cfg.RetryDBConn {
		backoff = c.cfg.RetryDBConn
	}
	for {
		if err := c.db.Ping(); err == nil {
			c.log.Info("store connection restored")
			return nil
		} else {
			c.log.WithError(err).WithField("retry_in", backoff).Warn("store unavailable")
		}
		c.meter.IncrementStoreRetries()

		if err := c.clk.SleepUntil(ctx, c.clk.Now().Add(backoff)); err != nil {
			return err
		}
		if backoff < c.cfg.RetryDBConn {
			backoff *= 2
			if backoff > c.cfg.RetryDBConn {
				backoff = c.cfg.RetryDBConn
			}
		}
	}
}

// fail records one unprocessable document.
func (c *Curator) fail(reason error, doc []byte) {
	c.meter.IncrementHarvestErrors()
	c.log.WithError(reason).Error("document failed")
	if c.sink != nil {
		if err := c.sink.Dump(reason.Error(), doc); err != nil {
			c.log.WithError(err).Error("error sink write failed")
		}
	}
}

// gate asks the change filter whether this product differs from the
// last stored version of the same id. The id is taken before any
// type rewrite, so cancellations gate under their CANCEL_* name.
func (c *Curator) gate(p *types.Product, digest, cancel string) (bool, error) {
	changed, err := c.db.Changed(p.Key(), digest, c.clk.Now(), cancel)
	if err != nil {
		return false, fmt.Errorf("change gate %s: %w", p.Key(), err)
	}
	if !changed {
		c.meter.IncrementDuplicates()
	}
	return changed, nil
}

// put upserts the product as the current version of its key.
func (c *Curator) put(p *types.Product) error {
	payload, err := p.ToJSON()
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.Key(), err)
	}
	rec := &store.Record{
		ID:             p.Key(),
		Type:           p.Type,
		UniqueName:     p.UniqueName,
		Subtype:        p.Subtype,
		Station:        p.Station,
		HasText:        p.Contents != "",
		HasGeo:         p.GeoJSON != nil,
		InsertTime:     c.clk.Now(),
		ExpirationTime: p.ExpirationTime,
		Payload:        payload,
	}
	if err := c.db.Upsert(rec); err != nil {
		return fmt.Errorf("upsert %s: %w", p.Key(), err)
	}
	return nil
}

// checkTriggers fires any replay triggers the clock has passed. It
// reports true after the final trigger.
func (c *Curator) checkTriggers() (bool, error) {
	if c.run == nil {
		return false, nil
	}
	now := c.clk.Now()
	for c.run.next < len(c.run.triggers) {
		trig := c.run.triggers[c.run.next]
		if now.Before(trig.At) {
			return false, nil
		}
		if err := c.dumpTrigger(trig, now); err != nil {
			return false, fmt.Errorf("trigger %d (%s): %w", trig.Number, trig.Name, err)
		}
		c.log.WithFields(logrus.Fields{
			"trigger": trig.Number,
			"name":    trig.Name,
		}).Info("trigger fired")
		c.run.next++
	}
	return true, nil
}
