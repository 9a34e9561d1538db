// Package pipeline wires the four decode stages into one in-process
// run: capture lines in, curated spool documents out. The decoder
// binary and the trickle replay driver both sit on top of it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/level0"
	"github.com/stationwx/fisb978/internal/level1"
	"github.com/stationwx/fisb978/internal/level2"
	"github.com/stationwx/fisb978/internal/level3"
	"github.com/stationwx/fisb978/internal/spool"
	"github.com/stationwx/fisb978/internal/stats"
	"github.com/stationwx/fisb978/internal/types"
)

// Publisher pushes forwarded products onto the live feed. *feed.Feed
// satisfies it; nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, p *types.Product) error
}

// Pipeline drives capture lines through L0 parsing, L1 reassembly,
// L2 synthesis and the L3 change filter, spooling every forwarded
// product for the curator. It is not safe for concurrent use; run one
// per ingest goroutine.
type Pipeline struct {
	cfg   *config.Config
	meter *stats.Stats
	log   *logrus.Entry

	parser *level0.Parser
	rsr    *level0.RSRTracker
	reasm  *level1.Reassembler
	synth  *level2.Synthesizer
	filter *level3.Filter

	writer *spool.Writer
	pub    Publisher

	sinks [4]*stats.Sink
}

// New assembles a pipeline. The spool directory is created if needed
// and the four stage error sinks are truncated. A nil cache gets the
// in-memory digest cache; a nil pub disables the feed.
func New(cfg *config.Config, clk clock.Clock, meter *stats.Stats, cache level3.Cache, pub Publisher) (*Pipeline, error) {
	writer, err := spool.NewWriter(cfg.SpoolDir)
	if err != nil {
		return nil, err
	}

	parser := level0.NewParser(cfg, clk)
	p := &Pipeline{
		cfg:    cfg,
		meter:  meter,
		log:    logrus.WithField("stage", "pipeline"),
		parser: parser,
		rsr:    level0.NewRSRTracker(cfg, clk),
		reasm:  level1.New(cfg, parser),
		synth:  level2.New(cfg),
		filter: level3.New(cfg, cache),
		writer: writer,
		pub:    pub,
	}

	for i := range p.sinks {
		path := filepath.Join(cfg.ErrorDir, fmt.Sprintf("level%d.err", i))
		k, err := stats.OpenSink(path)
		if err != nil {
			p.closeSinks()
			return nil, err
		}
		p.sinks[i] = k
	}
	return p, nil
}

// ProcessLine runs one capture line through every stage. Decode
// failures land in the stage sinks and return nil; a non-nil error
// means the spool cannot be written and the run must stop.
func (p *Pipeline) ProcessLine(ctx context.Context, line string) error {
	pkt, err := p.parser.ParseLine(line)
	if err != nil {
		p.meter.IncrementBadPackets()
		p.sink(0, err, []byte(line))
		return nil
	}
	if pkt == nil {
		return nil
	}
	p.meter.IncrementPackets()
	p.meter.UpdateLastMessageTime()

	if p.rsr != nil {
		if rp := p.rsr.Observe(pkt.RcvdTime, pkt.SiteTier, pkt.Station); rp != nil {
			if err := p.emit(ctx, rp); err != nil {
				return err
			}
		}
	}

	if err := p.reasm.Process(pkt); err != nil {
		p.sink(1, err, []byte(line))
		return nil
	}
	p.meter.AddFrames(len(pkt.Frames))

	products, failed := p.synth.Process(pkt)
	for _, fe := range failed {
		p.meter.AddFrameErrors(1)
		doc, _ := json.Marshal(fe.Frame)
		p.sink(2, fe, doc)
	}

	p.meter.AddProducts(len(products))
	for _, prod := range products {
		if err := p.emit(ctx, prod); err != nil {
			return err
		}
	}
	return nil
}

// emit runs the change filter and spools the product if it carries
// news. The product's own receive time stamps the spool file, so a
// replayed capture lands in historical order.
func (p *Pipeline) emit(ctx context.Context, prod *types.Product) error {
	fwd, err := p.filter.Forward(ctx, prod, prod.RcvdTime)
	if err != nil {
		doc, _ := prod.ToJSON()
		p.sink(3, err, doc)
		return nil
	}
	if !fwd {
		p.meter.IncrementDuplicates()
		return nil
	}

	doc, err := prod.ToJSON()
	if err != nil {
		p.sink(3, err, nil)
		return nil
	}
	if _, err := p.writer.Write(doc, prod.RcvdTime); err != nil {
		return fmt.Errorf("spool %s: %w", prod.Key(), err)
	}
	p.meter.IncrementSpooled()

	if p.pub != nil {
		if err := p.pub.Publish(ctx, prod); err != nil {
			p.log.WithError(err).WithField("product", prod.Key()).Warn("Feed publish failed")
		}
	}
	return nil
}

// Stats reports reassembly buffer expirations since startup.
func (p *Pipeline) Stats() (segmentTimeouts, twgoOrphans int) {
	return p.reasm.Stats()
}

// Close releases the digest cache and the stage sinks.
func (p *Pipeline) Close() error {
	err := p.filter.Close()
	p.closeSinks()
	return err
}

func (p *Pipeline) sink(stage int, reason error, doc []byte) {
	k := p.sinks[stage]
	if k == nil {
		return
	}
	if err := k.Dump(reason.Error(), doc); err != nil {
		p.log.WithError(err).Error("Error sink write failed")
	}
}

func (p *Pipeline) closeSinks() {
	for _, k := range p.sinks {
		if k != nil {
			k.Close()
		}
	}
}
