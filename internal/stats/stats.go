// Package stats tracks pipeline counters, exposes them on the admin
// endpoint, and owns the per-stage error sink files.
package stats

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	packetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_packets_total",
		Help: "Uplink packets accepted from the capture feed.",
	})
	badPacketsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_bad_packets_total",
		Help: "Capture lines rejected before framing.",
	})
	framesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_frames_total",
		Help: "UAT frames extracted from accepted packets.",
	})
	frameErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_frame_errors_total",
		Help: "Frames that failed product synthesis.",
	})
	productsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_products_total",
		Help: "Products synthesized from completed frames.",
	})
	duplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_duplicates_total",
		Help: "Products dropped by the change filter.",
	})
	spooledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_spooled_total",
		Help: "Documents written to the spool directory.",
	})
	harvestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_harvested_total",
		Help: "Spool documents applied to the store.",
	})
	harvestErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_harvest_errors_total",
		Help: "Spool documents that failed to apply.",
	})
	expiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_expired_total",
		Help: "Store rows removed by expiration sweeps.",
	})
	doaTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_doa_total",
		Help: "Products already expired on arrival.",
	})
	imagesRenderedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_images_rendered_total",
		Help: "Raster images written to the image directory.",
	})
	storeRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_store_retries_total",
		Help: "Reconnect attempts after a store connectivity failure.",
	})
	sinkWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fisb978_sink_writes_total",
		Help: "Records dumped into stage error sinks.",
	})
)

func init() {
	prometheus.MustRegister(packetsTotal, badPacketsTotal, framesTotal,
		frameErrorsTotal, productsTotal, duplicatesTotal, spooledTotal,
		harvestedTotal, harvestErrorsTotal, expiredTotal, doaTotal,
		imagesRenderedTotal, storeRetriesTotal, sinkWritesTotal)
}

// Stats tracks pipeline processing statistics.
type Stats struct {
	Packets       uint64
	BadPackets    uint64
	Frames        uint64
	FrameErrors   uint64
	Products      uint64
	Duplicates    uint64
	Spooled       uint64
	Harvested     uint64
	HarvestErrors uint64
	Expired       uint64
	DOA           uint64
	Images        uint64
	StoreRetries  uint64

	LastMessageTime time.Time
	started         time.Time

	mu sync.RWMutex
}

// New creates a new Stats instance.
func New() *Stats {
	now := time.Now()
	return &Stats{LastMessageTime: now, started: now}
}

// IncrementPackets counts one accepted uplink packet.
func (s *Stats) IncrementPackets() {
	atomic.AddUint64(&s.Packets, 1)
	packetsTotal.Inc()
}

// IncrementBadPackets counts one rejected capture line.
func (s *Stats) IncrementBadPackets() {
	atomic.AddUint64(&s.BadPackets, 1)
	badPacketsTotal.Inc()
}

// AddFrames counts n extracted frames.
func (s *Stats) AddFrames(n int) {
	atomic.AddUint64(&s.Frames, uint64(n))
	framesTotal.Add(float64(n))
}

// AddFrameErrors counts n frames that failed synthesis.
func (s *Stats) AddFrameErrors(n int) {
	atomic.AddUint64(&s.FrameErrors, uint64(n))
	frameErrorsTotal.Add(float64(n))
}

// AddProducts counts n synthesized products.
func (s *Stats) AddProducts(n int) {
	atomic.AddUint64(&s.Products, uint64(n))
	productsTotal.Add(float64(n))
}

// IncrementDuplicates counts one product dropped by the change filter.
func (s *Stats) IncrementDuplicates() {
	atomic.AddUint64(&s.Duplicates, 1)
	duplicatesTotal.Inc()
}

// IncrementSpooled counts one document written to the spool.
func (s *Stats) IncrementSpooled() {
	atomic.AddUint64(&s.Spooled, 1)
	spooledTotal.Inc()
}

// IncrementHarvested counts one spool document applied to the store.
func (s *Stats) IncrementHarvested() {
	atomic.AddUint64(&s.Harvested, 1)
	harvestedTotal.Inc()
}

// IncrementHarvestErrors counts one spool document that failed to apply.
func (s *Stats) IncrementHarvestErrors() {
	atomic.AddUint64(&s.HarvestErrors, 1)
	harvestErrorsTotal.Inc()
}

// AddExpired counts n rows removed by an expiration sweep.
func (s *Stats) AddExpired(n int64) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&s.Expired, uint64(n))
	expiredTotal.Add(float64(n))
}

// IncrementDOA counts one product that arrived already expired.
func (s *Stats) IncrementDOA() {
	atomic.AddUint64(&s.DOA, 1)
	doaTotal.Inc()
}

// IncrementImages counts one rendered raster image.
func (s *Stats) IncrementImages() {
	atomic.AddUint64(&s.Images, 1)
	imagesRenderedTotal.Inc()
}

// IncrementStoreRetries counts one store reconnect attempt.
func (s *Stats) IncrementStoreRetries() {
	atomic.AddUint64(&s.StoreRetries, 1)
	storeRetriesTotal.Inc()
}

// UpdateLastMessageTime marks now as the most recent activity.
func (s *Stats) UpdateLastMessageTime() {
	s.mu.Lock()
	s.LastMessageTime = time.Now()
	s.mu.Unlock()
}

// GetStats returns a copy of the current statistics.
func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"packets":           atomic.LoadUint64(&s.Packets),
		"bad_packets":       atomic.LoadUint64(&s.BadPackets),
		"frames":            atomic.LoadUint64(&s.Frames),
		"frame_errors":      atomic.LoadUint64(&s.FrameErrors),
		"products":          atomic.LoadUint64(&s.Products),
		"duplicates":        atomic.LoadUint64(&s.Duplicates),
		"spooled":           atomic.LoadUint64(&s.Spooled),
		"harvested":         atomic.LoadUint64(&s.Harvested),
		"harvest_errors":    atomic.LoadUint64(&s.HarvestErrors),
		"expired":           atomic.LoadUint64(&s.Expired),
		"doa":               atomic.LoadUint64(&s.DOA),
		"images":            atomic.LoadUint64(&s.Images),
		"store_retries":     atomic.LoadUint64(&s.StoreRetries),
		"last_message_time": s.LastMessageTime,
		"uptime":            time.Since(s.started),
	}
}

// String returns a readable report of the statistics.
func (s *Stats) String() string {
	s.mu.RLock()
	last := s.LastMessageTime
	started := s.started
	s.mu.RUnlock()

	count := func(v *uint64) string {
		return humanize.Comma(int64(atomic.LoadUint64(v)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Packets: %s\n", count(&s.Packets))
	fmt.Fprintf(&b, "Bad Packets: %s\n", count(&s.BadPackets))
	fmt.Fprintf(&b, "Frames: %s\n", count(&s.Frames))
	fmt.Fprintf(&b, "Frame Errors: %s\n", count(&s.FrameErrors))
	fmt.Fprintf(&b, "Products: %s\n", count(&s.Products))
	fmt.Fprintf(&b, "Duplicates: %s\n", count(&s.Duplicates))
	fmt.Fprintf(&b, "Spooled: %s\n", count(&s.Spooled))
	fmt.Fprintf(&b, "Harvested: %s\n", count(&s.Harvested))
	fmt.Fprintf(&b, "Harvest Errors: %s\n", count(&s.HarvestErrors))
	fmt.Fprintf(&b, "Expired: %s\n", count(&s.Expired))
	fmt.Fprintf(&b, "Dead On Arrival: %s\n", count(&s.DOA))
	fmt.Fprintf(&b, "Images: %s\n", count(&s.Images))
	fmt.Fprintf(&b, "Store Retries: %s\n", count(&s.StoreRetries))
	fmt.Fprintf(&b, "Last Message: %s\n", humanize.Time(last))
	fmt.Fprintf(&b, "Uptime: %s", time.Since(started).Round(time.Second))
	return b.String()
}

// Handler serves the admin endpoint: Prometheus metrics, a liveness
// check, and the plain-text counter report.
func (s *Stats) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, s.String())
	})
	return mux
}

// Sink is a stage error file. The file is truncated at open, so a
// non-empty sink always points at failures from the current run.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenSink creates or truncates the error file at path.
func OpenSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error sink: %w", err)
	}
	return &Sink{f: f, path: path}, nil
}

// Path returns the sink's file path.
func (k *Sink) Path() string { return k.path }

// Dump appends one failure record: the reason as "# " comment lines
// followed by the offending document and a separating blank line.
func (k *Sink) Dump(reason string, doc []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(reason, "\n"), "\n") {
		b.WriteString("# ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.Write(doc)
	if len(doc) > 0 && doc[len(doc)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := k.f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write error sink: %w", err)
	}
	sinkWritesTotal.Inc()
	return nil
}

// Close closes the sink file.
func (k *Sink) Close() error {
	if k.f == nil {
		return nil
	}
	return k.f.Close()
}
