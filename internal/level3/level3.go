// Package level3 is the change filter between synthesis and the
// spool. FIS-B retransmits every product on a schedule; level3 drops
// the retransmissions whose content has not changed so the curator
// only works on news. A bounded digest cache remembers what was last
// forwarded per product; a refresh floor re-forwards unchanged
// products periodically so the curator heals from silent store loss.
package level3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/types"
)

// Cache idle expiry and sweep cadence. The longest retransmission
// interval on the link is 15 minutes, so 45 minutes idle means the
// station stopped sending the report.
const (
	idleTTL    = 45 * time.Minute
	sweepEvery = 10 * time.Minute
	maxEntries = 1 << 17
)

// bypassTypes never enter the digest cache. These are the CRL-backed
// report types, whose retransmissions the curator reconciles itself,
// plus the fast-expiring per-station summaries.
var bypassTypes = map[string]bool{
	types.NotamD:          true,
	types.NotamFDC:        true,
	types.NotamTMOA:       true,
	types.NotamTRA:        true,
	types.NotamTFR:        true,
	types.AIRMET:          true,
	types.SIGMET:          true,
	types.WST:             true,
	types.CWA:             true,
	types.SIGWX:           true,
	types.GAirmet00Hr:     true,
	types.GAirmet03Hr:     true,
	types.GAirmet06Hr:     true,
	types.CancelNotam:     true,
	types.CancelCWA:       true,
	types.CancelAirmet:    true,
	types.CancelSigmet:    true,
	types.CancelGAirmet:   true,
	types.FisBUnavailable: true,
	types.CRL:             true,
	types.ServiceStatus:   true,
}

// Cache stores the last forwarded digest per product key and applies
// the forwarding rule. Implementations are safe for concurrent use.
type Cache interface {
	// Check records a sighting of key carrying digest at now and
	// reports whether the product should be forwarded.
	Check(ctx context.Context, key, digest string, now time.Time) (bool, error)
	Close() error
}

// Filter decides which products continue to the spool and feed.
type Filter struct {
	cfg   *config.Config
	cache Cache
}

// New returns a filter over the given digest cache. A nil cache gets
// the in-memory default.
func New(cfg *config.Config, cache Cache) *Filter {
	if cache == nil {
		cache = NewMemoryCache(cfg.RefreshFloor)
	}
	return &Filter{cfg: cfg, cache: cache}
}

// Forward reports whether p carries news the curator has not seen.
func (f *Filter) Forward(ctx context.Context, p *types.Product, now time.Time) (bool, error) {
	if p.NoDedup || bypassTypes[p.Type] {
		return true, nil
	}
	if p.Type == types.PIREP && f.cfg.PirepNoDedup {
		return true, nil
	}
	digest, err := Digest(p)
	if err != nil {
		return false, err
	}
	return f.cache.Check(ctx, p.Key(), digest, now)
}

// Close releases the digest cache.
func (f *Filter) Close() error {
	return f.cache.Close()
}

// Digest returns the SHA-224 hex digest of the product's content. The
// receive-side fields that differ between retransmissions of one
// report, the receive time and the station that heard it, stay out of
// the digest so they never defeat deduplication.
func Digest(p *types.Product) (string, error) {
	c := *p
	c.RcvdTime = time.Time{}
	c.Station = ""
	b, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to digest product: %w", err)
	}
	sum := sha256.Sum224(b)
	return hex.EncodeToString(sum[:]), nil
}

type entry struct {
	digest      string
	lastForward time.Time
	lastSeen    time.Time
}

// MemoryCache is the default single-process digest cache.
type MemoryCache struct {
	floor time.Duration

	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
}

// NewMemoryCache returns a cache with the given refresh floor.
func NewMemoryCache(floor time.Duration) *MemoryCache {
	return &MemoryCache{
		floor:   floor,
		entries: make(map[string]*entry),
	}
}

// Check implements Cache.
func (c *MemoryCache) Check(_ context.Context, key, digest string, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastSweep.IsZero() {
		c.lastSweep = now
	} else if now.Sub(c.lastSweep) >= sweepEvery {
		c.expunge(now)
		c.lastSweep = now
	}

	e, ok := c.entries[key]
	forward := !ok || e.digest != digest || now.Sub(e.lastForward) >= c.floor
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.lastSeen = now
	if forward {
		e.digest = digest
		e.lastForward = now
	}
	if len(c.entries) > maxEntries {
		c.evictOldest()
	}
	return forward, nil
}

func (c *MemoryCache) Close() error { return nil }

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// expunge drops entries the stations have stopped transmitting.
// Callers hold the mutex.
func (c *MemoryCache) expunge(now time.Time) {
	for key, e := range c.entries {
		if now.Sub(e.lastSeen) > idleTTL {
			delete(c.entries, key)
		}
	}
}

// evictOldest removes the least recently seen entry. Callers hold the
// mutex.
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.lastSeen.Before(oldest) {
			oldestKey, oldest = key, e.lastSeen
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
