// Package metrics collects counters and histograms describing a
// running simulation: operations completed, transactions committed or
// aborted (broken down by cause), deadlocks detected, and how many
// logical ticks an operation spent queued before it was dispatched.
package metrics

import (
	"sync"
	"time"

	"github.com/mnohosten/repcrec/pkg/concurrent"
)

// Collector accumulates counters for one simulation run. All counters
// are safe for concurrent use, though the simulator itself is single
// threaded; this matters only for the optional admin server, which
// reads metrics from a different goroutine than the one driving ticks.
type Collector struct {
	reads  concurrent.Counter
	writes concurrent.Counter
	ronly  concurrent.Counter

	transactionsStarted   concurrent.Counter
	transactionsCommitted concurrent.Counter

	abortsDeadlock    concurrent.Counter
	abortsSiteFailure concurrent.Counter

	deadlocksDetected concurrent.Counter

	sitesFailed    concurrent.Counter
	sitesRecovered concurrent.Counter

	mu            sync.Mutex
	waitHistogram *WaitHistogram

	startedAt time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		waitHistogram: NewWaitHistogram(1000),
		startedAt:     time.Now(),
	}
}

// RecordRead records a completed two-phase-locked read.
func (c *Collector) RecordRead() { c.reads.Inc() }

// RecordWrite records a completed two-phase-locked write.
func (c *Collector) RecordWrite() { c.writes.Inc() }

// RecordRonly records a completed read-only snapshot read.
func (c *Collector) RecordRonly() { c.ronly.Inc() }

// RecordTransactionStart records a begin/beginRO.
func (c *Collector) RecordTransactionStart() { c.transactionsStarted.Inc() }

// RecordCommit records a successful end(T).
func (c *Collector) RecordCommit() { c.transactionsCommitted.Inc() }

// RecordDeadlockAbort records a transaction chosen as a deadlock victim.
func (c *Collector) RecordDeadlockAbort() {
	c.abortsDeadlock.Inc()
	c.deadlocksDetected.Inc()
}

// RecordSiteFailureAbort records a transaction aborted because a site
// it visited failed.
func (c *Collector) RecordSiteFailureAbort() { c.abortsSiteFailure.Inc() }

// RecordSiteFailed records a fail(s) that found the site up.
func (c *Collector) RecordSiteFailed() { c.sitesFailed.Inc() }

// RecordSiteRecovered records a recover(s).
func (c *Collector) RecordSiteRecovered() { c.sitesRecovered.Inc() }

// RecordWaitTicks records how many logical ticks an op spent in the
// pending queue before it was dispatched (0 if granted immediately).
func (c *Collector) RecordWaitTicks(ticks int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitHistogram.Record(ticks)
}

// Snapshot is a point-in-time, JSON-friendly view of every counter.
type Snapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`

	Reads  uint64 `json:"reads"`
	Writes uint64 `json:"writes"`
	Ronly  uint64 `json:"read_only_reads"`

	TransactionsStarted   uint64 `json:"transactions_started"`
	TransactionsCommitted uint64 `json:"transactions_committed"`
	AbortsDeadlock        uint64 `json:"aborts_deadlock"`
	AbortsSiteFailure     uint64 `json:"aborts_site_failure"`
	DeadlocksDetected     uint64 `json:"deadlocks_detected"`

	SitesFailed    uint64 `json:"sites_failed"`
	SitesRecovered uint64 `json:"sites_recovered"`

	WaitTicksBuckets     map[string]uint64 `json:"wait_ticks_buckets"`
	WaitTicksPercentiles map[string]int64  `json:"wait_ticks_percentiles"`
}

// Snapshot returns a consistent snapshot of every counter.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	buckets := c.waitHistogram.Buckets()
	percentiles := c.waitHistogram.Percentiles()
	c.mu.Unlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startedAt).Seconds(),

		Reads:  c.reads.Load(),
		Writes: c.writes.Load(),
		Ronly:  c.ronly.Load(),

		TransactionsStarted:   c.transactionsStarted.Load(),
		TransactionsCommitted: c.transactionsCommitted.Load(),
		AbortsDeadlock:        c.abortsDeadlock.Load(),
		AbortsSiteFailure:     c.abortsSiteFailure.Load(),
		DeadlocksDetected:     c.deadlocksDetected.Load(),

		SitesFailed:    c.sitesFailed.Load(),
		SitesRecovered: c.sitesRecovered.Load(),

		WaitTicksBuckets:     buckets,
		WaitTicksPercentiles: percentiles,
	}
}

// WaitHistogram buckets how many logical ticks ops spent queued, and
// keeps a bounded ring of recent samples for percentile estimation.
type WaitHistogram struct {
	bucket0      uint64 // dispatched immediately
	bucket1to2   uint64
	bucket3to5   uint64
	bucket6to10  uint64
	bucketOver10 uint64

	recent    []int64
	maxRecent int
}

// NewWaitHistogram creates a histogram retaining up to maxRecent samples
// for percentile estimation.
func NewWaitHistogram(maxRecent int) *WaitHistogram {
	return &WaitHistogram{recent: make([]int64, 0, maxRecent), maxRecent: maxRecent}
}

// Record adds one sample. Caller holds the Collector's mutex.
func (h *WaitHistogram) Record(ticks int64) {
	switch {
	case ticks <= 0:
		h.bucket0++
	case ticks <= 2:
		h.bucket1to2++
	case ticks <= 5:
		h.bucket3to5++
	case ticks <= 10:
		h.bucket6to10++
	default:
		h.bucketOver10++
	}

	if len(h.recent) >= h.maxRecent {
		h.recent = h.recent[1:]
	}
	h.recent = append(h.recent, ticks)
}

// Buckets returns the bucket counts.
func (h *WaitHistogram) Buckets() map[string]uint64 {
	return map[string]uint64{
		"0":      h.bucket0,
		"1-2":    h.bucket1to2,
		"3-5":    h.bucket3to5,
		"6-10":   h.bucket6to10,
		"10+":    h.bucketOver10,
	}
}

// Percentiles computes p50/p95/p99 over the retained recent samples.
func (h *WaitHistogram) Percentiles() map[string]int64 {
	if len(h.recent) == 0 {
		return map[string]int64{"p50": 0, "p95": 0, "p99": 0}
	}
	sorted := append([]int64(nil), h.recent...)
	for i := 1; i < len(sorted); i++ {
		key := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > key {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = key
	}
	idx := func(p int) int64 {
		i := len(sorted) * p / 100
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return sorted[i]
	}
	return map[string]int64{"p50": idx(50), "p95": idx(95), "p99": idx(99)}
}
