package telemetry

import (
	"sync"
	"time"
)

// ProbeSource is the read-only probe surface the arbiter driver exposes.
// Reads must never block the arbitration thread (see package arbiter).
type ProbeSource interface {
	InTroubleCount() int
	FailedSitesCount() uint32
	StaleUnwitnessedCount() int
	LedgerSize() int
}

// MetricsCollector periodically samples a ProbeSource and updates gauges.
// It is the only writer of the probe gauges; the arbiter driver updates its
// event counters and histograms (discards, forwards, heartbeats, stalls,
// phase durations, kill-set size) inline on its own goroutine.
type MetricsCollector struct {
	source   ProbeSource
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(source ProbeSource, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection.
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector.
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.source == nil {
		return
	}

	InTroubleSites.Set(float64(mc.source.InTroubleCount()))
	FailedSitesTotal.Set(float64(mc.source.FailedSitesCount()))
	StaleUnwitnessedSites.Set(float64(mc.source.StaleUnwitnessedCount()))
	LedgerEntries.Set(float64(mc.source.LedgerSize()))
}
