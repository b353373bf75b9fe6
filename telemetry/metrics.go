package telemetry

// Histogram bucket definitions for different latency profiles.
var (
	// RoundDurationBuckets for a full reconfigureOnFault round (send+receive+extract).
	RoundDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// ReceivePhaseBuckets for time spent blocked in the receive loop.
	ReceivePhaseBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}
)

// Arbitration Metrics
var (
	// InTroubleSites tracks the current size of the in-trouble table.
	InTroubleSites Gauge = NoopStat{}

	// FailedSitesTotal tracks the historic size of the failed-sites set.
	FailedSitesTotal Gauge = NoopStat{}

	// StaleUnwitnessedSites tracks the current size of the stale-unwitnessed set.
	StaleUnwitnessedSites Gauge = NoopStat{}

	// RoundsTotal counts completed reconfigureOnFault invocations by outcome
	// (decided, empty, error). An aborted round returns an empty decision and
	// is counted as empty.
	RoundsTotal CounterVec = noopCounterVec{}

	// RoundDurationSeconds measures the latency of a single reconfigureOnFault call.
	RoundDurationSeconds Histogram = NoopStat{}

	// ReceivePhaseSeconds measures time spent in discoverGlobalFaultData_rcv.
	ReceivePhaseSeconds Histogram = NoopStat{}

	// DiscardsTotal counts FaultMessages discarded by classifier verdict.
	DiscardsTotal CounterVec = noopCounterVec{}

	// KillSetSize measures the size of the kill set chosen by nextKill per round.
	KillSetSize Histogram = NoopStat{}

	// ForwardsSentTotal counts SiteFailureForwardMessages sent to non-witnesses.
	ForwardsSentTotal Counter = NoopStat{}

	// HeartbeatsSentTotal counts oracle.sendHeartbeats calls during idle receive ticks.
	HeartbeatsSentTotal Counter = NoopStat{}

	// StallWarningsTotal counts stall log emissions during a slow receive phase.
	StallWarningsTotal Counter = NoopStat{}

	// LedgerEntries tracks the current size of the failure-site-update ledger.
	LedgerEntries Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	InTroubleSites = NewGauge(
		"in_trouble_sites",
		"Current number of sites being evaluated in the active arbitration round",
	)
	FailedSitesTotal = NewGauge(
		"failed_sites_total",
		"Historic number of sites this arbiter has evicted",
	)
	StaleUnwitnessedSites = NewGauge(
		"stale_unwitnessed_sites",
		"Current number of sites tracked as stale-unwitnessed from a prior round",
	)
	RoundsTotal = NewCounterVec(
		"rounds_total",
		"Completed reconfigureOnFault invocations by outcome",
		[]string{"outcome"},
	)
	RoundDurationSeconds = NewHistogramWithBuckets(
		"round_duration_seconds",
		"Duration of a reconfigureOnFault call",
		RoundDurationBuckets,
	)
	ReceivePhaseSeconds = NewHistogramWithBuckets(
		"receive_phase_seconds",
		"Duration of the blocking receive phase within a round",
		ReceivePhaseBuckets,
	)
	DiscardsTotal = NewCounterVec(
		"discards_total",
		"FaultMessages discarded by classifier verdict",
		[]string{"verdict"},
	)
	KillSetSize = NewHistogramWithBuckets(
		"kill_set_size",
		"Number of sites chosen for eviction per resolved round",
		[]float64{0, 1, 2, 3, 4, 5, 8, 13},
	)
	ForwardsSentTotal = NewCounter(
		"forwards_sent_total",
		"SiteFailureForwardMessages sent to non-witnesses",
	)
	HeartbeatsSentTotal = NewCounter(
		"heartbeats_sent_total",
		"sendHeartbeats calls issued during idle receive ticks",
	)
	StallWarningsTotal = NewCounter(
		"stall_warnings_total",
		"Stall warnings logged during a slow receive phase",
	)
	LedgerEntries = NewGauge(
		"ledger_entries",
		"Current number of (reporter, subject) entries in the failure-site-update ledger",
	)
}
