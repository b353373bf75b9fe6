// Package arbiter implements the Mesh Failure Arbiter: the single-threaded
// agreement protocol that decides which peer sites to evict from a full
// mesh when one or more are suspected failed, and the safe transaction
// watermark to hand each eviction back to the caller.
package arbiter

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/arbormesh/mesharbiter/aide"
	"github.com/arbormesh/mesharbiter/mailbox"
	"github.com/arbormesh/mesharbiter/telemetry"
	"github.com/arbormesh/mesharbiter/wire"
)

const i64Min = int64(math.MinInt64)

// Driver is the protocol's top-level loop, run by exactly one goroutine. It
// owns the in-trouble table, the stale-unwitnessed set, the forward
// candidate table, and the seeker and ledger it drives each round.
type Driver struct {
	selfHsid uint64
	mb       mailbox.Mailbox
	oracle   aide.MeshAide

	seeker *Seeker
	ledger *Ledger

	receiveTick time.Duration
	stallAfter  time.Duration
	stallEvery  time.Duration

	// snapshotMu guards the fields below for cross-goroutine read access
	// (admin introspection, telemetry polling). Only the driver goroutine
	// ever writes under this lock; the arbitration algorithm itself never
	// blocks on it.
	snapshotMu        sync.RWMutex
	inTrouble         map[uint64]bool
	failedSites       map[uint64]struct{}
	staleUnwitnessed  map[uint64]struct{}
	forwardCandidates map[uint64]wire.SiteFailureForwardMessage
	survivorsCache    []uint64
	ledgerSizeCache   int

	inTroubleCount  atomic.Uint32
	failedSiteCount atomic.Uint32

	// dedup suppresses reprocessing of a SiteFailureMessage/
	// SiteFailureForwardMessage the mailbox redelivers byte-for-byte (NATS
	// gives no exactly-once guarantee, and a flapping link can replay its
	// last send). Keyed by the payload's xxhash, not its content, since the
	// cache only needs to answer "have I seen these exact bytes."
	dedup *lru.Cache[uint64, struct{}]
}

// New creates a Driver. hsIds is supplied per-call to ReconfigureOnFault
// rather than stored, since mesh membership is the caller's concern.
// dedupCacheSize bounds the recently-seen-payload cache; it panics if <= 0,
// matching cfg.Validate's requirement that it be configured positive.
func New(selfHsid uint64, mb mailbox.Mailbox, oracle aide.MeshAide, receiveTick, stallAfter, stallEvery time.Duration, dedupCacheSize int) *Driver {
	dedup, err := lru.New[uint64, struct{}](dedupCacheSize)
	if err != nil {
		panic(err)
	}

	return &Driver{
		selfHsid:          selfHsid,
		mb:                mb,
		oracle:            oracle,
		seeker:            NewSeeker(selfHsid),
		ledger:            NewLedger(),
		receiveTick:       receiveTick,
		stallAfter:        stallAfter,
		stallEvery:        stallEvery,
		inTrouble:         make(map[uint64]bool),
		failedSites:       make(map[uint64]struct{}),
		staleUnwitnessed:  make(map[uint64]struct{}),
		forwardCandidates: make(map[uint64]wire.SiteFailureForwardMessage),
		dedup:             dedup,
	}
}

// seenBefore reports whether payload has already been processed, recording
// it as seen if not.
func (d *Driver) seenBefore(payload []byte) bool {
	digest := xxhash.Sum64(payload)
	if _, ok := d.dedup.Get(digest); ok {
		return true
	}
	d.dedup.Add(digest, struct{}{})
	return false
}

// refreshSurvivorsCache republishes the seeker's current survivor set for
// cross-goroutine readers (admin, telemetry). Called on the arbitration
// goroutine immediately after any operation that changes seeker.Survivors().
func (d *Driver) refreshSurvivorsCache() {
	current := d.seeker.Survivors()
	d.snapshotMu.Lock()
	d.survivorsCache = current
	d.snapshotMu.Unlock()
}

// ledgerInsert inserts into the ledger and republishes its size, so
// LedgerSize() never reads d.ledger from a goroutine other than the one
// that owns it.
func (d *Driver) ledgerInsert(reporter, subject uint64, txn int64) {
	d.ledger.Insert(reporter, subject, txn)
	d.snapshotMu.Lock()
	d.ledgerSizeCache = d.ledger.Size()
	d.snapshotMu.Unlock()
}

// ledgerClearSubjects clears the given subjects from the ledger and
// republishes its size, same rationale as ledgerInsert.
func (d *Driver) ledgerClearSubjects(subjects map[uint64]struct{}) {
	d.ledger.ClearSubjects(subjects)
	d.snapshotMu.Lock()
	d.ledgerSizeCache = d.ledger.Size()
	d.snapshotMu.Unlock()
}

// ReconfigureOnFault runs one pass of the protocol for fm. An empty,
// non-nil map means "no decision yet, keep pumping the mailbox"; a
// non-empty map is the {failed_site: safe_txn_id} decision to act on.
func (d *Driver) ReconfigureOnFault(ctx context.Context, hsIds map[uint64]struct{}, fm wire.FaultMessage) (map[uint64]int64, error) {
	if !d.drainFaultQueue(hsIds, fm) {
		return map[uint64]int64{}, nil
	}

	alive := hsidsMinus(hsIds, d.failedSites)
	d.seeker.StartSeekingFor(alive, d.snapshotInTrouble())
	d.refreshSurvivorsCache()

	if err := d.sendPhase(ctx); err != nil {
		return nil, err
	}

	aborted, err := d.receivePhase(ctx, hsIds)
	if err != nil {
		return nil, err
	}
	if aborted {
		return map[uint64]int64{}, nil
	}

	result, err := d.extractDecision(hsIds)
	if err != nil {
		return nil, err
	}

	d.notifyDanglers(result)
	d.commitRound(result)

	return result, nil
}

// drainFaultQueue applies the classifier to fm and to every additional
// FaultMessage immediately available on the mailbox, folding every
// actionable one into in_trouble. Returns false if nothing passed.
func (d *Driver) drainFaultQueue(hsIds map[uint64]struct{}, fm wire.FaultMessage) bool {
	sawActionable := d.admitFault(hsIds, fm)

	for {
		env, ok := d.mb.Recv([]wire.Subject{wire.Failure})
		if !ok {
			break
		}
		next, err := wire.DecodeFaultMessage(env.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("arbiter: dropping malformed FaultMessage")
			continue
		}
		if d.admitFault(hsIds, next) {
			sawActionable = true
		}
	}

	return sawActionable
}

// admitFault classifies fm and, if actionable, upgrades in_trouble.
func (d *Driver) admitFault(hsIds map[uint64]struct{}, fm wire.FaultMessage) bool {
	verdict := d.classify(hsIds, fm)

	if verdict != DoNot {
		telemetry.DiscardsTotal.With(verdict.String()).Inc()
		log.Info().
			Str("verdict", verdict.String()).
			Uint64("reporting_site", fm.ReportingSite).
			Uint64("failed_site", fm.FailedSite).
			Bool("witnessed", fm.Witnessed).
			Msg("arbiter: discarding fault message")
		return false
	}

	d.upgradeInTrouble(fm.FailedSite, fm.Witnessed)
	return true
}

func (d *Driver) classify(hsIds map[uint64]struct{}, fm wire.FaultMessage) Verdict {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()

	return classify(classifierState{
		selfHsid:         d.selfHsid,
		hsIds:            hsIds,
		failedSites:      d.failedSites,
		inTrouble:        d.inTrouble,
		staleUnwitnessed: d.staleUnwitnessed,
		survivors:        setFromSlice(d.seeker.Survivors()),
	}, fm)
}

// upgradeInTrouble never downgrades a witnessed fault to unwitnessed.
func (d *Driver) upgradeInTrouble(hsid uint64, witnessed bool) {
	d.snapshotMu.Lock()
	defer d.snapshotMu.Unlock()

	if existing, ok := d.inTrouble[hsid]; ok && existing {
		return
	}
	d.inTrouble[hsid] = witnessed
	d.inTroubleCount.Store(uint32(len(d.inTrouble)))
}

// sendPhase is discoverGlobalFaultData_send: broadcast our view of the
// round, seeded with the oracle's idea of each in-trouble peer's watermark.
func (d *Driver) sendPhase(ctx context.Context) error {
	// A payload deduped in a prior round (including one that aborted) must
	// not suppress an identical-looking report in this fresh round; the
	// round boundary is the cache's scope, not the driver's lifetime.
	d.dedup.Purge()

	inTrouble := d.snapshotInTrouble()

	for peer := range inTrouble {
		if peer == d.selfHsid {
			continue
		}
		txn, ok := d.oracle.NewestSafeTransactionForInitiator(ctx, peer)
		if !ok {
			txn = i64Min
		}
		d.ledgerInsert(d.selfHsid, peer, txn)
	}

	safeTxnIDs := make(map[uint64]int64, len(inTrouble))
	for peer := range inTrouble {
		if peer == d.selfHsid {
			continue
		}
		txn, _ := d.ledger.Get(d.selfHsid, peer)
		safeTxnIDs[peer] = txn
	}

	msg := wire.SiteFailureMessage{
		Source:     d.selfHsid,
		Survivors:  d.seeker.Survivors(),
		SafeTxnIDs: safeTxnIDs,
	}

	// Self's own vote is authoritative the instant it's formed; it never
	// needs to round-trip through the mailbox to be registered, and doing
	// so would leave it vulnerable to being shadowed by a stale echo of an
	// earlier aborted round's broadcast sitting ahead of it in the queue.
	d.seeker.Add(msg)

	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	return d.mb.Send(d.seeker.Survivors(), wire.SiteFailureUpdate, payload)
}

// receivePhase is discoverGlobalFaultData_rcv. It returns aborted=true if a
// new actionable fault was observed mid-round.
func (d *Driver) receivePhase(ctx context.Context, hsIds map[uint64]struct{}) (bool, error) {
	subjects := []wire.Subject{wire.Failure, wire.SiteFailureUpdate, wire.SiteFailureForward}

	start := time.Now()
	defer func() { telemetry.ReceivePhaseSeconds.Observe(time.Since(start).Seconds()) }()
	lastStallLog := time.Time{}

	for {
		env, ok := d.mb.RecvBlocking(subjects, d.receiveTick, d.receiveTick)
		if !ok {
			if err := d.oracle.SendHeartbeats(ctx, hsidSetKeys(hsIds)); err != nil {
				log.Warn().Err(err).Msg("arbiter: heartbeat failed")
			} else {
				telemetry.HeartbeatsSentTotal.Inc()
			}

			if elapsed := time.Since(start); elapsed >= d.stallAfter {
				if lastStallLog.IsZero() || time.Since(lastStallLog) >= d.stallEvery {
					d.logStall(hsIds)
					lastStallLog = time.Now()
					telemetry.StallWarningsTotal.Inc()
				}
			}

			if d.haveEnoughAndForwarded(hsIds) {
				return false, nil
			}
			continue
		}

		switch env.Subject {
		case wire.SiteFailureUpdate:
			d.handleSiteFailureUpdate(hsIds, env.Payload)
		case wire.SiteFailureForward:
			d.handleSiteFailureForward(hsIds, env.Payload)
		case wire.Failure:
			fm, err := wire.DecodeFaultMessage(env.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("arbiter: dropping malformed FaultMessage")
				continue
			}
			verdict := d.classify(hsIds, fm)
			if verdict == DoNot {
				d.mb.DeliverFront(env)
				return true, nil
			}
			telemetry.DiscardsTotal.With(verdict.String()).Inc()
			log.Info().Str("verdict", verdict.String()).Msg("arbiter: discarding concurrent fault message")
		}

		d.flushForwardCandidates()

		if d.haveEnoughAndForwarded(hsIds) {
			return false, nil
		}
	}
}

func (d *Driver) handleSiteFailureUpdate(hsIds map[uint64]struct{}, payload []byte) {
	if d.seenBefore(payload) {
		return
	}

	sfm, err := wire.DecodeSiteFailureMessage(payload)
	if err != nil {
		log.Warn().Err(err).Msg("arbiter: dropping malformed SiteFailureMessage")
		return
	}

	if sfm.Source == d.selfHsid {
		// Already registered synchronously in sendPhase; an echo of our own
		// broadcast (fresh or a stale leftover from an aborted round) must
		// never be allowed to re-overwrite our own current vote.
		return
	}
	if _, ok := hsIds[sfm.Source]; !ok {
		return
	}
	if d.isFailed(sfm.Source) {
		return
	}

	for peer, txn := range sfm.SafeTxnIDs {
		if peer == d.selfHsid {
			continue
		}
		if _, ok := hsIds[peer]; !ok {
			continue
		}
		d.ledgerInsert(sfm.Source, peer, txn)
	}

	d.seeker.Add(sfm)
	d.registerForwardCandidate(sfm.Source, wire.SiteFailureForwardMessage{Reporter: d.selfHsid, Inner: sfm})
}

func (d *Driver) handleSiteFailureForward(hsIds map[uint64]struct{}, payload []byte) {
	if d.seenBefore(payload) {
		return
	}

	fsfm, err := wire.DecodeSiteFailureForwardMessage(payload)
	if err != nil {
		log.Warn().Err(err).Msg("arbiter: dropping malformed SiteFailureForwardMessage")
		return
	}

	relay := wire.SiteFailureForwardMessage{Reporter: d.selfHsid, Inner: fsfm.Inner}
	d.registerForwardCandidate(fsfm.Inner.Source, relay)

	_, inHsIds := hsIds[fsfm.Inner.Source]
	if inHsIds && !d.isSurvivor(fsfm.Reporter) && !d.isFailed(fsfm.Reporter) {
		for peer, txn := range fsfm.Inner.SafeTxnIDs {
			if peer == d.selfHsid {
				continue
			}
			if _, ok := hsIds[peer]; !ok {
				continue
			}
			d.ledgerInsert(fsfm.Inner.Source, peer, txn)
		}
		d.seeker.Add(fsfm.Inner)
	}
}

func (d *Driver) registerForwardCandidate(reporter uint64, msg wire.SiteFailureForwardMessage) {
	d.snapshotMu.Lock()
	d.forwardCandidates[reporter] = msg
	d.snapshotMu.Unlock()
}

// flushForwardCandidates forwards any registered candidate to survivors who
// have not yet heard its reporter's report, per seeker.ForWhomSiteIsDead.
func (d *Driver) flushForwardCandidates() {
	d.snapshotMu.Lock()
	candidates := d.forwardCandidates
	d.forwardCandidates = make(map[uint64]wire.SiteFailureForwardMessage, len(candidates))
	d.snapshotMu.Unlock()

	for reporter, msg := range candidates {
		unseenBy := d.seeker.ForWhomSiteIsDead(reporter)
		if len(unseenBy) > 0 {
			payload, err := wire.Encode(msg)
			if err != nil {
				log.Warn().Err(err).Msg("arbiter: failed to encode forward message")
				continue
			}
			if err := d.mb.Send(unseenBy, wire.SiteFailureForward, payload); err != nil {
				log.Warn().Err(err).Msg("arbiter: failed to forward site failure message")
				continue
			}
			telemetry.ForwardsSentTotal.Inc()
		}
	}
}

func (d *Driver) haveEnoughAndForwarded(hsIds map[uint64]struct{}) bool {
	survivors := d.seeker.Survivors()
	subjects := d.inTroubleKeys()

	haveEnough := d.ledger.CoversProduct(survivors, subjects)
	return haveEnough && !d.seeker.NeedForward()
}

func (d *Driver) logStall(hsIds map[uint64]struct{}) {
	missing := d.ledger.MissingPairs(d.seeker.Survivors(), d.inTroubleKeys())
	if len(missing) == 0 {
		return
	}

	pairs := make([]string, 0, len(missing))
	for _, m := range missing {
		pairs = append(pairs, formatPair(m.reporter, m.subject))
	}
	log.Warn().Strs("missing_pairs", pairs).Msg("arbiter: receive phase stalled waiting on survivor reports")
}

// extractDecision is extractGlobalFaultData.
func (d *Driver) extractDecision(hsIds map[uint64]struct{}) (map[uint64]int64, error) {
	toBeKilled := d.seeker.NextKill()
	killSet := setFromSlice(toBeKilled)

	result := make(map[uint64]int64, len(toBeKilled))
	for _, subject := range toBeKilled {
		result[subject] = i64Min
	}

	for subject := range killSet {
		for reporter := range hsIds {
			txn, ok := d.ledger.Get(reporter, subject)
			if !ok {
				continue
			}
			if txn > result[subject] {
				result[subject] = txn
			}
		}
	}

	for _, txn := range result {
		if txn == i64Min {
			return nil, &InvariantViolationError{
				Invariant: "haveNecessaryFaultInfo",
				Detail:    "no ledger entry vouches for a site in the kill set",
			}
		}
	}

	delete(result, d.selfHsid)
	return result, nil
}

// notifyDanglers sends a SiteFailureMessage to current survivors for every
// unwitnessed in-trouble site, so they learn we are severing a link they
// might still consider live.
func (d *Driver) notifyDanglers(result map[uint64]int64) {
	inTrouble := d.snapshotInTrouble()

	hasUnwitnessed := false
	for _, witnessed := range inTrouble {
		if !witnessed {
			hasUnwitnessed = true
			break
		}
	}
	if !hasUnwitnessed {
		return
	}

	survivors := d.seeker.Survivors()
	dests := make([]uint64, 0, len(survivors))
	for _, s := range survivors {
		if s == d.selfHsid {
			continue
		}
		if _, killed := result[s]; killed {
			continue
		}
		dests = append(dests, s)
	}

	msg := wire.SiteFailureMessage{
		Source:     d.selfHsid,
		Survivors:  dests,
		SafeTxnIDs: result,
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		log.Error().Err(err).Msg("arbiter: failed to encode dangler notification")
		return
	}

	if err := d.mb.Send(dests, wire.SiteFailureUpdate, payload); err != nil {
		log.Error().Err(err).Msg("arbiter: failed to notify danglers")
	}
}

// commitRound folds the decision into failed_sites, rolls unresolved
// unwitnessed sites into stale_unwitnessed, and clears per-round state.
func (d *Driver) commitRound(result map[uint64]int64) {
	d.snapshotMu.Lock()
	for subject := range result {
		d.failedSites[subject] = struct{}{}
	}
	d.failedSiteCount.Store(uint32(len(d.failedSites)))

	for subject, witnessed := range d.inTrouble {
		if !witnessed {
			if _, failed := d.failedSites[subject]; !failed {
				d.staleUnwitnessed[subject] = struct{}{}
			}
		}
	}

	d.inTrouble = make(map[uint64]bool)
	d.inTroubleCount.Store(0)
	d.forwardCandidates = make(map[uint64]wire.SiteFailureForwardMessage)
	d.snapshotMu.Unlock()

	killSet := make(map[uint64]struct{}, len(result))
	for subject := range result {
		killSet[subject] = struct{}{}
	}
	d.ledgerClearSubjects(killSet)

	telemetry.KillSetSize.Observe(float64(len(result)))
	d.seeker.Clear()
	d.refreshSurvivorsCache()
}

func (d *Driver) isFailed(hsid uint64) bool {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()
	_, ok := d.failedSites[hsid]
	return ok
}

func (d *Driver) isSurvivor(hsid uint64) bool {
	for _, s := range d.seeker.Survivors() {
		if s == hsid {
			return true
		}
	}
	return false
}

func (d *Driver) snapshotInTrouble() map[uint64]bool {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()

	out := make(map[uint64]bool, len(d.inTrouble))
	for k, v := range d.inTrouble {
		out[k] = v
	}
	return out
}

func (d *Driver) inTroubleKeys() []uint64 {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()

	out := make([]uint64, 0, len(d.inTrouble))
	for k := range d.inTrouble {
		out = append(out, k)
	}
	return out
}

// IsInArbitration reports whether a round is currently active.
func (d *Driver) IsInArbitration() bool {
	return d.inTroubleCount.Load() > 0
}

// FailedSitesCount is the tearing-safe probe of the historic failed set's
// size.
func (d *Driver) FailedSitesCount() uint32 {
	return d.failedSiteCount.Load()
}

// InTroubleCount is the tearing-safe probe of the current round's in-trouble
// set size, satisfying telemetry.ProbeSource.
func (d *Driver) InTroubleCount() int {
	return int(d.inTroubleCount.Load())
}

// StaleUnwitnessedCount satisfies telemetry.ProbeSource.
func (d *Driver) StaleUnwitnessedCount() int {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()
	return len(d.staleUnwitnessed)
}

// SelfHsid returns this site's identifier.
func (d *Driver) SelfHsid() uint64 {
	return d.selfHsid
}

// InTrouble returns a snapshot of the in-trouble table.
func (d *Driver) InTrouble() map[uint64]bool {
	return d.snapshotInTrouble()
}

// FailedSites returns a snapshot of the failed-sites set.
func (d *Driver) FailedSites() []uint64 {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()
	return sortedKeys(d.failedSites)
}

// Survivors returns the seeker's current survivor set.
func (d *Driver) Survivors() []uint64 {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()
	out := make([]uint64, len(d.survivorsCache))
	copy(out, d.survivorsCache)
	return out
}

// StaleUnwitnessed returns a snapshot of the stale-unwitnessed set.
func (d *Driver) StaleUnwitnessed() []uint64 {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()
	return sortedKeys(d.staleUnwitnessed)
}

// LedgerSize returns the current number of ledger entries.
func (d *Driver) LedgerSize() int {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()
	return d.ledgerSizeCache
}

func hsidsMinus(universe map[uint64]struct{}, exclude map[uint64]struct{}) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(universe))
	for hsid := range universe {
		if _, ok := exclude[hsid]; ok {
			continue
		}
		out[hsid] = struct{}{}
	}
	return out
}

func hsidSetKeys(set map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func setFromSlice(ids []uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func formatPair(reporter, subject uint64) string {
	return strconv.FormatUint(reporter, 10) + "->" + strconv.FormatUint(subject, 10)
}
