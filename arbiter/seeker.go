package arbiter

import (
	"sort"
	"strconv"
	"strings"

	"github.com/arbormesh/mesharbiter/wire"
)

// Strategy is a closed tagged variant of kill-set arbitration strategies.
// MatchingCardinality is the only one this arbiter implements; the type
// exists so a future strategy is a new case, not open polymorphism.
type Strategy int

const (
	MatchingCardinality Strategy = iota
)

type seekerReport struct {
	source    uint64
	survivors map[uint64]struct{}
}

// Seeker aggregates witness reports from other sites and computes the kill
// set the mesh should agree on for the current round. One Seeker is reused
// across rounds via Clear().
type Seeker struct {
	strategy Strategy
	selfHsid uint64

	candidates      []uint64 // sorted keys of in_trouble as of startSeekingFor
	survivors       map[uint64]struct{}
	survivorsSorted []uint64

	reports  map[uint64]seekerReport
	notified map[uint64]map[uint64]struct{} // reporter -> recipients already told
}

// NewSeeker creates a Seeker using the matching-cardinality strategy.
func NewSeeker(selfHsid uint64) *Seeker {
	return &Seeker{
		strategy: MatchingCardinality,
		selfHsid: selfHsid,
		reports:  make(map[uint64]seekerReport),
		notified: make(map[uint64]map[uint64]struct{}),
	}
}

// StartSeekingFor initializes a new round. survivors := alive minus every
// in-trouble site already witnessed dead.
func (s *Seeker) StartSeekingFor(alive map[uint64]struct{}, inTrouble map[uint64]bool) {
	s.candidates = make([]uint64, 0, len(inTrouble))
	for hsid := range inTrouble {
		s.candidates = append(s.candidates, hsid)
	}
	sort.Slice(s.candidates, func(i, j int) bool { return s.candidates[i] < s.candidates[j] })

	s.survivors = make(map[uint64]struct{}, len(alive))
	for hsid := range alive {
		if witnessed, ok := inTrouble[hsid]; ok && witnessed {
			continue
		}
		s.survivors[hsid] = struct{}{}
	}
	s.survivorsSorted = sortedKeys(s.survivors)

	s.reports = make(map[uint64]seekerReport)
	s.notified = make(map[uint64]map[uint64]struct{})
}

// Add records a witness report, whether it arrived directly (a
// SiteFailureMessage) or via relay (the Inner of a SiteFailureForwardMessage
// unwrapped by the caller). The graph only cares about the original source.
func (s *Seeker) Add(sfm wire.SiteFailureMessage) {
	survivorSet := make(map[uint64]struct{}, len(sfm.Survivors))
	for _, hsid := range sfm.Survivors {
		survivorSet[hsid] = struct{}{}
	}

	s.reports[sfm.Source] = seekerReport{source: sfm.Source, survivors: survivorSet}

	// Self's own report is already multicast directly to every survivor in
	// sendPhase; it is never a forward candidate, so it must never enter the
	// notified bookkeeping ForWhomSiteIsDead/NeedForward rely on, or it
	// would sit there forever with nobody to resolve it.
	if sfm.Source == s.selfHsid {
		return
	}

	if _, ok := s.notified[sfm.Source]; !ok {
		s.notified[sfm.Source] = map[uint64]struct{}{sfm.Source: {}, s.selfHsid: {}}
	}
}

// killGroup is a set of surviving reporters that assert the exact same
// dead-set for the round's candidates.
type killGroup struct {
	deadSet []uint64
	count   int
}

// NextKill applies the matching-cardinality strategy: the kill set is the
// dead-set asserted by the largest group of mutually agreeing surviving
// reporters, breaking ties by smaller kill-set size and then by ascending
// lexicographic hsid order.
func (s *Seeker) NextKill() []uint64 {
	groups := make(map[string]*killGroup)
	var order []string

	for source, rep := range s.reports {
		if _, ok := s.survivors[source]; !ok {
			continue
		}

		deadSet := s.deadSetFor(rep.survivors)
		key := groupKey(deadSet)

		g, ok := groups[key]
		if !ok {
			g = &killGroup{deadSet: deadSet}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
	}

	sort.Strings(order)

	var best *killGroup
	for _, key := range order {
		g := groups[key]
		if best == nil || isBetterKillSet(g, best) {
			best = g
		}
	}

	if best == nil {
		return nil
	}
	return best.deadSet
}

func isBetterKillSet(candidate, current *killGroup) bool {
	if candidate.count != current.count {
		return candidate.count > current.count
	}
	if len(candidate.deadSet) != len(current.deadSet) {
		return len(candidate.deadSet) < len(current.deadSet)
	}
	for i := range candidate.deadSet {
		if candidate.deadSet[i] != current.deadSet[i] {
			return candidate.deadSet[i] < current.deadSet[i]
		}
	}
	return false
}

// deadSetFor is candidates minus whatever the reporter still considers
// alive, restricted to the candidate set for this round.
func (s *Seeker) deadSetFor(reporterSurvivors map[uint64]struct{}) []uint64 {
	var dead []uint64
	for _, candidate := range s.candidates {
		if _, ok := reporterSurvivors[candidate]; !ok {
			dead = append(dead, candidate)
		}
	}
	return dead
}

// Survivors returns the current best-known survivor set, sorted ascending.
func (s *Seeker) Survivors() []uint64 {
	out := make([]uint64, len(s.survivorsSorted))
	copy(out, s.survivorsSorted)
	return out
}

// ForWhomSiteIsDead returns the current survivors that have not yet been
// told reporter's report, and marks them as told. The driver is expected to
// actually deliver the report to everyone this call returns.
func (s *Seeker) ForWhomSiteIsDead(reporter uint64) []uint64 {
	seen, ok := s.notified[reporter]
	if !ok {
		seen = map[uint64]struct{}{reporter: {}, s.selfHsid: {}}
		s.notified[reporter] = seen
	}

	var unseen []uint64
	for _, hsid := range s.survivorsSorted {
		if _, told := seen[hsid]; !told {
			unseen = append(unseen, hsid)
		}
	}
	for _, hsid := range unseen {
		seen[hsid] = struct{}{}
	}
	return unseen
}

// NeedForward reports whether any known reporter still has survivors who
// have not been told its report.
func (s *Seeker) NeedForward() bool {
	for reporter, seen := range s.notified {
		for _, hsid := range s.survivorsSorted {
			if hsid == reporter {
				continue
			}
			if _, told := seen[hsid]; !told {
				return true
			}
		}
	}
	return false
}

// Clear drops all per-round state.
func (s *Seeker) Clear() {
	s.candidates = nil
	s.survivors = nil
	s.survivorsSorted = nil
	s.reports = make(map[uint64]seekerReport)
	s.notified = make(map[uint64]map[uint64]struct{})
}

func groupKey(ids []uint64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

func sortedKeys(set map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
