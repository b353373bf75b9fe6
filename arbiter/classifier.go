package arbiter

import "github.com/arbormesh/mesharbiter/wire"

// Verdict is the outcome of running the discard classifier over an incoming
// FaultMessage. Every verdict except DoNot means the message never enters
// the round.
type Verdict int

const (
	DoNot Verdict = iota
	Suicide
	AlreadyFailed
	ReporterFailed
	Unknown
	ReporterUnknown
	SelfUnwitnessed
	AlreadyKnow
	StaleUnwitnessed
)

func (v Verdict) String() string {
	switch v {
	case Suicide:
		return "suicide"
	case AlreadyFailed:
		return "already_failed"
	case ReporterFailed:
		return "reporter_failed"
	case Unknown:
		return "unknown"
	case ReporterUnknown:
		return "reporter_unknown"
	case SelfUnwitnessed:
		return "self_unwitnessed"
	case AlreadyKnow:
		return "already_know"
	case StaleUnwitnessed:
		return "stale_unwitnessed"
	default:
		return "do_not"
	}
}

// classifierState is the slice of driver state the classifier needs to read.
// It never mutates any of it; classify is a pure function of its inputs.
type classifierState struct {
	selfHsid         uint64
	hsIds            map[uint64]struct{}
	failedSites      map[uint64]struct{}
	inTrouble        map[uint64]bool
	staleUnwitnessed map[uint64]struct{}
	survivors        map[uint64]struct{}
}

// classify decides whether fm is actionable. Test order matters: the first
// matching verdict wins.
func classify(s classifierState, fm wire.FaultMessage) Verdict {
	if fm.FailedSite == s.selfHsid {
		return Suicide
	}
	if _, ok := s.failedSites[fm.FailedSite]; ok {
		return AlreadyFailed
	}
	if _, ok := s.failedSites[fm.ReportingSite]; ok {
		return ReporterFailed
	}
	if _, ok := s.hsIds[fm.FailedSite]; !ok {
		return Unknown
	}
	if _, ok := s.hsIds[fm.ReportingSite]; !ok {
		return ReporterUnknown
	}
	if !fm.Witnessed && fm.ReportingSite == s.selfHsid {
		return SelfUnwitnessed
	}
	if witnessed, known := s.inTrouble[fm.FailedSite]; known {
		if witnessed || witnessed == fm.Witnessed {
			return AlreadyKnow
		}
	}
	if isStaleUnwitnessed(s, fm) {
		return StaleUnwitnessed
	}
	return DoNot
}

func isStaleUnwitnessed(s classifierState, fm wire.FaultMessage) bool {
	if fm.Witnessed {
		return false
	}
	if len(s.inTrouble) != 0 {
		return false
	}
	if _, ok := s.staleUnwitnessed[fm.FailedSite]; !ok {
		return false
	}

	if hsidSetIntersects(fm.Survivors, s.failedSites) {
		return true
	}
	return hsidSliceEqualsSet(fm.Survivors, s.survivors)
}

func hsidSetIntersects(ids []uint64, set map[uint64]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func hsidSliceEqualsSet(ids []uint64, set map[uint64]struct{}) bool {
	if len(ids) != len(set) {
		return false
	}
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
