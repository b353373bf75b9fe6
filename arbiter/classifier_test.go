package arbiter

import (
	"testing"

	"github.com/arbormesh/mesharbiter/wire"
)

func baseState() classifierState {
	return classifierState{
		selfHsid:         1,
		hsIds:            setFromSlice([]uint64{1, 2, 3, 4}),
		failedSites:      setFromSlice(nil),
		inTrouble:        map[uint64]bool{},
		staleUnwitnessed: setFromSlice(nil),
		survivors:        setFromSlice([]uint64{1, 2, 4}),
	}
}

func TestClassifySuicide(t *testing.T) {
	s := baseState()
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 1, Witnessed: true})
	if v != Suicide {
		t.Fatalf("expected Suicide, got %v", v)
	}
}

func TestClassifyAlreadyFailed(t *testing.T) {
	s := baseState()
	s.failedSites = setFromSlice([]uint64{3})
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 3, Witnessed: true})
	if v != AlreadyFailed {
		t.Fatalf("expected AlreadyFailed, got %v", v)
	}
}

func TestClassifyReporterFailed(t *testing.T) {
	s := baseState()
	s.failedSites = setFromSlice([]uint64{2})
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 3, Witnessed: true})
	if v != ReporterFailed {
		t.Fatalf("expected ReporterFailed, got %v", v)
	}
}

func TestClassifyUnknownFailedSite(t *testing.T) {
	s := baseState()
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 99, Witnessed: true})
	if v != Unknown {
		t.Fatalf("expected Unknown, got %v", v)
	}
}

func TestClassifyReporterUnknown(t *testing.T) {
	s := baseState()
	v := classify(s, wire.FaultMessage{ReportingSite: 99, FailedSite: 3, Witnessed: true})
	if v != ReporterUnknown {
		t.Fatalf("expected ReporterUnknown, got %v", v)
	}
}

func TestClassifySelfUnwitnessed(t *testing.T) {
	s := baseState()
	v := classify(s, wire.FaultMessage{ReportingSite: 1, FailedSite: 3, Witnessed: false})
	if v != SelfUnwitnessed {
		t.Fatalf("expected SelfUnwitnessed, got %v", v)
	}
}

func TestClassifyAlreadyKnowSameWitnessLevel(t *testing.T) {
	s := baseState()
	s.inTrouble = map[uint64]bool{3: false}
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 3, Witnessed: false})
	if v != AlreadyKnow {
		t.Fatalf("expected AlreadyKnow, got %v", v)
	}
}

func TestClassifyAlreadyKnowUpgradeStillAlreadyKnow(t *testing.T) {
	s := baseState()
	s.inTrouble = map[uint64]bool{3: true}
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 3, Witnessed: false})
	if v != AlreadyKnow {
		t.Fatalf("expected AlreadyKnow once a witnessed report is on file, got %v", v)
	}
}

func TestClassifyActionableWitnessedReport(t *testing.T) {
	s := baseState()
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 3, Witnessed: true})
	if v != DoNot {
		t.Fatalf("expected DoNot (actionable), got %v", v)
	}
}

func TestClassifyStaleUnwitnessedIntersectsFailed(t *testing.T) {
	s := baseState()
	s.failedSites = setFromSlice([]uint64{5})
	s.staleUnwitnessed = setFromSlice([]uint64{3})
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 3, Witnessed: false, Survivors: []uint64{1, 2, 4, 5}})
	if v != StaleUnwitnessed {
		t.Fatalf("expected StaleUnwitnessed, got %v", v)
	}
}

func TestClassifyStaleUnwitnessedMatchingSurvivors(t *testing.T) {
	s := baseState()
	s.staleUnwitnessed = setFromSlice([]uint64{3})
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 3, Witnessed: false, Survivors: []uint64{1, 2, 4}})
	if v != StaleUnwitnessed {
		t.Fatalf("expected StaleUnwitnessed when the reporter's survivor view matches ours, got %v", v)
	}
}

func TestClassifyStaleUnwitnessedSuppressedDuringActiveRound(t *testing.T) {
	s := baseState()
	s.staleUnwitnessed = setFromSlice([]uint64{3})
	s.inTrouble = map[uint64]bool{4: true}
	v := classify(s, wire.FaultMessage{ReportingSite: 2, FailedSite: 3, Witnessed: false, Survivors: []uint64{1, 2, 4}})
	if v != DoNot {
		t.Fatalf("expected an active round to make the echo actionable again, got %v", v)
	}
}
