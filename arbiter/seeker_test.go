package arbiter

import (
	"reflect"
	"testing"

	"github.com/arbormesh/mesharbiter/wire"
)

func mesh(ids ...uint64) map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestSeekerUnanimousWitnessedFailure(t *testing.T) {
	s := NewSeeker(1)
	s.StartSeekingFor(mesh(1, 2, 3, 4), map[uint64]bool{3: true})

	s.Add(wire.SiteFailureMessage{Source: 1, Survivors: []uint64{1, 2, 4}})
	s.Add(wire.SiteFailureMessage{Source: 2, Survivors: []uint64{1, 2, 4}})
	s.Add(wire.SiteFailureMessage{Source: 4, Survivors: []uint64{1, 2, 4}})

	got := s.NextKill()
	if !reflect.DeepEqual(got, []uint64{3}) {
		t.Fatalf("expected kill set {3}, got %v", got)
	}
}

func TestSeekerNoWitnessYieldsEmptyKillSet(t *testing.T) {
	s := NewSeeker(1)
	// unwitnessed: S3 remains a survivor in everyone's belief.
	s.StartSeekingFor(mesh(1, 2, 3, 4), map[uint64]bool{3: false})

	s.Add(wire.SiteFailureMessage{Source: 1, Survivors: []uint64{1, 2, 3, 4}})
	s.Add(wire.SiteFailureMessage{Source: 2, Survivors: []uint64{1, 2, 3, 4}})
	s.Add(wire.SiteFailureMessage{Source: 4, Survivors: []uint64{1, 2, 3, 4}})

	got := s.NextKill()
	if len(got) != 0 {
		t.Fatalf("expected empty kill set, got %v", got)
	}
}

func TestSeekerLargestAgreeingGroupWins(t *testing.T) {
	s := NewSeeker(1)
	s.StartSeekingFor(mesh(1, 2, 3, 4, 5), map[uint64]bool{3: true, 4: true})

	// Reporter 1 and 2 agree both 3 and 4 are dead.
	s.Add(wire.SiteFailureMessage{Source: 1, Survivors: []uint64{1, 2, 5}})
	s.Add(wire.SiteFailureMessage{Source: 2, Survivors: []uint64{1, 2, 5}})
	// Reporter 5 only agrees 3 is dead.
	s.Add(wire.SiteFailureMessage{Source: 5, Survivors: []uint64{1, 2, 4, 5}})

	got := s.NextKill()
	if !reflect.DeepEqual(got, []uint64{3, 4}) {
		t.Fatalf("expected the larger agreeing group's kill set {3,4}, got %v", got)
	}
}

func TestSeekerTiedGroupsPickLexicographicallySmallestDeadSet(t *testing.T) {
	s := NewSeeker(1)
	s.StartSeekingFor(mesh(1, 2, 3, 4, 5), map[uint64]bool{3: true, 4: true, 5: true})

	// Reporter 1 believes only 3 is dead; reporter 2 believes only 4 is
	// dead. Equal-size, equal-count groups: lexicographically smallest wins.
	s.Add(wire.SiteFailureMessage{Source: 1, Survivors: []uint64{1, 2, 4, 5}})
	s.Add(wire.SiteFailureMessage{Source: 2, Survivors: []uint64{1, 2, 3, 5}})

	got := s.NextKill()
	if !reflect.DeepEqual(got, []uint64{3}) {
		t.Fatalf("expected tie-break to favor {3}, got %v", got)
	}
}

func TestSeekerIgnoresReportsFromNonSurvivors(t *testing.T) {
	s := NewSeeker(1)
	s.StartSeekingFor(mesh(1, 2, 3), map[uint64]bool{3: true})

	// Source 3 is itself the candidate being evaluated; its own assertion
	// must not count toward the agreement.
	s.Add(wire.SiteFailureMessage{Source: 3, Survivors: []uint64{1, 2, 3}})

	got := s.NextKill()
	if len(got) != 0 {
		t.Fatalf("expected empty kill set when only a non-survivor reported, got %v", got)
	}
}

func TestSeekerForWhomSiteIsDeadMarksAsTold(t *testing.T) {
	s := NewSeeker(1)
	s.StartSeekingFor(mesh(1, 2, 3, 4), map[uint64]bool{3: true})
	s.Add(wire.SiteFailureMessage{Source: 2, Survivors: []uint64{1, 2, 4}})

	first := s.ForWhomSiteIsDead(2)
	sortUint64(first)
	if !reflect.DeepEqual(first, []uint64{4}) {
		t.Fatalf("expected {4} as unseen on first call, got %v", first)
	}

	second := s.ForWhomSiteIsDead(2)
	if len(second) != 0 {
		t.Fatalf("expected no unseen recipients on second call, got %v", second)
	}
}

func TestSeekerNeedForwardReflectsOutstandingNotifications(t *testing.T) {
	s := NewSeeker(1)
	s.StartSeekingFor(mesh(1, 2, 3, 4), map[uint64]bool{3: true})
	s.Add(wire.SiteFailureMessage{Source: 2, Survivors: []uint64{1, 2, 4}})

	if !s.NeedForward() {
		t.Fatal("expected NeedForward to be true before notifying site 4")
	}

	s.ForWhomSiteIsDead(2)

	if s.NeedForward() {
		t.Fatal("expected NeedForward to be false after all survivors were notified")
	}
}

func TestSeekerClearDropsState(t *testing.T) {
	s := NewSeeker(1)
	s.StartSeekingFor(mesh(1, 2, 3), map[uint64]bool{3: true})
	s.Add(wire.SiteFailureMessage{Source: 2, Survivors: []uint64{1, 2}})

	s.Clear()

	if len(s.Survivors()) != 0 {
		t.Fatal("expected Survivors to be empty after Clear")
	}
	if s.NeedForward() {
		t.Fatal("expected NeedForward to be false after Clear")
	}
}

func sortUint64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
