package arbiter

import "testing"

func TestLedgerInsertAndGet(t *testing.T) {
	l := NewLedger()
	l.Insert(1, 3, 42)

	txn, ok := l.Get(1, 3)
	if !ok || txn != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", txn, ok)
	}

	if _, ok := l.Get(2, 3); ok {
		t.Fatal("expected no entry for an unrelated reporter")
	}
}

func TestLedgerInsertOverwrites(t *testing.T) {
	l := NewLedger()
	l.Insert(1, 3, 42)
	l.Insert(1, 3, 99)

	txn, _ := l.Get(1, 3)
	if txn != 99 {
		t.Fatalf("expected the later insert to win, got %d", txn)
	}
}

func TestLedgerCoversProductSkipsSelfPairs(t *testing.T) {
	l := NewLedger()
	survivors := []uint64{1, 2, 3}
	subjects := []uint64{3}

	l.Insert(1, 3, 10)
	l.Insert(2, 3, 10)
	// no entry for (3, 3) - it should never be required since 3 == subject.

	if !l.CoversProduct(survivors, subjects) {
		t.Fatal("expected CoversProduct to ignore the (subject, subject) pair")
	}
}

func TestLedgerCoversProductMissingEntry(t *testing.T) {
	l := NewLedger()
	survivors := []uint64{1, 2, 3}
	subjects := []uint64{3}

	l.Insert(1, 3, 10)

	if l.CoversProduct(survivors, subjects) {
		t.Fatal("expected CoversProduct to be false while reporter 2's vote is missing")
	}
}

func TestLedgerMissingPairs(t *testing.T) {
	l := NewLedger()
	survivors := []uint64{1, 2, 3}
	subjects := []uint64{3}

	l.Insert(1, 3, 10)
	missing := l.MissingPairs(survivors, subjects)

	if len(missing) != 1 || missing[0].reporter != 2 || missing[0].subject != 3 {
		t.Fatalf("expected exactly (2, 3) missing, got %+v", missing)
	}
}

func TestLedgerClearSubjectsRemovesOnlyMatchingSubject(t *testing.T) {
	l := NewLedger()
	l.Insert(1, 3, 10)
	l.Insert(1, 4, 20)

	l.ClearSubjects(map[uint64]struct{}{3: {}})

	if l.Has(1, 3) {
		t.Fatal("expected the cleared subject's entry to be gone")
	}
	if !l.Has(1, 4) {
		t.Fatal("expected the untouched subject's entry to survive")
	}
}

func TestLedgerSize(t *testing.T) {
	l := NewLedger()
	if l.Size() != 0 {
		t.Fatalf("expected empty ledger to have size 0, got %d", l.Size())
	}
	l.Insert(1, 3, 10)
	l.Insert(2, 3, 10)
	if l.Size() != 2 {
		t.Fatalf("expected size 2, got %d", l.Size())
	}
}
