package arbiter

// ledgerKey is the (reporter, subject) pair a safe-txn-id is recorded under.
type ledgerKey struct {
	reporter uint64
	subject  uint64
}

// Ledger maps (reporter, subject) -> the safe transaction id reporter
// vouches for on subject's behalf. Entries survive a round unless their
// subject was just killed, since a future round may reuse them.
type Ledger struct {
	entries map[ledgerKey]int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[ledgerKey]int64)}
}

// Insert overwrites the (reporter, subject) entry with txn.
func (l *Ledger) Insert(reporter, subject uint64, txn int64) {
	l.entries[ledgerKey{reporter, subject}] = txn
}

// Get returns the recorded safe txn id for (reporter, subject), if any.
func (l *Ledger) Get(reporter, subject uint64) (int64, bool) {
	txn, ok := l.entries[ledgerKey{reporter, subject}]
	return txn, ok
}

// Has reports whether (reporter, subject) has a recorded entry.
func (l *Ledger) Has(reporter, subject uint64) bool {
	_, ok := l.entries[ledgerKey{reporter, subject}]
	return ok
}

// CoversProduct reports whether the ledger has an entry for every
// (survivor, subject) pair with survivor != subject, i.e. whether the
// driver has heard enough to extract a decision.
func (l *Ledger) CoversProduct(survivors, subjects []uint64) bool {
	for _, subject := range subjects {
		for _, survivor := range survivors {
			if survivor == subject {
				continue
			}
			if !l.Has(survivor, subject) {
				return false
			}
		}
	}
	return true
}

// MissingPairs returns the (survivor, subject) pairs CoversProduct would
// still need, used for stall reporting.
func (l *Ledger) MissingPairs(survivors, subjects []uint64) []ledgerKey {
	var missing []ledgerKey
	for _, subject := range subjects {
		for _, survivor := range survivors {
			if survivor == subject {
				continue
			}
			if !l.Has(survivor, subject) {
				missing = append(missing, ledgerKey{reporter: survivor, subject: subject})
			}
		}
	}
	return missing
}

// ClearSubjects removes every entry whose subject is in subjects, called
// once a round's kill set has been decided.
func (l *Ledger) ClearSubjects(subjects map[uint64]struct{}) {
	for key := range l.entries {
		if _, ok := subjects[key.subject]; ok {
			delete(l.entries, key)
		}
	}
}

// Size returns the current number of ledger entries.
func (l *Ledger) Size() int {
	return len(l.entries)
}
