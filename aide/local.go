package aide

import (
	"context"
	"sync"
)

// LocalAide is an in-memory MeshAide used by tests.
type LocalAide struct {
	mu         sync.RWMutex
	safeTxnIDs map[uint64]int64
	heartbeats []uint64
}

// NewLocalAide creates an empty in-memory aide.
func NewLocalAide() *LocalAide {
	return &LocalAide{safeTxnIDs: make(map[uint64]int64)}
}

// Seed sets the safe-txn-id record for hsid, as an etcd write would.
func (a *LocalAide) Seed(hsid uint64, txn int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.safeTxnIDs[hsid] = txn
}

func (a *LocalAide) NewestSafeTransactionForInitiator(_ context.Context, hsid uint64) (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	txn, ok := a.safeTxnIDs[hsid]
	return txn, ok
}

func (a *LocalAide) SendHeartbeats(_ context.Context, hsIds []uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heartbeats = append(a.heartbeats, hsIds...)
	return nil
}

// HeartbeatCount reports the total number of hsIds recorded across all
// SendHeartbeats calls (not the number of calls), useful for asserting
// heartbeats kept flowing during a stalled round.
func (a *LocalAide) HeartbeatCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.heartbeats)
}

func (a *LocalAide) Close() error { return nil }
