// Package aide implements the peer-info oracle the arbiter queries for each
// in-trouble peer's newest safe transaction id, and through which it emits
// heartbeats while an arbitration round is in flight.
package aide

import "context"

// MeshAide is the peer-info oracle contract the arbiter driver consumes.
type MeshAide interface {
	// NewestSafeTransactionForInitiator returns the highest committed
	// transaction id this site will vouch for on behalf of hsid, or ok=false
	// if it has no record.
	NewestSafeTransactionForInitiator(ctx context.Context, hsid uint64) (txn int64, ok bool)

	// SendHeartbeats emits a liveness heartbeat naming every site in hsIds,
	// keeping the surrounding system's dead-host timers fed during a round.
	SendHeartbeats(ctx context.Context, hsIds []uint64) error

	// Close releases resources held by the oracle.
	Close() error
}
