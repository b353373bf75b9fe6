// Package wire defines the arbiter's message envelope types and their
// byte-exact encoding. Sets and maps are always serialized as length-prefixed
// sorted arrays so two honest peers never disagree on the bytes for the same
// logical value.
package wire

import "sort"

// Subject names the mailbox subjects the arbiter routes on.
type Subject string

const (
	Failure             Subject = "FAILURE"
	SiteFailureUpdate   Subject = "SITE_FAILURE_UPDATE"
	SiteFailureForward  Subject = "SITE_FAILURE_FORWARD"
)

// FaultMessage is an upstream fault-detector notification that a peer may
// have failed.
type FaultMessage struct {
	ReportingSite uint64
	FailedSite    uint64
	Witnessed     bool
	Survivors     []uint64 // sorted ascending
}

// SiteFailureMessage is the arbiter's own per-round broadcast: "here is what
// I believe about the mesh, and the safe transaction watermark for everyone
// I think is in trouble."
type SiteFailureMessage struct {
	Source      uint64
	Survivors   []uint64          // sorted ascending
	SafeTxnIDs  map[uint64]int64  // keyed by failed peer hsid
}

// SiteFailureForwardMessage relays a SiteFailureMessage to a site that has
// not yet heard it directly from its source, tagging the immediate sender.
type SiteFailureForwardMessage struct {
	Reporter uint64
	Inner    SiteFailureMessage
}

// SortedHsids returns a sorted copy of ids, used when building messages from
// an unordered set so encoding is reproducible.
func SortedHsids(ids []uint64) []uint64 {
	out := make([]uint64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
