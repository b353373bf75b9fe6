package mailbox

import (
	"time"

	"github.com/arbormesh/mesharbiter/wire"
)

// LocalMailbox is an in-process Mailbox used by tests and by single-node
// simulations. Peers registered with the same *LocalNetwork deliver directly
// into each other's queues, skipping any transport.
type LocalMailbox struct {
	selfHsid uint64
	net      *LocalNetwork
	inbound  *queue
}

// LocalNetwork wires a set of LocalMailboxes together so Send on one is
// visible to Recv on the addressed peers.
type LocalNetwork struct {
	peers map[uint64]*LocalMailbox
}

// NewLocalNetwork creates an empty local network.
func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{peers: make(map[uint64]*LocalMailbox)}
}

// NewMailbox registers and returns a new LocalMailbox for hsid.
func (n *LocalNetwork) NewMailbox(hsid uint64) *LocalMailbox {
	mb := &LocalMailbox{selfHsid: hsid, net: n, inbound: newQueue()}
	n.peers[hsid] = mb
	return mb
}

func (mb *LocalMailbox) Send(dests []uint64, subject wire.Subject, payload []byte) error {
	for _, dest := range dests {
		if peer, ok := mb.net.peers[dest]; ok {
			peer.inbound.pushBack(Envelope{Subject: subject, Payload: payload})
		}
	}
	return nil
}

func (mb *LocalMailbox) Recv(subjects []wire.Subject) (Envelope, bool) {
	return mb.inbound.popMatching(subjects)
}

func (mb *LocalMailbox) RecvBlocking(subjects []wire.Subject, tick, timeout time.Duration) (Envelope, bool) {
	return recvBlockingOn(mb.inbound, subjects, tick, timeout, nil)
}

func (mb *LocalMailbox) DeliverFront(env Envelope) {
	mb.inbound.pushFront(env)
}

func (mb *LocalMailbox) Close() error {
	delete(mb.net.peers, mb.selfHsid)
	return nil
}
