package mailbox

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/arbormesh/mesharbiter/wire"
)

// subjectPrefix namespaces mesh arbiter traffic on the shared NATS cluster.
const subjectPrefix = "mesharbiter"

// NatsMailbox is the production Mailbox, backed by a NATS connection. Every
// subject is subscribed per-destination (self hsid) so Send addresses
// individual peers without relying on NATS queue groups.
type NatsMailbox struct {
	selfHsid uint64
	nc       *nats.Conn
	subs     []*nats.Subscription
	inbound  *queue
}

// NewNatsMailbox connects to the given NATS URLs and subscribes this site's
// inbound subjects (FAILURE, SITE_FAILURE_UPDATE, SITE_FAILURE_FORWARD).
func NewNatsMailbox(selfHsid uint64, urls []string, connectTimeout, reconnectWait time.Duration, maxReconnects int) (*NatsMailbox, error) {
	nc, err := nats.Connect(
		joinURLs(urls),
		nats.Timeout(connectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("mailbox: disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("mailbox: reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("mailbox: failed to connect to NATS: %w", err)
	}

	mb := &NatsMailbox{
		selfHsid: selfHsid,
		nc:       nc,
		inbound:  newQueue(),
	}

	for _, subject := range []wire.Subject{wire.Failure, wire.SiteFailureUpdate, wire.SiteFailureForward} {
		sub, err := nc.Subscribe(mb.inboundSubject(subject), mb.handler(subject))
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("mailbox: failed to subscribe to %s: %w", subject, err)
		}
		mb.subs = append(mb.subs, sub)
	}

	return mb, nil
}

func (mb *NatsMailbox) handler(subject wire.Subject) nats.MsgHandler {
	return func(msg *nats.Msg) {
		mb.inbound.pushBack(Envelope{Subject: subject, Payload: msg.Data})
	}
}

// inboundSubject is the NATS subject this site listens on for a given
// mesh-arbiter subject: mesharbiter.<self_hsid>.<subject>.
func (mb *NatsMailbox) inboundSubject(subject wire.Subject) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, strconv.FormatUint(mb.selfHsid, 10), subject)
}

// destSubject is the subject a peer listens on for a given destination hsid.
func destSubject(dest uint64, subject wire.Subject) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, strconv.FormatUint(dest, 10), subject)
}

func (mb *NatsMailbox) Send(dests []uint64, subject wire.Subject, payload []byte) error {
	for _, dest := range dests {
		if err := mb.nc.Publish(destSubject(dest, subject), payload); err != nil {
			return fmt.Errorf("mailbox: failed to publish to hsid %d on %s: %w", dest, subject, err)
		}
	}
	return nil
}

func (mb *NatsMailbox) Recv(subjects []wire.Subject) (Envelope, bool) {
	return mb.inbound.popMatching(subjects)
}

func (mb *NatsMailbox) RecvBlocking(subjects []wire.Subject, tick, timeout time.Duration) (Envelope, bool) {
	return recvBlockingOn(mb.inbound, subjects, tick, timeout, nil)
}

func (mb *NatsMailbox) DeliverFront(env Envelope) {
	mb.inbound.pushFront(env)
}

func (mb *NatsMailbox) Close() error {
	for _, sub := range mb.subs {
		_ = sub.Unsubscribe()
	}
	mb.nc.Close()
	return nil
}

func joinURLs(urls []string) string {
	return strings.Join(urls, ",")
}
