package mailbox

import (
	"testing"
	"time"

	"github.com/arbormesh/mesharbiter/wire"
)

func TestLocalMailboxSendRecv(t *testing.T) {
	net := NewLocalNetwork()
	a := net.NewMailbox(1)
	b := net.NewMailbox(2)

	if err := a.Send([]uint64{2}, wire.Failure, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	env, ok := b.Recv([]wire.Subject{wire.Failure})
	if !ok {
		t.Fatal("expected a queued envelope, got none")
	}
	if string(env.Payload) != "hello" {
		t.Fatalf("got payload %q", env.Payload)
	}

	if _, ok := a.Recv([]wire.Subject{wire.Failure}); ok {
		t.Fatal("sender's own queue should be empty")
	}
}

func TestLocalMailboxRecvFiltersBySubject(t *testing.T) {
	net := NewLocalNetwork()
	a := net.NewMailbox(1)
	b := net.NewMailbox(2)

	_ = a.Send([]uint64{2}, wire.SiteFailureUpdate, []byte("update"))

	if _, ok := b.Recv([]wire.Subject{wire.Failure}); ok {
		t.Fatal("should not match on an unrelated subject")
	}

	env, ok := b.Recv([]wire.Subject{wire.Failure, wire.SiteFailureUpdate})
	if !ok || string(env.Payload) != "update" {
		t.Fatalf("expected to find the update envelope, got %+v ok=%v", env, ok)
	}
}

func TestLocalMailboxDeliverFront(t *testing.T) {
	net := NewLocalNetwork()
	a := net.NewMailbox(1)
	b := net.NewMailbox(2)

	_ = a.Send([]uint64{2}, wire.Failure, []byte("first"))
	_ = a.Send([]uint64{2}, wire.Failure, []byte("second"))

	env, _ := b.Recv([]wire.Subject{wire.Failure})
	if string(env.Payload) != "first" {
		t.Fatalf("expected fifo order, got %q", env.Payload)
	}

	b.DeliverFront(env)

	replay, _ := b.Recv([]wire.Subject{wire.Failure})
	if string(replay.Payload) != "first" {
		t.Fatalf("expected delivered-front envelope to be seen again first, got %q", replay.Payload)
	}

	next, _ := b.Recv([]wire.Subject{wire.Failure})
	if string(next.Payload) != "second" {
		t.Fatalf("expected second envelope after the replay, got %q", next.Payload)
	}
}

func TestLocalMailboxRecvBlockingTimesOut(t *testing.T) {
	net := NewLocalNetwork()
	b := net.NewMailbox(2)

	start := time.Now()
	_, ok := b.RecvBlocking([]wire.Subject{wire.Failure}, 5*time.Millisecond, 20*time.Millisecond)
	if ok {
		t.Fatal("expected timeout, got an envelope")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("returned before the timeout elapsed")
	}
}

func TestLocalMailboxRecvBlockingWakesOnDelivery(t *testing.T) {
	net := NewLocalNetwork()
	a := net.NewMailbox(1)
	b := net.NewMailbox(2)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = a.Send([]uint64{2}, wire.Failure, []byte("late"))
	}()

	env, ok := b.RecvBlocking([]wire.Subject{wire.Failure}, 5*time.Millisecond, 200*time.Millisecond)
	if !ok {
		t.Fatal("expected to receive the delayed envelope")
	}
	if string(env.Payload) != "late" {
		t.Fatalf("got %q", env.Payload)
	}
}
