package pgasync

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/augustdb/pgasync/internal/codec"
	"github.com/augustdb/pgasync/internal/wire"
)

// newFakeListenerConnection builds a Connection whose server end first
// answers one extended-query cycle (the LISTEN statement Listen() issues)
// and then, once notify is closed, writes a NotificationResponse frame for
// every entry in notes.
func newFakeListenerConnection(t *testing.T, notes []wire.Notification) (*Connection, chan struct{}) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	fire := make(chan struct{})
	go func() {
		sawParse, ok := drainOneCycle(server)
		if !ok {
			return
		}
		if sawParse {
			if wire.WriteMessage(server, wire.MsgParseComplete, nil) != nil {
				return
			}
		}
		if wire.WriteMessage(server, wire.MsgBindComplete, nil) != nil {
			return
		}
		if wire.WriteMessage(server, wire.MsgNoData, nil) != nil {
			return
		}
		if wire.WriteMessage(server, wire.MsgCommandComplete, append([]byte("LISTEN"), 0)) != nil {
			return
		}
		if wire.WriteMessage(server, wire.MsgReadyForQuery, []byte{'I'}) != nil {
			return
		}

		<-fire
		for _, n := range notes {
			payload := make([]byte, 0, 16)
			payload = append(payload, byte(n.PID>>24), byte(n.PID>>16), byte(n.PID>>8), byte(n.PID))
			payload = append(payload, n.Channel...)
			payload = append(payload, 0)
			payload = append(payload, n.Payload...)
			payload = append(payload, 0)
			if wire.WriteMessage(server, wire.MsgNotificationResp, payload) != nil {
				return
			}
		}
	}()

	reg := codec.NewRegistry()
	return &Connection{
		engine:    wire.NewEngine(client),
		registry:  reg,
		stmtCache: wire.NewStatementCache(),
		typeCache: codec.NewTypeInfoCache(reg),
	}, fire
}

func TestListenerDispatchesToRegisteredCallback(t *testing.T) {
	conn, fire := newFakeListenerConnection(t, []wire.Notification{
		{Channel: "events", Payload: "hello", PID: 7},
	})
	l := conn.Listener()
	if err := l.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	got := make(chan Notification, 1)
	l.AddCallback("events", func(n Notification) { got <- n })

	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.AbortListen()

	close(fire)

	select {
	case n := <-got:
		if n.Channel != "events" || n.Payload != "hello" || n.PID != 7 {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched notification")
	}
}

func TestListenerDispatchPreservesPerChannelOrder(t *testing.T) {
	notes := []wire.Notification{
		{Channel: "events", Payload: "first", PID: 1},
		{Channel: "events", Payload: "second", PID: 1},
		{Channel: "events", Payload: "third", PID: 1},
	}
	conn, fire := newFakeListenerConnection(t, notes)
	l := conn.Listener()
	if err := l.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	got := make(chan string, len(notes))
	l.AddCallback("events", func(n Notification) {
		// An artificial stall on the first notification: with per-channel
		// serial dispatch the later ones must still arrive behind it.
		if n.Payload == "first" {
			time.Sleep(50 * time.Millisecond)
		}
		got <- n.Payload
	})

	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.AbortListen()

	close(fire)

	want := []string{"first", "second", "third"}
	for _, w := range want {
		select {
		case p := <-got:
			if p != w {
				t.Fatalf("payload = %q, want %q", p, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for payload %q", w)
		}
	}
}

func TestListenerSecondStartupFails(t *testing.T) {
	conn, _ := newFakeListenerConnection(t, nil)
	l := conn.Listener()
	if err := l.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if err := l.Startup(); err == nil {
		t.Error("expected a second Startup to fail")
	}
}

func TestListenerListenBeforeStartupFails(t *testing.T) {
	conn, _ := newFakeListenerConnection(t, nil)
	l := conn.Listener()
	if err := l.Listen(context.Background()); err == nil {
		t.Error("expected Listen before Startup to fail")
	}
}

func TestListenerNextYieldsRawNotification(t *testing.T) {
	conn, fire := newFakeListenerConnection(t, []wire.Notification{
		{Channel: "c1", Payload: "p1", PID: 1},
	})
	l := conn.Listener()
	if err := l.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	// Listen issues LISTEN only for channels that have a callback.
	l.AddCallback("c1", func(Notification) {})
	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.AbortListen()

	close(fire)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, ok, err := l.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("Next reported ok=false")
	}
	if n.Channel != "c1" || n.Payload != "p1" {
		t.Errorf("notification = %+v", n)
	}
}
