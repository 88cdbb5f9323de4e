package pgasync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Notification is one NotificationResponse frame: channel, payload, and
// the notifying backend's process ID.
type Notification struct {
	Channel string
	Payload string
	PID     uint32
}

// NotificationHandler receives dispatched notifications for one channel.
type NotificationHandler func(Notification)

// Listener owns a dedicated Connection and fans NotificationResponse
// frames out to per-channel callbacks off the socket-reading goroutine:
// one worker per channel drains a bounded queue, so a slow handler cannot
// stall the read loop and callbacks for one channel still run in arrival
// order. No ordering is guaranteed across channels.
type Listener struct {
	conn *Connection

	mu        sync.Mutex
	callbacks map[string][]NotificationHandler
	started   bool
	listening bool
	closed    bool

	queue chan Notification
	raw   chan Notification

	cancel context.CancelFunc
	done   chan struct{}
}

// Listener wraps c in a Listener: c becomes its dedicated connection, and
// Shutdown closes it.
func (c *Connection) Listener() *Listener {
	return &Listener{
		conn:      c,
		callbacks: make(map[string][]NotificationHandler),
		queue:     make(chan Notification, 256),
		raw:       make(chan Notification, 256),
	}
}

// AddCallback registers fn to be invoked for every notification on channel.
func (l *Listener) AddCallback(channel string, fn NotificationHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks[channel] = append(l.callbacks[channel], fn)
}

// ClearChannelCallbacks removes every callback registered for channel.
func (l *Listener) ClearChannelCallbacks(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.callbacks, channel)
}

// ClearAllChannels removes every registered callback on every channel.
func (l *Listener) ClearAllChannels() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = make(map[string][]NotificationHandler)
}

// Startup must be called once before Listen; a second call fails.
func (l *Listener) Startup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return newListenerStartError("listener already started")
	}
	l.started = true
	return nil
}

// Listen issues LISTEN for every registered channel and starts the
// background dispatch loop.
func (l *Listener) Listen(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return newListenerClosedError("listener has been shut down")
	}
	if !l.started {
		l.mu.Unlock()
		return newListenerStartError("Startup must be called before Listen")
	}
	if l.listening {
		l.mu.Unlock()
		return newListenerStartError("already listening")
	}
	channels := make([]string, 0, len(l.callbacks))
	for ch := range l.callbacks {
		channels = append(channels, ch)
	}
	l.listening = true
	l.mu.Unlock()

	for _, ch := range channels {
		stmt := fmt.Sprintf(`LISTEN "%s"`, strings.ReplaceAll(ch, `"`, `""`))
		if _, err := l.conn.Execute(ctx, stmt); err != nil {
			return newListenerStartError(fmt.Sprintf("LISTEN %s failed: %v", ch, err))
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.dispatchLoop(runCtx)
	go l.readLoop(runCtx)
	return nil
}

// readLoop polls for NotificationResponse frames via the Engine's idle
// notification surface. Each one is offered to l.raw for Next (dropped
// when that buffer is full) and then queued on l.queue, from which
// dispatchLoop hands it to the channel's worker.
func (l *Listener) readLoop(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := l.conn.engine.WaitNotification(ctx)
		if err != nil {
			slog.Warn("listener read loop stopped", "err", err)
			return
		}
		note := Notification{Channel: n.Channel, Payload: n.Payload, PID: n.PID}
		select {
		case l.raw <- note:
		default:
		}
		select {
		case l.queue <- note:
		case <-ctx.Done():
			return
		}
	}
}

// dispatchLoop routes each queued notification to its channel's worker,
// starting one on first sight of a channel name. Per-channel workers keep
// arrival order within a channel while channels proceed independently.
func (l *Listener) dispatchLoop(ctx context.Context) {
	workers := make(map[string]chan Notification)
	var wg sync.WaitGroup
	defer func() {
		for _, ch := range workers {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		var note Notification
		select {
		case note = <-l.queue:
		case <-ctx.Done():
			return
		}

		if l.conn.pool != nil {
			l.conn.pool.mu.Lock()
			m := l.conn.pool.metrics
			l.conn.pool.mu.Unlock()
			if m != nil {
				m.ObserveNotification()
			}
		}

		ch, ok := workers[note.Channel]
		if !ok {
			ch = make(chan Notification, 64)
			workers[note.Channel] = ch
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := range ch {
					l.dispatchOne(n)
				}
			}()
		}
		select {
		case ch <- note:
		case <-ctx.Done():
			return
		}
	}
}

// dispatchOne invokes every callback registered for n's channel
// sequentially, in registration order. A panicking callback is logged and
// does not stop dispatch.
func (l *Listener) dispatchOne(n Notification) {
	l.mu.Lock()
	handlers := append([]NotificationHandler(nil), l.callbacks[n.Channel]...)
	l.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("listener callback panicked", "channel", n.Channel, "recovered", r)
				}
			}()
			h(n)
		}()
	}
}

// Next yields the next raw (channel, payload, pid) record without
// invoking any registered callback, for the async-iteration interface.
func (l *Listener) Next(ctx context.Context) (Notification, bool, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return Notification{}, false, newListenerClosedError("listener has been shut down")
	}
	select {
	case n, ok := <-l.raw:
		return n, ok, nil
	case <-ctx.Done():
		return Notification{}, false, ctx.Err()
	}
}

// AbortListen stops the dispatch/read loops without releasing the
// underlying Connection.
func (l *Listener) AbortListen() {
	l.mu.Lock()
	cancel := l.cancel
	l.listening = false
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown stops the loops and closes the underlying Connection. The
// Listener cannot be restarted afterward.
func (l *Listener) Shutdown() error {
	l.AbortListen()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.conn.Close()
}
