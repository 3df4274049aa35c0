// Package eventsource implements the server-sent-events middleware
// factory: a long-lived HTTP/2 stream roster with heartbeats, a retry
// directive, and graceful close (spec §4.5.1).
package eventsource

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitekiln/sitekiln/internal/exchange"
)

// Timer is the injected start/stop pair for heartbeats, kept narrow for
// testability (spec §4.5.1).
type Timer interface {
	Start(intervalMS int, fn func())
	Stop()
}

// Options configures an event source.
type Options struct {
	HeartbeatMS int   // 0 disables heartbeats
	Reconnect   int   // ms; negative suppresses the retry directive
	Timer       Timer // required when HeartbeatMS > 0
	Logger      *zap.Logger
}

// Event is a single server-sent event.
type Event struct {
	ID    string
	Event string
	Data  any // string, or []string for multi-line data
}

// Subscriber is a per-client record held on the roster for the lifetime of
// its stream. done is the real cancellation signal for the serving
// goroutine blocked in Middleware: ex.DidRespond() never fires on its own
// since Middleware is the handler and never calls next, so done is what
// broadcast's eviction path and Close actually close to release it.
type Subscriber struct {
	id           string
	ex           *exchange.Exchange
	disconnected bool
	done         chan struct{}
}

// EventSource is the middleware produced by New, plus its Emit/Ping/Close
// capabilities.
type EventSource struct {
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool
}

// New builds an event-source middleware factory with Emit/Ping/Close
// capabilities attached.
func New(opts Options) *EventSource {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	es := &EventSource{
		opts:        opts,
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
	}
	if opts.HeartbeatMS > 0 && opts.Timer != nil {
		opts.Timer.Start(opts.HeartbeatMS, es.heartbeat)
	}
	return es
}

// Middleware returns the (exchange, next) handler to mount on a route.
func (es *EventSource) Middleware() exchange.Handler {
	return func(ex *exchange.Exchange, next func() error) error {
		req := ex.Request
		method := req.Headers.Get(":method")
		if method != "GET" && method != "HEAD" {
			return exchange.NewError(exchange.KindMethodNotAllowed, "event source requires GET or HEAD")
		}

		if accept := req.Headers.Get("accept"); accept != "" {
			if !acceptsEventStream(accept) {
				return exchange.NewError(exchange.KindNotAcceptable, "client does not accept text/event-stream")
			}
		}

		w := ex.RawWriter()
		headers := exchange.Header{
			"content-type":  "text/event-stream",
			"cache-control": "no-store, no-transform",
		}
		w.WriteHeader(200, headers)

		if es.opts.Reconnect >= 0 {
			fmt.Fprintf(w, "retry: %d\n\n", es.opts.Reconnect)
		} else {
			fmt.Fprint(w, ":start\n\n")
		}
		w.Flush()

		ex.MarkAlreadyResponded()

		sub := &Subscriber{id: uuid.NewString(), ex: ex, done: make(chan struct{})}
		es.mu.Lock()
		if es.closed {
			es.mu.Unlock()
			return nil
		}
		es.subscribers[sub.id] = sub
		es.mu.Unlock()

		select {
		case <-sub.done:
		case <-ex.DidRespond():
		}
		es.mu.Lock()
		delete(es.subscribers, sub.id)
		es.mu.Unlock()
		return nil
	}
}

func acceptsEventStream(accept string) bool {
	lower := strings.ToLower(accept)
	return strings.Contains(lower, "text/event-stream") || strings.Contains(lower, "*/*")
}

// Emit formats ev in SSE wire format and writes it synchronously to every
// live subscriber, evicting dead ones as it goes. An event with no id,
// event, and data is a no-op: nothing is written.
func (es *EventSource) Emit(ev Event) {
	if ev.ID == "" && ev.Event == "" && ev.Data == nil {
		return
	}
	es.broadcast(formatFrame(ev))
}

func formatFrame(ev Event) string {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Event)
	}
	switch data := ev.Data.(type) {
	case nil:
	case string:
		fmt.Fprintf(&b, "data: %s\n", data)
	case []string:
		for _, line := range data {
			fmt.Fprintf(&b, "data: %s\n", line)
		}
	default:
		fmt.Fprintf(&b, "data: %v\n", data)
	}
	b.WriteString("\n")
	return b.String()
}

// broadcast serializes writes to the subscriber roster behind a single
// mutex: concurrent emits/pings from different goroutines are never
// interleaved mid-write.
func (es *EventSource) broadcast(frame string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for id, sub := range es.subscribers {
		if sub.disconnected {
			delete(es.subscribers, id)
			close(sub.done)
			continue
		}
		if _, err := sub.ex.RawWriter().Write([]byte(frame)); err != nil {
			sub.disconnected = true
			delete(es.subscribers, id)
			close(sub.done)
			continue
		}
		sub.ex.Flush()
	}
}

// Ping writes a heartbeat comment line to every live subscriber.
func (es *EventSource) Ping() {
	es.broadcast(":lub-dub\n\n")
}

func (es *EventSource) heartbeat() {
	es.Ping()
}

// Close disarms the heartbeat timer, emits a final "close" event so
// well-behaved clients terminate, then cancels every subscriber's stream
// and empties the roster. Safe to call more than once; only the first call
// has effect.
func (es *EventSource) Close() {
	es.mu.Lock()
	if es.closed {
		es.mu.Unlock()
		return
	}
	es.closed = true
	subs := make([]*Subscriber, 0, len(es.subscribers))
	for _, s := range es.subscribers {
		subs = append(subs, s)
	}
	es.subscribers = make(map[string]*Subscriber)
	es.mu.Unlock()

	if es.opts.Timer != nil {
		es.opts.Timer.Stop()
	}

	const frame = "event: close\ndata: now!\n\n"
	for _, s := range subs {
		s.ex.RawWriter().Write([]byte(frame))
		s.ex.Flush()
		cancelStream(s.ex)
		close(s.done)
	}
}

// cancelStream calls the writer's CancelStream method when it has one. The
// internal/server writer's CancelStream does nothing: no RST_STREAM and no
// explicit error code is sent. The stream ends normally once the
// subscriber's handler returns, which Close triggers by closing its done
// channel right after this call.
func cancelStream(ex *exchange.Exchange) {
	if c, ok := ex.RawWriter().(interface{ CancelStream() }); ok {
		c.CancelStream()
	}
}
