package eventsource

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sitekiln/sitekiln/internal/exchange"
)

type capturingWriter struct {
	mu      sync.Mutex
	status  int
	headers exchange.Header
	body    bytes.Buffer
	flushed int
}

func (w *capturingWriter) WriteHeader(status int, headers exchange.Header) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.headers = headers
}

func (w *capturingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.body.Write(p)
}

func (w *capturingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushed++
}

func (w *capturingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.body.String()
}

func newSSEExchange(w *capturingWriter, headers exchange.Header) *exchange.Exchange {
	if headers == nil {
		headers = exchange.Header{}
	}
	headers[":method"] = "GET"
	req := &exchange.Request{Method: "GET", Headers: headers}
	return exchange.New("https://example.test", req, w, nil, exchange.Options{Production: true})
}

// fakeTimer never fires on its own; tests call its stashed fn directly,
// matching the injected Start/Stop pair the package expects.
type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (t *fakeTimer) Start(_ int, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = fn
}

func (t *fakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func TestMiddlewareWritesPreambleAndMarksResponded(t *testing.T) {
	es := New(Options{Reconnect: 2000})
	w := &capturingWriter{}
	ex := newSSEExchange(w, nil)

	done := make(chan struct{})
	go func() {
		ex.HandleWith(es.Middleware())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if w.status != 200 {
		t.Fatalf("expected 200, got %d", w.status)
	}
	if w.headers.Get("content-type") != "text/event-stream" {
		t.Fatalf("got content-type %q", w.headers.Get("content-type"))
	}
	if !strings.Contains(w.String(), "retry: 2000") {
		t.Fatalf("expected retry directive, got %q", w.String())
	}

	es.Close()
	<-done
}

func TestEmitDeliversToSubscribers(t *testing.T) {
	es := New(Options{Reconnect: -1})
	w := &capturingWriter{}
	ex := newSSEExchange(w, nil)

	done := make(chan struct{})
	go func() {
		ex.HandleWith(es.Middleware())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	es.Emit(Event{ID: "1", Event: "message", Data: "hello"})
	time.Sleep(10 * time.Millisecond)

	body := w.String()
	if !strings.Contains(body, "id: 1\n") || !strings.Contains(body, "event: message\n") || !strings.Contains(body, "data: hello\n") {
		t.Fatalf("expected full event frame, got %q", body)
	}

	es.Close()
	<-done
}

func TestPingWritesHeartbeatComment(t *testing.T) {
	timer := &fakeTimer{}
	es := New(Options{Reconnect: -1, HeartbeatMS: 1000, Timer: timer})
	w := &capturingWriter{}
	ex := newSSEExchange(w, nil)

	done := make(chan struct{})
	go func() {
		ex.HandleWith(es.Middleware())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	timer.fire()
	time.Sleep(10 * time.Millisecond)

	if !strings.Contains(w.String(), ":lub-dub\n\n") {
		t.Fatalf("expected heartbeat comment, got %q", w.String())
	}

	es.Close()
	<-done
	if !timer.stopped {
		t.Fatal("expected Close to stop the heartbeat timer")
	}
}

func TestCloseEmitsFinalEventAndEmptiesRoster(t *testing.T) {
	es := New(Options{Reconnect: -1})
	w := &capturingWriter{}
	ex := newSSEExchange(w, nil)

	done := make(chan struct{})
	go func() {
		ex.HandleWith(es.Middleware())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	es.Close()
	<-done

	if !strings.Contains(w.String(), "event: close\ndata: now!\n\n") {
		t.Fatalf("expected close event, got %q", w.String())
	}
	es.mu.Lock()
	remaining := len(es.subscribers)
	es.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected empty roster after close, got %d", remaining)
	}
}

func TestMiddlewareRejectsNonGetMethod(t *testing.T) {
	es := New(Options{Reconnect: -1})
	w := &capturingWriter{}
	headers := exchange.Header{}
	ex := newSSEExchange(w, headers)
	ex.Request.Method = "POST"
	ex.Request.Headers[":method"] = "POST"

	ex.HandleWith(es.Middleware())

	if w.status != 405 {
		t.Fatalf("expected 405, got %d", w.status)
	}
}

func TestMiddlewareRejectsIncompatibleAccept(t *testing.T) {
	es := New(Options{Reconnect: -1})
	w := &capturingWriter{}
	headers := exchange.Header{"accept": "application/json"}
	ex := newSSEExchange(w, headers)

	ex.HandleWith(es.Middleware())

	if w.status != 406 {
		t.Fatalf("expected 406, got %d", w.status)
	}
}
