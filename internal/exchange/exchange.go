// Package exchange implements the per-request state machine: parses the
// request, assembles response headers/body, performs cool-URL file
// resolution, and emits a hardened response, exactly as spec'd in §4.4.
package exchange

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage is the Exchange's position in its one-way state machine:
// Ready -> Responding -> Done.
type Stage int

const (
	StageReady Stage = iota
	StageResponding
	StageDone
)

// Handler is one link in a middleware chain: it receives the Exchange and a
// next callback to advance to the following handler. Calling next more than
// once from the same handler is a programmer error.
type Handler func(ex *Exchange, next func() error) error

// Writer is the narrow interface an Exchange needs from its underlying
// HTTP/2 stream to emit bytes: the server package adapts an
// http.ResponseWriter (running under golang.org/x/net/http2) to this.
type Writer interface {
	WriteHeader(status int, headers Header)
	Write(p []byte) (int, error)
	Flush()
}

// Exchange manages a single request/response interaction bound to one
// HTTP/2 stream.
type Exchange struct {
	ID      string // uuid correlation id, shown in fail()'s error page; not written to log lines
	Origin  string
	Request *Request
	Logger  *zap.Logger

	mu       sync.Mutex
	stage    Stage
	response *Response
	writer   Writer

	pathErr error // pre-armed BadRequest from eager path validation

	didRespond     chan struct{}
	didRespondOnce sync.Once

	production bool
	fileOpener FileOpener
}

// FileOpener abstracts static-file access for cool-URL resolution and
// conditional GET, narrow enough to be swapped in tests.
type FileOpener interface {
	Stat(path string) (FileInfo, error)
	Open(path string) (ReadSeekCloser, error)
}

// Options configures an Exchange's environment-dependent behavior.
type Options struct {
	Production bool
	FileOpener FileOpener
	Logger     *zap.Logger
}

// New constructs an Exchange in stage Ready. parsedPathErr is the result of
// the caller's eager request-path validation; when it is non-nil,
// HandleWith answers with it through Fail before any handler runs.
func New(origin string, req *Request, w Writer, parsedPathErr error, opts Options) *Exchange {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ex := &Exchange{
		ID:         uuid.NewString(),
		Origin:     origin,
		Request:    req,
		Logger:     logger,
		stage:      StageReady,
		response:   newResponse(),
		writer:     w,
		pathErr:    parsedPathErr,
		didRespond: make(chan struct{}),
		production: opts.Production,
		fileOpener: opts.FileOpener,
	}
	return ex
}

// DidRespond returns a channel closed exactly once the stream completes.
func (ex *Exchange) DidRespond() <-chan struct{} { return ex.didRespond }

// Stage returns the Exchange's current stage.
func (ex *Exchange) Stage() Stage {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.stage
}

// HandleWith runs handlers left to right. Each handler may call next to
// advance; after the last handler returns (or none call next), respond()
// is invoked if nothing has responded yet. A handler that returns an error
// is treated as a thrown failure and turned into Fail().
func (ex *Exchange) HandleWith(handlers ...Handler) {
	defer ex.finish()

	if ex.pathErr != nil {
		ex.recoverFail(ex.pathErr)
		return
	}

	if err := ex.dispatch(handlers, 0); err != nil {
		ex.recoverFail(err)
	}
	if ex.Stage() == StageReady {
		ex.Respond()
	}
}

func (ex *Exchange) dispatch(handlers []Handler, i int) error {
	if i >= len(handlers) {
		return nil
	}
	called := false
	var nextErr error
	next := func() error {
		if called {
			return fmt.Errorf("exchange: next() called more than once")
		}
		called = true
		nextErr = ex.dispatch(handlers, i+1)
		return nextErr
	}
	return handlers[i](ex, next)
}

// recoverFail turns a handler error into a response, falling back to a bare
// plaintext status line if Fail() itself fails.
func (ex *Exchange) recoverFail(err error) {
	defer func() {
		if r := recover(); r != nil {
			ex.bareStatusLine(500)
		}
	}()
	ex.Fail(0, err)
}

func (ex *Exchange) bareStatusLine(status int) {
	ex.mu.Lock()
	if ex.stage != StageReady {
		ex.mu.Unlock()
		return
	}
	ex.stage = StageResponding
	ex.mu.Unlock()

	body := []byte(fmt.Sprintf("%d %s", status, http.StatusText(status)))
	ex.writer.WriteHeader(status, Header{"content-type": "text/plain; charset=UTF-8"})
	ex.writer.Write(body)
	ex.Flush()
}

// finish transitions the Exchange to Done exactly once, fulfilling
// DidRespond().
func (ex *Exchange) finish() {
	ex.didRespondOnce.Do(func() {
		ex.mu.Lock()
		ex.stage = StageDone
		ex.mu.Unlock()
		close(ex.didRespond)
	})
}

// Flush proxies to the underlying writer, used by long-lived streams (SSE)
// that write outside the normal handler-return lifecycle.
func (ex *Exchange) Flush() {
	if ex.writer != nil {
		ex.writer.Flush()
	}
}

// RawWriter exposes the underlying Writer for middleware (the event source)
// that must keep writing to the stream after responding headers once.
func (ex *Exchange) RawWriter() Writer { return ex.writer }

// MarkAlreadyResponded advances the stage to Responding without sending a
// body, for middleware (the event source) that writes headers itself and
// wants later middleware/scaffolding to leave the stream alone.
func (ex *Exchange) MarkAlreadyResponded() {
	ex.mu.Lock()
	if ex.stage == StageReady {
		ex.stage = StageResponding
	}
	ex.mu.Unlock()
}

// Response exposes the in-progress Response for direct inspection
// (read-only use is expected outside this package; Prepare is the
// sanctioned mutator).
func (ex *Exchange) Response() *Response {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.response
}

// Prepare sets the response body and derives headers per §4.4:
//
//	nil           -> clears body/content-length/content-type
//	[]byte        -> application/octet-stream, exact length (unless content-type already set)
//	string         -> text/html (if it opens with "<!DOCTYPE html>", case-insensitive) else text/plain
//	PrepareStream  -> application/octet-stream, no content-length (lazy stream)
//	anything else  -> JSON, application/json; charset=UTF-8, byte length
//
// Prepare is only valid in StageReady; calling it elsewhere is a programmer
// error (it panics, matching spec §4.4's "fatal" characterization).
func (ex *Exchange) Prepare(value any) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.stage != StageReady {
		panic("exchange: Prepare called outside stage Ready")
	}

	r := ex.response
	delete(r.Headers, "content-length")

	switch v := value.(type) {
	case nil:
		r.BodyKind = BodyNone
		delete(r.Headers, "content-type")
	case []byte:
		r.BodyKind = BodyBytes
		r.BodyBytes = v
		r.headerSetIfAbsent("content-type", defaultMediaType)
		r.Headers.set("content-length", fmt.Sprintf("%d", len(v)))
	case string:
		r.BodyKind = BodyText
		r.BodyText = v
		if isDoctypeHTML(v) {
			r.headerSetIfAbsent("content-type", "text/html; charset=UTF-8")
		} else {
			r.headerSetIfAbsent("content-type", "text/plain; charset=UTF-8")
		}
		r.Headers.set("content-length", fmt.Sprintf("%d", len(v)))
	case streamBody:
		r.BodyKind = BodyStream
		r.BodyStream = v.reader
		r.headerSetIfAbsent("content-type", defaultMediaType)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			panic(fmt.Sprintf("exchange: Prepare could not marshal value: %v", err))
		}
		r.BodyKind = BodyBytes
		r.BodyBytes = encoded
		r.headerSetIfAbsent("content-type", "application/json; charset=UTF-8")
		r.Headers.set("content-length", fmt.Sprintf("%d", len(encoded)))
	}
}

// streamBody wraps an io.Reader so Prepare can distinguish "lazy stream"
// from any other interface{} that should be JSON-serialized.
type streamBody struct{ reader interface{ Read([]byte) (int, error) } }

// PrepareStream marks the body as a lazy byte stream (spec §4.4's "lazy
// byte stream" case), copied to the HTTP/2 stream in order with no
// interleaving once respond() runs.
func (ex *Exchange) PrepareStream(r interface{ Read([]byte) (int, error) }) {
	ex.Prepare(streamBody{reader: r})
}

// PrepareFile marks the body as a file reference, triggering cool-URL
// resolution in Respond().
func (ex *Exchange) PrepareFile(path string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.stage != StageReady {
		panic("exchange: PrepareFile called outside stage Ready")
	}
	ex.response.BodyKind = BodyFile
	ex.response.BodyFile = path
}

func isDoctypeHTML(s string) bool {
	const doctype = "<!doctype html>"
	if len(s) < len(doctype) {
		return false
	}
	return strings.EqualFold(s[:len(doctype)], doctype)
}

// statusFor returns the appropriate status for a handler error: Kind-typed
// errors carry their own status, everything else is 500 unless an explicit
// status override was given to Fail.
func statusFor(explicit int, err error) int {
	if explicit != 0 {
		return explicit
	}
	if err == nil {
		return 500
	}
	return KindOf(err).Status()
}
