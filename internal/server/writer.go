package server

import (
	"net/http"

	"github.com/sitekiln/sitekiln/internal/exchange"
)

// httpWriter adapts net/http's ResponseWriter/Flusher to the narrow
// exchange.Writer interface an Exchange writes through.
type httpWriter struct {
	w           http.ResponseWriter
	wroteHeader bool
}

func newHTTPWriter(w http.ResponseWriter) *httpWriter {
	return &httpWriter{w: w}
}

func (hw *httpWriter) WriteHeader(status int, headers exchange.Header) {
	if hw.wroteHeader {
		return
	}
	hw.wroteHeader = true
	h := hw.w.Header()
	for name, value := range headers {
		if len(name) > 0 && name[0] == ':' {
			continue // pseudo-headers never go out over the wire
		}
		h.Set(name, value)
	}
	hw.w.WriteHeader(status)
}

func (hw *httpWriter) Write(p []byte) (int, error) {
	if !hw.wroteHeader {
		hw.WriteHeader(200, exchange.Header{})
	}
	return hw.w.Write(p)
}

func (hw *httpWriter) Flush() {
	if f, ok := hw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// CancelStream is the adopted resolution of spec §9's Open Question (a):
// golang.org/x/net/http2 keeps its server-side stream type unexported, so
// application code cannot issue an explicit RST_STREAM the way the spec's
// NGHTTP2_STREAM_CLOSED wording implies. Returning from the handler after
// the final SSE frame is the idiomatic substitute — net/http tears the
// stream down as soon as ServeHTTP returns, which is what actually runs
// here since eventsource.Middleware's handler returns right after this call.
func (hw *httpWriter) CancelStream() {}
