package exchange

import (
	"io"
	"strings"
)

// Header is a case-insensitive mapping from header name to a single value.
// Pseudo-headers (":method", ":scheme", ":authority", ":path") live
// alongside regular ones, addressed by their literal (colon-prefixed) name.
type Header map[string]string

// Get looks up a header by name, case-insensitively.
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

func (h Header) set(name, value string) {
	h[strings.ToLower(name)] = value
}

// Request is the inbound half of an Exchange: headers (including
// pseudo-headers) plus body. Built by internal/server's own
// newRequestFromHTTP, the only adapter from a net/http request this core
// package needs to be reachable from.
type Request struct {
	Method   string
	Headers  Header
	Body     io.ReadCloser
	TLS      bool
	RemoteIP string
}
