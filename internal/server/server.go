// Package server owns the HTTP/2-only listener, turns each inbound stream
// into an exchange.Exchange, and dispatches it through a router.Router
// (spec §4.5). It also keeps a bbolt-backed session ledger purely for
// operability, never for routing decisions.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/sitekiln/sitekiln/internal/accesslog"
	"github.com/sitekiln/sitekiln/internal/exchange"
	"github.com/sitekiln/sitekiln/internal/pathsafe"
	"github.com/sitekiln/sitekiln/internal/router"
)

// Options configures a Server.
type Options struct {
	Origin     string // scheme://host[:port] reported to handlers
	Production bool
	FileOpener exchange.FileOpener
	Logger     *zap.Logger
	Ledger     *SessionLedger   // optional; nil disables session bookkeeping
	AccessLog  *accesslog.Logger // optional; nil falls back to a bare debug line

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Server owns one net.Listener and serves every accepted connection over
// HTTP/2 only: plaintext connections are upgraded via h2c, TLS connections
// negotiate h2 via ALPN, and any request that arrives over HTTP/1.x is
// refused with 505 HTTP Version Not Supported.
type Server struct {
	opts   Options
	router *router.Router
	logger *zap.Logger

	httpServer *http.Server
	nextID     atomic.Uint64

	mu        sync.Mutex
	listener  net.Listener
}

// New builds a Server that dispatches through rt.
func New(rt *router.Router, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 120 * time.Second
	}

	s := &Server{opts: opts, router: rt, logger: logger}

	h2s := &http2.Server{}
	h2Only := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor != 2 {
			http.Error(w, "505 HTTP Version Not Supported", http.StatusHTTPVersionNotSupported)
			return
		}
		s.serveHTTP(w, r)
	})
	s.httpServer = &http.Server{
		Handler:           h2c.NewHandler(h2Only, h2s),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}
	return s
}

// ListenTLS serves HTTPS on addr using cert, negotiating HTTP/2 via ALPN.
// Only "h2" is offered via ALPN; a request that still arrives over HTTP/1.1
// is refused with 505 instead of being served, per the spec's "HTTP/2-only" requirement.
func (s *Server) ListenTLS(addr string, cert tls.Certificate) error {
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{http2.NextProtoTLS}, // h2 only: no "http/1.1" fallback offered
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	if err := http2.ConfigureServer(s.httpServer, &http2.Server{}); err != nil {
		ln.Close()
		return fmt.Errorf("server: configure http2: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("addr", addr), zap.Bool("tls", true))
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ListenH2C serves plaintext HTTP/2 (h2c) on addr, for local development
// where TLS termination happens upstream.
func (s *Server) ListenH2C(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("addr", addr), zap.Bool("tls", false))
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close gracefully shuts the server down, waiting up to ctx's deadline for
// in-flight exchanges to finish.
func (s *Server) Close(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	id := s.nextID.Add(1)

	parsed, perr := pathsafe.Parse(r.URL.RequestURI())
	var pathErr error
	if perr != nil {
		pathErr = exchange.NewError(exchange.KindBadRequest, "%v", perr)
	}

	hw := newHTTPWriter(w)
	req := newRequestFromHTTP(r)
	ex := exchange.New(s.opts.Origin, req, hw, pathErr, exchange.Options{
		Production: s.opts.Production,
		FileOpener: s.opts.FileOpener,
		Logger:     s.logger,
	})

	dispatchPath := "/"
	if pathErr == nil {
		dispatchPath = parsed.Path
	}
	s.router.Dispatch(ex, dispatchPath)

	status := 0
	if resp := ex.Response(); resp != nil {
		status = resp.Status
	}
	elapsed := time.Since(started)

	if s.opts.AccessLog != nil {
		s.opts.AccessLog.Record(accesslog.Entry{
			SessionID: id,
			RemoteIP:  req.RemoteIP,
			Method:    req.Method,
			Path:      dispatchPath,
			Status:    status,
			Started:   started,
			Elapsed:   elapsed,
		})
	} else {
		s.logger.Debug("request",
			zap.Uint64("session_id", id),
			zap.String("method", req.Method),
			zap.String("path", dispatchPath),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
	}

	if s.opts.Ledger != nil {
		alpn := ""
		if r.TLS != nil {
			alpn = r.TLS.NegotiatedProtocol
		}
		if err := s.opts.Ledger.Record(id, req.RemoteIP, req.Method, dispatchPath, status, alpn, started, time.Now()); err != nil {
			s.logger.Warn("session ledger write failed", zap.Error(err))
		}
	}
}

// newRequestFromHTTP builds an exchange.Request from the stdlib request:
// header names lowercased (first value only), plus the :method, :scheme,
// :authority and :path pseudo-headers and the client's IP.
func newRequestFromHTTP(r *http.Request) *exchange.Request {
	headers := make(exchange.Header, len(r.Header)+4)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[toLowerASCII(name)] = values[0]
		}
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	headers[":method"] = r.Method
	headers[":scheme"] = scheme
	headers[":authority"] = r.Host
	headers[":path"] = r.URL.RequestURI()

	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	return &exchange.Request{
		Method:   r.Method,
		Headers:  headers,
		Body:     r.Body,
		TLS:      r.TLS != nil,
		RemoteIP: remoteIP,
	}
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
