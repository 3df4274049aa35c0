package server

import (
	"net/http/httptest"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/sitekiln/sitekiln/internal/exchange"
	"github.com/sitekiln/sitekiln/internal/router"
)

func newTestServer(rt *router.Router) *Server {
	return New(rt, Options{Origin: "https://example.test", Production: true})
}

func TestServeHTTPDispatchesThroughRouter(t *testing.T) {
	rt := router.New()
	rt.Route("/answer", func(ex *exchange.Exchange, next func() error) error {
		ex.Prepare(map[string]int{"answer": 42})
		return nil
	})
	s := newTestServer(rt)

	req := httptest.NewRequest("GET", "/answer", nil)
	rec := httptest.NewRecorder()
	s.serveHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"answer":42}` {
		t.Fatalf("got body %q", rec.Body.String())
	}
}

func TestServeHTTPRejectsBadPathAsBadRequest(t *testing.T) {
	rt := router.New()
	rt.Route("*", func(ex *exchange.Exchange, next func() error) error {
		ex.Prepare("should not run")
		return nil
	})
	s := newTestServer(rt)

	req := httptest.NewRequest("GET", "/a%2fb", nil)
	rec := httptest.NewRecorder()
	s.serveHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("expected 400 for encoded slash, got %d", rec.Code)
	}
}

func TestServeHTTPRecordsSessionToLedger(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenSessionLedger(dir + "/sessions.db")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	rt := router.New()
	rt.Route("*", func(ex *exchange.Exchange, next func() error) error {
		ex.Prepare("ok")
		return nil
	})
	s := New(rt, Options{Origin: "https://example.test", Production: true, Ledger: ledger})

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.serveHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	stored := 0
	if err := ledger.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(sessionBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			stored++
		}
		return nil
	}); err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if stored != 1 {
		t.Fatalf("expected 1 ledger record, got %d", stored)
	}
}
