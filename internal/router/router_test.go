package router

import (
	"testing"

	"github.com/sitekiln/sitekiln/internal/exchange"
)

type capturingWriter struct {
	status  int
	headers exchange.Header
}

func (w *capturingWriter) WriteHeader(status int, headers exchange.Header) {
	w.status = status
	w.headers = headers
}
func (w *capturingWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *capturingWriter) Flush()                      {}

func newEx(w *capturingWriter, path string) *exchange.Exchange {
	req := &exchange.Request{Method: "GET", Headers: exchange.Header{":path": path}}
	return exchange.New("https://example.test", req, w, nil, exchange.Options{Production: true})
}

func TestExactMatchStripsTrailingSlash(t *testing.T) {
	rt := New()
	var called bool
	rt.Route("/answer", func(ex *exchange.Exchange, next func() error) error {
		called = true
		ex.Prepare("ok")
		return nil
	})

	w := &capturingWriter{}
	rt.Dispatch(newEx(w, "/answer/"), "/answer/")
	if !called {
		t.Fatal("expected exact route to match with trailing slash stripped")
	}
}

func TestTreeMatchPrefix(t *testing.T) {
	rt := New()
	var called bool
	rt.Route("/assets/*", func(ex *exchange.Exchange, next func() error) error {
		called = true
		ex.Prepare("ok")
		return nil
	})

	w := &capturingWriter{}
	rt.Dispatch(newEx(w, "/assets/app.js"), "/assets/app.js")
	if !called {
		t.Fatal("expected tree route to match a nested path")
	}

	w2 := &capturingWriter{}
	called = false
	rt.Dispatch(newEx(w2, "/assetsevil"), "/assetsevil")
	if called {
		t.Fatal("tree match must respect segment boundary, not plain prefix")
	}
}

func TestMultipleRoutesRunInRegistrationOrder(t *testing.T) {
	rt := New()
	var order []int
	rt.Route("*", func(ex *exchange.Exchange, next func() error) error {
		order = append(order, 1)
		return next()
	})
	rt.Route("*", func(ex *exchange.Exchange, next func() error) error {
		order = append(order, 2)
		ex.Prepare("done")
		return nil
	})

	w := &capturingWriter{}
	rt.Dispatch(newEx(w, "/"), "/")
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2], got %v", order)
	}
}

func TestScaffoldRunsAfterRoutes(t *testing.T) {
	rt := New()
	var scaffolded bool
	rt.Route("*", func(ex *exchange.Exchange, next func() error) error {
		return next()
	})
	rt.UseScaffold(func(ex *exchange.Exchange, next func() error) error {
		scaffolded = true
		ex.Prepare("fallback")
		return nil
	})

	w := &capturingWriter{}
	rt.Dispatch(newEx(w, "/"), "/")
	if !scaffolded {
		t.Fatal("expected scaffold handler to run")
	}
	if w.status != 200 {
		t.Fatalf("expected 200, got %d", w.status)
	}
}
