// Package router implements linear-scan middleware dispatch over a small
// route table: exact, prefix-tree, and wildcard matches (spec §4.5).
package router

import (
	"strings"

	"github.com/sitekiln/sitekiln/internal/exchange"
)

// MatchKind is how a Route's pattern is compared against a request path.
type MatchKind int

const (
	MatchPath MatchKind = iota // exact equality after trailing-slash stripping
	MatchTree                  // prefix match at a segment boundary
	MatchAll                   // matches everything
)

// Route binds a match rule to a middleware handler.
type Route struct {
	Match   MatchKind
	Pattern string
	Handler exchange.Handler
}

// Router holds a registered route table and dispatches each Exchange
// through the handlers whose pattern matches its path, left to right in
// registration order, via a linear scan.
type Router struct {
	routes     []Route
	scaffold   exchange.Handler // ensures respond() runs if nothing else did
}

// New creates an empty Router.
func New() *Router {
	return &Router{}
}

// Route registers pattern -> handler. A pattern ending in "/*" becomes a
// tree (prefix) match on the part before "/*"; "*" or "" matches
// everything; anything else is an exact match after normalization and
// trailing-slash stripping.
func (rt *Router) Route(pattern string, handler exchange.Handler) {
	rt.routes = append(rt.routes, compileRoute(pattern, handler))
}

func compileRoute(pattern string, handler exchange.Handler) Route {
	switch {
	case pattern == "" || pattern == "*":
		return Route{Match: MatchAll, Pattern: "*", Handler: handler}
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "/*")
		if prefix == "" {
			prefix = "/"
		}
		return Route{Match: MatchTree, Pattern: prefix, Handler: handler}
	default:
		return Route{Match: MatchPath, Pattern: strings.TrimSuffix(pattern, "/"), Handler: handler}
	}
}

// UseScaffold installs the catch-all handler that runs last and guarantees
// respond() has been called once the chain completes.
func (rt *Router) UseScaffold(handler exchange.Handler) {
	rt.scaffold = handler
}

// Dispatch runs path through the route table, invoking every matching
// route's handler in registration order, then the scaffold handler (if
// set), via Exchange.HandleWith.
func (rt *Router) Dispatch(ex *exchange.Exchange, path string) {
	var handlers []exchange.Handler
	for _, route := range rt.routes {
		if routeMatches(route, path) {
			handlers = append(handlers, route.Handler)
		}
	}
	if rt.scaffold != nil {
		handlers = append(handlers, rt.scaffold)
	}
	ex.HandleWith(handlers...)
}

func routeMatches(route Route, path string) bool {
	switch route.Match {
	case MatchAll:
		return true
	case MatchPath:
		return strings.TrimSuffix(path, "/") == route.Pattern
	case MatchTree:
		if path == route.Pattern {
			return true
		}
		prefix := route.Pattern
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return strings.HasPrefix(path, prefix)
	default:
		return false
	}
}
