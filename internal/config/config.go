// Package config loads a Caddyfile-flavored configuration format, reusing
// Caddy's own token dispenser (github.com/caddyserver/caddy/v2/caddyconfig/caddyfile)
// the way the teacher module used it for its own directive block, generalized
// here to a standalone "site { ... }" document instead of an httpcaddyfile
// subdirective.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
)

// Site is the fully resolved configuration for one sitekiln instance.
type Site struct {
	Root             string         `json:"root"`
	Listen           string         `json:"listen"`
	TLSCert          string         `json:"tls_cert,omitempty"`
	TLSKey           string         `json:"tls_key,omitempty"`
	Production       bool           `json:"production"`
	ExecutorCapacity int            `json:"executor_capacity"`
	SessionLedger    string         `json:"session_ledger,omitempty"`
	AnalyticsDB      string         `json:"analytics_db,omitempty"`
	SSEHeartbeat     caddy.Duration `json:"sse_heartbeat,omitempty"`
	SSEReconnect     caddy.Duration `json:"sse_reconnect,omitempty"`
}

func defaultSite() Site {
	return Site{
		Listen:           ":4437",
		ExecutorCapacity: 8,
		SSEHeartbeat:     caddy.Duration(30 * time.Second),
		SSEReconnect:     caddy.Duration(2 * time.Second),
	}
}

// Load reads and parses the Caddyfile-flavored document at path.
func Load(path string) (Site, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Site{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(path, raw)
}

// Parse parses a Caddyfile-flavored document, looking for exactly one
// top-level "site { ... }" block.
//
//	site {
//	    root /var/www/example
//	    listen :4437
//	    tls /etc/sitekiln/example.crt /etc/sitekiln/example.key
//	    production on
//	    executor_capacity 8
//	    session_ledger /var/lib/sitekiln/sessions.db
//	    analytics_db /var/lib/sitekiln/analytics.duckdb
//	    sse_heartbeat 30s
//	    sse_reconnect 2s
//	}
func Parse(filename string, raw []byte) (Site, error) {
	site := defaultSite()

	blocks, err := caddyfile.Parse(filename, raw)
	if err != nil {
		return Site{}, fmt.Errorf("config: %w", err)
	}

	found := false
	for _, block := range blocks {
		for _, key := range block.Keys {
			if key != "site" {
				continue
			}
			found = true
			var tokens []caddyfile.Token
			for _, segment := range block.Segments {
				tokens = append(tokens, segment...)
			}
			d := caddyfile.NewDispenser(tokens)
			if err := unmarshalSite(&site, d); err != nil {
				return Site{}, err
			}
		}
	}
	if !found {
		return Site{}, fmt.Errorf("config: no \"site\" block found in %s", filename)
	}
	if site.Root == "" {
		return Site{}, fmt.Errorf("config: \"root\" is required inside the site block")
	}
	return site, nil
}

// unmarshalSite walks the subdirective lines already extracted from a
// "site { ... }" server block — caddyfile.Parse has already consumed the
// block's own braces, so each line here is a plain top-level directive,
// not a nested block (unlike the single-directive UnmarshalCaddyfile the
// teacher module implements for "durable_streams { ... }").
func unmarshalSite(s *Site, d *caddyfile.Dispenser) error {
	for d.Next() {
		switch d.Val() {
		case "root":
			if !d.Args(&s.Root) {
				return d.ArgErr()
			}
		case "listen":
			if !d.Args(&s.Listen) {
				return d.ArgErr()
			}
		case "tls":
			if !d.Args(&s.TLSCert, &s.TLSKey) {
				return d.ArgErr()
			}
		case "production":
			var val string
			if !d.Args(&val) {
				return d.ArgErr()
			}
			s.Production = val == "on" || val == "true"
		case "executor_capacity":
			var val string
			if !d.Args(&val) {
				return d.ArgErr()
			}
			n, err := parseIntArg(val)
			if err != nil {
				return d.Errf("invalid executor_capacity: %v", err)
			}
			s.ExecutorCapacity = n
		case "session_ledger":
			if !d.Args(&s.SessionLedger) {
				return d.ArgErr()
			}
		case "analytics_db":
			var val string
			if !d.Args(&val) {
				return d.ArgErr()
			}
			if val != "off" {
				s.AnalyticsDB = val
			}
		case "sse_heartbeat":
			var val string
			if !d.Args(&val) {
				return d.ArgErr()
			}
			dur, err := caddy.ParseDuration(val)
			if err != nil {
				return d.Errf("invalid sse_heartbeat: %v", err)
			}
			s.SSEHeartbeat = caddy.Duration(dur)
		case "sse_reconnect":
			var val string
			if !d.Args(&val) {
				return d.ArgErr()
			}
			dur, err := caddy.ParseDuration(val)
			if err != nil {
				return d.Errf("invalid sse_reconnect: %v", err)
			}
			s.SSEReconnect = caddy.Duration(dur)
		default:
			return d.Errf("unknown subdirective: %s", d.Val())
		}
	}
	return nil
}

func parseIntArg(s string) (int, error) {
	var val int
	_, err := fmt.Sscanf(s, "%d", &val)
	return val, err
}
