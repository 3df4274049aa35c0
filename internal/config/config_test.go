package config

import (
	"testing"
	"time"
)

func TestParseMinimalSite(t *testing.T) {
	raw := []byte(`
site {
	root /var/www/example
}
`)
	site, err := Parse("Sitefile", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if site.Root != "/var/www/example" {
		t.Fatalf("got root %q", site.Root)
	}
	if site.Listen != ":4437" {
		t.Fatalf("expected default listen address, got %q", site.Listen)
	}
	if site.ExecutorCapacity != 8 {
		t.Fatalf("expected default executor capacity 8, got %d", site.ExecutorCapacity)
	}
}

func TestParseFullSite(t *testing.T) {
	raw := []byte(`
site {
	root /srv/site
	listen :8443
	tls /etc/sitekiln/site.crt /etc/sitekiln/site.key
	production on
	executor_capacity 16
	session_ledger /var/lib/sitekiln/sessions.db
	analytics_db /var/lib/sitekiln/analytics.duckdb
	sse_heartbeat 15s
	sse_reconnect 1s
}
`)
	site, err := Parse("Sitefile", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if site.Listen != ":8443" || site.TLSCert != "/etc/sitekiln/site.crt" || site.TLSKey != "/etc/sitekiln/site.key" {
		t.Fatalf("got %+v", site)
	}
	if !site.Production {
		t.Fatal("expected production true")
	}
	if site.ExecutorCapacity != 16 {
		t.Fatalf("got executor capacity %d", site.ExecutorCapacity)
	}
	if site.AnalyticsDB != "/var/lib/sitekiln/analytics.duckdb" {
		t.Fatalf("got analytics db %q", site.AnalyticsDB)
	}
	if time.Duration(site.SSEHeartbeat) != 15*time.Second {
		t.Fatalf("got heartbeat %v", time.Duration(site.SSEHeartbeat))
	}
	if time.Duration(site.SSEReconnect) != 1*time.Second {
		t.Fatalf("got reconnect %v", time.Duration(site.SSEReconnect))
	}
}

func TestParseAnalyticsOffLeavesDisabled(t *testing.T) {
	raw := []byte(`
site {
	root /srv/site
	analytics_db off
}
`)
	site, err := Parse("Sitefile", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if site.AnalyticsDB != "" {
		t.Fatalf("expected analytics disabled, got %q", site.AnalyticsDB)
	}
}

func TestParseMissingRootFails(t *testing.T) {
	raw := []byte(`
site {
	listen :4437
}
`)
	if _, err := Parse("Sitefile", raw); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestParseMissingSiteBlockFails(t *testing.T) {
	raw := []byte(`
other {
	foo bar
}
`)
	if _, err := Parse("Sitefile", raw); err == nil {
		t.Fatal("expected error for missing site block")
	}
}
