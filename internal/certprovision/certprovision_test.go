package certprovision

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireOpenSSL(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("openssl not available on PATH")
	}
}

func TestEnsureGeneratesCertAndKey(t *testing.T) {
	requireOpenSSL(t)
	dir := t.TempDir()
	p, err := New("", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	crt := filepath.Join(dir, "site.crt")
	key := filepath.Join(dir, "site.key")
	res, err := p.Ensure(context.Background(), crt, key, Options{
		CommonName: "localhost",
		SANs:       []string{"localhost", "127.0.0.1"},
	})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if res.Reused {
		t.Fatal("expected first Ensure to generate, not reuse")
	}
	if _, err := os.Stat(crt); err != nil {
		t.Fatalf("expected cert file to exist: %v", err)
	}
	if _, err := os.Stat(key); err != nil {
		t.Fatalf("expected key file to exist: %v", err)
	}
}

func TestEnsureReusesWhenCachedAndUnexpired(t *testing.T) {
	requireOpenSSL(t)
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.db")
	p, err := New(cachePath, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	crt := filepath.Join(dir, "site.crt")
	key := filepath.Join(dir, "site.key")
	opts := Options{CommonName: "localhost", SANs: []string{"localhost"}}

	if _, err := p.Ensure(context.Background(), crt, key, opts); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	res, err := p.Ensure(context.Background(), crt, key, opts)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if !res.Reused {
		t.Fatal("expected second Ensure to reuse the cached cert")
	}
}

func TestEnsureRegeneratesWhenSANsChange(t *testing.T) {
	requireOpenSSL(t)
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.db")
	p, err := New(cachePath, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	crt := filepath.Join(dir, "site.crt")
	key := filepath.Join(dir, "site.key")

	if _, err := p.Ensure(context.Background(), crt, key, Options{CommonName: "localhost", SANs: []string{"localhost"}}); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	res, err := p.Ensure(context.Background(), crt, key, Options{CommonName: "localhost", SANs: []string{"localhost", "example.test"}})
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if res.Reused {
		t.Fatal("expected regeneration when SANs change")
	}
}
