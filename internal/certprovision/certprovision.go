// Package certprovision shells out to the system openssl binary to mint a
// self-signed TLS certificate for local development, and keeps a
// bbolt-backed cache of what it last provisioned so repeated runs don't
// regenerate a cert whose SANs and validity window still cover today.
// The cache is an optimization only: the filesystem's .crt/.key pair next
// to the config, not the cache entry, is the actual source of truth.
package certprovision

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrOpenSSLNotFound is returned when the openssl binary cannot be located.
var ErrOpenSSLNotFound = errors.New("certprovision: openssl not found on PATH")

var cacheBucket = []byte("certs")

// Options configures certificate generation.
type Options struct {
	CommonName string
	SANs       []string // DNS names and/or IP addresses
	ValidDays  int       // default 825, matching modern browser trust limits
	Logger     *zap.Logger
}

// Provisioner generates and caches self-signed certificates.
type Provisioner struct {
	logger *zap.Logger
	cache  *bbolt.DB // optional; nil disables caching
	mu     sync.Mutex
}

// New builds a Provisioner. cachePath may be empty to disable caching.
func New(cachePath string, logger *zap.Logger) (*Provisioner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provisioner{logger: logger}
	if cachePath == "" {
		return p, nil
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, fmt.Errorf("certprovision: create cache directory: %w", err)
	}
	db, err := bbolt.Open(cachePath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("certprovision: open cache: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("certprovision: create cache bucket: %w", err)
	}
	p.cache = db
	return p, nil
}

// Close releases the cache database, if one was opened.
func (p *Provisioner) Close() error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Close()
}

type cacheEntry struct {
	CommonName string    `json:"common_name"`
	SANs       []string  `json:"sans"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Result is the filesystem pair a caller loads into tls.LoadX509KeyPair.
type Result struct {
	CertPath string
	KeyPath  string
	Reused   bool
}

// Ensure produces crtPath/keyPath (plus a <crtPath-without-ext>.cnf SAN
// config) for opts, reusing the existing pair when the cache says it still
// covers today and the files are still present on disk.
func (p *Provisioner) Ensure(ctx context.Context, crtPath, keyPath string, opts Options) (Result, error) {
	if opts.ValidDays == 0 {
		opts.ValidDays = 825
	}

	if p.stillValid(crtPath, keyPath, opts) {
		return Result{CertPath: crtPath, KeyPath: keyPath, Reused: true}, nil
	}

	opensslPath, err := exec.LookPath("openssl")
	if err != nil {
		return Result{}, ErrOpenSSLNotFound
	}

	cnfPath := strings.TrimSuffix(crtPath, filepath.Ext(crtPath)) + ".cnf"
	if err := writeSANConfig(cnfPath, opts); err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(filepath.Dir(crtPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("certprovision: create cert directory: %w", err)
	}

	args := []string{
		"req", "-x509", "-nodes",
		"-newkey", "rsa:2048",
		"-keyout", keyPath,
		"-out", crtPath,
		"-days", fmt.Sprintf("%d", opts.ValidDays),
		"-config", cnfPath,
		"-extensions", "v3_req",
	}
	cmd := exec.CommandContext(ctx, opensslPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("certprovision: openssl failed: %w: %s", err, stderr.String())
	}

	p.logger.Info("provisioned self-signed certificate",
		zap.String("cert", crtPath), zap.String("key", keyPath), zap.Strings("sans", opts.SANs))

	issued := time.Now()
	p.remember(crtPath, cacheEntry{
		CommonName: opts.CommonName,
		SANs:       opts.SANs,
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(time.Duration(opts.ValidDays) * 24 * time.Hour),
	})

	return Result{CertPath: crtPath, KeyPath: keyPath, Reused: false}, nil
}

// stillValid checks the cache entry (if any) against opts and the current
// time, and that both files are still present; any mismatch forces
// regeneration. When there's no cache entry -- caching disabled, a cold
// cache, or a corrupted/missing record -- it falls back to parsing the
// certificate that's already on disk, since the cache is an optimization
// only and the .crt file is the actual source of truth.
func (p *Provisioner) stillValid(crtPath, keyPath string, opts Options) bool {
	if _, err := os.Stat(crtPath); err != nil {
		return false
	}
	if _, err := os.Stat(keyPath); err != nil {
		return false
	}

	if entry, ok := p.lookup(crtPath); ok {
		if entry.CommonName != opts.CommonName || !sameSANs(entry.SANs, opts.SANs) {
			return false
		}
		// Renew proactively once within 30 days of expiry.
		return time.Now().Before(entry.ExpiresAt.Add(-30 * 24 * time.Hour))
	}

	cert, err := readCertificate(crtPath)
	if err != nil {
		return false
	}
	if cert.Subject.CommonName != opts.CommonName || !sameSANs(certSANs(cert), opts.SANs) {
		return false
	}
	return time.Now().Before(cert.NotAfter.Add(-30 * 24 * time.Hour))
}

// readCertificate parses the PEM-encoded certificate already on disk, the
// fallback path used when there's no usable cache entry to consult.
func readCertificate(crtPath string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(crtPath)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("certprovision: no PEM block in %s", crtPath)
	}
	return x509.ParseCertificate(block.Bytes)
}

func certSANs(cert *x509.Certificate) []string {
	sans := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses))
	sans = append(sans, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		sans = append(sans, ip.String())
	}
	return sans
}

func sameSANs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	return true
}

func (p *Provisioner) lookup(crtPath string) (cacheEntry, bool) {
	if p.cache == nil {
		return cacheEntry{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var entry cacheEntry
	found := false
	_ = p.cache.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		data := b.Get([]byte(crtPath))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return entry, found
}

func (p *Provisioner) remember(crtPath string, entry cacheEntry) {
	if p.cache == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = p.cache.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		return b.Put([]byte(crtPath), encoded)
	})
}

// writeSANConfig writes the openssl(1) config file describing the
// certificate's subject and subjectAltName extension.
func writeSANConfig(path string, opts Options) error {
	var sans strings.Builder
	dnsIdx, ipIdx := 1, 1
	for _, name := range opts.SANs {
		if ip := net.ParseIP(name); ip != nil {
			fmt.Fprintf(&sans, "IP.%d = %s\n", ipIdx, name)
			ipIdx++
			continue
		}
		fmt.Fprintf(&sans, "DNS.%d = %s\n", dnsIdx, name)
		dnsIdx++
	}

	contents := fmt.Sprintf(`[req]
distinguished_name = req_distinguished_name
x509_extensions = v3_req
prompt = no

[req_distinguished_name]
CN = %s

[v3_req]
subjectAltName = @alt_names

[alt_names]
%s`, opts.CommonName, sans.String())

	return os.WriteFile(path, []byte(contents), 0o644)
}
