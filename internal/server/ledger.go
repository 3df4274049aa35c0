package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var sessionBucket = []byte("sessions")

// sessionRecord is the serialized form of one served request (its ID is the
// server's per-request counter) kept purely for
// operability (uptime dashboards, restart forensics): the router never
// consults it to decide how a request is served.
type sessionRecord struct {
	ID        uint64 `json:"id"`
	RemoteIP  string `json:"remote_ip"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	ALPN      string `json:"alpn,omitempty"`
	StartedAt int64  `json:"started_at"`
	EndedAt   int64  `json:"ended_at"`
}

// SessionLedger records one entry per completed request to a bbolt file so an operator
// can inspect recent traffic across restarts. It is a bookkeeping sink
// only; SPEC_FULL.md is explicit that it is never read back to change
// routing or response behavior.
type SessionLedger struct {
	db *bbolt.DB
	mu sync.Mutex
}

// OpenSessionLedger opens (creating if necessary) a bbolt database at path.
func OpenSessionLedger(path string) (*SessionLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sessionledger: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("sessionledger: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionledger: create bucket: %w", err)
	}
	return &SessionLedger{db: db}, nil
}

// Record appends a finished request's bookkeeping entry. alpn is the
// negotiated TLS ALPN protocol ("h2" for TLS connections, empty for
// plaintext h2c ones).
func (l *SessionLedger) Record(id uint64, remoteIP, method, path string, status int, alpn string, started, ended time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := sessionRecord{
		ID:        id,
		RemoteIP:  remoteIP,
		Method:    method,
		Path:      path,
		Status:    status,
		ALPN:      alpn,
		StartedAt: started.UnixMilli(),
		EndedAt:   ended.UnixMilli(),
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		key := fmt.Sprintf("%020d", id)
		return b.Put([]byte(key), encoded)
	})
}

// Close releases the underlying bbolt file.
func (l *SessionLedger) Close() error {
	return l.db.Close()
}
