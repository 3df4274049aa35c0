package accesslog

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap"
)

func TestRecordWritesZapLineWithoutSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l, err := New(zap.New(core), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Record(Entry{SessionID: 1, RemoteIP: "127.0.0.1", Method: "GET", Path: "/", Status: 200, Started: time.Now(), Elapsed: 5 * time.Millisecond})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != "request" {
		t.Fatalf("got message %q", entries[0].Message)
	}
}

func TestRecordWithDuckDBSink(t *testing.T) {
	dir := t.TempDir()
	l, err := New(zap.NewNop(), dir+"/analytics.duckdb")
	if err != nil {
		t.Skipf("duckdb sink unavailable in this environment: %v", err)
	}
	defer l.Close()

	l.Record(Entry{SessionID: 42, RemoteIP: "10.0.0.1", Method: "GET", Path: "/answer", Status: 200, Started: time.Now(), Elapsed: time.Millisecond})

	var count int
	row := l.sink.db.QueryRow("SELECT COUNT(*) FROM access_log")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}
