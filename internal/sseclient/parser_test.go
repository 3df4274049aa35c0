package sseclient

import (
	"io"
	"strings"
	"testing"
)

func TestParserReadsIDEventData(t *testing.T) {
	input := "id: 1\nevent: message\ndata: hello\n\n"
	p := NewParser(strings.NewReader(input))

	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID != "1" || ev.Event != "message" || ev.Data != "hello" {
		t.Fatalf("got %+v", ev)
	}
}

func TestParserJoinsMultilineData(t *testing.T) {
	input := "data: line1\ndata: line2\n\n"
	p := NewParser(strings.NewReader(input))

	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Data != "line1\nline2" {
		t.Fatalf("got data %q", ev.Data)
	}
}

func TestParserSkipsCommentLines(t *testing.T) {
	input := ":lub-dub\n\ndata: alive\n\n"
	p := NewParser(strings.NewReader(input))

	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Data != "alive" {
		t.Fatalf("expected comment to be skipped, got %+v", ev)
	}
}

func TestParserParsesRetryDirective(t *testing.T) {
	input := "retry: 5000\n\n"
	p := NewParser(strings.NewReader(input))

	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Retry != 5000 {
		t.Fatalf("got retry %d", ev.Retry)
	}
}

func TestParserReturnsEOFAtStreamEnd(t *testing.T) {
	p := NewParser(strings.NewReader(""))
	if _, err := p.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
