// Package sseclient implements the client half of spec §4.5.1's event
// source: a line-oriented SSE parser plus a reconnect loop that resumes
// with Last-Event-ID and backs off between attempts.
package sseclient

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Event is one parsed server-sent event.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds; 0 if the event carried no retry: line
}

// Parser reads SSE frames off r, line by line, dispatching a completed
// Event on each blank line per the wire format (spec §4.5.1).
type Parser struct {
	reader  *bufio.Reader
	current Event
	hasData bool
}

// NewParser wraps r in a line-buffered SSE parser.
func NewParser(r io.Reader) *Parser {
	return &Parser{reader: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF when the stream ends. Comment
// lines (leading ":") are read and discarded, including heartbeats.
func (p *Parser) Next() (Event, error) {
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && (p.hasData || p.current.Event != "" || p.current.ID != "") {
				ev := p.flush()
				return ev, nil
			}
			return Event{}, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if p.hasData || p.current.Event != "" || p.current.ID != "" || p.current.Retry != 0 {
				return p.flush(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment line, e.g. the ":lub-dub" heartbeat
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			if !strings.ContainsRune(value, 0) {
				p.current.ID = value
			}
		case "event":
			p.current.Event = value
		case "data":
			if p.hasData {
				p.current.Data += "\n" + value
			} else {
				p.current.Data = value
				p.hasData = true
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				p.current.Retry = ms
			}
		}
	}
}

func (p *Parser) flush() Event {
	ev := p.current
	p.current = Event{}
	p.hasData = false
	return ev
}
