package sseclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// errClosedByServer signals runOnce saw an explicit "close" event: the
// server ended the stream on purpose, so Run should stop instead of
// reconnecting.
var errClosedByServer = errors.New("sseclient: server closed the event source")

// Handler receives each event delivered by a Client's reconnect loop.
type Handler func(Event)

// Options configures a Client's reconnect behavior.
type Options struct {
	URL              string
	InitialDelay     time.Duration // default 1s
	MaxDelay         time.Duration // default 30s
	BackoffMultiplier float64      // default 2.0
	Logger           *zap.Logger
}

// Client connects to an event-source endpoint and redelivers events to a
// Handler, reconnecting with Last-Event-ID and exponential backoff
// whenever the connection drops (spec §4.5.1's "Client reconnection").
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger

	mu             sync.Mutex
	lastEventID    string
	stopped        bool
	reconnectDelay time.Duration // server-directed base delay from the last retry: field, 0 until set
}

// New builds a Client. httpClient may be nil to use http.DefaultClient.
func New(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.InitialDelay == 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.BackoffMultiplier == 0 {
		opts.BackoffMultiplier = 2.0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{opts: opts, httpClient: httpClient, logger: logger}
}

// Stop ends the reconnect loop the next time it checks between events or
// between reconnect attempts.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Run connects and redelivers events to handle until ctx is cancelled or
// Stop is called, reconnecting on every disconnect.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	attempt := 0
	for {
		if c.isStopped() || ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx, handle)
		if errors.Is(err, errClosedByServer) {
			return nil
		}
		if c.isStopped() || ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Warn("event source connection dropped", zap.Error(err), zap.Int("attempt", attempt))
		}

		delay := c.backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.opts.InitialDelay
	c.mu.Lock()
	if c.reconnectDelay > 0 {
		base = c.reconnectDelay
	}
	c.mu.Unlock()

	d := float64(base) * math.Pow(c.opts.BackoffMultiplier, float64(attempt))
	if d > float64(c.opts.MaxDelay) {
		d = float64(c.opts.MaxDelay)
	}
	return time.Duration(d)
}

func (c *Client) runOnce(ctx context.Context, handle Handler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("accept", "text/event-stream")
	c.mu.Lock()
	lastID := c.lastEventID
	c.mu.Unlock()
	if lastID != "" {
		req.Header.Set("last-event-id", lastID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sseclient: unexpected status %d", resp.StatusCode)
	}

	parser := NewParser(resp.Body)
	for {
		if c.isStopped() {
			return nil
		}
		ev, err := parser.Next()
		if err != nil {
			return err
		}
		if ev.ID != "" {
			c.mu.Lock()
			c.lastEventID = ev.ID
			c.mu.Unlock()
		}
		if ev.Retry != 0 {
			c.mu.Lock()
			c.reconnectDelay = time.Duration(ev.Retry) * time.Millisecond
			c.mu.Unlock()
		}
		if ev.Event == "close" {
			return errClosedByServer
		}
		handle(ev)
	}
}
