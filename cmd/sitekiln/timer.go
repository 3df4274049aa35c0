package main

import (
	"crypto/tls"
	"sync"
	"time"
)

// heartbeatTicker adapts time.Ticker to the eventsource.Timer interface.
type heartbeatTicker struct {
	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

func newHeartbeatTicker() *heartbeatTicker {
	return &heartbeatTicker{}
}

func (h *heartbeatTicker) Start(intervalMS int, fn func()) {
	if intervalMS <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ticker != nil {
		return
	}
	h.ticker = time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
	h.done = make(chan struct{})
	go func(ticker *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}(h.ticker, h.done)
}

func (h *heartbeatTicker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ticker == nil {
		return
	}
	h.ticker.Stop()
	close(h.done)
	h.ticker = nil
}

func loadCertificate(certPath, keyPath string) (tls.Certificate, error) {
	return tls.LoadX509KeyPair(certPath, keyPath)
}
