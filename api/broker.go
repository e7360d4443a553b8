// Package api exposes an HTTP/SSE server broadcasting feature snapshots and
// detection events for a local dashboard or labeling tool, adapted from the
// teacher's realtime/broker.go register/unregister/broadcast pattern
// (SPEC_FULL §12), plus the Prometheus /metrics endpoint.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Broker fans messages out to every connected SSE client. Clients
// (un)register themselves over channels; a single run loop applies those
// changes and the broadcasts, holding mu while it touches the client set.
type Broker struct {
	register   chan chan []byte
	unregister chan chan []byte
	broadcast  chan []byte

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewBroker constructs a Broker and starts its run loop.
func NewBroker() *Broker {
	b := &Broker{
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[chan []byte]struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	for {
		select {
		case c := <-b.register:
			b.mu.Lock()
			b.clients[c] = struct{}{}
			b.mu.Unlock()
		case c := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c)
			}
			b.mu.Unlock()
		case msg := <-b.broadcast:
			b.mu.Lock()
			for c := range b.clients {
				select {
				case c <- msg:
				default: // slow client, drop rather than block the broker
				}
			}
			b.mu.Unlock()
		}
	}
}

// Publish marshals v as JSON under the given event kind and fans it out to
// every connected client.
func (b *Broker) Publish(kind string, v any) {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Data any    `json:"data"`
	}{Kind: kind, Data: v})
	if err != nil {
		return
	}
	select {
	case b.broadcast <- payload:
	default: // broadcast channel full, drop this message; queued ones are kept
	}
}

// ServeHTTP implements the SSE endpoint.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := make(chan []byte, 16)
	b.register <- client
	defer func() { b.unregister <- client }()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
