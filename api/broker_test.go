package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishFansOutToRegisteredClient(t *testing.T) {
	b := NewBroker()
	client := make(chan []byte, 1)
	b.register <- client
	defer func() { b.unregister <- client }()

	b.Publish("iceberg_detected", map[string]string{"symbol": "BTCUSDT"})

	select {
	case msg := <-client:
		var envelope struct {
			Kind string `json:"kind"`
			Data map[string]string
		}
		require.NoError(t, json.Unmarshal(msg, &envelope))
		assert.Equal(t, "iceberg_detected", envelope.Kind)
		assert.Equal(t, "BTCUSDT", envelope.Data["symbol"])
	case <-time.After(time.Second):
		t.Fatal("expected client to receive published message")
	}
}

func TestBroker_UnregisterClosesClientChannel(t *testing.T) {
	b := NewBroker()
	client := make(chan []byte, 1)
	b.register <- client
	b.unregister <- client

	_, ok := <-client
	assert.False(t, ok, "channel must be closed on unregister")
}

func TestBroker_SlowClientDoesNotBlockBroadcast(t *testing.T) {
	b := NewBroker()
	slow := make(chan []byte) // unbuffered, never read: every send would block without the drop path
	b.register <- slow
	defer func() { b.unregister <- slow }()

	done := make(chan struct{})
	go func() {
		b.Publish("whale_trade", map[string]int{"n": 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish must not block on a slow/unread client")
	}
}
