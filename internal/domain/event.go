package domain

import (
	"encoding/json"
	"time"
)

// Channels used on the SignalBus.
const (
	ChannelArbitrage = "arbengine:arbitrage"
	ChannelStatus    = "arbengine:status"
	StreamArbitrage  = "arbengine:arbitrage:stream"
)

// Event is the envelope broadcast to WebSocket clients and the signal bus.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Comparison is the latest observed value of a comparison tag.
type Comparison struct {
	Tag        string    `json:"tag"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}
