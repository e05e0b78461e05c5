// Package msg defines the interface for different message brokers.
//
package msg

import (
	"sync"
	"time"
)

// Kinds of event published by the verifier.
const (
	KindRun   = "run"
	KindAlert = "alert"
)

// Event is the message the verifier publishes when a run finishes or an alert has been raised on the ledger.
type Event struct {
	Kind           string    `json:"kind"`
	Net            string    `json:"net"`
	ExchangeID     uint64    `json:"exchangeId"`
	Account        string    `json:"account"`
	Claimed        float64   `json:"claimed"`
	Actual         float64   `json:"actual"`
	Verified       bool      `json:"verified"`
	DiscrepancyPct float64   `json:"discrepancyPct"`
	State          string    `json:"state,omitempty"`
	Tx             string    `json:"tx,omitempty"` // commit hash for runs, alert hash for alerts
	Issue          string    `json:"issue,omitempty"`
	Error          string    `json:"error,omitempty"`
	Time           time.Time `json:"time"`
}

// MsgBroker is implemented by the supported brokers.
type MsgBroker interface {
	Setup() error
	Close() error

	// SendEvent publishes e for the given network.
	SendEvent(net string, e Event) error
	// GetEvents consumes the events published for net. The consumed message is acknowledged once mut is unlocked by
	// the receiver.
	GetEvents(net string, mut *sync.Mutex) (<-chan Event, <-chan error, error)
}
