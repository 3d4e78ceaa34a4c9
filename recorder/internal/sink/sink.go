// Package sink defines mirror backends for recorded session events.
package sink

import (
	"context"

	"github.com/hazyhaar/replaygeo/session"
)

// Batch is a run of events appended to one session, in append order.
type Batch struct {
	SessionID string          `json:"sessionId"`
	Events    []session.Event `json:"events"`
}

// Sink is the output interface. Implementations deliver event batches to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, batch Batch) error
	Close() error
}
