// CLAUDE:SUMMARY In-process callback sink delivering event batches via Go function calls with zero serialization.
package sink

import "context"

// BatchFunc is called for each batch (in-process, zero serialisation).
type BatchFunc func(ctx context.Context, batch Batch) error

// Callback delivers batches via Go function calls.
type Callback struct {
	onBatch BatchFunc
}

// NewCallback creates a Callback sink. onBatch may be nil.
func NewCallback(onBatch BatchFunc) *Callback {
	return &Callback{onBatch: onBatch}
}

func (c *Callback) Send(ctx context.Context, batch Batch) error {
	if c.onBatch != nil {
		return c.onBatch(ctx, batch)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
