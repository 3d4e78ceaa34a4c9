// CLAUDE:SUMMARY Writes event batches as JSON lines to an io.Writer (defaults to stdout).
package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout), one line
// per event.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range batch.Events {
		if err := s.enc.Encode(envelope{Type: ev.Type.String(), SessionID: batch.SessionID, Data: ev}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stdout) Close() error { return nil }

type envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data"`
}
