package recorder

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/replaygeo/recorder/internal/sink"
)

// Sink is the output interface for mirrored session events.
type Sink = sink.Sink

// Batch is a run of mirrored events.
type Batch = sink.Batch

// BatchFunc is called for each mirrored batch.
type BatchFunc = sink.BatchFunc

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry. A nil client uses
// a client with a 10s timeout.
func NewWebhookSink(url string, client *http.Client, logger *slog.Logger) Sink {
	var opts []sink.WebhookOption
	if logger != nil {
		opts = append(opts, sink.WithWebhookLogger(logger))
	}
	if client != nil {
		opts = append(opts, sink.WithWebhookClient(client))
	}
	return sink.NewWebhook(url, opts...)
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn BatchFunc) Sink {
	return sink.NewCallback(fn)
}

// NewRouterSink fans batches out to every sink.
func NewRouterSink(logger *slog.Logger, sinks ...Sink) Sink {
	return sink.NewRouter(logger, sinks...)
}
