package recorder

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/replaygeo/idgen"
)

// Network log messages. Request and response lines share a requestId.
const (
	MsgNetRequest  = "REC_NET_REQUEST"
	MsgNetResponse = "REC_NET_RESPONSE"
)

// NetLogger writes network log entries. They are log lines, not session
// events; they reach the session only when the logger is the recorder's
// console-captured one.
type NetLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewNetLogger creates a NetLogger writing to l. A nil now uses time.Now.
func NewNetLogger(l *slog.Logger, now func() time.Time) *NetLogger {
	if l == nil {
		l = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &NetLogger{logger: l, now: now}
}

// Request logs an outbound request.
func (n *NetLogger) Request(requestID, url, method string) {
	n.log(MsgNetRequest,
		slog.String("requestId", requestID),
		slog.String("url", url),
		slog.String("method", method),
		slog.Int64("timestamp", n.now().UnixMilli()))
}

// Response logs a completed exchange.
func (n *NetLogger) Response(requestID, url, method string, status int, statusText string) {
	n.log(MsgNetResponse,
		slog.String("requestId", requestID),
		slog.String("url", url),
		slog.String("method", method),
		slog.Int("status", status),
		slog.String("statusText", statusText),
		slog.Int64("timestamp", n.now().UnixMilli()))
}

// Failure logs an exchange that produced no response.
func (n *NetLogger) Failure(requestID, url, method, errMsg string) {
	n.log(MsgNetResponse,
		slog.String("requestId", requestID),
		slog.String("url", url),
		slog.String("method", method),
		slog.String("error", errMsg),
		slog.Int64("timestamp", n.now().UnixMilli()))
}

func (n *NetLogger) log(msg string, attrs ...slog.Attr) {
	defer func() { _ = recover() }()
	n.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

// Transport is an http.RoundTripper decorator logging every exchange
// through a NetLogger. It returns exactly what Base returns; it adds no
// timeout or retry and does not touch the request.
type Transport struct {
	// Base is the wrapped RoundTripper. Nil means http.DefaultTransport.
	Base http.RoundTripper
	Log  *NetLogger
	// NewID generates request identifiers. Nil means idgen.RequestID.
	NewID idgen.Generator
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	id, url, method := t.describe(req)
	if t.Log != nil {
		t.Log.Request(id, url, method)
	}

	resp, err := base.RoundTrip(req)

	if t.Log != nil {
		if err != nil {
			t.Log.Failure(id, url, method, err.Error())
		} else if resp != nil {
			t.Log.Response(id, url, method, resp.StatusCode, StatusText(resp))
		}
	}
	return resp, err
}

func (t *Transport) describe(req *http.Request) (id, url, method string) {
	defer func() {
		if recover() != nil {
			id, url, method = "", "", ""
		}
	}()
	gen := t.NewID
	if gen == nil {
		gen = idgen.RequestID
	}
	method = req.Method
	if method == "" {
		method = http.MethodGet
	}
	if req.URL != nil {
		url = req.URL.String()
	}
	return gen(), url, method
}

// StatusText returns the reason phrase of resp, taken from resp.Status when
// the server sent one.
func StatusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text, ok := strings.CutPrefix(resp.Status, code+" "); ok {
		return text
	}
	if resp.Status != "" && resp.Status != code {
		return resp.Status
	}
	return http.StatusText(resp.StatusCode)
}

// Install wraps c.Transport with a logging Transport and returns a func
// putting the original value back, nil included.
func Install(c *http.Client, log *NetLogger) (restore func()) {
	orig := c.Transport
	c.Transport = &Transport{Base: orig, Log: log}
	return func() { c.Transport = orig }
}
