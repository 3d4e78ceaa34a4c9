package cdp

import (
	"net/http"

	"github.com/go-rod/rod/lib/proto"
)

type pendingRequest struct {
	id     string
	url    string
	method string
}

// tracked reports whether requests of type t are logged. Without
// AllRequests only fetch and XHR calls are, like the wrapped HTTP client
// on the recorder side.
func (r *run) tracked(t proto.NetworkResourceType) bool {
	if r.cfg.AllRequests {
		return true
	}
	return t == "Fetch" || t == "XHR"
}

func (r *run) onRequest(e *proto.NetworkRequestWillBeSent) {
	if e.Request == nil || !r.tracked(e.Type) {
		return
	}
	// A redirect reuses the request ID: close out the previous hop.
	if p, ok := r.requests[e.RequestID]; ok && e.RedirectResponse != nil {
		r.cfg.Net.Response(p.id, p.url, p.method, e.RedirectResponse.Status, statusText(e.RedirectResponse))
	}
	p := pendingRequest{id: r.newReqID(), url: e.Request.URL, method: e.Request.Method}
	r.requests[e.RequestID] = p
	r.cfg.Net.Request(p.id, p.url, p.method)
}

func (r *run) onResponse(e *proto.NetworkResponseReceived) {
	p, ok := r.requests[e.RequestID]
	if !ok || e.Response == nil {
		return
	}
	delete(r.requests, e.RequestID)
	r.cfg.Net.Response(p.id, p.url, p.method, e.Response.Status, statusText(e.Response))
}

func (r *run) onLoadingFailed(e *proto.NetworkLoadingFailed) {
	p, ok := r.requests[e.RequestID]
	if !ok {
		return
	}
	delete(r.requests, e.RequestID)
	r.cfg.Net.Failure(p.id, p.url, p.method, e.ErrorText)
}

// statusText falls back to the standard reason phrase: HTTP/2 responses
// carry none.
func statusText(resp *proto.NetworkResponse) string {
	if resp.StatusText != "" {
		return resp.StatusText
	}
	return http.StatusText(resp.Status)
}
