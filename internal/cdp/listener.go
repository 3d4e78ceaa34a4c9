package cdp

import (
	"encoding/json"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/replaygeo/session"
)

// listen subscribes to every CDP event the engine consumes on one
// goroutine, so node map updates happen in protocol order.
func (r *run) listen() {
	defer close(r.listenDone)

	handlers := []any{
		r.onChildInserted,
		r.onChildRemoved,
		r.onSetChildNodes,
		r.onAttributeModified,
		r.onAttributeRemoved,
		r.onCharacterData,
		r.onDocumentUpdated,
		r.onBindingCalled,
		r.onFrameNavigated,
		r.onNavigatedWithinDocument,
	}
	if r.cfg.Console != nil {
		handlers = append(handlers, r.onConsole)
	}
	if r.cfg.Net != nil {
		handlers = append(handlers, r.onRequest, r.onResponse, r.onLoadingFailed)
	}

	wait := r.page.Context(r.ctx).EachEvent(handlers...)
	wait()
}

func (r *run) onChildInserted(e *proto.DOMChildNodeInserted) {
	if e.Node == nil {
		return
	}
	parentTag := r.nodes.tag(e.ParentNodeID)
	next := r.nodes.insert(e.ParentNodeID, e.PreviousNodeID, e.Node)

	n := serialize(e.Node, parentTag)
	if n == nil {
		return
	}
	add := session.AddedNode{ParentID: int(e.ParentNodeID), Node: n}
	if e.PreviousNodeID != 0 {
		prev := int(e.PreviousNodeID)
		add.PreviousID = &prev
	}
	if next != 0 {
		nx := int(next)
		add.NextID = &nx
	}
	r.push(item{change: &change{kind: changeAdd, add: add}})

	// CDP reports children lazily; ask for the rest of the subtree.
	if e.Node.ChildNodeCount != nil && *e.Node.ChildNodeCount > len(e.Node.Children) {
		go r.requestChildren(e.Node.NodeID)
	}
}

func (r *run) requestChildren(id proto.DOMNodeID) {
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(r.page.Context(r.ctx))
	if err != nil && r.ctx.Err() == nil {
		r.logger.Debug("cdp: request child nodes", "node_id", id, "error", err)
	}
}

func (r *run) onSetChildNodes(e *proto.DOMSetChildNodes) {
	parentTag := r.nodes.tag(e.ParentID)
	r.nodes.setChildren(e.ParentID, e.Nodes)

	var prev *int
	for _, child := range e.Nodes {
		n := serialize(child, parentTag)
		if n == nil {
			continue
		}
		r.push(item{change: &change{kind: changeAdd, add: session.AddedNode{
			ParentID:   int(e.ParentID),
			PreviousID: prev,
			Node:       n,
		}}})
		id := n.ID
		prev = &id
	}
}

func (r *run) onChildRemoved(e *proto.DOMChildNodeRemoved) {
	r.nodes.remove(e.NodeID)
	r.push(item{change: &change{kind: changeRemove, remove: session.RemovedNode{
		ParentID: int(e.ParentNodeID),
		ID:       int(e.NodeID),
	}}})
}

func (r *run) onAttributeModified(e *proto.DOMAttributeModified) {
	v := e.Value
	r.push(item{change: &change{kind: changeAttr, id: int(e.NodeID), name: e.Name, value: &v}})
}

func (r *run) onAttributeRemoved(e *proto.DOMAttributeRemoved) {
	r.push(item{change: &change{kind: changeAttr, id: int(e.NodeID), name: e.Name}})
}

func (r *run) onCharacterData(e *proto.DOMCharacterDataModified) {
	r.push(item{change: &change{kind: changeText, id: int(e.NodeID), text: e.CharacterData}})
}

func (r *run) onDocumentUpdated(*proto.DOMDocumentUpdated) {
	select {
	case r.docResetCh <- struct{}{}:
	default:
	}
}

func (r *run) onFrameNavigated(e *proto.PageFrameNavigated) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}
	r.push(item{nav: e.Frame.URL + e.Frame.URLFragment})
}

func (r *run) onNavigatedWithinDocument(e *proto.PageNavigatedWithinDocument) {
	if e.FrameID != r.page.FrameID {
		return
	}
	r.push(item{nav: e.URL})
}

// bindingMsg is what the injected page script sends through the binding.
type bindingMsg struct {
	Kind    string  `json:"kind"`
	XPath   string  `json:"xpath"`
	Text    string  `json:"text"`
	Checked bool    `json:"checked"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
}

func (r *run) onBindingCalled(e *proto.RuntimeBindingCalled) {
	if e.Name != bindingName {
		return
	}
	var msg bindingMsg
	if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
		r.logger.Debug("cdp: bad binding payload", "error", err)
		return
	}
	ev, ok := r.bindingEvent(msg)
	if !ok {
		return
	}
	r.push(item{event: &ev})
}

// bindingEvent turns a page script message into an incremental event. The
// XPath is resolved here, in protocol order, against the node map.
func (r *run) bindingEvent(msg bindingMsg) (session.Event, bool) {
	ts := r.cfg.Now().UnixMilli()
	var data any

	switch msg.Kind {
	case "input":
		id, ok := r.nodes.resolve(msg.XPath)
		if !ok || msg.XPath == "" {
			r.logger.Debug("cdp: input target not found", "xpath", msg.XPath)
			return session.Event{}, false
		}
		data = session.InputData{Source: session.SourceInput, ID: int(id), Text: msg.Text, IsChecked: msg.Checked}

	case "scroll":
		id, ok := r.nodes.resolve(msg.XPath)
		if !ok {
			r.logger.Debug("cdp: scroll target not found", "xpath", msg.XPath)
			return session.Event{}, false
		}
		data = session.ScrollData{Source: session.SourceScroll, ID: int(id), X: msg.X, Y: msg.Y}

	case "resize":
		data = session.ViewportResizeData{Source: session.SourceViewportResize, Width: msg.Width, Height: msg.Height}

	default:
		return session.Event{}, false
	}

	ev, err := session.NewEvent(session.IncrementalSnapshot, ts, data)
	if err != nil {
		return session.Event{}, false
	}
	return ev, true
}
