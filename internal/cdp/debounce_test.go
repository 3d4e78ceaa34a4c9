package cdp

import (
	"testing"
	"time"

	"github.com/hazyhaar/replaygeo/session"
)

func strp(s string) *string { return &s }

func addChange(parent int, n *session.Node) change {
	return change{kind: changeAdd, add: session.AddedNode{ParentID: parent, Node: n}}
}

func TestCompress_ConsecutiveAttr(t *testing.T) {
	got := compress([]change{
		{kind: changeAttr, id: 7, name: "class", value: strp("a")},
		{kind: changeAttr, id: 7, name: "class", value: strp("b")},
		{kind: changeAttr, id: 7, name: "title", value: strp("t")},
		{kind: changeAttr, id: 7, name: "class", value: strp("c")},
	})
	if len(got.Attributes) != 1 {
		t.Fatalf("attributes: got %d, want 1", len(got.Attributes))
	}
	attrs := got.Attributes[0].Attributes
	if attrs["class"] != "c" || attrs["title"] != "t" {
		t.Errorf("attributes: got %v", attrs)
	}
}

func TestCompress_AttrRemoved(t *testing.T) {
	got := compress([]change{
		{kind: changeAttr, id: 3, name: "hidden", value: strp("")},
		{kind: changeAttr, id: 3, name: "hidden"},
	})
	v, ok := got.Attributes[0].Attributes["hidden"]
	if !ok || v != nil {
		t.Errorf("hidden: got %v (present=%v), want nil", v, ok)
	}
}

func TestCompress_ConsecutiveText(t *testing.T) {
	got := compress([]change{
		{kind: changeText, id: 9, text: "a"},
		{kind: changeText, id: 9, text: "b"},
		{kind: changeText, id: 9, text: "final"},
	})
	if len(got.Texts) != 1 {
		t.Fatalf("texts: got %d, want 1", len(got.Texts))
	}
	if *got.Texts[0].Value != "final" {
		t.Errorf("Value: got %q, want %q", *got.Texts[0].Value, "final")
	}
}

func TestCompress_AddsNeverCompressed(t *testing.T) {
	got := compress([]change{
		addChange(1, &session.Node{ID: 10, Type: session.ElementNode, TagName: "li"}),
		addChange(1, &session.Node{ID: 11, Type: session.ElementNode, TagName: "li"}),
		addChange(1, &session.Node{ID: 12, Type: session.ElementNode, TagName: "li"}),
	})
	if len(got.Adds) != 3 {
		t.Fatalf("adds: got %d, want 3", len(got.Adds))
	}
}

func TestCompress_AddThenRemoveCancels(t *testing.T) {
	got := compress([]change{
		addChange(1, &session.Node{ID: 20, Type: session.ElementNode, TagName: "div"}),
		{kind: changeRemove, remove: session.RemovedNode{ParentID: 1, ID: 20}},
		{kind: changeRemove, remove: session.RemovedNode{ParentID: 1, ID: 5}},
	})
	if len(got.Adds) != 0 {
		t.Errorf("adds: got %d, want 0", len(got.Adds))
	}
	if len(got.Removes) != 1 || got.Removes[0].ID != 5 {
		t.Errorf("removes: got %+v, want only node 5", got.Removes)
	}
}

func TestCompress_RemoveInsideAddedSubtree(t *testing.T) {
	tree := &session.Node{ID: 30, Type: session.ElementNode, TagName: "ul", ChildNodes: []*session.Node{
		{ID: 31, Type: session.ElementNode, TagName: "li"},
		{ID: 32, Type: session.ElementNode, TagName: "li"},
	}}
	got := compress([]change{
		addChange(1, tree),
		{kind: changeRemove, remove: session.RemovedNode{ParentID: 30, ID: 31}},
	})
	if len(got.Removes) != 0 {
		t.Fatalf("removes: got %d, want 0", len(got.Removes))
	}
	kids := got.Adds[0].Node.ChildNodes
	if len(kids) != 1 || kids[0].ID != 32 {
		t.Errorf("children: got %+v", kids)
	}
}

func TestCompress_Empty(t *testing.T) {
	got := compress(nil)
	if !got.Empty() {
		t.Errorf("compress(nil): got %+v", got)
	}
	if got.Adds == nil || got.Removes == nil || got.Texts == nil || got.Attributes == nil {
		t.Error("empty payload lists must be non-nil")
	}
}

func TestDebouncer_FlushOnMaxBuffer(t *testing.T) {
	var flushed []session.MutationData
	d := newDebouncer(debounceConfig{Window: time.Hour, MaxBuffer: 3}, func(m session.MutationData) {
		flushed = append(flushed, m)
	})
	d.add(change{kind: changeText, id: 1, text: "a"})
	d.add(change{kind: changeText, id: 2, text: "b"})
	if len(flushed) != 0 {
		t.Fatal("flushed before buffer was full")
	}
	if !d.add(change{kind: changeText, id: 3, text: "c"}) {
		t.Fatal("add at MaxBuffer should report a flush")
	}
	if len(flushed) != 1 || len(flushed[0].Texts) != 3 {
		t.Fatalf("flushed: %+v", flushed)
	}
	if d.timerC() != nil {
		t.Error("timer should be cleared after flush")
	}
}

func TestDebouncer_TimerFires(t *testing.T) {
	n := 0
	d := newDebouncer(debounceConfig{Window: 10 * time.Millisecond}, func(session.MutationData) { n++ })
	d.add(change{kind: changeText, id: 1, text: "a"})

	select {
	case <-d.timerC():
		d.flush()
	case <-time.After(2 * time.Second):
		t.Fatal("debounce timer never fired")
	}
	if n != 1 {
		t.Fatalf("flushes: got %d, want 1", n)
	}
	d.flush()
	if n != 1 {
		t.Fatal("flush of an empty buffer emitted")
	}
}

func TestDebouncer_CancelledBatchNotEmitted(t *testing.T) {
	n := 0
	d := newDebouncer(debounceConfig{}, func(session.MutationData) { n++ })
	d.add(addChange(1, &session.Node{ID: 4, Type: session.TextNode, TextContent: "x"}))
	d.add(change{kind: changeRemove, remove: session.RemovedNode{ParentID: 1, ID: 4}})
	d.flush()
	if n != 0 {
		t.Fatalf("flushes: got %d, want 0", n)
	}
}
