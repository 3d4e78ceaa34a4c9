package replay

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/replaygeo/session"
)

const t0 = 1_700_000_000_000

func quiet() Option { return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))) }

func mustEvent(t *testing.T, typ session.EventType, ts int64, data any) session.Event {
	t.Helper()
	ev, err := session.NewEvent(typ, ts, data)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func elem(id int, tag string, attrs map[string]any, kids ...*session.Node) *session.Node {
	return &session.Node{Type: session.ElementNode, ID: id, TagName: tag, Attributes: attrs, ChildNodes: kids}
}

func txt(id int, s string) *session.Node {
	return &session.Node{Type: session.TextNode, ID: id, TextContent: s}
}

func intp(i int) *int       { return &i }
func strp(s string) *string { return &s }

func mutation(t *testing.T, ts int64, m session.MutationData) session.Event {
	t.Helper()
	m.Source = session.SourceMutation
	return mustEvent(t, session.IncrementalSnapshot, ts, m)
}

// baseDoc: html(2) > head(3), body(4) > ul(5) > li(6) > "a"(7)
func baseDoc() *session.Node {
	return &session.Node{Type: session.DocumentNode, ID: 1, ChildNodes: []*session.Node{
		elem(2, "html", nil,
			elem(3, "head", nil),
			elem(4, "body", nil,
				elem(5, "ul", nil, elem(6, "li", nil, txt(7, "a"))),
			),
		),
	}}
}

func baseEvents(t *testing.T) []session.Event {
	return []session.Event{
		mustEvent(t, session.Meta, t0, session.MetaData{Href: "http://app.test/reports", Width: 1280, Height: 720}),
		mustEvent(t, session.FullSnapshot, t0, session.FullSnapshotData{Node: baseDoc()}),
		mutation(t, t0+1000, session.MutationData{Adds: []session.AddedNode{
			{ParentID: 5, PreviousID: intp(6), Node: elem(8, "li", nil, txt(9, "b"))},
		}}),
		mutation(t, t0+2000, session.MutationData{Texts: []session.TextMutation{{ID: 7, Value: strp("A")}}}),
		mutation(t, t0+3000, session.MutationData{Removes: []session.RemovedNode{{ParentID: 5, ID: 6}}}),
	}
}

func items(t *testing.T, st *State) []string {
	t.Helper()
	ul := st.Node(5)
	if ul == nil {
		t.Fatal("ul missing")
	}
	var out []string
	for c := ul.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, textContent(c))
	}
	return out
}

func TestStateAt_MutationsAtOffsets(t *testing.T) {
	r, err := New(baseEvents(t), quiet())
	if err != nil {
		t.Fatal(err)
	}
	if r.Duration() != 3000 {
		t.Fatalf("duration: %d", r.Duration())
	}

	tests := []struct {
		offset int64
		want   string
	}{
		{0, "a"},
		{999, "a"},
		{1000, "a,b"},
		{2500, "A,b"},
		{3000, "b"},
		{500, "a"}, // backward seek rebuilds
		{5000, "b"},
	}
	for _, tt := range tests {
		st, err := r.StateAt(tt.offset)
		if err != nil {
			t.Fatal(err)
		}
		if got := strings.Join(items(t, st), ","); got != tt.want {
			t.Errorf("offset %d: got %q, want %q", tt.offset, got, tt.want)
		}
		if st.Offset != tt.offset {
			t.Errorf("offset field: %d", st.Offset)
		}
	}
}

func TestStateAt_ForwardSeekReusesState(t *testing.T) {
	r, _ := New(baseEvents(t), quiet())
	a, _ := r.StateAt(500)
	b, _ := r.StateAt(1500)
	if a != b {
		t.Fatal("forward seek rebuilt the state")
	}
	c, _ := r.StateAt(100)
	if c == b {
		t.Fatal("backward seek reused the state")
	}
}

func TestStateAt_LatestFullSnapshotWins(t *testing.T) {
	second := &session.Node{Type: session.DocumentNode, ID: 100, ChildNodes: []*session.Node{
		elem(101, "html", nil, elem(102, "body", nil, txt(103, "second page"))),
	}}
	events := append(baseEvents(t),
		mustEvent(t, session.Meta, t0+4000, session.MetaData{Href: "http://app.test/settings", Width: 800, Height: 600}),
		mustEvent(t, session.FullSnapshot, t0+4000, session.FullSnapshotData{Node: second}),
	)
	r, _ := New(events, quiet())
	st, err := r.StateAt(4000)
	if err != nil {
		t.Fatal(err)
	}
	if st.Node(5) != nil || st.Node(103) == nil {
		t.Fatal("state not rebuilt from the second snapshot")
	}
	if st.Href != "http://app.test/settings" || st.Width != 800 {
		t.Errorf("meta: %s %dx%d", st.Href, st.Width, st.Height)
	}

	st, _ = r.StateAt(100)
	if st.Href != "http://app.test/reports" || st.Node(5) == nil {
		t.Error("seek back did not restore the first page")
	}
}

func TestMutate_RetryQueue(t *testing.T) {
	r, _ := New([]session.Event{
		mustEvent(t, session.FullSnapshot, t0, session.FullSnapshotData{Node: baseDoc()}),
		// The child arrives before its parent, and the parent names a
		// next sibling added last.
		mutation(t, t0+10, session.MutationData{Adds: []session.AddedNode{
			{ParentID: 20, Node: txt(21, "inner")},
			{ParentID: 4, NextID: intp(22), Node: elem(20, "section", nil)},
			{ParentID: 4, Node: elem(22, "footer", nil)},
		}}),
	}, quiet())

	st, _ := r.StateAt(10)
	body := st.Node(4)
	var tags []string
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		tags = append(tags, c.Data)
	}
	if strings.Join(tags, ",") != "ul,section,footer" {
		t.Fatalf("body children: %v", tags)
	}
	if textContent(st.Node(20)) != "inner" {
		t.Error("child of late parent dropped")
	}
}

func TestMutate_InsertBeforeNext(t *testing.T) {
	r, _ := New([]session.Event{
		mustEvent(t, session.FullSnapshot, t0, session.FullSnapshotData{Node: baseDoc()}),
		mutation(t, t0+10, session.MutationData{Adds: []session.AddedNode{
			{ParentID: 5, NextID: intp(6), Node: elem(30, "li", nil, txt(31, "first"))},
		}}),
	}, quiet())
	st, _ := r.StateAt(10)
	if got := strings.Join(items(t, st), ","); got != "first,a" {
		t.Fatalf("items: %s", got)
	}
}

func TestMutate_MoveNode(t *testing.T) {
	r, _ := New([]session.Event{
		mustEvent(t, session.FullSnapshot, t0, session.FullSnapshotData{Node: baseDoc()}),
		mutation(t, t0+10, session.MutationData{Adds: []session.AddedNode{
			{ParentID: 3, Node: elem(6, "li", nil, txt(7, "a"))},
		}}),
	}, quiet())
	st, _ := r.StateAt(10)
	if st.Node(5).FirstChild != nil {
		t.Fatal("moved node left behind")
	}
	if st.Node(6).Parent != st.Node(3) {
		t.Fatal("node not moved under head")
	}
}

func TestMutate_Attributes(t *testing.T) {
	doc := baseDoc()
	doc.ChildNodes[0].ChildNodes[1].ChildNodes[0].Attributes = map[string]any{
		"class": "list",
		"style": "color: red; background: url(a;b.png);",
	}
	r, _ := New([]session.Event{
		mustEvent(t, session.FullSnapshot, t0, session.FullSnapshotData{Node: doc}),
		mutation(t, t0+10, session.MutationData{Attributes: []session.AttributeMutation{
			{ID: 5, Attributes: map[string]any{
				"class":  nil,
				"hidden": "",
				"style":  map[string]any{"color": false, "width": "10px", "margin": []any{"0", "important"}},
			}},
		}}),
	}, quiet())
	st, _ := r.StateAt(10)
	ul := st.Node(5)
	if _, ok := getAttr(ul, "class"); ok {
		t.Error("class not removed")
	}
	if _, ok := getAttr(ul, "hidden"); !ok {
		t.Error("hidden not set")
	}
	style, _ := getAttr(ul, "style")
	if want := "background: url(a;b.png); margin: 0 !important; width: 10px;"; style != want {
		t.Errorf("style: got %q, want %q", style, want)
	}
}

func TestInput_ReflectedInMarkup(t *testing.T) {
	doc := &session.Node{Type: session.DocumentNode, ID: 1, ChildNodes: []*session.Node{
		elem(2, "html", nil, elem(3, "body", nil,
			elem(4, "input", map[string]any{"type": "text"}),
			elem(5, "input", map[string]any{"type": "checkbox"}),
			elem(6, "textarea", nil),
			elem(7, "select", nil,
				elem(8, "option", map[string]any{"value": "eu"}),
				elem(9, "option", map[string]any{"value": "us", "selected": ""}),
			),
		)),
	}}
	in := func(ts int64, id int, text string, checked bool) session.Event {
		return mustEvent(t, session.IncrementalSnapshot, ts, session.InputData{Source: session.SourceInput, ID: id, Text: text, IsChecked: checked})
	}
	r, _ := New([]session.Event{
		mustEvent(t, session.FullSnapshot, t0, session.FullSnapshotData{Node: doc}),
		in(t0+1, 4, "alice", false),
		in(t0+2, 5, "on", true),
		in(t0+3, 6, "notes", false),
		in(t0+4, 7, "eu", false),
	}, quiet())
	st, _ := r.StateAt(10)

	if v, _ := getAttr(st.Node(4), "value"); v != "alice" {
		t.Errorf("text input: %q", v)
	}
	if _, ok := getAttr(st.Node(5), "checked"); !ok {
		t.Error("checkbox not checked")
	}
	if textContent(st.Node(6)) != "notes" {
		t.Error("textarea not filled")
	}
	if _, ok := getAttr(st.Node(8), "selected"); !ok {
		t.Error("option eu not selected")
	}
	if _, ok := getAttr(st.Node(9), "selected"); ok {
		t.Error("option us still selected")
	}
}

func TestScrollAndViewport(t *testing.T) {
	r, _ := New(append(baseEvents(t),
		mustEvent(t, session.IncrementalSnapshot, t0+500, session.ScrollData{Source: session.SourceScroll, ID: 1, Y: 300}),
		mustEvent(t, session.IncrementalSnapshot, t0+500, session.ScrollData{Source: session.SourceScroll, ID: 5, X: 4, Y: 20}),
		mustEvent(t, session.IncrementalSnapshot, t0+600, session.ViewportResizeData{Source: session.SourceViewportResize, Width: 390, Height: 844}),
	), quiet())
	st, _ := r.StateAt(700)
	if st.Width != 390 || st.Height != 844 {
		t.Errorf("viewport: %dx%d", st.Width, st.Height)
	}
	if sc, ok := st.ScrollOf(5); !ok || sc.Y != 20 {
		t.Errorf("ul scroll: %+v %v", sc, ok)
	}

	out, err := st.HTML()
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.Contains(s, `<html data-rg-id="2" data-rg-scroll="0,300">`) {
		t.Errorf("page scroll not rendered: %s", s)
	}
	if !strings.Contains(s, `<ul data-rg-id="5" data-rg-scroll="4,20">`) {
		t.Errorf("element scroll not rendered: %s", s)
	}
}

func TestHTML_Sanitized(t *testing.T) {
	doc := &session.Node{Type: session.DocumentNode, ID: 1, ChildNodes: []*session.Node{
		{Type: session.DocumentTypeNode, ID: 2, Name: "html"},
		elem(3, "html", nil,
			elem(4, "head", nil,
				elem(5, "meta", map[string]any{"http-equiv": "refresh", "content": "0;url=/x"}),
				elem(6, "script", nil, txt(7, "SCRIPT_PLACEHOLDER")),
				elem(8, "link", map[string]any{"rel": "stylesheet", "href": "/app.css", "_cssText": "body{margin:0}"}),
			),
			elem(9, "body", map[string]any{"onload": "boot()"},
				elem(10, "a", map[string]any{"href": "javascript:void(0)", "onclick": "go()"}, txt(11, "go")),
				elem(12, "img", map[string]any{"src": "/logo.png"}),
			),
		),
	}}
	r, _ := New([]session.Event{
		mustEvent(t, session.Meta, t0, session.MetaData{Href: "http://app.test/dashboard", Width: 1280, Height: 720}),
		mustEvent(t, session.FullSnapshot, t0, session.FullSnapshotData{Node: doc}),
	}, quiet())
	st, _ := r.StateAt(0)
	out, err := st.HTML()
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)

	for _, banned := range []string{"<script", "refresh", "onload", "onclick", "javascript:"} {
		if strings.Contains(s, banned) {
			t.Errorf("rendered HTML contains %q: %s", banned, s)
		}
	}
	for _, want := range []string{
		"<!DOCTYPE html>",
		`<head data-rg-id="4"><base href="http://app.test/dashboard"/>`,
		`<style data-rg-id="8">body{margin:0}</style>`,
		`<img src="/logo.png" data-rg-id="12"/>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("rendered HTML missing %q: %s", want, s)
		}
	}

	// The rendered document parses back.
	if _, err := html.Parse(strings.NewReader(s)); err != nil {
		t.Fatal(err)
	}
}

func TestStateAt_NoFullSnapshot(t *testing.T) {
	route := session.NewRouteEvent(t0, session.Location{Pathname: "/"}, "s")
	r, err := New([]session.Event{route}, quiet())
	if err != nil {
		t.Fatal(err)
	}
	st, err := r.StateAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.HTML(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_NoTimestamps(t *testing.T) {
	_, err := New([]session.Event{{Type: session.Custom}}, quiet())
	if !errors.Is(err, ErrNoTimestamps) {
		t.Fatalf("err: %v", err)
	}
}

func TestStateAt_NegativeOffset(t *testing.T) {
	r, _ := New(baseEvents(t), quiet())
	if _, err := r.StateAt(-1); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseStyle(t *testing.T) {
	tests := []struct {
		name  string
		style string
		want  []string
	}{
		{"quoted and url values", `color: red;  font-family: "a;b", serif ; background:url(x;y)`,
			[]string{"color: red;", `font-family: "a;b", serif;`, "background: url(x;y);"}},
		{"important", "margin: 0 !important; padding: 1px", []string{"margin: 0 !important;", "padding: 1px;"}},
		{"empty", "   ", nil},
		{"stops at malformed declaration", "color: red; ;bad; width: 2px", []string{"color: red;"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseStyle(tt.style)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if s := got[i].String(); s != tt.want[i] {
					t.Errorf("decl %d: got %q, want %q", i, s, tt.want[i])
				}
			}
		})
	}
}

func TestApplyStyleDiff_KeepsImportant(t *testing.T) {
	got := applyStyleDiff("color: red !important; top: 0", map[string]any{"top": "4px"})
	if want := "color: red !important; top: 4px;"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
