package replay

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/replaygeo/session"
)

// Scroll is a recorded scroll position.
type Scroll struct {
	X, Y float64
}

// State is the reconstructed page at one offset.
type State struct {
	Offset int64
	Href   string
	Width  int
	Height int

	doc    *html.Node
	docID  int
	nodes  map[int]*html.Node
	ids    map[*html.Node]int
	scroll map[int]Scroll
	logger *slog.Logger
}

func newState(logger *slog.Logger) *State {
	return &State{
		doc:    &html.Node{Type: html.DocumentNode},
		nodes:  make(map[int]*html.Node),
		ids:    make(map[*html.Node]int),
		scroll: make(map[int]Scroll),
		logger: logger,
	}
}

// Node returns the node recorded under id, nil if it is not in the tree.
func (s *State) Node(id int) *html.Node { return s.nodes[id] }

// Len returns the number of tracked nodes.
func (s *State) Len() int { return len(s.nodes) }

// ScrollOf returns the scroll position recorded for node id.
func (s *State) ScrollOf(id int) (Scroll, bool) {
	sc, ok := s.scroll[id]
	return sc, ok
}

func (s *State) load(data session.FullSnapshotData) {
	s.doc = &html.Node{Type: html.DocumentNode}
	clear(s.nodes)
	clear(s.ids)
	clear(s.scroll)

	root := data.Node
	s.docID = root.ID
	s.register(root.ID, s.doc)
	for _, c := range root.ChildNodes {
		if n := s.build(c); n != nil {
			s.doc.AppendChild(n)
		}
	}
	if data.InitialOffset.Top != 0 || data.InitialOffset.Left != 0 {
		s.scroll[s.docID] = Scroll{X: data.InitialOffset.Left, Y: data.InitialOffset.Top}
	}
}

// register maps id to n, first detaching whatever the id named before:
// a node re-added elsewhere is a move.
func (s *State) register(id int, n *html.Node) {
	if old, ok := s.nodes[id]; ok && old != n {
		if old.Parent != nil {
			old.Parent.RemoveChild(old)
		}
		s.forget(old)
	}
	s.nodes[id] = n
	s.ids[n] = id
}

// forget drops n and its subtree from the ID maps.
func (s *State) forget(n *html.Node) {
	if id, ok := s.ids[n]; ok {
		delete(s.ids, n)
		if s.nodes[id] == n {
			delete(s.nodes, id)
			delete(s.scroll, id)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.forget(c)
	}
}

// build converts a serialized subtree. Documents nested in mutations are
// not representable and yield nil.
func (s *State) build(sn *session.Node) *html.Node {
	if sn == nil {
		return nil
	}
	var n *html.Node

	switch sn.Type {
	case session.DocumentTypeNode:
		n = &html.Node{Type: html.DoctypeNode, Data: sn.Name}
		if sn.PublicID != "" {
			n.Attr = append(n.Attr, html.Attribute{Key: "public", Val: sn.PublicID})
		}
		if sn.SystemID != "" {
			n.Attr = append(n.Attr, html.Attribute{Key: "system", Val: sn.SystemID})
		}

	case session.ElementNode:
		n = s.buildElement(sn)

	case session.TextNode, session.CDATANode:
		n = &html.Node{Type: html.TextNode, Data: sn.TextContent}

	case session.CommentNode:
		n = &html.Node{Type: html.CommentNode, Data: sn.TextContent}

	default:
		return nil
	}

	s.register(sn.ID, n)
	if n.Type == html.ElementNode {
		for _, c := range sn.ChildNodes {
			if cn := s.build(c); cn != nil {
				n.AppendChild(cn)
			}
		}
	}
	return n
}

func (s *State) buildElement(sn *session.Node) *html.Node {
	tag := strings.ToLower(sn.TagName)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if sn.IsSVG {
		n.Namespace = "svg"
	}

	keys := make([]string, 0, len(sn.Attributes))
	for k := range sn.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var cssText string
	var sc Scroll
	scrolled := false
	for _, k := range keys {
		v := sn.Attributes[k]
		switch k {
		case "_cssText":
			cssText = attrString(v)
			continue
		case "rr_scrollLeft":
			sc.X, scrolled = attrFloat(v), true
			continue
		case "rr_scrollTop":
			sc.Y, scrolled = attrFloat(v), true
			continue
		}
		if strings.HasPrefix(k, "rr_") || v == nil {
			continue
		}
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: attrString(v)})
	}
	if scrolled {
		s.scroll[sn.ID] = sc
	}

	// Inlined stylesheets replace the link that loaded them.
	if cssText != "" {
		switch tag {
		case "link":
			n = &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
			n.AppendChild(&html.Node{Type: html.TextNode, Data: cssText})
		case "style":
			if len(sn.ChildNodes) == 0 {
				n.AppendChild(&html.Node{Type: html.TextNode, Data: cssText})
			}
		}
	}
	return n
}

func attrString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return ""
		}
		return "false"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func attrFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	return 0
}

// apply replays one event. Undecodable events are skipped with a warning.
func (s *State) apply(ev session.Event) {
	switch ev.Type {
	case session.Meta:
		var m session.MetaData
		if err := ev.DecodeData(&m); err != nil {
			s.skip(ev, err)
			return
		}
		s.Href, s.Width, s.Height = m.Href, m.Width, m.Height

	case session.FullSnapshot:
		var data session.FullSnapshotData
		if err := ev.DecodeData(&data); err != nil || data.Node == nil {
			s.skip(ev, err)
			return
		}
		s.load(data)

	case session.IncrementalSnapshot:
		src, ok := ev.Source()
		if !ok {
			return
		}
		var err error
		switch src {
		case session.SourceMutation:
			var m session.MutationData
			if err = ev.DecodeData(&m); err == nil {
				s.mutate(m)
			}
		case session.SourceInput:
			var in session.InputData
			if err = ev.DecodeData(&in); err == nil {
				s.input(in)
			}
		case session.SourceScroll:
			var sc session.ScrollData
			if err = ev.DecodeData(&sc); err == nil && s.nodes[sc.ID] != nil {
				s.scroll[sc.ID] = Scroll{X: sc.X, Y: sc.Y}
			}
		case session.SourceViewportResize:
			var vr session.ViewportResizeData
			if err = ev.DecodeData(&vr); err == nil {
				s.Width, s.Height = vr.Width, vr.Height
			}
		}
		if err != nil {
			s.skip(ev, err)
		}
	}
}

func (s *State) skip(ev session.Event, err error) {
	s.logger.Warn("replay: event skipped", "type", ev.Type.String(), "timestamp", ev.Timestamp, "error", err)
}

// mutate applies a mutation batch: removes, adds, texts, attributes.
func (s *State) mutate(m session.MutationData) {
	for _, rm := range m.Removes {
		s.remove(rm.ID)
	}

	// An add may reference a parent or next sibling added later in the
	// same batch: retry until no progress, then insert what still has a
	// parent without its anchor.
	queue := m.Adds
	for len(queue) > 0 {
		var retry []session.AddedNode
		for _, a := range queue {
			if !s.add(a, false) {
				retry = append(retry, a)
			}
		}
		if len(retry) == len(queue) {
			for _, a := range retry {
				if !s.add(a, true) {
					s.logger.Debug("replay: add dropped, parent missing", "parent_id", a.ParentID)
				}
			}
			break
		}
		queue = retry
	}

	for _, t := range m.Texts {
		n := s.nodes[t.ID]
		if n == nil {
			continue
		}
		v := ""
		if t.Value != nil {
			v = *t.Value
		}
		s.setText(n, v)
	}

	for _, am := range m.Attributes {
		n := s.nodes[am.ID]
		if n == nil || n.Type != html.ElementNode {
			continue
		}
		keys := make([]string, 0, len(am.Attributes))
		for k := range am.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := am.Attributes[k]
			switch {
			case v == nil:
				removeAttr(n, k)
			case k == "style":
				if diff, ok := v.(map[string]any); ok {
					cur, _ := getAttr(n, "style")
					setAttr(n, "style", applyStyleDiff(cur, diff))
					continue
				}
				setAttr(n, k, attrString(v))
			default:
				setAttr(n, k, attrString(v))
			}
		}
	}
}

func (s *State) remove(id int) {
	n := s.nodes[id]
	if n == nil || n == s.doc {
		return
	}
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	s.forget(n)
}

// add inserts a.Node before its next sibling, else after its previous
// sibling, else at the end of its parent. It reports false when the parent
// (or, unless loose, the next sibling) is not in the tree yet.
func (s *State) add(a session.AddedNode, loose bool) bool {
	parent := s.nodes[a.ParentID]
	if parent == nil {
		return false
	}
	var next *html.Node
	if a.NextID != nil {
		next = s.nodes[*a.NextID]
		if next == nil && !loose {
			return false
		}
	}
	if a.Node == nil {
		return true
	}

	child := s.build(a.Node)
	if child == nil {
		return true
	}
	// build may have detached next or the parent itself if they were
	// part of the re-added subtree.
	if s.nodes[a.ParentID] != parent {
		return true
	}

	switch {
	case next != nil && next.Parent == parent:
		parent.InsertBefore(child, next)
	case a.PreviousID != nil && s.nodes[*a.PreviousID] != nil && s.nodes[*a.PreviousID].Parent == parent:
		parent.InsertBefore(child, s.nodes[*a.PreviousID].NextSibling)
	default:
		parent.AppendChild(child)
	}
	return true
}

func (s *State) setText(n *html.Node, v string) {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		n.Data = v
	case html.ElementNode:
		for c := n.FirstChild; c != nil; {
			nx := c.NextSibling
			n.RemoveChild(c)
			s.forget(c)
			c = nx
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: v})
	}
}

// input reflects a form control value into markup so the rendered page
// shows it.
func (s *State) input(in session.InputData) {
	n := s.nodes[in.ID]
	if n == nil || n.Type != html.ElementNode {
		return
	}
	switch n.Data {
	case "input":
		typ, _ := getAttr(n, "type")
		switch strings.ToLower(typ) {
		case "checkbox", "radio":
			if in.IsChecked {
				setAttr(n, "checked", "")
			} else {
				removeAttr(n, "checked")
			}
		default:
			setAttr(n, "value", in.Text)
		}
	case "textarea":
		s.setText(n, in.Text)
	case "select":
		selectOption(n, in.Text)
	}
}

func selectOption(sel *html.Node, value string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "option" {
				v, ok := getAttr(c, "value")
				if !ok {
					v = strings.TrimSpace(textContent(c))
				}
				if v == value {
					setAttr(c, "selected", "")
				} else {
					removeAttr(c, "selected")
				}
				continue
			}
			walk(c)
		}
	}
	walk(sel)
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
