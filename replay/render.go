package replay

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attributes added to rendered elements.
const (
	// AttrID carries the recorded node ID.
	AttrID = "data-rg-id"
	// AttrScroll carries a recorded scroll position as "x,y". On the html
	// element it is the page scroll.
	AttrScroll = "data-rg-scroll"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "keygen": true, "link": true,
	"meta": true, "param": true, "source": true, "track": true, "wbr": true,
}

// HTML renders the state as a static document: scripts, inline event
// handlers, javascript: URLs and meta refresh are stripped, every element
// carries its recorded ID, and a <base> pointing at the recorded page is
// injected so relative resources resolve.
func (s *State) HTML() ([]byte, error) {
	doc := s.clean(s.doc)
	if s.Href != "" {
		injectBase(doc, s.Href)
	}
	if sc, ok := s.scroll[s.docID]; ok {
		if root := findElement(doc, atom.Html); root != nil {
			setAttr(root, AttrScroll, formatScroll(sc))
		}
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("replay: render: %w", err)
	}
	return buf.Bytes(), nil
}

// clean returns a sanitized deep copy of n, or nil when n is dropped.
func (s *State) clean(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && dropElement(n) {
		return nil
	}

	out := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if dropAttr(a) {
				continue
			}
			out.Attr = append(out.Attr, a)
		}
		if id, ok := s.ids[n]; ok {
			out.Attr = append(out.Attr, html.Attribute{Key: AttrID, Val: strconv.Itoa(id)})
			if sc, ok := s.scroll[id]; ok && id != s.docID {
				out.Attr = append(out.Attr, html.Attribute{Key: AttrScroll, Val: formatScroll(sc)})
			}
		}
		if voidElements[n.Data] && n.Namespace == "" {
			return out
		}
	} else {
		out.Attr = append(out.Attr, n.Attr...)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if cc := s.clean(c); cc != nil {
			out.AppendChild(cc)
		}
	}
	return out
}

func dropElement(n *html.Node) bool {
	switch n.Data {
	case "script", "base":
		return true
	case "meta":
		v, _ := getAttr(n, "http-equiv")
		return strings.EqualFold(v, "refresh")
	}
	return false
}

func dropAttr(a html.Attribute) bool {
	key := strings.ToLower(a.Key)
	if strings.HasPrefix(key, "on") {
		return true
	}
	switch key {
	case "href", "src", "action", "formaction", "xlink:href":
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:")
	}
	return false
}

func formatScroll(sc Scroll) string {
	return strconv.FormatFloat(sc.X, 'f', -1, 64) + "," + strconv.FormatFloat(sc.Y, 'f', -1, 64)
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findElement(c, a); f != nil {
			return f
		}
	}
	return nil
}

// injectBase makes <base href> the first child of head, creating head
// (and html) when the recorded tree has none.
func injectBase(doc *html.Node, href string) {
	root := findElement(doc, atom.Html)
	if root == nil {
		root = &html.Node{Type: html.ElementNode, Data: "html", DataAtom: atom.Html}
		doc.AppendChild(root)
	}
	head := findElement(root, atom.Head)
	if head == nil {
		head = &html.Node{Type: html.ElementNode, Data: "head", DataAtom: atom.Head}
		root.InsertBefore(head, root.FirstChild)
	}
	base := &html.Node{
		Type:     html.ElementNode,
		Data:     "base",
		DataAtom: atom.Base,
		Attr:     []html.Attribute{{Key: "href", Val: href}},
	}
	head.InsertBefore(base, head.FirstChild)
}
