package cdp

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/replaygeo/session"
)

func TestSerialize_Document(t *testing.T) {
	doc := &proto.DOMNode{NodeID: 1, NodeType: cdpDocument, NodeName: "#document", Children: []*proto.DOMNode{
		{NodeID: 2, NodeType: cdpDoctype, NodeName: "html"},
		el(3, "HTML",
			el(4, "HEAD",
				&proto.DOMNode{NodeID: 5, NodeType: cdpElement, NodeName: "STYLE", Children: []*proto.DOMNode{text(6, "p{color:red}")}},
				&proto.DOMNode{NodeID: 7, NodeType: cdpElement, NodeName: "SCRIPT", Children: []*proto.DOMNode{text(8, "alert(1)")}},
			),
			&proto.DOMNode{NodeID: 9, NodeType: cdpElement, NodeName: "BODY", Attributes: []string{"class", "app", "data-x", "1"}, Children: []*proto.DOMNode{
				{NodeID: 10, NodeType: cdpComment, NodeName: "#comment", NodeValue: "c"},
				{NodeID: 11, NodeType: 11, NodeName: "#document-fragment"},
			}},
		),
	}}

	n := serialize(doc, "")
	if n.Type != session.DocumentNode || len(n.ChildNodes) != 2 {
		t.Fatalf("document: %+v", n)
	}
	if dt := n.ChildNodes[0]; dt.Type != session.DocumentTypeNode || dt.Name != "html" {
		t.Errorf("doctype: %+v", dt)
	}

	html := n.ChildNodes[1]
	head, body := html.ChildNodes[0], html.ChildNodes[1]
	if head.TagName != "head" || body.TagName != "body" {
		t.Fatalf("tags: %q %q", head.TagName, body.TagName)
	}

	styleText := head.ChildNodes[0].ChildNodes[0]
	if !styleText.IsStyle || styleText.TextContent != "p{color:red}" {
		t.Errorf("style text: %+v", styleText)
	}
	scriptText := head.ChildNodes[1].ChildNodes[0]
	if scriptText.TextContent != scriptPlaceholder {
		t.Errorf("script text: %q", scriptText.TextContent)
	}

	if body.Attributes["class"] != "app" || body.Attributes["data-x"] != "1" {
		t.Errorf("attributes: %v", body.Attributes)
	}
	// The fragment is not representable and is skipped.
	if len(body.ChildNodes) != 1 || body.ChildNodes[0].Type != session.CommentNode {
		t.Errorf("body children: %+v", body.ChildNodes)
	}
}

func TestPrune(t *testing.T) {
	n := &session.Node{ID: 1, ChildNodes: []*session.Node{
		{ID: 2, ChildNodes: []*session.Node{{ID: 3}}},
		{ID: 4},
	}}
	if !contains(n, 3) || contains(n, 9) {
		t.Fatal("contains")
	}
	if !prune(n, 3) {
		t.Fatal("prune(3) found nothing")
	}
	if contains(n, 3) || !contains(n, 4) {
		t.Fatal("prune removed the wrong node")
	}
	if prune(n, 9) {
		t.Fatal("prune of a missing node reported success")
	}
}
