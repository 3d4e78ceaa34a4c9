package cdp

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/replaygeo/session"
)

// scriptPlaceholder replaces inline script source in serialized trees.
const scriptPlaceholder = "SCRIPT_PLACEHOLDER"

// serialize converts a CDP node into a session node. parentTag is the
// lower-case tag of the parent element, used to flag style and script
// text. Unsupported node types (pseudo elements, fragments) yield nil.
func serialize(n *proto.DOMNode, parentTag string) *session.Node {
	if n == nil {
		return nil
	}
	out := &session.Node{ID: int(n.NodeID)}

	switch n.NodeType {
	case cdpDocument:
		out.Type = session.DocumentNode
	case cdpDoctype:
		out.Type = session.DocumentTypeNode
		out.Name = n.NodeName
		out.PublicID = n.PublicID
		out.SystemID = n.SystemID
		return out
	case cdpElement:
		out.Type = session.ElementNode
		out.TagName = strings.ToLower(n.NodeName)
		out.IsSVG = n.IsSVG
		if len(n.Attributes) > 0 {
			out.Attributes = make(map[string]any, len(n.Attributes)/2)
			for i := 0; i+1 < len(n.Attributes); i += 2 {
				out.Attributes[n.Attributes[i]] = n.Attributes[i+1]
			}
		}
	case cdpText:
		out.Type = session.TextNode
		out.TextContent = n.NodeValue
		switch parentTag {
		case "style":
			out.IsStyle = true
		case "script":
			out.TextContent = scriptPlaceholder
		}
		return out
	case cdpCDATA:
		out.Type = session.CDATANode
		out.TextContent = n.NodeValue
		return out
	case cdpComment:
		out.Type = session.CommentNode
		out.TextContent = n.NodeValue
		return out
	default:
		return nil
	}

	if len(n.Children) > 0 {
		out.ChildNodes = make([]*session.Node, 0, len(n.Children))
		for _, c := range n.Children {
			if sc := serialize(c, out.TagName); sc != nil {
				out.ChildNodes = append(out.ChildNodes, sc)
			}
		}
	}
	return out
}

// contains reports whether id is n or one of its descendants.
func contains(n *session.Node, id int) bool {
	if n == nil {
		return false
	}
	if n.ID == id {
		return true
	}
	for _, c := range n.ChildNodes {
		if contains(c, id) {
			return true
		}
	}
	return false
}

// prune removes the descendant id from n. It reports whether a node was
// removed.
func prune(n *session.Node, id int) bool {
	for i, c := range n.ChildNodes {
		if c.ID == id {
			n.ChildNodes = append(n.ChildNodes[:i], n.ChildNodes[i+1:]...)
			return true
		}
		if prune(c, id) {
			return true
		}
	}
	return false
}
