// CLAUDE:SUMMARY Mirrors the CDP DOM tree (parent, ordered children, tags) and resolves XPaths to node IDs.
package cdp

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// CDP node types.
const (
	cdpElement  = 1
	cdpText     = 3
	cdpCDATA    = 4
	cdpComment  = 8
	cdpDocument = 9
	cdpDoctype  = 10
)

// nodeMap tracks the CDP node tree. CDP node IDs double as session node
// IDs, so the map is what turns page-side XPaths back into IDs.
type nodeMap struct {
	mu   sync.RWMutex
	root proto.DOMNodeID
	// tags maps nodeID to lower-case tag name ("" for non-elements).
	tags map[proto.DOMNodeID]string
	// parent maps nodeID to parent nodeID.
	parent map[proto.DOMNodeID]proto.DOMNodeID
	// children maps nodeID to ordered child nodeIDs.
	children map[proto.DOMNodeID][]proto.DOMNodeID
}

func newNodeMap() *nodeMap {
	return &nodeMap{
		tags:     make(map[proto.DOMNodeID]string),
		parent:   make(map[proto.DOMNodeID]proto.DOMNodeID),
		children: make(map[proto.DOMNodeID][]proto.DOMNodeID),
	}
}

// buildFromDocument replaces the map with the tree returned by
// DOM.getDocument.
func (nm *nodeMap) buildFromDocument(root *proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.tags = make(map[proto.DOMNodeID]string)
	nm.parent = make(map[proto.DOMNodeID]proto.DOMNodeID)
	nm.children = make(map[proto.DOMNodeID][]proto.DOMNodeID)
	nm.root = 0
	if root == nil {
		return
	}
	nm.root = root.NodeID
	nm.walkNode(root)
}

func (nm *nodeMap) walkNode(node *proto.DOMNode) {
	if node.NodeType == cdpElement {
		nm.tags[node.NodeID] = strings.ToLower(node.NodeName)
	} else {
		nm.tags[node.NodeID] = ""
	}
	kids := make([]proto.DOMNodeID, 0, len(node.Children))
	for _, child := range node.Children {
		nm.parent[child.NodeID] = node.NodeID
		kids = append(kids, child.NodeID)
		nm.walkNode(child)
	}
	if len(kids) > 0 || nm.children[node.NodeID] == nil {
		nm.children[node.NodeID] = kids
	}
}

// insert registers node under parentID right after prevID (first child
// when prevID is 0) and returns the ID of its next sibling, 0 if none.
func (nm *nodeMap) insert(parentID, prevID proto.DOMNodeID, node *proto.DOMNode) (next proto.DOMNodeID) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.detachLocked(node.NodeID)
	kids := nm.children[parentID]
	pos := 0
	if prevID != 0 {
		if i := slices.Index(kids, prevID); i >= 0 {
			pos = i + 1
		} else {
			pos = len(kids)
		}
	}
	kids = slices.Insert(kids, pos, node.NodeID)
	nm.children[parentID] = kids
	nm.parent[node.NodeID] = parentID
	nm.walkNode(node)

	if pos+1 < len(kids) {
		return kids[pos+1]
	}
	return 0
}

// setChildren replaces the children of parentID (DOM.setChildNodes).
func (nm *nodeMap) setChildren(parentID proto.DOMNodeID, nodes []*proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	for _, old := range nm.children[parentID] {
		nm.removeLocked(old)
	}
	kids := make([]proto.DOMNodeID, 0, len(nodes))
	for _, n := range nodes {
		nm.parent[n.NodeID] = parentID
		kids = append(kids, n.NodeID)
		nm.walkNode(n)
	}
	nm.children[parentID] = kids
}

// remove drops a node and its subtree.
func (nm *nodeMap) remove(nodeID proto.DOMNodeID) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.removeLocked(nodeID)
}

func (nm *nodeMap) removeLocked(nodeID proto.DOMNodeID) {
	for _, childID := range nm.children[nodeID] {
		nm.removeLocked(childID)
	}
	nm.detachLocked(nodeID)
	delete(nm.tags, nodeID)
	delete(nm.children, nodeID)
}

// detachLocked unlinks nodeID from its parent, keeping its subtree.
func (nm *nodeMap) detachLocked(nodeID proto.DOMNodeID) {
	parentID, ok := nm.parent[nodeID]
	if !ok {
		return
	}
	kids := nm.children[parentID]
	if i := slices.Index(kids, nodeID); i >= 0 {
		nm.children[parentID] = slices.Delete(kids, i, i+1)
	}
	delete(nm.parent, nodeID)
}

func (nm *nodeMap) has(id proto.DOMNodeID) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	_, ok := nm.tags[id]
	return ok
}

func (nm *nodeMap) rootID() proto.DOMNodeID {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.root
}

func (nm *nodeMap) size() int {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return len(nm.tags)
}

// xpath computes the element path of id: /html/body/div[2]/input. Indexes
// appear only when a parent has several children with the same tag, the
// same convention as the injected page script.
func (nm *nodeMap) xpath(id proto.DOMNodeID) string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	var parts []string
	for id != nm.root {
		tag := nm.tags[id]
		parentID, ok := nm.parent[id]
		if tag == "" || !ok {
			return ""
		}
		idx, total := 0, 0
		for _, sib := range nm.children[parentID] {
			if nm.tags[sib] != tag {
				continue
			}
			total++
			if sib == id {
				idx = total
			}
		}
		seg := tag
		if total > 1 {
			seg += "[" + strconv.Itoa(idx) + "]"
		}
		parts = append(parts, seg)
		id = parentID
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/")
}

// resolve walks an element XPath from the document node. An empty path
// or "/" names the document itself.
func (nm *nodeMap) resolve(xpath string) (proto.DOMNodeID, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	cur := nm.root
	if cur == 0 {
		return 0, false
	}
	for _, seg := range strings.Split(strings.Trim(xpath, "/"), "/") {
		if seg == "" {
			continue
		}
		tag, want := seg, 1
		if i := strings.IndexByte(seg, '['); i > 0 && strings.HasSuffix(seg, "]") {
			n, err := strconv.Atoi(seg[i+1 : len(seg)-1])
			if err != nil || n < 1 {
				return 0, false
			}
			tag, want = seg[:i], n
		}
		tag = strings.ToLower(tag)

		found := proto.DOMNodeID(0)
		seen := 0
		for _, child := range nm.children[cur] {
			if nm.tags[child] != tag {
				continue
			}
			seen++
			if seen == want {
				found = child
				break
			}
		}
		if found == 0 {
			return 0, false
		}
		cur = found
	}
	return cur, true
}

func (nm *nodeMap) tag(id proto.DOMNodeID) string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.tags[id]
}
