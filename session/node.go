// CLAUDE:SUMMARY Serialized DOM node and incremental payload shapes shared by the recording engine and the replayer.
package session

// NodeType identifies a serialized DOM node.
type NodeType int

const (
	DocumentNode     NodeType = 0
	DocumentTypeNode NodeType = 1
	ElementNode      NodeType = 2
	TextNode         NodeType = 3
	CDATANode        NodeType = 4
	CommentNode      NodeType = 5
)

// Node is a serialized DOM node. IDs are stable for the lifetime of the
// node and are the targets of incremental mutations.
type Node struct {
	Type        NodeType       `json:"type"`
	ID          int            `json:"id"`
	ChildNodes  []*Node        `json:"childNodes,omitempty"`
	TagName     string         `json:"tagName,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	TextContent string         `json:"textContent,omitempty"`
	IsStyle     bool           `json:"isStyle,omitempty"`
	IsSVG       bool           `json:"isSVG,omitempty"`

	// Doctype fields.
	Name     string `json:"name,omitempty"`
	PublicID string `json:"publicId,omitempty"`
	SystemID string `json:"systemId,omitempty"`
}

// Offset is a scroll position in CSS pixels.
type Offset struct {
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}

// FullSnapshotData is the data of a FullSnapshot event.
type FullSnapshotData struct {
	Node          *Node  `json:"node"`
	InitialOffset Offset `json:"initialOffset"`
}

// MetaData is the data of a Meta event.
type MetaData struct {
	Href   string `json:"href"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// IncrementalSource tags the payload of an IncrementalSnapshot event.
type IncrementalSource int

const (
	SourceMutation         IncrementalSource = 0
	SourceMouseMove        IncrementalSource = 1
	SourceMouseInteraction IncrementalSource = 2
	SourceScroll           IncrementalSource = 3
	SourceViewportResize   IncrementalSource = 4
	SourceInput            IncrementalSource = 5
)

// MutationData is a batch of DOM mutations.
type MutationData struct {
	Source     IncrementalSource   `json:"source"`
	Texts      []TextMutation      `json:"texts"`
	Attributes []AttributeMutation `json:"attributes"`
	Removes    []RemovedNode       `json:"removes"`
	Adds       []AddedNode         `json:"adds"`
}

// Empty reports whether the batch carries no mutation.
func (m *MutationData) Empty() bool {
	return len(m.Texts) == 0 && len(m.Attributes) == 0 && len(m.Removes) == 0 && len(m.Adds) == 0
}

// TextMutation sets the character data of a text node.
type TextMutation struct {
	ID    int     `json:"id"`
	Value *string `json:"value"`
}

// AttributeMutation sets attributes on an element. A nil value removes the
// attribute; a map value on "style" is a per-property diff where false
// removes the property.
type AttributeMutation struct {
	ID         int            `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// RemovedNode detaches a node and its subtree.
type RemovedNode struct {
	ParentID int `json:"parentId"`
	ID       int `json:"id"`
}

// AddedNode inserts a serialized subtree under ParentID, before NextID when
// known, otherwise after PreviousID, otherwise at the end.
type AddedNode struct {
	ParentID   int   `json:"parentId"`
	PreviousID *int  `json:"previousId,omitempty"`
	NextID     *int  `json:"nextId"`
	Node       *Node `json:"node"`
}

// ScrollData records the scroll position of a node (the document node for
// page scroll).
type ScrollData struct {
	Source IncrementalSource `json:"source"`
	ID     int               `json:"id"`
	X      float64           `json:"x"`
	Y      float64           `json:"y"`
}

// ViewportResizeData records a viewport size change.
type ViewportResizeData struct {
	Source IncrementalSource `json:"source"`
	Width  int               `json:"width"`
	Height int               `json:"height"`
}

// InputData records the value of a form control.
type InputData struct {
	Source    IncrementalSource `json:"source"`
	ID        int               `json:"id"`
	Text      string            `json:"text"`
	IsChecked bool              `json:"isChecked"`
}
