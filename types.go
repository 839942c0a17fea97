package vcdiagram

import "time"

// NodePath represents the traversal steps from the document node to a target node.
// Example: [0, 0, 0, 0, 2] means mxfile -> diagram -> mxGraphModel -> root -> third cell.
type NodePath []int

type OpType string

const (
	OpInsertCell    OpType = "INSERT_CELL"    // Cell present only in the new document
	OpDeleteCell    OpType = "DELETE_CELL"    // Cell present only in the old document
	OpUpdateAttr    OpType = "UPDATE_ATTR"    // Attribute added or changed
	OpRemoveAttr    OpType = "REMOVE_ATTR"    // Attribute dropped
	OpUpdateContent OpType = "UPDATE_CONTENT" // Child markup (geometry, wrapped cell) changed
)

// Operation describes one difference between two snapshots of a diagram.
type Operation struct {
	Type     OpType   `json:"type"`
	CellID   string   `json:"cell_id"`
	Path     NodePath `json:"path,omitempty"`      // Location in the document the op was computed against
	Key      string   `json:"key,omitempty"`       // Attribute name
	OldValue string   `json:"old_value,omitempty"` // Previous attribute value or child markup
	NewValue string   `json:"new_value,omitempty"` // New attribute value or child markup
	NodeData string   `json:"node_data,omitempty"` // For inserts/deletes: serialized cell
}

// EditOperation is a literal search/replace pair applied to a serialized diagram.
type EditOperation struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// Source records what produced a committed document.
type Source string

const (
	SourceDisplay Source = "display"
	SourceEdit    Source = "edit"
	SourceLoad    Source = "load"
	SourceRestore Source = "restore"
)

// Snapshot is one committed entry of a session's diagram history.
type Snapshot struct {
	ID        string    `json:"id"`
	XML       string    `json:"xml"`
	Hash      string    `json:"hash"` // sha256 of XML
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// EditResult reports the outcome of Session.Edit.
type EditResult struct {
	Applied int    `json:"applied"`           // Edits applied (all of them on success)
	XML     string `json:"xml,omitempty"`     // Committed document on success
	Current string `json:"current,omitempty"` // Text the edits were matched against
}
