package vcdiagram

import "golang.org/x/net/html"

// InfrastructureCellIDs are the cells the renderer needs in every page: the
// root cell and the default layer every other cell hangs off. They are part
// of the document format contract and are never taken from model output when
// the previous document already defines them.
var InfrastructureCellIDs = []string{"0", "1"}

// IsInfrastructureCell reports whether id is one of InfrastructureCellIDs.
func IsInfrastructureCell(id string) bool {
	for _, infra := range InfrastructureCellIDs {
		if infra == id {
			return true
		}
	}
	return false
}

// Reconcile merges a newly produced diagram into the previously displayed one.
//
// The page skeleton (mxfile, diagram and mxGraphModel attributes, extra
// pages) comes from previous. Cells come wholesale from incoming, except that
// infrastructure cells always keep previous's definition: an incoming
// redefinition is swapped for it in place, and ones incoming leaves out are
// prepended. Later duplicates of a cell id are dropped.
//
// Reconcile(D, D) is equal to D for any D with unique cell ids.
//
// A nil previous reconciles against the empty document; a nil incoming
// returns a copy of previous.
func Reconcile(previous, incoming *Document) *Document {
	if previous == nil || previous.GraphRoot() == nil {
		previous = emptyDocument
	}
	result := previous.Clone()
	if incoming == nil || incoming.GraphRoot() == nil {
		return result
	}

	kept := make(map[string]*html.Node, len(InfrastructureCellIDs))
	for _, c := range previous.Cells() {
		id, _ := attrValue(c, "id")
		if IsInfrastructureCell(id) && kept[id] == nil {
			kept[id] = c
		}
	}

	var cells []*html.Node
	seen := make(map[string]bool)
	for _, c := range incoming.Cells() {
		id, hasID := attrValue(c, "id")
		if hasID {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		if IsInfrastructureCell(id) && kept[id] != nil {
			c = kept[id]
		}
		cells = append(cells, cloneNode(c))
	}

	var missing []*html.Node
	for _, id := range InfrastructureCellIDs {
		if c := kept[id]; c != nil && !seen[id] {
			missing = append(missing, cloneNode(c))
		}
	}

	root := result.GraphRoot()
	for c := root.FirstChild; c != nil; {
		next := c.NextSibling
		root.RemoveChild(c)
		c = next
	}
	for _, c := range append(missing, cells...) {
		root.AppendChild(c)
	}
	return result
}
