package vcdiagram

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Diff lists the cell-level operations that turn oldDoc into newDoc.
//
// Cells of the first page are matched by id; cells without one are matched by
// position. Deletions come first (in old order), then updates and insertions
// in new order. Paths of deletions refer to oldDoc, all others to newDoc.
func Diff(oldDoc, newDoc *Document) []Operation {
	oldCells := indexCells(oldDoc)
	newCells := indexCells(newDoc)

	var ops []Operation
	for _, c := range oldCells.order {
		if _, ok := newCells.byKey[c.key]; ok {
			continue
		}
		path, _ := GetPath(oldDoc.Node(), c.node)
		ops = append(ops, Operation{
			Type:     OpDeleteCell,
			CellID:   c.id,
			Path:     path,
			NodeData: RenderNode(c.node),
		})
	}

	for _, c := range newCells.order {
		path, _ := GetPath(newDoc.Node(), c.node)
		old, ok := oldCells.byKey[c.key]
		if !ok {
			ops = append(ops, Operation{
				Type:     OpInsertCell,
				CellID:   c.id,
				Path:     path,
				NodeData: RenderNode(c.node),
			})
			continue
		}
		ops = append(ops, diffCell(old, c.node, c.id, path)...)
	}
	return ops
}

type keyedCell struct {
	key  string
	id   string
	node *html.Node
}

type cellIndex struct {
	order []keyedCell
	byKey map[string]*html.Node
}

func indexCells(doc *Document) cellIndex {
	idx := cellIndex{byKey: make(map[string]*html.Node)}
	if doc == nil {
		return idx
	}
	for i, c := range doc.Cells() {
		id, ok := attrValue(c, "id")
		key := "id:" + id
		if !ok {
			key = "pos:" + strconv.Itoa(i)
		}
		if _, dup := idx.byKey[key]; dup {
			continue
		}
		idx.byKey[key] = c
		idx.order = append(idx.order, keyedCell{key: key, id: id, node: c})
	}
	return idx
}

func diffCell(oldNode, newNode *html.Node, id string, path NodePath) []Operation {
	ops := diffAttributes(oldNode, newNode, id, path)
	if oldInner, newInner := innerXML(oldNode), innerXML(newNode); oldNode.Data != newNode.Data || oldInner != newInner {
		ops = append(ops, Operation{
			Type:     OpUpdateContent,
			CellID:   id,
			Path:     path,
			OldValue: oldInner,
			NewValue: newInner,
		})
	}
	return ops
}

// diffAttributes compares attributes in key order so the result is stable.
func diffAttributes(oldNode, newNode *html.Node, id string, path NodePath) []Operation {
	oldAttrs := attrMap(oldNode)
	newAttrs := attrMap(newNode)

	keys := make([]string, 0, len(oldAttrs)+len(newAttrs))
	for k := range oldAttrs {
		keys = append(keys, k)
	}
	for k := range newAttrs {
		if _, ok := oldAttrs[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var ops []Operation
	for _, k := range keys {
		vOld, inOld := oldAttrs[k]
		vNew, inNew := newAttrs[k]
		switch {
		case inOld && !inNew:
			ops = append(ops, Operation{Type: OpRemoveAttr, CellID: id, Path: path, Key: k, OldValue: vOld})
		case inNew && vOld != vNew, inNew && !inOld:
			ops = append(ops, Operation{Type: OpUpdateAttr, CellID: id, Path: path, Key: k, OldValue: vOld, NewValue: vNew})
		}
	}
	return ops
}

func attrMap(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[a.Key] = a.Val
	}
	return m
}

func innerXML(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(RenderNode(c))
	}
	return b.String()
}

// SummarizeOps condenses a Diff result into counts of cells added, removed
// and changed.
func SummarizeOps(ops []Operation) string {
	var added, removed int
	changed := make(map[string]bool)
	for _, op := range ops {
		switch op.Type {
		case OpInsertCell:
			added++
		case OpDeleteCell:
			removed++
		default:
			changed[op.CellID] = true
		}
	}
	return fmt.Sprintf("%d added, %d removed, %d changed", added, removed, len(changed))
}
