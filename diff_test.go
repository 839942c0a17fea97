package vcdiagram

import (
	"reflect"
	"testing"
)

func mustParseDoc(t *testing.T, content string) *Document {
	t.Helper()
	doc, err := ParseDocument(content)
	if err != nil {
		t.Fatalf("ParseDocument(%q) failed: %v", content, err)
	}
	return doc
}

func TestDiffIdentical(t *testing.T) {
	doc := mustParseDoc(t, wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="A"><mxGeometry x="1" as="geometry"/></mxCell>`))
	if ops := Diff(doc, doc.Clone()); len(ops) != 0 {
		t.Errorf("Expected no operations, got %+v", ops)
	}
}

func TestDiff(t *testing.T) {
	base := wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="A" style="s1"><mxGeometry x="10" as="geometry"/></mxCell>`)

	tests := []struct {
		name    string
		newXML  string
		wantOps []Operation
	}{
		{
			name:   "attribute changed",
			newXML: wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="B" style="s1"><mxGeometry x="10" as="geometry"/></mxCell>`),
			wantOps: []Operation{
				{Type: OpUpdateAttr, CellID: "2", Path: NodePath{0, 0, 0, 0, 2}, Key: "value", OldValue: "A", NewValue: "B"},
			},
		},
		{
			name:   "attribute removed and added",
			newXML: wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="A" vertex="1"><mxGeometry x="10" as="geometry"/></mxCell>`),
			wantOps: []Operation{
				{Type: OpRemoveAttr, CellID: "2", Path: NodePath{0, 0, 0, 0, 2}, Key: "style", OldValue: "s1"},
				{Type: OpUpdateAttr, CellID: "2", Path: NodePath{0, 0, 0, 0, 2}, Key: "vertex", NewValue: "1"},
			},
		},
		{
			name:   "geometry moved",
			newXML: wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="A" style="s1"><mxGeometry x="20" as="geometry"/></mxCell>`),
			wantOps: []Operation{
				{
					Type:     OpUpdateContent,
					CellID:   "2",
					Path:     NodePath{0, 0, 0, 0, 2},
					OldValue: `<mxGeometry x="10" as="geometry"/>`,
					NewValue: `<mxGeometry x="20" as="geometry"/>`,
				},
			},
		},
		{
			name:   "cell inserted",
			newXML: wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="A" style="s1"><mxGeometry x="10" as="geometry"/></mxCell><mxCell id="3" value="C"/>`),
			wantOps: []Operation{
				{Type: OpInsertCell, CellID: "3", Path: NodePath{0, 0, 0, 0, 3}, NodeData: `<mxCell id="3" value="C"/>`},
			},
		},
		{
			name:   "cell deleted",
			newXML: wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/>`),
			wantOps: []Operation{
				{
					Type:     OpDeleteCell,
					CellID:   "2",
					Path:     NodePath{0, 0, 0, 0, 2},
					NodeData: `<mxCell id="2" value="A" style="s1"><mxGeometry x="10" as="geometry"/></mxCell>`,
				},
			},
		},
		{
			name:   "deletions come before insertions",
			newXML: wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="9"/>`),
			wantOps: []Operation{
				{
					Type:     OpDeleteCell,
					CellID:   "2",
					Path:     NodePath{0, 0, 0, 0, 2},
					NodeData: `<mxCell id="2" value="A" style="s1"><mxGeometry x="10" as="geometry"/></mxCell>`,
				},
				{Type: OpInsertCell, CellID: "9", Path: NodePath{0, 0, 0, 0, 2}, NodeData: `<mxCell id="9"/>`},
			},
		},
	}

	oldDoc := mustParseDoc(t, base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(oldDoc, mustParseDoc(t, tt.newXML))
			if !reflect.DeepEqual(got, tt.wantOps) {
				t.Errorf("Diff mismatch.\nGot:  %+v\nWant: %+v", got, tt.wantOps)
			}
		})
	}
}

func TestDiffCellsWithoutIDs(t *testing.T) {
	oldDoc := mustParseDoc(t, wrapCells(`<mxCell value="a"/><mxCell value="b"/>`))
	newDoc := mustParseDoc(t, wrapCells(`<mxCell value="a"/><mxCell value="c"/>`))

	ops := Diff(oldDoc, newDoc)
	if len(ops) != 1 {
		t.Fatalf("Expected 1 operation, got %+v", ops)
	}
	if ops[0].Type != OpUpdateAttr || ops[0].Key != "value" || ops[0].NewValue != "c" {
		t.Errorf("Unexpected operation %+v", ops[0])
	}
}

func TestDiffNil(t *testing.T) {
	doc := EmptyDocument()
	ops := Diff(nil, doc)
	if len(ops) != 2 || ops[0].Type != OpInsertCell || ops[1].Type != OpInsertCell {
		t.Errorf("Expected two insertions, got %+v", ops)
	}
}

func TestSummarizeOps(t *testing.T) {
	ops := []Operation{
		{Type: OpInsertCell, CellID: "5"},
		{Type: OpDeleteCell, CellID: "3"},
		{Type: OpDeleteCell, CellID: "4"},
		{Type: OpUpdateAttr, CellID: "2", Key: "value"},
		{Type: OpRemoveAttr, CellID: "2", Key: "style"},
		{Type: OpUpdateContent, CellID: "6"},
	}
	if got, want := SummarizeOps(ops), "1 added, 2 removed, 2 changed"; got != want {
		t.Errorf("SummarizeOps = %q, want %q", got, want)
	}
	if got, want := SummarizeOps(nil), "0 added, 0 removed, 0 changed"; got != want {
		t.Errorf("SummarizeOps(nil) = %q, want %q", got, want)
	}
}
