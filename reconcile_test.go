package vcdiagram

import (
	"testing"
)

func mustNormalize(t *testing.T, fragment string) *Document {
	t.Helper()
	doc, err := Normalize(fragment)
	if err != nil {
		t.Fatalf("Normalize(%q) failed: %v", fragment, err)
	}
	return doc
}

func TestReconcileIdempotent(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{"empty diagram", EmptyDiagramXML},
		{"vertices and edge", wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/>` +
			`<mxCell id="a" value="A" vertex="1" parent="1"><mxGeometry x="0" y="0" width="80" height="40" as="geometry"/></mxCell>` +
			`<mxCell id="b" value="B" vertex="1" parent="1"><mxGeometry x="200" y="0" width="80" height="40" as="geometry"/></mxCell>` +
			`<mxCell id="e" edge="1" source="a" target="b" parent="1"><mxGeometry relative="1" as="geometry"/></mxCell>`)},
		{"no infrastructure cells", wrapCells(`<mxCell id="a" value="A"/>`)},
		{"no cells at all", wrapCells(``)},
		{"several pages", `<mxfile><diagram name="One" id="p1"><mxGraphModel><root><mxCell id="0"/><mxCell id="x"/></root></mxGraphModel></diagram>` +
			`<diagram name="Two" id="p2"><mxGraphModel><root><mxCell id="0"/><mxCell id="y"/></root></mxGraphModel></diagram></mxfile>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDocument(tt.xml)
			if err != nil {
				t.Fatalf("ParseDocument failed: %v", err)
			}

			got := Reconcile(d, mustNormalize(t, d.String()))
			if !got.Equal(d) {
				t.Errorf("Reconcile(D, D) changed the document.\nGot:  %s\nWant: %s", got, d)
			}

			twice := Reconcile(got, got)
			if !twice.Equal(d) {
				t.Errorf("Second reconcile changed the document: %s", twice)
			}
		})
	}
}

func TestReconcileKeepsInfrastructure(t *testing.T) {
	previous, err := ParseDocument(wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0" style="layer"/><mxCell id="old" value="Old"/>`))
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}

	tests := []struct {
		name     string
		incoming string
		want     string
	}{
		{
			name:     "incoming omits infrastructure",
			incoming: `<mxCell id="new" value="New" parent="1"/>`,
			want:     wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0" style="layer"/><mxCell id="new" value="New" parent="1"/>`),
		},
		{
			name:     "incoming redefines infrastructure",
			incoming: `<mxCell id="0" value="hijack"/><mxCell id="1" parent="x"/><mxCell id="new"/>`,
			want:     wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0" style="layer"/><mxCell id="new"/>`),
		},
		{
			name:     "redefinition keeps its position",
			incoming: `<mxCell id="new"/><mxCell id="1"/>`,
			want:     wrapCells(`<mxCell id="0"/><mxCell id="new"/><mxCell id="1" parent="0" style="layer"/>`),
		},
		{
			name:     "duplicate ids keep the first",
			incoming: `<mxCell id="a" value="first"/><mxCell id="a" value="second"/><mxCell id="b"/>`,
			want:     wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0" style="layer"/><mxCell id="a" value="first"/><mxCell id="b"/>`),
		},
		{
			name:     "cells without ids are all kept",
			incoming: `<mxCell value="x"/><mxCell value="y"/>`,
			want:     wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0" style="layer"/><mxCell value="x"/><mxCell value="y"/>`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(previous, mustNormalize(t, tt.incoming))
			if got.String() != tt.want {
				t.Errorf("Reconcile mismatch.\nGot:  %s\nWant: %s", got, tt.want)
			}
			for _, id := range InfrastructureCellIDs {
				if RenderNode(got.Cell(id)) != RenderNode(previous.Cell(id)) {
					t.Errorf("Infrastructure cell %s changed", id)
				}
			}
		})
	}
}

func TestReconcileWrapperFromPrevious(t *testing.T) {
	previous, err := ParseDocument(`<mxfile host="app" modified="t1"><diagram name="Mine" id="m"><mxGraphModel dx="1000" grid="1"><root><mxCell id="0"/><mxCell id="1" parent="0"/></root></mxGraphModel></diagram>` +
		`<diagram name="Second" id="s"><mxGraphModel><root><mxCell id="z"/></root></mxGraphModel></diagram></mxfile>`)
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}
	incoming := mustNormalize(t, `<mxfile host="model"><diagram name="Other" id="o"><mxGraphModel dx="1"><root><mxCell id="2" value="N"/></root></mxGraphModel></diagram></mxfile>`)

	got := Reconcile(previous, incoming)
	want := `<mxfile host="app" modified="t1"><diagram name="Mine" id="m"><mxGraphModel dx="1000" grid="1"><root><mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="N"/></root></mxGraphModel></diagram>` +
		`<diagram name="Second" id="s"><mxGraphModel><root><mxCell id="z"/></root></mxGraphModel></diagram></mxfile>`
	if got.String() != want {
		t.Errorf("Reconcile mismatch.\nGot:  %s\nWant: %s", got, want)
	}
}

func TestReconcileNil(t *testing.T) {
	incoming := mustNormalize(t, `<mxCell id="2"/>`)

	got := Reconcile(nil, incoming)
	want := wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2"/>`)
	if got.String() != want {
		t.Errorf("Reconcile(nil, x) = %s, want %s", got, want)
	}

	previous := mustNormalize(t, `<mxCell id="0"/><mxCell id="9"/>`)
	if got := Reconcile(previous, nil); !got.Equal(previous) {
		t.Errorf("Reconcile(x, nil) = %s, want %s", got, previous)
	}
	if got := Reconcile(previous, nil); got == previous {
		t.Errorf("Reconcile must return a copy")
	}
}

func TestReconcileDoesNotMutateInputs(t *testing.T) {
	previous := EmptyDocument()
	incoming := mustNormalize(t, `<mxCell id="1" value="x"/><mxCell id="2"/>`)
	before, beforeIncoming := previous.String(), incoming.String()

	got := Reconcile(previous, incoming)
	setAttr(got.Cell("2"), "value", "changed")

	if previous.String() != before || incoming.String() != beforeIncoming {
		t.Errorf("Reconcile modified its inputs")
	}
}
