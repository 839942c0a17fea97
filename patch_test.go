package vcdiagram

import (
	"errors"
	"testing"
)

func TestApplyEdits(t *testing.T) {
	doc := wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="Start" vertex="1" parent="1"/>`)

	tests := []struct {
		name  string
		edits []EditOperation
		want  string
	}{
		{
			name:  "single replacement",
			edits: []EditOperation{{Search: `value="Start"`, Replace: `value="Begin"`}},
			want:  wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="Begin" vertex="1" parent="1"/>`),
		},
		{
			name: "later edit sees earlier output",
			edits: []EditOperation{
				{Search: `value="Start"`, Replace: `value="Begin"`},
				{Search: `value="Begin"`, Replace: `value="Go"`},
			},
			want: wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="2" value="Go" vertex="1" parent="1"/>`),
		},
		{
			name: "insert and delete cells",
			edits: []EditOperation{
				{Search: `<mxCell id="2" value="Start" vertex="1" parent="1"/>`, Replace: ``},
				{Search: `</root>`, Replace: `<mxCell id="3" value="New" vertex="1" parent="1"/></root>`},
			},
			want: wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="3" value="New" vertex="1" parent="1"/>`),
		},
		{
			name:  "empty batch",
			edits: nil,
			want:  doc,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyEdits(doc, tt.edits)
			if err != nil {
				t.Fatalf("ApplyEdits failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ApplyEdits mismatch.\nGot:  %s\nWant: %s", got, tt.want)
			}
		})
	}
}

func TestApplyEditsRoundTrip(t *testing.T) {
	doc := wrapCells(`<mxCell id="0"/><mxCell id="1" parent="0"/><mxCell id="a" value="A" parent="1"/><mxCell id="b" value="B" parent="1"/>`)
	edits := []EditOperation{
		{Search: `value="A"`, Replace: `value="Alpha"`},
		{Search: `<mxCell id="b" value="B" parent="1"/>`, Replace: `<mxCell id="b" value="B" parent="1" style="bold"/>`},
	}

	patched, err := ApplyEdits(doc, edits)
	if err != nil {
		t.Fatalf("ApplyEdits failed: %v", err)
	}

	// Inverse edits in reverse order restore the original text.
	inverse := make([]EditOperation, 0, len(edits))
	for i := len(edits) - 1; i >= 0; i-- {
		inverse = append(inverse, EditOperation{Search: edits[i].Replace, Replace: edits[i].Search})
	}
	restored, err := ApplyEdits(patched, inverse)
	if err != nil {
		t.Fatalf("Inverse ApplyEdits failed: %v", err)
	}
	if restored != doc {
		t.Errorf("Round trip mismatch.\nGot:  %s\nWant: %s", restored, doc)
	}
}

func TestApplyEditsAllOrNothing(t *testing.T) {
	doc := wrapCells(`<mxCell id="2" value="x" style="a"/><mxCell id="3" value="x" style="b"/>`)

	tests := []struct {
		name        string
		edits       []EditOperation
		index       int
		occurrences int
		wantErr     error
	}{
		{
			name: "second edit not found",
			edits: []EditOperation{
				{Search: `style="a"`, Replace: `style="c"`},
				{Search: `style="missing"`, Replace: ``},
			},
			index:   1,
			wantErr: ErrNotFound,
		},
		{
			name: "ambiguous match",
			edits: []EditOperation{
				{Search: `value="x"`, Replace: `value="y"`},
			},
			index:       0,
			occurrences: 2,
			wantErr:     ErrAmbiguousMatch,
		},
		{
			name: "empty search after two good edits",
			edits: []EditOperation{
				{Search: `style="a"`, Replace: `style="c"`},
				{Search: `style="b"`, Replace: `style="d"`},
				{Search: ``, Replace: `anything`},
			},
			index:   2,
			wantErr: ErrEmptySearch,
		},
		{
			name: "earlier edit makes a later one ambiguous",
			edits: []EditOperation{
				{Search: `style="a"`, Replace: `style="b"`},
				{Search: `style="b"`, Replace: `style="z"`},
			},
			index:       1,
			occurrences: 2,
			wantErr:     ErrAmbiguousMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyEdits(doc, tt.edits)
			if err == nil {
				t.Fatalf("Expected error, got %s", got)
			}
			if got != doc {
				t.Errorf("Failed batch must return the original document, got %s", got)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			var editErr *EditError
			if !errors.As(err, &editErr) {
				t.Fatalf("Expected *EditError, got %T", err)
			}
			if editErr.Index != tt.index || editErr.Applied != tt.index || editErr.Total != len(tt.edits) {
				t.Errorf("Got index=%d applied=%d total=%d, want index=%d applied=%d total=%d",
					editErr.Index, editErr.Applied, editErr.Total, tt.index, tt.index, len(tt.edits))
			}
			if editErr.Occurrences != tt.occurrences {
				t.Errorf("Expected %d occurrences, got %d", tt.occurrences, editErr.Occurrences)
			}
		})
	}
}

func TestApplyEditsOverlappingMatches(t *testing.T) {
	_, err := ApplyEdits("aaa", []EditOperation{{Search: "aa", Replace: "b"}})
	if !errors.Is(err, ErrAmbiguousMatch) {
		t.Fatalf("Expected overlapping occurrences to be ambiguous, got %v", err)
	}

	got, err := ApplyEdits("aab", []EditOperation{{Search: "ab", Replace: "c"}})
	if err != nil {
		t.Fatalf("ApplyEdits failed: %v", err)
	}
	if got != "ac" {
		t.Errorf("Expected %q, got %q", "ac", got)
	}
}

func TestApplyEditsIsLiteral(t *testing.T) {
	doc := `<mxCell id="2"  value="A"/>`
	tests := []struct {
		name   string
		search string
	}{
		{"whitespace is not folded", `id="2" value="A"`},
		{"case is significant", `ID="2"`},
		{"no regular expressions", `id=".*"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyEdits(doc, []EditOperation{{Search: tt.search, Replace: "x"}})
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestEditErrorMessage(t *testing.T) {
	_, err := ApplyEdits("abc", []EditOperation{{Search: "a", Replace: "x"}, {Search: "zz", Replace: ""}})
	want := `edit 2 of 2: search pattern not found (1 edit(s) would have succeeded before it): "zz"`
	if err == nil || err.Error() != want {
		t.Errorf("Expected %q, got %v", want, err)
	}
}
