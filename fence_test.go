package vcdiagram

import "testing"

func TestExtractDiagramBlock(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{
			name:  "xml block",
			text:  "Here you go:\n\n```xml\n<mxCell id=\"2\"/>\n```\n\nDone.",
			want:  "<mxCell id=\"2\"/>\n",
			found: true,
		},
		{
			name:  "language label is case-insensitive",
			text:  "```XML\n<mxfile/>\n```",
			want:  "<mxfile/>\n",
			found: true,
		},
		{
			name:  "unlabeled block with markup",
			text:  "```\n  <mxCell id=\"2\"/>\n```",
			want:  "  <mxCell id=\"2\"/>\n",
			found: true,
		},
		{
			name:  "other languages are skipped",
			text:  "```go\nfmt.Println(\"<x>\")\n```\n\n```xml\n<root/>\n```",
			want:  "<root/>\n",
			found: true,
		},
		{
			name:  "unlabeled prose block is skipped",
			text:  "```\nplain words\n```",
			found: false,
		},
		{
			name:  "unterminated fence runs to the end",
			text:  "Drawing now\n```xml\n<mxfile><diagram>\n<mxGraphModel>\n",
			want:  "<mxfile><diagram>\n<mxGraphModel>\n",
			found: true,
		},
		{
			name:  "first of two blocks",
			text:  "```xml\n<a/>\n```\n\n```xml\n<b/>\n```",
			want:  "<a/>\n",
			found: true,
		},
		{
			name:  "tilde fence",
			text:  "~~~xml\n<a/>\n~~~",
			want:  "<a/>\n",
			found: true,
		},
		{
			name:  "no code block",
			text:  "I could not draw that.",
			found: false,
		},
		{
			name:  "indented code is not a fence",
			text:  "Example:\n\n    <mxCell id=\"2\"/>\n",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := ExtractDiagramBlock(tt.text)
			if found != tt.found {
				t.Fatalf("Expected found=%v, got %v (%q)", tt.found, found, got)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
