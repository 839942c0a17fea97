package vcdiagram

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	mdast "github.com/yuin/goldmark/ast"
	mdtext "github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// ExtractDiagramBlock returns the body of the first fenced code block in an
// assistant message that carries diagram markup: a block labeled xml, or an
// unlabeled one whose body starts with '<'. A fence left open runs to the end
// of the message, so blocks still being streamed are found too.
func ExtractDiagramBlock(text string) (string, bool) {
	src := []byte(text)
	root := markdown.Parser().Parse(mdtext.NewReader(src))

	var body string
	var found bool
	mdast.Walk(root, func(n mdast.Node, entering bool) (mdast.WalkStatus, error) {
		if !entering {
			return mdast.WalkContinue, nil
		}
		block, ok := n.(*mdast.FencedCodeBlock)
		if !ok {
			return mdast.WalkContinue, nil
		}
		content := blockText(block, src)
		lang := strings.ToLower(string(block.Language(src)))
		if lang == "xml" || lang == "" && strings.HasPrefix(strings.TrimSpace(content), "<") {
			body, found = content, true
			return mdast.WalkStop, nil
		}
		return mdast.WalkSkipChildren, nil
	})
	return body, found
}

func blockText(block *mdast.FencedCodeBlock, src []byte) string {
	var b bytes.Buffer
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}
