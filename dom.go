package vcdiagram

import (
	"bytes"
	"compress/flate"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Element names of the draw.io dialect that make up a document's skeleton.
const (
	TagFile       = "mxfile"
	TagDiagram    = "diagram"
	TagGraphModel = "mxGraphModel"
	TagRoot       = "root"
	TagCell       = "mxCell"
)

// EmptyDiagramXML is the document a session starts with and returns to on Clear.
const EmptyDiagramXML = `<mxfile><diagram name="Page-1" id="page-1"><mxGraphModel><root><mxCell id="0"/><mxCell id="1" parent="0"/></root></mxGraphModel></diagram></mxfile>`

// wrapperLevels lists the skeleton from the outside in. Anything that is not
// one of these is content and belongs under <root>.
var wrapperLevels = []string{TagFile, TagDiagram, TagGraphModel, TagRoot}

var emptyDocument = mustParse(EmptyDiagramXML)

// Document is a diagram held as an element tree. The tree hangs off an
// html.DocumentNode whose only element child is <mxfile>.
type Document struct {
	node *html.Node
}

// EmptyDocument returns a fresh copy of the canonical empty diagram.
func EmptyDocument() *Document {
	return emptyDocument.Clone()
}

// ParseDocument reads a complete, well-formed diagram. Unlike Normalize it
// refuses to repair truncated or unbalanced markup.
func ParseDocument(content string) (*Document, error) {
	tree, err := buildTree(content, true)
	if err != nil {
		return nil, err
	}
	return finishDocument(tree)
}

func mustParse(content string) *Document {
	doc, err := ParseDocument(content)
	if err != nil {
		panic(err)
	}
	return doc
}

// buildTree turns scanner tokens into a node tree. In lenient mode it stops at
// the first incomplete token, auto-closes whatever is still open and ignores
// end tags that close nothing.
func buildTree(content string, strict bool) (*html.Node, error) {
	doc := &html.Node{Type: html.DocumentNode}
	stack := []*html.Node{doc}
	sc := &scanner{src: content}

scan:
	for {
		tok, status := sc.next()
		switch status {
		case scanEOF:
			break scan
		case scanIncomplete:
			if strict {
				return nil, &MalformedDocumentError{Offset: tok.offset, Reason: "unterminated markup"}
			}
			break scan
		case scanInvalid:
			if strict {
				return nil, &MalformedDocumentError{Offset: tok.offset, Reason: "invalid end tag"}
			}
			continue
		}

		top := stack[len(stack)-1]
		switch tok.typ {
		case textToken:
			if strings.TrimSpace(tok.text) == "" {
				continue
			}
			if top == doc {
				if strict {
					return nil, &MalformedDocumentError{Offset: tok.offset, Reason: "text outside of any element"}
				}
				continue
			}
			top.AppendChild(&html.Node{Type: html.TextNode, Data: tok.text})
		case startTagToken, selfClosingTagToken:
			el := &html.Node{Type: html.ElementNode, Data: tok.name, Attr: tok.attrs}
			top.AppendChild(el)
			if tok.typ == startTagToken {
				stack = append(stack, el)
			}
		case endTagToken:
			i := len(stack) - 1
			for i > 0 && stack[i].Data != tok.name {
				i--
			}
			if i == 0 || strict && i != len(stack)-1 {
				if strict {
					return nil, &MalformedDocumentError{Offset: tok.offset, Reason: fmt.Sprintf("unexpected </%s>", tok.name)}
				}
				continue
			}
			stack = stack[:i]
		}
	}

	if strict && len(stack) > 1 {
		return nil, &MalformedDocumentError{Offset: len(content), Reason: fmt.Sprintf("unclosed element <%s>", stack[len(stack)-1].Data)}
	}
	return doc, nil
}

// finishDocument completes the mxfile > diagram > mxGraphModel > root
// skeleton around whatever elements the tree holds.
func finishDocument(tree *html.Node) (*Document, error) {
	tops := elementChildren(tree)
	if len(tops) == 0 {
		return nil, &MalformedDocumentError{Offset: -1, Reason: "no diagram elements found"}
	}
	for c := tree.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.ElementNode {
			tree.RemoveChild(c)
		}
		c = next
	}

	var file *html.Node
	if level := levelOf(tops[0].Data); level == 0 {
		file = tops[0]
		for _, extra := range tops[1:] {
			tree.RemoveChild(extra)
		}
	} else {
		// Synthesize the missing outer levels and move every top-level
		// element into the innermost one.
		var parent *html.Node
		for _, tag := range wrapperLevels[:level] {
			el := newWrapper(tag)
			if parent == nil {
				file = el
			} else {
				parent.AppendChild(el)
			}
			parent = el
		}
		for _, t := range tops {
			tree.RemoveChild(t)
			parent.AppendChild(t)
		}
		tree.AppendChild(file)
	}

	completeLevels(file, 0)
	return &Document{node: tree}, nil
}

func completeLevels(el *html.Node, level int) {
	if level == len(wrapperLevels)-1 {
		return
	}
	if el.Data == TagDiagram {
		inflateInto(el)
	}
	removeTextChildren(el)

	want := wrapperLevels[level+1]
	var matches []*html.Node
	for _, c := range elementChildren(el) {
		if c.Data == want {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		child := newWrapper(want)
		el.AppendChild(child)
		matches = append(matches, child)
	}
	// Elements that are not the expected wrapper are content; they move into
	// the first matching child.
	for _, c := range elementChildren(el) {
		if c.Data != want {
			el.RemoveChild(c)
			matches[0].AppendChild(c)
		}
	}
	if level > 0 {
		// Only the file level holds several pages; below that the first
		// matching child wins.
		matches = matches[:1]
	}
	for _, m := range matches {
		completeLevels(m, level+1)
	}
}

func newWrapper(tag string) *html.Node {
	el := &html.Node{Type: html.ElementNode, Data: tag}
	if tag == TagDiagram {
		el.Attr = []html.Attribute{{Key: "name", Val: "Page-1"}, {Key: "id", Val: "page-1"}}
	}
	return el
}

func levelOf(tag string) int {
	for i, l := range wrapperLevels {
		if l == tag {
			return i
		}
	}
	return len(wrapperLevels)
}

// inflateInto expands a compressed page (base64 of raw deflate of the
// URI-encoded model) into child elements. Undecodable text is left for
// removeTextChildren to drop.
func inflateInto(page *html.Node) {
	if len(elementChildren(page)) > 0 {
		return
	}
	var data strings.Builder
	for c := page.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			data.WriteString(c.Data)
		}
	}
	model, ok := InflatePage(data.String())
	if !ok {
		return
	}
	tree, _ := buildTree(model, false)
	for _, el := range elementChildren(tree) {
		tree.RemoveChild(el)
		page.AppendChild(el)
	}
}

// InflatePage decodes the compressed text form of a draw.io page.
func InflatePage(data string) (string, bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", false
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", false
	}
	model, err := url.PathUnescape(string(out))
	if err != nil {
		return "", false
	}
	return model, true
}

// DeflatePage produces the compressed text form of a page model.
func DeflatePage(model string) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, url.PathEscape(model)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// File returns the <mxfile> element.
func (d *Document) File() *html.Node {
	return firstElement(d.node, TagFile)
}

// Page returns the first <diagram> element.
func (d *Document) Page() *html.Node {
	return firstElement(d.File(), TagDiagram)
}

// GraphRoot returns the <root> element of the first page, which holds the cells.
func (d *Document) GraphRoot() *html.Node {
	return firstElement(firstElement(d.Page(), TagGraphModel), TagRoot)
}

// Cells returns the top-level cells of the first page in document order.
func (d *Document) Cells() []*html.Node {
	return elementChildren(d.GraphRoot())
}

// Cell finds a top-level cell by id.
func (d *Document) Cell(id string) *html.Node {
	for _, c := range d.Cells() {
		if v, ok := attrValue(c, "id"); ok && v == id {
			return c
		}
	}
	return nil
}

// Node exposes the underlying tree for path lookups.
func (d *Document) Node() *html.Node {
	return d.node
}

// String serializes the document in canonical compact form.
func (d *Document) String() string {
	return RenderNode(d.node)
}

// Format serializes the document indented by two spaces per level.
func (d *Document) Format() string {
	return formatNode(d.node, "  ")
}

// Hash returns the sha256 of the canonical serialization.
func (d *Document) Hash() string {
	return hashString(d.String())
}

// Equal reports whether two documents serialize identically.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.String() == other.String()
}

// IsEmpty reports whether d is the canonical empty diagram.
func (d *Document) IsEmpty() bool {
	return d.Equal(emptyDocument)
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	return &Document{node: cloneNode(d.node)}
}

// FormatXML pretty-prints diagram text. Text that does not parse is returned
// unchanged.
func FormatXML(content string) string {
	doc, err := ParseDocument(content)
	if err != nil {
		return content
	}
	return doc.Format()
}

var (
	attrEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;",
		"\n", "&#xa;", "\r", "&#xd;", "\t", "&#x9;")
	textEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;")
)

// RenderNode converts a node tree to compact XML.
func RenderNode(n *html.Node) string {
	return formatNode(n, "")
}

func formatNode(n *html.Node, indent string) string {
	var b strings.Builder
	writeNode(&b, n, indent, 0)
	return b.String()
}

func writeNode(b *strings.Builder, n *html.Node, indent string, depth int) {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(b, c, indent, depth)
		}
	case html.TextNode:
		b.WriteString(textEscaper.Replace(n.Data))
	case html.ElementNode:
		b.WriteByte('<')
		b.WriteString(n.Data)
		for _, a := range n.Attr {
			b.WriteByte(' ')
			b.WriteString(a.Key)
			b.WriteString(`="`)
			b.WriteString(attrEscaper.Replace(a.Val))
			b.WriteByte('"')
		}
		if n.FirstChild == nil {
			b.WriteString("/>")
			return
		}
		b.WriteByte('>')
		block := indent != "" && len(elementChildren(n)) > 0
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if block {
				b.WriteByte('\n')
				b.WriteString(strings.Repeat(indent, depth+1))
			}
			writeNode(b, c, indent, depth+1)
		}
		if block {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat(indent, depth))
		}
		b.WriteString("</")
		b.WriteString(n.Data)
		b.WriteByte('>')
	}
}

// GetNode traverses the tree using the provided path to find a specific node.
func GetNode(root *html.Node, path NodePath) (*html.Node, error) {
	current := root
	for i, index := range path {
		child := getChildAtIndex(current, index)
		if child == nil {
			return nil, fmt.Errorf("node not found at path %v (failed at index %d, step %d)", path, index, i)
		}
		current = child
	}
	return current, nil
}

func getChildAtIndex(parent *html.Node, index int) *html.Node {
	count := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if count == index {
			return c
		}
		count++
	}
	return nil
}

// GetPath finds the path from root to the target node.
func GetPath(root, target *html.Node) (NodePath, error) {
	var path NodePath
	for current := target; current != root; current = current.Parent {
		parent := current.Parent
		if parent == nil {
			return nil, errors.New("target node is not a descendant of root")
		}
		index := getChildIndex(parent, current)
		if index == -1 {
			return nil, errors.New("integrity error: child not found in parent's list")
		}
		path = append(NodePath{index}, path...)
	}
	return path, nil
}

func getChildIndex(parent, child *html.Node) int {
	count := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c == child {
			return count
		}
		count++
	}
	return -1
}

func elementChildren(n *html.Node) []*html.Node {
	if n == nil {
		return nil
	}
	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			children = append(children, c)
		}
	}
	return children
}

func firstElement(n *html.Node, tag string) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
	}
	return nil
}

func removeTextChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode {
			n.RemoveChild(c)
		}
		c = next
	}
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{Type: n.Type, DataAtom: n.DataAtom, Data: n.Data, Namespace: n.Namespace}
	if len(n.Attr) > 0 {
		c.Attr = append([]html.Attribute(nil), n.Attr...)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(cloneNode(ch))
	}
	return c
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
