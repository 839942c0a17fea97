package vcdiagram

// Normalize turns a possibly partial or malformed diagram fragment into a
// complete document. It is what runs on every streamed frame of model output.
//
// Recovery rules, in order:
//   - prose, markdown fences, declarations and comments outside elements are dropped
//   - scanning stops at the first token cut off by the end of input
//   - elements still open at that point are closed
//   - end tags that match no open element are ignored
//   - the mxfile > diagram > mxGraphModel > root skeleton is synthesized
//     around bare content and completed below partial wrappers
//
// A fragment with no complete start tag at all fails with a
// *MalformedDocumentError; callers treat that as "no update".
func Normalize(fragment string) (*Document, error) {
	tree, err := buildTree(fragment, false)
	if err != nil {
		return nil, err
	}
	return finishDocument(tree)
}
