package vcdiagram

import "strings"

// ApplyEdits applies search/replace edits to a serialized diagram, in order,
// each against the output of the one before.
//
// Every search must occur exactly once in the text it is applied to;
// overlapping occurrences count. Matching is literal: no whitespace folding,
// no fuzzy fallback.
//
// The batch is all-or-nothing. When an edit fails, ApplyEdits returns the
// original document together with an *EditError naming the failing edit and
// how many edits before it went through.
func ApplyEdits(document string, edits []EditOperation) (string, error) {
	current := document
	for i, edit := range edits {
		next, err := applyEdit(current, edit)
		if err != nil {
			err.Index = i
			err.Total = len(edits)
			err.Applied = i
			return document, err
		}
		current = next
	}
	return current, nil
}

func applyEdit(text string, edit EditOperation) (string, *EditError) {
	if edit.Search == "" {
		return "", &EditError{Search: edit.Search, Err: ErrEmptySearch}
	}
	at, count := findOnce(text, edit.Search)
	switch count {
	case 0:
		return "", &EditError{Search: edit.Search, Err: ErrNotFound}
	case 1:
		return text[:at] + edit.Replace + text[at+len(edit.Search):], nil
	default:
		return "", &EditError{Search: edit.Search, Occurrences: count, Err: ErrAmbiguousMatch}
	}
}

// findOnce returns the offset of the first occurrence of pattern and the
// number of occurrences, counting overlaps and stopping at two.
func findOnce(text, pattern string) (int, int) {
	first := strings.Index(text, pattern)
	if first < 0 {
		return -1, 0
	}
	if strings.Contains(text[first+1:], pattern) {
		return first, 2
	}
	return first, 1
}
