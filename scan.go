package vcdiagram

import (
	"strings"

	"golang.org/x/net/html"
)

type tokenType int

const (
	textToken tokenType = iota
	startTagToken
	endTagToken
	selfClosingTagToken
)

type scanStatus int

const (
	scanOK         scanStatus = iota
	scanEOF                   // input exhausted on a token boundary
	scanIncomplete            // input ends inside a token
	scanInvalid               // markup that cannot be read as a tag; skipped
)

type token struct {
	typ    tokenType
	name   string
	attrs  []html.Attribute
	text   string // entity-decoded
	offset int
}

// scanner reads markup one token at a time over the whole input. It never
// backtracks, so a token cut off by the end of input is reported as
// scanIncomplete and everything before it stays usable.
//
// Comments, processing instructions and doctype declarations are consumed
// without producing tokens. CDATA sections become text tokens.
type scanner struct {
	src string
	pos int
}

func (s *scanner) next() (token, scanStatus) {
	for {
		if s.pos >= len(s.src) {
			return token{offset: s.pos}, scanEOF
		}
		start := s.pos
		rest := s.src[s.pos:]
		if rest[0] != '<' {
			return s.text(start, 0), scanOK
		}

		switch {
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest[4:], "-->")
			if end < 0 {
				return token{offset: start}, scanIncomplete
			}
			s.pos += 4 + end + 3
		case strings.HasPrefix(rest, "<![CDATA["):
			end := strings.Index(rest[9:], "]]>")
			if end < 0 {
				return token{offset: start}, scanIncomplete
			}
			s.pos += 9 + end + 3
			return token{typ: textToken, text: rest[9 : 9+end], offset: start}, scanOK
		case strings.HasPrefix(rest, "<?"):
			end := strings.Index(rest[2:], "?>")
			if end < 0 {
				return token{offset: start}, scanIncomplete
			}
			s.pos += 2 + end + 2
		case strings.HasPrefix(rest, "<!"):
			end := strings.IndexByte(rest, '>')
			if end < 0 {
				return token{offset: start}, scanIncomplete
			}
			s.pos += end + 1
		case strings.HasPrefix(rest, "</"):
			return s.endTag()
		case len(rest) == 1:
			// A lone '<' at the end is the start of a tag still being written.
			return token{offset: start}, scanIncomplete
		case isNameStart(rest[1]):
			return s.startTag()
		default:
			// '<' that cannot open markup ("a < b") is literal text.
			return s.text(start, 1), scanOK
		}
	}
}

// text reads character data up to the next '<', skipping the first skip bytes.
func (s *scanner) text(start, skip int) token {
	end := strings.IndexByte(s.src[start+skip:], '<')
	if end < 0 {
		end = len(s.src)
	} else {
		end += start + skip
	}
	s.pos = end
	return token{typ: textToken, text: html.UnescapeString(s.src[start:end]), offset: start}
}

func (s *scanner) endTag() (token, scanStatus) {
	src, n := s.src, len(s.src)
	start := s.pos
	j := start + 2
	for j < n && isNameChar(src[j]) {
		j++
	}
	tok := token{typ: endTagToken, name: src[start+2 : j], offset: start}
	for j < n && isSpace(src[j]) {
		j++
	}
	if j >= n {
		return token{offset: start}, scanIncomplete
	}
	if src[j] == '>' && tok.name != "" {
		s.pos = j + 1
		return tok, scanOK
	}
	end := strings.IndexByte(src[j:], '>')
	if end < 0 {
		return token{offset: start}, scanIncomplete
	}
	s.pos = j + end + 1
	return tok, scanInvalid
}

func (s *scanner) startTag() (token, scanStatus) {
	src, n := s.src, len(s.src)
	start := s.pos
	j := start + 1
	for j < n && isNameChar(src[j]) {
		j++
	}
	tok := token{typ: startTagToken, name: src[start+1 : j], offset: start}

	for {
		for j < n && isSpace(src[j]) {
			j++
		}
		if j >= n {
			return token{offset: start}, scanIncomplete
		}
		c := src[j]
		switch {
		case c == '>':
			s.pos = j + 1
			return tok, scanOK
		case c == '/':
			if j+1 >= n {
				return token{offset: start}, scanIncomplete
			}
			if src[j+1] == '>' {
				tok.typ = selfClosingTagToken
				s.pos = j + 2
				return tok, scanOK
			}
			j++
		case isNameStart(c):
			k := j
			for k < n && isNameChar(src[k]) {
				k++
			}
			key := src[j:k]
			j = k
			for j < n && isSpace(src[j]) {
				j++
			}
			if j >= n {
				return token{offset: start}, scanIncomplete
			}
			val := ""
			if src[j] == '=' {
				j++
				for j < n && isSpace(src[j]) {
					j++
				}
				if j >= n {
					return token{offset: start}, scanIncomplete
				}
				if q := src[j]; q == '"' || q == '\'' {
					end := strings.IndexByte(src[j+1:], q)
					if end < 0 {
						return token{offset: start}, scanIncomplete
					}
					val = html.UnescapeString(src[j+1 : j+1+end])
					j += 1 + end + 1
				} else {
					k := j
					for k < n && !isSpace(src[k]) && src[k] != '>' && !(src[k] == '/' && k+1 < n && src[k+1] == '>') {
						k++
					}
					if k >= n {
						return token{offset: start}, scanIncomplete
					}
					val = html.UnescapeString(src[j:k])
					j = k
				}
			}
			if !hasAttr(tok.attrs, key) {
				tok.attrs = append(tok.attrs, html.Attribute{Key: key, Val: val})
			}
		default:
			// Junk between attributes (stray quotes, '=') is skipped.
			j++
		}
	}
}

func hasAttr(attrs []html.Attribute, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == ':' || c >= 0x80
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9' || c == '-' || c == '.'
}
