package guard

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokString
	tokNumber
	tokPlaceholder
	tokPunct
)

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

func (t token) lower() string {
	return strings.ToLower(t.text)
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && strings.EqualFold(t.text, text)
}

func (t token) isWord(word string) bool {
	return t.is(tokWord, word)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

type lexError struct {
	what   string
	pos    int
	reason Reason
}

func (e *lexError) Error() string {
	if e.reason == ReasonUnsupportedSyntax {
		return fmt.Sprintf("%s at offset %d", e.what, e.pos)
	}
	return fmt.Sprintf("unterminated %s at offset %d", e.what, e.pos)
}

func unsupported(what string, pos int) *lexError {
	return &lexError{what: what, pos: pos, reason: ReasonUnsupportedSyntax}
}

// lex splits SQL text into tokens. Comments are dropped. Quoted identifiers
// keep their unescaped name in text; string literals keep their raw span.
//
// Anything the supported engines would tokenize differently is an error:
// bracket and brace quoting, nested block comments, a carriage return that
// does not end a line comment, and non-ASCII text outside literals.
func lex(input string) ([]token, error) {
	tokens := make([]token, 0, 32)
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && strings.HasPrefix(input[i:], "--"):
			end, err := lineCommentEnd(input, i)
			if err != nil {
				return nil, err
			}
			i = end
		case c == '/' && strings.HasPrefix(input[i:], "/*"):
			end := strings.Index(input[i+2:], "*/")
			if end < 0 {
				return nil, &lexError{what: "comment", pos: i}
			}
			if nested := strings.Index(input[i+2:i+2+end], "/*"); nested >= 0 {
				return nil, unsupported("nested block comment", i+2+nested)
			}
			i += 2 + end + 2
		case c == '\'':
			end, err := scanQuoted(input, i, '\'')
			if err != nil {
				return nil, &lexError{what: "string literal", pos: i}
			}
			tokens = append(tokens, token{kind: tokString, text: input[i:end], start: i, end: end})
			i = end
		case c == '"' || c == '`':
			end, err := scanQuoted(input, i, c)
			if err != nil {
				return nil, &lexError{what: "quoted identifier", pos: i}
			}
			doubled := string([]byte{c, c})
			name := strings.ReplaceAll(input[i+1:end-1], doubled, string(c))
			tokens = append(tokens, token{kind: tokQuoted, text: name, start: i, end: end})
			i = end
		case c == '[' || c == ']' || c == '{' || c == '}':
			return nil, unsupported(fmt.Sprintf("%q", c), i)
		case c == '?':
			tokens = append(tokens, token{kind: tokPlaceholder, text: "?", start: i, end: i + 1})
			i++
		case c == '$':
			end := i + 1
			for end < len(input) && isWordByte(input[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokPlaceholder, text: input[i:end], start: i, end: end})
			i = end
		case (c == ':' || c == '@') && i+1 < len(input) && isWordStartByte(input[i+1]) && !(c == ':' && i > 0 && input[i-1] == ':'):
			end := i + 1
			for end < len(input) && isWordByte(input[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokPlaceholder, text: input[i:end], start: i, end: end})
			i = end
		case isDigitByte(c):
			end := i
			for end < len(input) && (isDigitByte(input[end]) || input[end] == '.' || input[end] == '_') {
				end++
			}
			if end < len(input) && (input[end] == 'e' || input[end] == 'E') {
				next := end + 1
				if next < len(input) && (input[next] == '+' || input[next] == '-') {
					next++
				}
				if next < len(input) && isDigitByte(input[next]) {
					end = next
					for end < len(input) && isDigitByte(input[end]) {
						end++
					}
				}
			}
			tokens = append(tokens, token{kind: tokNumber, text: input[i:end], start: i, end: end})
			i = end
		case isWordStartByte(c):
			end := i + 1
			for end < len(input) && isWordByte(input[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokWord, text: input[i:end], start: i, end: end})
			i = end
		case c >= utf8.RuneSelf || c < ' ' || c == 0x7f:
			return nil, unsupported("character outside a literal", i)
		default:
			tokens = append(tokens, token{kind: tokPunct, text: input[i : i+1], start: i, end: i + 1})
			i++
		}
	}
	return tokens, nil
}

// lineCommentEnd returns the offset just past the newline that ends the line
// comment at start. Postgres and DuckDB also end it at a carriage return and
// SQLite does not, so a carriage return must be followed by the newline.
func lineCommentEnd(input string, start int) (int, error) {
	for i := start + 2; i < len(input); i++ {
		switch input[i] {
		case '\n':
			return i + 1, nil
		case '\r':
			if i+1 < len(input) && input[i+1] == '\n' {
				return i + 2, nil
			}
			if i+1 < len(input) {
				return 0, unsupported("carriage return inside line comment", i)
			}
			return len(input), nil
		}
	}
	return len(input), nil
}

// scanQuoted returns the offset just past the closing quote. A doubled
// quote inside the literal is an escaped quote.
func scanQuoted(input string, start int, quote byte) (int, error) {
	i := start + 1
	for i < len(input) {
		if input[i] == quote {
			if i+1 < len(input) && input[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated")
}

func isDigitByte(b byte) bool {
	return b >= '0' && b <= '9'
}

func isWordStartByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isWordByte(b byte) bool {
	return isWordStartByte(b) || isDigitByte(b)
}
