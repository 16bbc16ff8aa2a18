package templating

import (
	"strings"
)

const (
	varOpen  = "{{"
	varClose = "}}"
	tagOpen  = "{%"
	tagClose = "%}"
)

type tokenType int

const (
	tokenText tokenType = iota
	tokenVariable
	tokenTag
)

// token is one lexical piece of a template. raw always holds the exact source
// text, so any token can be written back out unchanged.
type token struct {
	typ  tokenType
	raw  string
	body string // text between the delimiters, for variables and tags
	line int
}

// lex splits src into text, variable and tag tokens in a single left to right
// pass. An opening delimiter with no closer, or whose body would contain
// another opening delimiter, is emitted as text on its own and scanning
// resumes right after it.
func lex(src string) []token {
	var tokens []token
	pos, line := 0, 1

	emitText := func(end int) {
		if end > pos {
			tokens = append(tokens, token{typ: tokenText, raw: src[pos:end], line: line})
			line += strings.Count(src[pos:end], "\n")
		}
		pos = end
	}

	for pos < len(src) {
		start, typ := nextOpen(src, pos)
		if start < 0 {
			break
		}
		emitText(start)

		open, closer := varOpen, varClose
		if typ == tokenTag {
			open, closer = tagOpen, tagClose
		}
		end := strings.Index(src[start+len(open):], closer)
		if end < 0 || nested(src[start+len(open):start+len(open)+end]) {
			tokens = append(tokens, token{typ: tokenText, raw: open, line: line})
			pos = start + len(open)
			continue
		}
		end += start + len(open)
		raw := src[start : end+len(closer)]
		body := src[start+len(open) : end]

		if typ == tokenVariable && strings.TrimSpace(body) == "" {
			typ = tokenText
		}
		tokens = append(tokens, token{typ: typ, raw: raw, body: body, line: line})
		line += strings.Count(raw, "\n")
		pos = end + len(closer)
	}
	emitText(len(src))
	return tokens
}

func nested(body string) bool {
	return strings.Contains(body, varOpen) || strings.Contains(body, tagOpen)
}

// nextOpen finds the earliest "{{" or "{%" at or after pos.
func nextOpen(src string, pos int) (int, tokenType) {
	v := strings.Index(src[pos:], varOpen)
	t := strings.Index(src[pos:], tagOpen)
	switch {
	case v < 0 && t < 0:
		return -1, tokenText
	case t < 0 || (v >= 0 && v < t):
		return pos + v, tokenVariable
	default:
		return pos + t, tokenTag
	}
}
