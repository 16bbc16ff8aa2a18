package templating

import (
	"fmt"
	"strings"
	"unicode"
)

// node is one element of a parsed template.
type node interface {
	render(sb *strings.Builder, s *scope, st *renderState)
	String() string
}

type textNode struct {
	text string
}

func (n *textNode) String() string { return fmt.Sprintf("Text(%q)", n.text) }

type varNode struct {
	raw  string
	path []string // nil when the marker is not a well-formed path
	line int
}

func (n *varNode) String() string { return fmt.Sprintf("Var(%s)", strings.Join(n.path, ".")) }

type forNode struct {
	item       string
	collection []string
	body       []node
}

func (n *forNode) String() string {
	return fmt.Sprintf("For(%s in %s)", n.item, strings.Join(n.collection, "."))
}

type ifNode struct {
	condition []string
	body      []node
}

func (n *ifNode) String() string { return fmt.Sprintf("If(%s)", strings.Join(n.condition, ".")) }

type blockKind int

const (
	blockFor blockKind = iota + 1
	blockIf
)

// tag is the decoded meaning of a {% ... %} token.
type tag struct {
	kind  blockKind
	close bool
	item  string
	path  []string
}

// parseTag recognises the four block tags. Anything else is reported as not
// ok and stays literal text.
func parseTag(body string) (tag, bool) {
	fields := strings.Fields(body)
	switch {
	case len(fields) == 4 && fields[0] == "for" && fields[2] == "in":
		path, ok := splitPath(fields[3])
		if !ok || !isIdentifier(fields[1]) {
			return tag{}, false
		}
		return tag{kind: blockFor, item: fields[1], path: path}, true
	case len(fields) == 2 && fields[0] == "if":
		path, ok := splitPath(fields[1])
		if !ok {
			return tag{}, false
		}
		return tag{kind: blockIf, path: path}, true
	case len(fields) == 1 && fields[0] == "endfor":
		return tag{kind: blockFor, close: true}, true
	case len(fields) == 1 && fields[0] == "endif":
		return tag{kind: blockIf, close: true}, true
	}
	return tag{}, false
}

func splitPath(s string) ([]string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// frame is an open block waiting for its closing tag.
type frame struct {
	kind  blockKind
	open  token
	tag   tag
	nodes []node
}

// parse builds the node tree. Blocks pair by nesting depth: a closing tag
// closes the innermost open block of its kind. Blocks left open above it, and
// blocks still open at the end of input, are unwound: the opening tag becomes
// literal text and its content is kept as ordinary siblings.
func parse(tokens []token) []node {
	root := &frame{}
	stack := []*frame{root}

	top := func() *frame { return stack[len(stack)-1] }
	appendNode := func(n node) { top().nodes = append(top().nodes, n) }
	unwind := func() {
		f := top()
		stack = stack[:len(stack)-1]
		appendNode(&textNode{text: f.open.raw})
		top().nodes = append(top().nodes, f.nodes...)
	}

	for _, tok := range tokens {
		switch tok.typ {
		case tokenText:
			appendNode(&textNode{text: tok.raw})
		case tokenVariable:
			path, ok := splitPath(tok.body)
			if !ok {
				path = nil
			}
			appendNode(&varNode{raw: tok.raw, path: path, line: tok.line})
		case tokenTag:
			t, ok := parseTag(tok.body)
			if !ok {
				appendNode(&textNode{text: tok.raw})
				continue
			}
			if !t.close {
				stack = append(stack, &frame{kind: t.kind, open: tok, tag: t})
				continue
			}
			depth := -1
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].kind == t.kind {
					depth = i
					break
				}
			}
			if depth < 0 {
				appendNode(&textNode{text: tok.raw})
				continue
			}
			for len(stack)-1 > depth {
				unwind()
			}
			f := top()
			stack = stack[:len(stack)-1]
			switch f.kind {
			case blockFor:
				appendNode(&forNode{item: f.tag.item, collection: f.tag.path, body: f.nodes})
			case blockIf:
				appendNode(&ifNode{condition: f.tag.path, body: f.nodes})
			}
		}
	}
	for len(stack) > 1 {
		unwind()
	}
	return root.nodes
}
