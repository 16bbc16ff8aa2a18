package templating

import (
	"io"
	"strings"
)

// Template is a parsed template. It is immutable and safe to render from many
// goroutines at once.
type Template struct {
	name  string
	src   string
	nodes []node
}

// Parse parses src into a Template. Parsing never fails: malformed markers are
// kept as literal text.
func Parse(src string) *Template {
	return &Template{src: src, nodes: parse(lex(src))}
}

// ParseNamed is Parse with a name attached, used by the TemplateManager.
func ParseNamed(name, src string) *Template {
	t := Parse(src)
	t.name = name
	return t
}

// Render parses and renders src against ctx in one step.
func Render(src string, ctx Context) string {
	return Parse(src).Render(ctx)
}

// Name returns the name the template was loaded under, if any.
func (t *Template) Name() string { return t.name }

// Source returns the text the template was parsed from.
func (t *Template) Source() string { return t.src }

// Render renders the template against ctx.
func (t *Template) Render(ctx Context) string {
	var sb strings.Builder
	sb.Grow(len(t.src))
	renderNodes(&sb, t.nodes, newScope(ctx), nil)
	return sb.String()
}

// Execute renders the template against ctx and writes the output to w.
// The only error it returns is the one from w.
func (t *Template) Execute(w io.Writer, ctx Context) error {
	_, err := io.WriteString(w, t.Render(ctx))
	return err
}

// Unresolved describes a variable marker that was left in the output.
type Unresolved struct {
	Marker string `json:"marker"`
	Line   int    `json:"line"`
}

// Result is the output of a render together with every variable marker that
// could not be resolved, in output order.
type Result struct {
	Output     string       `json:"output"`
	Unresolved []Unresolved `json:"unresolved"`
}

// RenderResult renders the template and reports unresolved markers.
func (t *Template) RenderResult(ctx Context) Result {
	var sb strings.Builder
	st := &renderState{}
	renderNodes(&sb, t.nodes, newScope(ctx), st)
	return Result{Output: sb.String(), Unresolved: st.unresolved}
}

// renderState collects diagnostics. A nil state collects nothing.
type renderState struct {
	unresolved []Unresolved
}

func (st *renderState) miss(n *varNode) {
	if st != nil {
		st.unresolved = append(st.unresolved, Unresolved{Marker: n.raw, Line: n.line})
	}
}

func renderNodes(sb *strings.Builder, nodes []node, s *scope, st *renderState) {
	for _, n := range nodes {
		n.render(sb, s, st)
	}
}

func (n *textNode) render(sb *strings.Builder, _ *scope, _ *renderState) {
	sb.WriteString(n.text)
}

// Resolution is the outcome of looking up one variable marker.
type Resolution struct {
	Text     string
	Resolved bool
}

// Resolved wraps substituted text.
func Resolved(text string) Resolution { return Resolution{Text: text, Resolved: true} }

// UnresolvedMarker wraps the original marker text of a failed lookup.
func UnresolvedMarker(original string) Resolution { return Resolution{Text: original} }

func (n *varNode) resolve(s *scope) Resolution {
	if n.path == nil {
		return UnresolvedMarker(n.raw)
	}
	v, ok := s.resolvePath(n.path)
	if !ok {
		return UnresolvedMarker(n.raw)
	}
	return Resolved(Display(v))
}

func (n *varNode) render(sb *strings.Builder, s *scope, st *renderState) {
	res := n.resolve(s)
	if !res.Resolved {
		st.miss(n)
	}
	sb.WriteString(res.Text)
}

func (n *forNode) render(sb *strings.Builder, s *scope, st *renderState) {
	v, ok := s.resolvePath(n.collection)
	if !ok {
		return
	}
	items, ok := sequence(v)
	if !ok {
		return
	}
	for _, item := range items {
		renderNodes(sb, n.body, s.with(n.item, item), st)
	}
}

func (n *ifNode) render(sb *strings.Builder, s *scope, st *renderState) {
	v, ok := s.resolvePath(n.condition)
	if !ok || !Truthy(v) {
		return
	}
	renderNodes(sb, n.body, s, st)
}
