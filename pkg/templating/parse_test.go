package templating

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLex(t *testing.T) {
	type tok struct {
		Typ  tokenType
		Raw  string
		Line int
	}
	tests := []struct {
		name string
		in   string
		want []tok
	}{
		{"Empty", "", nil},
		{"TextOnly", "abc", []tok{{tokenText, "abc", 1}}},
		{
			"Mixed",
			"a{{ x }}\n{% if y %}b",
			[]tok{
				{tokenText, "a", 1},
				{tokenVariable, "{{ x }}", 1},
				{tokenText, "\n", 1},
				{tokenTag, "{% if y %}", 2},
				{tokenText, "b", 2},
			},
		},
		{"UnclosedVariable", "a{{ x", []tok{{tokenText, "a", 1}, {tokenText, "{{", 1}, {tokenText, " x", 1}}},
		{
			"OpenerInsideVariable",
			"{{ a\n{% if b %}",
			[]tok{
				{tokenText, "{{", 1},
				{tokenText, " a\n", 1},
				{tokenTag, "{% if b %}", 2},
			},
		},
		{"BlankVariableIsText", "{{  }}", []tok{{tokenText, "{{  }}", 1}}},
		{"TagBeforeVariable", "{%x%}{{y}}", []tok{{tokenTag, "{%x%}", 1}, {tokenVariable, "{{y}}", 1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got []tok
			for _, tk := range lex(tc.in) {
				got = append(got, tok{tk.typ, tk.raw, tk.line})
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("lex(%q) mismatch (-want +got):\n%s", tc.in, diff)
			}
		})
	}
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		body string
		ok   bool
		want tag
	}{
		{" for item in items ", true, tag{kind: blockFor, item: "item", path: []string{"items"}}},
		{"for r in site.rows", true, tag{kind: blockFor, item: "r", path: []string{"site", "rows"}}},
		{"if flag", true, tag{kind: blockIf, path: []string{"flag"}}},
		{"endfor", true, tag{kind: blockFor, close: true}},
		{" endif ", true, tag{kind: blockIf, close: true}},
		{"for x on items", false, tag{}},
		{"for x in", false, tag{}},
		{"if", false, tag{}},
		{"if a b", false, tag{}},
		{"else", false, tag{}},
		{"if a.", false, tag{}},
	}
	for _, tc := range tests {
		got, ok := parseTag(tc.body)
		if ok != tc.ok {
			t.Errorf("parseTag(%q) ok = %v, want %v", tc.body, ok, tc.ok)
			continue
		}
		if diff := cmp.Diff(tc.want, got, cmp.AllowUnexported(tag{})); diff != "" {
			t.Errorf("parseTag(%q) mismatch (-want +got):\n%s", tc.body, diff)
		}
	}
}

func TestParse_Structure(t *testing.T) {
	nodes := parse(lex("<ul>{% for x in xs %}{% if x.on %}<li>{{ x.name }}</li>{% endif %}{% endfor %}</ul>"))
	if len(nodes) != 3 {
		t.Fatalf("expected 3 top-level nodes, got %d: %v", len(nodes), nodes)
	}
	loop, ok := nodes[1].(*forNode)
	if !ok {
		t.Fatalf("expected a for node, got %s", nodes[1])
	}
	if loop.String() != "For(x in xs)" {
		t.Errorf("unexpected loop %s", loop)
	}
	if len(loop.body) != 1 {
		t.Fatalf("expected loop body of 1 node, got %v", loop.body)
	}
	cond, ok := loop.body[0].(*ifNode)
	if !ok {
		t.Fatalf("expected an if node inside the loop, got %s", loop.body[0])
	}
	if cond.String() != "If(x.on)" || len(cond.body) != 3 {
		t.Errorf("unexpected conditional %s with body %v", cond, cond.body)
	}
}

func TestParse_NestedSameKind(t *testing.T) {
	nodes := parse(lex("{% for a in as %}{% for b in bs %}{{b}}{% endfor %}|{% endfor %}"))
	if len(nodes) != 1 {
		t.Fatalf("expected a single outer loop, got %v", nodes)
	}
	outer := nodes[0].(*forNode)
	if len(outer.body) != 2 {
		t.Fatalf("expected inner loop and text in outer body, got %v", outer.body)
	}
	if _, ok := outer.body[0].(*forNode); !ok {
		t.Errorf("expected inner loop first, got %s", outer.body[0])
	}
}
