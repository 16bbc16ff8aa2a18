package templating

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Context is the value tree a template is rendered against. Values are
// scalars (strings, booleans, numbers, nil), nested mappings with string keys,
// or sequences (slices and arrays). A Context must not be modified while a
// render that uses it is in progress.
type Context map[string]any

// With returns a copy of c with name bound to value. c itself is unchanged.
func (c Context) With(name string, value any) Context {
	out := make(Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[name] = value
	return out
}

// scope is the lookup chain used while evaluating a template. Each loop
// iteration pushes one binding on top of its parent, so shadowing lasts for
// exactly that iteration and the enclosing scope is never touched.
type scope struct {
	parent *scope
	name   string
	value  any
	root   Context
}

func newScope(ctx Context) *scope {
	return &scope{root: ctx}
}

func (s *scope) with(name string, value any) *scope {
	return &scope{parent: s, name: name, value: value}
}

func (s *scope) get(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.parent == nil {
			v, ok := cur.root[name]
			return v, ok
		}
		if cur.name == name {
			return cur.value, true
		}
	}
	return nil, false
}

// resolvePath walks a dotted path: field segments descend into mappings,
// non-negative integer segments index sequences.
func (s *scope) resolvePath(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur, ok := s.get(path[0])
	if !ok {
		return nil, false
	}
	for _, seg := range path[1:] {
		cur, ok = descend(cur, seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func descend(v any, seg string) (any, bool) {
	switch t := v.(type) {
	case Context:
		child, ok := t[seg]
		return child, ok
	case map[string]any:
		child, ok := t[seg]
		return child, ok
	case []any:
		i, ok := parseIndex(seg)
		if !ok || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		child := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !child.IsValid() {
			return nil, false
		}
		return child.Interface(), true
	case reflect.Slice, reflect.Array:
		i, ok := parseIndex(seg)
		if !ok || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

// parseIndex accepts only plain decimal digits, so "-1" and "+1" are field
// names rather than indices.
func parseIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return i, true
}

// sequence returns the elements of v when v is a slice or array. Strings and
// byte slices are not sequences.
func sequence(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case string, []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Truthy reports whether v counts as true for a conditional block.
// nil, false, "", numeric zero, empty sequences and empty mappings are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case Context:
		return len(t) > 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return Truthy(rv.Elem().Interface())
	}
	return true
}

// Display returns the text a variable marker is replaced with.
func Display(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.String:
		return rv.String()
	case reflect.Slice, reflect.Array, reflect.Map:
		return compactJSON(v)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return Display(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

func compactJSON(v any) string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
