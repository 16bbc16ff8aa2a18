package pages

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/CTAG07/Drosera/pkg/templating"
)

var (
	// ErrPageNotFound is returned for names that were never registered.
	ErrPageNotFound = errors.New("page not found")
	// ErrDuplicatePage is returned when a name is registered twice.
	ErrDuplicatePage = errors.New("page already registered")
	// ErrInvalidPage is returned for page names that cannot be used as a directory name.
	ErrInvalidPage = errors.New("invalid page name")
)

// Page describes one page of the site. Only Name is required; everything
// else falls back to the conventional layout <name>/<name>_template.html and
// <name>/<name>_handler.js.
type Page struct {
	Name     string   `json:"name"`
	Title    string   `json:"title,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Template string   `json:"template,omitempty"`
	Scripts  []string `json:"scripts,omitempty"`
	Sanitize bool     `json:"sanitize,omitempty"`
}

// TemplateName returns the template the page is rendered from.
func (p Page) TemplateName() string {
	if p.Template != "" {
		return p.Template
	}
	return p.Name + "/" + p.Name + "_template.html"
}

// ScriptPaths returns the scripts to load for the page and whether they were
// listed explicitly. A missing default script is not an error.
func (p Page) ScriptPaths() ([]string, bool) {
	if len(p.Scripts) > 0 {
		return p.Scripts, true
	}
	return []string{p.Name + "/" + p.Name + "_handler.js"}, false
}

// DisplayTitle returns Title, or the name with its first letter upper-cased.
func (p Page) DisplayTitle() string {
	if p.Title != "" {
		return p.Title
	}
	r, size := utf8.DecodeRuneInString(p.Name)
	return string(unicode.ToUpper(r)) + p.Name[size:]
}

// MenuItem is one entry of the navigation menu.
type MenuItem struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
	Href   string `json:"href"`
	Active bool   `json:"active"`
}

// Context returns the item as a template value.
func (m MenuItem) Context() templating.Context {
	return templating.Context{
		"name":   m.Name,
		"title":  m.Title,
		"icon":   m.Icon,
		"href":   m.Href,
		"active": m.Active,
	}
}

// Registry holds the registered pages in menu order.
// All methods are concurrent-safe.
type Registry struct {
	pages []Page
	index map[string]int
	mu    sync.RWMutex
}

// NewRegistry creates a Registry and registers pages in order.
func NewRegistry(pages ...Page) (*Registry, error) {
	r := &Registry{index: map[string]int{}}
	for _, p := range pages {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends p to the menu.
func (r *Registry) Register(p Page) error {
	if p.Name == "" || p.Name == "." || p.Name == ".." || strings.ContainsAny(p.Name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPage, p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePage, p.Name)
	}
	r.index[p.Name] = len(r.pages)
	r.pages = append(r.pages, p)
	return nil
}

// Replace swaps the registered pages for pages, keeping the current set when
// any of them is rejected.
func (r *Registry) Replace(pages ...Page) error {
	next, err := NewRegistry(pages...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages, r.index = next.pages, next.index
	return nil
}

// Get returns the page registered under name.
func (r *Registry) Get(name string) (Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return Page{}, false
	}
	return r.pages[i], true
}

// Pages returns a copy of the registered pages in menu order.
func (r *Registry) Pages() []Page {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Page, len(r.pages))
	copy(out, r.pages)
	return out
}

// Menu returns the navigation menu with the active page marked.
func (r *Registry) Menu(active string) []MenuItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]MenuItem, 0, len(r.pages))
	for _, p := range r.pages {
		items = append(items, MenuItem{
			Name:   p.Name,
			Title:  p.DisplayTitle(),
			Icon:   p.Icon,
			Href:   "/pages/" + p.Name,
			Active: p.Name == active,
		})
	}
	return items
}
