// Package pages turns registered pages into complete HTML documents.
//
// A page is rendered from its template and data, optionally sanitised, and
// then placed into a layout template together with the navigation menu and
// the page's scripts. The layout is itself a Drosera template; the page body
// is substituted as a variable, so markers inside page content are never
// expanded a second time.
package pages

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/CTAG07/Drosera/pkg/pagedata"
	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultLayout is used when no layout template is configured.
const DefaultLayout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{ title }} - {{ app_title }}</title>
{% for s in scripts %}<script data-src="{{ s.path }}">{{ s.content }}</script>
{% endfor %}</head>
<body>
<header><h1>{{ app_title }}</h1></header>
<nav>
<h2>Menu</h2>
<ul>
{% for item in menu %}<li{% if item.active %} class="active"{% endif %}><a href="{{ item.href }}">{% if item.icon %}{{ item.icon }} {% endif %}{{ item.title }}</a></li>
{% endfor %}</ul>
</nav>
<main>
{{ content }}
</main>
<footer>&copy; {{ year }} {{ app_title }}</footer>
</body>
</html>
`

var defaultLayout = templating.ParseNamed("default layout", DefaultLayout)

var (
	sanitizerOnce sync.Once
	sanitizer     *bluemonday.Policy
)

func contentSanitizer() *bluemonday.Policy {
	sanitizerOnce.Do(func() {
		sanitizer = bluemonday.UGCPolicy()
	})
	return sanitizer
}

// Assembled is a rendered page before it is placed into the layout.
type Assembled struct {
	Page       Page
	Body       string
	Scripts    []Script
	Unresolved []templating.Unresolved
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithLayout renders pages into the named layout template instead of DefaultLayout.
func WithLayout(name string) ComposerOption {
	return func(c *Composer) { c.layout = name }
}

// WithAppTitle sets the application title shown by the layout.
func WithAppTitle(title string) ComposerOption {
	return func(c *Composer) { c.appTitle = title }
}

// Composer renders registered pages.
type Composer struct {
	logger    *slog.Logger
	registry  *Registry
	templates *templating.TemplateManager
	data      *pagedata.Store
	scripts   *ScriptLoader
	now       func() time.Time

	mu       sync.RWMutex
	layout   string
	appTitle string
}

// NewComposer creates a Composer. scripts may be nil, in which case pages are
// rendered without scripts.
func NewComposer(logger *slog.Logger, registry *Registry, templates *templating.TemplateManager, data *pagedata.Store, scripts *ScriptLoader, opts ...ComposerOption) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Composer{
		logger:    logger,
		registry:  registry,
		templates: templates,
		data:      data,
		scripts:   scripts,
		appTitle:  "Drosera",
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Registry returns the page registry the composer serves.
func (c *Composer) Registry() *Registry { return c.registry }

// SetLayout switches to the named layout template. An empty name selects
// DefaultLayout.
func (c *Composer) SetLayout(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layout = name
}

// SetAppTitle changes the application title shown by the layout.
func (c *Composer) SetAppTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appTitle = title
}

// Compose renders the body of the named page and loads its scripts.
// A page without a data file renders against an empty context; a data file
// that exists but cannot be decoded is an error.
func (c *Composer) Compose(name string) (*Assembled, error) {
	page, ok := c.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, name)
	}

	ctx, err := c.data.Load(name)
	if errors.Is(err, pagedata.ErrNotFound) {
		ctx = templating.Context{}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load data for page %s: %w", name, err)
	}

	tmpl, err := c.templates.Get(page.TemplateName())
	if err != nil {
		return nil, fmt.Errorf("failed to load template for page %s: %w", name, err)
	}
	res := tmpl.RenderResult(ctx)
	if len(res.Unresolved) > 0 {
		c.logger.Debug("Page rendered with unresolved markers", "page", name, "count", len(res.Unresolved))
	}

	body := res.Output
	if page.Sanitize {
		body = contentSanitizer().Sanitize(body)
	}

	scripts, err := c.loadScripts(page)
	if err != nil {
		return nil, err
	}

	return &Assembled{
		Page:       page,
		Body:       body,
		Scripts:    scripts,
		Unresolved: res.Unresolved,
	}, nil
}

func (c *Composer) loadScripts(page Page) ([]Script, error) {
	if c.scripts == nil {
		return nil, nil
	}
	paths, explicit := page.ScriptPaths()
	var scripts []Script
	for _, p := range paths {
		s, err := c.scripts.Load(p)
		if errors.Is(err, ErrScriptNotFound) && !explicit {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load script for page %s: %w", page.Name, err)
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Render composes the named page, places it into the layout and writes the
// document to w. Values in extra are visible to the layout but cannot replace
// the layout's own variables.
func (c *Composer) Render(w io.Writer, name string, extra templating.Context) error {
	a, err := c.Compose(name)
	if err != nil {
		return err
	}

	c.mu.RLock()
	layoutName, appTitle := c.layout, c.appTitle
	c.mu.RUnlock()

	layout := defaultLayout
	if layoutName != "" {
		layout, err = c.templates.Get(layoutName)
		if err != nil {
			return fmt.Errorf("failed to load layout: %w", err)
		}
	}

	menu := c.registry.Menu(name)
	menuValues := make([]any, len(menu))
	for i, m := range menu {
		menuValues[i] = m.Context()
	}
	scriptValues := make([]any, len(a.Scripts))
	for i, s := range a.Scripts {
		scriptValues[i] = templating.Context{"path": s.Path, "content": s.Content}
	}

	ctx := extra.With("content", a.Body)
	ctx["app_title"] = appTitle
	ctx["title"] = a.Page.DisplayTitle()
	ctx["page"] = a.Page.Name
	ctx["menu"] = menuValues
	ctx["scripts"] = scriptValues
	ctx["year"] = c.now().Year()

	return layout.Execute(w, ctx)
}
