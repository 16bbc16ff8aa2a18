package templating

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
)

var (
	// ErrTemplateNotFound is returned when no template exists under a name.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrInvalidName is returned for names that are empty, escape the template
	// root, or are written without matching TemplateConfig.Pattern.
	ErrInvalidName = errors.New("invalid template name")
	// ErrTemplateTooLarge is returned for files above TemplateConfig.MaxTemplateBytes.
	ErrTemplateTooLarge = errors.New("template file too large")
	// ErrReadOnly is returned when writing to a manager that was not created on a directory.
	ErrReadOnly = errors.New("template store is read-only")
)

// TemplateManager loads templates by name from a filesystem root and keeps
// the parsed results in a cache. Names are slash separated paths relative to
// the root, e.g. "home/home_template.html".
// All methods are concurrent-safe.
type TemplateManager struct {
	logger      *slog.Logger
	config      *TemplateConfig
	fsys        fs.FS
	templateDir string
	templates   map[string]*Template
	allowed     map[string]bool
	mu          sync.RWMutex
}

// NewTemplateManager creates a TemplateManager reading from templateDir on
// disk and performs an initial Refresh. The directory must exist.
func NewTemplateManager(logger *slog.Logger, config *TemplateConfig, templateDir string) (*TemplateManager, error) {
	info, err := os.Stat(templateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open template directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template path %q is not a directory", templateDir)
	}
	tm, err := NewTemplateManagerFS(logger, config, os.DirFS(templateDir))
	if err != nil {
		return nil, err
	}
	tm.templateDir = templateDir
	return tm, nil
}

// NewTemplateManagerFS creates a read-only TemplateManager over fsys.
func NewTemplateManagerFS(logger *slog.Logger, config *TemplateConfig, fsys fs.FS) (*TemplateManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultConfig()
	}
	tm := &TemplateManager{
		logger:    logger,
		config:    config,
		fsys:      fsys,
		templates: map[string]*Template{},
	}
	if err := tm.Refresh(); err != nil {
		return nil, err
	}
	logger.Info("Template manager initialized")
	return tm, nil
}

// Refresh drops the cache and parses every file under the root whose name
// matches TemplateConfig.Pattern. Oversized files are skipped with a warning.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	pattern := tm.config.Pattern
	if pattern == "" {
		pattern = DefaultConfig().Pattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid template pattern %q: %w", pattern, err)
	}
	tm.logger.Info("Loading template files...", "pattern", pattern)

	parsed := map[string]*Template{}
	err := fs.WalkDir(tm.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := path.Match(pattern, d.Name()); !ok {
			return nil
		}
		t, err := tm.load(p, tm.config.MaxTemplateBytes)
		if errors.Is(err, ErrTemplateTooLarge) {
			tm.logger.Warn("Skipping oversized template", "template", p, "limit", tm.config.MaxTemplateBytes)
			return nil
		}
		if err != nil {
			return err
		}
		parsed[p] = t
		return nil
	})
	if err != nil {
		tm.logger.Error("failed to load template files", "error", err)
		return err
	}
	if len(parsed) == 0 {
		tm.logger.Warn("No template files found matching pattern", "pattern", pattern)
	}

	tm.templates = parsed
	tm.logger.Info("Loaded template files", "count", len(parsed))
	return nil
}

// load reads and parses one file. It does not touch the cache.
func (tm *TemplateManager) load(name string, limit int64) (*Template, error) {
	info, err := fs.Stat(tm.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("failed to stat template %s: %w", name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTemplateTooLarge, name, info.Size())
	}
	content, err := fs.ReadFile(tm.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return ParseNamed(name, string(content)), nil
}

func validName(name string) bool {
	return name != "" && name != "." && fs.ValidPath(name)
}

// Get returns the parsed template stored under name, reading it from the root
// on a cache miss.
func (tm *TemplateManager) Get(name string) (*Template, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	tm.mu.RLock()
	t, ok := tm.templates[name]
	caching := tm.config.CacheTemplates
	limit := tm.config.MaxTemplateBytes
	tm.mu.RUnlock()
	if ok && caching {
		return t, nil
	}

	t, err := tm.load(name, limit)
	if err != nil {
		return nil, err
	}
	if caching {
		tm.mu.Lock()
		tm.templates[name] = t
		tm.mu.Unlock()
		tm.logger.Debug("Cached template", "template", name)
	}
	return t, nil
}

// Execute renders the template stored under name with ctx and writes the
// result to w.
func (tm *TemplateManager) Execute(w io.Writer, name string, ctx Context) error {
	t, err := tm.Get(name)
	if err != nil {
		return err
	}
	return t.Execute(w, ctx)
}

// RenderNamed renders the template stored under name with ctx.
func (tm *TemplateManager) RenderNamed(name string, ctx Context) (string, error) {
	t, err := tm.Get(name)
	if err != nil {
		return "", err
	}
	return t.Render(ctx), nil
}

// ExecuteTemplateString renders a raw template string with ctx. This is ideal
// for previewing a template without saving it.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, ctx Context) error {
	return Parse(content).Execute(w, ctx)
}

// AllowNames replaces the set of names that SaveTemplate and DeleteTemplate
// accept even though their file name does not match TemplateConfig.Pattern.
func (tm *TemplateManager) AllowNames(names ...string) {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		if n != "" {
			allowed[n] = true
		}
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.allowed = allowed
}

// SaveTemplate atomically writes content under name and drops any cached copy.
// Only names whose file name matches TemplateConfig.Pattern, or that were
// passed to AllowNames, can be written.
func (tm *TemplateManager) SaveTemplate(name, content string) error {
	target, err := tm.diskPath(name)
	if err != nil {
		return err
	}
	if limit := tm.GetConfig().MaxTemplateBytes; limit > 0 && int64(len(content)) > limit {
		return fmt.Errorf("%w: %d bytes", ErrTemplateTooLarge, len(content))
	}
	if err = os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create template directory: %w", err)
	}
	if err = atomic.WriteFile(target, bytes.NewReader([]byte(content))); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}
	tm.mu.Lock()
	if tm.config.CacheTemplates {
		tm.templates[name] = ParseNamed(name, content)
	} else {
		delete(tm.templates, name)
	}
	tm.mu.Unlock()
	tm.logger.Info("Template saved", "template", name)
	return nil
}

// DeleteTemplate removes the file stored under name and drops any cached copy.
func (tm *TemplateManager) DeleteTemplate(name string) error {
	target, err := tm.diskPath(name)
	if err != nil {
		return err
	}
	if err = os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return fmt.Errorf("failed to delete template file: %w", err)
	}
	tm.Invalidate(name)
	tm.logger.Info("Template deleted", "template", name)
	return nil
}

func (tm *TemplateManager) diskPath(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	tm.mu.RLock()
	dir := tm.templateDir
	pattern := tm.config.Pattern
	allowed := tm.allowed[name]
	tm.mu.RUnlock()

	if dir == "" {
		return "", ErrReadOnly
	}
	if pattern == "" {
		pattern = DefaultConfig().Pattern
	}
	if ok, _ := path.Match(pattern, path.Base(name)); !ok && !allowed {
		return "", fmt.Errorf("%w: %q does not match %q", ErrInvalidName, name, pattern)
	}
	return filepath.Join(dir, filepath.FromSlash(name)), nil
}

// Invalidate drops the cached copy of one template.
func (tm *TemplateManager) Invalidate(name string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.templates, name)
}

// Clear drops every cached template. The next Get of each name reads it again.
func (tm *TemplateManager) Clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.templates = map[string]*Template{}
}

// SetConfig applies a new configuration. Turning caching off clears the cache.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = config
	if !config.CacheTemplates {
		tm.templates = map[string]*Template{}
	}
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetTemplateNames returns the sorted names of the cached templates.
func (tm *TemplateManager) GetTemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	names := make([]string, 0, len(tm.templates))
	for name := range tm.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetTemplateDir returns the directory the manager reads from, or "" when it
// was created over an fs.FS.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}
