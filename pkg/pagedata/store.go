// Package pagedata loads and saves the value context of each page.
//
// Page data lives next to the page template, as <root>/<page>/<page>_data.json
// (YAML with a .yaml or .yml extension is accepted too). Loaded data is
// cached until Invalidate or ClearCache is called, or the page is saved.
package pagedata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when a page has no data file.
	ErrNotFound = errors.New("page data not found")
	// ErrInvalidPage is returned for page names that are empty or contain path elements.
	ErrInvalidPage = errors.New("invalid page name")
	// ErrTooLarge is returned for data files above the store's size limit.
	ErrTooLarge = errors.New("page data file too large")
	// ErrUnsupportedFormat is returned for files that are neither JSON nor YAML.
	ErrUnsupportedFormat = errors.New("unsupported data file format")
)

// MalformedError reports a data file that exists but could not be decoded.
type MalformedError struct {
	Path string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("invalid data in %s: %v", e.Path, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// extensions are tried in order when looking for a page's data file.
var extensions = []string{".json", ".yaml", ".yml"}

// DefaultMaxBytes is the data file size limit used when none is configured.
const DefaultMaxBytes int64 = 4 << 20

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxBytes sets the largest data file the store will read. Zero or less disables the check.
func WithMaxBytes(n int64) Option {
	return func(s *Store) { s.maxBytes = n }
}

// Store loads page data from a directory tree and caches it per page.
// All methods are concurrent-safe.
type Store struct {
	root     string
	logger   *slog.Logger
	maxBytes int64
	cache    map[string]templating.Context
	mu       sync.RWMutex
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		root:     dir,
		logger:   slog.Default(),
		maxBytes: DefaultMaxBytes,
		cache:    map[string]templating.Context{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Root returns the directory the store reads from.
func (s *Store) Root() string { return s.root }

func validPage(page string) bool {
	return page != "" && page != "." && page != ".." && !strings.ContainsAny(page, `/\`)
}

// Load returns the data for page, reading it from disk on a cache miss.
func (s *Store) Load(page string) (templating.Context, error) {
	if !validPage(page) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPage, page)
	}

	s.mu.RLock()
	data, ok := s.cache[page]
	s.mu.RUnlock()
	if ok {
		return data, nil
	}

	path, err := s.find(page)
	if err != nil {
		return nil, err
	}
	data, err = s.LoadFile(path)
	if err != nil {
		s.logger.Warn("Failed to load page data", "page", page, "path", path, "error", err)
		return nil, err
	}

	s.mu.Lock()
	s.cache[page] = data
	s.mu.Unlock()
	s.logger.Debug("Loaded page data", "page", page, "path", path)
	return data, nil
}

// find returns the first existing data file for page.
func (s *Store) find(page string) (string, error) {
	base := filepath.Join(s.root, page, page+"_data")
	for _, ext := range extensions {
		path := base + ext
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, page)
}

// LoadFile reads a JSON or YAML file from any path, chosen by extension.
// The result is not cached.
func (s *Store) LoadFile(path string) (templating.Context, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if s.maxBytes > 0 && info.Size() > s.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if ext == ".json" {
		return decodeJSON(path, raw)
	}
	return decodeYAML(path, raw)
}

func decodeJSON(path string, raw []byte) (templating.Context, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &MalformedError{Path: path, Err: err}
	}
	if data == nil {
		data = map[string]any{}
	}
	return templating.Context(data), nil
}

func decodeYAML(path string, raw []byte) (templating.Context, error) {
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, &MalformedError{Path: path, Err: err}
	}
	if data == nil {
		data = map[string]any{}
	}
	return templating.Context(data), nil
}

// Save writes data as the page's JSON data file and replaces the cached copy.
// The file is written atomically with two-space indentation; HTML characters
// and non-ASCII text are kept as-is.
func (s *Store) Save(page string, data templating.Context) error {
	if !validPage(page) {
		return fmt.Errorf("%w: %q", ErrInvalidPage, page)
	}
	if data == nil {
		data = templating.Context{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any(data)); err != nil {
		return fmt.Errorf("failed to encode page data: %w", err)
	}

	dir := filepath.Join(s.root, page)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create page directory: %w", err)
	}
	path := filepath.Join(dir, page+"_data.json")
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write page data: %w", err)
	}

	s.mu.Lock()
	s.cache[page] = data
	s.mu.Unlock()
	s.logger.Info("Saved page data", "page", page, "path", path)
	return nil
}

// Available returns the sorted names of pages that have a data file.
func (s *Store) Available() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	pages := []string{}
	for _, e := range entries {
		if !e.IsDir() || !validPage(e.Name()) {
			continue
		}
		if _, err = s.find(e.Name()); err == nil {
			pages = append(pages, e.Name())
		}
	}
	sort.Strings(pages)
	return pages, nil
}

// Invalidate drops the cached data of one page.
func (s *Store) Invalidate(page string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, page)
}

// ClearCache drops all cached page data.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = map[string]templating.Context{}
}
