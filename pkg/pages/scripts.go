package pages

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrScriptNotFound is returned when a script file does not exist.
var ErrScriptNotFound = errors.New("script not found")

// Script is the content of one page script.
type Script struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ScriptLoader reads page scripts from a directory and caches them by path
// until Clear is called.
type ScriptLoader struct {
	root  string
	cache map[string]string
	mu    sync.RWMutex
}

// NewScriptLoader creates a ScriptLoader reading from root.
func NewScriptLoader(root string) *ScriptLoader {
	return &ScriptLoader{root: root, cache: map[string]string{}}
}

// Load returns the script stored at the slash separated path under the root.
func (l *ScriptLoader) Load(path string) (Script, error) {
	if !fs.ValidPath(path) || path == "." {
		return Script{}, fmt.Errorf("invalid script path %q", path)
	}

	l.mu.RLock()
	content, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return Script{Path: path, Content: content}, nil
	}

	raw, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(path)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Script{}, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return Script{}, fmt.Errorf("failed to read script %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = string(raw)
	l.mu.Unlock()
	return Script{Path: path, Content: string(raw)}, nil
}

// Loaded returns the sorted paths of the cached scripts.
func (l *ScriptLoader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	paths := make([]string, 0, len(l.cache))
	for p := range l.cache {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clear drops every cached script.
func (l *ScriptLoader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = map[string]string{}
}
