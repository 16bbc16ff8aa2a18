package templating

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

// setupTestManager creates a TemplateManager over a temporary directory
// holding one page template.
func setupTestManager(tb testing.TB) *TemplateManager {
	tb.Helper()

	dataDir := tb.TempDir()
	pageDir := filepath.Join(dataDir, "home")
	if err := os.Mkdir(pageDir, 0755); err != nil {
		tb.Fatalf("failed to create page dir: %v", err)
	}
	dummyTmplPath := filepath.Join(pageDir, "home_template.html")
	if err := os.WriteFile(dummyTmplPath, []byte(`<h1>{{ title }}</h1>`), 0644); err != nil {
		tb.Fatalf("failed to write dummy template: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm, err := NewTemplateManager(logger, DefaultConfig(), dataDir)
	if err != nil {
		tb.Fatalf("NewTemplateManager failed: %v", err)
	}
	return tm
}

func TestNewTemplateManager(t *testing.T) {
	tm := setupTestManager(t)
	if diff := cmp.Diff([]string{"home/home_template.html"}, tm.GetTemplateNames()); diff != "" {
		t.Errorf("unexpected templates after init (-want +got):\n%s", diff)
	}

	if _, err := NewTemplateManager(nil, nil, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected an error for a missing template directory")
	}
}

func TestManager_Refresh(t *testing.T) {
	tm := setupTestManager(t)
	initialCount := len(tm.GetTemplateNames())

	newDir := filepath.Join(tm.GetTemplateDir(), "settings")
	if err := os.Mkdir(newDir, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(newDir, "settings_template.html"), []byte(`New Content`), 0644); err != nil {
		t.Fatalf("failed to write new template: %v", err)
	}
	if err := os.WriteFile(filepath.Join(newDir, "settings_handler.js"), []byte(`// not a template`), 0644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	if err := tm.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if got := len(tm.GetTemplateNames()); got != initialCount+1 {
		t.Errorf("expected %d templates after refresh, got %d", initialCount+1, got)
	}
}

func TestManager_Execute(t *testing.T) {
	tm := setupTestManager(t)
	var buf bytes.Buffer
	err := tm.Execute(&buf, "home/home_template.html", Context{"title": "Hello"})
	if err != nil {
		t.Fatalf("Execute failed for valid template: %v", err)
	}
	if buf.String() != "<h1>Hello</h1>" {
		t.Errorf("expected output '<h1>Hello</h1>', got '%s'", buf.String())
	}

	err = tm.Execute(&buf, "nonexistent/nonexistent_template.html", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}

	for _, name := range []string{"", "../etc/passwd", "/abs", "home/../../x"} {
		if _, err = tm.RenderNamed(name, nil); !errors.Is(err, ErrInvalidName) {
			t.Errorf("RenderNamed(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestManager_RenderNamedMatchesRender(t *testing.T) {
	src := "{% for x in items %}[{{x}}]{% endfor %}{{ missing }}"
	fsys := fstest.MapFS{"list_template.html": {Data: []byte(src)}}
	tm, err := NewTemplateManagerFS(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, fsys)
	if err != nil {
		t.Fatalf("NewTemplateManagerFS failed: %v", err)
	}
	ctx := Context{"items": []any{"a", "b"}}
	got, err := tm.RenderNamed("list_template.html", ctx)
	if err != nil {
		t.Fatalf("RenderNamed failed: %v", err)
	}
	if want := Render(src, ctx); got != want {
		t.Errorf("RenderNamed = %q, Render = %q", got, want)
	}
}

func TestManager_CacheAndInvalidate(t *testing.T) {
	tm := setupTestManager(t)
	path := filepath.Join(tm.GetTemplateDir(), "home", "home_template.html")

	if err := os.WriteFile(path, []byte(`changed`), 0644); err != nil {
		t.Fatalf("failed to rewrite template: %v", err)
	}
	got, _ := tm.RenderNamed("home/home_template.html", Context{"title": "T"})
	if got != "<h1>T</h1>" {
		t.Errorf("expected cached content, got %q", got)
	}

	tm.Invalidate("home/home_template.html")
	got, _ = tm.RenderNamed("home/home_template.html", nil)
	if got != "changed" {
		t.Errorf("expected reloaded content after Invalidate, got %q", got)
	}

	if err := os.WriteFile(path, []byte(`again`), 0644); err != nil {
		t.Fatalf("failed to rewrite template: %v", err)
	}
	tm.Clear()
	if len(tm.GetTemplateNames()) != 0 {
		t.Error("Clear should empty the cache")
	}
	got, _ = tm.RenderNamed("home/home_template.html", nil)
	if got != "again" {
		t.Errorf("expected reloaded content after Clear, got %q", got)
	}
}

func TestManager_SetConfigDisablesCache(t *testing.T) {
	tm := setupTestManager(t)
	cfg := DefaultConfig()
	cfg.CacheTemplates = false
	tm.SetConfig(cfg)

	if tm.GetConfig().CacheTemplates {
		t.Fatal("SetConfig did not apply")
	}
	path := filepath.Join(tm.GetTemplateDir(), "home", "home_template.html")
	for _, content := range []string{"one", "two"} {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write template: %v", err)
		}
		got, err := tm.RenderNamed("home/home_template.html", nil)
		if err != nil {
			t.Fatalf("RenderNamed failed: %v", err)
		}
		if got != content {
			t.Errorf("expected %q with caching off, got %q", content, got)
		}
	}
}

func TestManager_SizeLimit(t *testing.T) {
	fsys := fstest.MapFS{
		"big_template.html":   {Data: bytes.Repeat([]byte("x"), 64)},
		"small_template.html": {Data: []byte("ok")},
	}
	cfg := DefaultConfig()
	cfg.MaxTemplateBytes = 16
	tm, err := NewTemplateManagerFS(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, fsys)
	if err != nil {
		t.Fatalf("NewTemplateManagerFS failed: %v", err)
	}
	if diff := cmp.Diff([]string{"small_template.html"}, tm.GetTemplateNames()); diff != "" {
		t.Errorf("oversized template should be skipped (-want +got):\n%s", diff)
	}
	if _, err = tm.Get("big_template.html"); !errors.Is(err, ErrTemplateTooLarge) {
		t.Errorf("expected ErrTemplateTooLarge, got %v", err)
	}
}

func TestManager_SaveAndDelete(t *testing.T) {
	tm := setupTestManager(t)
	name := "about/about_template.html"

	if err := tm.SaveTemplate(name, "About {{ who }}"); err != nil {
		t.Fatalf("SaveTemplate failed: %v", err)
	}
	got, err := tm.RenderNamed(name, Context{"who": "us"})
	if err != nil || got != "About us" {
		t.Fatalf("RenderNamed after save = %q, %v", got, err)
	}
	if _, err = os.Stat(filepath.Join(tm.GetTemplateDir(), "about", "about_template.html")); err != nil {
		t.Errorf("saved template missing on disk: %v", err)
	}

	if err = tm.DeleteTemplate(name); err != nil {
		t.Fatalf("DeleteTemplate failed: %v", err)
	}
	if _, err = tm.Get(name); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound after delete, got %v", err)
	}
	if err = tm.DeleteTemplate(name); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound deleting twice, got %v", err)
	}

	ro, err := NewTemplateManagerFS(nil, nil, fstest.MapFS{})
	if err != nil {
		t.Fatalf("NewTemplateManagerFS failed: %v", err)
	}
	if err = ro.SaveTemplate(name, "x"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestManager_SaveRestrictedToPattern(t *testing.T) {
	tm := setupTestManager(t)
	dataPath := filepath.Join(tm.GetTemplateDir(), "home", "home_data.json")
	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dataPath, []byte(`{"a": 1}`), 0644); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"home/home_data.json", "home/home_handler.js", "layout.html"} {
		if err := tm.SaveTemplate(name, "x"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("SaveTemplate(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
	if err := tm.DeleteTemplate("home/home_data.json"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("DeleteTemplate: expected ErrInvalidName, got %v", err)
	}
	if raw, err := os.ReadFile(dataPath); err != nil || string(raw) != `{"a": 1}` {
		t.Errorf("data file was modified: %q, %v", raw, err)
	}

	tm.AllowNames("layout.html")
	if err := tm.SaveTemplate("layout.html", "<main>{{ content }}</main>"); err != nil {
		t.Fatalf("SaveTemplate of an allowed name failed: %v", err)
	}
	if err := tm.DeleteTemplate("layout.html"); err != nil {
		t.Errorf("DeleteTemplate of an allowed name failed: %v", err)
	}
	tm.AllowNames()
	if err := tm.SaveTemplate("layout.html", "x"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName once the name is no longer allowed, got %v", err)
	}
}

func TestManager_ExecuteTemplateString(t *testing.T) {
	tm := setupTestManager(t)
	var buf bytes.Buffer
	if err := tm.ExecuteTemplateString(&buf, "{% if on %}{{ v }}{% endif %}", Context{"on": true, "v": 3}); err != nil {
		t.Fatalf("ExecuteTemplateString failed: %v", err)
	}
	if buf.String() != "3" {
		t.Errorf("expected '3', got %q", buf.String())
	}
}

// BenchmarkExecute_Cached measures a named render served from the cache.
func BenchmarkExecute_Cached(b *testing.B) {
	tm := setupTestManager(b)
	ctx := Context{"title": "Bench"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tm.Execute(io.Discard, "home/home_template.html", ctx)
	}
}
