package pagedata

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewStore(t.TempDir(), opts...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func Test_Store(t *testing.T) {
	t.Run("should load JSON page data and render it", func(t *testing.T) {
		s := newTestStore(t)
		writeFile(t, filepath.Join(s.Root(), "home", "home_data.json"),
			`{"title": "Home", "features": [{"name": "Fast"}, {"name": "Small"}], "count": 2}`)

		data, err := s.Load("home")
		require.NoError(t, err)
		assert.Equal(t, "Home", data["title"])

		out := templating.Render("{{title}}:{% for f in features %}[{{f.name}}]{% endfor %} {{count}}", data)
		assert.Equal(t, "Home:[Fast][Small] 2", out)
	})

	t.Run("should load YAML page data when no JSON exists", func(t *testing.T) {
		s := newTestStore(t)
		writeFile(t, filepath.Join(s.Root(), "settings", "settings_data.yaml"),
			"title: Settings\noptions:\n  - name: Dark mode\n    enabled: true\n  - name: Beta\n    enabled: false\n")

		data, err := s.Load("settings")
		require.NoError(t, err)
		out := templating.Render("{% for o in options %}{% if o.enabled %}{{o.name}}{% endif %}{% endfor %}", data)
		assert.Equal(t, "Dark mode", out)
	})

	t.Run("should prefer JSON over YAML", func(t *testing.T) {
		s := newTestStore(t)
		writeFile(t, filepath.Join(s.Root(), "p", "p_data.json"), `{"src": "json"}`)
		writeFile(t, filepath.Join(s.Root(), "p", "p_data.yml"), "src: yaml\n")

		data, err := s.Load("p")
		require.NoError(t, err)
		assert.Equal(t, "json", data["src"])
	})

	t.Run("should return ErrNotFound for a page without data", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Load("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should return MalformedError for invalid JSON", func(t *testing.T) {
		s := newTestStore(t)
		path := filepath.Join(s.Root(), "bad", "bad_data.json")
		writeFile(t, path, `{"title": `)

		_, err := s.Load("bad")
		var malformed *MalformedError
		require.True(t, errors.As(err, &malformed), "expected MalformedError, got %v", err)
		assert.Equal(t, path, malformed.Path)
		assert.Contains(t, err.Error(), "invalid data in")
	})

	t.Run("should reject a top-level JSON array", func(t *testing.T) {
		s := newTestStore(t)
		writeFile(t, filepath.Join(s.Root(), "arr", "arr_data.json"), `[1, 2]`)
		_, err := s.Load("arr")
		var malformed *MalformedError
		assert.True(t, errors.As(err, &malformed))
	})

	t.Run("should reject page names with path elements", func(t *testing.T) {
		s := newTestStore(t)
		for _, name := range []string{"", ".", "..", "../x", `a\b`, "a/b"} {
			_, err := s.Load(name)
			assert.ErrorIs(t, err, ErrInvalidPage, "name %q", name)
		}
		assert.ErrorIs(t, s.Save("../x", nil), ErrInvalidPage)
	})

	t.Run("should enforce the size limit", func(t *testing.T) {
		s := newTestStore(t, WithMaxBytes(8))
		writeFile(t, filepath.Join(s.Root(), "big", "big_data.json"), `{"title": "far too long"}`)
		_, err := s.Load("big")
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("should serve cached data until invalidated", func(t *testing.T) {
		s := newTestStore(t)
		path := filepath.Join(s.Root(), "home", "home_data.json")
		writeFile(t, path, `{"v": 1}`)

		data, err := s.Load("home")
		require.NoError(t, err)
		assert.EqualValues(t, 1, data["v"])

		writeFile(t, path, `{"v": 2}`)
		data, _ = s.Load("home")
		assert.EqualValues(t, 1, data["v"])

		s.Invalidate("home")
		data, _ = s.Load("home")
		assert.EqualValues(t, 2, data["v"])

		writeFile(t, path, `{"v": 3}`)
		s.ClearCache()
		data, _ = s.Load("home")
		assert.EqualValues(t, 3, data["v"])
	})

	t.Run("should save atomically and update the cache", func(t *testing.T) {
		s := newTestStore(t)
		in := templating.Context{"title": "Café <b>", "n": 1}
		require.NoError(t, s.Save("about", in))

		raw, err := os.ReadFile(filepath.Join(s.Root(), "about", "about_data.json"))
		require.NoError(t, err)
		assert.Equal(t, "{\n  \"n\": 1,\n  \"title\": \"Café <b>\"\n}\n", string(raw))

		data, err := s.Load("about")
		require.NoError(t, err)
		assert.Equal(t, in, data)

		s.ClearCache()
		data, err = s.Load("about")
		require.NoError(t, err)
		assert.Equal(t, "Café <b>", data["title"])
	})

	t.Run("should list pages with data files", func(t *testing.T) {
		s := newTestStore(t)
		writeFile(t, filepath.Join(s.Root(), "settings", "settings_data.json"), `{}`)
		writeFile(t, filepath.Join(s.Root(), "home", "home_data.yaml"), "a: 1\n")
		writeFile(t, filepath.Join(s.Root(), "chart", "chart_template.html"), "<p></p>")
		writeFile(t, filepath.Join(s.Root(), "stray.json"), `{}`)

		pages, err := s.Available()
		require.NoError(t, err)
		assert.Equal(t, []string{"home", "settings"}, pages)
	})

	t.Run("should list nothing for a missing root", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "nope"))
		pages, err := s.Available()
		require.NoError(t, err)
		assert.Empty(t, pages)
	})

	t.Run("should load arbitrary files by extension", func(t *testing.T) {
		s := newTestStore(t)
		path := filepath.Join(s.Root(), "custom.yml")
		writeFile(t, path, "k: v\n")
		data, err := s.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "v", data["k"])

		_, err = s.LoadFile(filepath.Join(s.Root(), "notes.txt"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		_, err = s.LoadFile(filepath.Join(s.Root(), "gone.json"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
