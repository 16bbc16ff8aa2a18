package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Drosera/pkg/pagedata"
	"github.com/CTAG07/Drosera/pkg/pages"
	"github.com/CTAG07/Drosera/pkg/templating"
)

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm       *templating.TemplateManager
	composer *pages.Composer
	logger   *slog.Logger
}

// TestTemplateRequest is the JSON body accepted by /api/templates/test.
type TestTemplateRequest struct {
	Template string             `json:"template"`
	Data     templating.Context `json:"data"`
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, composer *pages.Composer, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:       tm,
		composer: composer,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// handleRefresh triggers a manual refresh of templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeTemplatesWrite) {
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns the names of all loaded templates.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, t.tm.GetTemplateNames())
}

// handleTest renders a template string against the given data without saving
// anything, and reports the markers that could not be resolved.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}

	var req TestTemplateRequest
	if err := json.NewDecoder(t.limitBody(w, r)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON request body: %v", err))
		return
	}

	res := templating.Parse(req.Template).RenderResult(req.Data)
	if res.Unresolved == nil {
		res.Unresolved = []templating.Unresolved{}
	}
	respondWithJSON(w, http.StatusOK, res)
}

// handlePreview renders a registered page. With bare=1 only the page body is
// returned, without the layout.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}

	name := r.URL.Query().Get("page")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'page' is required")
		return
	}

	var buf bytes.Buffer
	var err error
	if r.URL.Query().Get("bare") == "1" {
		var a *pages.Assembled
		if a, err = t.composer.Compose(name); err == nil {
			buf.WriteString(a.Body)
		}
	} else {
		err = t.composer.Render(&buf, name, templating.Context{"request_id": requestID(r)})
	}
	if err != nil {
		respondWithError(w, statusForError(err), fmt.Sprintf("Failed to render preview: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleFile manages CRUD operations for a single template file.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeTemplatesRead) {
			return
		}
		tmpl, err := t.tm.Get(name)
		if err != nil {
			respondWithError(w, statusForError(err), err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, tmpl.Source())

	case http.MethodPut:
		if !requireScope(w, r, scopeTemplatesWrite) {
			return
		}
		body, err := io.ReadAll(t.limitBody(w, r))
		if err != nil {
			respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = t.tm.SaveTemplate(name, string(body)); err != nil {
			t.logger.Error("Failed to save template", "template", name, "error", err)
			respondWithError(w, statusForError(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !requireScope(w, r, scopeTemplatesWrite) {
			return
		}
		if err := t.tm.DeleteTemplate(name); err != nil {
			respondWithError(w, statusForError(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// limitBody caps request bodies at the template size limit, plus room for JSON framing.
func (t *TemplateAPI) limitBody(w http.ResponseWriter, r *http.Request) io.Reader {
	limit := t.tm.GetConfig().MaxTemplateBytes
	if limit <= 0 {
		return r.Body
	}
	return http.MaxBytesReader(w, r.Body, 2*limit)
}

// statusForError maps errors from the page packages to HTTP status codes.
func statusForError(err error) int {
	var malformed *pagedata.MalformedError
	switch {
	case errors.Is(err, templating.ErrTemplateNotFound),
		errors.Is(err, pages.ErrPageNotFound),
		errors.Is(err, pages.ErrScriptNotFound),
		errors.Is(err, pagedata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, templating.ErrInvalidName),
		errors.Is(err, pagedata.ErrInvalidPage),
		errors.Is(err, pages.ErrInvalidPage):
		return http.StatusBadRequest
	case errors.Is(err, templating.ErrTemplateTooLarge),
		errors.Is(err, pagedata.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, templating.ErrReadOnly):
		return http.StatusConflict
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
