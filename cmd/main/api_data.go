package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Drosera/pkg/pagedata"
	"github.com/CTAG07/Drosera/pkg/pages"
	"github.com/CTAG07/Drosera/pkg/templating"
)

// DataAPI exposes page data for reading and editing.
type DataAPI struct {
	store  *pagedata.Store
	logger *slog.Logger
}

func NewDataAPI(store *pagedata.Store, logger *slog.Logger) *DataAPI {
	return &DataAPI{store: store, logger: logger}
}

// RegisterRoutes sets up the routing for all /api/data endpoints.
func (d *DataAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/data", d.handleList)
	mux.HandleFunc("/api/data/", d.handlePage)
}

func (d *DataAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeDataRead) {
		return
	}
	available, err := d.store.Available()
	if err != nil {
		d.logger.Error("Failed to list page data", "error", err)
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, available)
}

func (d *DataAPI) handlePage(w http.ResponseWriter, r *http.Request) {
	page := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/data/"), "/")

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeDataRead) {
			return
		}
		data, err := d.store.Load(page)
		if err != nil {
			respondWithError(w, statusForError(err), err.Error())
			return
		}
		respondWithJSON(w, http.StatusOK, data)

	case http.MethodPut:
		if !requireScope(w, r, scopeDataWrite) {
			return
		}
		// Decoded the same way the store reads files, so cached and reloaded
		// data render identically.
		var data templating.Context
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON request body: %v", err))
			return
		}
		if data == nil {
			respondWithError(w, http.StatusBadRequest, "Page data must be a JSON object")
			return
		}
		if err := d.store.Save(page, data); err != nil {
			d.logger.Error("Failed to save page data", "page", page, "error", err)
			respondWithError(w, statusForError(err), err.Error())
			return
		}
		respondWithJSON(w, http.StatusOK, data)

	case http.MethodDelete:
		if !requireScope(w, r, scopeDataWrite) {
			return
		}
		d.store.Invalidate(page)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// PagesAPI lists the registered pages.
type PagesAPI struct {
	registry *pages.Registry
	store    *pagedata.Store
}

// PageInfo describes a registered page and where its parts live.
type PageInfo struct {
	pages.Page
	Title        string   `json:"title"`
	TemplateName string   `json:"template_name"`
	ScriptPaths  []string `json:"script_paths"`
	HasData      bool     `json:"has_data"`
	Href         string   `json:"href"`
}

func NewPagesAPI(registry *pages.Registry, store *pagedata.Store) *PagesAPI {
	return &PagesAPI{registry: registry, store: store}
}

// RegisterRoutes sets up the routing for the /api/pages endpoint.
func (p *PagesAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/pages", p.handleList)
}

func (p *PagesAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeDataRead) {
		return
	}

	available, err := p.store.Available()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hasData := make(map[string]bool, len(available))
	for _, name := range available {
		hasData[name] = true
	}

	infos := []PageInfo{}
	for _, page := range p.registry.Pages() {
		scripts, _ := page.ScriptPaths()
		infos = append(infos, PageInfo{
			Page:         page,
			Title:        page.DisplayTitle(),
			TemplateName: page.TemplateName(),
			ScriptPaths:  scripts,
			HasData:      hasData[page.Name],
			Href:         "/pages/" + page.Name,
		})
	}
	respondWithJSON(w, http.StatusOK, infos)
}
