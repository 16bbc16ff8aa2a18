package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/CTAG07/Drosera/pkg/pagedata"
	"github.com/CTAG07/Drosera/pkg/pages"
	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/google/uuid"
)

const contextKeyRequestID = contextKey("request_id")

type Server struct {
	cm          *ConfigManager
	authDB      *sql.DB
	statsDB     *sql.DB
	logger      *slog.Logger
	tm          *templating.TemplateManager
	store       *pagedata.Store
	scripts     *pages.ScriptLoader
	registry    *pages.Registry
	composer    *pages.Composer
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	dataAPI     *DataAPI
	pagesAPI    *PagesAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	siteMux     *http.ServeMux
	apiMux      *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, authDB, statsDB *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	if err := os.MkdirAll(config.Server.PagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pages directory: %w", err)
	}

	tm, err := templating.NewTemplateManager(logger, config.Templates, config.Server.PagesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)
	tm.AllowNames(siteTemplateNames(config.Server)...)

	registry, err := pages.NewRegistry(config.Server.Pages...)
	if err != nil {
		return nil, fmt.Errorf("failed to register pages: %w", err)
	}

	store := pagedata.NewStore(config.Server.PagesDir,
		pagedata.WithLogger(logger),
		pagedata.WithMaxBytes(config.Server.DataMaxBytes))
	scripts := pages.NewScriptLoader(config.Server.PagesDir)
	composer := pages.NewComposer(logger, registry, tm, store, scripts,
		pages.WithLayout(config.Server.LayoutTemplate),
		pages.WithAppTitle(config.Server.AppTitle))

	server := &Server{
		cm:          cm,
		authDB:      authDB,
		statsDB:     statsDB,
		logger:      logger,
		tm:          tm,
		store:       store,
		scripts:     scripts,
		registry:    registry,
		composer:    composer,
		authAPI:     NewAuthAPI(authDB, logger),
		templateAPI: NewTemplateAPI(tm, composer, logger),
		dataAPI:     NewDataAPI(store, logger),
		pagesAPI:    NewPagesAPI(registry, store),
		statsAPI:    NewStatsAPI(statsDB, logger),
		serverAPI:   NewServerAPI(cm, actionChan, tm, store, scripts, logger),
		siteMux:     http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	cm.OnUpdate(server.applySiteConfig)

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.dataAPI.RegisterRoutes(apiMux)
	server.pagesAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.siteMux.HandleFunc("/favicon.ico", handleFavicon)
	server.siteMux.HandleFunc("/pages/", server.handlePage)
	server.siteMux.HandleFunc("/", server.handleRoot)

	return server, nil
}

// applySiteConfig brings the page registry, the layout and the writable
// template names in line with cfg. Addresses, directories and databases are
// only read at startup and need a restart.
func (s *Server) applySiteConfig(cfg Config) error {
	if err := s.registry.Replace(cfg.Server.Pages...); err != nil {
		return err
	}
	s.composer.SetLayout(cfg.Server.LayoutTemplate)
	s.composer.SetAppTitle(cfg.Server.AppTitle)
	s.tm.AllowNames(siteTemplateNames(cfg.Server)...)
	return nil
}

// siteTemplateNames lists the templates the site uses outside the page
// template pattern: the layout and any page with an explicit template.
func siteTemplateNames(sc *ServerConfig) []string {
	names := []string{sc.LayoutTemplate}
	for _, p := range sc.Pages {
		if p.Template != "" {
			names = append(names, p.Template)
		}
	}
	return names
}

// SiteHandler returns the handler serving assembled pages.
func (s *Server) SiteHandler() http.Handler {
	return s.logRequests(s.siteMux)
}

// APIHandler returns the handler serving the JSON API.
func (s *Server) APIHandler() http.Handler {
	return s.logRequests(s.apiMux)
}

// handleRoot redirects to the default page.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page := s.cm.Get().Server.DefaultPage
	if page == "" {
		if all := s.registry.Pages(); len(all) > 0 {
			page = all[0].Name
		}
	}
	if page == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/pages/"+page, http.StatusFound)
}

// handlePage assembles and serves a single registered page.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/pages/"), "/")

	var buf bytes.Buffer
	extra := templating.Context{"request_id": requestID(r)}
	if err := s.composer.Render(&buf, name, extra); err != nil {
		if errors.Is(err, pages.ErrPageNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("Failed to render page", "page", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if err := s.statsAPI.RecordView(r.Context(), name, s.getClientIP(r)); err != nil {
		s.logger.Warn("Failed to record page view", "page", name, "error", err)
	}

	s.setPageHeaders(w)
	_, _ = buf.WriteTo(w)
}

func (s *Server) setPageHeaders(w http.ResponseWriter) {
	for k, v := range s.cm.Get().Server.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
}

// getClientIP returns the client address, honouring forwarding headers only
// when the direct peer is a trusted proxy.
func (s *Server) getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !s.cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	// The first entry of X-Forwarded-For is the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		return strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	}
	return ip
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// logRequests tags each request with an id and logs it once it is served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.logger.Debug("Request served",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(contextKeyRequestID).(string)
	return id
}

// handleFavicon returns no content so favicon requests are not counted as page views.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
