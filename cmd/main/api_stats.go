package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS page_views (
    page          TEXT PRIMARY KEY,
    total_views   INTEGER NOT NULL DEFAULT 1,
    first_viewed  DATETIME NOT NULL,
    last_viewed   DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS page_visitors (
    page          TEXT NOT NULL,
    ip_address    TEXT NOT NULL,
    total_views   INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (page, ip_address)
);
`

// GlobalStatsSummary provides a high-level overview of all collected stats.
type GlobalStatsSummary struct {
	TotalViews     int64 `json:"total_views"`
	PagesViewed    int64 `json:"pages_viewed"`
	UniqueVisitors int64 `json:"unique_visitors"`
}

// PageStats is one row of the top pages listing.
type PageStats struct {
	Page            string    `json:"page"`
	TotalViews      int64     `json:"total_views"`
	UniqueVisitors  int64     `json:"unique_visitors"`
	FirstViewed     time.Time `json:"first_viewed"`
	LastViewed      time.Time `json:"last_viewed"`
	LastViewedHuman string    `json:"last_viewed_human"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func setupStatsSchema(db *sql.DB) error {
	if _, err := db.Exec(statsSchema); err != nil {
		return fmt.Errorf("failed to create stats schema: %w", err)
	}
	return nil
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/top_pages", s.handleTopPages)
}

// RecordView counts one view of page by ip in a single transaction.
func (s *StatsAPI) RecordView(ctx context.Context, page, ip string) error {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
        INSERT INTO page_views (page, first_viewed, last_viewed) VALUES (?, ?, ?)
        ON CONFLICT(page) DO UPDATE SET total_views = total_views + 1, last_viewed = ?
    `, page, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert page_views: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO page_visitors (page, ip_address) VALUES (?, ?)
        ON CONFLICT(page, ip_address) DO UPDATE SET total_views = total_views + 1
    `, page, ip)
	if err != nil {
		return fmt.Errorf("failed to upsert page_visitors: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats transaction: %w", err)
	}
	return nil
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeStatsRead) {
		return
	}
	var summary GlobalStatsSummary
	queries := []struct {
		query string
		dest  any
	}{
		{"SELECT COALESCE(SUM(total_views), 0) FROM page_views", &summary.TotalViews},
		{"SELECT COUNT(*) FROM page_views", &summary.PagesViewed},
		{"SELECT COUNT(DISTINCT ip_address) FROM page_visitors", &summary.UniqueVisitors},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(r.Context(), q.query).Scan(q.dest); err != nil {
			s.logger.Error("Failed to query stats summary", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to query stats summary")
			return
		}
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTopPages(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeStatsRead) {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "Query parameter 'limit' must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	rows, err := s.db.QueryContext(r.Context(), `
        SELECT v.page, v.total_views, COUNT(p.ip_address), v.first_viewed, v.last_viewed
        FROM page_views v LEFT JOIN page_visitors p ON p.page = v.page
        GROUP BY v.page
        ORDER BY v.total_views DESC, v.page
        LIMIT ?`, limit)
	if err != nil {
		s.logger.Error("Failed to query top pages", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	now := s.now()
	results := []PageStats{}
	for rows.Next() {
		var ps PageStats
		if err = rows.Scan(&ps.Page, &ps.TotalViews, &ps.UniqueVisitors, &ps.FirstViewed, &ps.LastViewed); err != nil {
			s.logger.Error("Failed to scan top pages", "error", err)
			continue
		}
		ps.LastViewedHuman = humanize.RelTime(ps.LastViewed, now, "ago", "from now")
		results = append(results, ps)
	}
	respondWithJSON(w, http.StatusOK, results)
}
