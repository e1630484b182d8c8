package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/query"
)

const maxCrawlBody = 1 << 20

type crawlRequest struct {
	URL string `json:"url"`
}

type crawlSuccess struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    crawler.Record `json:"data"`
}

type crawlFailure struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Data    crawler.Record `json:"data"`
}

// crawl handles POST /api/crawl. Every accepted request leaves exactly one
// stored record; only a failed write answers without one.
func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCrawlBody)).Decode(&req); err != nil ||
		strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, crawler.ErrInvalidURL.Error())
		return
	}

	rec, err := s.deps.Crawler.Crawl(r.Context(), req.URL)
	if err == nil {
		writeJSON(w, http.StatusOK, crawlSuccess{Success: true, Message: "Crawl completed", Data: rec})
		return
	}

	var scrapeErr *crawler.ScrapeError
	switch {
	case errors.Is(err, crawler.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, crawler.ErrInvalidURL.Error())
	case errors.As(err, &scrapeErr):
		writeJSON(w, http.StatusInternalServerError, crawlFailure{
			Error:   "Failed to crawl URL",
			Message: scrapeErr.Error(),
			Data:    rec,
		})
	default:
		s.logger.Error("crawl attempt not recorded",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to record crawl attempt")
	}
}

// listPages handles GET /api/pages?limit=&offset=. Omitted values fall back
// to the query service defaults.
func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pages, err := s.deps.Pages.ListRecent(r.Context(), limit, offset)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, pages)
	case errors.Is(err, query.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("list pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch pages")
	}
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid page id")
		return
	}
	rec, err := s.deps.Pages.Get(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "Page not found")
	default:
		s.logger.Error("get page failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch page")
	}
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit := 0
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
