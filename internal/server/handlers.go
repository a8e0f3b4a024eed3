package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/feed"
	"github.com/lvonguyen/feedforge/internal/report"
	"github.com/lvonguyen/feedforge/internal/snapshot"
)

// FeedEntry is one element of the feed listing.
type FeedEntry struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	SortKey string `json:"sort_key"`
	Size    int    `json:"size"`
	Ranked  int    `json:"ranked"`
}

// RunInfo describes the published evaluation.
type RunInfo struct {
	RunID          string `json:"run_id"`
	ScoringDate    string `json:"scoring_date"`
	EvaluationDate string `json:"evaluation_date"`
	ScoringRecords int    `json:"scoring_records"`
	SweepStop      int    `json:"sweep_stop,omitempty"`
	Feeds          int    `json:"feeds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.version})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if res, _ := s.current(); res == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no evaluation published"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	res, id := s.current()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no evaluation published")
		return
	}
	writeJSON(w, http.StatusOK, RunInfo{
		RunID:          id,
		ScoringDate:    snapshot.FormatDate(res.ScoringDate),
		EvaluationDate: snapshot.FormatDate(res.EvaluationDate),
		ScoringRecords: res.ScoringRecords,
		SweepStop:      res.SweepStop,
		Feeds:          len(res.Feeds),
	})
}

func (s *Server) handleListFeeds(w http.ResponseWriter, _ *http.Request) {
	res, id := s.current()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no evaluation published")
		return
	}
	entries := make([]FeedEntry, 0, len(res.Feeds))
	for _, f := range res.Feeds {
		entries = append(entries, FeedEntry{
			Name:    f.Name(),
			Slug:    feed.Slug(f.Name()),
			SortKey: f.SortKey(),
			Size:    f.Size(),
			Ranked:  f.Len(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": id,
		"feeds":  entries,
		"count":  len(entries),
	})
}

// handleGetFeed returns the feed's details. ?inspect=n lists up to n false
// positives and false negatives.
func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	res, _ := s.current()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no evaluation published")
		return
	}
	inspect, err := parseLimit(r, "inspect", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, ok := feedBySlug(res, chi.URLParam(r, "slug"))
	if !ok {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	writeJSON(w, http.StatusOK, report.FeedDetailsOf(f, inspect))
}

// handleBlocklist writes the feed's identifiers, one per line. ?size=n
// overrides the evaluated size without changing it.
func (s *Server) handleBlocklist(w http.ResponseWriter, r *http.Request) {
	res, _ := s.current()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no evaluation published")
		return
	}
	f, ok := feedBySlug(res, chi.URLParam(r, "slug"))
	if !ok {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	size, err := parseLimit(r, "size", f.Size())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list := f.Blocklist(size)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Feed-Size", strconv.Itoa(len(list)))
	w.WriteHeader(http.StatusOK)
	for _, v := range list {
		if _, err := w.Write([]byte(v + "\n")); err != nil {
			s.logger.Warn("writing blocklist", zap.String("feed", f.Name()), zap.Error(err))
			return
		}
	}
}
