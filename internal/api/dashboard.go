package api

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	listTimeout      = 5 * time.Second
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTemplate = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"timestamp": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05") },
}).ParseFS(templateFS, "templates/dashboard.html"))

type dashboardView struct {
	Submissions []contact.SubmissionRecord
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
	defer cancel()

	records, err := s.submissions.ListAll(ctx)
	if err != nil {
		s.logger.Error("list submissions failed", zap.Error(err))
		http.Error(w, "failed to load submissions", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, dashboardView{Submissions: records}); err != nil {
		s.logger.Error("render dashboard failed", zap.Error(err))
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("write dashboard failed", zap.Error(err))
	}
}

type submissionsResponse struct {
	Submissions []contact.SubmissionRecord `json:"submissions"`
	Total       int                        `json:"total"`
	Limit       int                        `json:"limit"`
	Offset      int                        `json:"offset"`
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
	defer cancel()

	records, err := s.submissions.ListAll(ctx)
	if err != nil {
		s.logger.Error("list submissions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}

	total := len(records)
	start := min(offset, total)
	end := min(start+limit, total)
	page := records[start:end]
	if page == nil {
		page = []contact.SubmissionRecord{}
	}
	writeJSON(w, http.StatusOK, submissionsResponse{
		Submissions: page,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	limit := defaultPageLimit
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errInvalidParam("limit")
		}
		limit = min(v, maxPageLimit)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errInvalidParam("offset")
		}
		offset = v
	}
	return limit, offset, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string {
	return "invalid " + string(e)
}
