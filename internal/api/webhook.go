package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
	"github.com/JakeFAU/crm-contact-sync/internal/metrics"
)

// NewContactSubject heads the chat notification for accepted submissions.
const NewContactSubject = "🔜 Neuer Kontakt"

// maxWebhookBody caps the accepted payload size.
const maxWebhookBody = 1 << 20

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// NormalizeCompanyName strips non-word characters, lowercases and trims.
func NormalizeCompanyName(name string) string {
	return strings.TrimSpace(strings.ToLower(nonWord.ReplaceAllString(name, "")))
}

type webhookRequest struct {
	Email   string `json:"email" validate:"required"`
	Company string `json:"company"`
	FormID  string `json:"form_id" validate:"required"`
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.logger.With(zap.String("request_id", RequestID(ctx)))

	var req webhookRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
		log.Info("webhook payload ignored", zap.Error(err))
		s.ignore(w)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		log.Info("webhook payload ignored", zap.Error(err))
		s.ignore(w)
		return
	}
	listID, ok := s.cfg.ListID(req.FormID)
	if !ok {
		log.Info("webhook form not mapped", zap.String("form_id", req.FormID))
		s.ignore(w)
		return
	}

	log = log.With(
		zap.String("email", req.Email),
		zap.String("company", NormalizeCompanyName(req.Company)),
		zap.String("form_id", req.FormID),
		zap.Int("list_id", listID),
	)

	result, err := s.upserter.CreateOrUpdateContact(ctx, req.Email, req.Company, listID)
	if err != nil {
		log.Error("upsert contact failed", zap.Error(err))
		metrics.ObserveWebhook("error")
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": err.Error()})
		return
	}

	s.notifier.Notify(ctx, NewContactSubject,
		fmt.Sprintf("%s (Firma: %s) → Liste: %s", req.Email, req.Company, req.FormID))

	record := contact.SubmissionRecord{
		Email:     req.Email,
		Company:   req.Company,
		ListName:  req.FormID,
		Timestamp: s.clock.Now(),
	}
	if err := s.submissions.Append(ctx, record); err != nil {
		log.Error("append submission failed", zap.Error(err))
		metrics.ObserveWebhook("error")
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": err.Error()})
		return
	}

	log.Info("webhook submission accepted")
	metrics.ObserveWebhook("ok")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "brevo": result})
}

func (s *Server) ignore(w http.ResponseWriter) {
	metrics.ObserveWebhook("ignored")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "missing data"})
}
