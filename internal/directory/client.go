// Package directory implements the REST client for the Brevo-style CRM that
// owns contacts and companies.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
	"github.com/JakeFAU/crm-contact-sync/internal/metrics"
	"github.com/JakeFAU/crm-contact-sync/internal/retry"
)

const (
	// DefaultBaseURL is the public Brevo v3 endpoint.
	DefaultBaseURL = "https://api.brevo.com/v3"
	// DefaultPageLimit matches the single page the batch job reads.
	DefaultPageLimit = 500

	maxBodyBytes = 1 << 20
)

// Config describes how to reach the CRM.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	PageLimit     int
	RatePerSecond float64
	Burst         int
	CompanyDomain string
	CompanyType   string
}

// Client talks to the CRM. Lookup-style calls return (value, ok) and log
// failures; only CreateOrUpdateContact surfaces errors to its caller.
type Client struct {
	cfg     Config
	policy  retry.Policy
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, policy retry.Policy, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	if cfg.CompanyDomain == "" {
		cfg.CompanyDomain = "example.com"
	}
	if cfg.CompanyType == "" {
		cfg.CompanyType = "customer"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		cfg:     cfg,
		policy:  policy,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

type contactPayload struct {
	ID         int64          `json:"id"`
	Email      string         `json:"email"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  string         `json:"createdAt"`
}

type companyPayload struct {
	ID         flexibleID     `json:"id"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
}

func (p companyPayload) toCompany(fallbackName string) contact.Company {
	name := p.Name
	if name == "" {
		if attr, ok := p.Attributes["name"].(string); ok {
			name = attr
		}
	}
	if name == "" {
		name = fallbackName
	}
	return contact.Company{ID: string(p.ID), Name: name}
}

// ListContacts fetches one page of contacts. Failures are logged and yield an
// empty slice.
func (c *Client) ListContacts(ctx context.Context, pageLimit int) []contact.Contact {
	if pageLimit <= 0 {
		pageLimit = c.cfg.PageLimit
	}
	query := url.Values{"limit": []string{strconv.Itoa(pageLimit)}}
	var resp struct {
		Contacts []contactPayload `json:"contacts"`
	}
	c.logger.Info("fetching contacts", zap.Int("limit", pageLimit))
	if _, err := c.doJSON(ctx, "list_contacts", http.MethodGet, "/contacts", query, nil, &resp); err != nil {
		c.logger.Error("fetch contacts failed", zap.Error(err))
		return []contact.Contact{}
	}
	out := make([]contact.Contact, 0, len(resp.Contacts))
	for _, p := range resp.Contacts {
		out = append(out, contact.Contact{
			ID:         p.ID,
			Email:      p.Email,
			Attributes: p.Attributes,
			CreatedAt:  contact.ParseTimestamp(p.CreatedAt),
		})
	}
	return out
}

// FindCompanyByName returns the first company the CRM matches for name.
func (c *Client) FindCompanyByName(ctx context.Context, name string) (contact.Company, bool) {
	query := url.Values{"name": []string{name}}
	var resp struct {
		Companies []companyPayload `json:"companies"`
		Items     []companyPayload `json:"items"`
	}
	c.logger.Info("looking up company", zap.String("company", name))
	if _, err := c.doJSON(ctx, "find_company", http.MethodGet, "/companies", query, nil, &resp); err != nil {
		c.logger.Error("company lookup failed", zap.String("company", name), zap.Error(err))
		return contact.Company{}, false
	}
	matches := resp.Companies
	if len(matches) == 0 {
		matches = resp.Items
	}
	if len(matches) == 0 || matches[0].ID == "" {
		return contact.Company{}, false
	}
	return matches[0].toCompany(name), true
}

// CreateCompany creates a company with the configured placeholder domain and type.
func (c *Client) CreateCompany(ctx context.Context, name string) (contact.Company, bool) {
	body := map[string]string{
		"name":   name,
		"domain": c.cfg.CompanyDomain,
		"type":   c.cfg.CompanyType,
	}
	var resp companyPayload
	c.logger.Info("creating company", zap.String("company", name))
	if _, err := c.doJSON(ctx, "create_company", http.MethodPost, "/companies", nil, body, &resp); err != nil {
		c.logger.Error("create company failed", zap.String("company", name), zap.Error(err))
		return contact.Company{}, false
	}
	if resp.ID == "" {
		c.logger.Error("create company returned no id", zap.String("company", name))
		return contact.Company{}, false
	}
	c.logger.Info("company created", zap.String("company", name), zap.String("company_id", string(resp.ID)))
	return resp.toCompany(name), true
}

// LinkContactToCompany associates a contact with a company. Only 204 counts as success.
func (c *Client) LinkContactToCompany(ctx context.Context, contactID int64, companyID string) bool {
	path := "/companies/" + url.PathEscape(companyID) + "/contacts"
	body := map[string][]int64{"ids": {contactID}}
	logger := c.logger.With(zap.Int64("contact_id", contactID), zap.String("company_id", companyID))
	logger.Info("linking contact to company")

	status, respBody, err := c.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		metrics.ObserveDirectoryCall("link_contact", "error")
		logger.Error("link request failed", zap.Error(err))
		return false
	}
	if status != http.StatusNoContent {
		metrics.ObserveDirectoryCall("link_contact", "error")
		logger.Error("link rejected", zap.Int("status", status), zap.ByteString("body", respBody))
		return false
	}
	metrics.ObserveDirectoryCall("link_contact", "ok")
	logger.Info("link succeeded")
	return true
}

// CreateOrUpdateContact upserts a contact by email and adds it to listID. The
// call runs under the client's retry policy; 4xx answers other than 429 are
// not retried.
func (c *Client) CreateOrUpdateContact(ctx context.Context, email, company string, listID int) (map[string]any, error) {
	body := map[string]any{
		"email":         email,
		"attributes":    map[string]string{contact.CompanyAttribute: company},
		"listIds":       []int{listID},
		"updateEnabled": true,
	}

	policy := c.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.ObserveDirectoryRetry("upsert_contact")
		c.logger.Warn("upsert contact failed, retrying",
			zap.String("email", email),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	}

	var result map[string]any
	err := policy.Do(ctx, func(ctx context.Context) error {
		result = nil
		status, err := c.doJSON(ctx, "upsert_contact", http.MethodPost, "/contacts", nil, body, &result)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Temporary() {
				return retry.Permanent(err)
			}
			return err
		}
		if status == http.StatusNoContent || result == nil {
			result = map[string]any{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert contact %s: %w", email, err)
	}
	return result, nil
}

// doJSON performs a request and decodes a JSON body into out when present.
func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, body, out any) (int, error) {
	status, respBody, err := c.do(ctx, method, path, query, body)
	if err != nil {
		metrics.ObserveDirectoryCall(op, "error")
		return status, err
	}
	if status < 200 || status > 299 {
		metrics.ObserveDirectoryCall(op, "error")
		return status, &StatusError{StatusCode: status, Body: strings.TrimSpace(string(respBody))}
	}
	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			metrics.ObserveDirectoryCall(op, "error")
			return status, fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	metrics.ObserveDirectoryCall(op, "ok")
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// flexibleID accepts both string and numeric JSON identifiers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}
