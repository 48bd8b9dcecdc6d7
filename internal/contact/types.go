// Package contact holds the data model shared by the reconciliation job and the
// webhook service. Contacts and companies are owned by the remote directory;
// this service only reads them or issues create/update calls.
package contact

import (
	"strings"
	"time"
)

// CompanyAttribute is the contact attribute that carries the company name.
const CompanyAttribute = "COMPANY"

// Contact is a directory contact as returned by the CRM.
type Contact struct {
	ID         int64          `json:"id"`
	Email      string         `json:"email"`
	Attributes map[string]any `json:"attributes"`
	// CreatedAt is nil when the directory omitted the timestamp or it could not be parsed.
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// CompanyName returns the trimmed company attribute. Blank or non-string
// values count as absent.
func (c Contact) CompanyName() (string, bool) {
	raw, ok := c.Attributes[CompanyAttribute]
	if !ok {
		return "", false
	}
	name, ok := raw.(string)
	if !ok {
		return "", false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	return name, true
}

// Company is a directory company record.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SubmissionRecord is one row of the local submission log.
type SubmissionRecord struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Company   string    `json:"company"`
	ListName  string    `json:"list_name"`
	Timestamp time.Time `json:"timestamp"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 variants the directory emits. Timestamps
// without a zone are read as UTC. It returns nil for empty or unparseable input.
func ParseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}
