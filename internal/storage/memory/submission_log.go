// Package memory provides in-memory storage for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
	"github.com/JakeFAU/crm-contact-sync/internal/store"
)

// SubmissionLog keeps submissions in process memory.
type SubmissionLog struct {
	mu      sync.RWMutex
	nextID  int64
	records []contact.SubmissionRecord
}

var _ store.SubmissionLog = (*SubmissionLog)(nil)

// NewSubmissionLog constructs an empty SubmissionLog.
func NewSubmissionLog() *SubmissionLog {
	return &SubmissionLog{}
}

// Append stores a copy of record with the next ID.
func (s *SubmissionLog) Append(_ context.Context, record contact.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = s.nextID
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	s.records = append(s.records, record)
	return nil
}

// ListAll returns the submissions newest first.
func (s *SubmissionLog) ListAll(_ context.Context) ([]contact.SubmissionRecord, error) {
	s.mu.RLock()
	out := make([]contact.SubmissionRecord, len(s.records))
	copy(out, s.records)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
