package storage

import (
	"context"
	"sync"

	"github.com/sitescope/crawlcore/internal/record"
)

// MemorySink is the default Sink: an in-process, mutex-guarded map. It is
// what the scheduler and cmd/crawlcore use when no durable sink is wired.
type MemorySink struct {
	mu   sync.Mutex
	jobs map[string]*jobRecords
}

type jobRecords struct {
	order   []string
	byURL   map[string]record.PageRecord
	deleted bool
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{jobs: map[string]*jobRecords{}}
}

func (s *MemorySink) Upsert(_ context.Context, rec record.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[rec.JobID]
	if !ok {
		job = &jobRecords{byURL: map[string]record.PageRecord{}}
		s.jobs[rec.JobID] = job
	}
	if job.deleted {
		return &StorageError{Message: rec.JobID, Cause: ErrCauseForeignKeyMiss, Retryable: false}
	}
	if _, exists := job.byURL[rec.URL]; exists {
		return nil
	}
	job.byURL[rec.URL] = rec
	job.order = append(job.order, rec.URL)
	return nil
}

// byURL returns the stored record for (jobID, url), used by JSONLSink to
// tell whether an Upsert call actually accepted a new record.
func (s *MemorySink) byURL(jobID, url string) (record.PageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return record.PageRecord{}, false
	}
	rec, ok := job.byURL[url]
	return rec, ok
}

func (s *MemorySink) JobExists(_ context.Context, jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return ok && !job.deleted
}

func (s *MemorySink) List(_ context.Context, jobID string) ([]record.PageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	out := make([]record.PageRecord, 0, len(job.order))
	for _, u := range job.order {
		out = append(out, job.byURL[u])
	}
	return out, nil
}

func (s *MemorySink) DeleteJob(_ context.Context, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.deleted = true
		job.byURL = map[string]record.PageRecord{}
		job.order = nil
		return
	}
	s.jobs[jobID] = &jobRecords{byURL: map[string]record.PageRecord{}, deleted: true}
}
