package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sitescope/crawlcore/internal/metadata"
	"github.com/sitescope/crawlcore/internal/record"
	"github.com/sitescope/crawlcore/pkg/fileutil"
)

// JSONLSink wraps a MemorySink for reads/dedup bookkeeping and appends every
// newly accepted record to a <outputDir>/<jobID>.jsonl debug artifact, one
// JSON object per line. It exists so a crawl run leaves a human-inspectable
// trail behind in outputDir, the way the teacher's pipeline writes page
// artifacts to disk.
type JSONLSink struct {
	mem       *MemorySink
	outputDir string
	sink      metadata.MetadataSink

	mu      sync.Mutex
	files   map[string]*os.File
}

// NewJSONLSink creates a JSONLSink that writes under outputDir. metaSink may
// be nil, in which case artifact writes are simply not recorded.
func NewJSONLSink(outputDir string, metaSink metadata.MetadataSink) *JSONLSink {
	return &JSONLSink{
		mem:       NewMemorySink(),
		outputDir: outputDir,
		sink:      metaSink,
		files:     map[string]*os.File{},
	}
}

func (s *JSONLSink) Upsert(ctx context.Context, rec record.PageRecord) error {
	if err := s.mem.Upsert(ctx, rec); err != nil {
		return err
	}

	// Upsert is a no-op on duplicates; only append when the in-memory sink
	// actually accepted the record as new.
	stored, ok := s.mem.byURL(rec.JobID, rec.URL)
	if !ok || stored.FetchedAt != rec.FetchedAt {
		return nil
	}

	path, err := s.appendLine(rec)
	if err != nil {
		return &StorageError{Message: err.Error(), Cause: ErrCauseTransient, Retryable: true}
	}
	if s.sink != nil {
		s.sink.RecordArtifact(metadata.ArtifactPageRecord, path, []metadata.Attribute{
			metadata.NewAttr(metadata.AttrURL, rec.URL),
		})
	}
	return nil
}

func (s *JSONLSink) appendLine(rec record.PageRecord) (string, error) {
	if err := fileutil.EnsureDir(s.outputDir); err != nil {
		return "", fmt.Errorf("ensure output dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[rec.JobID]
	if !ok {
		path := filepath.Join(s.outputDir, rec.JobID+".jsonl")
		var err error
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return "", err
		}
		s.files[rec.JobID] = f
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (s *JSONLSink) JobExists(ctx context.Context, jobID string) bool {
	return s.mem.JobExists(ctx, jobID)
}

func (s *JSONLSink) List(ctx context.Context, jobID string) ([]record.PageRecord, error) {
	return s.mem.List(ctx, jobID)
}

func (s *JSONLSink) DeleteJob(ctx context.Context, jobID string) {
	s.mem.DeleteJob(ctx, jobID)
}

// Close closes any open per-job JSONL file handles.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
