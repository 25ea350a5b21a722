// Package storage defines the Persistence Sink port: the crawl controller's
// hand-off point for writing PageRecords, keyed by (job, canonical URL) with
// first-write-wins semantics.
package storage

import (
	"context"

	"github.com/sitescope/crawlcore/internal/record"
)

// Sink is the persistence boundary the crawl controller writes through.
// Implementations must treat Upsert as ON CONFLICT DO NOTHING: the first
// record written for a (job, URL) pair wins, later writes are silently
// dropped rather than overwriting.
type Sink interface {
	// Upsert stores rec unless a record already exists for (rec.JobID,
	// rec.URL), in which case it is a no-op.
	Upsert(ctx context.Context, rec record.PageRecord) error

	// JobExists reports whether jobID has any persisted records, used by
	// the controller to detect external job deletion mid-crawl.
	JobExists(ctx context.Context, jobID string) bool

	// List returns every record persisted for jobID, in insertion order.
	List(ctx context.Context, jobID string) ([]record.PageRecord, error)

	// DeleteJob removes all records for jobID. Used by tests and by
	// external job-deletion signals to simulate the job_deleted stop
	// condition.
	DeleteJob(ctx context.Context, jobID string)
}
