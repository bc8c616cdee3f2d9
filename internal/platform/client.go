// Package platform defines the capability surface the extraction engine
// needs from the remote advertising API: filtered list operations, the
// async report-job triple (submit/poll/results), the batch primitive with
// per-item callbacks, and structured errors carrying retry metadata. The
// engine depends only on these interfaces, never on a transport.
package platform

import "context"

// Cursor iterates rows of a paged listing or a report result set.
// Next returns io.EOF once the sequence is exhausted.
type Cursor interface {
	Next(ctx context.Context) (map[string]any, error)
}

// JobStatus is the modeled lifecycle of an async report job.
type JobStatus string

const (
	JobCreated   JobStatus = "Created"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
)

// ReportJob is one in-flight asynchronous report computation.
type ReportJob interface {
	ID() string

	// Refresh re-fetches the job and returns its status and
	// percent-complete.
	Refresh(ctx context.Context) (JobStatus, int, error)

	// Results streams the rows of a completed job.
	Results(ctx context.Context) (Cursor, error)
}

// AccountAPI exposes the per-account list operations and report
// submission of the remote platform.
type AccountAPI interface {
	ID() string
	Ads(ctx context.Context, fields []string, params ListParams) (Cursor, error)
	AdSets(ctx context.Context, fields []string, params ListParams) (Cursor, error)
	Campaigns(ctx context.Context, fields []string, params ListParams) (Cursor, error)

	// Insights submits an asynchronous report job.
	Insights(ctx context.Context, params InsightsParams) (ReportJob, error)
}

// UserAPI exposes the user-scoped listings.
type UserAPI interface {
	ID() string
	AdAccounts(ctx context.Context, fields []string, params ListParams) (Cursor, error)
}

// BatchRequest is one unit of a batch lookup: an object identifier plus
// the callbacks invoked with its individual outcome. A non-nil return
// from either callback aborts the batch execution.
type BatchRequest struct {
	ObjectID  string
	Fields    []string
	Params    ListParams
	OnSuccess func(row map[string]any) error
	OnFailure func(err error) error
}

// Batch accumulates lookups and executes them as one request.
type Batch interface {
	Add(req BatchRequest)
	Len() int
	Execute(ctx context.Context) error
}

// BatchAPI mints batches.
type BatchAPI interface {
	NewBatch() Batch
}
