package stream

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/catalog"
	"github.com/turbine-data/adsync/internal/platform"
)

// testEntry builds a catalog entry with every field selected.
func testEntry(name string, fields ...string) *catalog.Entry {
	metadata := []catalog.Metadata{{
		Breadcrumb: []string{},
		Metadata:   map[string]any{"selected": true},
	}}
	properties := map[string]any{}
	for _, f := range fields {
		metadata = append(metadata, catalog.Metadata{
			Breadcrumb: []string{"properties", f},
			Metadata:   map[string]any{"selected": true},
		})
		properties[f] = map[string]any{"type": []string{"null", "string"}}
	}
	return &catalog.Entry{
		Stream:      name,
		TapStreamID: name,
		Schema:      map[string]any{"type": "object", "properties": properties},
		Metadata:    metadata,
	}
}

func testStream(name string, entry *catalog.Entry, account platform.AccountAPI, user platform.UserAPI) *Stream {
	return &Stream{
		Name:          name,
		Entry:         entry,
		BookmarkKey:   catalog.BookmarkKey(name),
		KeyProperties: catalog.KeyProperties(name),
		Account:       account,
		User:          user,
		UserID:        "user-1",
		logger:        zap.NewNop(),
	}
}

func collect(emitted *[]Message) EmitFunc {
	return func(m Message) error {
		*emitted = append(*emitted, m)
		return nil
	}
}

type sliceCursor struct {
	rows []map[string]any
	pos  int
}

func (c *sliceCursor) Next(ctx context.Context) (map[string]any, error) {
	if c.pos >= len(c.rows) {
		return nil, io.EOF
	}
	row := c.rows[c.pos]
	c.pos++
	return row, nil
}

type listCall struct {
	edge   string
	fields []string
	params platform.ListParams
}

type fakeAccount struct {
	id   string
	rows map[string][]map[string]any

	calls     []listCall
	jobs      []*fakeJob
	submitted []platform.InsightsParams
}

func (a *fakeAccount) ID() string { return a.id }

func (a *fakeAccount) list(edge string, fields []string, params platform.ListParams) (platform.Cursor, error) {
	a.calls = append(a.calls, listCall{edge: edge, fields: fields, params: params})
	return &sliceCursor{rows: a.rows[edge]}, nil
}

func (a *fakeAccount) Ads(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	return a.list("ads", fields, params)
}

func (a *fakeAccount) AdSets(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	return a.list("adsets", fields, params)
}

func (a *fakeAccount) Campaigns(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	return a.list("campaigns", fields, params)
}

func (a *fakeAccount) Insights(ctx context.Context, params platform.InsightsParams) (platform.ReportJob, error) {
	a.submitted = append(a.submitted, params)
	if len(a.jobs) == 0 {
		return nil, fmt.Errorf("no job scripted for submission %d", len(a.submitted))
	}
	job := a.jobs[0]
	a.jobs = a.jobs[1:]
	return job, nil
}

type fakeJob struct {
	id        string
	statuses  []platform.JobStatus
	percents  []int
	refreshes int
	rows      []map[string]any
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Refresh(ctx context.Context) (platform.JobStatus, int, error) {
	i := j.refreshes
	if i >= len(j.statuses) {
		i = len(j.statuses) - 1
	}
	j.refreshes++
	percent := 100
	if i < len(j.percents) {
		percent = j.percents[i]
	}
	return j.statuses[i], percent, nil
}

func (j *fakeJob) Results(ctx context.Context) (platform.Cursor, error) {
	return &sliceCursor{rows: j.rows}, nil
}

func completedJob(id string, rows ...map[string]any) *fakeJob {
	return &fakeJob{id: id, statuses: []platform.JobStatus{platform.JobCompleted}, rows: rows}
}

type fakeUser struct {
	id    string
	rows  []map[string]any
	calls []listCall
}

func (u *fakeUser) ID() string { return u.id }

func (u *fakeUser) AdAccounts(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	u.calls = append(u.calls, listCall{edge: "adaccounts", fields: fields, params: params})
	return &sliceCursor{rows: u.rows}, nil
}

type fakeBatchAPI struct {
	failIDs map[string]error
	batches int
}

func (f *fakeBatchAPI) NewBatch() platform.Batch {
	f.batches++
	return &fakeBatch{api: f}
}

type fakeBatch struct {
	api  *fakeBatchAPI
	reqs []platform.BatchRequest
}

func (b *fakeBatch) Add(req platform.BatchRequest) {
	b.reqs = append(b.reqs, req)
}

func (b *fakeBatch) Len() int {
	return len(b.reqs)
}

func (b *fakeBatch) Execute(ctx context.Context) error {
	for _, req := range b.reqs {
		if err, ok := b.api.failIDs[req.ObjectID]; ok {
			return req.OnFailure(err)
		}
		if err := req.OnSuccess(map[string]any{"id": req.ObjectID}); err != nil {
			return err
		}
	}
	return nil
}

// fakeClock advances on every sleep so poll loops run instantly.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}
