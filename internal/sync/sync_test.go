package sync

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-data/adsync/internal/catalog"
	"github.com/turbine-data/adsync/internal/platform"
	"github.com/turbine-data/adsync/internal/state"
)

func testEntry(name string, selected bool, fields ...string) *catalog.Entry {
	metadata := []catalog.Metadata{{
		Breadcrumb: []string{},
		Metadata:   map[string]any{"selected": selected},
	}}
	properties := map[string]any{}
	for _, f := range fields {
		metadata = append(metadata, catalog.Metadata{
			Breadcrumb: []string{"properties", f},
			Metadata:   map[string]any{"selected": true},
		})
		prop := map[string]any{"type": []string{"null", "string"}}
		if f == "updated_time" || f == "created_time" || f == "date_start" || f == "date_stop" {
			prop["format"] = "date-time"
		}
		properties[f] = prop
	}
	return &catalog.Entry{
		Stream:      name,
		TapStreamID: name,
		Schema:      map[string]any{"type": "object", "properties": properties},
		Metadata:    metadata,
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

type fakeAccount struct {
	id   string
	rows map[string][]map[string]any

	listed      []platform.ListParams
	jobs        []*fakeJob
	submitted   []platform.InsightsParams
	insightsErr error
}

func (a *fakeAccount) ID() string { return a.id }

func (a *fakeAccount) Ads(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	a.listed = append(a.listed, params)
	return &sliceCursor{rows: a.rows["ads"]}, nil
}

func (a *fakeAccount) AdSets(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	a.listed = append(a.listed, params)
	return &sliceCursor{rows: a.rows["adsets"]}, nil
}

func (a *fakeAccount) Campaigns(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	a.listed = append(a.listed, params)
	return &sliceCursor{rows: a.rows["campaigns"]}, nil
}

func (a *fakeAccount) Insights(ctx context.Context, params platform.InsightsParams) (platform.ReportJob, error) {
	if a.insightsErr != nil {
		return nil, a.insightsErr
	}
	a.submitted = append(a.submitted, params)
	if len(a.jobs) == 0 {
		return nil, fmt.Errorf("no job scripted")
	}
	job := a.jobs[0]
	a.jobs = a.jobs[1:]
	return job, nil
}

type fakeJob struct {
	id   string
	rows []map[string]any
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Refresh(ctx context.Context) (platform.JobStatus, int, error) {
	return platform.JobCompleted, 100, nil
}

func (j *fakeJob) Results(ctx context.Context) (platform.Cursor, error) {
	return &sliceCursor{rows: j.rows}, nil
}

type fakeBatchAPI struct{}

func (fakeBatchAPI) NewBatch() platform.Batch { return &fakeBatch{} }

type fakeBatch struct {
	reqs []platform.BatchRequest
}

func (b *fakeBatch) Add(req platform.BatchRequest) { b.reqs = append(b.reqs, req) }
func (b *fakeBatch) Len() int                      { return len(b.reqs) }
func (b *fakeBatch) Execute(ctx context.Context) error {
	for _, req := range b.reqs {
		if err := req.OnSuccess(map[string]any{"id": req.ObjectID}); err != nil {
			return err
		}
	}
	return nil
}

type memoryStore struct {
	docs  map[string]state.Document
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: map[string]state.Document{}}
}

func (m *memoryStore) Load(ctx context.Context, id string) (state.Document, error) {
	return m.docs[id], nil
}

func (m *memoryStore) Save(ctx context.Context, id string, doc state.Document) error {
	m.docs[id] = doc
	m.saves++
	return nil
}

type event struct {
	kind   string
	stream string
	record map[string]any
	doc    state.Document
}

type memoryEmitter struct {
	events []event
}

func (m *memoryEmitter) WriteSchema(stream string, schema map[string]any, keyProperties []string, bookmarkKey string) error {
	m.events = append(m.events, event{kind: "SCHEMA", stream: stream})
	return nil
}

func (m *memoryEmitter) WriteRecord(stream string, record map[string]any, extracted time.Time) error {
	m.events = append(m.events, event{kind: "RECORD", stream: stream, record: record})
	return nil
}

func (m *memoryEmitter) WriteState(doc state.Document) error {
	m.events = append(m.events, event{kind: "STATE", doc: doc})
	return nil
}

func (m *memoryEmitter) Close(ctx context.Context) error { return nil }

func day(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return parsed
}

func TestRunnerRun(t *testing.T) {
	t.Run("entity stream emits schema, records and advanced state", func(t *testing.T) {
		cat := &catalog.Catalog{Streams: []*catalog.Entry{
			testEntry("ads", true, "id", "name", "updated_time"),
		}}
		account := &fakeAccount{
			id: "act-1",
			rows: map[string][]map[string]any{
				"ads": {
					{"id": "1", "name": "a", "updated_time": "2024-01-03T10:00:00+0000"},
					{"id": "2", "name": "b", "updated_time": "2024-01-05T08:00:00+0000"},
				},
			},
		}
		store := newMemoryStore()
		emitted := &memoryEmitter{}

		runner := NewRunner(cat, account, fakeBatchAPI{}, store, "act-1", emitted,
			Options{StartDate: day(t, "2024-01-01"), EndDate: day(t, "2024-01-10")},
			WithClock(func() time.Time { return day(t, "2024-01-10") }),
		)

		require.NoError(t, runner.Run(context.Background()))

		require.Len(t, emitted.events, 4)
		assert.Equal(t, "SCHEMA", emitted.events[0].kind)
		assert.Equal(t, "ads", emitted.events[0].stream)
		assert.Equal(t, "RECORD", emitted.events[1].kind)
		assert.Equal(t, "RECORD", emitted.events[2].kind)
		assert.Equal(t, "STATE", emitted.events[3].kind)

		t.Run("datetimes are normalized to rfc3339 utc", func(t *testing.T) {
			assert.Equal(t, "2024-01-03T10:00:00Z", emitted.events[1].record["updated_time"])
		})

		t.Run("bookmark advances to the newest updated_time", func(t *testing.T) {
			doc := store.docs["act-1"]
			require.NotNil(t, doc)
			assert.Equal(t, "2024-01-05T08:00:00Z", doc["ads"]["updated_time"])
		})
	})

	t.Run("entity listings are unfiltered by default", func(t *testing.T) {
		cat := &catalog.Catalog{Streams: []*catalog.Entry{
			testEntry("ads", true, "id", "updated_time"),
		}}
		account := &fakeAccount{id: "act-1"}

		runner := NewRunner(cat, account, fakeBatchAPI{}, newMemoryStore(), "act-1", &memoryEmitter{},
			Options{StartDate: day(t, "2024-01-01"), EndDate: day(t, "2024-01-10")})

		require.NoError(t, runner.Run(context.Background()))

		require.Len(t, account.listed, 1)
		assert.Empty(t, account.listed[0].Filtering)
	})

	t.Run("only_time_range filters listings by the configured window", func(t *testing.T) {
		cat := &catalog.Catalog{Streams: []*catalog.Entry{
			testEntry("ads", true, "id", "updated_time"),
		}}
		account := &fakeAccount{id: "act-1"}
		start := day(t, "2024-01-01")
		end := day(t, "2024-01-10")

		runner := NewRunner(cat, account, fakeBatchAPI{}, newMemoryStore(), "act-1", &memoryEmitter{},
			Options{StartDate: start, EndDate: end, OnlyTimeRange: true})

		require.NoError(t, runner.Run(context.Background()))

		require.Len(t, account.listed, 1)
		filtering := account.listed[0].Filtering
		require.Len(t, filtering, 1)
		assert.Equal(t, "updated_time", filtering[0].Field)
		assert.Equal(t, "IN_RANGE", filtering[0].Operator)
		assert.Equal(t, []int64{
			start.Unix(),
			end.AddDate(0, 0, 1).Unix() - 1,
		}, filtering[0].Value)
	})

	t.Run("only_time_range resumes from the stream bookmark", func(t *testing.T) {
		cat := &catalog.Catalog{Streams: []*catalog.Entry{
			testEntry("ads", true, "id", "updated_time"),
		}}
		account := &fakeAccount{id: "act-1"}
		store := newMemoryStore()
		store.docs["act-1"] = state.Document{
			"ads": {"updated_time": "2024-01-05T00:00:00Z"},
		}
		end := day(t, "2024-01-10")

		runner := NewRunner(cat, account, fakeBatchAPI{}, store, "act-1", &memoryEmitter{},
			Options{StartDate: day(t, "2024-01-01"), EndDate: end, OnlyTimeRange: true})

		require.NoError(t, runner.Run(context.Background()))

		require.Len(t, account.listed, 1)
		filtering := account.listed[0].Filtering
		require.Len(t, filtering, 1)
		assert.Equal(t, []int64{
			day(t, "2024-01-05").Unix(),
			end.AddDate(0, 0, 1).Unix() - 1,
		}, filtering[0].Value)
	})

	t.Run("unselected streams are skipped", func(t *testing.T) {
		cat := &catalog.Catalog{Streams: []*catalog.Entry{
			testEntry("ads", false, "id", "updated_time"),
		}}
		account := &fakeAccount{id: "act-1"}
		emitted := &memoryEmitter{}

		runner := NewRunner(cat, account, fakeBatchAPI{}, newMemoryStore(), "act-1", emitted,
			Options{StartDate: day(t, "2024-01-01")})

		require.NoError(t, runner.Run(context.Background()))
		assert.Empty(t, emitted.events)
	})

	t.Run("insights stream persists state per chunk", func(t *testing.T) {
		cat := &catalog.Catalog{Streams: []*catalog.Entry{
			testEntry("ads_insights", true,
				"ad_id", "adset_id", "campaign_id", "date_start", "date_stop", "impressions", "spend"),
		}}
		account := &fakeAccount{
			id: "act-1",
			jobs: []*fakeJob{
				{id: "job-1", rows: []map[string]any{
					{"ad_id": "1", "date_start": "2024-01-09", "date_stop": "2024-01-09", "impressions": "4", "spend": "1"},
				}},
				{id: "job-2"},
			},
		}
		store := newMemoryStore()
		emitted := &memoryEmitter{}

		runner := NewRunner(cat, account, fakeBatchAPI{}, store, "act-1", emitted,
			Options{
				StartDate:          day(t, "2024-01-01"),
				EndDate:            day(t, "2024-01-10"),
				InsightsBufferDays: 2,
			},
			WithClock(func() time.Time { return day(t, "2024-01-10") }),
		)

		require.NoError(t, runner.Run(context.Background()))

		require.Len(t, account.submitted, 2)
		assert.Equal(t, 2, store.saves)

		// The first chunk's only row has date_stop 2024-01-09, so the
		// bookmark lands there; the empty second chunk cannot move it back.
		doc := store.docs["act-1"]
		require.NotNil(t, doc)
		assert.Equal(t, "2024-01-09T00:00:00Z", doc["ads_insights"]["date_start"])
	})

	t.Run("stream failure ends the run with an error", func(t *testing.T) {
		cat := &catalog.Catalog{Streams: []*catalog.Entry{
			testEntry("ads_insights", true, "ad_id", "date_start", "date_stop", "impressions", "spend"),
		}}
		account := &fakeAccount{
			id:          "act-1",
			insightsErr: &platform.RequestError{Method: "POST", Status: 400},
		}

		runner := NewRunner(cat, account, fakeBatchAPI{}, newMemoryStore(), "act-1", &memoryEmitter{},
			Options{StartDate: day(t, "2024-01-01"), EndDate: day(t, "2024-01-02")},
			WithClock(func() time.Time { return day(t, "2024-01-02") }),
		)

		err := runner.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ads_insights")
	})

	t.Run("user streams require a configured user", func(t *testing.T) {
		cat := &catalog.Catalog{Streams: []*catalog.Entry{
			testEntry("adaccounts", true, "id", "name", "user_id"),
		}}
		account := &fakeAccount{id: "act-1"}
		emitted := &memoryEmitter{}

		runner := NewRunner(cat, account, fakeBatchAPI{}, newMemoryStore(), "act-1", emitted,
			Options{StartDate: day(t, "2024-01-01")})

		require.NoError(t, runner.Run(context.Background()))
		assert.Empty(t, emitted.events)
	})
}

func TestNormalizeDateTimes(t *testing.T) {
	t.Run("provider offset format", func(t *testing.T) {
		rec := map[string]any{"updated_time": "2024-01-03T10:00:00+0000"}
		normalizeDateTimes(rec, []string{"updated_time"})
		assert.Equal(t, "2024-01-03T10:00:00Z", rec["updated_time"])
	})

	t.Run("rfc3339 with offset converts to utc", func(t *testing.T) {
		rec := map[string]any{"updated_time": "2024-01-03T10:00:00+02:00"}
		normalizeDateTimes(rec, []string{"updated_time"})
		assert.Equal(t, "2024-01-03T08:00:00Z", rec["updated_time"])
	})

	t.Run("unparseable values pass through", func(t *testing.T) {
		rec := map[string]any{"updated_time": "not-a-date"}
		normalizeDateTimes(rec, []string{"updated_time"})
		assert.Equal(t, "not-a-date", rec["updated_time"])
	})

	t.Run("missing fields are ignored", func(t *testing.T) {
		rec := map[string]any{"id": "1"}
		normalizeDateTimes(rec, []string{"updated_time"})
		assert.Equal(t, map[string]any{"id": "1"}, rec)
	})
}
