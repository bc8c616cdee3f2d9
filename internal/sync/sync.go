// Package sync drives a full extraction run: it walks the catalog,
// builds the right syncer per stream, fans records out to the emitters
// and persists bookmark state as streams advance.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/catalog"
	"github.com/turbine-data/adsync/internal/emitter"
	"github.com/turbine-data/adsync/internal/platform"
	"github.com/turbine-data/adsync/internal/retry"
	"github.com/turbine-data/adsync/internal/state"
	"github.com/turbine-data/adsync/internal/stream"
)

// Options tune a run. Zero values fall back to the stream defaults.
type Options struct {
	StartDate time.Time
	EndDate   time.Time

	SpecifiedIDs  []string
	OnlyActive    bool
	OnlyTimeRange bool

	InsightsBufferDays int
	InsightsChunkDays  int
	ResultReturnLimit  int
	BatchRequestSize   int
}

// Runner executes one sync run over the selected catalog streams.
type Runner struct {
	catalog *catalog.Catalog
	account platform.AccountAPI
	user    platform.UserAPI
	batch   platform.BatchAPI

	store   state.Store
	stateID string
	emitter emitter.Emitter
	retrier *retry.Executor

	server *Server
	opts   Options
	userID string

	now    func() time.Time
	logger *zap.Logger
}

type RunnerOption func(*Runner)

func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithServer(s *Server) RunnerOption {
	return func(r *Runner) {
		r.server = s
	}
}

// WithUser enables the user-scoped streams.
func WithUser(api platform.UserAPI, userID string) RunnerOption {
	return func(r *Runner) {
		r.user = api
		r.userID = userID
	}
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

func WithRetrier(e *retry.Executor) RunnerOption {
	return func(r *Runner) {
		r.retrier = e
	}
}

func NewRunner(
	cat *catalog.Catalog,
	account platform.AccountAPI,
	batch platform.BatchAPI,
	store state.Store,
	stateID string,
	emit emitter.Emitter,
	opts Options,
	runnerOpts ...RunnerOption,
) *Runner {
	r := &Runner{
		catalog: cat,
		account: account,
		batch:   batch,
		store:   store,
		stateID: stateID,
		emitter: emit,
		opts:    opts,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range runnerOpts {
		opt(r)
	}
	if r.retrier == nil {
		r.retrier = retry.New(retry.WithLogger(r.logger))
	}
	return r
}

// Run syncs every selected stream in catalog order. The first stream
// failure ends the run with an error so the process exits non-zero.
func (r *Runner) Run(ctx context.Context) error {
	runID := uuid.NewString()
	r.logger.Info("starting sync run",
		zap.String("run_id", runID),
		zap.String("state_id", r.stateID),
	)

	doc, err := r.store.Load(ctx, r.stateID)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	bookmarks := state.NewBookmarks(doc, r.logger)

	for _, name := range catalog.StreamNames {
		entry := r.catalog.Entry(name)
		if entry == nil || !entry.Selected() {
			continue
		}
		if r.user == nil && name == "adaccounts" {
			r.logger.Info("skipping user-scoped stream, no user configured",
				zap.String("stream", name))
			continue
		}

		stats := &stream.RunStats{}
		if r.server != nil {
			r.server.Begin(name)
		}

		started := r.now()
		err := r.syncStream(ctx, entry, bookmarks, stats)
		elapsed := r.now().Sub(started)

		if r.server != nil {
			r.server.Finish(name, stats, err)
		}

		if err != nil {
			r.logger.Error("SYNC_FAILURE",
				zap.String("run_id", runID),
				zap.String("stream", name),
				zap.Int64("records_seen", stats.RecordsSeen),
				zap.Int64("useful_records", stats.UsefulRecords),
				zap.Duration("duration", elapsed),
				zap.Error(err),
			)
			return fmt.Errorf("stream %s: %w", name, err)
		}

		r.logger.Info("SYNC_SUCCESS",
			zap.String("run_id", runID),
			zap.String("stream", name),
			zap.Int64("records_seen", stats.RecordsSeen),
			zap.Int64("useful_records", stats.UsefulRecords),
			zap.Duration("duration", elapsed),
		)
	}

	return nil
}

func (r *Runner) syncStream(ctx context.Context, entry *catalog.Entry, bookmarks *state.Bookmarks, stats *stream.RunStats) error {
	s := stream.NewStream(entry, r.account, r.user, r.userID, r.logger)

	if err := r.emitter.WriteSchema(entry.Stream, entry.Schema, s.KeyProperties, s.BookmarkKey); err != nil {
		return err
	}

	syncer, err := r.syncerFor(s, bookmarks, stats)
	if err != nil {
		return err
	}

	dtFields := entry.DateTimeFields()
	var maxBookmark time.Time

	emitFn := func(m stream.Message) error {
		if m.State != nil {
			if err := r.emitter.WriteState(m.State); err != nil {
				return err
			}
			return r.store.Save(ctx, r.stateID, m.State)
		}

		normalizeDateTimes(m.Record, dtFields)
		if s.BookmarkKey != "" {
			if t, ok := recordTime(m.Record, s.BookmarkKey); ok && t.After(maxBookmark) {
				maxBookmark = t
			}
		}
		return r.emitter.WriteRecord(entry.Stream, m.Record, r.now().UTC())
	}

	if err := syncer.Sync(ctx, emitFn); err != nil {
		return err
	}

	// Insights schedulers emit their own state as chunks complete.
	// Entity streams advance here, off the newest bookmark value seen.
	if !catalog.IsInsights(entry.Stream) && s.BookmarkKey != "" && !maxBookmark.IsZero() {
		doc := bookmarks.Advance(entry.Stream, s.BookmarkKey, maxBookmark)
		if err := r.emitter.WriteState(doc); err != nil {
			return err
		}
		return r.store.Save(ctx, r.stateID, doc)
	}
	return nil
}

func (r *Runner) syncerFor(s *stream.Stream, bookmarks *state.Bookmarks, stats *stream.RunStats) (stream.Syncer, error) {
	if opts, ok := stream.OptionsFor(s.Name); ok {
		iopts := []stream.InsightsOption{stream.InsightsWithLogger(r.logger)}
		if r.opts.InsightsBufferDays > 0 {
			iopts = append(iopts, stream.InsightsWithBufferDays(r.opts.InsightsBufferDays))
		}
		if r.opts.InsightsChunkDays > 0 {
			iopts = append(iopts, stream.InsightsWithChunkDays(r.opts.InsightsChunkDays))
		}
		if r.opts.ResultReturnLimit > 0 {
			iopts = append(iopts, stream.InsightsWithResultLimit(r.opts.ResultReturnLimit))
		}
		if !r.opts.EndDate.IsZero() {
			iopts = append(iopts, stream.InsightsWithEndDate(r.opts.EndDate))
		}
		return stream.NewInsightsJobScheduler(s, bookmarks, r.retrier, stats, opts, r.opts.StartDate, iopts...), nil
	}

	kind, err := stream.KindFor(s.Name)
	if err != nil {
		return nil, err
	}

	bopts := []stream.BatchOption{stream.BatchWithLogger(r.logger)}
	if r.opts.BatchRequestSize > 0 {
		bopts = append(bopts, stream.BatchWithSize(r.opts.BatchRequestSize))
	}
	dispatcher := stream.NewBatchDispatcher(r.batch, s, stats, bopts...)

	eopts := []stream.EntityOption{stream.EntityWithLogger(r.logger)}
	if r.opts.ResultReturnLimit > 0 {
		eopts = append(eopts, stream.EntityWithLimit(r.opts.ResultReturnLimit))
	}
	if len(r.opts.SpecifiedIDs) > 0 {
		eopts = append(eopts, stream.EntityWithSpecifiedIDs(r.opts.SpecifiedIDs))
	} else if r.opts.OnlyTimeRange && s.BookmarkKey != "" {
		start, found := bookmarks.Start(s.Name, s.BookmarkKey)
		if !found {
			start = r.opts.StartDate
		}
		end := r.opts.EndDate
		if end.IsZero() {
			end = r.now().UTC()
		}
		eopts = append(eopts, stream.EntityWithTimeRange(start, end))
	}
	if r.opts.OnlyActive {
		eopts = append(eopts, stream.EntityWithOnlyActive())
	}

	return stream.NewIncrementalEntitySync(s, kind, bookmarks, dispatcher, stats, eopts...), nil
}

// datetimeLayouts are the wire formats the provider uses for datetime
// properties. Values that parse are rewritten as RFC3339 UTC; anything
// else passes through untouched.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

func normalizeDateTimes(record map[string]any, fields []string) {
	for _, f := range fields {
		raw, ok := record[f].(string)
		if !ok {
			continue
		}
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				record[f] = t.UTC().Format(time.RFC3339)
				break
			}
		}
	}
}

func recordTime(record map[string]any, key string) (time.Time, bool) {
	raw, ok := record[key].(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
