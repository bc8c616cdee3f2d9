package stream

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/platform"
	"github.com/turbine-data/adsync/internal/retry"
	"github.com/turbine-data/adsync/internal/state"
)

const (
	// Async report jobs are opaque and occasionally stuck. Bounded
	// polling plus the outer retry caps wasted wall-clock time while
	// tolerating normal multi-minute completion latency.
	maxWaitToStart  = 2 * time.Minute
	maxWaitToFinish = 30 * time.Minute

	pollInitialSleep = 10 * time.Second
	pollMaxSleep     = 5 * time.Minute

	// DefaultChunkDays is the maximum day-ranges per report job.
	DefaultChunkDays = 7

	// DefaultBufferDays re-opens a backward window behind the bookmark
	// to absorb late attribution.
	DefaultBufferDays = 28

	// DefaultResultLimit is the result page size requested per job.
	DefaultResultLimit = 100
)

var allActionAttributionWindows = []string{
	"1d_click", "7d_click", "28d_click",
	"1d_view", "7d_view", "28d_view",
}

var allActionBreakdowns = []string{
	"action_type", "action_target_id", "action_destination",
}

// Breakdown dimension fields arrive as report columns but are rejected
// by the provider when requested as fields; they are stripped from the
// field selection before submission.
var invalidInsightsFields = map[string]struct{}{
	"impression_device": {}, "publisher_platform": {}, "platform_position": {},
	"age": {}, "gender": {}, "country": {}, "placement": {}, "region": {},
	"dma": {}, "device_platform": {},
}

// InsightsOptions select the report shape for one insights stream.
type InsightsOptions struct {
	Level       string
	Breakdowns  []string
	PrimaryKeys []string
}

// OptionsFor returns the report options for an insights stream name.
func OptionsFor(name string) (InsightsOptions, bool) {
	opts, ok := insightsOptions[name]
	return opts, ok
}

var insightsOptions = map[string]InsightsOptions{
	"accounts_insights": {Level: "account"},
	"ads_insights":      {Level: "ad"},
	"ads_insights_age_gender": {
		Level:       "ad",
		Breakdowns:  []string{"age", "gender"},
		PrimaryKeys: []string{"age", "gender"},
	},
	"ads_insights_device_platform": {
		Level:       "ad",
		Breakdowns:  []string{"device_platform"},
		PrimaryKeys: []string{"device_platform"},
	},
	"ads_insights_placement": {
		Level:       "ad",
		Breakdowns:  []string{"publisher_platform", "platform_position", "impression_device"},
		PrimaryKeys: []string{"publisher_platform", "platform_position", "impression_device"},
	},
}

// InsightsJobScheduler turns "get performance metrics for the open
// window" into a series of async report jobs, polls them to completion,
// streams their rows and advances the stream bookmark chunk by chunk.
type InsightsJobScheduler struct {
	stream    *Stream
	bookmarks *state.Bookmarks
	retrier   *retry.Executor
	stats     *RunStats

	options InsightsOptions

	startDate   time.Time
	endDate     time.Time // zero means "now"
	bufferDays  int
	chunkDays   int
	resultLimit int

	timeIncrement int

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

type InsightsOption func(*InsightsJobScheduler)

func InsightsWithLogger(logger *zap.Logger) InsightsOption {
	return func(s *InsightsJobScheduler) {
		s.logger = logger
	}
}

func InsightsWithBufferDays(days int) InsightsOption {
	return func(s *InsightsJobScheduler) {
		if days >= 0 {
			s.bufferDays = days
		}
	}
}

func InsightsWithChunkDays(days int) InsightsOption {
	return func(s *InsightsJobScheduler) {
		if days > 0 {
			s.chunkDays = days
		}
	}
}

func InsightsWithResultLimit(limit int) InsightsOption {
	return func(s *InsightsJobScheduler) {
		if limit > 0 {
			s.resultLimit = limit
		}
	}
}

func InsightsWithEndDate(end time.Time) InsightsOption {
	return func(s *InsightsJobScheduler) {
		s.endDate = end
	}
}

// InsightsWithClock overrides wall-clock reads and sleeps. Tests drive
// the poll loop with a synthetic clock.
func InsightsWithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) InsightsOption {
	return func(s *InsightsJobScheduler) {
		s.now = now
		s.sleep = sleep
	}
}

func NewInsightsJobScheduler(
	s *Stream,
	bookmarks *state.Bookmarks,
	retrier *retry.Executor,
	stats *RunStats,
	options InsightsOptions,
	startDate time.Time,
	opts ...InsightsOption,
) *InsightsJobScheduler {
	sched := &InsightsJobScheduler{
		stream:        s,
		bookmarks:     bookmarks,
		retrier:       retrier,
		stats:         stats,
		options:       options,
		startDate:     startDate,
		bufferDays:    DefaultBufferDays,
		chunkDays:     DefaultChunkDays,
		resultLimit:   DefaultResultLimit,
		timeIncrement: 1,
		now:           time.Now,
		sleep:         sleepWithContext,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *InsightsJobScheduler) Name() string {
	return s.stream.Name
}

// reportFields is the selected field set minus breakdown dimensions.
func (s *InsightsJobScheduler) reportFields() []string {
	var out []string
	for _, f := range s.stream.Fields() {
		if _, invalid := invalidInsightsFields[f]; invalid {
			continue
		}
		out = append(out, f)
	}
	return out
}

// jobParams returns an iterator over chunk parameter sets. Chunks walk
// backward from the end boundary toward the buffered start in groups of
// at most chunkDays single-day ranges, newest day first, without ever
// materializing the full window.
func (s *InsightsJobScheduler) jobParams(start time.Time) func() (platform.InsightsParams, bool) {
	end := s.endDate
	if end.IsZero() {
		end = s.now()
	}
	buffered := start.AddDate(0, 0, -s.bufferDays)
	done := buffered.After(end)

	return func() (platform.InsightsParams, bool) {
		if done {
			return platform.InsightsParams{}, false
		}

		loopDays := int(end.Sub(buffered).Hours() / 24)
		loops := s.chunkDays
		if loopDays < s.chunkDays {
			loops = loopDays + 1
			done = true
		}

		ranges := make([]platform.TimeRange, 0, loops)
		for i := 0; i < loops; i++ {
			day := end.AddDate(0, 0, -i).Format("2006-01-02")
			ranges = append(ranges, platform.TimeRange{Since: day, Until: day})
		}

		params := platform.InsightsParams{
			Level:                    s.options.Level,
			ActionBreakdowns:         allActionBreakdowns,
			Breakdowns:               s.options.Breakdowns,
			Limit:                    s.resultLimit,
			Fields:                   s.reportFields(),
			TimeIncrement:            s.timeIncrement,
			ActionAttributionWindows: allActionAttributionWindows,
			TimeRanges:               ranges,
		}

		if !done {
			end = end.AddDate(0, 0, -s.chunkDays)
		}
		return params, true
	}
}

// runJob submits one async report job and polls it to completion. The
// sleep between polls starts at 10s and doubles to a 5 minute cap. A job
// stuck at 0% past the start budget, or unfinished past the finish
// budget, raises a transient timeout so the outer retry re-submits the
// whole chunk.
func (s *InsightsJobScheduler) runJob(ctx context.Context, params platform.InsightsParams) (platform.ReportJob, error) {
	s.logger.Info("submitting report job",
		zap.String("stream", s.stream.Name),
		zap.String("user", s.stream.UserID),
		zap.String("account", s.stream.AccountID()),
		zap.Any("time_ranges", params.TimeRanges),
	)

	job, err := s.stream.Account.Insights(ctx, params)
	if err != nil {
		return nil, err
	}

	fsm := newJobFSM(s.logger)
	started := s.now()
	sleep := pollInitialSleep

	for {
		status, percent, err := job.Refresh(ctx)
		if err != nil {
			return nil, err
		}

		s.logger.Info("report job status",
			zap.String("stream", s.stream.Name),
			zap.String("job_id", job.ID()),
			zap.String("status", string(status)),
			zap.Int("percentage", percent),
		)

		if err := fsm.Transition(status); err != nil {
			return nil, err
		}

		switch status {
		case platform.JobCompleted:
			return job, nil
		case platform.JobFailed:
			return nil, &platform.JobFailedError{JobID: job.ID()}
		}

		elapsed := s.now().Sub(started)
		if elapsed > maxWaitToStart && percent == 0 {
			return nil, &platform.JobTimeoutError{
				JobID:   job.ID(),
				Phase:   platform.JobPhaseStart,
				Elapsed: elapsed,
				Limit:   maxWaitToStart,
			}
		}
		if elapsed > maxWaitToFinish {
			return nil, &platform.JobTimeoutError{
				JobID:   job.ID(),
				Phase:   platform.JobPhaseFinish,
				Elapsed: elapsed,
				Limit:   maxWaitToFinish,
			}
		}

		s.logger.Info("sleeping until the job is done",
			zap.String("job_id", job.ID()),
			zap.Duration("sleep", sleep),
		)
		if err := s.sleep(ctx, sleep); err != nil {
			return nil, err
		}
		if sleep < pollMaxSleep {
			sleep *= 2
		}
	}
}

// Sync walks the chunk sequence: run each job under the retry budget,
// stream its useful rows, then advance the bookmark to the minimum
// date_stop the job covered before moving to the next chunk.
func (s *InsightsJobScheduler) Sync(ctx context.Context, emit EmitFunc) error {
	start, ok := s.bookmarks.Start(s.stream.Name, s.stream.BookmarkKey)
	if !ok {
		start = s.startDate
		s.logger.Info("no bookmark found, using start date",
			zap.String("stream", s.stream.Name),
			zap.Time("start_date", start),
		)
	}

	next := s.jobParams(start)
	for {
		params, ok := next()
		if !ok {
			return nil
		}

		var job platform.ReportJob
		err := s.retrier.Do(ctx, func() error {
			j, err := s.runJob(ctx, params)
			if err != nil {
				return err
			}
			job = j
			return nil
		})
		if err != nil {
			return err
		}

		minDateStop, count, useful, err := s.drainJob(ctx, job, emit)
		if err != nil {
			return err
		}

		s.logger.Info("report job results",
			zap.String("stream", s.stream.Name),
			zap.String("user", s.stream.UserID),
			zap.String("account", s.stream.AccountID()),
			zap.Int("count", count),
			zap.Int("useful", useful),
		)

		// A job with zero rows still covered its window; fall back to
		// the oldest day of the chunk so the bookmark keeps moving.
		if minDateStop == "" {
			for _, tr := range params.TimeRanges {
				if tr.Until != "" {
					minDateStop = tr.Until
				}
			}
		}

		doc := s.bookmarks.Advance(s.stream.Name, s.stream.BookmarkKey, parseDay(minDateStop))
		if err := emit(Message{State: doc}); err != nil {
			return err
		}
	}
}

// drainJob streams the rows of a completed job, tracking the minimum
// date_stop across all rows (first minimum wins on ties). Rows with zero
// impressions and zero spend are extraction noise: counted as seen,
// never emitted.
func (s *InsightsJobScheduler) drainJob(ctx context.Context, job platform.ReportJob, emit EmitFunc) (string, int, int, error) {
	cursor, err := job.Results(ctx)
	if err != nil {
		return "", 0, 0, err
	}

	var minDateStop string
	count := 0
	useful := 0

	for {
		rec, err := cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", count, useful, err
		}

		s.stats.RecordsSeen++
		count++

		if ds, ok := rec["date_stop"].(string); ok {
			if minDateStop == "" || ds < minDateStop {
				minDateStop = ds
			}
		}

		if numericValue(rec["impressions"]) == 0 && numericValue(rec["spend"]) == 0 {
			continue
		}

		s.stats.UsefulRecords++
		useful++
		if err := emit(Message{Record: rec}); err != nil {
			return "", count, useful, err
		}
	}

	return minDateStop, count, useful, nil
}

func numericValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func parseDay(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
