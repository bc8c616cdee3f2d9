package stream

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/platform"
)

// DefaultBatchSize bounds single-request payload size and the blast
// radius of a partial failure.
const DefaultBatchSize = 50

// BatchDispatcher fetches per-item detail that cannot be filtered
// server-side, via the provider batch endpoint, in fixed-size groups.
type BatchDispatcher struct {
	api    platform.BatchAPI
	stream *Stream
	size   int
	stats  *RunStats
	logger *zap.Logger
}

type BatchOption func(*BatchDispatcher)

func BatchWithSize(size int) BatchOption {
	return func(d *BatchDispatcher) {
		if size > 0 {
			d.size = size
		}
	}
}

func BatchWithLogger(logger *zap.Logger) BatchOption {
	return func(d *BatchDispatcher) {
		d.logger = logger
	}
}

func NewBatchDispatcher(api platform.BatchAPI, s *Stream, stats *RunStats, opts ...BatchOption) *BatchDispatcher {
	d := &BatchDispatcher{
		api:    api,
		stream: s,
		size:   DefaultBatchSize,
		stats:  stats,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch partitions ids into consecutive groups, enqueues one lookup per
// identifier and executes each group synchronously. A single item failure
// aborts the whole fetch with diagnostic context naming the identifiers
// dispatched in that group.
func (d *BatchDispatcher) Fetch(ctx context.Context, ids []string, params platform.ListParams, emit EmitFunc) error {
	total := len(ids)
	processed := 0

	for start := 0; start < total; start += d.size {
		end := start + d.size
		if end > total {
			end = total
		}
		group := ids[start:end]

		info := platform.NewInfo(d.stream.Name, "do_sync", d.stream.UserID, d.stream.AccountID())
		info.ProcessingIDs = strings.Join(group, ",")

		batch := d.api.NewBatch()
		for _, id := range group {
			batch.Add(platform.BatchRequest{
				ObjectID: id,
				Fields:   d.stream.Fields(),
				Params:   params,
				OnSuccess: func(row map[string]any) error {
					d.stats.RecordsSeen++
					return emit(Message{Record: row})
				},
				OnFailure: func(err error) error {
					return &platform.SyncError{Info: info, Err: err}
				},
			})
		}

		if err := batch.Execute(ctx); err != nil {
			return err
		}

		processed += len(group)
		d.logger.Info("batch progress",
			zap.String("stream", d.stream.Name),
			zap.String("user", d.stream.UserID),
			zap.String("account", d.stream.AccountID()),
			zap.Int("total", total),
			zap.Int("processed", processed),
			zap.String("percentage", fmt.Sprintf("%.0f%%", float64(processed)/float64(total)*100)),
		)
	}

	return nil
}
