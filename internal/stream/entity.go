package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/catalog"
	"github.com/turbine-data/adsync/internal/platform"
	"github.com/turbine-data/adsync/internal/state"
)

// ErrUnknownStream indicates a configuration defect, not a remote
// condition; it is never retried.
var ErrUnknownStream = errors.New("unknown stream")

// DefaultResultReturnLimit is the pagination limit on list requests.
const DefaultResultReturnLimit = 100

// Kind is one variant of the closed entity-type set. Each variant owns
// its request construction and response interpretation; the sync loop
// stays variant-agnostic.
type Kind interface {
	Name() string
	List(ctx context.Context, s *IncrementalEntitySync, params platform.ListParams, emit EmitFunc) error
}

// KindFor resolves a stream name to its variant.
func KindFor(name string) (Kind, error) {
	switch name {
	case "ads":
		return adsKind{}, nil
	case "adsets":
		return adSetsKind{}, nil
	case "campaigns":
		return campaignsKind{}, nil
	case "adcreative":
		return creativeKind{}, nil
	case "adaccounts":
		return accountsKind{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
}

// mutableKinds carry an effective status and accept the active-only
// filter.
var mutableKinds = map[string]struct{}{
	"ads": {}, "adsets": {}, "campaigns": {}, "adcreative": {},
}

// IncrementalEntitySync extracts non-report entity types through the
// provider's filtered list endpoints, delegating to the batch dispatcher
// for types that require per-item lookup.
type IncrementalEntitySync struct {
	stream     *Stream
	kind       Kind
	bookmarks  *state.Bookmarks
	dispatcher *BatchDispatcher
	stats      *RunStats

	limit         int
	specifiedIDs  []string
	onlyTimeRange bool
	onlyActive    bool
	startDate     time.Time
	endDate       time.Time

	logger *zap.Logger
}

type EntityOption func(*IncrementalEntitySync)

func EntityWithLogger(logger *zap.Logger) EntityOption {
	return func(s *IncrementalEntitySync) {
		s.logger = logger
	}
}

func EntityWithLimit(limit int) EntityOption {
	return func(s *IncrementalEntitySync) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// EntityWithSpecifiedIDs restricts the sync to an explicit identifier
// allow-list. Debug/backfill override; wins over all other filters.
func EntityWithSpecifiedIDs(ids []string) EntityOption {
	return func(s *IncrementalEntitySync) {
		s.specifiedIDs = ids
	}
}

// EntityWithTimeRange filters listings to entities modified inside the
// configured [start, end] window.
func EntityWithTimeRange(start, end time.Time) EntityOption {
	return func(s *IncrementalEntitySync) {
		s.onlyTimeRange = true
		s.startDate = start
		s.endDate = end
	}
}

// EntityWithOnlyActive adds the active-status filter for the mutable,
// status-bearing entity types.
func EntityWithOnlyActive() EntityOption {
	return func(s *IncrementalEntitySync) {
		s.onlyActive = true
	}
}

func NewIncrementalEntitySync(
	s *Stream,
	kind Kind,
	bookmarks *state.Bookmarks,
	dispatcher *BatchDispatcher,
	stats *RunStats,
	opts ...EntityOption,
) *IncrementalEntitySync {
	sync := &IncrementalEntitySync{
		stream:     s,
		kind:       kind,
		bookmarks:  bookmarks,
		dispatcher: dispatcher,
		stats:      stats,
		limit:      DefaultResultReturnLimit,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(sync)
	}
	return sync
}

func (s *IncrementalEntitySync) Name() string {
	return s.stream.Name
}

// requestParams builds the list request: pagination limit plus one of
// three mutually exclusive filter modes (explicit id allow-list, closed
// time range, or no filter), optionally augmented by the active-status
// filter.
func (s *IncrementalEntitySync) requestParams() platform.ListParams {
	params := platform.ListParams{Limit: s.limit}

	if len(s.specifiedIDs) > 0 {
		params.Filtering = []platform.Filter{{
			Field:    "id",
			Operator: "IN",
			Value:    s.specifiedIDs,
		}}
		s.logger.Info("syncing specified ids",
			zap.String("stream", s.stream.Name),
			zap.String("user", s.stream.UserID),
			zap.String("account", s.stream.AccountID()),
			zap.Int("specified_ids_count", len(s.specifiedIDs)),
		)
		return params
	}

	if s.onlyTimeRange {
		params.Filtering = append(params.Filtering, platform.Filter{
			Field:    catalog.UpdatedTimeKey,
			Operator: "IN_RANGE",
			Value: []int64{
				s.startDate.Unix(),
				s.endDate.AddDate(0, 0, 1).Unix() - 1,
			},
		})
	}

	if s.onlyActive {
		if _, ok := mutableKinds[s.stream.Name]; ok {
			params.Filtering = append(params.Filtering, platform.OnlyActiveFilter())
		}
	}

	return params
}

func (s *IncrementalEntitySync) Sync(ctx context.Context, emit EmitFunc) error {
	if _, ok := s.bookmarks.Start(s.stream.Name, s.stream.BookmarkKey); !ok {
		s.logger.Info("no bookmark found for stream",
			zap.String("stream", s.stream.Name))
	}

	params := s.requestParams()
	s.logger.Info("syncing entity stream",
		zap.String("stream", s.stream.Name),
		zap.String("user", s.stream.UserID),
		zap.String("account", s.stream.AccountID()),
		zap.Any("params", params),
	)

	return s.kind.List(ctx, s, params, emit)
}

// forward drains a cursor into emit, counting each row as seen.
func (s *IncrementalEntitySync) forward(ctx context.Context, cursor platform.Cursor, emit EmitFunc, enrich func(map[string]any)) error {
	for {
		rec, err := cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		s.stats.RecordsSeen++
		if enrich != nil {
			enrich(rec)
		}
		if err := emit(Message{Record: rec}); err != nil {
			return err
		}
	}
}

type adsKind struct{}

func (adsKind) Name() string { return "ads" }

func (adsKind) List(ctx context.Context, s *IncrementalEntitySync, params platform.ListParams, emit EmitFunc) error {
	cursor, err := s.stream.Account.Ads(ctx, s.stream.Fields(), params)
	if err != nil {
		return err
	}
	return s.forward(ctx, cursor, emit, nil)
}

type adSetsKind struct{}

func (adSetsKind) Name() string { return "adsets" }

func (adSetsKind) List(ctx context.Context, s *IncrementalEntitySync, params platform.ListParams, emit EmitFunc) error {
	cursor, err := s.stream.Account.AdSets(ctx, s.stream.Fields(), params)
	if err != nil {
		return err
	}
	return s.forward(ctx, cursor, emit, nil)
}

type campaignsKind struct{}

func (campaignsKind) Name() string { return "campaigns" }

func (campaignsKind) List(ctx context.Context, s *IncrementalEntitySync, params platform.ListParams, emit EmitFunc) error {
	cursor, err := s.stream.Account.Campaigns(ctx, s.stream.Fields(), params)
	if err != nil {
		return err
	}
	return s.forward(ctx, cursor, emit, nil)
}

type accountsKind struct{}

func (accountsKind) Name() string { return "adaccounts" }

func (accountsKind) List(ctx context.Context, s *IncrementalEntitySync, params platform.ListParams, emit EmitFunc) error {
	cursor, err := s.stream.User.AdAccounts(ctx, s.stream.Fields(), params)
	if err != nil {
		return err
	}
	return s.forward(ctx, cursor, emit, func(rec map[string]any) {
		rec["user_id"] = s.stream.UserID
	})
}

// pendingIDs is the intermediate of the two-phase creative fetch: the
// distinct creative identifiers referenced by the account's ads.
type pendingIDs map[string]struct{}

func (p pendingIDs) add(id string) {
	if id != "" {
		p[id] = struct{}{}
	}
}

func (p pendingIDs) sorted() []string {
	out := make([]string, 0, len(p))
	for id := range p {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// creativeKind cannot be filtered server-side by modification time, so
// it runs a two-stage pipeline: list the parent ads for their creative
// references, then batch-fetch the distinct creatives by id.
type creativeKind struct{}

func (creativeKind) Name() string { return "adcreative" }

func (creativeKind) List(ctx context.Context, s *IncrementalEntitySync, params platform.ListParams, emit EmitFunc) error {
	ads, err := s.stream.Account.Ads(ctx, []string{"creative"}, params)
	if err != nil {
		return err
	}

	pending := pendingIDs{}
	for {
		rec, err := ads.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if creative, ok := rec["creative"].(map[string]any); ok {
			if id, ok := creative["id"].(string); ok {
				pending.add(id)
			}
		}
	}

	if len(pending) == 0 {
		return nil
	}

	return s.dispatcher.Fetch(ctx, pending.sorted(), params, emit)
}
