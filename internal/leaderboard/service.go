package leaderboard

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/errors"
	"github.com/victornm/truenorth/internal/event"
	"github.com/victornm/truenorth/internal/store"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200

	defaultCacheTTL = 30 * time.Second
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	// Redis caches top-N reads. Nil disables the cache.
	Redis    redis.UniversalClient
	Prefix   string
	CacheTTL time.Duration
	// Location decides which calendar day a finish belongs to. Nil means UTC.
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	st       store.Store
	eb       *event.Bus
	redis    redis.UniversalClient
	prefix   string
	cacheTTL time.Duration
	loc      *time.Location
	now      func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		st:       c.Store,
		eb:       c.EventBus,
		redis:    c.Redis,
		prefix:   c.Prefix,
		cacheTTL: c.CacheTTL,
		loc:      c.Location,
		now:      c.Now,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Bucket returns the day key of the daily leaderboard t belongs to.
func (s *Service) Bucket(t time.Time) string {
	return t.In(s.loc).Format(domain.DayLayout)
}

// Today returns the day key of the current daily leaderboard.
func (s *Service) Today() string {
	return s.Bucket(s.now())
}

// EstimateRank returns the rank e would take among entries: one plus the number of entries
// ordered before it.
func EstimateRank(entries []domain.LeaderboardEntry, e domain.LeaderboardEntry) int {
	rank := 1
	for _, other := range entries {
		if other.SessionID != e.SessionID && domain.CompareEntries(other, e) < 0 {
			rank++
		}
	}
	return rank
}

// Rank sorts entries in ranking order and assigns ranks 1..N.
func Rank(entries []domain.LeaderboardEntry) {
	slices.SortFunc(entries, domain.CompareEntries)
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Record adds the entry of a finished session to its bucket and re-ranks the bucket, all
// within tx. It returns the rank estimated before the insert.
func (s *Service) Record(ctx context.Context, tx store.Tx, e domain.LeaderboardEntry) (int, error) {
	if err := tx.LockBucket(ctx, e.Date); err != nil {
		return 0, fmt.Errorf("lock bucket %s: %w", e.Date, err)
	}

	entries, err := tx.ListEntries(ctx, e.Date)
	if err != nil {
		return 0, fmt.Errorf("list bucket %s: %w", e.Date, err)
	}

	rank := EstimateRank(entries, e)
	e.Rank = rank

	if err := tx.InsertEntry(ctx, e); err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}

	if err := s.rerank(ctx, tx, e.Date, append(entries, e)); err != nil {
		return 0, err
	}

	return rank, nil
}

// RecomputeRanks re-ranks every entry of a bucket within tx.
func (s *Service) RecomputeRanks(ctx context.Context, tx store.Tx, date string) error {
	if err := tx.LockBucket(ctx, date); err != nil {
		return fmt.Errorf("lock bucket %s: %w", date, err)
	}

	entries, err := tx.ListEntries(ctx, date)
	if err != nil {
		return fmt.Errorf("list bucket %s: %w", date, err)
	}

	return s.rerank(ctx, tx, date, entries)
}

func (s *Service) rerank(ctx context.Context, tx store.Tx, date string, entries []domain.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}

	before := make(map[string]int, len(entries))
	for _, e := range entries {
		before[e.SessionID] = e.Rank
	}

	Rank(entries)

	changed := make(map[string]int)
	for _, e := range entries {
		if before[e.SessionID] != e.Rank {
			changed[e.SessionID] = e.Rank
		}
	}
	if len(changed) == 0 {
		return nil
	}

	if err := tx.SetRanks(ctx, date, changed); err != nil {
		return fmt.Errorf("set ranks %s: %w", date, err)
	}
	return nil
}

type TopRequest struct {
	Period domain.Period
	Limit  int
}

type TopResponse struct {
	Period    domain.Period
	Date      string
	Standings []domain.Standing
}

// Top returns the best standings of the daily or all-time leaderboard. Daily standings carry
// their stored rank, all-time standings their position.
func (s *Service) Top(ctx context.Context, req TopRequest) (*TopResponse, error) {
	period, ok := domain.ParsePeriod(string(req.Period))
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("unknown period %q", req.Period),
		)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	resp := &TopResponse{Period: period}
	if period == domain.PeriodToday {
		resp.Date = s.Today()
	}

	key, cached := s.readCache(ctx, resp.Date, limit, &resp.Standings)
	if cached {
		return resp, nil
	}

	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		resp.Standings, err = tx.TopStandings(ctx, resp.Date, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("top standings: %w", err)
	}

	if period == domain.PeriodAll {
		for i := range resp.Standings {
			resp.Standings[i].Rank = i + 1
		}
	}
	if resp.Standings == nil {
		resp.Standings = []domain.Standing{}
	}

	s.writeCache(ctx, key, resp.Standings)
	return resp, nil
}

// Changed invalidates cached reads and notifies listeners that rankings changed. It must be
// called after the change is committed.
func (s *Service) Changed(ctx context.Context, reason string) {
	if s.redis != nil {
		if err := s.redis.Incr(ctx, s.generationKey()).Err(); err != nil {
			slog.ErrorContext(ctx, "leaderboard: invalidate cache failed", "error", err)
		}
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Reason: reason})
	}
}

func (s *Service) readCache(ctx context.Context, date string, limit int, dst *[]domain.Standing) (string, bool) {
	if s.redis == nil {
		return "", false
	}

	gen, err := s.redis.Get(ctx, s.generationKey()).Int64()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		slog.WarnContext(ctx, "leaderboard: read cache generation failed", "error", err)
		return "", false
	}

	key := s.topKey(gen, date, limit)
	b, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "leaderboard: read cache failed", "error", err)
		}
		return key, false
	}

	if err := json.Unmarshal(b, dst); err != nil {
		slog.WarnContext(ctx, "leaderboard: decode cache failed", "key", key, "error", err)
		return key, false
	}

	return key, true
}

func (s *Service) writeCache(ctx context.Context, key string, standings []domain.Standing) {
	if s.redis == nil || key == "" {
		return
	}

	b, err := json.Marshal(standings)
	if err != nil {
		slog.WarnContext(ctx, "leaderboard: encode cache failed", "error", err)
		return
	}

	if err := s.redis.Set(ctx, key, b, s.cacheTTL).Err(); err != nil {
		slog.WarnContext(ctx, "leaderboard: write cache failed", "key", key, "error", err)
	}
}

func (s *Service) generationKey() string {
	return fmt.Sprintf("%s:leaderboard:generation", s.prefix)
}

func (s *Service) topKey(gen int64, date string, limit int) string {
	if date == "" {
		date = string(domain.PeriodAll)
	}
	return fmt.Sprintf("%s:leaderboard:%d:%s:%d", s.prefix, gen, date, limit)
}
