// Package memory is an in-process store. Transactions are serialized by a single lock and
// work on a copy of the state that replaces the live state on commit.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/store"
)

type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{
		state: &state{
			players:   make(map[string]domain.Player),
			questions: make(map[string]domain.Question),
			sessions:  make(map[string]domain.Session),
			answers:   make(map[string][]domain.Answer),
			entries:   make(map[string]domain.LeaderboardEntry),
		},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := s.state.clone()
	if err := fn(ctx, &tx{st: next}); err != nil {
		return err
	}

	s.state = next
	return nil
}

func (*Store) Close() error { return nil }

type state struct {
	players   map[string]domain.Player
	questions map[string]domain.Question
	sessions  map[string]domain.Session
	answers   map[string][]domain.Answer
	entries   map[string]domain.LeaderboardEntry // by session id
}

func (s *state) clone() *state {
	answers := make(map[string][]domain.Answer, len(s.answers))
	for k, v := range s.answers {
		answers[k] = slices.Clone(v)
	}

	return &state{
		players:   maps.Clone(s.players),
		questions: maps.Clone(s.questions),
		sessions:  maps.Clone(s.sessions),
		answers:   answers,
		entries:   maps.Clone(s.entries),
	}
}

type tx struct {
	st *state
}

func (t *tx) CreatePlayer(_ context.Context, p domain.Player) error {
	if _, ok := t.st.players[p.ID]; ok {
		return store.ErrConflict
	}
	t.st.players[p.ID] = p
	return nil
}

func (t *tx) GetPlayer(_ context.Context, id string) (domain.Player, error) {
	p, ok := t.st.players[id]
	if !ok {
		return domain.Player{}, store.ErrNotFound
	}
	return p, nil
}

func (t *tx) UpdateNickname(_ context.Context, id, nickname string) error {
	p, ok := t.st.players[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Nickname = nickname
	t.st.players[id] = p
	return nil
}

func (t *tx) LatestDevicePlayer(_ context.Context, deviceID string) (string, error) {
	var latest *domain.Session
	for _, s := range t.st.sessions {
		if s.DeviceID != deviceID {
			continue
		}
		if latest == nil || s.StartTime.After(latest.StartTime) {
			latest = &s
		}
	}
	if latest == nil {
		return "", store.ErrNotFound
	}
	return latest.PlayerID, nil
}

func (t *tx) ListQuestions(_ context.Context, activeOnly bool) ([]domain.Question, error) {
	qs := make([]domain.Question, 0, len(t.st.questions))
	for _, q := range t.st.questions {
		if activeOnly && !q.Active {
			continue
		}
		qs = append(qs, q)
	}
	slices.SortFunc(qs, func(a, b domain.Question) int {
		return cmp.Compare(a.Prompt, b.Prompt)
	})
	return qs, nil
}

func (t *tx) GetQuestion(_ context.Context, id string) (domain.Question, error) {
	q, ok := t.st.questions[id]
	if !ok {
		return domain.Question{}, store.ErrNotFound
	}
	return q, nil
}

func (t *tx) CountQuestions(context.Context) (int, error) {
	return len(t.st.questions), nil
}

func (t *tx) CreateQuestion(_ context.Context, q domain.Question) error {
	if _, ok := t.st.questions[q.ID]; ok {
		return store.ErrConflict
	}
	t.st.questions[q.ID] = q
	return nil
}

func (t *tx) UpdateQuestion(_ context.Context, q domain.Question) error {
	old, ok := t.st.questions[q.ID]
	if !ok {
		return store.ErrNotFound
	}
	q.Active = old.Active
	t.st.questions[q.ID] = q
	return nil
}

func (t *tx) SetQuestionActive(_ context.Context, id string, active bool) error {
	q, ok := t.st.questions[id]
	if !ok {
		return store.ErrNotFound
	}
	q.Active = active
	t.st.questions[id] = q
	return nil
}

func (t *tx) DeleteQuestion(_ context.Context, id string) error {
	if _, ok := t.st.questions[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.questions, id)
	return nil
}

// LockDevice is a no-op: the store lock already serializes transactions.
func (*tx) LockDevice(context.Context, string) error { return nil }

func (t *tx) OpenSessionByDevice(_ context.Context, deviceID string) (domain.Session, error) {
	for _, s := range t.st.sessions {
		if s.DeviceID == deviceID && s.Open() {
			return s, nil
		}
	}
	return domain.Session{}, store.ErrNotFound
}

func (t *tx) LockOpenSession(_ context.Context, id string) (domain.Session, error) {
	s, ok := t.st.sessions[id]
	if !ok || !s.Open() {
		return domain.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (t *tx) GetSession(_ context.Context, id string) (domain.Session, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (t *tx) CreateSession(_ context.Context, s domain.Session) error {
	if _, ok := t.st.sessions[s.ID]; ok {
		return store.ErrConflict
	}
	if _, err := t.OpenSessionByDevice(context.Background(), s.DeviceID); err == nil && s.Open() {
		return store.ErrConflict
	}
	t.st.sessions[s.ID] = s
	return nil
}

func (t *tx) CloseSession(_ context.Context, id string, end time.Time, durationMs int64) error {
	s, ok := t.st.sessions[id]
	if !ok || !s.Open() {
		return store.ErrNotFound
	}
	s.EndTime = &end
	s.DurationMs = &durationMs
	t.st.sessions[id] = s
	return nil
}

func (t *tx) AddScore(_ context.Context, id string, points int) (int, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	s.Score += points
	t.st.sessions[id] = s
	return s.Score, nil
}

func (t *tx) DeleteSession(_ context.Context, id string) error {
	if _, ok := t.st.sessions[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.sessions, id)
	delete(t.st.answers, id)
	delete(t.st.entries, id)
	return nil
}

func (t *tx) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	return slices.Clone(t.st.answers[sessionID]), nil
}

func (t *tx) InsertAnswer(_ context.Context, a domain.Answer) error {
	for _, prev := range t.st.answers[a.SessionID] {
		if prev.QuestionID == a.QuestionID || prev.OrderIndex == a.OrderIndex {
			return store.ErrConflict
		}
	}
	t.st.answers[a.SessionID] = append(t.st.answers[a.SessionID], a)
	return nil
}

func (*tx) LockBucket(context.Context, string) error { return nil }

func (t *tx) InsertEntry(_ context.Context, e domain.LeaderboardEntry) error {
	if _, ok := t.st.entries[e.SessionID]; ok {
		return store.ErrConflict
	}
	t.st.entries[e.SessionID] = e
	return nil
}

func (t *tx) GetEntry(_ context.Context, sessionID string) (domain.LeaderboardEntry, error) {
	e, ok := t.st.entries[sessionID]
	if !ok {
		return domain.LeaderboardEntry{}, store.ErrNotFound
	}
	return e, nil
}

func (t *tx) ListEntries(_ context.Context, date string) ([]domain.LeaderboardEntry, error) {
	var es []domain.LeaderboardEntry
	for _, e := range t.st.entries {
		if e.Date == date {
			es = append(es, e)
		}
	}
	slices.SortFunc(es, domain.CompareEntries)
	return es, nil
}

func (t *tx) SetRanks(_ context.Context, date string, ranks map[string]int) error {
	for id, rank := range ranks {
		e, ok := t.st.entries[id]
		if !ok || e.Date != date {
			return store.ErrNotFound
		}
		e.Rank = rank
		t.st.entries[id] = e
	}
	return nil
}

func (t *tx) DeleteEntries(_ context.Context, date string) error {
	for id, e := range t.st.entries {
		if date == "" || e.Date == date {
			delete(t.st.entries, id)
		}
	}
	return nil
}

func (t *tx) TopStandings(_ context.Context, date string, limit int) ([]domain.Standing, error) {
	var es []domain.LeaderboardEntry
	for _, e := range t.st.entries {
		if date == "" || e.Date == date {
			es = append(es, e)
		}
	}
	slices.SortFunc(es, domain.CompareEntries)

	return t.standings(es, limit), nil
}

func (t *tx) RecentStandings(_ context.Context, limit int) ([]domain.Standing, error) {
	es := make([]domain.LeaderboardEntry, 0, len(t.st.entries))
	for _, e := range t.st.entries {
		es = append(es, e)
	}
	slices.SortFunc(es, func(a, b domain.LeaderboardEntry) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return domain.CompareEntries(a, b)
	})

	return t.standings(es, limit), nil
}

func (t *tx) standings(es []domain.LeaderboardEntry, limit int) []domain.Standing {
	if limit > 0 && len(es) > limit {
		es = es[:limit]
	}

	out := make([]domain.Standing, 0, len(es))
	for _, e := range es {
		out = append(out, domain.Standing{
			LeaderboardEntry: e,
			Nickname:         t.st.players[e.PlayerID].Nickname,
			StartTime:        t.st.sessions[e.SessionID].StartTime,
		})
	}
	return out
}
