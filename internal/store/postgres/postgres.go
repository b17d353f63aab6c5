// Package postgres implements the store on PostgreSQL through pgx.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/store"
)

const codeUniqueViolation = "23505"

// Advisory lock namespaces, passed as the first key of pg_advisory_xact_lock(int, int).
const (
	lockDevice int32 = iota + 1
	lockBucket
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	t, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, t.Rollback(ctx))
		}
	}()

	if err = fn(ctx, &tx{tx: t}); err != nil {
		return err
	}

	return t.Commit(ctx)
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) lock(ctx context.Context, ns int32, key string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2));`, ns, key)
	return err
}

func (t *tx) CreatePlayer(ctx context.Context, p domain.Player) error {
	const stmt = `INSERT INTO players (id, nickname, created_at) VALUES ($1, $2, $3);`

	_, err := t.tx.Exec(ctx, stmt, p.ID, p.Nickname, p.CreatedAt)
	return translate(err)
}

func (t *tx) GetPlayer(ctx context.Context, id string) (domain.Player, error) {
	const stmt = `SELECT id, nickname, created_at FROM players WHERE id = $1;`

	var p domain.Player
	err := t.tx.QueryRow(ctx, stmt, id).Scan(&p.ID, &p.Nickname, &p.CreatedAt)
	return p, translate(err)
}

func (t *tx) UpdateNickname(ctx context.Context, id, nickname string) error {
	const stmt = `UPDATE players SET nickname = $2 WHERE id = $1;`

	tag, err := t.tx.Exec(ctx, stmt, id, nickname)
	return affected(tag, err)
}

func (t *tx) LatestDevicePlayer(ctx context.Context, deviceID string) (string, error) {
	const stmt = `SELECT player_id FROM sessions WHERE device_id = $1 ORDER BY start_time DESC LIMIT 1;`

	var id string
	err := t.tx.QueryRow(ctx, stmt, deviceID).Scan(&id)
	return id, translate(err)
}

const questionColumns = `id, prompt, label, explanation, image_url, tags, active`

func scanQuestion(r pgx.CollectableRow) (domain.Question, error) {
	var (
		q     domain.Question
		label string
	)
	if err := r.Scan(&q.ID, &q.Prompt, &label, &q.Explanation, &q.ImageURL, &q.Tags, &q.Active); err != nil {
		return domain.Question{}, err
	}
	q.Label = domain.Label(label)
	return q, nil
}

func (t *tx) ListQuestions(ctx context.Context, activeOnly bool) ([]domain.Question, error) {
	stmt := `SELECT ` + questionColumns + ` FROM questions`
	if activeOnly {
		stmt += ` WHERE active`
	}
	stmt += ` ORDER BY prompt ASC;`

	rows, err := t.tx.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanQuestion)
}

func (t *tx) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1;`, id)
	if err != nil {
		return domain.Question{}, err
	}

	q, err := pgx.CollectExactlyOneRow(rows, scanQuestion)
	return q, translate(err)
}

func (t *tx) CountQuestions(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT count(*) FROM questions;`).Scan(&n)
	return n, err
}

func (t *tx) CreateQuestion(ctx context.Context, q domain.Question) error {
	const stmt = `INSERT INTO questions (` + questionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := t.tx.Exec(ctx, stmt, q.ID, q.Prompt, string(q.Label), q.Explanation, q.ImageURL, tags(q.Tags), q.Active)
	return translate(err)
}

func (t *tx) UpdateQuestion(ctx context.Context, q domain.Question) error {
	const stmt = `
UPDATE questions
SET prompt = $2, label = $3, explanation = $4, image_url = $5, tags = $6
WHERE id = $1;`

	tag, err := t.tx.Exec(ctx, stmt, q.ID, q.Prompt, string(q.Label), q.Explanation, q.ImageURL, tags(q.Tags))
	return affected(tag, err)
}

func (t *tx) SetQuestionActive(ctx context.Context, id string, active bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE questions SET active = $2 WHERE id = $1;`, id, active)
	return affected(tag, err)
}

func (t *tx) DeleteQuestion(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM questions WHERE id = $1;`, id)
	return affected(tag, err)
}

func (t *tx) LockDevice(ctx context.Context, deviceID string) error {
	return t.lock(ctx, lockDevice, deviceID)
}

const sessionColumns = `id, player_id, device_id, start_time, end_time, score, duration_ms, question_count`

func scanSession(r pgx.CollectableRow) (domain.Session, error) {
	var s domain.Session
	err := r.Scan(&s.ID, &s.PlayerID, &s.DeviceID, &s.StartTime, &s.EndTime, &s.Score, &s.DurationMs, &s.QuestionCount)
	return s, err
}

func (t *tx) session(ctx context.Context, stmt string, args ...any) (domain.Session, error) {
	rows, err := t.tx.Query(ctx, stmt, args...)
	if err != nil {
		return domain.Session{}, err
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSession)
	return s, translate(err)
}

func (t *tx) OpenSessionByDevice(ctx context.Context, deviceID string) (domain.Session, error) {
	return t.session(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE device_id = $1 AND end_time IS NULL;`, deviceID)
}

func (t *tx) LockOpenSession(ctx context.Context, id string) (domain.Session, error) {
	return t.session(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND end_time IS NULL FOR UPDATE;`, id)
}

func (t *tx) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return t.session(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1;`, id)
}

func (t *tx) CreateSession(ctx context.Context, s domain.Session) error {
	const stmt = `
INSERT INTO sessions (id, player_id, device_id, start_time, score, question_count)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := t.tx.Exec(ctx, stmt, s.ID, s.PlayerID, s.DeviceID, s.StartTime, s.Score, s.QuestionCount)
	return translate(err)
}

func (t *tx) CloseSession(ctx context.Context, id string, end time.Time, durationMs int64) error {
	const stmt = `UPDATE sessions SET end_time = $2, duration_ms = $3 WHERE id = $1 AND end_time IS NULL;`

	tag, err := t.tx.Exec(ctx, stmt, id, end, durationMs)
	return affected(tag, err)
}

func (t *tx) AddScore(ctx context.Context, id string, points int) (int, error) {
	const stmt = `UPDATE sessions SET score = score + $2 WHERE id = $1 RETURNING score;`

	var total int
	err := t.tx.QueryRow(ctx, stmt, id, points).Scan(&total)
	return total, translate(err)
}

func (t *tx) DeleteSession(ctx context.Context, id string) error {
	// answers and the leaderboard entry cascade
	tag, err := t.tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1;`, id)
	return affected(tag, err)
}

func (t *tx) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	const stmt = `
SELECT session_id, question_id, correct, latency_ms, order_index
FROM session_answers
WHERE session_id = $1
ORDER BY order_index ASC;`

	rows, err := t.tx.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var a domain.Answer
		err := r.Scan(&a.SessionID, &a.QuestionID, &a.Correct, &a.LatencyMs, &a.OrderIndex)
		return a, err
	})
}

func (t *tx) InsertAnswer(ctx context.Context, a domain.Answer) error {
	const stmt = `
INSERT INTO session_answers (session_id, question_id, correct, latency_ms, order_index)
VALUES ($1, $2, $3, $4, $5);`

	_, err := t.tx.Exec(ctx, stmt, a.SessionID, a.QuestionID, a.Correct, a.LatencyMs, a.OrderIndex)
	return translate(err)
}

func (t *tx) LockBucket(ctx context.Context, date string) error {
	return t.lock(ctx, lockBucket, date)
}

const entryColumns = `l.date, l.session_id, l.player_id, l.score, l.duration_ms, l.finished_at, COALESCE(l.rank, 0)`

const rankingOrder = `l.score DESC, l.duration_ms ASC, l.finished_at ASC, l.session_id ASC`

func scanEntry(r pgx.CollectableRow) (domain.LeaderboardEntry, error) {
	var e domain.LeaderboardEntry
	err := r.Scan(&e.Date, &e.SessionID, &e.PlayerID, &e.Score, &e.DurationMs, &e.FinishedAt, &e.Rank)
	return e, err
}

func (t *tx) InsertEntry(ctx context.Context, e domain.LeaderboardEntry) error {
	const stmt = `
INSERT INTO leaderboard_daily (date, session_id, player_id, score, duration_ms, finished_at, rank)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0));`

	_, err := t.tx.Exec(ctx, stmt, e.Date, e.SessionID, e.PlayerID, e.Score, e.DurationMs, e.FinishedAt, e.Rank)
	return translate(err)
}

func (t *tx) GetEntry(ctx context.Context, sessionID string) (domain.LeaderboardEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+entryColumns+` FROM leaderboard_daily l WHERE l.session_id = $1;`, sessionID)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}

	e, err := pgx.CollectExactlyOneRow(rows, scanEntry)
	return e, translate(err)
}

func (t *tx) ListEntries(ctx context.Context, date string) ([]domain.LeaderboardEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+entryColumns+` FROM leaderboard_daily l WHERE l.date = $1 ORDER BY `+rankingOrder+`;`, date)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanEntry)
}

func (t *tx) SetRanks(ctx context.Context, date string, ranks map[string]int) error {
	const stmt = `UPDATE leaderboard_daily SET rank = $3 WHERE date = $1 AND session_id = $2;`

	b := &pgx.Batch{}
	for id, rank := range ranks {
		b.Queue(stmt, date, id, rank)
	}

	return t.tx.SendBatch(ctx, b).Close()
}

func (t *tx) DeleteEntries(ctx context.Context, date string) error {
	if date == "" {
		_, err := t.tx.Exec(ctx, `DELETE FROM leaderboard_daily;`)
		return err
	}

	_, err := t.tx.Exec(ctx, `DELETE FROM leaderboard_daily WHERE date = $1;`, date)
	return err
}

const standingQuery = `
SELECT ` + entryColumns + `, p.nickname, s.start_time
FROM leaderboard_daily l
JOIN players p ON p.id = l.player_id
JOIN sessions s ON s.id = l.session_id`

func scanStanding(r pgx.CollectableRow) (domain.Standing, error) {
	var s domain.Standing
	e := &s.LeaderboardEntry
	err := r.Scan(&e.Date, &e.SessionID, &e.PlayerID, &e.Score, &e.DurationMs, &e.FinishedAt, &e.Rank, &s.Nickname, &s.StartTime)
	return s, err
}

func (t *tx) TopStandings(ctx context.Context, date string, limit int) ([]domain.Standing, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if date == "" {
		rows, err = t.tx.Query(ctx, standingQuery+` ORDER BY `+rankingOrder+` LIMIT $1;`, limit)
	} else {
		rows, err = t.tx.Query(ctx, standingQuery+` WHERE l.date = $1 ORDER BY `+rankingOrder+` LIMIT $2;`, date, limit)
	}
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanStanding)
}

func (t *tx) RecentStandings(ctx context.Context, limit int) ([]domain.Standing, error) {
	rows, err := t.tx.Query(ctx, standingQuery+` ORDER BY l.date DESC, `+rankingOrder+` LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanStanding)
}

func tags(ts []string) []string {
	if ts == nil {
		return []string{}
	}
	return ts
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}

	return err
}
