// Package sqlite implements the store on an embedded SQLite database through gorm.
// It targets single node deployments, so it keeps one connection open and every
// transaction runs alone.
package sqlite

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/store"
)

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and brings its schema up to date.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&player{}, &question{}, &session{}, &answer{}, &entry{}); err != nil {
		return err
	}

	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_device ON sessions (device_id) WHERE end_time IS NULL`).Error
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &tx{db: db})
	})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type player struct {
	ID        string `gorm:"primaryKey"`
	Nickname  string `gorm:"not null"`
	CreatedAt time.Time
}

type question struct {
	ID          string `gorm:"primaryKey"`
	Prompt      string `gorm:"not null"`
	Label       string `gorm:"not null;check:label IN ('CAN','USA')"`
	Explanation string `gorm:"not null"`
	ImageURL    *string
	Tags        string
	Active      bool `gorm:"not null;index"`
}

type session struct {
	ID            string     `gorm:"primaryKey"`
	PlayerID      string     `gorm:"not null"`
	DeviceID      string     `gorm:"not null;index:idx_sessions_device_start,priority:1"`
	StartTime     time.Time  `gorm:"not null;index:idx_sessions_device_start,priority:2"`
	EndTime       *time.Time
	Score         int `gorm:"not null;check:score >= 0"`
	DurationMs    *int64
	QuestionCount int `gorm:"not null"`
}

type answer struct {
	SessionID  string `gorm:"primaryKey;uniqueIndex:idx_answers_order,priority:1"`
	QuestionID string `gorm:"primaryKey"`
	Correct    bool   `gorm:"not null"`
	LatencyMs  int64  `gorm:"not null"`
	OrderIndex int    `gorm:"not null;uniqueIndex:idx_answers_order,priority:2"`
}

type entry struct {
	Date       string    `gorm:"primaryKey;index:idx_leaderboard_ranking,priority:1"`
	SessionID  string    `gorm:"primaryKey;uniqueIndex"`
	PlayerID   string    `gorm:"not null"`
	Score      int       `gorm:"not null;index:idx_leaderboard_ranking,priority:2,sort:desc"`
	DurationMs int64     `gorm:"not null;index:idx_leaderboard_ranking,priority:3"`
	FinishedAt time.Time `gorm:"not null"`
	Rank       int
}

func (player) TableName() string   { return "players" }
func (question) TableName() string { return "questions" }
func (session) TableName() string  { return "sessions" }
func (answer) TableName() string   { return "session_answers" }
func (entry) TableName() string    { return "leaderboard_daily" }

// standing is a flat scan target for the leaderboard join. gorm does not scan through an
// embedded model here, so every column gets its own field.
type standing struct {
	Date       string
	SessionID  string
	PlayerID   string
	Score      int
	DurationMs int64
	FinishedAt time.Time
	Rank       int
	Nickname   string
	StartTime  time.Time
}

type tx struct {
	db *gorm.DB
}

func (t *tx) CreatePlayer(_ context.Context, p domain.Player) error {
	return translate(t.db.Create(&player{ID: p.ID, Nickname: p.Nickname, CreatedAt: p.CreatedAt.UTC()}).Error)
}

func (t *tx) GetPlayer(_ context.Context, id string) (domain.Player, error) {
	var p player
	if err := t.db.Where("id = ?", id).Take(&p).Error; err != nil {
		return domain.Player{}, translate(err)
	}
	return domain.Player{ID: p.ID, Nickname: p.Nickname, CreatedAt: p.CreatedAt}, nil
}

func (t *tx) UpdateNickname(_ context.Context, id, nickname string) error {
	return affected(t.db.Model(&player{}).Where("id = ?", id).Update("nickname", nickname))
}

func (t *tx) LatestDevicePlayer(_ context.Context, deviceID string) (string, error) {
	var s session
	err := t.db.Where("device_id = ?", deviceID).Order("start_time DESC").Take(&s).Error
	return s.PlayerID, translate(err)
}

func (q question) toDomain() domain.Question {
	var tags []string
	if q.Tags != "" {
		tags = strings.Split(q.Tags, ",")
	}
	return domain.Question{
		ID:          q.ID,
		Prompt:      q.Prompt,
		Label:       domain.Label(q.Label),
		Explanation: q.Explanation,
		ImageURL:    q.ImageURL,
		Tags:        tags,
		Active:      q.Active,
	}
}

func fromQuestion(q domain.Question) question {
	return question{
		ID:          q.ID,
		Prompt:      q.Prompt,
		Label:       string(q.Label),
		Explanation: q.Explanation,
		ImageURL:    q.ImageURL,
		Tags:        strings.Join(q.Tags, ","),
		Active:      q.Active,
	}
}

func (t *tx) ListQuestions(_ context.Context, activeOnly bool) ([]domain.Question, error) {
	db := t.db
	if activeOnly {
		db = db.Where("active = ?", true)
	}

	var rows []question
	if err := db.Order("prompt ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	qs := make([]domain.Question, 0, len(rows))
	for _, r := range rows {
		qs = append(qs, r.toDomain())
	}
	return qs, nil
}

func (t *tx) GetQuestion(_ context.Context, id string) (domain.Question, error) {
	var q question
	if err := t.db.Where("id = ?", id).Take(&q).Error; err != nil {
		return domain.Question{}, translate(err)
	}
	return q.toDomain(), nil
}

func (t *tx) CountQuestions(context.Context) (int, error) {
	var n int64
	err := t.db.Model(&question{}).Count(&n).Error
	return int(n), err
}

func (t *tx) CreateQuestion(_ context.Context, q domain.Question) error {
	row := fromQuestion(q)
	return translate(t.db.Create(&row).Error)
}

func (t *tx) UpdateQuestion(_ context.Context, q domain.Question) error {
	row := fromQuestion(q)
	return affected(t.db.Model(&question{}).Where("id = ?", q.ID).Updates(map[string]any{
		"prompt":      row.Prompt,
		"label":       row.Label,
		"explanation": row.Explanation,
		"image_url":   row.ImageURL,
		"tags":        row.Tags,
	}))
}

func (t *tx) SetQuestionActive(_ context.Context, id string, active bool) error {
	return affected(t.db.Model(&question{}).Where("id = ?", id).Update("active", active))
}

func (t *tx) DeleteQuestion(_ context.Context, id string) error {
	return affected(t.db.Where("id = ?", id).Delete(&question{}))
}

// LockDevice is a no-op: the single connection already serializes transactions.
func (*tx) LockDevice(context.Context, string) error { return nil }

func (s session) toDomain() domain.Session {
	return domain.Session{
		ID:            s.ID,
		PlayerID:      s.PlayerID,
		DeviceID:      s.DeviceID,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Score:         s.Score,
		DurationMs:    s.DurationMs,
		QuestionCount: s.QuestionCount,
	}
}

func (t *tx) findSession(query string, args ...any) (domain.Session, error) {
	var s session
	if err := t.db.Where(query, args...).Take(&s).Error; err != nil {
		return domain.Session{}, translate(err)
	}
	return s.toDomain(), nil
}

func (t *tx) OpenSessionByDevice(_ context.Context, deviceID string) (domain.Session, error) {
	return t.findSession("device_id = ? AND end_time IS NULL", deviceID)
}

func (t *tx) LockOpenSession(_ context.Context, id string) (domain.Session, error) {
	return t.findSession("id = ? AND end_time IS NULL", id)
}

func (t *tx) GetSession(_ context.Context, id string) (domain.Session, error) {
	return t.findSession("id = ?", id)
}

func (t *tx) CreateSession(_ context.Context, s domain.Session) error {
	return translate(t.db.Create(&session{
		ID:            s.ID,
		PlayerID:      s.PlayerID,
		DeviceID:      s.DeviceID,
		StartTime:     s.StartTime.UTC(),
		Score:         s.Score,
		QuestionCount: s.QuestionCount,
	}).Error)
}

func (t *tx) CloseSession(_ context.Context, id string, end time.Time, durationMs int64) error {
	return affected(t.db.Model(&session{}).Where("id = ? AND end_time IS NULL", id).Updates(map[string]any{
		"end_time":    end.UTC(),
		"duration_ms": durationMs,
	}))
}

func (t *tx) AddScore(_ context.Context, id string, points int) (int, error) {
	if err := affected(t.db.Model(&session{}).Where("id = ?", id).Update("score", gorm.Expr("score + ?", points))); err != nil {
		return 0, err
	}

	var total int
	err := t.db.Model(&session{}).Select("score").Where("id = ?", id).Scan(&total).Error
	return total, err
}

func (t *tx) DeleteSession(_ context.Context, id string) error {
	if err := t.db.Where("session_id = ?", id).Delete(&entry{}).Error; err != nil {
		return err
	}
	if err := t.db.Where("session_id = ?", id).Delete(&answer{}).Error; err != nil {
		return err
	}
	return affected(t.db.Where("id = ?", id).Delete(&session{}))
}

func (t *tx) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	var rows []answer
	if err := t.db.Where("session_id = ?", sessionID).Order("order_index ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	as := make([]domain.Answer, 0, len(rows))
	for _, r := range rows {
		as = append(as, domain.Answer(r))
	}
	return as, nil
}

func (t *tx) InsertAnswer(_ context.Context, a domain.Answer) error {
	row := answer(a)
	return translate(t.db.Create(&row).Error)
}

func (*tx) LockBucket(context.Context, string) error { return nil }

const rankingOrder = "score DESC, duration_ms ASC, finished_at ASC, session_id ASC"

func (e entry) toDomain() domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		Date:       e.Date,
		SessionID:  e.SessionID,
		PlayerID:   e.PlayerID,
		Score:      e.Score,
		DurationMs: e.DurationMs,
		FinishedAt: e.FinishedAt,
		Rank:       e.Rank,
	}
}

func (t *tx) InsertEntry(_ context.Context, e domain.LeaderboardEntry) error {
	return translate(t.db.Create(&entry{
		Date:       e.Date,
		SessionID:  e.SessionID,
		PlayerID:   e.PlayerID,
		Score:      e.Score,
		DurationMs: e.DurationMs,
		FinishedAt: e.FinishedAt.UTC(),
		Rank:       e.Rank,
	}).Error)
}

func (t *tx) GetEntry(_ context.Context, sessionID string) (domain.LeaderboardEntry, error) {
	var e entry
	if err := t.db.Where("session_id = ?", sessionID).Take(&e).Error; err != nil {
		return domain.LeaderboardEntry{}, translate(err)
	}
	return e.toDomain(), nil
}

func (t *tx) ListEntries(_ context.Context, date string) ([]domain.LeaderboardEntry, error) {
	var rows []entry
	if err := t.db.Where("date = ?", date).Order(rankingOrder).Find(&rows).Error; err != nil {
		return nil, err
	}

	es := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		es = append(es, r.toDomain())
	}
	return es, nil
}

func (t *tx) SetRanks(_ context.Context, date string, ranks map[string]int) error {
	for id, rank := range ranks {
		if err := affected(t.db.Model(&entry{}).Where("date = ? AND session_id = ?", date, id).Update("rank", rank)); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) DeleteEntries(_ context.Context, date string) error {
	if date == "" {
		return t.db.Where("1 = 1").Delete(&entry{}).Error
	}
	return t.db.Where("date = ?", date).Delete(&entry{}).Error
}

func (t *tx) standings(db *gorm.DB, limit int) ([]domain.Standing, error) {
	var rows []standing
	err := db.Table("leaderboard_daily AS l").
		Select("l.date, l.session_id, l.player_id, l.score, l.duration_ms, l.finished_at, l.rank, " +
			"p.nickname AS nickname, s.start_time AS start_time").
		Joins("JOIN players p ON p.id = l.player_id").
		Joins("JOIN sessions s ON s.id = l.session_id").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Standing, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Standing{
			LeaderboardEntry: domain.LeaderboardEntry{
				Date:       r.Date,
				SessionID:  r.SessionID,
				PlayerID:   r.PlayerID,
				Score:      r.Score,
				DurationMs: r.DurationMs,
				FinishedAt: r.FinishedAt,
				Rank:       r.Rank,
			},
			Nickname:  r.Nickname,
			StartTime: r.StartTime,
		})
	}
	return out, nil
}

func (t *tx) TopStandings(_ context.Context, date string, limit int) ([]domain.Standing, error) {
	db := t.db.Order("l.score DESC, l.duration_ms ASC, l.finished_at ASC, l.session_id ASC")
	if date != "" {
		db = db.Where("l.date = ?", date)
	}
	return t.standings(db, limit)
}

func (t *tx) RecentStandings(_ context.Context, limit int) ([]domain.Standing, error) {
	return t.standings(t.db.Order("l.date DESC, l.score DESC, l.duration_ms ASC, l.finished_at ASC, l.session_id ASC"), limit)
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case stderrors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrConflict
	default:
		return err
	}
}
