// Package store defines the persistence contract of the game. Every read and write goes
// through a transaction so multi-step operations commit or roll back as one unit.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/victornm/truenorth/internal/domain"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

type Store interface {
	// InTx runs fn in a transaction. The transaction commits when fn returns nil and rolls
	// back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

type Tx interface {
	Players
	Questions
	Sessions
	Answers
	Leaderboard
}

type Players interface {
	CreatePlayer(ctx context.Context, p domain.Player) error
	GetPlayer(ctx context.Context, id string) (domain.Player, error)
	UpdateNickname(ctx context.Context, id, nickname string) error
	// LatestDevicePlayer returns the player of the most recent session started on the device.
	LatestDevicePlayer(ctx context.Context, deviceID string) (string, error)
}

type Questions interface {
	ListQuestions(ctx context.Context, activeOnly bool) ([]domain.Question, error)
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
	CountQuestions(ctx context.Context) (int, error)
	CreateQuestion(ctx context.Context, q domain.Question) error
	UpdateQuestion(ctx context.Context, q domain.Question) error
	SetQuestionActive(ctx context.Context, id string, active bool) error
	DeleteQuestion(ctx context.Context, id string) error
}

type Sessions interface {
	// LockDevice serializes session lifecycle changes of a device until the transaction ends.
	LockDevice(ctx context.Context, deviceID string) error
	OpenSessionByDevice(ctx context.Context, deviceID string) (domain.Session, error)
	// LockOpenSession returns the session if it is still open and holds it until the transaction ends.
	LockOpenSession(ctx context.Context, id string) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	CreateSession(ctx context.Context, s domain.Session) error
	CloseSession(ctx context.Context, id string, end time.Time, durationMs int64) error
	// AddScore increments the session score and returns the new total.
	AddScore(ctx context.Context, id string, points int) (int, error)
	// DeleteSession removes the session with its answers and leaderboard entry.
	DeleteSession(ctx context.Context, id string) error
}

type Answers interface {
	// ListAnswers returns the answers of a session by ascending order index.
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
	// InsertAnswer fails with ErrConflict when the question was already answered in the session.
	InsertAnswer(ctx context.Context, a domain.Answer) error
}

type Leaderboard interface {
	// LockBucket serializes ranking changes of a day bucket until the transaction ends.
	LockBucket(ctx context.Context, date string) error
	InsertEntry(ctx context.Context, e domain.LeaderboardEntry) error
	GetEntry(ctx context.Context, sessionID string) (domain.LeaderboardEntry, error)
	ListEntries(ctx context.Context, date string) ([]domain.LeaderboardEntry, error)
	SetRanks(ctx context.Context, date string, ranks map[string]int) error
	// DeleteEntries removes a bucket, or every entry when date is empty.
	DeleteEntries(ctx context.Context, date string) error
	// TopStandings returns the best entries of a bucket in ranking order, or across all
	// buckets when date is empty.
	TopStandings(ctx context.Context, date string, limit int) ([]domain.Standing, error)
	// RecentStandings returns entries by descending date, then ranking order.
	RecentStandings(ctx context.Context, limit int) ([]domain.Standing, error)
}
