package domain

import (
	"cmp"
	"strings"
	"time"
)

const (
	// DeckSize is the number of cards dealt to a session.
	DeckSize = 20
	// PerLabel is how many cards of each label a deck carries.
	PerLabel = DeckSize / 2

	// MaxLatencyMs is the upper bound accepted for an answer latency.
	MaxLatencyMs = 60_000

	// DayLayout formats the day key of a daily leaderboard bucket.
	DayLayout = "2006-01-02"
)

// Label is the true origin of a question.
type Label string

const (
	LabelCanada Label = "CAN"
	LabelUSA    Label = "USA"
)

// Labels lists every label in deck order before shuffling.
var Labels = []Label{LabelCanada, LabelUSA}

func (l Label) Valid() bool {
	return l == LabelCanada || l == LabelUSA
}

func ParseLabel(s string) (Label, bool) {
	l := Label(strings.ToUpper(strings.TrimSpace(s)))
	return l, l.Valid()
}

type Question struct {
	ID          string
	Prompt      string
	Label       Label
	Explanation string
	ImageURL    *string
	Tags        []string
	Active      bool
}

// Card is the client view of a question. It hides the label and the explanation.
type Card struct {
	ID         string
	Prompt     string
	ImageURL   *string
	OrderIndex int
}

type Player struct {
	ID        string
	Nickname  string
	CreatedAt time.Time
}

// Session is one play-through of a deck. A session with a nil EndTime is open.
type Session struct {
	ID            string
	PlayerID      string
	DeviceID      string
	StartTime     time.Time
	EndTime       *time.Time
	Score         int
	DurationMs    *int64
	QuestionCount int
}

func (s Session) Open() bool {
	return s.EndTime == nil
}

// Answer is the immutable record of one guess within a session.
type Answer struct {
	SessionID  string
	QuestionID string
	Correct    bool
	LatencyMs  int64
	OrderIndex int
}

// LeaderboardEntry is the ranked record of a finished session within a day bucket.
type LeaderboardEntry struct {
	Date       string
	SessionID  string
	PlayerID   string
	Score      int
	DurationMs int64
	FinishedAt time.Time
	Rank       int
}

// Standing is a leaderboard entry joined with the data needed to display it.
type Standing struct {
	LeaderboardEntry
	Nickname  string
	StartTime time.Time
}

// CompareEntries orders entries the way the leaderboard ranks them: higher score first,
// then shorter duration, then earlier finish, then session id.
func CompareEntries(a, b LeaderboardEntry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DurationMs, b.DurationMs); c != 0 {
		return c
	}
	if c := a.FinishedAt.Compare(b.FinishedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.SessionID, b.SessionID)
}

// Period selects which leaderboard to read.
type Period string

const (
	PeriodToday Period = "today"
	PeriodAll   Period = "all"
)

func ParsePeriod(s string) (Period, bool) {
	switch Period(s) {
	case PeriodToday, "daily", "":
		return PeriodToday, true
	case PeriodAll, "alltime", "all-time":
		return PeriodAll, true
	default:
		return "", false
	}
}
