package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameAnswerSubmitted    = "answer.submitted"
	EventNameSessionFinished    = "session.finished"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// StartOutcome tells how a start request was served.
type StartOutcome string

const (
	StartOutcomeCreated         StartOutcome = "created"
	StartOutcomeReused          StartOutcome = "reused"
	StartOutcomeAfterAbandoning StartOutcome = "abandoned_previous"
)

type EventSessionStarted struct {
	Session Session
	Outcome StartOutcome
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventAnswerSubmitted struct {
	Answer Answer
	Points int
	Streak int
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

type EventSessionFinished struct {
	Entry LeaderboardEntry
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

// EventLeaderboardUpdated signals that rankings changed. It carries no ranking data.
type EventLeaderboardUpdated struct {
	Reason string
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

// Reasons carried by EventLeaderboardUpdated.
const (
	UpdateSessionFinished = "session_finished"
	UpdateResetDaily      = "reset_daily"
	UpdateResetAll        = "reset_all"
	UpdateSessionDeleted  = "session_deleted"
	UpdateQuestionToggled = "question_toggled"
)
