package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/errors"
	"github.com/victornm/truenorth/internal/event"
	"github.com/victornm/truenorth/internal/leaderboard"
	"github.com/victornm/truenorth/internal/player"
	"github.com/victornm/truenorth/internal/score"
	"github.com/victornm/truenorth/internal/store"
)

const DefaultShareText = "I scored %d points on True North or Not! 🍁🦅 Can you beat my score?"

// Dealer deals the cards of a new session.
type Dealer interface {
	Assemble(ctx context.Context) ([]domain.Card, error)
}

type Config struct {
	Store       store.Store
	Deck        Dealer
	Leaderboard *leaderboard.Service
	EventBus    *event.Bus
	// ShareText is a format string receiving the final score.
	ShareText string
	Now       func() time.Time
}

type Service struct {
	st        store.Store
	deck      Dealer
	lb        *leaderboard.Service
	eb        *event.Bus
	shareText string
	now       func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		st:        c.Store,
		deck:      c.Deck,
		lb:        c.Leaderboard,
		eb:        c.EventBus,
		shareText: c.ShareText,
		now:       c.Now,
	}
	if s.shareText == "" {
		s.shareText = DefaultShareText
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type StartRequest struct {
	PlayerID string
	DeviceID string
}

type StartResponse struct {
	SessionID string
	Deck      []domain.Card
	Outcome   domain.StartOutcome
}

// Start opens a session for the device. An open session without answers is handed back
// with a freshly dealt deck. An open session with answers is closed as abandoned, without
// a leaderboard entry, and replaced.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if req.PlayerID == "" || req.DeviceID == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("player id and device id are required"),
		)
	}

	// dealt before any write so a short question bank leaves no trace
	cards, err := s.deck.Assemble(ctx)
	if err != nil {
		return nil, err
	}

	resp := &StartResponse{Deck: cards}
	var started domain.Session

	err = s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetPlayer(ctx, req.PlayerID); err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return player.NotFound(req.PlayerID)
			}
			return fmt.Errorf("get player: %w", err)
		}

		if err := tx.LockDevice(ctx, req.DeviceID); err != nil {
			return fmt.Errorf("lock device: %w", err)
		}

		resp.Outcome = domain.StartOutcomeCreated

		open, err := tx.OpenSessionByDevice(ctx, req.DeviceID)
		switch {
		case err == nil:
			answers, err := tx.ListAnswers(ctx, open.ID)
			if err != nil {
				return fmt.Errorf("list answers: %w", err)
			}

			if len(answers) == 0 {
				resp.SessionID, resp.Outcome = open.ID, domain.StartOutcomeReused
				started = open
				return nil
			}

			if err := s.abandon(ctx, tx, open); err != nil {
				return err
			}
			resp.Outcome = domain.StartOutcomeAfterAbandoning

		case !stderrors.Is(err, store.ErrNotFound):
			return fmt.Errorf("find open session: %w", err)
		}

		started, err = s.insertSession(ctx, tx, req)
		if err != nil {
			return err
		}
		resp.SessionID = started.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventSessionStarted{Session: started, Outcome: resp.Outcome})
	return resp, nil
}

func (s *Service) abandon(ctx context.Context, tx store.Tx, ss domain.Session) error {
	end := s.now()
	if err := tx.CloseSession(ctx, ss.ID, end, elapsed(ss.StartTime, end)); err != nil {
		return fmt.Errorf("close abandoned session %s: %w", ss.ID, err)
	}
	return nil
}

func (s *Service) insertSession(ctx context.Context, tx store.Tx, req StartRequest) (domain.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Session{}, fmt.Errorf("generate session ID: %w", err)
	}

	ss := domain.Session{
		ID:            id.String(),
		PlayerID:      req.PlayerID,
		DeviceID:      req.DeviceID,
		StartTime:     s.now(),
		QuestionCount: domain.DeckSize,
	}
	if err := tx.CreateSession(ctx, ss); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}

	return ss, nil
}

type SubmitAnswerRequest struct {
	SessionID  string
	QuestionID string
	LatencyMs  int64
	Guess      domain.Label
}

type SubmitAnswerResponse struct {
	Correct      bool
	TrueLabel    domain.Label
	Explanation  string
	Points       score.Breakdown
	Streak       int
	RunningScore int
}

// SubmitAnswer scores a guess and records it. Each question is accepted once per session.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	if req.LatencyMs < 0 || req.LatencyMs > domain.MaxLatencyMs {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("latency must be within [0, %d] ms: got %d", domain.MaxLatencyMs, req.LatencyMs),
		)
	}
	if !req.Guess.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("guess must be %s or %s: got %q", domain.LabelCanada, domain.LabelUSA, req.Guess),
		)
	}

	var (
		resp   *SubmitAnswerResponse
		answer domain.Answer
	)

	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockOpenSession(ctx, req.SessionID); err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return sessionNotFound(req.SessionID)
			}
			return fmt.Errorf("lock session: %w", err)
		}

		q, err := tx.GetQuestion(ctx, req.QuestionID)
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return errors.New(errors.CodeNotFound,
					errors.WithReason(errors.ReasonQuestionNotFound),
					errors.WithMessagef("question not found: %s", req.QuestionID),
				)
			}
			return fmt.Errorf("get question: %w", err)
		}

		prior, err := tx.ListAnswers(ctx, req.SessionID)
		if err != nil {
			return fmt.Errorf("list answers: %w", err)
		}

		history := make([]bool, 0, len(prior))
		for i := len(prior) - 1; i >= 0; i-- {
			if prior[i].QuestionID == q.ID {
				return duplicateAnswer(req.SessionID, q.ID)
			}
			history = append(history, prior[i].Correct)
		}

		correct := req.Guess == q.Label
		streak := score.Streak(history, correct)
		points := score.Points(correct, req.LatencyMs, streak)

		answer = domain.Answer{
			SessionID:  req.SessionID,
			QuestionID: q.ID,
			Correct:    correct,
			LatencyMs:  req.LatencyMs,
			OrderIndex: len(prior),
		}
		if err := tx.InsertAnswer(ctx, answer); err != nil {
			if stderrors.Is(err, store.ErrConflict) {
				return duplicateAnswer(req.SessionID, q.ID)
			}
			return fmt.Errorf("insert answer: %w", err)
		}

		total, err := tx.AddScore(ctx, req.SessionID, points.Total)
		if err != nil {
			return fmt.Errorf("add score: %w", err)
		}

		resp = &SubmitAnswerResponse{
			Correct:      correct,
			TrueLabel:    q.Label,
			Explanation:  q.Explanation,
			Points:       points,
			Streak:       streak,
			RunningScore: total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventAnswerSubmitted{Answer: answer, Points: resp.Points.Total, Streak: resp.Streak})
	return resp, nil
}

type FinishRequest struct {
	SessionID string
}

type FinishResponse struct {
	Score      int
	DurationMs int64
	Rank       int
	ShareText  string
}

// Finish closes the session, enters it on today's leaderboard and returns its rank.
func (s *Service) Finish(ctx context.Context, req FinishRequest) (*FinishResponse, error) {
	var entry domain.LeaderboardEntry
	resp := &FinishResponse{}

	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.LockOpenSession(ctx, req.SessionID)
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return sessionNotFound(req.SessionID)
			}
			return fmt.Errorf("lock session: %w", err)
		}

		end := s.now()
		duration := elapsed(ss.StartTime, end)
		if err := tx.CloseSession(ctx, ss.ID, end, duration); err != nil {
			return fmt.Errorf("close session: %w", err)
		}

		entry = domain.LeaderboardEntry{
			Date:       s.lb.Bucket(end),
			SessionID:  ss.ID,
			PlayerID:   ss.PlayerID,
			Score:      ss.Score,
			DurationMs: duration,
			FinishedAt: end,
		}

		entry.Rank, err = s.lb.Record(ctx, tx, entry)
		if err != nil {
			return fmt.Errorf("record leaderboard entry: %w", err)
		}

		resp.Score, resp.DurationMs, resp.Rank = ss.Score, duration, entry.Rank
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.ShareText = fmt.Sprintf(s.shareText, resp.Score)

	s.publish(ctx, domain.EventSessionFinished{Entry: entry})
	s.lb.Changed(ctx, domain.UpdateSessionFinished)

	return resp, nil
}

// Get returns a session in any state.
func (s *Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	var ss domain.Session
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ss, err = tx.GetSession(ctx, id)
		return err
	})
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonSessionNotFound),
			errors.WithMessagef("session not found: %s", id),
		)
	}
	if err != nil {
		return nil, err
	}

	return &ss, nil
}

func (s *Service) publish(ctx context.Context, e event.Event) {
	if s.eb != nil {
		s.eb.Publish(ctx, e)
	}
}

func elapsed(start, end time.Time) int64 {
	return max(0, end.Sub(start).Milliseconds())
}

func sessionNotFound(id string) *errors.Error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonSessionNotFound),
		errors.WithMessagef("no open session: %s", id),
	)
}

func duplicateAnswer(sessionID, questionID string) *errors.Error {
	return errors.New(errors.CodeAlreadyExists,
		errors.WithReason(errors.ReasonDuplicateAnswer),
		errors.WithMessagef("answer is already submitted: session=%s, question=%s", sessionID, questionID),
	)
}
