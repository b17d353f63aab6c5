// Package admin carries the operator actions guarded by the shared admin code.
package admin

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/errors"
	"github.com/victornm/truenorth/internal/leaderboard"
	"github.com/victornm/truenorth/internal/question"
	"github.com/victornm/truenorth/internal/store"
)

// MaxEntries is how many leaderboard entries the admin view lists.
const MaxEntries = 200

type Action string

const (
	ActionResetDaily     Action = "reset_daily"
	ActionResetAll       Action = "reset_all"
	ActionDeleteSession  Action = "delete_session"
	ActionToggleQuestion Action = "toggle_question"
)

type Config struct {
	Store       store.Store
	Leaderboard *leaderboard.Service
	Questions   *question.Bank
	// Code is the shared secret. An empty code rejects every request.
	Code string
}

type Service struct {
	st   store.Store
	lb   *leaderboard.Service
	bank *question.Bank
	code string
}

func NewService(c Config) *Service {
	return &Service{
		st:   c.Store,
		lb:   c.Leaderboard,
		bank: c.Questions,
		code: c.Code,
	}
}

// Authorize checks the shared admin code.
func (s *Service) Authorize(code string) error {
	if s.code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.code)) != 1 {
		return errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonInvalidAdminCode),
			errors.WithMessagef("invalid admin code"),
		)
	}
	return nil
}

type ResetRequest struct {
	Code       string
	Action     Action
	SessionID  string
	QuestionID string
}

type ResetResponse struct {
	Message string
}

// Reset runs one of the leaderboard or question actions.
func (s *Service) Reset(ctx context.Context, req ResetRequest) (*ResetResponse, error) {
	if err := s.Authorize(req.Code); err != nil {
		return nil, err
	}

	switch {
	case req.Action == ActionResetDaily:
		date, err := s.ResetDaily(ctx)
		if err != nil {
			return nil, err
		}
		return &ResetResponse{Message: fmt.Sprintf("Daily leaderboard %s reset", date)}, nil

	case req.Action == ActionResetAll:
		if err := s.ResetAll(ctx); err != nil {
			return nil, err
		}
		return &ResetResponse{Message: "All leaderboard entries cleared"}, nil

	case req.Action == ActionDeleteSession && req.SessionID != "":
		if err := s.DeleteSession(ctx, req.SessionID); err != nil {
			return nil, err
		}
		return &ResetResponse{Message: "Session deleted from leaderboard"}, nil

	case req.Action == ActionToggleQuestion && req.QuestionID != "":
		active, err := s.ToggleQuestion(ctx, req.QuestionID)
		if err != nil {
			return nil, err
		}
		if active {
			return &ResetResponse{Message: "Question activated"}, nil
		}
		return &ResetResponse{Message: "Question deactivated"}, nil
	}

	return nil, errors.New(errors.CodeInvalidArgument,
		errors.WithReason(errors.ReasonValidation),
		errors.WithMessagef("invalid action %q", req.Action),
	)
}

// ResetDaily deletes today's leaderboard bucket and returns its day key.
func (s *Service) ResetDaily(ctx context.Context) (string, error) {
	date := s.lb.Today()
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockBucket(ctx, date); err != nil {
			return fmt.Errorf("lock bucket %s: %w", date, err)
		}
		return tx.DeleteEntries(ctx, date)
	})
	if err != nil {
		return "", fmt.Errorf("delete bucket %s: %w", date, err)
	}

	slog.InfoContext(ctx, "admin: daily leaderboard reset", "date", date)
	s.lb.Changed(ctx, domain.UpdateResetDaily)
	return date, nil
}

// ResetAll deletes every leaderboard entry. Sessions are kept.
func (s *Service) ResetAll(ctx context.Context) error {
	today := s.lb.Today()
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// finishes only write into today's bucket
		if err := tx.LockBucket(ctx, today); err != nil {
			return fmt.Errorf("lock bucket %s: %w", today, err)
		}
		return tx.DeleteEntries(ctx, "")
	})
	if err != nil {
		return fmt.Errorf("delete all entries: %w", err)
	}

	slog.InfoContext(ctx, "admin: all leaderboard entries cleared")
	s.lb.Changed(ctx, domain.UpdateResetAll)
	return nil
}

// DeleteSession removes a session with its answers and leaderboard entry, then re-ranks the
// bucket the entry was in.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// locks follow Finish: the open session row first, then the bucket of its entry
		if _, err := tx.LockOpenSession(ctx, id); err != nil && !stderrors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lock session: %w", err)
		}

		entry, err := tx.GetEntry(ctx, id)
		ranked := err == nil
		if err != nil && !stderrors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get entry: %w", err)
		}

		if ranked {
			if err := tx.LockBucket(ctx, entry.Date); err != nil {
				return fmt.Errorf("lock bucket %s: %w", entry.Date, err)
			}
		}

		if err := tx.DeleteSession(ctx, id); err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return errors.New(errors.CodeNotFound,
					errors.WithReason(errors.ReasonSessionNotFound),
					errors.WithMessagef("session not found: %s", id),
				)
			}
			return fmt.Errorf("delete session: %w", err)
		}

		if !ranked {
			return nil
		}
		return s.lb.RecomputeRanks(ctx, tx, entry.Date)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "admin: session deleted", "session_id", id)
	s.lb.Changed(ctx, domain.UpdateSessionDeleted)
	return nil
}

// ToggleQuestion flips whether a question is dealt and returns the new state.
func (s *Service) ToggleQuestion(ctx context.Context, id string) (bool, error) {
	var active bool
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		q, err := tx.GetQuestion(ctx, id)
		if err != nil {
			return err
		}
		active = !q.Active
		return tx.SetQuestionActive(ctx, id, active)
	})
	if err != nil {
		return false, questionError(id, err)
	}

	s.bank.Invalidate()
	s.lb.Changed(ctx, domain.UpdateQuestionToggled)
	return active, nil
}

// ListEntries returns the latest leaderboard entries across all days.
func (s *Service) ListEntries(ctx context.Context, code string) ([]domain.Standing, error) {
	if err := s.Authorize(code); err != nil {
		return nil, err
	}

	var out []domain.Standing
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.RecentStandings(ctx, MaxEntries)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("recent standings: %w", err)
	}

	return out, nil
}

// ListQuestions returns every question, active or not.
func (s *Service) ListQuestions(ctx context.Context, code string) ([]domain.Question, error) {
	if err := s.Authorize(code); err != nil {
		return nil, err
	}

	var out []domain.Question
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListQuestions(ctx, false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return out, nil
}

type QuestionInput struct {
	Prompt      string
	Label       domain.Label
	Explanation string
	Tags        []string
	ImageURL    string
}

func (in QuestionInput) validate() error {
	if strings.TrimSpace(in.Prompt) == "" || strings.TrimSpace(in.Explanation) == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("prompt and explanation are required"),
		)
	}
	if !in.Label.Valid() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("label must be %s or %s: got %q", domain.LabelCanada, domain.LabelUSA, in.Label),
		)
	}
	return nil
}

func (in QuestionInput) question(id string) domain.Question {
	q := domain.Question{
		ID:          id,
		Prompt:      strings.TrimSpace(in.Prompt),
		Label:       in.Label,
		Explanation: strings.TrimSpace(in.Explanation),
		Tags:        in.Tags,
		Active:      true,
	}
	if in.ImageURL != "" {
		u := in.ImageURL
		q.ImageURL = &u
	}
	return q
}

type CreateQuestionRequest struct {
	Code string
	QuestionInput
}

// CreateQuestion adds an active question. Its id continues the q1, q2, ... sequence.
func (s *Service) CreateQuestion(ctx context.Context, req CreateQuestionRequest) (*domain.Question, error) {
	if err := s.Authorize(req.Code); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var q domain.Question
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.ListQuestions(ctx, false)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}

		q = req.question(NextQuestionID(all))
		if err := tx.CreateQuestion(ctx, q); err != nil {
			return fmt.Errorf("create question %s: %w", q.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bank.Invalidate()
	slog.InfoContext(ctx, "admin: question created", "question_id", q.ID)
	return &q, nil
}

type UpdateQuestionRequest struct {
	Code string
	ID   string
	QuestionInput
}

// UpdateQuestion rewrites the content of a question. Its active flag is left alone.
func (s *Service) UpdateQuestion(ctx context.Context, req UpdateQuestionRequest) error {
	if err := s.Authorize(req.Code); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateQuestion(ctx, req.question(req.ID))
	})
	if err != nil {
		return questionError(req.ID, err)
	}

	s.bank.Invalidate()
	return nil
}

type DeleteQuestionRequest struct {
	Code string
	ID   string
}

func (s *Service) DeleteQuestion(ctx context.Context, req DeleteQuestionRequest) error {
	if err := s.Authorize(req.Code); err != nil {
		return err
	}

	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteQuestion(ctx, req.ID)
	})
	if err != nil {
		return questionError(req.ID, err)
	}

	s.bank.Invalidate()
	slog.InfoContext(ctx, "admin: question deleted", "question_id", req.ID)
	return nil
}

// NextQuestionID returns q<n+1> where n is the highest number among ids of the form q<n>.
func NextQuestionID(qs []domain.Question) string {
	highest := 0
	for _, q := range qs {
		n, err := strconv.Atoi(strings.TrimPrefix(q.ID, "q"))
		if err != nil || !strings.HasPrefix(q.ID, "q") {
			continue
		}
		highest = max(highest, n)
	}
	return "q" + strconv.Itoa(highest+1)
}

func questionError(id string, err error) error {
	if stderrors.Is(err, store.ErrNotFound) {
		return errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonQuestionNotFound),
			errors.WithMessagef("question not found: %s", id),
		)
	}
	return fmt.Errorf("question %s: %w", id, err)
}
