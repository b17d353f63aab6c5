// Package player keeps the identity of players. A device that played before keeps its player.
package player

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/errors"
	"github.com/victornm/truenorth/internal/store"
)

const MaxNicknameLength = 30

type Config struct {
	Store store.Store
	Now   func() time.Time
}

type Service struct {
	st  store.Store
	now func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		st:  c.Store,
		now: c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RegisterRequest struct {
	Nickname string
	DeviceID string
}

type RegisterResponse struct {
	PlayerID string
	// Returning is set when the device already belonged to a player.
	Returning bool
}

// Register returns the player of the device, renamed to the given nickname, or creates one.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	nickname := strings.TrimSpace(req.Nickname)
	if n := utf8.RuneCountInString(nickname); n == 0 || n > MaxNicknameLength {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("nickname must be 1 to %d characters", MaxNicknameLength),
		)
	}
	if req.DeviceID == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("device id is required"),
		)
	}

	resp := &RegisterResponse{}
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		id, err := tx.LatestDevicePlayer(ctx, req.DeviceID)
		switch {
		case err == nil:
			resp.PlayerID, resp.Returning = id, true
			return tx.UpdateNickname(ctx, id, nickname)
		case !stderrors.Is(err, store.ErrNotFound):
			return fmt.Errorf("find device player: %w", err)
		}

		uid, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate player ID: %w", err)
		}

		resp.PlayerID = uid.String()
		return tx.CreatePlayer(ctx, domain.Player{
			ID:        resp.PlayerID,
			Nickname:  nickname,
			CreatedAt: s.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// Get returns a player or a PLAYER_NOT_FOUND error.
func (s *Service) Get(ctx context.Context, id string) (*domain.Player, error) {
	var p domain.Player
	err := s.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetPlayer(ctx, id)
		return err
	})
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, NotFound(id)
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func NotFound(id string) *errors.Error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonPlayerNotFound),
		errors.WithMessagef("player not found: %s", id),
	)
}
