package player_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/errors"
	"github.com/victornm/truenorth/internal/player"
	"github.com/victornm/truenorth/internal/store"
	"github.com/victornm/truenorth/internal/store/memory"
)

func TestService_Register(t *testing.T) {
	type (
		inputs struct {
			st  *memory.Store
			req player.RegisterRequest
		}

		outputs struct {
			resp *player.RegisterResponse
			err  error
		}
	)

	tests := map[string]struct {
		arrange func(t *testing.T) inputs
		assert  func(t *testing.T, in inputs, out outputs)
	}{
		"should create a player for a new device": {
			arrange: func(t *testing.T) inputs {
				return inputs{st: memory.New(), req: player.RegisterRequest{Nickname: "  Maple  ", DeviceID: "d1"}}
			},

			assert: func(t *testing.T, in inputs, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.resp.Returning)
				assert.NotEmpty(t, out.resp.PlayerID)

				p := getPlayer(t, in.st, out.resp.PlayerID)
				assert.Equal(t, "Maple", p.Nickname, "nickname should be trimmed")
			},
		},

		"should keep the player of a device that played before": {
			arrange: func(t *testing.T) inputs {
				st := memory.New()
				err := st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
					if err := tx.CreatePlayer(ctx, domain.Player{ID: "p1", Nickname: "Old"}); err != nil {
						return err
					}
					return tx.CreateSession(ctx, domain.Session{ID: "s1", PlayerID: "p1", DeviceID: "d1", StartTime: time.Now()})
				})
				require.NoError(t, err)

				return inputs{st: st, req: player.RegisterRequest{Nickname: "New", DeviceID: "d1"}}
			},

			assert: func(t *testing.T, in inputs, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.resp.Returning)
				assert.Equal(t, "p1", out.resp.PlayerID)
				assert.Equal(t, "New", getPlayer(t, in.st, "p1").Nickname)
			},
		},

		"should reject a blank nickname": {
			arrange: func(t *testing.T) inputs {
				return inputs{st: memory.New(), req: player.RegisterRequest{Nickname: "   ", DeviceID: "d1"}}
			},

			assert: func(t *testing.T, in inputs, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonValidation))
			},
		},

		"should reject a nickname longer than the limit": {
			arrange: func(t *testing.T) inputs {
				return inputs{st: memory.New(), req: player.RegisterRequest{
					Nickname: strings.Repeat("é", player.MaxNicknameLength+1),
					DeviceID: "d1",
				}}
			},

			assert: func(t *testing.T, in inputs, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonValidation))
			},
		},

		"should accept a nickname at the limit counted in characters": {
			arrange: func(t *testing.T) inputs {
				return inputs{st: memory.New(), req: player.RegisterRequest{
					Nickname: strings.Repeat("é", player.MaxNicknameLength),
					DeviceID: "d1",
				}}
			},

			assert: func(t *testing.T, in inputs, out outputs) {
				require.NoError(t, out.err)
			},
		},

		"should require a device": {
			arrange: func(t *testing.T) inputs {
				return inputs{st: memory.New(), req: player.RegisterRequest{Nickname: "Maple"}}
			},

			assert: func(t *testing.T, in inputs, out outputs) {
				assert.True(t, errors.HasReason(out.err, errors.ReasonValidation))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange(t)
			svc := player.NewService(player.Config{Store: in.st})

			var out outputs
			out.resp, out.err = svc.Register(context.Background(), in.req)

			tt.assert(t, in, out)
		})
	}
}

func TestService_Get(t *testing.T) {
	svc := player.NewService(player.Config{Store: memory.New()})

	_, err := svc.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.HasReason(err, errors.ReasonPlayerNotFound))
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func getPlayer(t *testing.T, st store.Store, id string) domain.Player {
	t.Helper()

	var p domain.Player
	err := st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetPlayer(ctx, id)
		return err
	})
	require.NoError(t, err)
	return p
}
