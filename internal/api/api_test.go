package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/truenorth/internal/admin"
	"github.com/victornm/truenorth/internal/api"
	"github.com/victornm/truenorth/internal/deck"
	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/errors"
	"github.com/victornm/truenorth/internal/event"
	"github.com/victornm/truenorth/internal/leaderboard"
	"github.com/victornm/truenorth/internal/notify"
	"github.com/victornm/truenorth/internal/player"
	"github.com/victornm/truenorth/internal/question"
	"github.com/victornm/truenorth/internal/session"
	"github.com/victornm/truenorth/internal/store"
	"github.com/victornm/truenorth/internal/store/memory"
)

const adminCode = "maple-syrup"

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAPI_PlayThrough(t *testing.T) {
	s := makeServer(t)

	var reg struct {
		PlayerID string `json:"playerId"`
	}
	s.do(t, http.MethodPost, "/api/player", gin.H{"nickname": "Maple", "deviceId": "dev-1"}, http.StatusOK, &reg)
	require.NotEmpty(t, reg.PlayerID)

	raw := s.do(t, http.MethodPost, "/api/session/start", gin.H{"playerId": reg.PlayerID, "deviceId": "dev-1"}, http.StatusOK, nil)
	assert.NotContains(t, raw, `"label"`, "deck must not leak answers")
	assert.NotContains(t, raw, `"explanation"`, "deck must not leak answers")

	var start struct {
		SessionID string `json:"sessionId"`
		Outcome   string `json:"outcome"`
		Deck      []struct {
			ID         string `json:"id"`
			OrderIndex int    `json:"orderIndex"`
		} `json:"deck"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &start))
	require.Len(t, start.Deck, domain.DeckSize)
	assert.Equal(t, "created", start.Outcome)

	first := start.Deck[0].ID
	var ans struct {
		Correct       bool   `json:"correct"`
		CorrectAnswer string `json:"correctAnswer"`
		PointsAwarded int    `json:"pointsAwarded"`
		Streak        int    `json:"streak"`
		RunningScore  int    `json:"runningScore"`
	}
	s.do(t, http.MethodPost, "/api/session/answer", gin.H{
		"sessionId":  start.SessionID,
		"questionId": first,
		"latencyMs":  0,
		"guess":      string(s.label(t, first)),
	}, http.StatusOK, &ans)
	assert.True(t, ans.Correct)
	assert.Equal(t, 160, ans.PointsAwarded)
	assert.Equal(t, 1, ans.Streak)
	assert.Equal(t, 160, ans.RunningScore)

	var fin struct {
		Score     int    `json:"score"`
		Rank      int    `json:"rank"`
		ShareText string `json:"shareText"`
	}
	s.do(t, http.MethodPost, "/api/session/finish", gin.H{"sessionId": start.SessionID}, http.StatusOK, &fin)
	assert.Equal(t, 160, fin.Score)
	assert.Equal(t, 1, fin.Rank)
	assert.Contains(t, fin.ShareText, "160")

	var view struct {
		Finished bool `json:"finished"`
		Score    int  `json:"score"`
	}
	s.do(t, http.MethodGet, "/api/session/"+start.SessionID, nil, http.StatusOK, &view)
	assert.True(t, view.Finished)
	assert.Equal(t, 160, view.Score)

	for _, period := range []string{"today", "all"} {
		var lb struct {
			Period  string `json:"period"`
			Entries []struct {
				Rank      int    `json:"rank"`
				Nickname  string `json:"nickname"`
				Score     int    `json:"score"`
				SessionID string `json:"sessionId"`
			} `json:"entries"`
		}
		s.do(t, http.MethodGet, "/api/leaderboard?period="+period, nil, http.StatusOK, &lb)
		assert.Equal(t, period, lb.Period)
		require.Len(t, lb.Entries, 1)
		assert.Equal(t, "Maple", lb.Entries[0].Nickname)
		assert.Equal(t, 1, lb.Entries[0].Rank)
		assert.Equal(t, start.SessionID, lb.Entries[0].SessionID)
	}
}

func TestAPI_Errors(t *testing.T) {
	type inputs struct {
		method, path string
		body         any
	}

	tests := map[string]struct {
		arrange    func(t *testing.T, s *server) inputs
		wantStatus int
		wantReason string
	}{
		"nickname too long": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodPost, "/api/player", gin.H{"nickname": strings.Repeat("x", 31), "deviceId": "d"}}
			},
			wantStatus: http.StatusBadRequest,
			wantReason: errors.ReasonValidation,
		},

		"unknown player": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodPost, "/api/session/start", gin.H{"playerId": uuid.NewString(), "deviceId": "d"}}
			},
			wantStatus: http.StatusNotFound,
			wantReason: errors.ReasonPlayerNotFound,
		},

		"latency above the limit": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodPost, "/api/session/answer", gin.H{
					"sessionId": s.start(t), "questionId": "q1", "latencyMs": 60001, "guess": "CAN",
				}}
			},
			wantStatus: http.StatusBadRequest,
			wantReason: errors.ReasonValidation,
		},

		"missing latency": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodPost, "/api/session/answer", gin.H{
					"sessionId": s.start(t), "questionId": "q1", "guess": "CAN",
				}}
			},
			wantStatus: http.StatusBadRequest,
			wantReason: errors.ReasonValidation,
		},

		"guess outside the labels": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodPost, "/api/session/answer", gin.H{
					"sessionId": s.start(t), "questionId": "q1", "latencyMs": 10, "guess": "MEX",
				}}
			},
			wantStatus: http.StatusBadRequest,
			wantReason: errors.ReasonValidation,
		},

		"answer to an unknown session": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodPost, "/api/session/answer", gin.H{
					"sessionId": uuid.NewString(), "questionId": "q1", "latencyMs": 10, "guess": "CAN",
				}}
			},
			wantStatus: http.StatusNotFound,
			wantReason: errors.ReasonSessionNotFound,
		},

		"duplicate answer": {
			arrange: func(t *testing.T, s *server) inputs {
				id := s.start(t)
				body := gin.H{"sessionId": id, "questionId": "q1", "latencyMs": 10, "guess": "CAN"}
				s.do(t, http.MethodPost, "/api/session/answer", body, http.StatusOK, nil)
				return inputs{http.MethodPost, "/api/session/answer", body}
			},
			wantStatus: http.StatusConflict,
			wantReason: errors.ReasonDuplicateAnswer,
		},

		"finish twice": {
			arrange: func(t *testing.T, s *server) inputs {
				id := s.start(t)
				s.do(t, http.MethodPost, "/api/session/finish", gin.H{"sessionId": id}, http.StatusOK, nil)
				return inputs{http.MethodPost, "/api/session/finish", gin.H{"sessionId": id}}
			},
			wantStatus: http.StatusNotFound,
			wantReason: errors.ReasonSessionNotFound,
		},

		"unknown leaderboard period": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodGet, "/api/leaderboard?period=weekly", nil}
			},
			wantStatus: http.StatusBadRequest,
			wantReason: errors.ReasonValidation,
		},

		"leaderboard limit above the maximum": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodGet, "/api/leaderboard?limit=201", nil}
			},
			wantStatus: http.StatusBadRequest,
			wantReason: errors.ReasonValidation,
		},

		"too few active questions": {
			arrange: func(t *testing.T, s *server) inputs {
				p := s.register(t, "dev-x")
				err := s.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
					qs, err := tx.ListQuestions(ctx, true)
					if err != nil {
						return err
					}
					for _, q := range qs {
						if q.Label == domain.LabelUSA {
							if err := tx.SetQuestionActive(ctx, q.ID, false); err != nil {
								return err
							}
						}
					}
					return nil
				})
				require.NoError(t, err)
				return inputs{http.MethodPost, "/api/session/start", gin.H{"playerId": p, "deviceId": "dev-x"}}
			},
			wantStatus: http.StatusServiceUnavailable,
			wantReason: errors.ReasonInsufficientContent,
		},

		"wrong admin code": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodPost, "/api/admin/reset", gin.H{"code": "nope", "action": "reset_all"}}
			},
			wantStatus: http.StatusForbidden,
			wantReason: errors.ReasonInvalidAdminCode,
		},

		"wrong admin code on a query": {
			arrange: func(t *testing.T, s *server) inputs {
				return inputs{http.MethodGet, "/api/admin/questions?code=nope", nil}
			},
			wantStatus: http.StatusForbidden,
			wantReason: errors.ReasonInvalidAdminCode,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := makeServer(t)
			in := tt.arrange(t, s)

			var e struct {
				Code    int    `json:"code"`
				Reason  string `json:"reason"`
				Message string `json:"message"`
			}
			s.do(t, in.method, in.path, in.body, tt.wantStatus, &e)
			assert.Equal(t, tt.wantReason, e.Reason)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestAPI_AdminQuestions(t *testing.T) {
	s := makeServer(t)

	var created struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	s.do(t, http.MethodPost, "/api/admin/questions", gin.H{
		"code":        adminCode,
		"prompt":      "Poutine",
		"answer":      "CAN",
		"explanation": "Quebec, 1950s.",
		"tags":        "food, quebec",
	}, http.StatusOK, &created)
	assert.True(t, created.Success)
	assert.Equal(t, "q45", created.ID)

	s.do(t, http.MethodPut, "/api/admin/questions/q45", gin.H{
		"code":        adminCode,
		"prompt":      "Poutine",
		"answer":      "CAN",
		"explanation": "Quebec, late 1950s.",
		"image_url":   "not a url",
	}, http.StatusBadRequest, nil)

	s.do(t, http.MethodPost, "/api/admin/reset", gin.H{
		"code": adminCode, "action": "toggle_question", "questionId": "q45",
	}, http.StatusOK, nil)

	var list struct {
		Questions []struct {
			ID     string   `json:"id"`
			Tags   []string `json:"tags"`
			Active bool     `json:"active"`
		} `json:"questions"`
	}
	s.do(t, http.MethodGet, "/api/admin/questions?code="+adminCode, nil, http.StatusOK, &list)
	require.Len(t, list.Questions, 45)
	for _, q := range list.Questions {
		if q.ID == "q45" {
			assert.False(t, q.Active)
			assert.Equal(t, []string{"food", "quebec"}, q.Tags)
		}
	}

	s.do(t, http.MethodDelete, "/api/admin/questions/q45?code="+adminCode, nil, http.StatusOK, nil)
	s.do(t, http.MethodDelete, "/api/admin/questions/q45?code="+adminCode, nil, http.StatusNotFound, nil)
}

func TestAPI_AdminDeleteSession(t *testing.T) {
	s := makeServer(t)

	id := s.start(t)
	s.do(t, http.MethodPost, "/api/session/finish", gin.H{"sessionId": id}, http.StatusOK, nil)

	var entries struct {
		Entries []struct {
			SessionID string `json:"sessionId"`
		} `json:"entries"`
	}
	s.do(t, http.MethodGet, "/api/admin/leaderboard?code="+adminCode, nil, http.StatusOK, &entries)
	require.Len(t, entries.Entries, 1)
	assert.Equal(t, id, entries.Entries[0].SessionID)

	s.do(t, http.MethodPost, "/api/admin/reset", gin.H{
		"code": adminCode, "action": "delete_session", "sessionId": id,
	}, http.StatusOK, nil)

	s.do(t, http.MethodGet, "/api/admin/leaderboard?code="+adminCode, nil, http.StatusOK, &entries)
	assert.Empty(t, entries.Entries)
	s.do(t, http.MethodGet, "/api/session/"+id, nil, http.StatusNotFound, nil)
}

func TestAPI_WebSocketGetsLeaderboardUpdates(t *testing.T) {
	s := makeServer(t)
	ts := httptest.NewServer(s.engine)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(gin.H{"type": notify.TypeSubscribe}))
	require.Eventually(t, func() bool {
		return s.hub.Subscribers(notify.TopicLeaderboard) == 1
	}, time.Second, 10*time.Millisecond)

	id := s.start(t)
	s.do(t, http.MethodPost, "/api/session/finish", gin.H{"sessionId": id}, http.StatusOK, nil)

	var n notify.Notification
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, notify.EventLeaderboardUpdate, n.Event)
}

type server struct {
	st     *memory.Store
	hub    *notify.Hub
	engine *gin.Engine
}

func makeServer(t *testing.T) *server {
	t.Helper()

	st := memory.New()
	qs, err := question.DefaultCatalog()
	require.NoError(t, err)
	_, err = question.Seed(context.Background(), st, qs)
	require.NoError(t, err)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	hub := notify.NewHub()
	t.Cleanup(hub.Close)
	notify.New(notify.Config{EventBus: eb, Hub: hub})

	bank := question.NewBank(question.Config{Store: st, TTL: -1})
	lb := leaderboard.NewService(leaderboard.Config{Store: st, EventBus: eb})

	e := gin.New()
	api.New(api.Config{
		Player: player.NewService(player.Config{Store: st}),
		Session: session.NewService(session.Config{
			Store:       st,
			Deck:        deck.NewAssembler(deck.Config{Source: bank}),
			Leaderboard: lb,
			EventBus:    eb,
		}),
		Leaderboard: lb,
		Admin:       admin.NewService(admin.Config{Store: st, Leaderboard: lb, Questions: bank, Code: adminCode}),
		Hub:         hub,
	}).Register(e)

	return &server{st: st, hub: hub, engine: e}
}

// do sends a JSON request, checks the status and decodes the body into out when set.
func (s *server) do(t *testing.T, method, path string, body any, wantStatus int, out any) string {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, wantStatus, rec.Code, rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Body.String()
}

func (s *server) register(t *testing.T, device string) string {
	t.Helper()

	var reg struct {
		PlayerID string `json:"playerId"`
	}
	s.do(t, http.MethodPost, "/api/player", gin.H{"nickname": "Eagle", "deviceId": device}, http.StatusOK, &reg)
	return reg.PlayerID
}

func (s *server) start(t *testing.T) string {
	t.Helper()

	device := uuid.NewString()
	var start struct {
		SessionID string `json:"sessionId"`
	}
	s.do(t, http.MethodPost, "/api/session/start", gin.H{"playerId": s.register(t, device), "deviceId": device}, http.StatusOK, &start)
	return start.SessionID
}

func (s *server) label(t *testing.T, questionID string) domain.Label {
	t.Helper()

	var q domain.Question
	err := s.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		q, err = tx.GetQuestion(ctx, questionID)
		return err
	})
	require.NoError(t, err)
	return q.Label
}
