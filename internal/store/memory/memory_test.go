package memory_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/store"
	"github.com/victornm/truenorth/internal/store/memory"
)

var t0 = time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

func TestStore_InTx_RollsBackOnError(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	errAbort := stderrors.New("abort")
	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreatePlayer(ctx, domain.Player{ID: "p1", Nickname: "Maple"}))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	err = st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetPlayer(ctx, "p1")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_InTx_CanceledContext(t *testing.T) {
	st := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := st.InTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestStore_Sessions(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateSession(ctx, domain.Session{ID: "s1", PlayerID: "p1", DeviceID: "d1", StartTime: t0}))

		// one open session per device
		err := tx.CreateSession(ctx, domain.Session{ID: "s2", PlayerID: "p1", DeviceID: "d1", StartTime: t0})
		assert.ErrorIs(t, err, store.ErrConflict)

		total, err := tx.AddScore(ctx, "s1", 160)
		require.NoError(t, err)
		assert.Equal(t, 160, total)
		total, err = tx.AddScore(ctx, "s1", 0)
		require.NoError(t, err)
		assert.Equal(t, 160, total)

		require.NoError(t, tx.CloseSession(ctx, "s1", t0.Add(time.Minute), 60_000))
		_, err = tx.LockOpenSession(ctx, "s1")
		assert.ErrorIs(t, err, store.ErrNotFound, "closed sessions are not open")
		assert.ErrorIs(t, tx.CloseSession(ctx, "s1", t0, 0), store.ErrNotFound)

		ss, err := tx.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, ss.Open())
		assert.Equal(t, int64(60_000), *ss.DurationMs)

		return tx.CreateSession(ctx, domain.Session{ID: "s2", PlayerID: "p1", DeviceID: "d1", StartTime: t0.Add(time.Hour)})
	})
	require.NoError(t, err)

	err = st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		open, err := tx.OpenSessionByDevice(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "s2", open.ID)

		id, err := tx.LatestDevicePlayer(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "p1", id)

		_, err = tx.LatestDevicePlayer(ctx, "d2")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_Answers(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateSession(ctx, domain.Session{ID: "s1", DeviceID: "d1", StartTime: t0}))
		require.NoError(t, tx.InsertAnswer(ctx, domain.Answer{SessionID: "s1", QuestionID: "q1", OrderIndex: 0}))
		require.NoError(t, tx.InsertAnswer(ctx, domain.Answer{SessionID: "s1", QuestionID: "q2", OrderIndex: 1}))

		assert.ErrorIs(t, tx.InsertAnswer(ctx, domain.Answer{SessionID: "s1", QuestionID: "q1", OrderIndex: 2}), store.ErrConflict)
		assert.ErrorIs(t, tx.InsertAnswer(ctx, domain.Answer{SessionID: "s1", QuestionID: "q3", OrderIndex: 1}), store.ErrConflict)

		as, err := tx.ListAnswers(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, as, 2)
		assert.Equal(t, "q1", as[0].QuestionID)
		assert.Equal(t, "q2", as[1].QuestionID)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_DeleteSessionCascades(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateSession(ctx, domain.Session{ID: "s1", DeviceID: "d1", StartTime: t0}))
		require.NoError(t, tx.InsertAnswer(ctx, domain.Answer{SessionID: "s1", QuestionID: "q1"}))
		require.NoError(t, tx.InsertEntry(ctx, domain.LeaderboardEntry{Date: "2024-12-01", SessionID: "s1", Rank: 1}))

		require.NoError(t, tx.DeleteSession(ctx, "s1"))

		as, err := tx.ListAnswers(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, as)

		_, err = tx.GetEntry(ctx, "s1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_Leaderboard(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreatePlayer(ctx, domain.Player{ID: "p1", Nickname: "Maple"}))
		require.NoError(t, tx.CreatePlayer(ctx, domain.Player{ID: "p2", Nickname: "Eagle"}))

		for _, e := range []domain.LeaderboardEntry{
			{Date: "2024-12-01", SessionID: "a", PlayerID: "p1", Score: 100, DurationMs: 10, FinishedAt: t0},
			{Date: "2024-12-01", SessionID: "b", PlayerID: "p2", Score: 300, DurationMs: 10, FinishedAt: t0},
			{Date: "2024-12-02", SessionID: "c", PlayerID: "p1", Score: 200, DurationMs: 10, FinishedAt: t0},
		} {
			require.NoError(t, tx.InsertEntry(ctx, e))
		}

		es, err := tx.ListEntries(ctx, "2024-12-01")
		require.NoError(t, err)
		require.Len(t, es, 2)
		assert.Equal(t, "b", es[0].SessionID)

		require.NoError(t, tx.SetRanks(ctx, "2024-12-01", map[string]int{"b": 1, "a": 2}))
		assert.ErrorIs(t, tx.SetRanks(ctx, "2024-12-01", map[string]int{"c": 1}), store.ErrNotFound)

		top, err := tx.TopStandings(ctx, "", 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "b", top[0].SessionID)
		assert.Equal(t, "Eagle", top[0].Nickname)
		assert.Equal(t, "c", top[1].SessionID)

		recent, err := tx.RecentStandings(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, "c", recent[0].SessionID, "newest day first")

		require.NoError(t, tx.DeleteEntries(ctx, "2024-12-01"))
		es, err = tx.ListEntries(ctx, "2024-12-01")
		require.NoError(t, err)
		assert.Empty(t, es)

		require.NoError(t, tx.DeleteEntries(ctx, ""))
		top, err = tx.TopStandings(ctx, "", 10)
		require.NoError(t, err)
		assert.Empty(t, top)
		return nil
	})
	require.NoError(t, err)
}
