//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	addr = "localhost:8080"
)

type card struct {
	ID string `json:"id"`
}

type standing struct {
	Rank     int    `json:"rank"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}

// TestDailyGame plays a few players through a full game against a running server while a
// WebSocket client watches the leaderboard.
func TestDailyGame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var (
		wg      = new(sync.WaitGroup)
		players = []string{"maple", "eagle", "moose"}
	)

	watchLeaderboard(t, wg)

	var eg errgroup.Group
	for _, nickname := range players {
		eg.Go(func() error {
			return play(ctx, t, nickname)
		})
	}
	require.NoError(t, eg.Wait())

	time.Sleep(2 * time.Second)
	t.Logf("leaderboard:\n%s", formatLeaderboard(fetchLeaderboard(t)))

	wg.Wait()
}

func play(ctx context.Context, t *testing.T, nickname string) error {
	device := uuid.NewString()

	var p struct {
		PlayerID string `json:"playerId"`
	}
	if err := post(ctx, "/api/player", map[string]any{"nickname": nickname, "deviceId": device}, &p); err != nil {
		return fmt.Errorf("player %q register: %w", nickname, err)
	}

	var s struct {
		SessionID string `json:"sessionId"`
		Deck      []card `json:"deck"`
	}
	if err := post(ctx, "/api/session/start", map[string]any{"playerId": p.PlayerID, "deviceId": device}, &s); err != nil {
		return fmt.Errorf("player %q start: %w", nickname, err)
	}

	for _, c := range s.Deck {
		guess := "CAN"
		if rand.IntN(2) == 0 {
			guess = "USA"
		}

		var a struct {
			Correct      bool `json:"correct"`
			RunningScore int  `json:"runningScore"`
		}
		req := map[string]any{
			"sessionId":  s.SessionID,
			"questionId": c.ID,
			"latencyMs":  rand.IntN(6000),
			"guess":      guess,
		}
		if err := post(ctx, "/api/session/answer", req, &a); err != nil {
			return fmt.Errorf("player %q answer %s: %w", nickname, c.ID, err)
		}

		t.Logf("Player %q answered %s: correct=%t, running_score=%d", nickname, c.ID, a.Correct, a.RunningScore)
	}

	var f struct {
		Score int `json:"score"`
		Rank  int `json:"rank"`
	}
	if err := post(ctx, "/api/session/finish", map[string]any{"sessionId": s.SessionID}, &f); err != nil {
		return fmt.Errorf("player %q finish: %w", nickname, err)
	}

	t.Logf("Player %q finished: score=%d, rank=%d", nickname, f.Score, f.Rank)
	return nil
}

func post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("status %d: %s: %s", resp.StatusCode, e.Reason, e.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func watchLeaderboard(t *testing.T, wg *sync.WaitGroup) {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "leaderboard:subscribe"}))

	wg.Add(1)
	go func() {
		defer wg.Done()

		_ = conn.SetReadDeadline(time.Now().Add(20 * time.Second))
		for {
			var n struct {
				Event string `json:"event"`
			}
			if err := conn.ReadJSON(&n); err != nil {
				t.Log(err)
				return
			}

			t.Logf("Received %q", n.Event)
		}
	}()
}

func fetchLeaderboard(t *testing.T) []standing {
	resp, err := http.Get("http://" + addr + "/api/leaderboard?period=today")
	require.NoError(t, err)
	defer resp.Body.Close()

	var l struct {
		Entries []standing `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&l))
	return l.Entries
}

func formatLeaderboard(entries []standing) string {
	var s string
	for _, e := range entries {
		s += fmt.Sprintf("%d. %s: %d\n", e.Rank, e.Nickname, e.Score)
	}
	return s
}
