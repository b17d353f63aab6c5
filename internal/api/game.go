package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/leaderboard"
	"github.com/victornm/truenorth/internal/player"
	"github.com/victornm/truenorth/internal/session"
)

type registerPlayerRequest struct {
	Nickname string `json:"nickname" binding:"required,max=30"`
	DeviceID string `json:"deviceId" binding:"required,max=128"`
}

type registerPlayerResponse struct {
	PlayerID  string `json:"playerId"`
	Returning bool   `json:"returning"`
}

func (a *API) RegisterPlayer(c *gin.Context) {
	var req registerPlayerRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := a.ps.Register(c.Request.Context(), player.RegisterRequest{
		Nickname: req.Nickname,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, registerPlayerResponse{PlayerID: resp.PlayerID, Returning: resp.Returning})
}

type startSessionRequest struct {
	PlayerID string `json:"playerId" binding:"required,uuid"`
	DeviceID string `json:"deviceId" binding:"required,max=128"`
}

type card struct {
	ID         string  `json:"id"`
	Prompt     string  `json:"prompt"`
	ImageURL   *string `json:"imageUrl"`
	OrderIndex int     `json:"orderIndex"`
}

type startSessionResponse struct {
	SessionID string `json:"sessionId"`
	Deck      []card `json:"deck"`
	Outcome   string `json:"outcome"`
}

func (a *API) StartSession(c *gin.Context) {
	var req startSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := a.ss.Start(c.Request.Context(), session.StartRequest{
		PlayerID: req.PlayerID,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	deck := make([]card, 0, len(resp.Deck))
	for _, cd := range resp.Deck {
		deck = append(deck, card{ID: cd.ID, Prompt: cd.Prompt, ImageURL: cd.ImageURL, OrderIndex: cd.OrderIndex})
	}

	c.JSON(http.StatusOK, startSessionResponse{
		SessionID: resp.SessionID,
		Deck:      deck,
		Outcome:   string(resp.Outcome),
	})
}

type submitAnswerRequest struct {
	SessionID  string `json:"sessionId" binding:"required,uuid"`
	QuestionID string `json:"questionId" binding:"required"`
	// pointer so that 0 passes "required"
	LatencyMs *int64 `json:"latencyMs" binding:"required,min=0,max=60000"`
	Guess     string `json:"guess" binding:"required,oneof=CAN USA"`
}

type pointsBreakdown struct {
	Base        int `json:"base"`
	TimeBonus   int `json:"timeBonus"`
	StreakBonus int `json:"streakBonus"`
}

type submitAnswerResponse struct {
	Correct       bool            `json:"correct"`
	CorrectAnswer string          `json:"correctAnswer"`
	Explanation   string          `json:"explanation"`
	PointsAwarded int             `json:"pointsAwarded"`
	Breakdown     pointsBreakdown `json:"breakdown"`
	Streak        int             `json:"streak"`
	RunningScore  int             `json:"runningScore"`
}

func (a *API) SubmitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := a.ss.SubmitAnswer(c.Request.Context(), session.SubmitAnswerRequest{
		SessionID:  req.SessionID,
		QuestionID: req.QuestionID,
		LatencyMs:  *req.LatencyMs,
		Guess:      domain.Label(req.Guess),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, submitAnswerResponse{
		Correct:       resp.Correct,
		CorrectAnswer: string(resp.TrueLabel),
		Explanation:   resp.Explanation,
		PointsAwarded: resp.Points.Total,
		Breakdown: pointsBreakdown{
			Base:        resp.Points.Base,
			TimeBonus:   resp.Points.TimeBonus,
			StreakBonus: resp.Points.StreakBonus,
		},
		Streak:       resp.Streak,
		RunningScore: resp.RunningScore,
	})
}

type finishSessionRequest struct {
	SessionID string `json:"sessionId" binding:"required,uuid"`
}

type finishSessionResponse struct {
	Score      int    `json:"score"`
	DurationMs int64  `json:"durationMs"`
	Rank       int    `json:"rank"`
	ShareText  string `json:"shareText"`
}

func (a *API) FinishSession(c *gin.Context) {
	var req finishSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := a.ss.Finish(c.Request.Context(), session.FinishRequest{SessionID: req.SessionID})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, finishSessionResponse{
		Score:      resp.Score,
		DurationMs: resp.DurationMs,
		Rank:       resp.Rank,
		ShareText:  resp.ShareText,
	})
}

type sessionView struct {
	ID            string     `json:"id"`
	PlayerID      string     `json:"playerId"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime"`
	Score         int        `json:"score"`
	DurationMs    *int64     `json:"durationMs"`
	QuestionCount int        `json:"questionCount"`
	Finished      bool       `json:"finished"`
}

func (a *API) GetSession(c *gin.Context) {
	ss, err := a.ss.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionView{
		ID:            ss.ID,
		PlayerID:      ss.PlayerID,
		StartTime:     ss.StartTime,
		EndTime:       ss.EndTime,
		Score:         ss.Score,
		DurationMs:    ss.DurationMs,
		QuestionCount: ss.QuestionCount,
		Finished:      !ss.Open(),
	})
}

type leaderboardQuery struct {
	Period string `form:"period"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

type standing struct {
	Rank       int       `json:"rank"`
	SessionID  string    `json:"sessionId"`
	Nickname   string    `json:"nickname"`
	Score      int       `json:"score"`
	DurationMs int64     `json:"durationMs"`
	Date       string    `json:"date"`
	FinishedAt time.Time `json:"finishedAt"`
	StartTime  time.Time `json:"startTime"`
}

type leaderboardResponse struct {
	Period  string     `json:"period"`
	Date    string     `json:"date,omitempty"`
	Entries []standing `json:"entries"`
}

func toStandings(in []domain.Standing) []standing {
	out := make([]standing, 0, len(in))
	for _, s := range in {
		out = append(out, standing{
			Rank:       s.Rank,
			SessionID:  s.SessionID,
			Nickname:   s.Nickname,
			Score:      s.Score,
			DurationMs: s.DurationMs,
			Date:       s.Date,
			FinishedAt: s.FinishedAt,
			StartTime:  s.StartTime,
		})
	}
	return out
}

func (a *API) GetLeaderboard(c *gin.Context) {
	var q leaderboardQuery
	if !bindQuery(c, &q) {
		return
	}

	resp, err := a.lbs.Top(c.Request.Context(), leaderboard.TopRequest{
		Period: domain.Period(q.Period),
		Limit:  q.Limit,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, leaderboardResponse{
		Period:  string(resp.Period),
		Date:    resp.Date,
		Entries: toStandings(resp.Standings),
	})
}
