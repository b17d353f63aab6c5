// Package api exposes the game over HTTP (gin) and WebSocket.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/truenorth/internal/admin"
	"github.com/victornm/truenorth/internal/errors"
	"github.com/victornm/truenorth/internal/leaderboard"
	"github.com/victornm/truenorth/internal/player"
	"github.com/victornm/truenorth/internal/session"
)

type Config struct {
	Player      *player.Service
	Session     *session.Service
	Leaderboard *leaderboard.Service
	Admin       *admin.Service
	// Hub serves /ws. Nil leaves the route out.
	Hub http.Handler
}

type API struct {
	ps  *player.Service
	ss  *session.Service
	lbs *leaderboard.Service
	as  *admin.Service
	hub http.Handler
}

func New(c Config) *API {
	return &API{
		ps:  c.Player,
		ss:  c.Session,
		lbs: c.Leaderboard,
		as:  c.Admin,
		hub: c.Hub,
	}
}

// Register mounts every route on r.
func (a *API) Register(r gin.IRouter) {
	r.GET("/api/health", a.Health)

	r.POST("/api/player", a.RegisterPlayer)

	s := r.Group("/api/session")
	s.POST("/start", a.StartSession)
	s.POST("/answer", a.SubmitAnswer)
	s.POST("/finish", a.FinishSession)
	s.GET("/:id", a.GetSession)

	r.GET("/api/leaderboard", a.GetLeaderboard)

	ad := r.Group("/api/admin")
	ad.POST("/reset", a.AdminReset)
	ad.GET("/leaderboard", a.AdminLeaderboard)
	ad.GET("/questions", a.AdminListQuestions)
	ad.POST("/questions", a.AdminCreateQuestion)
	ad.PUT("/questions/:id", a.AdminUpdateQuestion)
	ad.DELETE("/questions/:id", a.AdminDeleteQuestion)

	if a.hub != nil {
		r.GET("/ws", gin.WrapH(a.hub))
	}
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// renderError writes err with the status of its code. Unexpected errors are logged and
// rendered without their cause.
func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func invalidInput(err error) *errors.Error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithReason(errors.ReasonValidation),
		errors.WithMessagef("invalid input: %v", err),
		errors.WithCause(err),
	)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		renderError(c, invalidInput(err))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		renderError(c, invalidInput(err))
		return false
	}
	return true
}
