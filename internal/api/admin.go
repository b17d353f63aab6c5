package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/victornm/truenorth/internal/admin"
	"github.com/victornm/truenorth/internal/domain"
)

type adminResetRequest struct {
	Code       string `json:"code" binding:"required"`
	Action     string `json:"action" binding:"required,oneof=reset_daily reset_all delete_session toggle_question"`
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
}

type adminMessage struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func (a *API) AdminReset(c *gin.Context) {
	var req adminResetRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := a.as.Reset(c.Request.Context(), admin.ResetRequest{
		Code:       req.Code,
		Action:     admin.Action(req.Action),
		SessionID:  req.SessionID,
		QuestionID: req.QuestionID,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, adminMessage{Success: true, Message: resp.Message})
}

type codeQuery struct {
	Code string `form:"code"`
}

func (a *API) AdminLeaderboard(c *gin.Context) {
	var q codeQuery
	if !bindQuery(c, &q) {
		return
	}

	entries, err := a.as.ListEntries(c.Request.Context(), q.Code)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": toStandings(entries)})
}

type questionView struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
	Tags        []string `json:"tags"`
	ImageURL    *string  `json:"imageUrl"`
	Active      bool     `json:"active"`
}

func (a *API) AdminListQuestions(c *gin.Context) {
	var q codeQuery
	if !bindQuery(c, &q) {
		return
	}

	qs, err := a.as.ListQuestions(c.Request.Context(), q.Code)
	if err != nil {
		renderError(c, err)
		return
	}

	out := make([]questionView, 0, len(qs))
	for _, q := range qs {
		tags := q.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, questionView{
			ID:          q.ID,
			Prompt:      q.Prompt,
			Answer:      string(q.Label),
			Explanation: q.Explanation,
			Tags:        tags,
			ImageURL:    q.ImageURL,
			Active:      q.Active,
		})
	}

	c.JSON(http.StatusOK, gin.H{"questions": out})
}

type questionRequest struct {
	Code        string `json:"code" binding:"required"`
	Prompt      string `json:"prompt" binding:"required"`
	Answer      string `json:"answer" binding:"required,oneof=CAN USA"`
	Explanation string `json:"explanation" binding:"required"`
	// comma separated
	Tags     string `json:"tags"`
	ImageURL string `json:"image_url" binding:"omitempty,url"`
}

func (r questionRequest) input() admin.QuestionInput {
	var tags []string
	for _, t := range strings.Split(r.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	return admin.QuestionInput{
		Prompt:      r.Prompt,
		Label:       domain.Label(r.Answer),
		Explanation: r.Explanation,
		Tags:        tags,
		ImageURL:    r.ImageURL,
	}
}

func (a *API) AdminCreateQuestion(c *gin.Context) {
	var req questionRequest
	if !bindJSON(c, &req) {
		return
	}

	q, err := a.as.CreateQuestion(c.Request.Context(), admin.CreateQuestionRequest{
		Code:          req.Code,
		QuestionInput: req.input(),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, adminMessage{Success: true, Message: "Question created", ID: q.ID})
}

func (a *API) AdminUpdateQuestion(c *gin.Context) {
	var req questionRequest
	if !bindJSON(c, &req) {
		return
	}

	err := a.as.UpdateQuestion(c.Request.Context(), admin.UpdateQuestionRequest{
		Code:          req.Code,
		ID:            c.Param("id"),
		QuestionInput: req.input(),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, adminMessage{Success: true, Message: "Question updated"})
}

func (a *API) AdminDeleteQuestion(c *gin.Context) {
	var q codeQuery
	if !bindQuery(c, &q) {
		return
	}

	err := a.as.DeleteQuestion(c.Request.Context(), admin.DeleteQuestionRequest{
		Code: q.Code,
		ID:   c.Param("id"),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, adminMessage{Success: true, Message: "Question deleted"})
}
