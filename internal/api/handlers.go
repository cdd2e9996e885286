package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/juncture-dev/juncture/internal/bridge"
	"github.com/juncture-dev/juncture/internal/session"
	v1 "github.com/juncture-dev/juncture/pkg/api/v1"
)

func (s *Server) handleConnect(c *gin.Context) {
	if err := s.bridge.Connect(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(s.bridge.Status())})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.bridge.Disconnect(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(s.bridge.Status())})
}

func (s *Server) handleBridgeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": string(s.bridge.Status())})
}

func (s *Server) handlePrompt(c *gin.Context) {
	var req v1.PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	turnID, err := s.bridge.SendPrompt(c.Request.Context(), req.SessionID, buildPrompt(&req), req.Model)
	if err != nil {
		s.logger.Warn("prompt failed", zap.Error(err))
		c.JSON(promptStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, v1.PromptResponse{TurnID: turnID})
}

// buildPrompt merges context blocks into the prompt body. A template with
// a {input} placeholder wraps the text; diff and file blocks are appended
// as fenced sections.
func buildPrompt(req *v1.PromptRequest) string {
	text := req.Text
	ctx := req.Context
	if ctx == nil {
		return text
	}

	if ctx.Template != "" {
		if strings.Contains(ctx.Template, "{input}") {
			text = strings.ReplaceAll(ctx.Template, "{input}", text)
		} else {
			text = ctx.Template + "\n\n" + text
		}
	}

	var b strings.Builder
	b.WriteString(text)
	if ctx.File != "" {
		b.WriteString("\n\n")
		if ctx.FilePath != "" {
			b.WriteString(ctx.FilePath + ":\n")
		}
		b.WriteString("```\n" + ctx.File + "\n```")
	}
	if ctx.Diff != "" {
		b.WriteString("\n\n```diff\n" + ctx.Diff + "\n```")
	}
	return b.String()
}

func promptStatus(err error) int {
	switch {
	case errors.Is(err, bridge.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrNotConnected):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRegenerate(c *gin.Context) {
	// An empty body regenerates the last turn of the active session.
	var req v1.RegenerateRequest
	_ = c.ShouldBindJSON(&req)

	turnID, err := s.bridge.Regenerate(c.Request.Context(), req.SessionID, req.TurnID)
	if err != nil {
		c.JSON(promptStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, v1.PromptResponse{TurnID: turnID})
}

func (s *Server) handleCancelTurn(c *gin.Context) {
	if err := s.bridge.CancelTurn(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) handleListModels(c *gin.Context) {
	models, err := s.bridge.ListModels(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Server) handleListSessions(c *gin.Context) {
	includeArchived := c.DefaultQuery("archived", "false") == "true"
	c.JSON(http.StatusOK, gin.H{
		"sessions": s.sessions.List(includeArchived),
		"activeId": s.sessions.ActiveID(),
	})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req v1.CreateSessionRequest
	_ = c.ShouldBindJSON(&req)

	sess := s.sessions.Create(req.Title, req.ProjectPath)
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleSelectSession(c *gin.Context) {
	var req v1.SelectSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Switching away mid-turn would orphan the streaming state.
	if s.bridge.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": bridge.ErrSessionBusy.Error()})
		return
	}

	sess, err := s.sessions.Select(req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(c *gin.Context) {
	id := c.Param("id")

	var req v1.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Title != nil {
		if err := s.sessions.Rename(id, *req.Title); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Archived != nil {
		if err := s.sessions.SetArchived(id, *req.Archived); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if s.bridge.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": bridge.ErrSessionBusy.Error()})
		return
	}
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleExportSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	format := session.ExportFormat(c.DefaultQuery("format", "markdown"))
	out, err := session.Export(sess, format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contentType := "text/markdown; charset=utf-8"
	if format == session.ExportJSON {
		contentType = "application/json"
	}
	c.Data(http.StatusOK, contentType, []byte(out))
}
