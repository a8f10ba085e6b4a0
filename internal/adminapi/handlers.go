package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentrelay/internal/agentsup"
	"github.com/kandev/agentrelay/internal/logging"
)

type handlers struct {
	manager   *agentsup.Manager
	log       *logging.Logger
	broadcast *eventBroadcaster
}

type spawnRequest struct {
	WorkspaceID string   `json:"workspaceId" binding:"required"`
	Name        string   `json:"name" binding:"required"`
	Provider    string   `json:"provider"`
	Command     []string `json:"command" binding:"required"`
	WorkingDir  string   `json:"workingDir"`
	Task        string   `json:"task"`
}

func (h *handlers) spawn(c *gin.Context) {
	var body spawnRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Warn("spawn: invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	agent, err := h.manager.Spawn(c.Request.Context(), agentsup.SpawnRequest{
		WorkspaceID: body.WorkspaceID,
		Name:        body.Name,
		Provider:    body.Provider,
		Command:     body.Command,
		WorkingDir:  body.WorkingDir,
		Task:        body.Task,
	})
	if err != nil {
		h.log.Warn("spawn failed", zap.String("name", body.Name), zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, agent)
}

func (h *handlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.manager.List()})
}

func (h *handlers) stop(c *gin.Context) {
	agentID := c.Param("agentId")
	if err := h.manager.Stop(c.Request.Context(), agentID); err != nil {
		h.log.Warn("stop failed", zap.String("agentId", agentID), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type sendInputRequest struct {
	Data string `json:"data" binding:"required"`
}

func (h *handlers) sendInput(c *gin.Context) {
	agentID := c.Param("agentId")
	var body sendInputRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.manager.SendInput(agentID, []byte(body.Data)); err != nil {
		h.log.Warn("send input failed", zap.String("agentId", agentID), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) interrupt(c *gin.Context) {
	agentID := c.Param("agentId")
	if err := h.manager.Interrupt(agentID); err != nil {
		h.log.Warn("interrupt failed", zap.String("agentId", agentID), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) getOutput(c *gin.Context) {
	agentID := c.Param("agentId")
	agent, ok := h.manager.Get(agentID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
		return
	}
	chunks := h.manager.GetOutput(agentID, 0)
	pending := h.manager.PendingFor(agentID)
	c.JSON(http.StatusOK, gin.H{"agent": agent, "output": chunks, "pendingInjections": pending})
}
