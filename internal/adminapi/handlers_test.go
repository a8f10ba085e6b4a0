package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentrelay/internal/agentsup"
	"github.com/kandev/agentrelay/internal/logging"
	"github.com/kandev/agentrelay/internal/ptywrap"
)

func testManager() *agentsup.Manager {
	cfg := ptywrap.Config{Cols: 80, Rows: 24, GraceSeconds: 1}
	return agentsup.NewManager(logging.Default(), cfg, nil, nil, nil, agentsup.NewHistory(10))
}

func testEngine(h *handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	registerRoutes(engine, h)
	return engine
}

func TestAdminAPI_SpawnListStop(t *testing.T) {
	mgr := testManager()
	h := &handlers{manager: mgr, log: logging.Default(), broadcast: newEventBroadcaster(logging.Default(), mgr, 8)}
	engine := testEngine(h)

	body, _ := json.Marshal(spawnRequest{
		WorkspaceID: "ws1",
		Name:        "dora",
		Command:     []string{"sleep", "5"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var agent agentsup.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	assert.Equal(t, "dora", agent.Name)

	listRec := httptest.NewRecorder()
	engine.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	require.Equal(t, http.StatusOK, listRec.Code)
	var listBody struct {
		Agents []agentsup.Agent `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listBody))
	require.Len(t, listBody.Agents, 1)

	stopRec := httptest.NewRecorder()
	engine.ServeHTTP(stopRec, httptest.NewRequest(http.MethodPost, "/api/v1/agents/"+agent.AgentID+"/stop", nil))
	assert.Equal(t, http.StatusNoContent, stopRec.Code)
}

func TestAdminAPI_SpawnRejectsMissingCommand(t *testing.T) {
	mgr := testManager()
	h := &handlers{manager: mgr, log: logging.Default(), broadcast: newEventBroadcaster(logging.Default(), mgr, 8)}
	engine := testEngine(h)

	body, _ := json.Marshal(map[string]string{"workspaceId": "ws1", "name": "eve"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAPI_StopUnknownAgentReturnsNotFound(t *testing.T) {
	mgr := testManager()
	h := &handlers{manager: mgr, log: logging.Default(), broadcast: newEventBroadcaster(logging.Default(), mgr, 8)}
	engine := testEngine(h)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agents/nope/stop", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
