package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scourhq/scour/internal/coordinator"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/workflow"
)

// RunsHandler exposes the workflow driver over HTTP.
type RunsHandler struct {
	Driver *workflow.Driver
	Events *events.MemorySink
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.GET("/:id/suspension", h.suspension)
	g.POST("/:id/resume", h.resume)
	g.GET("/:id/events", h.events)
}

// RunResponse is the external view of a run. Checkpoints are internal state
// and stay out of the API.
type RunResponse struct {
	RunID         string          `json:"run_id"`
	Query         string          `json:"query"`
	Status        string          `json:"status"`
	CurrentStepID string          `json:"current_step_id,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func runResponse(run store.WorkflowRun) RunResponse {
	return RunResponse{
		RunID:         run.RunID,
		Query:         run.Query,
		Status:        run.Status,
		CurrentStepID: run.CurrentStepID,
		Result:        run.Result,
		Error:         run.Error,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

func (h *RunsHandler) create(c echo.Context) error {
	var req struct {
		Query        string   `json:"query"`
		SubQuestions []string `json:"sub_questions"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	runID, err := h.Driver.StartRun(c.Request().Context(), workflow.RunRequest{
		Query:        req.Query,
		SubQuestions: req.SubQuestions,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

func (h *RunsHandler) get(c echo.Context) error {
	run, err := h.Driver.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, runResponse(run))
}

func (h *RunsHandler) suspension(c echo.Context) error {
	susp, err := h.Driver.Suspension(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	if !susp.Active {
		return echo.NewHTTPError(http.StatusNotFound, "run is not suspended")
	}
	return c.JSON(http.StatusOK, susp)
}

func (h *RunsHandler) resume(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// A step_id naming anything but the currently suspended step conflicts.
	// Omitting it targets the suspended step; an empty payload means "accept
	// defaults" and is delivered as an empty object.
	var req struct {
		StepID  string          `json:"step_id"`
		Payload json.RawMessage `json:"payload"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "resume request must be valid JSON")
		}
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	runID := c.Param("id")
	if err := h.Driver.Resume(c.Request().Context(), runID, req.StepID, payload); err != nil {
		return storeError(err)
	}
	run, err := h.Driver.Status(c.Request().Context(), runID)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, runResponse(run))
}

func (h *RunsHandler) events(c echo.Context) error {
	if h.Events == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "event buffer not configured")
	}
	runID := c.Param("id")
	if _, err := h.Driver.Status(c.Request().Context(), runID); err != nil {
		return storeError(err)
	}
	evs := h.Events.ForRun(runID)
	if evs == nil {
		evs = []events.Event{}
	}
	return c.JSON(http.StatusOK, evs)
}

// storeError maps persistence errors onto HTTP status codes.
func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	case errors.Is(err, store.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// ProvidersHandler exposes coordinator diagnostics.
type ProvidersHandler struct {
	Coordinator *coordinator.Coordinator
}

func (h *ProvidersHandler) Register(g *echo.Group) {
	g.GET("", h.health)
}

func (h *ProvidersHandler) health(c echo.Context) error {
	if h.Coordinator == nil {
		return c.JSON(http.StatusOK, []coordinator.ProviderHealth{})
	}
	snapshot := h.Coordinator.Health()
	if snapshot == nil {
		snapshot = []coordinator.ProviderHealth{}
	}
	return c.JSON(http.StatusOK, snapshot)
}
