// Package handler exposes the workflow service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/tasklane/be-workflows/internal/notifier"
	"github.com/tasklane/be-workflows/internal/platform/errors"
	"github.com/tasklane/be-workflows/internal/repository"
	"github.com/tasklane/be-workflows/internal/service"
)

// ChangeFeed hands out filtered subscriptions to the workflow change feed.
type ChangeFeed interface {
	SubscribeUser(userID string) *notifier.Subscription
	SubscribeInstance(instanceID string) *notifier.Subscription
	SubscribeAll() *notifier.Subscription
}

// HTTPHandler handles HTTP requests for the workflow API.
type HTTPHandler struct {
	service *service.WorkflowService
	feed    ChangeFeed
	log     zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc *service.WorkflowService, feed ChangeFeed, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{service: svc, feed: feed, log: log}
}

// Register mounts the API routes on the echo instance.
func (h *HTTPHandler) Register(e *echo.Echo) {
	api := e.Group("/api/v1")

	api.GET("/definitions", h.ListDefinitions)
	api.GET("/definitions/:id", h.GetDefinition)
	api.GET("/definitions/:id/instances", h.ListInstances)

	api.POST("/workflows/start", h.StartWorkflow)

	api.GET("/instances/:id", h.GetInstance)
	api.GET("/instances/:id/assignments", h.GetInstanceAssignments)
	api.GET("/instances/:id/activity", h.GetInstanceActivity)
	api.POST("/instances/:id/pause", h.PauseInstance)
	api.POST("/instances/:id/resume", h.ResumeInstance)
	api.POST("/instances/:id/cancel", h.CancelInstance)

	api.GET("/stream", h.StreamChanges)

	api.GET("/assignments", h.GetUserAssignments)
	api.POST("/assignments/:id/start", h.StartStep)
	api.POST("/assignments/:id/complete", h.CompleteStep)
	api.POST("/assignments/:id/skip", h.SkipStep)
	api.PATCH("/assignments/:id", h.UpdateAssignmentStatus)
}

// ── Definitions ───────────────────────────────────────────────────────────────

// ListDefinitions returns workflow definitions.
// (GET /api/v1/definitions?active=true)
func (h *HTTPHandler) ListDefinitions(c echo.Context) error {
	activeOnly := c.QueryParam("active") == "true"
	defs, err := h.service.ListDefinitions(c.Request().Context(), activeOnly)
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, defs)
}

// GetDefinition returns one definition with its step templates.
// (GET /api/v1/definitions/:id)
func (h *HTTPHandler) GetDefinition(c echo.Context) error {
	def, err := h.service.GetDefinition(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, def)
}

// ListInstances returns the instances of a definition.
// (GET /api/v1/definitions/:id/instances)
func (h *HTTPHandler) ListInstances(c echo.Context) error {
	instances, err := h.service.ListInstances(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, instances)
}

// ── Instances ─────────────────────────────────────────────────────────────────

type startWorkflowResponse struct {
	Instance    *repository.WorkflowInstance `json:"instance"`
	Assignments []*repository.Assignment     `json:"assignments"`
}

// StartWorkflow starts a new instance of a definition.
// (POST /api/v1/workflows/start)
func (h *HTTPHandler) StartWorkflow(c echo.Context) error {
	var req service.StartWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	inst, assignments, err := h.service.StartWorkflow(c.Request().Context(), &req)
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusCreated, startWorkflowResponse{
		Instance:    inst,
		Assignments: assignments,
	})
}

// GetInstance returns one workflow instance.
// (GET /api/v1/instances/:id)
func (h *HTTPHandler) GetInstance(c echo.Context) error {
	inst, err := h.service.GetInstance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, inst)
}

// GetInstanceAssignments returns all assignments of an instance.
// (GET /api/v1/instances/:id/assignments)
func (h *HTTPHandler) GetInstanceAssignments(c echo.Context) error {
	assignments, err := h.service.GetAssignmentsForInstance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, assignments)
}

// GetInstanceActivity returns the activity trail of an instance.
// (GET /api/v1/instances/:id/activity)
func (h *HTTPHandler) GetInstanceActivity(c echo.Context) error {
	entries, err := h.service.GetActivityForInstance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

type instanceActionRequest struct {
	ActedBy string `json:"acted_by"`
}

// PauseInstance freezes an active instance.
// (POST /api/v1/instances/:id/pause)
func (h *HTTPHandler) PauseInstance(c echo.Context) error {
	return h.instanceAction(c, h.service.PauseInstance)
}

// ResumeInstance reactivates a paused instance.
// (POST /api/v1/instances/:id/resume)
func (h *HTTPHandler) ResumeInstance(c echo.Context) error {
	return h.instanceAction(c, h.service.ResumeInstance)
}

// CancelInstance terminates an instance.
// (POST /api/v1/instances/:id/cancel)
func (h *HTTPHandler) CancelInstance(c echo.Context) error {
	return h.instanceAction(c, h.service.CancelInstance)
}

func (h *HTTPHandler) instanceAction(c echo.Context, fn func(ctx context.Context, instanceID, actedBy string) error) error {
	var req instanceActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := fn(c.Request().Context(), c.Param("id"), req.ActedBy); err != nil {
		return h.domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ── Assignments ───────────────────────────────────────────────────────────────

// GetUserAssignments returns a user's assignments.
// (GET /api/v1/assignments?user_id=...&open=true)
func (h *HTTPHandler) GetUserAssignments(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	openOnly := c.QueryParam("open") == "true"

	assignments, err := h.service.GetAssignmentsForUser(c.Request().Context(), userID, openOnly)
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, assignments)
}

type stepActionRequest struct {
	ActedBy string  `json:"acted_by"`
	Notes   *string `json:"notes"`
}

// StartStep moves an assignment to in_progress.
// (POST /api/v1/assignments/:id/start)
func (h *HTTPHandler) StartStep(c echo.Context) error {
	var req stepActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	a, err := h.service.StartStep(c.Request().Context(), c.Param("id"), req.ActedBy)
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// CompleteStep completes an assignment with optional notes.
// (POST /api/v1/assignments/:id/complete)
func (h *HTTPHandler) CompleteStep(c echo.Context) error {
	var req stepActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	a, err := h.service.CompleteStep(c.Request().Context(), c.Param("id"), req.ActedBy, req.Notes)
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// SkipStep skips an assignment.
// (POST /api/v1/assignments/:id/skip)
func (h *HTTPHandler) SkipStep(c echo.Context) error {
	var req stepActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	a, err := h.service.SkipStep(c.Request().Context(), c.Param("id"), req.ActedBy, req.Notes)
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type updateStatusRequest struct {
	Status  string  `json:"status"`
	ActedBy string  `json:"acted_by"`
	Notes   *string `json:"notes"`
}

// UpdateAssignmentStatus applies an arbitrary status change.
// (PATCH /api/v1/assignments/:id)
func (h *HTTPHandler) UpdateAssignmentStatus(c echo.Context) error {
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	a, err := h.service.UpdateAssignmentStatus(c.Request().Context(), c.Param("id"),
		repository.AssignmentStatus(req.Status), req.ActedBy, req.Notes)
	if err != nil {
		return h.domainError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// ── Change feed ───────────────────────────────────────────────────────────────

// StreamChanges streams workflow change events as server-sent events, filtered
// per assignee, per instance, or unfiltered for dashboard roles. The stream
// stays open until the client disconnects or the feed shuts down.
// (GET /api/v1/stream?user_id=... | instance_id=...)
func (h *HTTPHandler) StreamChanges(c echo.Context) error {
	var sub *notifier.Subscription
	switch {
	case c.QueryParam("user_id") != "":
		sub = h.feed.SubscribeUser(c.QueryParam("user_id"))
	case c.QueryParam("instance_id") != "":
		sub = h.feed.SubscribeInstance(c.QueryParam("instance_id"))
	default:
		sub = h.feed.SubscribeAll()
	}
	defer sub.Unsubscribe()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeEvent(resp, &event); err != nil {
				return nil
			}
		}
	}
}

// writeEvent writes one SSE frame and flushes it to the client.
func writeEvent(resp *echo.Response, event *notifier.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

// ── Error mapping ─────────────────────────────────────────────────────────────

// domainError maps coded domain errors to HTTP statuses.
func (h *HTTPHandler) domainError(err error) error {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidDefinition, errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeInvalidTransition, errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	return echo.NewHTTPError(status, err.Error())
}
