package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/jayusctrojan/Empire-sub002/internal/coordination"
)

// httpError maps service errors onto transport status codes. Version
// conflicts are handled inline by syncState so the response can carry the
// conflict row id.
func httpError(err error) error {
	var ve *coordination.ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	}
	if errors.Is(err, coordination.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (s *Server) sendMessage(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	var body struct {
		FromAgentID      uuid.UUID      `json:"from_agent_id"`
		ToAgentID        uuid.UUID      `json:"to_agent_id"`
		Text             string         `json:"text"`
		Priority         int            `json:"priority"`
		RequiresResponse bool           `json:"requires_response"`
		ResponseDeadline *time.Time     `json:"response_deadline"`
		Metadata         map[string]any `json:"metadata"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	it, err := s.svc.SendDirect(c.Request().Context(), coordination.DirectMessageInput{
		ExecutionID:      executionID,
		FromAgentID:      body.FromAgentID,
		ToAgentID:        body.ToAgentID,
		Text:             body.Text,
		Priority:         body.Priority,
		RequiresResponse: body.RequiresResponse,
		ResponseDeadline: body.ResponseDeadline,
		Metadata:         body.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (s *Server) broadcast(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	var body struct {
		FromAgentID uuid.UUID      `json:"from_agent_id"`
		Text        string         `json:"text"`
		Priority    int            `json:"priority"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	result, err := s.svc.Broadcast(c.Request().Context(), coordination.BroadcastInput{
		ExecutionID: executionID,
		FromAgentID: body.FromAgentID,
		Text:        body.Text,
		Priority:    body.Priority,
		Metadata:    body.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) respond(c echo.Context) error {
	if _, err := pathUUID(c, "execution_id"); err != nil {
		return err
	}
	messageID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		AgentID  uuid.UUID `json:"agent_id"`
		Response string    `json:"response"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	it, err := s.svc.Respond(c.Request().Context(), messageID, body.AgentID, body.Response)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, it)
}

func (s *Server) publishEvent(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	var body struct {
		FromAgentID uuid.UUID      `json:"from_agent_id"`
		EventType   string         `json:"event_type"`
		EventData   map[string]any `json:"event_data"`
		Summary     string         `json:"summary"`
		Priority    int            `json:"priority"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	it, err := s.svc.PublishEvent(c.Request().Context(), coordination.EventInput{
		ExecutionID: executionID,
		FromAgentID: body.FromAgentID,
		Type:        coordination.EventType(body.EventType),
		Data:        body.EventData,
		Summary:     body.Summary,
		Priority:    body.Priority,
		Metadata:    body.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (s *Server) listEvents(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	var types []coordination.EventType
	if raw := c.QueryParam("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			types = append(types, coordination.EventType(strings.TrimSpace(t)))
		}
	}
	var since *time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since, want RFC3339")
		}
		since = &t
	}
	events, err := s.svc.QueryEvents(c.Request().Context(), executionID, types, since)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"execution_id": executionID,
		"events":       events,
		"total":        len(events),
	})
}

func (s *Server) syncState(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	var body struct {
		FromAgentID   uuid.UUID      `json:"from_agent_id"`
		StateKey      string         `json:"state_key"`
		StateValue    map[string]any `json:"state_value"`
		Version       int            `json:"state_version"`
		PreviousState map[string]any `json:"previous_state"`
		Priority      int            `json:"priority"`
		Metadata      map[string]any `json:"metadata"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	it, err := s.svc.Sync(c.Request().Context(), coordination.StateSyncInput{
		ExecutionID: executionID,
		FromAgentID: body.FromAgentID,
		Key:         body.StateKey,
		Value:       body.StateValue,
		Version:     body.Version,
		Previous:    body.PreviousState,
		Priority:    body.Priority,
		Metadata:    body.Metadata,
	})
	if err != nil {
		var vc *coordination.VersionConflictError
		if errors.As(err, &vc) {
			return c.JSON(http.StatusConflict, map[string]any{
				"error":             "version conflict",
				"state_key":         vc.Key,
				"attempted_version": vc.Attempted,
				"latest_version":    vc.Latest,
				"conflict_id":       vc.ConflictID,
			})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (s *Server) getState(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	key := c.Param("key")
	it, err := s.svc.GetCurrent(c.Request().Context(), executionID, key)
	if err != nil {
		return httpError(err)
	}
	if it == nil {
		return c.JSON(http.StatusOK, map[string]any{
			"execution_id": executionID,
			"state_key":    key,
			"state":        nil,
		})
	}
	return c.JSON(http.StatusOK, it)
}

func (s *Server) reportConflict(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	var body struct {
		FromAgentID  uuid.UUID      `json:"from_agent_id"`
		ToAgentID    *uuid.UUID     `json:"to_agent_id"`
		ConflictType string         `json:"conflict_type"`
		Summary      string         `json:"summary"`
		Data         map[string]any `json:"data"`
		Priority     int            `json:"priority"`
		Metadata     map[string]any `json:"metadata"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	it, err := s.svc.ReportConflict(c.Request().Context(), coordination.ConflictInput{
		ExecutionID: executionID,
		FromAgentID: body.FromAgentID,
		ToAgentID:   body.ToAgentID,
		Type:        coordination.ConflictType(body.ConflictType),
		Summary:     body.Summary,
		Data:        body.Data,
		Priority:    body.Priority,
		Metadata:    body.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (s *Server) resolveConflict(c echo.Context) error {
	if _, err := pathUUID(c, "execution_id"); err != nil {
		return err
	}
	conflictID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Strategy string         `json:"resolution_strategy"`
		Data     map[string]any `json:"resolution_data"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	it, err := s.svc.Resolve(c.Request().Context(), conflictID, coordination.ResolutionStrategy(body.Strategy), body.Data)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, it)
}

func (s *Server) listUnresolvedConflicts(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	summary, err := s.svc.ListUnresolved(c.Request().Context(), executionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) listPendingResponses(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	summary, err := s.svc.ListPendingResponses(c.Request().Context(), executionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}
