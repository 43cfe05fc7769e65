package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/jayusctrojan/Empire-sub002/internal/coordination"
)

func (s *Server) history(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}

	var f coordination.HistoryFilter
	if raw := c.QueryParam("agent_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid agent_id")
		}
		f.AgentID = &id
	}
	if raw := c.QueryParam("interaction_type"); raw != "" {
		t := coordination.InteractionType(raw)
		f.Type = &t
	}
	if raw := c.QueryParam("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid start, want RFC3339")
		}
		f.Start = &t
	}
	if raw := c.QueryParam("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid end, want RFC3339")
		}
		f.End = &t
	}

	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	page, err := s.svc.History(c.Request().Context(), executionID, f, limit, offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) activity(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	window := coordination.ActivityWindow(c.QueryParam("window"))
	if window == "" {
		window = coordination.WindowDay
	}
	activity, err := s.svc.Activity(c.Request().Context(), executionID, window)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"execution_id": executionID,
		"window":       window,
		"agents":       activity,
	})
}

func (s *Server) timeline(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	granularity := coordination.TimelineGranularity(c.QueryParam("granularity"))
	if granularity == "" {
		granularity = coordination.GranularityHour
	}
	buckets, err := s.svc.Timeline(c.Request().Context(), executionID, granularity)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"execution_id": executionID,
		"granularity":  granularity,
		"timeline":     buckets,
	})
}

func (s *Server) conflictAnalytics(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	stats, err := s.svc.ConflictAnalytics(c.Request().Context(), executionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) messageFlow(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}
	graph, err := s.svc.MessageFlow(c.Request().Context(), executionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, graph)
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}
