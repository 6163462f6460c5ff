package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/capacity"
	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/experiment"
	"github.com/fyrsmithlabs/brokerd/internal/routing"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// handleDecide routes a single lead to the best available broker.
func (s *Server) handleDecide(c echo.Context) error {
	var req routing.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid routing request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Lead == nil || req.Lead.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "lead with id is required")
	}

	resp, err := s.routing.Decide(c.Request().Context(), &req)
	if err != nil {
		return routingError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// BatchDecideRequest is the request body for POST /api/v1/routing/batch/decide.
type BatchDecideRequest struct {
	Requests []*routing.Request `json:"requests"`
}

// BatchDecideResponse is the response body for POST /api/v1/routing/batch/decide.
type BatchDecideResponse struct {
	Decisions []*routing.Response `json:"decisions"`
	Requested int                 `json:"requested"`
	Routed    int                 `json:"routed"`
}

// handleBatchDecide routes a batch of leads. Per-lead failures are skipped;
// the response carries whatever decisions succeeded.
func (s *Server) handleBatchDecide(c echo.Context) error {
	var req BatchDecideRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid batch routing request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Requests) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "requests field is required")
	}

	decisions := s.routing.BatchDecide(c.Request().Context(), req.Requests)
	return c.JSON(http.StatusOK, BatchDecideResponse{
		Decisions: decisions,
		Requested: len(req.Requests),
		Routed:    len(decisions),
	})
}

// handleBrokerPerformance returns the stored performance metrics for a broker.
func (s *Server) handleBrokerPerformance(c echo.Context) error {
	id := c.Param("id")
	m, err := s.metrics.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no metrics for broker")
		}
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// handleBrokerCapacity returns the live capacity record for a broker.
func (s *Server) handleBrokerCapacity(c echo.Context) error {
	id := c.Param("id")
	bc, err := s.tracker.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if bc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no capacity record for broker")
	}
	return c.JSON(http.StatusOK, bc)
}

// SetMaxCapacityRequest is the request body for PUT /api/v1/routing/broker/:id/capacity.
type SetMaxCapacityRequest struct {
	MaxCapacity int `json:"max_capacity"`
}

func (s *Server) handleSetMaxCapacity(c echo.Context) error {
	var req SetMaxCapacityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id := c.Param("id")
	if err := s.tracker.SetMaxCapacity(c.Request().Context(), id, req.MaxCapacity); err != nil {
		if errors.Is(err, capacity.ErrInvalidCapacityRange) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	bc, err := s.tracker.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bc)
}

// RespondRequest is the request body for POST /api/v1/routing/broker/:id/respond.
type RespondRequest struct {
	LeadID string `json:"lead_id"`
}

// handleRespond records the broker's first action on an assigned lead,
// feeding the average response time in the metrics snapshot.
func (s *Server) handleRespond(c echo.Context) error {
	var req RespondRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.LeadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "lead_id field is required")
	}

	if err := s.tracker.RecordResponse(c.Request().Context(), c.Param("id"), req.LeadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no pending assignment for lead")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ReleaseRequest is the request body for POST /api/v1/routing/broker/:id/release.
type ReleaseRequest struct {
	LeadID       string         `json:"lead_id"`
	Outcome      domain.Outcome `json:"outcome"`
	ExperimentID string         `json:"experiment_id,omitempty"`
}

// handleRelease closes out a lead assignment. When the lead converted and
// was part of an experiment, the conversion is recorded against its arm.
func (s *Server) handleRelease(c echo.Context) error {
	var req ReleaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.LeadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "lead_id field is required")
	}
	switch req.Outcome {
	case domain.OutcomeConverted, domain.OutcomeRejected, domain.OutcomeExpired:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "outcome must be converted, rejected, or expired")
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	if err := s.tracker.Release(ctx, id, req.LeadID, req.Outcome); err != nil {
		return err
	}

	if req.Outcome == domain.OutcomeConverted && req.ExperimentID != "" && s.experiments != nil {
		if err := s.experiments.RecordConversion(ctx, req.ExperimentID, req.LeadID); err != nil {
			// The capacity side already released; surface the miss in logs only.
			s.logger.Warn("conversion not recorded",
				zap.String("experiment_id", req.ExperimentID),
				zap.String("lead_id", req.LeadID),
				zap.Error(err))
		}
	}

	return c.NoContent(http.StatusNoContent)
}

// handleLeaderboard returns brokers ranked by composite performance score.
func (s *Server) handleLeaderboard(c echo.Context) error {
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	entries, err := s.analyzer.Leaderboard(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleCapacityTrends(c echo.Context) error {
	trends, err := s.analyzer.CapacityTrendReport(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, trends)
}

func (s *Server) handleEfficiency(c echo.Context) error {
	window := 30 * 24 * time.Hour
	if raw := c.QueryParam("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "window must be a positive duration")
		}
		window = parsed
	}

	report, err := s.analyzer.Efficiency(c.Request().Context(), window)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// RebalanceRequest is the request body for POST /api/v1/routing/analytics/rebalance-load.
type RebalanceRequest struct {
	TargetLoad float64 `json:"target_load"`
}

func (s *Server) handleRebalanceLoad(c echo.Context) error {
	var req RebalanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	report, err := s.tracker.RebalanceLoad(c.Request().Context(), req.TargetLoad)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

// handleExperimentCreate registers a new routing experiment in draft status.
func (s *Server) handleExperimentCreate(c echo.Context) error {
	var exp domain.Experiment
	if err := c.Bind(&exp); err != nil {
		s.logger.Warn("invalid experiment request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.experiments.Create(c.Request().Context(), &exp); err != nil {
		if errors.Is(err, experiment.ErrInvalidConfig) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusCreated, exp)
}

func (s *Server) handleExperimentPause(c echo.Context) error {
	return s.transitionExperiment(c, domain.ExperimentPaused)
}

func (s *Server) handleExperimentResume(c echo.Context) error {
	return s.transitionExperiment(c, domain.ExperimentActive)
}

func (s *Server) transitionExperiment(c echo.Context, to domain.ExperimentStatus) error {
	exp, err := s.experiments.Transition(c.Request().Context(), c.Param("id"), to)
	if err != nil {
		return experimentError(err)
	}
	return c.JSON(http.StatusOK, exp)
}

// ExperimentResultsResponse pairs the experiment record with its current
// per-arm statistics.
type ExperimentResultsResponse struct {
	Experiment *domain.Experiment         `json:"experiment"`
	Results    *experiment.AnalysisResult `json:"results"`
}

// handleExperimentResults returns the experiment and a read-only arm
// summary, including whatever winner the last analysis recorded.
func (s *Server) handleExperimentResults(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return experimentError(err)
	}
	results, err := s.experiments.Results(ctx, id)
	if err != nil {
		return experimentError(err)
	}
	return c.JSON(http.StatusOK, ExperimentResultsResponse{Experiment: exp, Results: results})
}

// handleExperimentAnalyze runs statistical analysis over the experiment arms.
func (s *Server) handleExperimentAnalyze(c echo.Context) error {
	result, err := s.experiments.Analyze(c.Request().Context(), c.Param("id"))
	if err != nil {
		return experimentError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// routingError maps routing failures onto HTTP status codes.
func routingError(err error) error {
	switch {
	case errors.Is(err, routing.ErrNoAvailableBrokers):
		return echo.NewHTTPError(http.StatusNotFound, "no available brokers")
	default:
		return err
	}
}

// experimentError maps experiment failures onto HTTP status codes.
func experimentError(err error) error {
	switch {
	case errors.Is(err, experiment.ErrExperimentNotFound), errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "experiment not found")
	case errors.Is(err, experiment.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, experiment.ErrInvalidConfig):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
