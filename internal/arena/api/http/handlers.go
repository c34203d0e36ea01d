package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openagora/arena/internal/arena/core"
	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/economy"
	"github.com/openagora/arena/internal/arena/quota"
	"github.com/openagora/arena/internal/arena/round"
	"github.com/openagora/arena/internal/arena/storage"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type advanceRequest struct {
	Rounds       int `json:"rounds"`
	JobsPerRound int `json:"jobs_per_round"`
}

type roundResponse struct {
	Round         int64                 `json:"round"`
	JobsProcessed int64                 `json:"jobs_processed"`
	JobsCompleted int64                 `json:"jobs_completed"`
	JobsFailed    int64                 `json:"jobs_failed"`
	BidsPlaced    int64                 `json:"bids_placed"`
	TotalRevenue  string                `json:"total_revenue"`
	SkippedAgents []string              `json:"skipped_agents,omitempty"`
	Events        []policyEventResponse `json:"events,omitempty"`
}

// policyEventResponse reports one policy wake-up outcome within a round.
// A non-empty error means the producer failed and the prior policy
// stayed in effect.
type policyEventResponse struct {
	AgentID        string `json:"agent_id"`
	Trigger        string `json:"trigger"`
	Version        int64  `json:"version,omitempty"`
	InvestorUpdate string `json:"investor_update,omitempty"`
	Error          string `json:"error,omitempty"`
}

func toRoundResponse(r round.Result) roundResponse {
	resp := roundResponse{
		Round:         r.Round,
		JobsProcessed: r.JobsProcessed,
		JobsCompleted: r.JobsCompleted,
		JobsFailed:    r.JobsFailed,
		BidsPlaced:    r.BidsPlaced,
		TotalRevenue:  r.TotalRevenue.String(),
		SkippedAgents: r.SkippedAgents,
	}
	for _, event := range r.Events {
		e := policyEventResponse{
			AgentID:        event.AgentID,
			Trigger:        string(event.Trigger),
			Version:        event.Version,
			InvestorUpdate: event.InvestorUpdate,
		}
		if event.Err != nil {
			e.Error = event.Err.Error()
		}
		resp.Events = append(resp.Events, e)
	}
	return resp
}

type seasonResponse struct {
	ID              string `json:"id"`
	Number          int64  `json:"number"`
	StartRound      int64  `json:"start_round"`
	EndRound        int64  `json:"end_round,omitempty"`
	Status          string `json:"status"`
	RoundsCompleted int64  `json:"rounds_completed"`
	RoundsTotal     int64  `json:"rounds_total"`
	ChampionAgentID string `json:"champion_agent_id,omitempty"`
}

func toSeasonResponse(season domain.Season) seasonResponse {
	return seasonResponse{
		ID:              season.ID,
		Number:          season.Number,
		StartRound:      season.StartRound,
		EndRound:        season.EndRound,
		Status:          string(season.Status),
		RoundsCompleted: season.RoundsCompleted,
		RoundsTotal:     season.RoundsTotal,
		ChampionAgentID: season.ChampionAgentID,
	}
}

func (s *Server) handleAdvance(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	result, err := s.arena.Advance(c.Request.Context(), core.AdvanceRequest{
		Actor:        actorFrom(c),
		Rounds:       req.Rounds,
		JobsPerRound: req.JobsPerRound,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		case errors.Is(err, quota.ErrQuotaExceeded):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":   false,
				"error":     err.Error(),
				"used":      result.Quota.Used,
				"remaining": result.Quota.Remaining,
				"limit":     result.Quota.Limit,
			})
		case errors.Is(err, core.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "another advance is in progress"})
		case errors.Is(err, round.ErrNoActiveAgents):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": "no active agents"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	perRound := make([]roundResponse, 0, len(result.PerRound))
	for _, r := range result.PerRound {
		perRound = append(perRound, toRoundResponse(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"rounds_completed": result.RoundsCompleted,
		"start_round":      result.StartRound,
		"end_round":        result.EndRound,
		"season":           toSeasonResponse(result.Season),
		"season_completed": result.SeasonCompleted,
		"jobs_processed":   result.JobsProcessed,
		"jobs_completed":   result.JobsCompleted,
		"jobs_failed":      result.JobsFailed,
		"bids_placed":      result.BidsPlaced,
		"total_revenue":    result.TotalRevenue.String(),
		"rounds":           perRound,
	})
}

type autoRunRequest struct {
	Enabled    bool    `json:"enabled"`
	IntervalMs int64   `json:"interval_ms"`
	Speed      float64 `json:"speed"`
}

func (s *Server) handleAutoRun(c *gin.Context) {
	var req autoRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	applied, err := s.arena.UpdateAutoRun(c.Request.Context(), storage.AutoRunConfig{
		Enabled:  req.Enabled,
		Interval: time.Duration(req.IntervalMs) * time.Millisecond,
		Speed:    req.Speed,
	})
	if err != nil {
		if errors.Is(err, core.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":     applied.Enabled,
		"interval_ms": applied.Interval.Milliseconds(),
		"speed":       applied.Speed,
	})
}

type agentResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Balance        string  `json:"balance"`
	Reputation     float64 `json:"reputation"`
	Status         string  `json:"status"`
	TasksCompleted int64   `json:"tasks_completed"`
	TasksFailed    int64   `json:"tasks_failed"`
}

func (s *Server) handleState(c *gin.Context) {
	state, err := s.arena.CurrentState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	agents := make([]agentResponse, 0, len(state.Agents))
	for _, agent := range state.Agents {
		agents = append(agents, agentResponse{
			ID:             agent.ID,
			Name:           agent.Name,
			Balance:        agent.Balance.String(),
			Reputation:     agent.Reputation,
			Status:         string(agent.Status),
			TasksCompleted: agent.TasksCompleted,
			TasksFailed:    agent.TasksFailed,
		})
	}

	resp := gin.H{
		"current_round": state.CurrentRound,
		"autorun": gin.H{
			"enabled":     state.AutoRun.Enabled,
			"interval_ms": state.AutoRun.Interval.Milliseconds(),
			"speed":       state.AutoRun.Speed,
		},
		"busy":   state.Lock.Held(time.Now()),
		"agents": agents,
	}
	if state.Season != nil {
		resp["season"] = toSeasonResponse(*state.Season)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSeasons(c *gin.Context) {
	seasons, err := s.arena.ListSeasons(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := make([]seasonResponse, 0, len(seasons))
	for _, season := range seasons {
		resp = append(resp, toSeasonResponse(season))
	}
	c.JSON(http.StatusOK, gin.H{"seasons": resp})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	entries, err := s.arena.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type entryResponse struct {
		Rank         int64   `json:"rank"`
		AgentID      string  `json:"agent_id"`
		BalanceDelta string  `json:"balance_delta"`
		WinRate      float64 `json:"win_rate"`
		Wins         int64   `json:"wins"`
		Bids         int64   `json:"bids"`
	}
	resp := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, entryResponse{
			Rank:         entry.Rank,
			AgentID:      entry.AgentID,
			BalanceDelta: entry.BalanceDelta.String(),
			WinRate:      entry.WinRate,
			Wins:         entry.Wins,
			Bids:         entry.Bids,
		})
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": resp})
}

func (s *Server) handleSnapshots(c *gin.Context) {
	filter := storage.SnapshotFilter{
		SeasonID: c.Query("season_id"),
		AgentID:  c.Query("agent_id"),
	}
	if raw := c.Query("from_round"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from_round must be an integer"})
			return
		}
		filter.FromRound = v
	}
	if raw := c.Query("to_round"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to_round must be an integer"})
			return
		}
		filter.ToRound = v
	}

	snapshots, err := s.arena.Snapshots(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type snapshotResponse struct {
		Round      int64   `json:"round"`
		SeasonID   string  `json:"season_id"`
		AgentID    string  `json:"agent_id"`
		Balance    string  `json:"balance"`
		Reputation float64 `json:"reputation"`
		Status     string  `json:"status"`
		Wins       int64   `json:"wins"`
		Bids       int64   `json:"bids"`
	}
	resp := make([]snapshotResponse, 0, len(snapshots))
	for _, snap := range snapshots {
		resp = append(resp, snapshotResponse{
			Round:      snap.Round,
			SeasonID:   snap.SeasonID,
			AgentID:    snap.AgentID,
			Balance:    snap.Balance.String(),
			Reputation: snap.Reputation,
			Status:     string(snap.Status),
			Wins:       snap.Wins,
			Bids:       snap.Bids,
		})
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": resp})
}

func (s *Server) handleEscrowClaim(c *gin.Context) {
	result, err := s.economy.ClaimEscrow(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		if errors.Is(err, economy.ErrNothingToClaim) {
			c.JSON(http.StatusConflict, gin.H{"error": "nothing to claim"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"claim_id": result.Claim.ID,
		"amount":   result.Claim.Amount.String(),
		"tx_hash":  result.Claim.TxHash,
		"status":   string(result.Claim.Status),
	})
}
