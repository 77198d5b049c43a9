package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockwatch/internal/target"
	"stockwatch/logger"
)

func respondData(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{"status": "success", "data": data})
}

func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"status": "error", "message": message})
}

type createTargetRequest struct {
	Ticker      string          `json:"ticker"`
	TargetPrice decimal.Decimal `json:"target_price"`
	AlertType   string          `json:"alert_type"`
	WatchlistID string          `json:"watchlist_id"`
}

func (s *Server) createTarget(c *gin.Context) {
	var req createTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, err := target.ParseAlertKind(req.AlertType)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	t := &target.PriceTarget{
		TargetID:    uuid.NewString(),
		UserID:      s.userID,
		Ticker:      target.NormalizeTicker(req.Ticker),
		TargetPrice: req.TargetPrice,
		AlertKind:   kind,
		WatchlistID: req.WatchlistID,
		IsActive:    true,
	}
	if err := t.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	name, err := s.store.WatchlistName(c.Request.Context(), t.WatchlistID)
	if errors.Is(err, target.ErrWatchlistNotFound) {
		respondError(c, http.StatusNotFound, "watchlist not found")
		return
	}
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to look up watchlist")
		respondError(c, http.StatusInternalServerError, "failed to create price target")
		return
	}
	t.WatchlistName = name

	exists, err := s.store.ActiveTargetExists(c.Request.Context(), t.UserID, t.Ticker, t.WatchlistID)
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to check for duplicate target")
		respondError(c, http.StatusInternalServerError, "failed to create price target")
		return
	}
	if exists {
		respondError(c, http.StatusConflict, target.ErrDuplicateTarget.Error())
		return
	}

	if err := s.store.CreateTarget(c.Request.Context(), t); err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to create price target")
		respondError(c, http.StatusInternalServerError, "failed to create price target")
		return
	}

	if err := s.subscriber.EnsureSubscribed(t.Ticker); err != nil {
		s.log.WithComponent("api").WithError(err).WithFields(logger.Fields{
			"ticker": t.Ticker,
		}).Warn("failed to subscribe to ticker for new target")
	}

	respondData(c, http.StatusCreated, t)
}

func (s *Server) listTargets(c *gin.Context) {
	targets, err := s.store.TargetsForUser(c.Request.Context(), s.userID, c.Query("watchlist_id"))
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to list price targets")
		respondError(c, http.StatusInternalServerError, "failed to list price targets")
		return
	}
	if targets == nil {
		targets = []target.PriceTarget{}
	}
	respondData(c, http.StatusOK, targets)
}

func (s *Server) getTarget(c *gin.Context) {
	t, err := s.store.TargetByID(c.Request.Context(), s.userID, c.Param("id"))
	if errors.Is(err, target.ErrNotFound) {
		respondError(c, http.StatusNotFound, "price target not found")
		return
	}
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to get price target")
		respondError(c, http.StatusInternalServerError, "failed to get price target")
		return
	}
	respondData(c, http.StatusOK, t)
}

type updateTargetRequest struct {
	TargetPrice *decimal.Decimal `json:"target_price"`
	AlertType   *string          `json:"alert_type"`
	IsActive    *bool            `json:"is_active"`
}

func (s *Server) updateTarget(c *gin.Context) {
	var req updateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetPrice == nil && req.AlertType == nil && req.IsActive == nil {
		respondError(c, http.StatusBadRequest, "no fields to update")
		return
	}

	upd := target.TargetUpdate{
		TargetPrice: req.TargetPrice,
		IsActive:    req.IsActive,
	}
	if req.TargetPrice != nil && !req.TargetPrice.IsPositive() {
		respondError(c, http.StatusBadRequest, "target price must be a positive number")
		return
	}
	if req.AlertType != nil {
		kind, err := target.ParseAlertKind(*req.AlertType)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		upd.AlertKind = &kind
	}

	t, err := s.store.UpdateTarget(c.Request.Context(), s.userID, c.Param("id"), upd)
	if errors.Is(err, target.ErrNotFound) {
		respondError(c, http.StatusNotFound, "price target not found")
		return
	}
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to update price target")
		respondError(c, http.StatusInternalServerError, "failed to update price target")
		return
	}
	respondData(c, http.StatusOK, t)
}

func (s *Server) deleteTarget(c *gin.Context) {
	err := s.store.DeactivateTarget(c.Request.Context(), s.userID, c.Param("id"))
	if errors.Is(err, target.ErrNotFound) {
		respondError(c, http.StatusNotFound, "price target not found")
		return
	}
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to delete price target")
		respondError(c, http.StatusInternalServerError, "failed to delete price target")
		return
	}
	respondData(c, http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) feedStatus(c *gin.Context) {
	respondData(c, http.StatusOK, s.feed.Status())
}

func (s *Server) feedPrices(c *gin.Context) {
	respondData(c, http.StatusOK, s.cache.Snapshot())
}

func (s *Server) notificationHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.store.NotificationHistory(c.Request.Context(), s.userID, limit)
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to list notification history")
		respondError(c, http.StatusInternalServerError, "failed to list notification history")
		return
	}
	if records == nil {
		records = []target.NotificationRecord{}
	}
	respondData(c, http.StatusOK, records)
}

func (s *Server) recentMetrics(c *gin.Context) {
	snapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	respondData(c, http.StatusOK, payload)
}
