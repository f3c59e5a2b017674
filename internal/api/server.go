// Package api exposes a small local HTTP surface over the daemon: the latest
// snapshot, charging controls, and an on-demand sync trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/strxno/ha-laddel/internal/config"
	"github.com/strxno/ha-laddel/internal/coordinator"
	"github.com/strxno/ha-laddel/internal/laddel"
	"github.com/strxno/ha-laddel/internal/logging"
)

// Controller is what the handlers need from the coordinator.
type Controller interface {
	Current() *coordinator.Snapshot
	StartCharging(ctx context.Context, req laddel.StartSessionRequest) error
	StopCharging(ctx context.Context, sessionID string) error
	RequestSync()
}

// Server serves the local status/control API.
type Server struct {
	cfg        *config.Config
	ctl        Controller
	httpServer *http.Server
}

func New(cfg *config.Config, ctl Controller) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	s := &Server{cfg: cfg, ctl: ctl}
	engine.GET("/healthz", s.handleHealth)
	v1 := engine.Group("/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.POST("/sync", s.handleSync)
		v1.POST("/charging/start", s.handleStart)
		v1.POST("/charging/stop", s.handleStop)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("local API listening on %s", s.cfg.APIAddr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.ctl.Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot available yet"})
		return
	}

	history := make([]json.RawMessage, 0, len(snap.History))
	for _, page := range snap.History {
		history = append(history, page.Raw)
	}
	var sessionRaw, subscriptionRaw, facilityRaw, modeRaw, chargersRaw json.RawMessage
	if snap.Session != nil {
		sessionRaw = snap.Session.Raw
	}
	if snap.Subscription != nil {
		subscriptionRaw = snap.Subscription.Raw
	}
	if snap.Facility != nil {
		facilityRaw = snap.Facility.Raw
	}
	if snap.OperatingMode != nil {
		modeRaw = snap.OperatingMode.Raw
	}
	if snap.LatestChargers != nil {
		chargersRaw = snap.LatestChargers.Raw
	}
	c.JSON(http.StatusOK, gin.H{
		"updated_at": snap.UpdatedAt,
		"charging": gin.H{
			"is_charging":       snap.Charging.IsCharging,
			"active_session_id": snap.Charging.ActiveSessionID,
		},
		"session":         sessionRaw,
		"subscription":    subscriptionRaw,
		"facility":        facilityRaw,
		"operating_mode":  modeRaw,
		"latest_chargers": chargersRaw,
		"history":         history,
		"warnings":        snap.Warnings,
	})
}

func (s *Server) handleSync(c *gin.Context) {
	s.ctl.RequestSync()
	c.JSON(http.StatusAccepted, gin.H{"status": "sync requested"})
}

type startRequest struct {
	ChargerID             string `json:"charger_id"`
	ScheduledStartTime    string `json:"scheduled_start_time"`
	ScheduledEndTime      string `json:"scheduled_end_time"`
	RegistrationNumber    string `json:"registration_number"`
	RequestPrivateSession bool   `json:"request_private_session"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	err := s.ctl.StartCharging(c.Request.Context(), laddel.StartSessionRequest{
		ChargerID:             req.ChargerID,
		ScheduledStartTime:    req.ScheduledStartTime,
		ScheduledEndTime:      req.ScheduledEndTime,
		RegistrationNumber:    req.RegistrationNumber,
		RequestPrivateSession: req.RequestPrivateSession,
	})
	if err != nil {
		writeControlError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "start requested"})
}

type stopRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStop(c *gin.Context) {
	var req stopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.ctl.StopCharging(c.Request.Context(), req.SessionID); err != nil {
		writeControlError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stop requested"})
}

// writeControlError maps provider rejections to 502 and local preconditions
// (no charger, no active session) to 409.
func writeControlError(c *gin.Context, err error) {
	_ = c.Error(err)
	var re *laddel.ResourceError
	if errors.As(err, &re) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "upstream_status": re.Status})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
}
