package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shaunagostinho/gridlink/internal/link"
)

type baudRequest struct {
	BaudRate int `json:"baudRate"`
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(recoveryMiddleware(s.log))
	router.Use(loggingMiddleware(s.log))
	router.Use(corsMiddleware(s.cfg.Server.AllowedOrigins))

	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleWS)

	api := router.Group("/api")
	{
		api.GET("/link", s.handleLinkStatus)
		api.POST("/link/connect", s.handleLinkConnect)
		api.POST("/link/disconnect", s.handleLinkDisconnect)
		api.PUT("/link/baud", s.handleSetBaud)

		api.GET("/lights", s.handleLights)
		api.GET("/events", s.handleEvents)

		api.GET("/config", s.handleGetConfig)
		api.POST("/config", s.handleUpdateConfig)
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"link":    s.link.State(),
		"clients": s.clientCount(),
	})
}

func (s *Server) handleLinkStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.link.Status())
}

func (s *Server) handleLinkConnect(c *gin.Context) {
	var req baudRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.BaudRate < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": link.ErrInvalidBaudRate.Error()})
		return
	}

	// A manual connect replaces any reconnect loop in progress.
	s.stopReconnect()

	ok, err := s.Connect(c.Request.Context(), req.BaudRate)
	if err != nil {
		var cerr *link.ConnectionError
		if errors.As(err, &cerr) {
			c.JSON(http.StatusBadGateway, gin.H{"connected": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"connected": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": ok, "link": s.link.Status()})
}

func (s *Server) handleLinkDisconnect(c *gin.Context) {
	s.Disconnect()
	c.JSON(http.StatusOK, gin.H{"connected": false, "link": s.link.Status()})
}

func (s *Server) handleSetBaud(c *gin.Context) {
	var req baudRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch err := s.link.SetBaudRate(req.BaudRate); {
	case errors.Is(err, link.ErrBaudRateLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.cfg.SetBaudRate(req.BaudRate)
	if err := s.cfg.Save(); err != nil {
		s.log.Warn("Failed to save config", zap.Error(err))
	}
	st := s.link.Status()
	s.broadcast(Frame{Link: &st})
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleLights(c *gin.Context) {
	snap := s.board.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"lights": snap.Lights,
		"faulty": snap.Faulty,
		"counts": snap.Counts,
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	c.JSON(http.StatusOK, s.board.Events())
}

func (s *Server) handleGetConfig(c *gin.Context) {
	data, err := s.cfg.ToJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	if err := s.cfg.UpdateFromJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Save(); err != nil {
		s.log.Warn("Failed to save config", zap.Error(err))
	}
	s.applyConfig()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// applyConfig pushes settings that can change at runtime to their owners.
func (s *Server) applyConfig() {
	s.cfg.mu.RLock()
	enabled := s.cfg.EventLog.Enabled
	baud := s.cfg.Link.BaudRate
	s.cfg.mu.RUnlock()

	if s.events != nil {
		s.events.SetEnabled(enabled)
	}
	if err := s.link.SetBaudRate(baud); err != nil {
		s.log.Info("Baud rate change applies after reconnect", zap.Int("baud_rate", baud), zap.Error(err))
	}
}
