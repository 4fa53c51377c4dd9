package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/shaunagostinho/gridlink/internal/eventlog"
	"github.com/shaunagostinho/gridlink/internal/grid"
	"github.com/shaunagostinho/gridlink/internal/link"
)

// Server connects the hardware link to the light board and publishes both
// over a JSON API and a WebSocket feed.
type Server struct {
	cfg    *Config
	link   *link.Manager
	board  *grid.Board
	events *eventlog.Logger
	log    *zap.Logger

	engine   *gin.Engine
	upgrader websocket.Upgrader

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	// reconnect loop
	retryMu      sync.Mutex
	retryCancel  context.CancelFunc
	reconnecting atomic.Bool
	retryBase    time.Duration
	retryMax     time.Duration

	baseCtx context.Context
}

// Frame is the JSON structure sent to WebSocket clients. Only the parts
// that changed are set; Alert carries a message to show the user once.
// Stamp is Unix ms.
type Frame struct {
	Lights []grid.Light `json:"lights,omitempty"`
	Event  *grid.Event  `json:"event,omitempty"`
	Events []grid.Event `json:"events,omitempty"`
	Counts *grid.Counts `json:"counts,omitempty"`
	Link   *link.Status `json:"link,omitempty"`
	Alert  string       `json:"alert,omitempty"`
	Stamp  int64        `json:"stamp"`
}

var errNoDevice = errors.New("no device available")

// New creates a Server. events may be nil.
func New(cfg *Config, mgr *link.Manager, board *grid.Board, events *eventlog.Logger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		link:      mgr,
		board:     board,
		events:    events,
		log:       logger.With(zap.String("component", "server")),
		clients:   make(map[*wsClient]struct{}),
		retryBase: time.Second,
		retryMax:  60 * time.Second,
		baseCtx:   context.Background(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.engine = s.setupRouter()
	return s
}

// Handler exposes the HTTP routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP until ctx is cancelled. With link.auto_connect set it
// starts connecting in the background; the API is available immediately.
func (s *Server) Run(ctx context.Context) error {
	s.retryMu.Lock()
	s.baseCtx = ctx
	s.retryMu.Unlock()

	lc, _ := s.cfg.Snapshot()
	if lc.AutoConnect {
		s.startReconnect()
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.stopReconnect()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.log.Warn("HTTP shutdown failed", zap.Error(err))
		}
	}()

	s.log.Info("Listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Connect opens the hardware link at baudRate, or at the configured rate
// when baudRate is 0. Any open session is closed first and the board is
// reset before the new session can deliver updates.
func (s *Server) Connect(ctx context.Context, baudRate int) (bool, error) {
	if baudRate <= 0 {
		lc, _ := s.cfg.Snapshot()
		baudRate = lc.BaudRate
	}

	s.link.Disconnect()
	s.board.Reset()
	if err := s.link.SetBaudRate(baudRate); err != nil {
		s.log.Debug("Baud rate not recorded", zap.Error(err))
	}

	ok, err := s.link.Connect(ctx, s.onUpdate, s.onLinkLost, baudRate)
	st := s.link.Status()
	frame := Frame{Lights: s.board.Lights(), Link: &st}
	if err != nil {
		frame.Alert = err.Error()
	}
	s.broadcast(frame)
	return ok, err
}

// Disconnect stops any reconnect loop and closes the link.
func (s *Server) Disconnect() {
	s.stopReconnect()
	s.link.Disconnect()
	st := s.link.Status()
	s.broadcast(Frame{Link: &st})
}

// onUpdate runs on the link's read goroutine.
func (s *Server) onUpdate(u link.HardwareUpdate) {
	ev, changed := s.board.Apply(u)
	if !changed {
		return
	}
	if s.events != nil {
		if err := s.events.Record(ev, s.link.Status().SessionID); err != nil {
			s.log.Warn("Failed to record event", zap.Error(err))
		}
	}
	counts := s.board.Counts()
	s.broadcast(Frame{Lights: s.board.Lights(), Event: &ev, Counts: &counts})
}

// onLinkLost runs on the link's read goroutine after an unexpected end of
// the session. It must not wait for the link.
func (s *Server) onLinkLost(message string) {
	if message == "" {
		message = link.DefaultDisconnectMessage
	}
	s.log.Warn("Hardware link lost", zap.String("reason", message))

	s.board.Reset()
	st := s.link.Status()
	st.State = link.Closing
	st.LastError = message
	s.broadcast(Frame{Lights: s.board.Lights(), Link: &st, Alert: message})

	if lc, _ := s.cfg.Snapshot(); lc.AutoReconnect {
		s.startReconnect()
	}
}
