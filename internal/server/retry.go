package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startReconnect launches the backoff loop unless one is already running.
func (s *Server) startReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	s.retryMu.Lock()
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.retryCancel = cancel
	s.retryMu.Unlock()

	lc, _ := s.cfg.Snapshot()
	go func() {
		defer s.reconnecting.Store(false)
		defer cancel()
		s.connectWithRetry(ctx, lc.ReconnectMaxAttempts)
	}()
}

func (s *Server) stopReconnect() {
	s.retryMu.Lock()
	cancel := s.retryCancel
	s.retryCancel = nil
	s.retryMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at retryBase, doubles each attempt up to retryMax, logs up to
// maxAttempts failures individually, then continues at the max interval
// indefinitely.
func (s *Server) connectWithRetry(ctx context.Context, maxAttempts int) {
	delay := s.retryBase
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ok, err := s.Connect(ctx, 0)
		if ok {
			s.log.Info("Link connected", zap.Int("attempt", attempt+1))
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errNoDevice
		}

		attempt++
		if maxAttempts <= 0 || attempt <= maxAttempts {
			s.log.Warn("Connect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
		} else {
			s.log.Debug("Connect attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.retryMax {
			delay = s.retryMax
		}
	}
}
