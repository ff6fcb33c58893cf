package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// httpServer runs an http.Server in the background.
type httpServer struct {
	srv    *http.Server
	logger *slog.Logger
	done   chan struct{}
	err    error
}

func startHTTP(srv *http.Server, logger *slog.Logger) *httpServer {
	h := &httpServer{srv: srv, logger: logger, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		logger.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.err = err
		}
	}()
	return h
}

// Done is closed once the server has stopped serving.
func (h *httpServer) Done() <-chan struct{} { return h.done }

// Err is valid after Done is closed.
func (h *httpServer) Err() error { return h.err }

func (h *httpServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	h.logger.Info("http shutting down")
	if err := h.srv.Shutdown(ctx); err != nil {
		return err
	}
	<-h.done
	return h.err
}
