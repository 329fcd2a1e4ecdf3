package workers

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPServerWorker serves handler on addr until the context ends, then shuts down gracefully.
type HTTPServerWorker struct {
	log             *slog.Logger
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
	ready           chan net.Addr
}

func NewHTTPServerWorker(log *slog.Logger, addr string, handler http.Handler, shutdownTimeout time.Duration) *HTTPServerWorker {
	return &HTTPServerWorker{
		log:             log,
		addr:            addr,
		handler:         handler,
		shutdownTimeout: shutdownTimeout,
		ready:           make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once the listener is open.
func (w *HTTPServerWorker) Ready() <-chan net.Addr {
	return w.ready
}

func (w *HTTPServerWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", w.addr, err)
	}
	server := &http.Server{
		Handler:           w.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	select {
	case w.ready <- listener.Addr():
	default:
	}
	w.log.Info("HTTP server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
		defer cancel()
		w.log.Info("Shutting down HTTP server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("HTTP server shutdown incomplete", "error", err)
		}
		return nil
	}
}
