// Package health reports store reachability over the standard gRPC health protocol.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"message-board/contract"

	sdkgrpc "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported next to the overall ("") status.
const ServiceName = "message-board"

const probeTimeout = 2 * time.Second

// Worker serves grpc.health.v1.Health and keeps it in sync with Store.Ping.
type Worker struct {
	log      *slog.Logger
	addr     string
	store    contract.Store
	interval time.Duration
	health   *health.Server
	ready    chan net.Addr
}

func NewWorker(log *slog.Logger, addr string, store contract.Store, interval time.Duration) *Worker {
	return &Worker{
		log:      log,
		addr:     addr,
		store:    store,
		interval: interval,
		health:   health.NewServer(),
		ready:    make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once the listener is open.
func (w *Worker) Ready() <-chan net.Addr {
	return w.ready
}

func (w *Worker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", w.addr, err)
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(sdkgrpc.UnaryLoggingInterceptor(w.log)))
	healthpb.RegisterHealthServer(s, w.health)

	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting gRPC health server", "address", listener.Addr().String())
		if err := s.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			errChan <- fmt.Errorf("gRPC health server error: %w", err)
		}
	}()
	select {
	case w.ready <- listener.Addr():
	default:
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			w.health.Shutdown()
			s.GracefulStop()
			return nil
		case err := <-errChan:
			s.Stop()
			return err
		case <-ticker.C:
			w.Probe(ctx)
		}
	}
}

// Probe pings the store once and publishes the outcome.
func (w *Worker) Probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := w.store.Ping(probeCtx); err != nil {
		w.log.Warn("Store probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	w.health.SetServingStatus("", status)
	w.health.SetServingStatus(ServiceName, status)
}

// Check answers a health request without going through the network.
func (w *Worker) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := w.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
