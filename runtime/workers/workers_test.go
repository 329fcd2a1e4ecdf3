package workers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"message-board/domain"
	"message-board/observability"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fakeBoard struct {
	counted atomic.Int32
}

func (f *fakeBoard) SubscriberCount(domain.Topic) int {
	f.counted.Add(1)
	return 2
}

func (f *fakeBoard) Stats() observability.Stats {
	return observability.Stats{EventsPublished: 3}
}

func TestHeartbeatWorker_Reports_Until_Cancelled(t *testing.T) {
	req := require.New(t)
	board := &fakeBoard{}
	worker := NewHeartbeatWorker(logs.GetLoggerFromLevel(slog.LevelDebug), 10*time.Millisecond, board, board)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()

	// Then each beat samples both topics
	req.Eventually(func() bool { return board.counted.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	req.NoError(<-errCh)
}

func TestHTTPServerWorker_Serves_Then_Shuts_Down(t *testing.T) {
	req := require.New(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	worker := NewHTTPServerWorker(logs.GetLoggerFromLevel(slog.LevelDebug), "127.0.0.1:0", handler, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()

	var addr string
	select {
	case a := <-worker.Ready():
		addr = a.String()
	case <-time.After(2 * time.Second):
		req.FailNow("server never became ready")
	}

	resp, err := http.Get("http://" + addr + "/")
	req.NoError(err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	req.Equal("pong", string(body))

	cancel()
	req.NoError(<-errCh)
}

func TestHTTPServerWorker_Fails_On_Busy_Address(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	first := NewHTTPServerWorker(log, "127.0.0.1:0", http.NotFoundHandler(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = first.Run(ctx) }()
	addr := <-first.Ready()

	err := NewHTTPServerWorker(log, addr.String(), http.NotFoundHandler(), time.Second).Run(ctx)

	req.Error(err)
}
