package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"message-board/domain"
	"message-board/observability"

	"github.com/shirou/gopsutil/process"
)

// SubscriberCounter reports the live subscriptions of a topic.
type SubscriberCounter interface {
	SubscriberCount(topic domain.Topic) int
}

// StatsSource exposes the process-wide counters.
type StatsSource interface {
	Stats() observability.Stats
}

// HeartbeatWorker periodically logs process health and board activity.
type HeartbeatWorker struct {
	log      *slog.Logger
	interval time.Duration
	bus      SubscriberCounter
	stats    StatsSource
}

func NewHeartbeatWorker(log *slog.Logger, interval time.Duration, bus SubscriberCounter, stats StatsSource) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, interval: interval, bus: bus, stats: stats}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.beat(p)
		}
	}
}

func (w *HeartbeatWorker) beat(p *process.Process) {
	rss, cpu, err := selfStats(p)
	if err != nil {
		w.log.Error("Failed to collect self stats", "error", err)
		return
	}
	stats := w.stats.Stats()
	w.log.Info("Heartbeat",
		"rss_bytes", rss,
		"cpu_percent", cpu,
		"created_subscribers", w.bus.SubscriberCount(domain.TopicMessageCreated),
		"updated_subscribers", w.bus.SubscriberCount(domain.TopicMessageUpdated),
		"events_published", stats.EventsPublished,
		"events_dropped", stats.EventsDropped,
		"operation_errors", stats.OperationErrors,
		"ws_connections", stats.WSConnections,
	)
}

// selfStats retrieves resident memory and CPU usage of the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
