package workers

import (
	"context"
	"log/slog"
	"time"
)

// QueueSource is anything exposing a bounded queue, the coordinator in practice.
type QueueSource interface {
	QueueStats() (length, capacity int)
}

// QueueMonitorWorker samples a queue and warns when it fills past a threshold.
// Reading len and cap never blocks the owner of the queue.
type QueueMonitorWorker struct {
	log            *slog.Logger
	name           string
	source         QueueSource
	metricInterval time.Duration
	warnPercent    int
}

func NewQueueMonitorWorker(log *slog.Logger, name string, source QueueSource,
	metricInterval time.Duration, warnPercent int) *QueueMonitorWorker {
	return &QueueMonitorWorker{
		log:            log,
		name:           name,
		source:         source,
		metricInterval: metricInterval,
		warnPercent:    warnPercent,
	}
}

func (w *QueueMonitorWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping queue monitor", "queue", w.name)
			return nil
		case <-ticker.C:
			w.sample()
		}
	}
}

// sample returns the fill percentage it logged.
func (w *QueueMonitorWorker) sample() int {
	length, capacity := w.source.QueueStats()
	if capacity == 0 {
		return 0
	}
	percent := length * 100 / capacity
	if percent >= w.warnPercent {
		w.log.Warn("Queue under pressure", "queue", w.name, "length", length, "capacity", capacity, "percent", percent)
	} else {
		w.log.Debug("Queue sampled", "queue", w.name, "length", length, "capacity", capacity)
	}
	return percent
}
