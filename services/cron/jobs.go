package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "gateway_queue_depth",
	Help: "Jobs per queue and state",
}, []string{"queue", "state"})

// SyncCollectionStats refreshes collection document counts from the engine.
// Runs every 15 minutes.
func (m *CronManager) SyncCollectionStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cronLog := m.logJobStart("sync_collection_stats")
	if m.cfg.Collections == nil {
		m.logJobComplete(cronLog, "No collection service configured", nil)
		return
	}

	synced, err := m.cfg.Collections.SyncStats(ctx)
	if err != nil {
		m.logJobError(cronLog, fmt.Errorf("synced %d collections before failing: %w", synced, err))
		return
	}

	m.logJobComplete(cronLog,
		fmt.Sprintf("Synced %d collections", synced),
		datatypes.JSON(fmt.Sprintf(`{"collections":%d}`, synced)),
	)
}

// CleanupUsageLogs purges usage logs older than the retention window.
// Runs daily at 3 AM.
func (m *CronManager) CleanupUsageLogs() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	cronLog := m.logJobStart("cleanup_usage_logs")
	if m.cfg.Usage == nil {
		m.logJobComplete(cronLog, "No usage service configured", nil)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -m.cfg.RetentionDays)
	removed, err := m.cfg.Usage.CleanupLogs(ctx, cutoff)
	if err != nil {
		m.logJobError(cronLog, err)
		return
	}

	m.logJobComplete(cronLog,
		fmt.Sprintf("Removed %d usage logs older than %d days", removed, m.cfg.RetentionDays),
		datatypes.JSON(fmt.Sprintf(`{"removed":%d,"retention_days":%d}`, removed, m.cfg.RetentionDays)),
	)
}

// ReportQueueDepth exports the backlog of every pipeline queue. It is too frequent to
// be recorded in the job log.
func (m *CronManager) ReportQueueDepth() {
	if m.cfg.Queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, name := range m.cfg.Queues {
		ready, delayed, processing, err := m.cfg.Queue.Depth(ctx, name)
		if err != nil {
			m.log.Warn("failed to read queue depth", zap.String("queue", name), zap.Error(err))
			continue
		}
		queueDepth.WithLabelValues(name, "ready").Set(float64(ready))
		queueDepth.WithLabelValues(name, "delayed").Set(float64(delayed))
		queueDepth.WithLabelValues(name, "processing").Set(float64(processing))
	}
}

// RecoverStalledJobs moves jobs left in the processing lists of dead consumers back to
// their queues. Only runs that moved something are recorded.
func (m *CronManager) RecoverStalledJobs() {
	if m.cfg.Recoverer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	moved, err := m.cfg.Recoverer.Recover(ctx, m.cfg.Queues...)
	if err != nil {
		m.log.Warn("failed to recover stalled jobs", zap.Error(err))
		return
	}
	if moved == 0 {
		return
	}

	cronLog := m.logJobStart("recover_stalled_jobs")
	m.logJobComplete(cronLog,
		fmt.Sprintf("Requeued %d stalled jobs", moved),
		datatypes.JSON(fmt.Sprintf(`{"requeued":%d}`, moved)),
	)
}
