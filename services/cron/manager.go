package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/search-gateway/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LogCleaner purges usage logs older than a cutoff
type LogCleaner interface {
	CleanupLogs(ctx context.Context, before time.Time) (int64, error)
}

// StatsSyncer refreshes collection statistics from the engine
type StatsSyncer interface {
	SyncStats(ctx context.Context) (int, error)
}

// DepthReporter reports queue backlog; nil when the in-memory queue is used
type DepthReporter interface {
	Depth(ctx context.Context, queue string) (ready, delayed, processing int64, err error)
}

// StallRecoverer requeues jobs held by consumers that stopped heartbeating
type StallRecoverer interface {
	Recover(ctx context.Context, queues ...string) (int, error)
}

// Config wires the jobs to their services
type Config struct {
	Usage         LogCleaner
	Collections   StatsSyncer
	Queue         DepthReporter
	Recoverer     StallRecoverer
	Queues        []string
	RetentionDays int
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron *cron.Cron
	db   *gorm.DB
	cfg  Config
	log  *zap.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, cfg Config, log *zap.Logger) *CronManager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if log == nil {
		log = zap.NewNop()
	}

	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DiscardLogger)))

	return &CronManager{
		cron: c,
		db:   db,
		cfg:  cfg,
		log:  log.Named("cron"),
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	m.log.Info("starting cron jobs")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()
	m.log.Info("cron jobs started", zap.Int("jobs", len(m.cron.Entries())))
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (m *CronManager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// Every 15 minutes: copy engine document counts into collection records
	if _, err := m.cron.AddFunc("0 */15 * * * *", m.SyncCollectionStats); err != nil {
		return err
	}

	// Daily at 3 AM: purge usage logs past retention
	if _, err := m.cron.AddFunc("0 0 3 * * *", m.CleanupUsageLogs); err != nil {
		return err
	}

	// Every 30 seconds: export queue backlog
	if m.cfg.Queue != nil {
		if _, err := m.cron.AddFunc("*/30 * * * * *", m.ReportQueueDepth); err != nil {
			return err
		}
	}

	// Every minute: reclaim jobs from dead consumers
	if m.cfg.Recoverer != nil {
		if _, err := m.cron.AddFunc("0 * * * * *", m.RecoverStalledJobs); err != nil {
			return err
		}
	}

	return nil
}

// logJobStart records a running job and returns its log row
func (m *CronManager) logJobStart(jobName string) *model.CronJobLog {
	m.log.Debug("job started", zap.String("job", jobName))

	cronLog := &model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now(),
		Metadata:  datatypes.JSON("{}"),
	}
	if err := m.db.Create(cronLog).Error; err != nil {
		m.log.Warn("failed to record job start", zap.String("job", jobName), zap.Error(err))
	}
	return cronLog
}

// logJobComplete marks a job completed
func (m *CronManager) logJobComplete(cronLog *model.CronJobLog, message string, metadata datatypes.JSON) {
	m.log.Info("job completed", zap.String("job", cronLog.JobName), zap.String("message", message))
	m.finish(cronLog, map[string]interface{}{
		"status":   "completed",
		"message":  message,
		"metadata": metadata,
	})
}

// logJobError marks a job failed
func (m *CronManager) logJobError(cronLog *model.CronJobLog, err error) {
	m.log.Error("job failed", zap.String("job", cronLog.JobName), zap.Error(err))
	m.finish(cronLog, map[string]interface{}{
		"status":    "failed",
		"error_msg": err.Error(),
	})
}

func (m *CronManager) finish(cronLog *model.CronJobLog, updates map[string]interface{}) {
	if cronLog.ID == 0 {
		return
	}
	now := time.Now()
	updates["completed_at"] = now
	updates["duration"] = now.Sub(cronLog.StartedAt).Milliseconds()
	if err := m.db.Model(&model.CronJobLog{}).Where("id = ?", cronLog.ID).Updates(updates).Error; err != nil {
		m.log.Warn("failed to record job result", zap.String("job", cronLog.JobName), zap.Error(err))
	}
}
