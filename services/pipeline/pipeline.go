package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services/queue"
	"github.com/sahilchouksey/search-gateway/services/tenancy"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// CollectionEnsurer provisions the target collection of a batch
type CollectionEnsurer interface {
	EnsureCollection(ctx context.Context, tenantID uint, indexName string) (*model.Collection, error)
	Invalidate(name string)
}

// DocumentImporter bulk writes documents into a collection
type DocumentImporter interface {
	ImportDocuments(ctx context.Context, collection string, documents []typesense.Document, opts typesense.ImportOptions) (*typesense.ImportResponse, error)
}

// UsageRecorder receives the outcome of every batch
type UsageRecorder interface {
	RecordIndexed(ctx context.Context, tenantID uint, collection string, documents, bytes int64) error
	Log(ctx context.Context, entry *model.UsageLog) error
}

// Archiver keeps the payload of failed batches so they can be re-submitted
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// Config tunes batching and worker concurrency
type Config struct {
	BatchSize        int
	BatchDelay       time.Duration
	BatchConcurrency int
	// JobTimeout bounds one batch apply; it is not tied to the worker's lifetime
	JobTimeout time.Duration
}

// Pipeline is the two-stage indexing pipeline: a single grouping worker partitions
// submissions into per-collection batches, and a bounded pool applies them.
type Pipeline struct {
	queue       queue.Queue
	collections CollectionEnsurer
	importer    DocumentImporter
	usage       UsageRecorder
	archiver    Archiver
	cfg         Config
	log         *zap.Logger
}

// New creates a pipeline. archiver may be nil.
func New(q queue.Queue, collections CollectionEnsurer, importer DocumentImporter, usage UsageRecorder, archiver Archiver, cfg Config, log *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 40
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 5
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Pipeline{
		queue:       q,
		collections: collections,
		importer:    importer,
		usage:       usage,
		archiver:    archiver,
		cfg:         cfg,
		log:         log,
	}
}

// EnqueueGroup pushes a submission for the grouping stage and returns the job id
func (p *Pipeline) EnqueueGroup(ctx context.Context, job GroupJob) (string, error) {
	id, err := p.queue.Enqueue(ctx, GroupQueue, job, 0)
	if err != nil {
		return "", fmt.Errorf("enqueue group job: %w", err)
	}
	jobsEnqueued.WithLabelValues(GroupQueue).Inc()
	return id, nil
}

// Plan partitions a submission by target collection, in order of first appearance, and
// chunks each partition into batches. Batch i of a collection is delayed (i-1) x BatchDelay.
func (p *Pipeline) Plan(job GroupJob) []ScheduledBatch {
	type partition struct {
		indexName string
		items     []Item
	}

	var order []string
	partitions := map[string]*partition{}
	for _, item := range job.Items {
		indexName := tenancy.NormalizeIndexName(item.IndexName)
		name := tenancy.CollectionName(job.TenantID, indexName)
		part, ok := partitions[name]
		if !ok {
			part = &partition{indexName: indexName}
			partitions[name] = part
			order = append(order, name)
		}
		part.items = append(part.items, item)
	}

	var out []ScheduledBatch
	for _, name := range order {
		part := partitions[name]
		total := (len(part.items) + p.cfg.BatchSize - 1) / p.cfg.BatchSize
		for i := 0; i < total; i++ {
			end := (i + 1) * p.cfg.BatchSize
			if end > len(part.items) {
				end = len(part.items)
			}
			out = append(out, ScheduledBatch{
				Batch: BatchJob{
					SubmissionID: job.SubmissionID,
					TenantID:     job.TenantID,
					APIKeyID:     job.APIKeyID,
					Operation:    job.Operation,
					Action:       job.Action,
					IndexName:    part.indexName,
					Collection:   name,
					Seq:          i + 1,
					Total:        total,
					Items:        part.items[i*p.cfg.BatchSize : end],
				},
				Delay: time.Duration(i) * p.cfg.BatchDelay,
			})
		}
	}
	return out
}

// HandleGroup schedules every batch of a submission. When an enqueue fails, the
// batches not yet scheduled are recorded as failed and archived.
func (p *Pipeline) HandleGroup(ctx context.Context, job GroupJob) error {
	start := time.Now()
	batches := p.Plan(job)
	for i, scheduled := range batches {
		if _, err := p.queue.Enqueue(ctx, BatchQueue, scheduled.Batch, scheduled.Delay); err != nil {
			err = fmt.Errorf("enqueue batch %d/%d for %s: %w", scheduled.Batch.Seq, scheduled.Batch.Total, scheduled.Batch.Collection, err)
			log := p.log.With(zap.String("submission_id", job.SubmissionID), zap.Uint("tenant_id", job.TenantID))
			for _, unscheduled := range batches[i:] {
				batch := unscheduled.Batch
				p.fail(ctx, log.With(zap.String("collection", batch.Collection), zap.Int("seq", batch.Seq)), batch, batch.Items, err.Error(), start)
			}
			return err
		}
		jobsEnqueued.WithLabelValues(BatchQueue).Inc()
	}

	p.log.Info("submission scheduled",
		zap.String("submission_id", job.SubmissionID),
		zap.Uint("tenant_id", job.TenantID),
		zap.Int("documents", len(job.Items)),
		zap.Int("batches", len(batches)),
	)
	return nil
}

// failUndecodable records a group job whose payload cannot be read. Only the envelope
// fields are recovered, so the entry carries no document count when the items are broken.
func (p *Pipeline) failUndecodable(ctx context.Context, job *queue.Job, cause error) {
	var envelope struct {
		SubmissionID string          `json:"submission_id"`
		TenantID     uint            `json:"tenant_id"`
		APIKeyID     *uint           `json:"api_key_id,omitempty"`
		Operation    model.Operation `json:"operation"`
	}
	if err := job.Decode(&envelope); err != nil || envelope.TenantID == 0 {
		p.log.Error("dropping group job without a tenant", zap.String("job_id", job.ID), zap.Error(cause))
		return
	}
	if envelope.Operation == "" {
		envelope.Operation = model.OperationBulkIndex
	}

	batch := BatchJob{
		SubmissionID: envelope.SubmissionID,
		TenantID:     envelope.TenantID,
		APIKeyID:     envelope.APIKeyID,
		Operation:    envelope.Operation,
	}
	p.writeLog(ctx, p.log, batch, model.UsageStatusFailed, 0, 0, cause.Error(), time.Now())
}

// HandleBatch ensures the collection, imports the batch and records the outcome.
// Failures are logged and archived, never retried.
func (p *Pipeline) HandleBatch(ctx context.Context, batch BatchJob) error {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	log := p.log.With(
		zap.String("submission_id", batch.SubmissionID),
		zap.Uint("tenant_id", batch.TenantID),
		zap.String("collection", batch.Collection),
		zap.Int("seq", batch.Seq),
		zap.Int("total", batch.Total),
	)

	coll, err := p.collections.EnsureCollection(ctx, batch.TenantID, batch.IndexName)
	if err != nil {
		p.fail(ctx, log, batch, batch.Items, err.Error(), start)
		return err
	}
	if coll.Name != batch.Collection {
		err := fmt.Errorf("batch targets %s but tenant collection is %s", batch.Collection, coll.Name)
		p.fail(ctx, log, batch, batch.Items, err.Error(), start)
		return err
	}

	opts := typesense.ImportOptions{Action: batch.Action, BatchSize: len(batch.Items)}
	resp, err := p.importer.ImportDocuments(ctx, coll.Name, batch.Documents(), opts)
	if typesense.IsNotFound(err) {
		// The collection was dropped behind this instance's back; provision it again once
		log.Warn("collection missing at import, re-ensuring")
		p.collections.Invalidate(coll.Name)
		if coll, err = p.collections.EnsureCollection(ctx, batch.TenantID, batch.IndexName); err == nil {
			resp, err = p.importer.ImportDocuments(ctx, coll.Name, batch.Documents(), opts)
		}
	}
	if err != nil {
		p.fail(ctx, log, batch, batch.Items, err.Error(), start)
		return err
	}

	succeeded, failed := splitResults(batch.Items, resp)
	if len(succeeded) > 0 {
		accepted := batch
		accepted.Items = succeeded
		bytes := accepted.Bytes()
		if err := p.usage.RecordIndexed(ctx, batch.TenantID, coll.Name, int64(len(succeeded)), bytes); err != nil {
			log.Error("failed to record usage", zap.Error(err))
		}
		p.writeLog(ctx, log, batch, model.UsageStatusSuccess, len(succeeded), bytes, "", start)
		documentsIndexed.Add(float64(len(succeeded)))
	}

	if len(failed) > 0 {
		p.fail(ctx, log, batch, failed, resp.FirstError(), start)
		if len(succeeded) > 0 {
			batchesProcessed.WithLabelValues("partial").Inc()
		}
		return fmt.Errorf("%d of %d documents rejected: %s", len(failed), len(batch.Items), resp.FirstError())
	}

	batchesProcessed.WithLabelValues("success").Inc()
	log.Info("batch indexed", zap.Int("documents", len(succeeded)), zap.Duration("took", time.Since(start)))
	return nil
}

// splitResults pairs import results with items; results come back in document order
func splitResults(items []Item, resp *typesense.ImportResponse) (succeeded, failed []Item) {
	if len(resp.Results) != len(items) {
		// Cannot attribute results to documents; trust the counts only when all succeeded
		if resp.Failed == 0 && resp.Success == len(items) {
			return items, nil
		}
		return nil, items
	}
	for i, res := range resp.Results {
		if res.Success {
			succeeded = append(succeeded, items[i])
		} else {
			failed = append(failed, items[i])
		}
	}
	return succeeded, failed
}

func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, batch BatchJob, items []Item, message string, start time.Time) {
	failedBatch := batch
	failedBatch.Items = items
	bytes := failedBatch.Bytes()

	log.Error("batch failed", zap.Int("documents", len(items)), zap.String("error", message))
	if len(items) == len(batch.Items) {
		batchesProcessed.WithLabelValues("failed").Inc()
	}
	p.writeLog(ctx, log, batch, model.UsageStatusFailed, len(items), bytes, message, start)

	if p.archiver == nil {
		return
	}
	key := fmt.Sprintf("failed-batches/%d/%s/%s-%d.json", batch.TenantID, batch.Collection, batch.SubmissionID, batch.Seq)
	body, err := json.Marshal(failedBatch)
	if err != nil {
		log.Error("failed to encode batch for archive", zap.Error(err))
		return
	}
	if err := p.archiver.Archive(ctx, key, body); err != nil {
		log.Error("failed to archive batch", zap.String("key", key), zap.Error(err))
		return
	}
	log.Info("failed batch archived", zap.String("key", key))
}

func (p *Pipeline) writeLog(ctx context.Context, log *zap.Logger, batch BatchJob, status model.UsageStatus, documents int, bytes int64, message string, start time.Time) {
	meta, _ := json.Marshal(map[string]interface{}{
		"submission_id": batch.SubmissionID,
		"batch":         batch.Seq,
		"batches":       batch.Total,
		"action":        batch.Action,
	})
	entry := &model.UsageLog{
		TenantID:           batch.TenantID,
		APIKeyID:           batch.APIKeyID,
		Operation:          batch.Operation,
		Status:             status,
		Collection:         batch.IndexName,
		DocumentsProcessed: documents,
		DataSizeBytes:      bytes,
		ProcessingTimeMs:   time.Since(start).Milliseconds(),
		ErrorMessage:       message,
		Metadata:           datatypes.JSON(meta),
	}
	if err := p.usage.Log(ctx, entry); err != nil {
		log.Error("failed to write usage log", zap.Error(err))
	}
}

// Run consumes both queues until ctx is cancelled: one grouping worker and
// BatchConcurrency batch workers. In-flight jobs finish before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.consume(gctx, GroupQueue, 0, func(jobCtx context.Context, job *queue.Job) error {
			var group GroupJob
			if err := job.Decode(&group); err != nil {
				p.failUndecodable(jobCtx, job, err)
				return err
			}
			return p.HandleGroup(jobCtx, group)
		})
	})

	for i := 0; i < p.cfg.BatchConcurrency; i++ {
		worker := i + 1
		g.Go(func() error {
			return p.consume(gctx, BatchQueue, worker, func(jobCtx context.Context, job *queue.Job) error {
				var batch BatchJob
				if err := job.Decode(&batch); err != nil {
					return err
				}
				return p.HandleBatch(jobCtx, batch)
			})
		})
	}

	p.log.Info("pipeline workers started", zap.Int("batch_workers", p.cfg.BatchConcurrency))
	err := g.Wait()
	p.log.Info("pipeline workers stopped")
	return err
}

func (p *Pipeline) consume(ctx context.Context, queueName string, worker int, handle func(context.Context, *queue.Job) error) error {
	log := p.log.With(zap.String("queue", queueName), zap.Int("worker", worker))
	backoff := time.Second

	for {
		job, err := p.queue.Dequeue(ctx, queueName)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			log.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}

		// Jobs run to completion during shutdown
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.JobTimeout)
		if err := handle(jobCtx, job); err != nil {
			log.Warn("job finished with error", zap.String("job_id", job.ID), zap.Error(err))
		}
		// Delivery is at-most-once from the pipeline's view: every job is acked
		if err := p.queue.Ack(jobCtx, job); err != nil {
			log.Error("ack failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		cancel()
	}
}
