package pipeline

import (
	"time"

	"github.com/sahilchouksey/search-gateway/model"
	"github.com/sahilchouksey/search-gateway/services/typesense"
)

const (
	// GroupQueue carries one job per accepted submission
	GroupQueue = "index:group"
	// BatchQueue carries size-bounded batches for a single collection
	BatchQueue = "index:batch"
)

// Item is one enriched document and the size it was admitted with
type Item struct {
	IndexName string             `json:"index_name"`
	Document  typesense.Document `json:"document"`
	Size      int64              `json:"size"`
}

// GroupJob is the grouping stage input: a whole submission
type GroupJob struct {
	SubmissionID string                 `json:"submission_id"`
	TenantID     uint                   `json:"tenant_id"`
	APIKeyID     *uint                  `json:"api_key_id,omitempty"`
	Operation    model.Operation        `json:"operation"`
	Action       typesense.ImportAction `json:"action"`
	Items        []Item                 `json:"items"`
	AcceptedAt   time.Time              `json:"accepted_at"`
}

// BatchJob is the batch-apply stage input: documents for exactly one collection
type BatchJob struct {
	SubmissionID string                 `json:"submission_id"`
	TenantID     uint                   `json:"tenant_id"`
	APIKeyID     *uint                  `json:"api_key_id,omitempty"`
	Operation    model.Operation        `json:"operation"`
	Action       typesense.ImportAction `json:"action"`
	IndexName    string                 `json:"index_name"`
	Collection   string                 `json:"collection"`
	Seq          int                    `json:"seq"`   // 1-based position within its collection
	Total        int                    `json:"total"` // batches for this collection in the submission
	Items        []Item                 `json:"items"`
}

// Bytes is the admitted size of the batch
func (b *BatchJob) Bytes() int64 {
	var n int64
	for _, item := range b.Items {
		n += item.Size
	}
	return n
}

// Documents returns the engine payload of the batch
func (b *BatchJob) Documents() []typesense.Document {
	docs := make([]typesense.Document, len(b.Items))
	for i, item := range b.Items {
		docs[i] = item.Document
	}
	return docs
}

// ScheduledBatch is a batch and its delivery delay
type ScheduledBatch struct {
	Batch BatchJob
	Delay time.Duration
}
