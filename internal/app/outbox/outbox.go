// Package outbox decouples the broadcast path from durable storage: a
// bounded queue consumed by a single worker with retry and backoff.
// Persistence stays best-effort: a full queue or exhausted retries drop
// the job with a log line and a metric, never an error to a client.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/metrics"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/config"
)

type jobKind int

const (
	jobAppendOp jobKind = iota
	jobUpsertElement
	jobDeleteElement
	jobBatchUpsert
)

func (k jobKind) String() string {
	switch k {
	case jobAppendOp:
		return "append_op"
	case jobUpsertElement:
		return "upsert_element"
	case jobDeleteElement:
		return "delete_element"
	case jobBatchUpsert:
		return "batch_upsert"
	}
	return "unknown"
}

type job struct {
	kind      jobKind
	projectID string
	op        storage.OpRecord
	element   canvas.Element
	elements  []canvas.Element
	elementID string
}

// Outbox is the async persistence queue. A single worker preserves the
// order jobs were enqueued in, which keeps the op log append order equal
// to the in-memory application order per project.
type Outbox struct {
	log         zerolog.Logger
	store       storage.Store
	jobs        chan job
	maxAttempts int
	backoff     time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// New creates an outbox writing to the given store.
func New(store storage.Store, cfg config.OutboxConfig, log zerolog.Logger) *Outbox {
	return &Outbox{
		log:         log.With().Str("component", "outbox").Logger(),
		store:       store,
		jobs:        make(chan job, cfg.Capacity),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		done:        make(chan struct{}),
	}
}

// Start launches the worker.
func (o *Outbox) Start() {
	o.startOnce.Do(func() {
		go o.run()
	})
}

// Close stops accepting jobs and waits for the queue to drain, up to the
// context deadline.
func (o *Outbox) Close(ctx context.Context) error {
	o.closeOnce.Do(func() {
		close(o.jobs)
	})
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AppendOp enqueues an op log append.
func (o *Outbox) AppendOp(projectID string, rec storage.OpRecord) {
	rec.ProjectID = projectID
	o.enqueue(job{kind: jobAppendOp, projectID: projectID, op: rec})
}

// UpsertElement enqueues an element table upsert.
func (o *Outbox) UpsertElement(projectID string, el canvas.Element) {
	o.enqueue(job{kind: jobUpsertElement, projectID: projectID, element: el.Clone()})
}

// DeleteElement enqueues an element table delete.
func (o *Outbox) DeleteElement(projectID, elementID string) {
	o.enqueue(job{kind: jobDeleteElement, projectID: projectID, elementID: elementID})
}

// BatchUpsertElements enqueues a batched element table upsert.
func (o *Outbox) BatchUpsertElements(projectID string, els []canvas.Element) {
	cloned := make([]canvas.Element, 0, len(els))
	for _, el := range els {
		cloned = append(cloned, el.Clone())
	}
	o.enqueue(job{kind: jobBatchUpsert, projectID: projectID, elements: cloned})
}

func (o *Outbox) enqueue(j job) {
	select {
	case o.jobs <- j:
		metrics.SetOutboxDepth(len(o.jobs))
	default:
		metrics.RecordOutboxFailure("queue_full")
		o.log.Error().
			Str("project", j.projectID).
			Str("job", j.kind.String()).
			Msg("outbox full, dropping persistence job")
	}
}

func (o *Outbox) run() {
	defer close(o.done)

	for j := range o.jobs {
		metrics.SetOutboxDepth(len(o.jobs))
		o.deliver(j)
	}
	metrics.SetOutboxDepth(0)
}

func (o *Outbox) deliver(j job) {
	var err error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(o.backoff << (attempt - 2))
		}
		err = o.attempt(j)
		if err == nil {
			return
		}
		o.log.Warn().Err(err).
			Str("project", j.projectID).
			Str("job", j.kind.String()).
			Int("attempt", attempt).
			Msg("persistence attempt failed")
	}

	metrics.RecordOutboxFailure("exhausted")
	o.log.Error().Err(err).
		Str("project", j.projectID).
		Str("job", j.kind.String()).
		Msg("persistence job dropped after retries")
}

func (o *Outbox) attempt(j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch j.kind {
	case jobAppendOp:
		_, err := o.store.AppendOp(ctx, j.op)
		return err
	case jobUpsertElement:
		return o.store.UpsertElement(ctx, j.projectID, j.element)
	case jobDeleteElement:
		return o.store.DeleteElement(ctx, j.projectID, j.elementID)
	case jobBatchUpsert:
		return o.store.BatchUpsertElements(ctx, j.projectID, j.elements)
	}
	return nil
}
