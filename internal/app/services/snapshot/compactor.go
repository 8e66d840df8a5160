// Package snapshot bounds op-log replay cost by materializing project
// state into snapshots. Compaction runs from the background sweep or an
// explicit trigger; read paths never create snapshots.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/metrics"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/services/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/config"
)

// ErrNoOps is returned when a project has nothing to compact.
var ErrNoOps = errors.New("snapshot: project has no operations")

// ReadResult is the snapshot read contract: the latest snapshot plus
// the count of ops logged after it. With no snapshot the index is -1
// and the caller must replay the full log.
type ReadResult struct {
	Snapshot storage.Snapshot `json:"snapshot"`
	OpsAfter int64            `json:"opsAfterSnapshotIndex"`
}

// Compactor materializes project state into snapshots.
type Compactor struct {
	log         zerolog.Logger
	store       storage.Store
	loader      *canvas.Loader
	opThreshold int64
	maxAge      time.Duration
}

// NewCompactor creates a compactor over the given store.
func NewCompactor(store storage.Store, loader *canvas.Loader, cfg config.SnapshotConfig, log zerolog.Logger) *Compactor {
	return &Compactor{
		log:         log.With().Str("component", "compactor").Logger(),
		store:       store,
		loader:      loader,
		opThreshold: cfg.OpThreshold,
		maxAge:      cfg.MaxAge,
	}
}

// Read returns the project's snapshot state without side effects.
func (c *Compactor) Read(ctx context.Context, projectID string) (ReadResult, error) {
	snap, err := c.store.LatestSnapshot(ctx, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		snap = storage.Snapshot{
			ProjectID:       projectID,
			Elements:        json.RawMessage(`{}`),
			SnapshotOpIndex: storage.NoSnapshotIndex,
		}
	} else if err != nil {
		return ReadResult{}, err
	}

	pending, err := c.store.CountOpsAfter(ctx, projectID, snap.SnapshotOpIndex)
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{Snapshot: snap, OpsAfter: pending}, nil
}

// CompactProject rebuilds the project from its log and stores the
// result as the new snapshot. Explicit trigger: it compacts regardless
// of the threshold policy, but refuses projects with an empty log.
func (c *Compactor) CompactProject(ctx context.Context, projectID string) (storage.Snapshot, error) {
	pending, err := c.store.CountOpsAfter(ctx, projectID, storage.NoSnapshotIndex)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("count ops: %w", err)
	}
	if pending == 0 {
		return storage.Snapshot{}, ErrNoOps
	}

	st, err := c.loader.Load(ctx, projectID)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("materialize state: %w", err)
	}

	elements, err := json.Marshal(canvas.SnapshotElements{
		Overlays: st.Overlays,
		Media:    st.Media,
	})
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("encode elements: %w", err)
	}

	snap := storage.Snapshot{
		ProjectID:       projectID,
		Elements:        elements,
		SnapshotOpIndex: st.Version,
		TakenAt:         time.Now().UTC(),
	}
	if err := c.store.SaveSnapshot(ctx, snap); err != nil {
		return storage.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}

	c.log.Info().
		Str("project", projectID).
		Int64("snapshot_index", snap.SnapshotOpIndex).
		Msg("project compacted")
	return snap, nil
}

// Sweep compacts every project due under the threshold policy: at least
// opThreshold unsnapshotted ops, or a snapshot older than maxAge with
// any pending ops. Returns the number of projects compacted.
func (c *Compactor) Sweep(ctx context.Context) (int, error) {
	ids, err := c.store.ProjectIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list projects: %w", err)
	}

	compacted := 0
	for _, id := range ids {
		due, err := c.due(ctx, id)
		if err != nil {
			metrics.RecordCompaction("error")
			c.log.Warn().Err(err).Str("project", id).Msg("compaction check failed")
			continue
		}
		if !due {
			continue
		}
		if _, err := c.CompactProject(ctx, id); err != nil {
			metrics.RecordCompaction("error")
			c.log.Warn().Err(err).Str("project", id).Msg("compaction failed")
			continue
		}
		metrics.RecordCompaction("ok")
		compacted++
	}
	return compacted, nil
}

func (c *Compactor) due(ctx context.Context, projectID string) (bool, error) {
	afterSeq := storage.NoSnapshotIndex
	var takenAt time.Time

	snap, err := c.store.LatestSnapshot(ctx, projectID)
	switch {
	case err == nil:
		afterSeq = snap.SnapshotOpIndex
		takenAt = snap.TakenAt
	case errors.Is(err, storage.ErrNotFound):
	default:
		return false, err
	}

	pending, err := c.store.CountOpsAfter(ctx, projectID, afterSeq)
	if err != nil {
		return false, err
	}
	if pending == 0 {
		return false, nil
	}
	if pending >= c.opThreshold {
		return true, nil
	}
	return !takenAt.IsZero() && time.Since(takenAt) >= c.maxAge, nil
}
