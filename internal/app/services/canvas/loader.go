package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	domain "github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/metrics"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage"
)

// SnapshotElements is the wire and storage shape of materialized
// project state.
type SnapshotElements struct {
	Overlays map[string]domain.Element `json:"overlays"`
	Media    map[string]domain.Element `json:"media"`
}

// Loader reconstructs project state from the latest snapshot plus the
// ops recorded after it. With no snapshot it replays the full log.
type Loader struct {
	store storage.Store
	log   zerolog.Logger
}

// NewLoader creates a loader reading from the given store.
func NewLoader(store storage.Store, log zerolog.Logger) *Loader {
	return &Loader{store: store, log: log.With().Str("component", "loader").Logger()}
}

// Load rebuilds the state for one project. The returned state's Version
// is the sequence number of the last op folded in.
func (l *Loader) Load(ctx context.Context, projectID string) (*domain.ProjectState, error) {
	st := domain.NewProjectState()

	afterSeq := storage.NoSnapshotIndex
	snap, err := l.store.LatestSnapshot(ctx, projectID)
	switch {
	case err == nil:
		var els SnapshotElements
		if err := json.Unmarshal(snap.Elements, &els); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		for id, el := range els.Overlays {
			st.Overlays[id] = el
		}
		for id, el := range els.Media {
			st.Media[id] = el
		}
		afterSeq = snap.SnapshotOpIndex
		st.Version = snap.SnapshotOpIndex
	case errors.Is(err, storage.ErrNotFound):
		// full replay
	default:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	ops, err := l.store.OpsAfter(ctx, projectID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("load ops: %w", err)
	}

	replayed := 0
	for _, rec := range ops {
		op := RecordToOp(rec)
		if err := op.Validate(); err != nil {
			l.log.Warn().Err(err).Str("project", projectID).Int64("seq", rec.Seq).Msg("skipping invalid logged op")
			continue
		}
		if _, err := Apply(st, op, l.log); err != nil {
			l.log.Warn().Err(err).Str("project", projectID).Int64("seq", rec.Seq).Msg("skipping unreplayable op")
			continue
		}
		st.Version = rec.Seq
		replayed++
	}

	metrics.RecordReplayedOps(replayed)
	if replayed > 0 || afterSeq >= 0 {
		l.log.Info().
			Str("project", projectID).
			Int64("snapshot_index", afterSeq).
			Int("replayed", replayed).
			Msg("project state reconstructed")
	}
	return st, nil
}

// RecordToOp converts a log record back into an operation.
func RecordToOp(rec storage.OpRecord) *domain.Operation {
	op := &domain.Operation{
		Type:       domain.OpType(rec.Type),
		Data:       rec.Data,
		AuthorID:   rec.ActorID,
		ElementIDs: rec.ElementIDs,
		ElementID:  rec.ElementID,
	}
	if len(rec.Inverse) > 0 {
		var inv domain.Operation
		if err := json.Unmarshal(rec.Inverse, &inv); err == nil {
			op.Inverse = &inv
		}
	}
	return op
}
