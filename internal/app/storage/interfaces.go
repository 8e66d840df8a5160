// Package storage defines the persistence bridge for the canvas service:
// an append-only per-project operation log, an authoritative element
// table, and materialized snapshots used to bound replay cost.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// NoSnapshotIndex is the op index reported when a project has never been
// snapshotted; callers must replay the full op log.
const NoSnapshotIndex int64 = -1

// OpRecord is one entry of the append-only operation log. Seq is
// assigned by the log and totally orders ops within a project.
type OpRecord struct {
	Seq        int64           `json:"seq" db:"seq"`
	ProjectID  string          `json:"projectId" db:"project_id"`
	Type       string          `json:"type" db:"op_type"`
	Data       json.RawMessage `json:"data,omitempty" db:"data"`
	Inverse    json.RawMessage `json:"inverse,omitempty" db:"inverse"`
	ElementIDs []string        `json:"elementIds,omitempty" db:"-"`
	ElementID  string          `json:"elementId,omitempty" db:"element_id"`
	ActorID    string          `json:"actorId,omitempty" db:"actor_id"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
}

// Snapshot is a materialized full-state copy at a given op index.
type Snapshot struct {
	ProjectID       string          `json:"projectId" db:"project_id"`
	Elements        json.RawMessage `json:"elements" db:"elements"`
	SnapshotOpIndex int64           `json:"snapshotOpIndex" db:"snapshot_op_index"`
	TakenAt         time.Time       `json:"takenAt" db:"taken_at"`
}

// OpLog is the append-only operation log. Undo is recorded as a new
// forward entry, never as a back-pointer into the log.
type OpLog interface {
	AppendOp(ctx context.Context, rec OpRecord) (int64, error)
	OpsAfter(ctx context.Context, projectID string, afterSeq int64) ([]OpRecord, error)
	CountOpsAfter(ctx context.Context, projectID string, afterSeq int64) (int64, error)
}

// ElementStore mirrors the authoritative element table.
type ElementStore interface {
	UpsertElement(ctx context.Context, projectID string, el canvas.Element) error
	DeleteElement(ctx context.Context, projectID, elementID string) error
	BatchUpsertElements(ctx context.Context, projectID string, els []canvas.Element) error
}

// SnapshotStore persists materialized snapshots. Reads never create
// snapshots; compaction is a background-worker or explicit-owner action.
type SnapshotStore interface {
	LatestSnapshot(ctx context.Context, projectID string) (Snapshot, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	ProjectIDs(ctx context.Context) ([]string, error)
}

// Store bundles the full persistence bridge.
type Store interface {
	OpLog
	ElementStore
	SnapshotStore
}
