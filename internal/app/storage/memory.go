package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
)

// Memory is a thread-safe in-memory persistence bridge. It is the
// default backend when no database is configured and backs most tests.
type Memory struct {
	mu        sync.RWMutex
	nextSeq   int64
	ops       map[string][]OpRecord
	elements  map[string]map[string]canvas.Element
	snapshots map[string]Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextSeq:   1,
		ops:       make(map[string][]OpRecord),
		elements:  make(map[string]map[string]canvas.Element),
		snapshots: make(map[string]Snapshot),
	}
}

var _ Store = (*Memory)(nil)

// AppendOp implements OpLog.
func (m *Memory) AppendOp(_ context.Context, rec OpRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Seq = m.nextSeq
	m.nextSeq++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ElementIDs = append([]string(nil), rec.ElementIDs...)

	m.ops[rec.ProjectID] = append(m.ops[rec.ProjectID], rec)
	return rec.Seq, nil
}

// OpsAfter implements OpLog.
func (m *Memory) OpsAfter(_ context.Context, projectID string, afterSeq int64) ([]OpRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []OpRecord
	for _, rec := range m.ops[projectID] {
		if rec.Seq > afterSeq {
			rec.ElementIDs = append([]string(nil), rec.ElementIDs...)
			result = append(result, rec)
		}
	}
	return result, nil
}

// CountOpsAfter implements OpLog.
func (m *Memory) CountOpsAfter(_ context.Context, projectID string, afterSeq int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, rec := range m.ops[projectID] {
		if rec.Seq > afterSeq {
			n++
		}
	}
	return n, nil
}

// UpsertElement implements ElementStore.
func (m *Memory) UpsertElement(_ context.Context, projectID string, el canvas.Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(projectID, el)
	return nil
}

// DeleteElement implements ElementStore. Deleting an absent element is
// a no-op.
func (m *Memory) DeleteElement(_ context.Context, projectID, elementID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if els, ok := m.elements[projectID]; ok {
		delete(els, elementID)
	}
	return nil
}

// BatchUpsertElements implements ElementStore.
func (m *Memory) BatchUpsertElements(_ context.Context, projectID string, els []canvas.Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, el := range els {
		m.upsertLocked(projectID, el)
	}
	return nil
}

// LatestSnapshot implements SnapshotStore.
func (m *Memory) LatestSnapshot(_ context.Context, projectID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[projectID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// SaveSnapshot implements SnapshotStore.
func (m *Memory) SaveSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	m.snapshots[snap.ProjectID] = snap
	return nil
}

// ProjectIDs implements SnapshotStore.
func (m *Memory) ProjectIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.ops))
	for id := range m.ops {
		ids = append(ids, id)
	}
	return ids, nil
}

// Elements returns a copy of the element table for one project. Test
// helper, not part of the Store contract.
func (m *Memory) Elements(projectID string) map[string]canvas.Element {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]canvas.Element, len(m.elements[projectID]))
	for id, el := range m.elements[projectID] {
		out[id] = el.Clone()
	}
	return out
}

func (m *Memory) upsertLocked(projectID string, el canvas.Element) {
	id := el.ID()
	if id == "" {
		return
	}
	if m.elements[projectID] == nil {
		m.elements[projectID] = make(map[string]canvas.Element)
	}
	m.elements[projectID][id] = el.Clone()
}
