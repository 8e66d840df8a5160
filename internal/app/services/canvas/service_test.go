package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	domain "github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage"
)

// recordingSink captures persistence calls synchronously for assertions.
type recordingSink struct {
	mu      sync.Mutex
	ops     []storage.OpRecord
	upserts []string
	deletes []string
	batches [][]domain.Element
}

func (r *recordingSink) AppendOp(_ string, rec storage.OpRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, rec)
}

func (r *recordingSink) UpsertElement(_ string, el domain.Element) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, el.ID())
}

func (r *recordingSink) DeleteElement(_, elementID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, elementID)
}

func (r *recordingSink) BatchUpsertElements(_ string, els []domain.Element) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, els)
}

func newTestService(sink Sink) *Service {
	reg := NewRegistry(nil, 0, testLog())
	return NewService(reg, sink, testLog())
}

func pushCreate(t *testing.T, svc *Service, projectID, elementID string, inverse bool) Result {
	t.Helper()
	op := &domain.Operation{
		Type: domain.OpGeneratorCreate,
		Data: json.RawMessage(fmt.Sprintf(`{"element":{"id":%q,"kind":"generator"}}`, elementID)),
	}
	if inverse {
		op.Inverse = &domain.Operation{Type: domain.OpGeneratorDelete, ElementID: elementID}
	}
	res, err := svc.Push(context.Background(), projectID, op)
	if err != nil {
		t.Fatalf("push create %s: %v", elementID, err)
	}
	return res
}

func TestService_PushAssignsVersionAndID(t *testing.T) {
	svc := newTestService(nil)

	res := pushCreate(t, svc, "p1", "el-1", false)
	if res.Version != 1 {
		t.Fatalf("first push version = %d, want 1", res.Version)
	}
	if res.Op.ID == "" {
		t.Fatalf("push should assign an operation id")
	}
	if !res.CanUndo || res.CanRedo {
		t.Fatalf("unexpected history flags: %+v", res)
	}

	res = pushCreate(t, svc, "p1", "el-2", false)
	if res.Version != 2 {
		t.Fatalf("second push version = %d, want 2", res.Version)
	}
}

func TestService_PushRejectsInvalid(t *testing.T) {
	svc := newTestService(nil)

	op := &domain.Operation{Type: "rotate"}
	if _, err := svc.Push(context.Background(), "p1", op); err == nil {
		t.Fatalf("expected validation error")
	}

	state := svc.State(context.Background(), "p1")
	if state.Version != 0 {
		t.Fatalf("rejected op must not bump the version, got %d", state.Version)
	}
}

func TestService_UndoRedoRoundTrip(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	pushCreate(t, svc, "p1", "el-1", true)

	res, ok := svc.Undo(ctx, "p1")
	if !ok {
		t.Fatalf("undo should succeed")
	}
	if res.Version != 2 {
		t.Fatalf("undo version = %d, want 2", res.Version)
	}
	if res.Op.Type != domain.OpGeneratorDelete {
		t.Fatalf("undo should broadcast the inverse, got %s", res.Op.Type)
	}
	if res.CanUndo || !res.CanRedo {
		t.Fatalf("history flags after undo: %+v", res)
	}

	state := svc.State(ctx, "p1")
	if len(state.Overlays) != 0 {
		t.Fatalf("undo did not remove the element")
	}

	res, ok = svc.Redo(ctx, "p1")
	if !ok {
		t.Fatalf("redo should succeed")
	}
	if res.Version != 3 {
		t.Fatalf("redo version = %d, want 3", res.Version)
	}
	if res.Op.Type != domain.OpGeneratorCreate {
		t.Fatalf("redo should broadcast the original, got %s", res.Op.Type)
	}

	state = svc.State(ctx, "p1")
	if len(state.Overlays) != 1 {
		t.Fatalf("redo did not restore the element")
	}
}

func TestService_UndoOnEmptyHistory(t *testing.T) {
	svc := newTestService(nil)

	if _, ok := svc.Undo(context.Background(), "p1"); ok {
		t.Fatalf("undo on empty history must report false")
	}
	if _, ok := svc.Redo(context.Background(), "p1"); ok {
		t.Fatalf("redo on empty history must report false")
	}
	if state := svc.State(context.Background(), "p1"); state.Version != 0 {
		t.Fatalf("no-op history calls must not bump the version")
	}
}

func TestService_UndoDiscardsEntryWithoutInverse(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	pushCreate(t, svc, "p1", "el-1", false)

	if _, ok := svc.Undo(ctx, "p1"); ok {
		t.Fatalf("undo without inverse must not apply anything")
	}

	// The unusable entry is consumed, not restored.
	svc.reg.Get(ctx, "p1").Do(func(st *domain.ProjectState) {
		if st.CanUndo() || st.CanRedo() {
			t.Fatalf("discarded entry must leave both stacks empty")
		}
		if st.Version != 1 {
			t.Fatalf("discard must not bump the version, got %d", st.Version)
		}
		if len(st.Overlays) != 1 {
			t.Fatalf("discard must not mutate elements")
		}
	})
}

func TestService_PushClearsRedo(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	pushCreate(t, svc, "p1", "el-1", true)
	if _, ok := svc.Undo(ctx, "p1"); !ok {
		t.Fatalf("undo failed")
	}

	res := pushCreate(t, svc, "p1", "el-2", false)
	if res.CanRedo {
		t.Fatalf("new push must invalidate the redo stack")
	}
	if _, ok := svc.Redo(ctx, "p1"); ok {
		t.Fatalf("redo after a new push must fail")
	}
}

func TestService_HistoryIsBounded(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	for i := 0; i < domain.MaxHistory+10; i++ {
		op := &domain.Operation{
			Type: domain.OpCreate,
			Data: json.RawMessage(fmt.Sprintf(`{"element":{"id":"el-%d"}}`, i)),
			Inverse: &domain.Operation{
				Type:      domain.OpDelete,
				ElementID: fmt.Sprintf("el-%d", i),
			},
		}
		if _, err := svc.Push(ctx, "p1", op); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	svc.reg.Get(ctx, "p1").Do(func(st *domain.ProjectState) {
		if len(st.Undo) != domain.MaxHistory {
			t.Fatalf("undo stack = %d entries, want %d", len(st.Undo), domain.MaxHistory)
		}
		// The oldest entries were dropped; the newest survive.
		last := st.Undo[len(st.Undo)-1]
		if last.TargetID() == "" {
			t.Fatalf("unexpected tail entry: %#v", last)
		}
	})

	// Only the retained entries can be undone.
	undone := 0
	for {
		if _, ok := svc.Undo(ctx, "p1"); !ok {
			break
		}
		undone++
	}
	if undone != domain.MaxHistory {
		t.Fatalf("undid %d entries, want %d", undone, domain.MaxHistory)
	}

	// The retained inverses deleted the newest elements; the ten whose
	// entries fell off the stack are beyond history's reach.
	svc.reg.Get(ctx, "p1").Do(func(st *domain.ProjectState) {
		if len(st.Overlays) != 10 {
			t.Fatalf("after full unwind: %d overlays, want 10", len(st.Overlays))
		}
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("el-%d", i)
			if _, ok := st.Overlays[id]; !ok {
				t.Fatalf("%s should survive the unwind", id)
			}
		}
	})
}

func TestService_StateIsDetachedFromLiveElements(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	create := &domain.Operation{
		Type: domain.OpCreate,
		Data: json.RawMessage(`{"element":{"id":"el-1","width":10,"meta":{"prompt":"sunset"}}}`),
	}
	if _, err := svc.Push(ctx, "p1", create); err != nil {
		t.Fatalf("push create: %v", err)
	}

	state := svc.State(ctx, "p1")
	state.Overlays[0]["width"] = 999
	state.Overlays[0]["meta"].(map[string]any)["prompt"] = "scribbled"

	fresh := svc.State(ctx, "p1")
	if fresh.Overlays[0]["width"] != 10.0 {
		t.Fatalf("live width = %v, snapshot mutation leaked through", fresh.Overlays[0]["width"])
	}
	if meta := fresh.Overlays[0]["meta"].(map[string]any); meta["prompt"] != "sunset" {
		t.Fatalf("live meta = %v, snapshot mutation leaked through", meta)
	}
}

// TestService_StateSurvivesConcurrentMerges marshals snapshots while a
// writer keeps merging updates into the same element. Run with -race;
// snapshots that alias the live maps fail here.
func TestService_StateSurvivesConcurrentMerges(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	pushCreate(t, svc, "p1", "el-1", false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			op := &domain.Operation{
				ElementID: "el-1",
				Type:      domain.OpUpdate,
				Data:      json.RawMessage(fmt.Sprintf(`{"updates":{"width":%d,"meta":{"step":%d}}}`, i, i)),
			}
			if _, err := svc.Push(ctx, "p1", op); err != nil {
				t.Errorf("push update %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, err := json.Marshal(svc.State(ctx, "p1")); err != nil {
			t.Fatalf("marshal state: %v", err)
		}
	}
	wg.Wait()
}

func TestService_PersistsThroughSink(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestService(sink)
	ctx := context.Background()

	pushCreate(t, svc, "p1", "el-1", true)

	bulk := &domain.Operation{
		Type: domain.OpBulkCreate,
		Data: json.RawMessage(`{"elements":[{"id":"m1","kind":"image"},{"id":"m2","kind":"video"}]}`),
	}
	if _, err := svc.Push(ctx, "p1", bulk); err != nil {
		t.Fatalf("push bulk: %v", err)
	}

	del := &domain.Operation{Type: domain.OpDelete, ElementIDs: []string{"m1"}}
	if _, err := svc.Push(ctx, "p1", del); err != nil {
		t.Fatalf("push delete: %v", err)
	}

	if _, ok := svc.Undo(ctx, "p1"); ok {
		t.Fatalf("delete without inverse should be discarded")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.ops) != 3 {
		t.Fatalf("expected 3 log appends, got %d", len(sink.ops))
	}
	if sink.ops[0].Type != string(domain.OpGeneratorCreate) || len(sink.ops[0].Inverse) == 0 {
		t.Fatalf("first record should carry the inverse: %+v", sink.ops[0])
	}
	if len(sink.upserts) != 1 || sink.upserts[0] != "el-1" {
		t.Fatalf("unexpected single upserts: %v", sink.upserts)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("bulk create should persist as one batch: %v", sink.batches)
	}
	if len(sink.deletes) != 1 || sink.deletes[0] != "m1" {
		t.Fatalf("unexpected deletes: %v", sink.deletes)
	}
}

func TestService_ImageEditCycle(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	create := &domain.Operation{
		ID:      "o1",
		Type:    domain.OpCreate,
		Data:    json.RawMessage(`{"element":{"id":"o1","type":"image","x":0,"y":0}}`),
		Inverse: &domain.Operation{Type: domain.OpDelete, ElementID: "o1"},
	}
	res, err := svc.Push(ctx, "p1", create)
	if err != nil {
		t.Fatalf("push create: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("version = %d, want 1", res.Version)
	}

	width := func() any {
		var w any
		svc.reg.Get(ctx, "p1").Do(func(st *domain.ProjectState) {
			el, ok := st.Overlays["o1"]
			if !ok {
				t.Fatalf("o1 missing from overlays")
			}
			w = el["width"]
		})
		return w
	}

	update := &domain.Operation{
		ElementID: "o1",
		Type:      domain.OpUpdate,
		Data:      json.RawMessage(`{"updates":{"width":100}}`),
		Inverse: &domain.Operation{
			ElementID: "o1",
			Type:      domain.OpUpdate,
			Data:      json.RawMessage(`{"updates":{"width":0}}`),
		},
	}
	res, err = svc.Push(ctx, "p1", update)
	if err != nil {
		t.Fatalf("push update: %v", err)
	}
	if res.Version != 2 || width() != 100.0 {
		t.Fatalf("after update: version=%d width=%v", res.Version, width())
	}

	res, ok := svc.Undo(ctx, "p1")
	if !ok {
		t.Fatalf("undo failed")
	}
	if res.Version != 3 || width() != 0.0 {
		t.Fatalf("after undo: version=%d width=%v", res.Version, width())
	}
	if !res.CanRedo {
		t.Fatalf("undone entry should be redoable")
	}

	res, ok = svc.Redo(ctx, "p1")
	if !ok {
		t.Fatalf("redo failed")
	}
	if res.Version != 4 || width() != 100.0 {
		t.Fatalf("after redo: version=%d width=%v", res.Version, width())
	}
}

// TestService_GeneratorLifecycle walks a full edit session: create a
// generator, tune it, attach produced media, then roll history back and
// forward again.
func TestService_GeneratorLifecycle(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	create := &domain.Operation{
		Type: domain.OpGeneratorCreate,
		Data: json.RawMessage(`{"element":{"id":"gen-1","kind":"generator","meta":{"prompt":"sunset"}}}`),
		Inverse: &domain.Operation{
			Type:      domain.OpGeneratorDelete,
			ElementID: "gen-1",
		},
	}
	if _, err := svc.Push(ctx, "studio", create); err != nil {
		t.Fatalf("create generator: %v", err)
	}

	update := &domain.Operation{
		ID:   "gen-1",
		Type: domain.OpGeneratorUpdate,
		Data: json.RawMessage(`{"updates":{"meta":{"prompt":"sunset over water"}}}`),
		Inverse: &domain.Operation{
			ID:   "gen-1",
			Type: domain.OpGeneratorUpdate,
			Data: json.RawMessage(`{"updates":{"meta":{"prompt":"sunset"}}}`),
		},
	}
	if _, err := svc.Push(ctx, "studio", update); err != nil {
		t.Fatalf("update generator: %v", err)
	}

	media := &domain.Operation{
		Type: domain.OpMediaCreate,
		Data: json.RawMessage(`{"element":{"id":"img-1","kind":"image","src":"render.png"}}`),
		Inverse: &domain.Operation{
			Type:      domain.OpMediaDelete,
			ElementID: "img-1",
		},
	}
	res, err := svc.Push(ctx, "studio", media)
	if err != nil {
		t.Fatalf("create media: %v", err)
	}
	if res.Version != 3 {
		t.Fatalf("version after three pushes = %d", res.Version)
	}

	state := svc.State(ctx, "studio")
	if len(state.Overlays) != 1 || len(state.Media) != 1 {
		t.Fatalf("unexpected state: %d overlays, %d media", len(state.Overlays), len(state.Media))
	}

	// Undo the media, then the prompt tweak.
	if _, ok := svc.Undo(ctx, "studio"); !ok {
		t.Fatalf("undo media failed")
	}
	if _, ok := svc.Undo(ctx, "studio"); !ok {
		t.Fatalf("undo update failed")
	}

	state = svc.State(ctx, "studio")
	if len(state.Media) != 0 {
		t.Fatalf("media should be gone after undo")
	}
	meta := state.Overlays[0]["meta"].(map[string]any)
	if meta["prompt"] != "sunset" {
		t.Fatalf("prompt not reverted: %v", meta["prompt"])
	}

	// Redo both.
	if _, ok := svc.Redo(ctx, "studio"); !ok {
		t.Fatalf("redo update failed")
	}
	if _, ok := svc.Redo(ctx, "studio"); !ok {
		t.Fatalf("redo media failed")
	}

	state = svc.State(ctx, "studio")
	if len(state.Media) != 1 {
		t.Fatalf("media should be back after redo")
	}
	if state.Version != 7 {
		t.Fatalf("version after full cycle = %d, want 7", state.Version)
	}
}
