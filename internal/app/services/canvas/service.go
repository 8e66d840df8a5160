package canvas

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/metrics"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage"
)

// Sink receives the persistence side effects of applied operations.
// Calls are fire-and-forget relative to the broadcast path: they must
// not block and must never surface errors to the caller.
type Sink interface {
	AppendOp(projectID string, rec storage.OpRecord)
	UpsertElement(projectID string, el domain.Element)
	DeleteElement(projectID, elementID string)
	BatchUpsertElements(projectID string, els []domain.Element)
}

// Publisher receives every accepted history result while the project's
// lock is still held, so fan-out order matches version order. Like the
// sink, implementations must not block.
type Publisher interface {
	PublishOp(projectID string, res Result)
}

// Result describes an accepted history intent for broadcasting.
type Result struct {
	Op      *domain.Operation `json:"op"`
	Version int64             `json:"version"`
	CanUndo bool              `json:"canUndo"`
	CanRedo bool              `json:"canRedo"`
}

// InitState is the full-replace state handed to a connecting client.
type InitState struct {
	Overlays []domain.Element `json:"overlays"`
	Media    []domain.Element `json:"media"`
	Version  int64            `json:"version"`
}

// Service binds the registry, processor and history discipline together.
// A single per-project monotonic version totally orders all push, undo
// and redo calls; convergence across clients relies on server arrival
// order (last write wins per element id), not on conflict merging.
type Service struct {
	log  zerolog.Logger
	reg  *Registry
	sink Sink
	pub  Publisher
}

// NewService creates the canvas service. sink may be nil, which disables
// persistence entirely.
func NewService(reg *Registry, sink Sink, log zerolog.Logger) *Service {
	return &Service{
		log:  log.With().Str("component", "canvas").Logger(),
		reg:  reg,
		sink: sink,
	}
}

// Registry exposes the project registry for connection attach/detach.
func (s *Service) Registry() *Registry { return s.reg }

// SetPublisher registers the fan-out target for accepted results. Must
// be called before the service starts taking traffic.
func (s *Service) SetPublisher(p Publisher) { s.pub = p }

func (s *Service) publish(projectID string, res Result) {
	if s.pub != nil {
		s.pub.PublishOp(projectID, res)
	}
}

// State returns the current full state of a project.
func (s *Service) State(ctx context.Context, projectID string) InitState {
	var init InitState
	s.reg.Get(ctx, projectID).Do(func(st *domain.ProjectState) {
		init = InitState{
			Overlays: st.OverlayList(),
			Media:    st.MediaList(),
			Version:  st.Version,
		}
	})
	return init
}

// Push applies a client-submitted operation: clear the redo stack, bump
// the version, record the history entry, mutate state and hand the
// side effects to the sink. Invalid operations are rejected before any
// of that happens.
func (s *Service) Push(ctx context.Context, projectID string, op *domain.Operation) (Result, error) {
	if err := op.Validate(); err != nil {
		return Result{}, err
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	var (
		res      Result
		applyErr error
	)
	s.reg.Get(ctx, projectID).Do(func(st *domain.ProjectState) {
		st.Redo = nil
		st.Version++

		st.Undo = append(st.Undo, op)
		if len(st.Undo) > domain.MaxHistory {
			st.Undo = st.Undo[1:]
		}

		applied, err := Apply(st, op, s.log)
		if err != nil {
			applyErr = err
			return
		}

		s.persist(projectID, op, applied)
		res = Result{Op: op, Version: st.Version, CanUndo: st.CanUndo(), CanRedo: st.CanRedo()}
		s.publish(projectID, res)
	})
	if applyErr != nil {
		return Result{}, applyErr
	}

	metrics.RecordOpApplied(string(op.Type))
	return res, nil
}

// Undo reverts the most recent history entry by applying its inverse.
// The inverse is recorded as a new forward log entry: the op log is
// append-only. Entries without an inverse are discarded with a warning
// rather than restored, since they can never become undoable and
// restoring them would make a blindly retrying client loop forever.
func (s *Service) Undo(ctx context.Context, projectID string) (Result, bool) {
	var (
		res Result
		ok  bool
	)
	s.reg.Get(ctx, projectID).Do(func(st *domain.ProjectState) {
		if !st.CanUndo() {
			return
		}

		entry := st.Undo[len(st.Undo)-1]
		st.Undo = st.Undo[:len(st.Undo)-1]

		if entry.Inverse == nil || entry.Inverse.Validate() != nil {
			s.log.Warn().
				Str("project", projectID).
				Str("type", string(entry.Type)).
				Msg("discarding history entry without usable inverse")
			return
		}

		st.Version++
		st.Redo = append(st.Redo, entry)
		if len(st.Redo) > domain.MaxHistory {
			st.Redo = st.Redo[1:]
		}

		applied, err := Apply(st, entry.Inverse, s.log)
		if err != nil {
			s.log.Warn().Err(err).Str("project", projectID).Msg("inverse application failed")
			return
		}

		s.persist(projectID, entry.Inverse, applied)
		res = Result{Op: entry.Inverse, Version: st.Version, CanUndo: st.CanUndo(), CanRedo: st.CanRedo()}
		s.publish(projectID, res)
		ok = true
	})
	if ok {
		metrics.RecordOpApplied("undo")
	}
	return res, ok
}

// Redo re-applies the most recently undone entry's original operation.
func (s *Service) Redo(ctx context.Context, projectID string) (Result, bool) {
	var (
		res Result
		ok  bool
	)
	s.reg.Get(ctx, projectID).Do(func(st *domain.ProjectState) {
		if !st.CanRedo() {
			return
		}

		entry := st.Redo[len(st.Redo)-1]
		st.Redo = st.Redo[:len(st.Redo)-1]

		st.Version++
		st.Undo = append(st.Undo, entry)
		if len(st.Undo) > domain.MaxHistory {
			st.Undo = st.Undo[1:]
		}

		applied, err := Apply(st, entry, s.log)
		if err != nil {
			s.log.Warn().Err(err).Str("project", projectID).Msg("redo application failed")
			return
		}

		s.persist(projectID, entry, applied)
		res = Result{Op: entry, Version: st.Version, CanUndo: st.CanUndo(), CanRedo: st.CanRedo()}
		s.publish(projectID, res)
		ok = true
	})
	if ok {
		metrics.RecordOpApplied("redo")
	}
	return res, ok
}

func (s *Service) persist(projectID string, op *domain.Operation, applied ApplyResult) {
	if s.sink == nil {
		return
	}

	s.sink.AppendOp(projectID, toRecord(projectID, op))

	switch op.Type {
	case domain.OpBulkCreate:
		s.sink.BatchUpsertElements(projectID, applied.Upserted)
	default:
		for _, el := range applied.Upserted {
			s.sink.UpsertElement(projectID, el)
		}
	}
	for _, id := range applied.Deleted {
		s.sink.DeleteElement(projectID, id)
	}
}

func toRecord(projectID string, op *domain.Operation) storage.OpRecord {
	rec := storage.OpRecord{
		ProjectID:  projectID,
		Type:       string(op.Type),
		Data:       op.Data,
		ElementIDs: op.ElementIDs,
		ElementID:  op.ElementID,
		ActorID:    op.AuthorID,
	}
	if op.Inverse != nil {
		if raw, err := json.Marshal(op.Inverse); err == nil {
			rec.Inverse = raw
		}
	}
	// Ops routed only through their own id keep that routing in the log.
	if rec.ElementID == "" && len(rec.ElementIDs) == 0 {
		switch op.Type {
		case domain.OpUpdate, domain.OpGeneratorUpdate, domain.OpMediaUpdate,
			domain.OpDelete, domain.OpGeneratorDelete, domain.OpMediaDelete:
			rec.ElementID = op.ID
		}
	}
	return rec
}
