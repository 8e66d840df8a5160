// Package canvas implements the realtime collaboration core: the
// operation processor, the undo/redo history discipline, and the
// registry of per-project state.
package canvas

import (
	"fmt"

	"github.com/rs/zerolog"

	domain "github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
)

// ApplyResult reports the element-table effects of one applied
// operation, consumed by the persistence path.
type ApplyResult struct {
	Upserted []domain.Element
	Deleted  []string
}

// Apply dispatches one operation against project state. The caller must
// have validated the operation and must hold the project's lock.
// Application of bulk-create is per-element, not atomic: a malformed
// element never blocks the rest.
func Apply(st *domain.ProjectState, op *domain.Operation, log zerolog.Logger) (ApplyResult, error) {
	switch op.Type {
	case domain.OpCreate, domain.OpGeneratorCreate:
		return applyCreate(st, op, false)
	case domain.OpMediaCreate:
		return applyCreate(st, op, true)
	case domain.OpBulkCreate:
		return applyBulkCreate(st, op, log)
	case domain.OpDelete, domain.OpGeneratorDelete, domain.OpMediaDelete:
		return applyDelete(st, op, log)
	case domain.OpUpdate, domain.OpGeneratorUpdate:
		return applyUpdate(st.Overlays, op)
	case domain.OpMediaUpdate:
		return applyUpdate(st.Media, op)
	}
	return ApplyResult{}, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidOp, op.Type)
}

// applyCreate inserts the payload element, last-write-wins on id reuse.
// Removing the id from the opposite map keeps an id in at most one of
// {overlays, media}.
func applyCreate(st *domain.ProjectState, op *domain.Operation, media bool) (ApplyResult, error) {
	el, err := op.Element()
	if err != nil {
		return ApplyResult{}, err
	}
	id := el.ID()
	if id == "" {
		return ApplyResult{}, fmt.Errorf("%w: create element has no id", domain.ErrInvalidOp)
	}

	if media {
		delete(st.Overlays, id)
		st.Media[id] = el
	} else {
		delete(st.Media, id)
		st.Overlays[id] = el
	}
	return ApplyResult{Upserted: []domain.Element{el}}, nil
}

func applyBulkCreate(st *domain.ProjectState, op *domain.Operation, log zerolog.Logger) (ApplyResult, error) {
	els, err := op.Elements()
	if err != nil {
		return ApplyResult{}, err
	}

	var result ApplyResult
	for _, el := range els {
		id := el.ID()
		if id == "" {
			log.Warn().Str("type", string(op.Type)).Msg("skipping bulk element without id")
			continue
		}
		if domain.IsMediaKind(el.Kind()) {
			delete(st.Overlays, id)
			st.Media[id] = el
		} else {
			delete(st.Media, id)
			st.Overlays[id] = el
		}
		result.Upserted = append(result.Upserted, el)
	}
	return result, nil
}

// applyDelete removes each routed id from whichever map contains it.
// Absence from both maps is an idempotent no-op, logged as a warning.
func applyDelete(st *domain.ProjectState, op *domain.Operation, log zerolog.Logger) (ApplyResult, error) {
	var result ApplyResult
	for _, id := range op.TargetIDs() {
		switch {
		case hasElement(st.Overlays, id):
			delete(st.Overlays, id)
			result.Deleted = append(result.Deleted, id)
		case hasElement(st.Media, id):
			delete(st.Media, id)
			result.Deleted = append(result.Deleted, id)
		default:
			log.Warn().Str("element", id).Msg("delete for unknown element, ignoring")
		}
	}
	return result, nil
}

// applyUpdate shallow-merges the update payload onto the existing
// element. Missing targets are a no-op.
func applyUpdate(elements map[string]domain.Element, op *domain.Operation) (ApplyResult, error) {
	id := op.TargetID()
	el, ok := elements[id]
	if !ok {
		return ApplyResult{}, nil
	}

	updates, err := op.Updates()
	if err != nil {
		return ApplyResult{}, err
	}
	el.Merge(updates)
	return ApplyResult{Upserted: []domain.Element{el}}, nil
}

func hasElement(m map[string]domain.Element, id string) bool {
	_, ok := m[id]
	return ok
}
