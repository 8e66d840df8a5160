package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OpType discriminates canvas operations.
type OpType string

const (
	OpCreate          OpType = "create"
	OpUpdate          OpType = "update"
	OpDelete          OpType = "delete"
	OpBulkCreate      OpType = "bulk-create"
	OpGeneratorCreate OpType = "generator.create"
	OpGeneratorUpdate OpType = "generator.update"
	OpGeneratorDelete OpType = "generator.delete"
	OpMediaCreate     OpType = "media.create"
	OpMediaUpdate     OpType = "media.update"
	OpMediaDelete     OpType = "media.delete"
)

var knownOpTypes = map[OpType]struct{}{
	OpCreate:          {},
	OpUpdate:          {},
	OpDelete:          {},
	OpBulkCreate:      {},
	OpGeneratorCreate: {},
	OpGeneratorUpdate: {},
	OpGeneratorDelete: {},
	OpMediaCreate:     {},
	OpMediaUpdate:     {},
	OpMediaDelete:     {},
}

// Valid reports whether the type is a known operation kind.
func (t OpType) Valid() bool {
	_, ok := knownOpTypes[t]
	return ok
}

// ErrInvalidOp marks operations missing a type or routing key. Such
// operations are dropped before application, broadcast and persistence.
var ErrInvalidOp = errors.New("canvas: invalid operation")

// Operation is a single state-changing intent submitted by a client.
// Inverse, when present, restores the state prior to the operation and
// is what makes the operation undoable.
type Operation struct {
	ID         string          `json:"id,omitempty"`
	Type       OpType          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Inverse    *Operation      `json:"inverse,omitempty"`
	AuthorID   string          `json:"authorId,omitempty"`
	ElementIDs []string        `json:"elementIds,omitempty"`
	ElementID  string          `json:"elementId,omitempty"`
}

// Validate checks the operation carries a known type and a routing key.
func (op *Operation) Validate() error {
	if op == nil {
		return fmt.Errorf("%w: nil", ErrInvalidOp)
	}
	if !op.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOp, op.Type)
	}

	switch op.Type {
	case OpCreate, OpGeneratorCreate, OpMediaCreate:
		el, err := op.Element()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOp, err)
		}
		if el.ID() == "" {
			return fmt.Errorf("%w: create payload element has no id", ErrInvalidOp)
		}
	case OpBulkCreate:
		els, err := op.Elements()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOp, err)
		}
		if len(els) == 0 {
			return fmt.Errorf("%w: bulk-create payload has no elements", ErrInvalidOp)
		}
	case OpUpdate, OpGeneratorUpdate, OpMediaUpdate:
		if op.TargetID() == "" {
			return fmt.Errorf("%w: update carries no element id", ErrInvalidOp)
		}
		if _, err := op.Updates(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOp, err)
		}
	case OpDelete, OpGeneratorDelete, OpMediaDelete:
		if len(op.TargetIDs()) == 0 {
			return fmt.Errorf("%w: delete carries no element ids", ErrInvalidOp)
		}
	}
	return nil
}

// TargetID resolves the single-element routing key: the explicit
// elementId first, falling back to the operation's own id. The fallback
// matters because server-assigned operation ids must never shadow an
// explicit routing key.
func (op *Operation) TargetID() string {
	if op.ElementID != "" {
		return op.ElementID
	}
	return op.ID
}

// TargetIDs resolves the delete routing set: elementIds, then
// [elementId], then [id].
func (op *Operation) TargetIDs() []string {
	if len(op.ElementIDs) > 0 {
		return op.ElementIDs
	}
	if op.ElementID != "" {
		return []string{op.ElementID}
	}
	if op.ID != "" {
		return []string{op.ID}
	}
	return nil
}

// Element decodes a create payload, accepting either {"element": {...}}
// or the element object itself.
func (op *Operation) Element() (Element, error) {
	var raw map[string]any
	if err := json.Unmarshal(op.Data, &raw); err != nil {
		return nil, fmt.Errorf("decode element payload: %w", err)
	}
	if wrapped, ok := raw["element"].(map[string]any); ok {
		return Element(wrapped), nil
	}
	return Element(raw), nil
}

// Updates decodes an update payload, accepting either
// {"updates": {...}} or the updates object itself.
func (op *Operation) Updates() (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(op.Data, &raw); err != nil {
		return nil, fmt.Errorf("decode update payload: %w", err)
	}
	if wrapped, ok := raw["updates"].(map[string]any); ok {
		return wrapped, nil
	}
	return raw, nil
}

// Elements decodes a bulk-create payload's element list. Entries that
// are not objects are kept out of the result; application remains
// per-element, so a malformed entry never blocks the rest.
func (op *Operation) Elements() ([]Element, error) {
	var payload struct {
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(op.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode bulk payload: %w", err)
	}

	els := make([]Element, 0, len(payload.Elements))
	for _, raw := range payload.Elements {
		var el Element
		if err := json.Unmarshal(raw, &el); err != nil {
			continue
		}
		els = append(els, el)
	}
	return els, nil
}
