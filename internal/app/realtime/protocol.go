// Package realtime carries the websocket sync protocol: rooms, client
// connections, and the message envelope binding clients to the canvas
// service.
package realtime

import (
	"encoding/json"

	domain "github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/services/canvas"
)

// Frame kinds. One JSON object per text frame, discriminated by "kind".
const (
	KindInit        = "init"
	KindOp          = "op"
	KindCursor      = "cursor"
	KindHistoryPush = "history.push"
	KindHistoryUndo = "history.undo"
	KindHistoryRedo = "history.redo"
)

// initMessage is the full-replace state sent on connect or on request.
// Clients discard any prior local state on receipt; this is not a diff.
type initMessage struct {
	Kind     string           `json:"kind"`
	Overlays []domain.Element `json:"overlays"`
	Media    []domain.Element `json:"media"`
	Version  int64            `json:"version"`
}

// opMessage announces an accepted history intent to the whole room,
// sender included; the sender needs the server-assigned version.
type opMessage struct {
	Kind    string            `json:"kind"`
	Op      *domain.Operation `json:"op"`
	Version int64             `json:"version"`
	CanUndo bool              `json:"canUndo"`
	CanRedo bool              `json:"canRedo"`
}

// cursorMessage is ephemeral presence: relayed to everyone but the
// sender, never persisted, never versioned.
type cursorMessage struct {
	Kind     string  `json:"kind"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	AuthorID string  `json:"authorId,omitempty"`
}

// pushFrame is the inbound history.push envelope.
type pushFrame struct {
	Kind string            `json:"kind"`
	Op   *domain.Operation `json:"op"`
}

func encodeInit(state canvas.InitState) ([]byte, error) {
	return json.Marshal(initMessage{
		Kind:     KindInit,
		Overlays: state.Overlays,
		Media:    state.Media,
		Version:  state.Version,
	})
}

func encodeOp(res canvas.Result) ([]byte, error) {
	return json.Marshal(opMessage{
		Kind:    KindOp,
		Op:      res.Op,
		Version: res.Version,
		CanUndo: res.CanUndo,
		CanRedo: res.CanRedo,
	})
}
