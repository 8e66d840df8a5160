package canvas

// MaxHistory bounds the undo and redo stacks per project. Once a stack
// exceeds this length the oldest entry is dropped.
const MaxHistory = 50

// ProjectState is the in-memory canonical state of one project. It is
// shared mutable state with no lock of its own; the owning Project
// serializes all access.
type ProjectState struct {
	Overlays map[string]Element
	Media    map[string]Element
	Version  int64
	Undo     []*Operation
	Redo     []*Operation
}

// NewProjectState returns an empty project state at version 0.
func NewProjectState() *ProjectState {
	return &ProjectState{
		Overlays: make(map[string]Element),
		Media:    make(map[string]Element),
	}
}

// CanUndo reports whether the undo stack has entries.
func (s *ProjectState) CanUndo() bool { return len(s.Undo) > 0 }

// CanRedo reports whether the redo stack has entries.
func (s *ProjectState) CanRedo() bool { return len(s.Redo) > 0 }

// OverlayList returns the overlays as a slice for wire encoding. The
// entries are clones: callers hold the result after the project lock is
// released, while the live elements keep being merged into.
func (s *ProjectState) OverlayList() []Element {
	out := make([]Element, 0, len(s.Overlays))
	for _, el := range s.Overlays {
		out = append(out, el.Clone())
	}
	return out
}

// MediaList returns the media elements as a slice for wire encoding,
// cloned like OverlayList.
func (s *ProjectState) MediaList() []Element {
	out := make([]Element, 0, len(s.Media))
	for _, el := range s.Media {
		out = append(out, el.Clone())
	}
	return out
}
