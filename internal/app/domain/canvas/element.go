// Package canvas defines the shared canvas data model: elements,
// operations, and per-project state.
package canvas

// Element is a free-form canvas object decoded from JSON. Overlay
// (generator) elements and media elements share this representation;
// which map an element lives in decides its role. An element id is
// present in at most one of the two maps at any time.
type Element map[string]any

// ID returns the element id, or "" when absent or not a string.
func (e Element) ID() string {
	id, _ := e["id"].(string)
	return id
}

// Kind returns the element discriminant, preferring "kind" over "type".
func (e Element) Kind() string {
	if k, ok := e["kind"].(string); ok && k != "" {
		return k
	}
	k, _ := e["type"].(string)
	return k
}

// mediaKinds routes bulk-created elements: image, video and text land in
// the media map, everything else is treated as an overlay.
var mediaKinds = map[string]struct{}{
	"image": {},
	"video": {},
	"text":  {},
}

// IsMediaKind reports whether a bulk-created element with the given
// discriminant belongs in the media map.
func IsMediaKind(kind string) bool {
	_, ok := mediaKinds[kind]
	return ok
}

// Clone returns a copy deep enough for independent mutation: top-level
// keys are copied, and the meta map gets its own copy when present.
func (e Element) Clone() Element {
	if e == nil {
		return nil
	}
	out := make(Element, len(e))
	for k, v := range e {
		out[k] = v
	}
	if meta, ok := e["meta"].(map[string]any); ok {
		metaCopy := make(map[string]any, len(meta))
		for k, v := range meta {
			metaCopy[k] = v
		}
		out["meta"] = metaCopy
	}
	return out
}

// Merge shallow-merges updates onto the element. When both sides carry a
// meta object, the meta maps are merged key-by-key instead of replaced.
// The merge goes two levels deep and no further.
func (e Element) Merge(updates map[string]any) {
	for k, v := range updates {
		if k == "meta" {
			incoming, okIn := v.(map[string]any)
			existing, okEx := e["meta"].(map[string]any)
			if okIn && okEx {
				merged := make(map[string]any, len(existing)+len(incoming))
				for mk, mv := range existing {
					merged[mk] = mv
				}
				for mk, mv := range incoming {
					merged[mk] = mv
				}
				e["meta"] = merged
				continue
			}
		}
		e[k] = v
	}
}
