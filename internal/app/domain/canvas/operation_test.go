package canvas

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestOperation_Validate(t *testing.T) {
	cases := []struct {
		name    string
		op      *Operation
		wantErr bool
	}{
		{
			name: "create with wrapped element",
			op: &Operation{
				Type: OpCreate,
				Data: json.RawMessage(`{"element":{"id":"el-1","kind":"generator"}}`),
			},
		},
		{
			name: "create with bare element",
			op: &Operation{
				Type: OpMediaCreate,
				Data: json.RawMessage(`{"id":"el-2","kind":"image"}`),
			},
		},
		{
			name:    "create without element id",
			op:      &Operation{Type: OpCreate, Data: json.RawMessage(`{"element":{"kind":"generator"}}`)},
			wantErr: true,
		},
		{
			name: "bulk create",
			op: &Operation{
				Type: OpBulkCreate,
				Data: json.RawMessage(`{"elements":[{"id":"a"},{"id":"b"}]}`),
			},
		},
		{
			name:    "bulk create with no elements",
			op:      &Operation{Type: OpBulkCreate, Data: json.RawMessage(`{"elements":[]}`)},
			wantErr: true,
		},
		{
			name: "update routed by id",
			op: &Operation{
				ID:   "el-1",
				Type: OpUpdate,
				Data: json.RawMessage(`{"updates":{"x":10}}`),
			},
		},
		{
			name: "update routed by elementId",
			op: &Operation{
				ElementID: "el-1",
				Type:      OpGeneratorUpdate,
				Data:      json.RawMessage(`{"x":10}`),
			},
		},
		{
			name:    "update with no routing key",
			op:      &Operation{Type: OpUpdate, Data: json.RawMessage(`{"x":10}`)},
			wantErr: true,
		},
		{
			name:    "update with undecodable payload",
			op:      &Operation{ID: "el-1", Type: OpUpdate, Data: json.RawMessage(`[1,2]`)},
			wantErr: true,
		},
		{
			name: "delete routed by elementIds",
			op:   &Operation{Type: OpDelete, ElementIDs: []string{"a", "b"}},
		},
		{
			name: "delete routed by own id",
			op:   &Operation{ID: "el-1", Type: OpMediaDelete},
		},
		{
			name:    "delete with no targets",
			op:      &Operation{Type: OpDelete},
			wantErr: true,
		},
		{
			name:    "unknown type",
			op:      &Operation{Type: "rotate", ID: "el-1"},
			wantErr: true,
		},
		{
			name:    "nil operation",
			op:      nil,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op.Validate()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected validation error")
				}
				if !errors.Is(err, ErrInvalidOp) {
					t.Fatalf("error not wrapping ErrInvalidOp: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestOperation_TargetRouting(t *testing.T) {
	op := &Operation{ID: "own", ElementID: "single", ElementIDs: []string{"a", "b"}}
	if got := op.TargetID(); got != "single" {
		t.Fatalf("TargetID = %q, want explicit elementId first", got)
	}
	if got := op.TargetIDs(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("TargetIDs = %v, want elementIds first", got)
	}

	op = &Operation{ElementID: "single"}
	if got := op.TargetID(); got != "single" {
		t.Fatalf("TargetID = %q", got)
	}
	if got := op.TargetIDs(); len(got) != 1 || got[0] != "single" {
		t.Fatalf("TargetIDs elementId fallback = %v", got)
	}

	op = &Operation{ID: "own"}
	if got := op.TargetID(); got != "own" {
		t.Fatalf("TargetID own-id fallback = %q", got)
	}
	if got := op.TargetIDs(); len(got) != 1 || got[0] != "own" {
		t.Fatalf("TargetIDs own-id fallback = %v", got)
	}
}

func TestOperation_Elements_SkipsNonObjects(t *testing.T) {
	op := &Operation{
		Type: OpBulkCreate,
		Data: json.RawMessage(`{"elements":[{"id":"a"},"junk",{"id":"b"},42]}`),
	}
	els, err := op.Elements()
	if err != nil {
		t.Fatalf("decode elements: %v", err)
	}
	if len(els) != 2 || els[0].ID() != "a" || els[1].ID() != "b" {
		t.Fatalf("unexpected elements: %#v", els)
	}
}
