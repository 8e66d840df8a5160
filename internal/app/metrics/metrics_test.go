package metrics

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"/healthz", "/healthz"},
		{"/realtime", "/realtime"},
		{"/projects", "/projects"},
		{"/projects/abc-123", "/projects/:project"},
		{"/projects/abc-123/snapshot", "/projects/:project/snapshot"},
		{"/projects/abc-123/ops", "/projects/:project/ops"},
		{"/workers", "/workers"},
		{"/workers/snapshot", "/workers/snapshot"},
	}

	for _, tc := range cases {
		if got := canonicalPath(tc.raw); got != tc.want {
			t.Errorf("canonicalPath(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
