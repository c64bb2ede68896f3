package project

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePath(t *testing.T) {
	cases := []struct {
		encoded string
		want    string
	}{
		{"-Users-alice-dev-app", "/Users/alice/dev/app"},
		{"-home-bob-work", "/home/bob/work"},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, DecodePath(tc.encoded))
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/Users/alice/dev/app", "App"},
		{"/home/bob/my_cool_project", "My Cool Project"},
		{"/srv/data.pipeline", "Data Pipeline"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, DisplayName(tc.path))
	}
}

func TestResolveCreatesProjectOnce(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)
	now := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	path := filepath.Join(root, "-Users-alice-dev-app", "session-1.jsonl")
	proj, err := r.Resolve(path, now)
	require.NoError(t, err)

	assert.Equal(t, "/Users/alice/dev/app", proj.Path)
	assert.Equal(t, "App", proj.Name)
	assert.Equal(t, now, proj.CreatedAt)

	// A second file in the same project directory resolves to the same project.
	other := filepath.Join(root, "-Users-alice-dev-app", "session-2.jsonl")
	again, err := r.Resolve(other, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Same(t, proj, again)
	assert.Len(t, r.Projects(), 1)
}

func TestResolveRejectsPathsOutsideRoot(t *testing.T) {
	r := NewResolver(t.TempDir())

	_, err := r.Resolve("/somewhere/else/session.jsonl", time.Now())
	assert.Error(t, err)
}

func TestResolveRejectsFileDirectlyUnderRoot(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)

	_, err := r.Resolve(filepath.Join(root, "stray.jsonl"), time.Now())
	assert.Error(t, err)
}

func TestTouchAccumulatesActivity(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)
	t0 := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	proj, err := r.Resolve(filepath.Join(root, "-p", "s.jsonl"), t0)
	require.NoError(t, err)

	r.Touch(proj, t0.Add(time.Minute), 1, 2)
	r.Touch(proj, t0, 0, 1) // out-of-order activity must not move LastActivity back

	snap := r.Snapshot(proj)
	assert.Equal(t, t0.Add(time.Minute), snap.LastActivity)
	assert.Equal(t, 1, snap.Conversations)
	assert.Equal(t, 3, snap.Messages)
}

func TestSnapshotIsACopy(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)

	proj, err := r.Resolve(filepath.Join(root, "-p", "s.jsonl"), time.Now())
	require.NoError(t, err)

	snap := r.Snapshot(proj)
	r.Touch(proj, time.Now(), 0, 5)
	assert.Equal(t, 0, snap.Messages, "snapshot must not observe later mutation")
}
