package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestStoreSnapshotIsStable(t *testing.T) {
	first := NewLibrary()
	require.NoError(t, first.Add(pat("a", "1")))
	store := NewStore(first)

	snapshot := store.Library()

	second := NewLibrary()
	require.NoError(t, second.Add(pat("a", "1")))
	require.NoError(t, second.Add(pat("b", "1")))
	store.Swap(second)

	// A caller holding the old snapshot is unaffected by the swap.
	assert.Equal(t, 1, snapshot.Len())
	assert.Equal(t, 2, store.Library().Len())
}

func TestReloadRejectsInvalidKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t)
	writeDoc(t, dir, "report.yaml", goodDoc)

	lib, err := LoadDir(dir, reg)
	require.NoError(t, err)
	store := NewStore(lib, WithReload(dir, reg))

	// Break the document on disk; the rebuild must fail and the running
	// library must survive.
	writeDoc(t, dir, "report.yaml", "id: broken\nversion: \"1\"\nsteps: []\n")
	require.Error(t, store.Reload())
	assert.Equal(t, []string{"daily_report@1.2.0"}, store.Library().Keys())

	// Fix it; the rebuild swaps in.
	writeDoc(t, dir, "report.yaml", goodDoc)
	require.NoError(t, store.Reload())
	assert.Equal(t, 1, store.Library().Len())
}

func TestWatchReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	reg := testRegistry(t)
	writeDoc(t, dir, "report.yaml", goodDoc)

	lib, err := LoadDir(dir, reg)
	require.NoError(t, err)
	store := NewStore(lib, WithReload(dir, reg), WithDebounce(30*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))
	defer store.Stop()

	writeDoc(t, dir, "extra.yaml", `
id: extra
version: "1"
steps:
  - capability: calc.sum
    args: {a: 1, b: 2}
    as: total
output_keys: [total]
`)

	require.Eventually(t, func() bool {
		return store.Library().Len() == 2
	}, 5*time.Second, 20*time.Millisecond, "library never picked up the new document")
}

func TestWatchStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	reg := testRegistry(t)
	writeDoc(t, dir, "report.yaml", goodDoc)
	lib, err := LoadDir(dir, reg)
	require.NoError(t, err)

	store := NewStore(lib, WithReload(dir, reg))
	require.NoError(t, store.Watch(context.Background()))
	store.Stop()
	store.Stop() // second stop is a no-op

	// Watch without reload configuration is a no-op as well.
	bare := NewStore(lib)
	require.NoError(t, bare.Watch(context.Background()))
	bare.Stop()
}

func TestRelevantEventFilter(t *testing.T) {
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "a.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "a.yml", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "a.json", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "a.yaml", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "a.txt", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: ".report.yaml.swp", Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, relevant(tt.ev), "%s %s", tt.ev.Name, tt.ev.Op)
	}
}
