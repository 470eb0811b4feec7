package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), "otodom")
	require.NoError(t, err)
	return store
}

func TestLoadNoPriorState(t *testing.T) {
	store := newTestStore(t)
	states, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, states)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "otodom")
	require.NoError(t, err)

	want := UnitState{Done: false, LastPageDone: 4, StopReason: StopFetchFail, ProcessedItemsLastRun: 37}
	require.NoError(t, store.Update("gdansk", want))

	reopened, err := NewStore(dir, "otodom")
	require.NoError(t, err)
	states, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, want, states["gdansk"])
}

func TestCorruptStateFileIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "otodom")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "otodom_discover_state.json"), []byte("{not json"), 0o640))

	states, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, states)
}

func TestDoneSetBackfill(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "otodom")
	require.NoError(t, err)
	require.NoError(t, store.AppendDone("sopot"))

	donePath := filepath.Join(dir, "otodom_discover_done.txt")
	raw, err := os.ReadFile(donePath)
	require.NoError(t, err)
	require.Equal(t, "sopot\n", string(raw))

	// Comments and blanks in the done-set are ignored on load.
	require.NoError(t, os.WriteFile(donePath, []byte("# legacy entries\nsopot\n\ngdynia\n"), 0o640))

	states, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, UnitState{Done: true}, states["sopot"])
	require.Equal(t, UnitState{Done: true}, states["gdynia"])
	require.Equal(t, 1, store.ResumeStartPage("sopot"))
}

func TestDoneSetMergesWithState(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "otodom")
	require.NoError(t, err)

	require.NoError(t, store.Update("gdansk", UnitState{LastPageDone: 7, StopReason: StopNoMoreResults}))
	require.NoError(t, store.AppendDone("gdansk"))

	states, err := store.Load()
	require.NoError(t, err)
	require.True(t, states["gdansk"].Done)
	require.Equal(t, 7, states["gdansk"].LastPageDone)
}

func TestDoneSetClearsStaleFetchFail(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "otodom")
	require.NoError(t, err)

	// A rebuilt state file can record a later failed run while an older
	// done-set entry for the unit survives on disk.
	require.NoError(t, store.Update("gdansk", UnitState{LastPageDone: 3, StopReason: StopFetchFail}))
	require.NoError(t, store.AppendDone("gdansk"))

	states, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, UnitState{Done: true, LastPageDone: 3, StopReason: StopNone}, states["gdansk"])
}

func TestLastPageDoneMonotonic(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Update("gdansk", UnitState{LastPageDone: 5}))
	require.NoError(t, store.Update("gdansk", UnitState{LastPageDone: 2, StopReason: StopFetchFail}))

	st, ok := store.State("gdansk")
	require.True(t, ok)
	require.Equal(t, 5, st.LastPageDone)
	require.Equal(t, StopFetchFail, st.StopReason)
}

func TestResumeStartPage(t *testing.T) {
	store := newTestStore(t)
	require.Equal(t, 1, store.ResumeStartPage("unknown"))
	require.NoError(t, store.Update("gdansk", UnitState{LastPageDone: 2, StopReason: StopFetchFail}))
	require.Equal(t, 3, store.ResumeStartPage("gdansk"))
}

func TestReplacePersists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "otodom")
	require.NoError(t, err)
	require.NoError(t, store.Replace(map[string]UnitState{
		"gdansk": {Done: true, LastPageDone: 9},
	}))

	reopened, err := NewStore(dir, "otodom")
	require.NoError(t, err)
	states, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, UnitState{Done: true, LastPageDone: 9}, states["gdansk"])
}
