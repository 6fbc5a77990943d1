package replication

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/filestore"
)

func newMaster(t *testing.T) *filestore.Store {
	t.Helper()
	s, err := filestore.New(t.TempDir(), false)
	require.NoError(t, err)
	return s
}

// S1: Strict replication — create then delete propagate within one cycle.
func TestStrictReplicationScenario(t *testing.T) {
	master := newMaster(t)
	eng := New(Strict, master, 0, zerolog.Nop())
	require.NoError(t, eng.AddReplica("r1", t.TempDir()))
	require.NoError(t, eng.Start())
	defer eng.Stop()

	require.NoError(t, master.Write("a.txt", []byte("HELLO"), filestore.Overwrite))

	replicaDir := eng.replicas["r1"]
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(replicaDir, "a.txt"))
		return err == nil && string(data) == "HELLO"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, master.Delete("a.txt"))
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(replicaDir, "a.txt"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestContinuousReconcilePropagatesAndPrunes(t *testing.T) {
	master := newMaster(t)
	eng := New(Continuous, master, 20*time.Millisecond, zerolog.Nop())
	replicaDir := t.TempDir()
	require.NoError(t, eng.AddReplica("r1", replicaDir))

	require.NoError(t, master.Write("a.txt", []byte("V1"), filestore.Overwrite))
	require.NoError(t, eng.Start())
	defer eng.Stop()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(replicaDir, "a.txt"))
		return err == nil && string(data) == "V1"
	}, 2*time.Second, 10*time.Millisecond)

	// A file present only on the replica must be pruned.
	require.NoError(t, os.WriteFile(filepath.Join(replicaDir, "orphan.txt"), []byte("x"), 0o644))
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(replicaDir, "orphan.txt"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

// S2: Lazy invalidation round-trip.
func TestLazyInvalidationRoundTrip(t *testing.T) {
	master := newMaster(t)
	require.NoError(t, master.Write("b.txt", []byte("ONE"), filestore.Overwrite))

	eng := New(Lazy, master, time.Hour, zerolog.Nop()) // long interval: drive manually
	replicaDir := t.TempDir()
	require.NoError(t, eng.AddReplica("r1", replicaDir))

	// Replica should have the initial copy.
	data, err := os.ReadFile(filepath.Join(replicaDir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ONE", string(data))

	// seed lastSeenModMs so the next poll treats this as a modification.
	eng.pollOnce()

	time.Sleep(5 * time.Millisecond) // ensure a distinct mtime
	require.NoError(t, master.Write("b.txt", []byte("TWO"), filestore.Overwrite))
	eng.pollOnce()

	marker := filepath.Join(replicaDir, "b_invalid.txt")
	_, err = os.Stat(marker)
	require.NoError(t, err, "expected invalidation marker after master modify")

	path, err := eng.AccessFile("r1", "b.txt")
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "TWO", string(data))

	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "marker should be removed after AccessFile")

	entries, err := os.ReadDir(replicaDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAccessFileNotFoundWhenMasterMissing(t *testing.T) {
	master := newMaster(t)
	require.NoError(t, master.Write("c.txt", []byte("X"), filestore.Overwrite))

	eng := New(Lazy, master, time.Hour, zerolog.Nop())
	replicaDir := t.TempDir()
	require.NoError(t, eng.AddReplica("r1", replicaDir))

	// seed lastSeenModMs so the next poll notices the file disappearing.
	eng.pollOnce()

	require.NoError(t, master.Delete("c.txt"))
	eng.pollOnce()

	_, err := eng.AccessFile("r1", "c.txt")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.NotFound))
}
