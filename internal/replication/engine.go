// Package replication implements the master/replica ReplicationEngine
// (spec.md §4.2) under three consistency disciplines. The engine owns
// no sockets — per spec.md §4.2's Topology, master and replicas are
// local directories and the engine rewrites replica directories
// directly.
//
// Grounded on the teacher's internal/cluster/replicator.go
// read-repair/reconcile shape (comparing versions and repairing the
// loser), generalized here from "value vs. value" reconciliation to
// "master file vs. replica file" propagation, since there is exactly
// one master of record rather than a peer-symmetric write path (that
// symmetry lives in internal/activecluster instead).
package replication

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/filestore"
)

// Mode selects one of the three consistency disciplines of spec.md
// §4.2. Exactly one is active per Engine instance.
type Mode int

const (
	Strict Mode = iota
	Continuous
	Lazy
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Continuous:
		return "continuous"
	case Lazy:
		return "lazy"
	default:
		return "unknown"
	}
}

// Engine propagates a master FileStore's content to a dynamic set of
// replica directories under one active Mode.
type Engine struct {
	mode   Mode
	master *filestore.Store
	log    zerolog.Logger

	pollInterval time.Duration // continuous reconcile period / lazy poll period

	mu       sync.Mutex
	replicas map[string]string // replica id -> directory path
	invalid  map[string]bool   // InvalidationRecord: file name -> invalid

	lastSeenModMs map[string]int64 // lazy mode: last observed master mtime per file

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an Engine observing the master store under mode. pollInterval
// is used by Continuous (reconcile period) and Lazy (poll period); it
// is ignored by Strict, which instead reacts to filesystem events.
func New(mode Mode, master *filestore.Store, pollInterval time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		mode:          mode,
		master:        master,
		log:           log.With().Str("component", "replication").Str("mode", mode.String()).Logger(),
		pollInterval:  pollInterval,
		replicas:      make(map[string]string),
		invalid:       make(map[string]bool),
		lastSeenModMs: make(map[string]int64),
		stopCh:        make(chan struct{}),
	}
}

// AddReplica registers a new replica directory, creating it if
// missing, and performs the mode-appropriate initial sync: for lazy
// mode this is the exact §4.2.1 "addReplica" protocol (copy valid
// files, mark invalid ones); for strict/continuous it is a plain full
// copy of current master content, since those modes have no
// per-file validity state to preserve.
func (e *Engine) AddReplica(id, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return apperror.Wrap(apperror.InvalidArgument, "create replica directory", err)
	}

	e.mu.Lock()
	e.replicas[id] = path
	e.mu.Unlock()

	if e.mode == Lazy {
		return e.addReplicaLazy(path)
	}
	return e.fullCopyToReplica(path)
}

// RemoveReplica stops the engine from propagating to id. It does not
// delete the replica's on-disk content.
func (e *Engine) RemoveReplica(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.replicas, id)
}

// replicaPaths returns a snapshot of current replica directories.
func (e *Engine) replicaPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.replicas))
	for _, p := range e.replicas {
		out = append(out, p)
	}
	return out
}

// Start begins the mode's background propagation loop. Strict mode
// watches the master directory for filesystem events; Continuous and
// Lazy poll on pollInterval. Start returns once the watcher/loop is
// running or an error prevents it from starting.
func (e *Engine) Start() error {
	switch e.mode {
	case Strict:
		return e.startStrict()
	case Continuous:
		e.wg.Add(1)
		go e.continuousLoop()
		return nil
	case Lazy:
		e.wg.Add(1)
		go e.lazyLoop()
		return nil
	default:
		return apperror.New(apperror.InvalidArgument, "unknown replication mode")
	}
}

// Stop cancels the background loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// fullCopyToReplica copies every master file into path, overwriting,
// and preserves the master's modification timestamp on the replica
// copy (spec.md §4.2, strict mode CREATE/MODIFY semantics, reused here
// for any mode's "copy everything" path).
func (e *Engine) fullCopyToReplica(path string) error {
	files, err := e.master.List()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := e.copyFileToReplica(f.Name, path); err != nil {
			e.log.Warn().Err(err).Str("file", f.Name).Str("replica", path).Msg("initial copy failed, isolating")
		}
	}
	return nil
}

// copyFileToReplica copies one master file into replicaDir, preserving
// the master's mtime on the copy. Per-replica failures are logged and
// isolated (spec.md §4.2 Failure model) — the caller never aborts a
// fan-out over one replica's error.
func (e *Engine) copyFileToReplica(name, replicaDir string) error {
	masterPath := filepath.Join(e.master.Dir(), name)
	info, err := os.Stat(masterPath)
	if err != nil {
		return err
	}

	src, err := os.Open(masterPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := filepath.Join(replicaDir, name)
	tmp := dstPath + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	dst.Close()

	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Chtimes(dstPath, info.ModTime(), info.ModTime())
}

// deleteFileFromReplica removes name (and any invalidation marker for
// it) from replicaDir. A missing file is not an error — the replica
// may already be in the desired state.
func (e *Engine) deleteFileFromReplica(name, replicaDir string) error {
	if err := os.Remove(filepath.Join(replicaDir, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	marker := filepath.Join(replicaDir, appendInvalidSuffix(name))
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// propagateCopyToAll fans a single file copy out to every replica,
// isolating per-replica failures (spec.md §4.2 Failure model: "one
// replica failure does not block propagation to others").
func (e *Engine) propagateCopyToAll(name string) {
	for _, dir := range e.replicaPaths() {
		if err := e.copyFileToReplica(name, dir); err != nil {
			e.log.Warn().Err(err).Str("file", name).Str("replica", dir).Msg("propagate copy failed")
		}
	}
}

// propagateDeleteToAll fans a single file delete out to every replica.
func (e *Engine) propagateDeleteToAll(name string) {
	for _, dir := range e.replicaPaths() {
		if err := e.deleteFileFromReplica(name, dir); err != nil {
			e.log.Warn().Err(err).Str("file", name).Str("replica", dir).Msg("propagate delete failed")
		}
	}
}
