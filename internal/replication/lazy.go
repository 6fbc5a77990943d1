package replication

import (
	"os"
	"path/filepath"
	"time"

	"github.com/kduvra/filerepo/internal/apperror"
)

// lazyLoop implements spec.md §4.2 mode 3: poll the master on a timer,
// tracking last-modified per file. A new file triggers full
// propagation; a modified file triggers invalidation (§4.2.1); a
// disappeared file triggers invalidation plus removal from replicas.
func (e *Engine) lazyLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.pollOnce()
		}
	}
}

func (e *Engine) pollOnce() {
	files, err := e.master.List()
	if err != nil {
		e.log.Warn().Err(err).Msg("lazy poll: list master failed")
		return
	}

	e.mu.Lock()
	seen := make(map[string]bool, len(files))
	e.mu.Unlock()

	for _, f := range files {
		seen[f.Name] = true

		md, err := e.master.Metadata(f.Name)
		if err != nil || md == nil {
			continue
		}

		e.mu.Lock()
		prevMs, known := e.lastSeenModMs[f.Name]
		e.lastSeenModMs[f.Name] = md.LastModifiedUnixMillis
		e.mu.Unlock()

		switch {
		case !known:
			e.propagateCopyToAll(f.Name)
		case md.LastModifiedUnixMillis != prevMs:
			if err := e.Invalidate(f.Name); err != nil {
				e.log.Warn().Err(err).Str("file", f.Name).Msg("invalidate on modify failed")
			}
		}
	}

	e.mu.Lock()
	var disappeared []string
	for name := range e.lastSeenModMs {
		if !seen[name] {
			disappeared = append(disappeared, name)
		}
	}
	for _, name := range disappeared {
		delete(e.lastSeenModMs, name)
	}
	e.mu.Unlock()

	for _, name := range disappeared {
		if err := e.Invalidate(name); err != nil {
			e.log.Warn().Err(err).Str("file", name).Msg("invalidate on disappear failed")
		}
		e.propagateDeleteToAll(name)
	}
}

// Invalidate implements spec.md §4.2.1's invalidate(name): sets the
// per-file invalid flag, then for each replica renames the current
// local copy to the _invalid marker name (or writes a placeholder
// marker if no local copy exists).
func (e *Engine) Invalidate(name string) error {
	e.mu.Lock()
	e.invalid[name] = true
	e.mu.Unlock()

	for _, dir := range e.replicaPaths() {
		if err := e.invalidateOnReplica(name, dir); err != nil {
			e.log.Warn().Err(err).Str("file", name).Str("replica", dir).Msg("invalidate on replica failed")
		}
	}
	return nil
}

func (e *Engine) invalidateOnReplica(name, replicaDir string) error {
	canonical := filepath.Join(replicaDir, name)
	marker := filepath.Join(replicaDir, appendInvalidSuffix(name))

	if _, err := os.Stat(canonical); err == nil {
		return os.Rename(canonical, marker)
	}
	return os.WriteFile(marker, nil, 0o644)
}

// AccessFile implements spec.md §4.2.1's accessFile(replica,
// requested): the replica-side read path that must be called before
// opening a file. It strips any _invalid suffix to recover the
// canonical name, and if the invalid flag is set or a marker exists,
// refreshes the replica from the master before returning its path.
func (e *Engine) AccessFile(replicaID, requested string) (string, error) {
	e.mu.Lock()
	replicaDir, ok := e.replicas[replicaID]
	e.mu.Unlock()
	if !ok {
		return "", apperror.New(apperror.InvalidArgument, "unknown replica")
	}

	canonical := stripInvalidSuffix(requested)
	marker := filepath.Join(replicaDir, appendInvalidSuffix(canonical))

	e.mu.Lock()
	invalidFlag := e.invalid[canonical]
	e.mu.Unlock()

	_, markerErr := os.Stat(marker)
	markerExists := markerErr == nil

	if !invalidFlag && !markerExists {
		return filepath.Join(replicaDir, canonical), nil
	}

	if !e.master.Exists(canonical) {
		// Master no longer has the file: leave the marker in place
		// and surface NotFound (spec.md §4.2.1).
		return "", apperror.New(apperror.NotFound, canonical)
	}

	if err := e.copyFileToReplica(canonical, replicaDir); err != nil {
		return "", apperror.Wrap(apperror.InvalidArgument, "refresh from master", err)
	}
	os.Remove(marker)

	e.mu.Lock()
	e.invalid[canonical] = false
	e.mu.Unlock()

	return filepath.Join(replicaDir, canonical), nil
}

// addReplicaLazy implements spec.md §4.2.1's addReplica(path): for
// every master file whose flag is not invalid, copy it and remove any
// pre-existing marker; for invalid files, write a fresh marker. Then
// prune replica files not present in the master (ignoring markers).
func (e *Engine) addReplicaLazy(path string) error {
	files, err := e.master.List()
	if err != nil {
		return err
	}

	masterNames := make(map[string]bool, len(files))
	for _, f := range files {
		masterNames[f.Name] = true

		e.mu.Lock()
		invalid := e.invalid[f.Name]
		e.mu.Unlock()

		marker := filepath.Join(path, appendInvalidSuffix(f.Name))
		if invalid {
			os.WriteFile(marker, nil, 0o644)
			continue
		}
		if err := e.copyFileToReplica(f.Name, path); err != nil {
			e.log.Warn().Err(err).Str("file", f.Name).Msg("addReplica copy failed")
			continue
		}
		os.Remove(marker)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		canonical := stripInvalidSuffix(ent.Name())
		if !masterNames[canonical] {
			os.Remove(filepath.Join(path, ent.Name()))
		}
	}
	return nil
}
