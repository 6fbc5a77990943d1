package replication

import (
	"os"
	"path/filepath"
	"time"
)

// continuousLoop implements spec.md §4.2 mode 2: every pollInterval,
// perform a full reconcile — copy every master file to every replica,
// and delete any replica file absent from the master. Invalidation
// markers are untouched by this mode (spec.md §4.2).
func (e *Engine) continuousLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.reconcileOnce()
		}
	}
}

func (e *Engine) reconcileOnce() {
	files, err := e.master.List()
	if err != nil {
		e.log.Warn().Err(err).Msg("reconcile: list master failed")
		return
	}
	masterNames := make(map[string]bool, len(files))
	for _, f := range files {
		masterNames[f.Name] = true
		e.propagateCopyToAll(f.Name)
	}

	for _, dir := range e.replicaPaths() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			e.log.Warn().Err(err).Str("replica", dir).Msg("reconcile: list replica failed")
			continue
		}
		for _, ent := range entries {
			if ent.IsDir() || masterNames[ent.Name()] || isInvalidMarker(ent.Name()) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, ent.Name())); err != nil {
				e.log.Warn().Err(err).Str("file", ent.Name()).Str("replica", dir).Msg("reconcile: prune failed")
			}
		}
	}
}
