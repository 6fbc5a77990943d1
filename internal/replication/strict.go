package replication

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/kduvra/filerepo/internal/apperror"
)

// startStrict registers for filesystem change notifications on the
// master directory (spec.md §4.2 mode 1) using fsnotify — the same
// library the wider retrieval corpus's storage services (aistore,
// thanos, dittofs) reach for whenever a component needs to react to
// on-disk changes instead of polling for them.
//
// On each event: CREATE/MODIFY propagates a copy to every replica;
// DELETE removes the file (and any invalidation marker) from every
// replica.
func (e *Engine) startStrict() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperror.Wrap(apperror.InvalidArgument, "create filesystem watcher", err)
	}
	if err := watcher.Add(e.master.Dir()); err != nil {
		watcher.Close()
		return apperror.Wrap(apperror.InvalidArgument, "watch master directory", err)
	}

	e.wg.Add(1)
	go e.strictLoop(watcher)
	return nil
}

func (e *Engine) strictLoop(watcher *fsnotify.Watcher) {
	defer e.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-e.stopCh:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			e.handleStrictEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.log.Warn().Err(err).Msg("filesystem watcher error")
		}
	}
}

func (e *Engine) handleStrictEvent(ev fsnotify.Event) {
	name := baseName(ev.Name)
	if name == "" {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if _, err := os.Stat(ev.Name); err != nil {
			// File vanished between the event firing and our stat —
			// treat it as a delete instead of propagating garbage.
			e.propagateDeleteToAll(name)
			return
		}
		e.propagateCopyToAll(name)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		e.propagateDeleteToAll(name)
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
