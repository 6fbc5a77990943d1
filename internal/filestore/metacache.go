package filestore

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/kduvra/filerepo/internal/apperror"
)

// MetadataCache wraps a Store with an in-memory metadata index backed
// by a write-ahead log, so a restart does not have to re-hash every
// file to answer Metadata/AllMetadata. This is the WAL the
// "Ambient-stack note on non-goals" in SPEC_FULL.md §1 describes: it
// journals name→metadata events, not file content, so the non-goal of
// "no on-disk transaction recovery" still holds for the files
// themselves — only the checksum cache gets crash-recovery.
//
// Grounded on the teacher's internal/store/wal.go: an append-only
// NDJSON file, fsync'd per append, replayed front-to-back on open, and
// truncatable once a snapshot makes the log redundant.
type MetadataCache struct {
	store *Store
	wal   *metaWAL

	mu    sync.Mutex
	cache map[string]Metadata
}

const (
	metaOpWrite  = "WRITE"
	metaOpDelete = "DELETE"
)

type metaWALEntry struct {
	Op   string   `json:"op"`
	Name string   `json:"name"`
	Meta Metadata `json:"meta,omitempty"`
}

// NewMetadataCache opens (or creates) the WAL at walPath, replays it to
// rebuild the in-memory index, and returns a cache fronting store.
func NewMetadataCache(store *Store, walPath string) (*MetadataCache, error) {
	wal, err := newMetaWAL(walPath)
	if err != nil {
		return nil, apperror.Wrap(apperror.InvalidArgument, "open metadata wal", err)
	}

	entries, err := wal.readAll()
	if err != nil {
		return nil, apperror.Wrap(apperror.InvalidArgument, "replay metadata wal", err)
	}

	cache := make(map[string]Metadata, len(entries))
	for _, e := range entries {
		switch e.Op {
		case metaOpDelete:
			delete(cache, e.Name)
		case metaOpWrite:
			cache[e.Name] = e.Meta
		}
	}

	return &MetadataCache{store: store, wal: wal, cache: cache}, nil
}

// Write delegates to the underlying Store, then journals the file's
// fresh metadata so a restart doesn't need to re-hash it.
func (c *MetadataCache) Write(name string, data []byte, mode WriteMode) error {
	if err := c.store.Write(name, data, mode); err != nil {
		return err
	}
	md, err := c.store.Metadata(name)
	if err != nil || md == nil {
		return err
	}

	c.mu.Lock()
	c.cache[name] = *md
	c.mu.Unlock()

	return c.wal.append(metaWALEntry{Op: metaOpWrite, Name: name, Meta: *md})
}

// Delete removes name from the store and journals the removal.
func (c *MetadataCache) Delete(name string) error {
	if err := c.store.Delete(name); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()

	return c.wal.append(metaWALEntry{Op: metaOpDelete, Name: name})
}

// Metadata answers from the in-memory index when present, falling back
// to a fresh on-disk stat+checksum for anything the WAL hasn't seen yet
// (e.g. a file dropped into the directory outside this cache).
func (c *MetadataCache) Metadata(name string) (*Metadata, error) {
	c.mu.Lock()
	md, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		return &md, nil
	}
	return c.store.Metadata(name)
}

// AllMetadata answers from the in-memory index directly — the whole
// point of the cache is to avoid re-hashing every file on disk just to
// list their metadata.
func (c *MetadataCache) AllMetadata() map[string]Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Metadata, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// Read and List pass straight through to the underlying Store: file
// content and directory listing are never journaled in the WAL, only
// the metadata derived from them.
func (c *MetadataCache) Read(name string) ([]byte, error) { return c.store.Read(name) }
func (c *MetadataCache) List() ([]FileInfo, error)        { return c.store.List() }

// Compact rewrites the WAL from the current in-memory index, discarding
// history that's no longer needed to reconstruct it — the snapshot
// step the teacher's WAL.truncate supports after an equivalent
// snapshot write.
func (c *MetadataCache) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.wal.truncate(); err != nil {
		return err
	}
	for name, md := range c.cache {
		if err := c.wal.append(metaWALEntry{Op: metaOpWrite, Name: name, Meta: md}); err != nil {
			return err
		}
	}
	return nil
}

func (c *MetadataCache) Close() error {
	return c.wal.close()
}

// metaWAL is an append-only NDJSON log of metadata mutation events.
type metaWAL struct {
	mu   sync.Mutex
	file *os.File
}

func newMetaWAL(path string) (*metaWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &metaWAL{file: f}, nil
}

func (w *metaWAL) append(entry metaWALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *metaWAL) readAll() ([]metaWALEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var entries []metaWALEntry
	scanner := bufio.NewScanner(w.file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e metaWALEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // corrupt entry: skip rather than fail the whole replay
		}
		entries = append(entries, e)
	}

	if _, err := w.file.Seek(0, 2); err != nil {
		return nil, err
	}
	return entries, scanner.Err()
}

func (w *metaWAL) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, 0)
	return err
}

func (w *metaWAL) close() error {
	return w.file.Close()
}
