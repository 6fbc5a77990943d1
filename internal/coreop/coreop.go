// Package coreop defines the pure operation interface spec.md §9
// calls for in place of "mutation-bearing UI callbacks embedded in the
// model": the storage and replication layers are invoked through this
// interface, and any external driver — a CLI, an HTTP handler, a test
// harness — is just another caller of it, never a privileged one.
package coreop

import "github.com/kduvra/filerepo/internal/filestore"

// Repository is the operation surface every external driver (CLI,
// HTTP API, test harness) uses to reach a file repository, whether
// that repository is a bare FileStore, a ReplicationEngine-fronted
// master, or an ActiveCluster node acting as coordinator.
type Repository interface {
	Write(name string, data []byte, mode filestore.WriteMode) error
	Read(name string) ([]byte, error)
	Delete(name string) error
	List() ([]filestore.FileInfo, error)
	Metadata(name string) (*filestore.Metadata, error)
}

// storeOnly adapts a bare *filestore.Store to Repository, used when no
// replication or clustering layer sits in front of it.
type storeOnly struct {
	store *filestore.Store
}

// NewStoreRepository wraps store so it satisfies Repository directly.
func NewStoreRepository(store *filestore.Store) Repository {
	return &storeOnly{store: store}
}

func (s *storeOnly) Write(name string, data []byte, mode filestore.WriteMode) error {
	return s.store.Write(name, data, mode)
}

func (s *storeOnly) Read(name string) ([]byte, error) { return s.store.Read(name) }
func (s *storeOnly) Delete(name string) error          { return s.store.Delete(name) }
func (s *storeOnly) List() ([]filestore.FileInfo, error) { return s.store.List() }

func (s *storeOnly) Metadata(name string) (*filestore.Metadata, error) {
	return s.store.Metadata(name)
}

// metaCached adapts a *filestore.MetadataCache to Repository, routing
// Metadata through the cache's in-memory index (backed by its WAL)
// instead of re-hashing the file from disk on every call.
type metaCached struct {
	cache *filestore.MetadataCache
}

// NewMetadataCacheRepository wraps cache so it satisfies Repository,
// used in place of NewStoreRepository whenever a node wants
// Metadata answered from the WAL-backed index rather than a fresh
// stat+checksum per call (Repository has no AllMetadata; List and Read
// pass through to the store).
func NewMetadataCacheRepository(cache *filestore.MetadataCache) Repository {
	return &metaCached{cache: cache}
}

func (m *metaCached) Write(name string, data []byte, mode filestore.WriteMode) error {
	return m.cache.Write(name, data, mode)
}

func (m *metaCached) Read(name string) ([]byte, error)   { return m.cache.Read(name) }
func (m *metaCached) Delete(name string) error            { return m.cache.Delete(name) }
func (m *metaCached) List() ([]filestore.FileInfo, error) { return m.cache.List() }

func (m *metaCached) Metadata(name string) (*filestore.Metadata, error) {
	return m.cache.Metadata(name)
}
