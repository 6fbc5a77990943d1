package activecluster

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/filestore"
	"github.com/kduvra/filerepo/internal/wire"
)

// Node is one member of an ActiveCluster: every node is symmetric and
// may act as coordinator for any write it receives, per spec.md §4.3.
// Grounded on the teacher's internal/cluster/node.go Node type, with
// executeWriteQuorum's "fan out, count acks against a quorum size"
// shape generalized into the five-stage commit state machine spec.md
// §4.3 names explicitly: ACQUIRE_LOCK, LOCAL_APPLY, FAN_OUT,
// RELEASE_LOCK, REPLY_OK.
type Node struct {
	selfID string

	store      *filestore.Store
	membership *Membership
	locks      *LockManager
	transport  *Transport

	fanoutTimeout time.Duration
	log           zerolog.Logger

	mu            sync.Mutex
	remoteEpochs  map[string]uint64 // highest commit epoch accepted per resource, for fencing
}

func NewNode(selfID string, store *filestore.Store, membership *Membership, locks *LockManager, transport *Transport, fanoutTimeout time.Duration, log zerolog.Logger) *Node {
	return &Node{
		selfID:        selfID,
		store:         store,
		membership:    membership,
		locks:         locks,
		transport:     transport,
		fanoutTimeout: fanoutTimeout,
		log:           log,
		remoteEpochs:  make(map[string]uint64),
	}
}

// Write runs the full coordinator state machine for a write to name:
// acquire the distributed lock, apply locally, fan out to peers, then
// release the lock regardless of fan-out outcome. It fails the whole
// operation only if the lock could not be acquired, local apply
// failed, or the fan-out success policy (spec.md §4.3) was not met.
func (n *Node) Write(name string, data []byte, mode filestore.WriteMode) error {
	epoch, granted, err := n.locks.Acquire(name)
	if err != nil {
		return err
	}
	defer n.locks.Release(name, granted)

	if err := n.store.Write(name, data, mode); err != nil {
		return err
	}

	return n.fanOut(name, data, epoch)
}

// Delete mirrors Write's state machine for file removal, using the
// DELETE sentinel content payload on the wire so peers distinguish a
// delete commit from an overwrite commit (spec.md §4.3).
func (n *Node) Delete(name string) error {
	epoch, granted, err := n.locks.Acquire(name)
	if err != nil {
		return err
	}
	defer n.locks.Release(name, granted)

	if err := n.store.Delete(name); err != nil {
		return err
	}

	return n.fanOut(name, wire.DeleteSentinel, epoch)
}

// fanOut pushes the committed content to every known peer and applies
// spec.md §4.3's success policy: zero peers always succeeds, exactly
// one peer must commit, two or more peers need at least one commit.
func (n *Node) fanOut(name, content string, epoch uint64) error {
	peers := n.membership.All()
	if len(peers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	results := make([]bool, len(peers))
	for i, p := range peers {
		wg.Add(1)
		go func(idx int, peer PeerDescriptor) {
			defer wg.Done()
			results[idx] = n.commitToPeer(peer, name, content, epoch)
		}(i, p)
	}
	wg.Wait()

	committed := 0
	for _, ok := range results {
		if ok {
			committed++
		}
	}

	if len(peers) == 1 {
		if committed < 1 {
			return apperror.New(apperror.ReplicationPartial, "sole peer failed to commit "+name)
		}
		return nil
	}
	if committed < 1 {
		return apperror.New(apperror.ReplicationPartial, "no peer committed "+name)
	}
	return nil
}

func (n *Node) commitToPeer(peer PeerDescriptor, name, content string, epoch uint64) bool {
	reply, err := n.transport.Send(peer.Address, wire.Message{
		Command:   wire.CmdOperationCommit,
		Filename:  name,
		Content:   content,
		Timestamp: strconv.FormatUint(epoch, 10),
		ClientID:  n.selfID,
	}, n.fanoutTimeout)
	if err != nil {
		n.log.Warn().Err(err).Str("peer", peer.ID).Str("file", name).Msg("commit fan-out failed")
		return false
	}
	return reply.Command == wire.CmdOperationCommitted
}

// applyRemoteCommit is invoked by Server when a peer coordinator pushes
// a committed write or delete. Commits carrying an epoch older than
// the last accepted epoch for this resource are rejected outright —
// the fencing behavior SPEC_FULL.md §3 adds to guard against a
// coordinator that lost the lock (e.g. to a network partition) still
// believing it holds it.
func (n *Node) applyRemoteCommit(name, content string, epoch uint64) error {
	n.mu.Lock()
	if last, ok := n.remoteEpochs[name]; ok && epoch < last {
		n.mu.Unlock()
		return apperror.New(apperror.ConsensusFailure, "stale epoch rejected for "+name)
	}
	n.remoteEpochs[name] = epoch
	n.mu.Unlock()

	if content == wire.DeleteSentinel {
		err := n.store.Delete(name)
		if err != nil && apperror.Is(err, apperror.NotFound) {
			return nil // already absent locally: idempotent delete
		}
		return err
	}
	return n.store.Write(name, []byte(content), filestore.Overwrite)
}

// Read serves a local read; ActiveCluster reads are always served from
// whichever node receives them (spec.md §4.3 does not require a
// quorum read, only a quorum write).
func (n *Node) Read(name string) ([]byte, error) {
	return n.store.Read(name)
}

// List serves a local directory listing.
func (n *Node) List() ([]filestore.FileInfo, error) {
	return n.store.List()
}

// Metadata serves local file metadata, completing coreop.Repository.
func (n *Node) Metadata(name string) (*filestore.Metadata, error) {
	return n.store.Metadata(name)
}

// Peers reports this node's known membership, for the CLI's
// "cluster nodes" surface.
func (n *Node) Peers() []PeerDescriptor {
	return n.membership.All()
}

// Join adds or refreshes a peer in this node's membership, for the
// CLI's "cluster join" surface (ActiveCluster's own protocol never
// needs this — membership is seeded from config and maintained by
// HealthMonitor — but an operator may still want to add a peer without
// a restart).
func (n *Node) Join(id, addr string) {
	n.membership.Add(id, addr)
}

// Leave drops a peer from this node's membership.
func (n *Node) Leave(id string) {
	n.membership.Remove(id)
}

// LockStatus reports the epoch this node has recorded for resource and
// whether it is currently held; the holder's identity is not returned.
func (n *Node) LockStatus(resource string) (epoch uint64, held bool) {
	return n.locks.CurrentEpoch(resource)
}

// handleSyncRequest answers a newly joined peer's initial-sync request
// with a single SYNC_STATE_RESPONSE carrying the comma-joined names of
// every file this node currently holds (one reply, to fit the
// request/single-reply Server.dispatch contract). File contents are not
// sent here; the joining peer (SyncFrom) fetches each missing file with
// its own READ.
func (n *Node) handleSyncRequest(msg wire.Message) (*wire.Message, bool) {
	files, err := n.store.List()
	if err != nil {
		return &wire.Message{Command: wire.CmdError, Content: err.Error()}, true
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return &wire.Message{Command: wire.CmdSyncStateResponse, Content: joinNames(names)}, true
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}
