package activecluster

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/wire"
)

// LockRecord is spec.md §3's LockRecord, carrying the epoch/fencing
// token a coordinator mints at ACQUIRE_LOCK time (REDESIGN FLAG,
// SPEC_FULL.md §3) so a late-arriving commit from a coordinator that
// has since lost the lock can be rejected by its stale epoch.
type LockRecord struct {
	Resource string
	Epoch    uint64
	HolderID string
}

// localLock is the lock state a peer keeps for a resource it has
// granted out, or holds itself.
type localLock struct {
	heldBy string
	epoch  uint64
}

// LockManager implements spec.md §4.3's Ricart-Agrawala-flavored
// distributed mutual exclusion: to acquire a lock on resource r, the
// coordinator asks every known peer for LOCK_GRANTED and proceeds once
// either all peers (unanimous policy) or a strict majority (majority
// policy) have replied yes. Grounded on the teacher's
// internal/cluster/node.go executeWriteQuorum, which fans a request
// out to every replica set member and counts successes against a
// configured quorum size; this type generalizes that counting to a
// boolean consensus decision over LOCK_GRANTED/LOCK_DENIED votes
// instead of write acks.
type LockManager struct {
	selfID           string
	membership       *Membership
	transport        *Transport
	requireUnanimity bool
	timeout          time.Duration
	log              zerolog.Logger

	epochCounter uint64

	mu    sync.Mutex
	local map[string]*localLock
}

func NewLockManager(selfID string, membership *Membership, transport *Transport, requireUnanimity bool, timeout time.Duration, log zerolog.Logger) *LockManager {
	return &LockManager{
		selfID:           selfID,
		membership:       membership,
		transport:        transport,
		requireUnanimity: requireUnanimity,
		timeout:          timeout,
		log:              log,
		local:            make(map[string]*localLock),
	}
}

// HandleLockRequest is called by the inbound server dispatch when a
// peer asks this node to grant resource. It grants when the resource is
// not held locally, or is already held by the same requester (the
// grant is then renewed with the new epoch); it refuses otherwise.
func (lm *LockManager) HandleLockRequest(resource, requesterID string, epoch uint64) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if existing, held := lm.local[resource]; held {
		if existing.heldBy != requesterID {
			return false
		}
	}
	lm.local[resource] = &localLock{heldBy: requesterID, epoch: epoch}
	return true
}

// HandleLockReleased clears a previously granted local lock.
func (lm *LockManager) HandleLockReleased(resource, requesterID string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if existing, ok := lm.local[resource]; ok && existing.heldBy == requesterID {
		delete(lm.local, resource)
	}
}

// Acquire mints a fresh epoch and attempts to acquire resource across
// every known peer, applying the configured quorum policy. On success
// it returns the minted epoch and the descriptors of the peers that granted
// (so Release only needs to notify those). On failure it releases any
// partial grants before returning ConsensusFailure.
func (lm *LockManager) Acquire(resource string) (epoch uint64, granted []PeerDescriptor, err error) {
	epoch = atomic.AddUint64(&lm.epochCounter, 1)

	lm.mu.Lock()
	lm.local[resource] = &localLock{heldBy: lm.selfID, epoch: epoch}
	lm.mu.Unlock()

	peers := lm.membership.All()
	total := len(peers) + 1 // including self
	need := total/2 + 1
	if lm.requireUnanimity {
		need = total
	}

	grantedSelf := 1 // self always grants its own request
	var mu sync.Mutex
	var wg sync.WaitGroup
	grants := make([]PeerDescriptor, 0, len(peers))

	for _, p := range peers {
		wg.Add(1)
		go func(peer PeerDescriptor) {
			defer wg.Done()
			ok := lm.requestLockFromPeer(peer, resource, epoch)
			if ok {
				mu.Lock()
				grants = append(grants, peer)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if grantedSelf+len(grants) >= need {
		return epoch, grants, nil
	}

	// Quorum not reached: release whatever we did get and fail.
	for _, p := range grants {
		lm.transport.SendFireAndForget(p.Address, wire.Message{
			Command:  wire.CmdLockReleased,
			Filename: resource,
			ClientID: lm.selfID,
		})
	}
	lm.mu.Lock()
	delete(lm.local, resource)
	lm.mu.Unlock()

	return 0, nil, apperror.New(apperror.ConsensusFailure, "lock quorum not reached for "+resource)
}

func (lm *LockManager) requestLockFromPeer(peer PeerDescriptor, resource string, epoch uint64) bool {
	reply, err := lm.transport.Send(peer.Address, wire.Message{
		Command:   wire.CmdLockRequest,
		Filename:  resource,
		Timestamp: strconv.FormatUint(epoch, 10),
		ClientID:  lm.selfID,
	}, lm.timeout)
	if err != nil {
		lm.log.Warn().Err(err).Str("peer", peer.ID).Str("resource", resource).Msg("lock request failed")
		return false
	}
	return reply.Command == wire.CmdLockGranted
}

// Release notifies every peer that previously granted resource that
// this node is done with it, then clears the local record.
func (lm *LockManager) Release(resource string, granted []PeerDescriptor) {
	for _, p := range granted {
		lm.transport.SendFireAndForget(p.Address, wire.Message{
			Command:  wire.CmdLockReleased,
			Filename: resource,
			ClientID: lm.selfID,
		})
	}
	lm.mu.Lock()
	delete(lm.local, resource)
	lm.mu.Unlock()
}

// CurrentEpoch reports the epoch recorded for a resource this node
// currently holds or has granted, used to fence stale commits.
func (lm *LockManager) CurrentEpoch(resource string) (uint64, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.local[resource]
	if !ok {
		return 0, false
	}
	return l.epoch, true
}
