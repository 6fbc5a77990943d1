package activecluster

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kduvra/filerepo/internal/filestore"
	"github.com/kduvra/filerepo/internal/wire"
)

// HealthMonitor runs the periodic heartbeat loop against every known
// peer, penalizing non-responders and evicting peers whose health
// score collapses (SPEC_FULL.md §10's supplemented health-score-decay
// feature). Grounded on the teacher's internal/cluster/membership.go
// "replace with gossip later" static membership plus the interval
// config fields spec.md §6 already names (interval.health.check.sec).
type HealthMonitor struct {
	node          *Node
	membership    *Membership
	transport     *Transport
	interval      time.Duration
	dialTimeout   time.Duration
	log           zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewHealthMonitor(node *Node, membership *Membership, transport *Transport, interval, dialTimeout time.Duration, log zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		node:        node,
		membership:  membership,
		transport:   transport,
		interval:    interval,
		dialTimeout: dialTimeout,
		log:         log,
		stopCh:      make(chan struct{}),
	}
}

func (h *HealthMonitor) Start() {
	h.wg.Add(1)
	go h.loop()
}

func (h *HealthMonitor) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

func (h *HealthMonitor) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HealthMonitor) tick() {
	for _, p := range h.membership.All() {
		reply, err := h.transport.Send(p.Address, wire.Message{
			Command:  wire.CmdHeartbeat,
			ClientID: h.node.selfID,
		}, h.dialTimeout)

		if err != nil || reply.Command != wire.CmdSuccess {
			if evict := h.membership.PenalizeMissedHeartbeat(p.ID); evict {
				h.log.Warn().Str("peer", p.ID).Msg("evicting unresponsive peer")
				h.membership.Remove(p.ID)
			}
			continue
		}
		h.membership.MarkHeartbeat(p.ID)
	}
}

// SyncFrom pulls the full file catalogue from an existing peer and
// copies down anything missing locally, used when this node joins a
// cluster that already has data. It is a best-effort, one-shot
// catch-up; ongoing consistency after that point is ReplicationEngine
// or the normal fan-out path's job, not this method's.
func SyncFrom(node *Node, transport *Transport, peerAddr string, timeout time.Duration) error {
	reply, err := transport.Send(peerAddr, wire.Message{Command: wire.CmdSyncRequest}, timeout)
	if err != nil {
		return err
	}
	if reply.Content == "" {
		return nil
	}

	names := strings.Split(reply.Content, ",")
	for _, name := range names {
		if name == "" || node.store.Exists(name) {
			continue
		}
		if err := fetchAndStore(node.store, transport, peerAddr, name, timeout); err != nil {
			continue
		}
	}
	return nil
}

func fetchAndStore(store *filestore.Store, transport *Transport, peerAddr, name string, timeout time.Duration) error {
	reply, err := transport.Send(peerAddr, wire.Message{Command: wire.CmdRead, Filename: name}, timeout)
	if err != nil {
		return err
	}
	if reply.Command != wire.CmdSuccess {
		return nil
	}
	return store.Write(name, []byte(reply.Content), filestore.Overwrite)
}
