// Package topology implements the Topology Store (C1 of spec.md §4.1):
// the single source of truth for switches, links, and hosts, mutated
// exclusively by the event dispatcher (C7) and read everywhere else
// through an immutable Snapshot.
//
// It generalizes the teacher's Topology (pkg/network/topology in the
// retrieval pack): a mutex-guarded set of maps producing a ChangeSet tag
// on every mutation, the same shape as the teacher's AddNode/RemoveNode
// but carrying the extra bookkeeping spec.md §3/§5 requires (link
// coalescing, routability, and a monotonic epoch).
package topology

import (
	"sync"
	"sync/atomic"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
)

// ChangeKind enumerates the downstream recomputation a mutation requires.
type ChangeKind int

const (
	// ChangeNone means the mutation was a no-op (idempotent replay).
	ChangeNone ChangeKind = iota
	// ChangeTopology means switches/links changed: C2 must recompute the
	// whole RouteTable and C3 must sweep every host.
	ChangeTopology
	// ChangeHost means only one host's attachment/routability changed:
	// C3 recomputes that host alone.
	ChangeHost
)

// ChangeSet is returned by every Topology mutator.
type ChangeSet struct {
	Kind ChangeKind
	Host string // Host.DeviceKey, set iff Kind == ChangeHost
}

type linkKey struct {
	A, B ofcore.SwitchId
}

// Topology is the mutable store; Snapshot returns a read-only copy for
// C2/C3 to consume.
type Topology struct {
	mu    sync.Mutex
	epoch atomic.Uint64

	switches map[ofcore.SwitchId]*ofcore.Switch
	links    map[linkKey]ofcore.Link
	hosts    map[string]*ofcore.Host
}

// New returns an empty Topology.
func New() *Topology {
	return &Topology{
		switches: make(map[ofcore.SwitchId]*ofcore.Switch),
		links:    make(map[linkKey]ofcore.Link),
		hosts:    make(map[string]*ofcore.Host),
	}
}

// Epoch returns the current mutation epoch. Bumped on every mutating
// call, including idempotent no-ops that pass through apply, so that C3's
// stale-write rejection (spec.md §5) has a monotone counter to compare
// against even when no ChangeSet work was produced.
func (t *Topology) Epoch() uint64 {
	return t.epoch.Load()
}

// ApplySwitch handles switch-added (up=true) / switch-removed (up=false).
// Removing a switch also drops its incident links, since a half-link
// whose far end no longer exists cannot appear in any shortest path.
func (t *Topology) ApplySwitch(id ofcore.SwitchId, up bool) ChangeSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.epoch.Add(1)

	if up {
		if sw, ok := t.switches[id]; ok && sw.Connected {
			return ChangeSet{Kind: ChangeNone}
		}
		t.switches[id] = &ofcore.Switch{ID: id, Connected: true}
		return ChangeSet{Kind: ChangeTopology}
	}

	if _, ok := t.switches[id]; !ok {
		return ChangeSet{Kind: ChangeNone}
	}
	delete(t.switches, id)
	for k := range t.links {
		if k.A == id || k.B == id {
			delete(t.links, k)
		}
	}
	return ChangeSet{Kind: ChangeTopology}
}

// ApplyLink handles link up/down. Receiving the same (a,ap,b,bp) twice
// while up is idempotent (spec.md §4.1); a link-down removes both
// half-links. Multiple links observed between the same switch pair are
// coalesced to the most recently observed (uniqueness invariant of
// spec.md §3).
func (t *Topology) ApplyLink(a ofcore.SwitchId, aPort ofcore.PortNo, b ofcore.SwitchId, bPort ofcore.PortNo, up bool) ChangeSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.epoch.Add(1)

	kAB := linkKey{A: a, B: b}
	kBA := linkKey{A: b, B: a}

	if !up {
		_, hadAB := t.links[kAB]
		_, hadBA := t.links[kBA]
		delete(t.links, kAB)
		delete(t.links, kBA)
		if !hadAB && !hadBA {
			return ChangeSet{Kind: ChangeNone}
		}
		return ChangeSet{Kind: ChangeTopology}
	}

	newAB := ofcore.Link{A: a, APort: aPort, B: b, BPort: bPort}
	newBA := ofcore.Link{A: b, APort: bPort, B: a, BPort: aPort}

	existingAB, okAB := t.links[kAB]
	existingBA, okBA := t.links[kBA]
	if okAB && okBA && existingAB == newAB && existingBA == newBA {
		return ChangeSet{Kind: ChangeNone}
	}

	t.links[kAB] = newAB
	t.links[kBA] = newBA
	return ChangeSet{Kind: ChangeTopology}
}

// ApplyHost handles device-add/remove/attachment-change/IP-change. A host
// with ipv4 == nil is stored but marked unroutable; it may later gain an
// IP via another ApplyHost call (the deviceIPV4AddrChanged path).
func (t *Topology) ApplyHost(deviceKey string, mac ofcore.MAC, ipv4 *ofcore.IPv4Addr, attached *ofcore.Attachment, present bool) ChangeSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.epoch.Add(1)

	prev, existed := t.hosts[deviceKey]

	if !present {
		if !existed {
			return ChangeSet{Kind: ChangeNone}
		}
		delete(t.hosts, deviceKey)
		return ChangeSet{Kind: ChangeHost, Host: deviceKey}
	}

	next := &ofcore.Host{DeviceKey: deviceKey, MAC: mac, IPv4: ipv4, Attached: attached}
	if existed && hostsEqual(prev, next) {
		return ChangeSet{Kind: ChangeNone}
	}
	t.hosts[deviceKey] = next
	return ChangeSet{Kind: ChangeHost, Host: deviceKey}
}

func hostsEqual(a, b *ofcore.Host) bool {
	if a.MAC != b.MAC {
		return false
	}
	if (a.IPv4 == nil) != (b.IPv4 == nil) {
		return false
	}
	if a.IPv4 != nil && *a.IPv4 != *b.IPv4 {
		return false
	}
	if (a.Attached == nil) != (b.Attached == nil) {
		return false
	}
	if a.Attached != nil && *a.Attached != *b.Attached {
		return false
	}
	return true
}

// Neighbor is one adjacency edge for the shortest-path engine.
type Neighbor struct {
	Switch ofcore.SwitchId
	Port   ofcore.PortNo
}

// Snapshot is a copy of the topology at one epoch, not shared with the
// live store. All reads (C2, C3) go through a snapshot rather than the
// live Topology so that a recomputation sees a single consistent picture.
type Snapshot struct {
	Epoch    uint64
	switches map[ofcore.SwitchId]ofcore.Switch
	links    map[linkKey]ofcore.Link
	Hosts    map[string]ofcore.Host
}

// Snapshot copies the current maps under lock. The copy is shallow over
// value types, so it is cheap and safe to retain across a full C2/C3 pass
// without holding the Topology's lock.
func (t *Topology) Snapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Snapshot{
		Epoch:    t.epoch.Load(),
		switches: make(map[ofcore.SwitchId]ofcore.Switch, len(t.switches)),
		links:    make(map[linkKey]ofcore.Link, len(t.links)),
		Hosts:    make(map[string]ofcore.Host, len(t.hosts)),
	}
	for id, sw := range t.switches {
		s.switches[id] = *sw
	}
	for k, l := range t.links {
		s.links[k] = l
	}
	for k, h := range t.hosts {
		s.Hosts[k] = *h
	}
	return s
}

// Switches returns the switch ids present in the snapshot.
func (s *Snapshot) Switches() []ofcore.SwitchId {
	out := make([]ofcore.SwitchId, 0, len(s.switches))
	for id := range s.switches {
		out = append(out, id)
	}
	return out
}

// HasSwitch reports whether id is present in the snapshot.
func (s *Snapshot) HasSwitch(id ofcore.SwitchId) bool {
	_, ok := s.switches[id]
	return ok
}

// Neighbors returns the adjacency list for switch id, i.e. every other
// switch reachable by one hop and the local port used to reach it.
func (s *Snapshot) Neighbors(id ofcore.SwitchId) []Neighbor {
	var out []Neighbor
	for k, l := range s.links {
		if k.A == id {
			out = append(out, Neighbor{Switch: l.B, Port: l.APort})
		}
	}
	return out
}
