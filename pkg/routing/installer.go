package routing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/switchapi"
	"github.com/ofcore/sdn-controller/pkg/topology"
)

// shadowKey addresses one (switch, host) cell of the installer's local
// "what did we last install" shadow, the mechanism spec.md §4.3 names
// explicitly for computing sweep diffs.
type shadowKey struct {
	Switch ofcore.SwitchId
	Host   string
}

// Installer is the Host-Route Installer (C3). It derives per-host,
// per-switch SPS flow entries from a RouteTable and pushes only the
// deltas against its own installed shadow, per spec.md §4.3.
type Installer struct {
	sw       switchapi.SwitchService
	table    uint8
	priority uint16
	log      *zap.SugaredLogger

	installed map[shadowKey]ofcore.NextHop
	epochs    map[shadowKey]uint64
	lastIP    map[string]ofcore.IPv4Addr
}

// NewInstaller constructs an Installer writing into the given SPS table
// at the given priority (spec.md's P_default).
func NewInstaller(sw switchapi.SwitchService, table uint8, priority uint16, log *zap.SugaredLogger) *Installer {
	return &Installer{
		sw:        sw,
		table:     table,
		priority:  priority,
		log:       log.Named("installer"),
		installed: make(map[shadowKey]ofcore.NextHop),
		epochs:    make(map[shadowKey]uint64),
		lastIP:    make(map[string]ofcore.IPv4Addr),
	}
}

// Sweep reconciles every routable host against a freshly computed
// RouteTable. Called after any ChangeTopology event (spec.md §4.7b).
func (i *Installer) Sweep(ctx context.Context, snap *topology.Snapshot, paths ofcore.RouteTable) {
	for key := range snap.Hosts {
		i.InstallHost(ctx, snap, paths, key)
	}
	// Hosts the sweep no longer sees but that the shadow still thinks are
	// installed (removed between the ChangeHost delete and this sweep,
	// or never reached via ChangeHost) are cleaned up here too.
	stale := make(map[string]bool)
	for key := range i.installed {
		if _, present := snap.Hosts[key.Host]; !present {
			stale[key.Host] = true
		}
	}
	for host := range stale {
		i.RemoveHost(ctx, host)
	}
}

// InstallHost recomputes and pushes flow deltas for a single host, per
// spec.md §4.7c (HOST_CHANGED dispatch). If the host is no longer present
// in the snapshot, its routes are removed fleet-wide.
func (i *Installer) InstallHost(ctx context.Context, snap *topology.Snapshot, paths ofcore.RouteTable, hostKey string) {
	host, ok := snap.Hosts[hostKey]
	if !ok {
		i.RemoveHost(ctx, hostKey)
		return
	}
	if !host.Routable() {
		i.RemoveHost(ctx, hostKey)
		return
	}

	epoch := snap.Epoch

	// Open question resolution (spec.md §9): an IP change is remove-old-
	// then-add-new. If the host's IP changed since our last install, drop
	// the old IP's fleet-wide entries before installing the new ones.
	if prevIP, had := i.lastIP[hostKey]; had && prevIP != *host.IPv4 {
		i.removeByMatch(ctx, hostKey, prevIP)
	}
	i.lastIP[hostKey] = *host.IPv4

	desired := i.desiredHops(snap, paths, host)

	// Remove shadow entries for switches no longer in the desired set.
	for key := range i.installed {
		if key.Host != hostKey {
			continue
		}
		if _, ok := desired[key.Switch]; !ok {
			i.removeOne(ctx, key, *host.IPv4)
		}
	}

	for sw, hop := range desired {
		key := shadowKey{Switch: sw, Host: hostKey}
		if cur, ok := i.installed[key]; ok && cur == hop {
			continue // no-op switch: already correct, do not touch it
		}
		if stamped, ok := i.epochs[key]; ok && epoch < stamped {
			// A newer computation already wrote this cell; refuse the
			// stale overwrite (spec.md §5's monotone-epoch rule).
			continue
		}
		entry := ofcore.FlowEntry{
			Table:    i.table,
			Priority: i.priority,
			Match:    ofcore.Match{EthType: ofcore.EthTypeIPv4, IPv4Dst: host.IPv4},
			Actions:  []ofcore.Action{{Kind: ofcore.ActionOutput, Port: hop.OutPort}},
		}
		if err := i.sw.SendFlowMod(ctx, sw, entry); err != nil {
			if errors.Is(err, ofcore.ErrSwitchUnavailable) {
				i.log.Warnw("flow install dropped, switch unavailable", "switch", sw, "host", hostKey)
			} else {
				i.log.Warnw("flow install failed", "switch", sw, "host", hostKey, "error", err)
			}
			// Shadow is NOT updated: the next sweep retries (spec.md §4.7).
			continue
		}
		i.installed[key] = hop
		i.epochs[key] = epoch
	}
}

// desiredHops computes, for every switch in the snapshot, the next hop
// toward host's attachment switch: the terminal rule (I3) at the
// attachment switch itself, and paths[s, attachedSwitch] everywhere else
// a path exists.
func (i *Installer) desiredHops(snap *topology.Snapshot, paths ofcore.RouteTable, host ofcore.Host) map[ofcore.SwitchId]ofcore.NextHop {
	desired := make(map[ofcore.SwitchId]ofcore.NextHop)
	attachedSwitch := host.Attached.Switch
	desired[attachedSwitch] = ofcore.NextHop{OutPort: host.Attached.Port}

	for _, s := range snap.Switches() {
		if s == attachedSwitch {
			continue
		}
		if hop, ok := paths[ofcore.RouteKey{Src: s, Dst: attachedSwitch}]; ok {
			desired[s] = hop
		}
	}
	return desired
}

// RemoveHost removes every installed SPS entry for a host fleet-wide
// (spec.md §4.3's host-removal behavior and §9.4's unroutable-by-IP-loss
// case), using the locally tracked IP since the host may no longer be
// readable from the topology.
func (i *Installer) RemoveHost(ctx context.Context, hostKey string) {
	ip, known := i.lastIP[hostKey]
	if !known {
		return
	}
	i.removeByMatch(ctx, hostKey, ip)
	delete(i.lastIP, hostKey)
}

func (i *Installer) removeByMatch(ctx context.Context, hostKey string, ip ofcore.IPv4Addr) {
	for key := range i.installed {
		if key.Host == hostKey {
			i.removeOne(ctx, key, ip)
		}
	}
}

func (i *Installer) removeOne(ctx context.Context, key shadowKey, ip ofcore.IPv4Addr) {
	match := ofcore.Match{EthType: ofcore.EthTypeIPv4, IPv4Dst: &ip}
	if err := i.sw.RemoveFlowMod(ctx, key.Switch, i.table, match); err != nil {
		i.log.Warnw("flow removal failed", "switch", key.Switch, "host", key.Host, "error", err)
		return
	}
	delete(i.installed, key)
	delete(i.epochs, key)
}

// Installed returns a copy of the (switch, host) -> next-hop shadow, for
// tests and introspection.
func (i *Installer) Installed() map[shadowKey]ofcore.NextHop {
	out := make(map[shadowKey]ofcore.NextHop, len(i.installed))
	for k, v := range i.installed {
		out[k] = v
	}
	return out
}
