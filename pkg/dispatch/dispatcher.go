// Package dispatch implements the Event Dispatcher (C7, spec.md §4.7): a
// single logical queue that serializes every inbound event and drives
// C1 through C3/C5/C6 in response.
package dispatch

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ofcore/sdn-controller/pkg/loadbalancer"
	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/pipeline"
	"github.com/ofcore/sdn-controller/pkg/routing"
	"github.com/ofcore/sdn-controller/pkg/switchapi"
	"github.com/ofcore/sdn-controller/pkg/topology"
)

// Event is the closed set of things the dispatcher reacts to.
type Event interface{ isEvent() }

// SwitchEvent reports a switch-added (Up=true) or switch-removed event.
type SwitchEvent struct {
	ID ofcore.SwitchId
	Up bool
}

func (SwitchEvent) isEvent() {}

// LinkEvent reports a link-up or link-down event.
type LinkEvent struct {
	A, B         ofcore.SwitchId
	APort, BPort ofcore.PortNo
	Up           bool
}

func (LinkEvent) isEvent() {}

// HostEvent reports a device add/remove/attachment-change/IP-change.
type HostEvent struct {
	DeviceKey string
	MAC       ofcore.MAC
	IPv4      *ofcore.IPv4Addr
	Attached  *ofcore.Attachment
	Present   bool
}

func (HostEvent) isEvent() {}

// PacketInEvent carries a switch's packet-in up to the LB edge handler.
type PacketInEvent struct {
	PacketIn switchapi.PacketIn
}

func (PacketInEvent) isEvent() {}

// Dispatcher owns the single goroutine that mutates the topology store
// and drives the shortest-path engine, the host-route installer, the
// pipeline manager, and the LB edge handler in response.
type Dispatcher struct {
	topo      *topology.Topology
	installer *routing.Installer
	pipeline  *pipeline.Manager
	edge      *loadbalancer.EdgeHandler

	// routes is the last RouteTable computed by C2. It is only replaced on
	// a ChangeTopology event; a ChangeHost event reuses it unchanged, per
	// spec.md §4.7c (host-only recomputation skips C2).
	routes ofcore.RouteTable

	events chan Event
	log    *zap.SugaredLogger
}

// New constructs a Dispatcher with a queue of the given depth.
func New(topo *topology.Topology, installer *routing.Installer, pm *pipeline.Manager, edge *loadbalancer.EdgeHandler, queueDepth int, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		topo:      topo,
		installer: installer,
		pipeline:  pm,
		edge:      edge,
		routes:    make(ofcore.RouteTable),
		events:    make(chan Event, queueDepth),
		log:       log.Named("dispatch"),
	}
}

// Submit enqueues an event, blocking if the queue is full until ctx is
// cancelled.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	select {
	case d.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the event queue until ctx is cancelled. It is the single
// logical dispatcher thread spec.md §5 describes; every topology
// mutation and its downstream recomputation happens here and nowhere
// else.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return
		case ev := <-d.events:
			d.process(ctx, ev)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, ev Event) {
	corrID := uuid.New().String()

	switch e := ev.(type) {
	case SwitchEvent:
		cs := d.topo.ApplySwitch(e.ID, e.Up)
		if e.Up {
			d.pipeline.OnSwitchUp(ctx, e.ID)
		}
		d.log.Debugw("switch event applied", "event_id", corrID, "switch", e.ID, "up", e.Up, "change", cs.Kind)
		d.applyChangeSet(ctx, cs, corrID)

	case LinkEvent:
		cs := d.topo.ApplyLink(e.A, e.APort, e.B, e.BPort, e.Up)
		d.log.Debugw("link event applied", "event_id", corrID, "a", e.A, "b", e.B, "up", e.Up, "change", cs.Kind)
		d.applyChangeSet(ctx, cs, corrID)

	case HostEvent:
		cs := d.topo.ApplyHost(e.DeviceKey, e.MAC, e.IPv4, e.Attached, e.Present)
		d.log.Debugw("host event applied", "event_id", corrID, "host", e.DeviceKey, "present", e.Present, "change", cs.Kind)
		d.applyChangeSet(ctx, cs, corrID)

	case PacketInEvent:
		d.edge.HandlePacketIn(ctx, e.PacketIn)

	default:
		d.log.Warnw("unknown event type dropped", "event_id", corrID)
	}
}

// applyChangeSet implements spec.md §4.7(b)/(c): a TOPO_CHANGED result
// recomputes the whole RouteTable and sweeps every host; a HOST_CHANGED
// result reinstalls routes for that host alone, against the existing
// RouteTable.
func (d *Dispatcher) applyChangeSet(ctx context.Context, cs topology.ChangeSet, corrID string) {
	switch cs.Kind {
	case topology.ChangeTopology:
		snap := d.topo.Snapshot()
		d.routes = routing.Compute(snap)
		d.installer.Sweep(ctx, snap, d.routes)
		d.log.Infow("topology change converged", "event_id", corrID, "epoch", snap.Epoch)

	case topology.ChangeHost:
		snap := d.topo.Snapshot()
		d.installer.InstallHost(ctx, snap, d.routes, cs.Host)
		d.log.Infow("host change converged", "event_id", corrID, "host", cs.Host, "epoch", snap.Epoch)

	case topology.ChangeNone:
		// idempotent replay, nothing to do (P2).
	}
}
