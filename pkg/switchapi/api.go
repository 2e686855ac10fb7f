// Package switchapi declares the external collaborators the core consumes
// (spec.md §6): the switch/device/link-discovery services provided by the
// surrounding host framework, and the small RoutingOracle service the core
// exposes back to itself (LB reads the SPS table id from it).
//
// These interfaces generalize the teacher's network.NetworkDriver —
// bridge/port/tunnel operations there become flow-table operations here.
package switchapi

import (
	"context"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
)

// SwitchService is the command surface into connected switches: install,
// remove, and replace flow-table entries, and emit packet-outs. It is the
// sole channel through which the core mutates data-plane state.
type SwitchService interface {
	// Connected reports whether the given switch currently has a live
	// control connection. SendFlowMod/SendPacketOut against a
	// disconnected switch must return an error wrapping
	// ofcore.ErrSwitchUnavailable.
	Connected(id ofcore.SwitchId) bool

	// SendFlowMod installs one flow entry, replacing (at-most-once) any
	// existing entry with an identical Match in the same table.
	SendFlowMod(ctx context.Context, sw ofcore.SwitchId, entry ofcore.FlowEntry) error

	// RemoveFlowMod deletes any flow entry in table matching match
	// exactly. A no-op if no such entry exists.
	RemoveFlowMod(ctx context.Context, sw ofcore.SwitchId, table uint8, match ofcore.Match) error

	// SendPacketOut emits the given Ethernet frame bytes out outPort on
	// sw.
	SendPacketOut(ctx context.Context, sw ofcore.SwitchId, outPort ofcore.PortNo, frame []byte) error
}

// DeviceFilter narrows a DeviceService query; a nil/zero field is a
// wildcard on that dimension.
type DeviceFilter struct {
	MAC    *ofcore.MAC
	IPv4   *ofcore.IPv4Addr
	VLAN   *uint16
	Switch *ofcore.SwitchId
	Port   *ofcore.PortNo
}

// DeviceService iterates known devices, used by the LB edge handler to
// resolve a backend's MAC address from its IP.
type DeviceService interface {
	QueryDevices(ctx context.Context, filter DeviceFilter) ([]ofcore.Host, error)
}

// LinkUpdate describes one link transition as reported by the link
// discovery service.
type LinkUpdate struct {
	Link Link
	Up   bool
}

// Link mirrors ofcore.Link; kept distinct so switchapi has no import-time
// dependency surprises for callers that only need the wire shape.
type Link = ofcore.Link

// LinkDiscoveryService exposes the current link set. It has no update
// subscription; link transitions reach the core as link-up/link-down
// events, which C1 coalesces.
type LinkDiscoveryService interface {
	Links(ctx context.Context) ([]Link, error)
}

// PacketIn is the typed packet-in event the core reacts to (§6).
type PacketIn struct {
	Switch  ofcore.SwitchId
	InPort  ofcore.PortNo
	Payload []byte // raw Ethernet frame bytes
}

// RoutingOracle exposes the SPS table id so other modules (today: the LB
// edge handler) can emit "goto T_sps" without a direct dependency on the
// SPS package (spec.md §6's exposed service).
type RoutingOracle interface {
	SPSTable() uint8
}
