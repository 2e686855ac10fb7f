package ofcore

import "errors"

// Sentinel errors for the five error kinds of spec.md §7. Callers use
// errors.Is against these; none of them are fatal to the dispatcher loop.
var (
	// ErrConfigInvalid marks a malformed configuration entry (e.g. a
	// malformed VIP_entry). The entry is skipped, module init continues.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrSwitchUnavailable marks a flow-mod/packet-out target that is not
	// currently connected. The operation is dropped; reconciliation
	// happens on the next relevant event.
	ErrSwitchUnavailable = errors.New("switch unavailable")

	// ErrResolutionMiss marks a device-service MAC lookup that found no
	// device for the requested IP.
	ErrResolutionMiss = errors.New("mac resolution miss")

	// ErrTopologyInconsistent marks a link that references an unknown
	// switch. It is not fatal: the link is buffered and activates once
	// the switch appears.
	ErrTopologyInconsistent = errors.New("topology inconsistent")

	// ErrProtocolViolation marks a malformed Ethernet/ARP/IPv4/TCP frame
	// in a packet-in. Dropped silently by callers (save for a metric).
	ErrProtocolViolation = errors.New("protocol violation")
)
