package dispatch

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/ofcore/sdn-controller/pkg/loadbalancer"
	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/pipeline"
	"github.com/ofcore/sdn-controller/pkg/routing"
	"github.com/ofcore/sdn-controller/pkg/switchapi"
	"github.com/ofcore/sdn-controller/pkg/topology"
)

type fakeSwitch struct {
	connected map[ofcore.SwitchId]bool
	flows     map[ofcore.SwitchId]map[ofcore.IPv4Addr]ofcore.NextHop
}

func newFakeSwitch() *fakeSwitch {
	return &fakeSwitch{connected: make(map[ofcore.SwitchId]bool), flows: make(map[ofcore.SwitchId]map[ofcore.IPv4Addr]ofcore.NextHop)}
}

func (f *fakeSwitch) Connected(id ofcore.SwitchId) bool { return f.connected[id] }

func (f *fakeSwitch) SendFlowMod(ctx context.Context, sw ofcore.SwitchId, entry ofcore.FlowEntry) error {
	if f.flows[sw] == nil {
		f.flows[sw] = make(map[ofcore.IPv4Addr]ofcore.NextHop)
	}
	if entry.Match.IPv4Dst != nil && len(entry.Actions) > 0 {
		f.flows[sw][*entry.Match.IPv4Dst] = ofcore.NextHop{OutPort: entry.Actions[0].Port}
	}
	return nil
}

func (f *fakeSwitch) RemoveFlowMod(ctx context.Context, sw ofcore.SwitchId, table uint8, match ofcore.Match) error {
	if f.flows[sw] != nil && match.IPv4Dst != nil {
		delete(f.flows[sw], *match.IPv4Dst)
	}
	return nil
}

func (f *fakeSwitch) SendPacketOut(ctx context.Context, sw ofcore.SwitchId, outPort ofcore.PortNo, frame []byte) error {
	return nil
}

func (f *fakeSwitch) QueryDevices(ctx context.Context, filter switchapi.DeviceFilter) ([]ofcore.Host, error) {
	return nil, nil
}

func noopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func newTestDispatcher(sw *fakeSwitch) *Dispatcher {
	reg := loadbalancer.ParseInstances("", noopLogger())
	topo := topology.New()
	installer := routing.NewInstaller(sw, 1, 10, noopLogger())
	pm := pipeline.NewManager(sw, reg, 0, 1, noopLogger())
	edge := loadbalancer.NewEdgeHandler(reg, sw, sw, pm, 0, 30, noopLogger())
	return New(topo, installer, pm, edge, 16, noopLogger())
}

// TestTopologyChangeTriggersFullRecompute exercises §4.7(b): a
// TOPO_CHANGED result recomputes the whole route table and sweeps every
// host.
func TestTopologyChangeTriggersFullRecompute(t *testing.T) {
	sw := newFakeSwitch()
	d := newTestDispatcher(sw)
	ctx := context.Background()

	sw.connected[1] = true
	sw.connected[2] = true
	d.process(ctx, SwitchEvent{ID: 1, Up: true})
	d.process(ctx, SwitchEvent{ID: 2, Up: true})
	d.process(ctx, LinkEvent{A: 1, APort: 1, B: 2, BPort: 1, Up: true})

	ip2, _ := ofcore.ParseIPv4("10.0.0.2")
	mac2, _ := ofcore.ParseMAC("00:00:00:00:00:02")
	d.process(ctx, HostEvent{DeviceKey: "h2", MAC: mac2, IPv4: &ip2, Attached: &ofcore.Attachment{Switch: 2, Port: 9}, Present: true})

	if hop, ok := sw.flows[1][ip2]; !ok || hop.OutPort != 1 {
		t.Errorf("switch 1 route to 10.0.0.2: got %+v, ok=%v, want out_port=1", hop, ok)
	}
	if hop, ok := sw.flows[2][ip2]; !ok || hop.OutPort != 9 {
		t.Errorf("switch 2 terminal route to 10.0.0.2: got %+v, ok=%v, want out_port=9", hop, ok)
	}
}

// TestHostChangeReinstallsSingleHost exercises §4.7(c): a single
// host update after the graph is already known reinstalls that host's
// routes using the existing RouteTable (no recompute needed since the
// graph did not change).
func TestHostChangeReinstallsSingleHost(t *testing.T) {
	sw := newFakeSwitch()
	d := newTestDispatcher(sw)
	ctx := context.Background()

	sw.connected[1] = true
	sw.connected[2] = true
	d.process(ctx, SwitchEvent{ID: 1, Up: true})
	d.process(ctx, SwitchEvent{ID: 2, Up: true})
	d.process(ctx, LinkEvent{A: 1, APort: 1, B: 2, BPort: 1, Up: true})

	ip1, _ := ofcore.ParseIPv4("10.0.0.1")
	mac1, _ := ofcore.ParseMAC("00:00:00:00:00:01")
	d.process(ctx, HostEvent{DeviceKey: "h1", MAC: mac1, IPv4: &ip1, Attached: &ofcore.Attachment{Switch: 1, Port: 3}, Present: true})

	if hop, ok := sw.flows[2][ip1]; !ok || hop.OutPort != 1 {
		t.Fatalf("switch 2 route to 10.0.0.1: got %+v, ok=%v, want out_port=1", hop, ok)
	}

	// Move the host to a different port on the same switch: HOST_CHANGED
	// only, no topology mutation.
	d.process(ctx, HostEvent{DeviceKey: "h1", MAC: mac1, IPv4: &ip1, Attached: &ofcore.Attachment{Switch: 1, Port: 7}, Present: true})

	if hop, ok := sw.flows[1][ip1]; !ok || hop.OutPort != 7 {
		t.Errorf("switch 1 terminal route after reattachment: got %+v, ok=%v, want out_port=7", hop, ok)
	}
	if hop, ok := sw.flows[2][ip1]; !ok || hop.OutPort != 1 {
		t.Errorf("switch 2 route should be unaffected by h1's port move: got %+v, ok=%v", hop, ok)
	}
}

// TestIdempotentReplayLeavesStateUnchanged is P2.
func TestIdempotentReplayLeavesStateUnchanged(t *testing.T) {
	sw := newFakeSwitch()
	d := newTestDispatcher(sw)
	ctx := context.Background()

	sw.connected[1] = true
	d.process(ctx, SwitchEvent{ID: 1, Up: true})
	before := d.topo.Epoch()
	d.process(ctx, SwitchEvent{ID: 1, Up: true})
	after := d.topo.Epoch()

	if before == after {
		t.Error("expected the epoch to still advance on a replayed mutation")
	}
	total := 0
	for _, byIP := range sw.flows {
		total += len(byIP)
	}
	if total != 0 {
		t.Errorf("a lone switch with no hosts should install no SPS flows, got %d", total)
	}
}
