package routing

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/topology"
)

// fakeSwitchService is a minimal switchapi.SwitchService recording every
// flow-mod/remove it receives, keyed by (switch, table, ipv4_dst) since
// every installer-issued match in this package is an exact-ipv4 match.
type fakeSwitchService struct {
	mu        sync.Mutex
	connected map[ofcore.SwitchId]bool
	installed map[ofcore.SwitchId]map[ofcore.IPv4Addr]ofcore.NextHop
}

func newFakeSwitchService() *fakeSwitchService {
	return &fakeSwitchService{
		connected: make(map[ofcore.SwitchId]bool),
		installed: make(map[ofcore.SwitchId]map[ofcore.IPv4Addr]ofcore.NextHop),
	}
}

func (f *fakeSwitchService) Connected(id ofcore.SwitchId) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}

func (f *fakeSwitchService) connect(id ofcore.SwitchId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[id] = true
}

func (f *fakeSwitchService) SendFlowMod(ctx context.Context, sw ofcore.SwitchId, entry ofcore.FlowEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[sw] {
		return ofcore.ErrSwitchUnavailable
	}
	if f.installed[sw] == nil {
		f.installed[sw] = make(map[ofcore.IPv4Addr]ofcore.NextHop)
	}
	f.installed[sw][*entry.Match.IPv4Dst] = ofcore.NextHop{OutPort: entry.Actions[0].Port}
	return nil
}

func (f *fakeSwitchService) RemoveFlowMod(ctx context.Context, sw ofcore.SwitchId, table uint8, match ofcore.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installed[sw] != nil {
		delete(f.installed[sw], *match.IPv4Dst)
	}
	return nil
}

func (f *fakeSwitchService) SendPacketOut(ctx context.Context, sw ofcore.SwitchId, outPort ofcore.PortNo, frame []byte) error {
	return nil
}

func (f *fakeSwitchService) nextHop(sw ofcore.SwitchId, ip ofcore.IPv4Addr) (ofcore.NextHop, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hop, ok := f.installed[sw][ip]
	return hop, ok
}

func noopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// TestInstallerLinearTopology is scenario S1.
func TestInstallerLinearTopology(t *testing.T) {
	topo := topology.New()
	for _, id := range []ofcore.SwitchId{1, 2, 3} {
		topo.ApplySwitch(id, true)
	}
	topo.ApplyLink(1, 2, 2, 1, true)
	topo.ApplyLink(2, 2, 3, 1, true)

	ip1, _ := ofcore.ParseIPv4("10.0.0.1")
	ip3, _ := ofcore.ParseIPv4("10.0.0.3")
	mac1, _ := ofcore.ParseMAC("00:00:00:00:00:01")
	mac3, _ := ofcore.ParseMAC("00:00:00:00:00:03")
	topo.ApplyHost("h1", mac1, &ip1, &ofcore.Attachment{Switch: 1, Port: 1}, true)
	topo.ApplyHost("h3", mac3, &ip3, &ofcore.Attachment{Switch: 3, Port: 2}, true)

	fake := newFakeSwitchService()
	fake.connect(1)
	fake.connect(2)
	fake.connect(3)

	installer := NewInstaller(fake, 1 /* T_sps */, 10 /* P_default */, noopLogger())
	snap := topo.Snapshot()
	table := Compute(snap)
	installer.Sweep(context.Background(), snap, table)

	if hop, ok := fake.nextHop(1, ip3); !ok || hop.OutPort != 2 {
		t.Errorf("s1 -> 10.0.0.3: got %+v, ok=%v, want out_port=2", hop, ok)
	}
	if hop, ok := fake.nextHop(2, ip3); !ok || hop.OutPort != 2 {
		t.Errorf("s2 -> 10.0.0.3: got %+v, ok=%v, want out_port=2", hop, ok)
	}
	if hop, ok := fake.nextHop(3, ip3); !ok || hop.OutPort != 2 {
		t.Errorf("s3 -> 10.0.0.3 (terminal rule): got %+v, ok=%v, want out_port=2", hop, ok)
	}
	if hop, ok := fake.nextHop(1, ip1); !ok || hop.OutPort != 1 {
		t.Errorf("s1 -> 10.0.0.1 (terminal rule): got %+v, ok=%v, want out_port=1", hop, ok)
	}
}

// TestInstallerLinkBreak is scenario S2: continuing S1, bring s2<->s3 down.
func TestInstallerLinkBreak(t *testing.T) {
	topo := topology.New()
	for _, id := range []ofcore.SwitchId{1, 2, 3} {
		topo.ApplySwitch(id, true)
	}
	topo.ApplyLink(1, 2, 2, 1, true)
	topo.ApplyLink(2, 2, 3, 1, true)

	ip1, _ := ofcore.ParseIPv4("10.0.0.1")
	ip3, _ := ofcore.ParseIPv4("10.0.0.3")
	mac1, _ := ofcore.ParseMAC("00:00:00:00:00:01")
	mac3, _ := ofcore.ParseMAC("00:00:00:00:00:03")
	topo.ApplyHost("h1", mac1, &ip1, &ofcore.Attachment{Switch: 1, Port: 1}, true)
	topo.ApplyHost("h3", mac3, &ip3, &ofcore.Attachment{Switch: 3, Port: 2}, true)

	fake := newFakeSwitchService()
	fake.connect(1)
	fake.connect(2)
	fake.connect(3)

	installer := NewInstaller(fake, 1, 10, noopLogger())
	snap := topo.Snapshot()
	installer.Sweep(context.Background(), snap, Compute(snap))

	topo.ApplyLink(2, 2, 3, 1, false)
	snap = topo.Snapshot()
	installer.Sweep(context.Background(), snap, Compute(snap))

	if _, ok := fake.nextHop(1, ip3); ok {
		t.Error("s1 should have no route to 10.0.0.3 after the component split")
	}
	if _, ok := fake.nextHop(3, ip1); ok {
		t.Error("s3 should have no route to 10.0.0.1 after the component split")
	}
	// s3's terminal rule for its own attached host must remain untouched.
	if hop, ok := fake.nextHop(3, ip3); !ok || hop.OutPort != 2 {
		t.Errorf("s3's terminal rule for 10.0.0.3 was disturbed: %+v, ok=%v", hop, ok)
	}
}

// TestInstallerHostRemovalFleetWide verifies all entries for a removed
// host disappear across every switch that had one.
func TestInstallerHostRemovalFleetWide(t *testing.T) {
	topo := topology.New()
	topo.ApplySwitch(1, true)
	topo.ApplySwitch(2, true)
	topo.ApplyLink(1, 1, 2, 1, true)

	ip1, _ := ofcore.ParseIPv4("10.0.0.1")
	mac1, _ := ofcore.ParseMAC("00:00:00:00:00:01")
	topo.ApplyHost("h1", mac1, &ip1, &ofcore.Attachment{Switch: 1, Port: 5}, true)

	fake := newFakeSwitchService()
	fake.connect(1)
	fake.connect(2)

	installer := NewInstaller(fake, 1, 10, noopLogger())
	snap := topo.Snapshot()
	table := Compute(snap)
	installer.Sweep(context.Background(), snap, table)

	if _, ok := fake.nextHop(2, ip1); !ok {
		t.Fatal("precondition: switch 2 should have a route to 10.0.0.1")
	}

	topo.ApplyHost("h1", mac1, &ip1, &ofcore.Attachment{Switch: 1, Port: 5}, false)
	snap = topo.Snapshot()
	installer.Sweep(context.Background(), snap, Compute(snap))

	if _, ok := fake.nextHop(1, ip1); ok {
		t.Error("switch 1 still has a route to the removed host")
	}
	if _, ok := fake.nextHop(2, ip1); ok {
		t.Error("switch 2 still has a route to the removed host")
	}
}

// TestInstallerSweepIdempotent resweeps with no topology change and checks
// that the installer's shadow keeps the same number of entries.
func TestInstallerSweepIdempotent(t *testing.T) {
	topo := topology.New()
	topo.ApplySwitch(1, true)
	topo.ApplySwitch(2, true)
	topo.ApplyLink(1, 1, 2, 1, true)

	ip1, _ := ofcore.ParseIPv4("10.0.0.1")
	mac1, _ := ofcore.ParseMAC("00:00:00:00:00:01")
	topo.ApplyHost("h1", mac1, &ip1, &ofcore.Attachment{Switch: 1, Port: 5}, true)

	fake := newFakeSwitchService()
	fake.connect(1)
	fake.connect(2)
	installer := NewInstaller(fake, 1, 10, noopLogger())

	snap := topo.Snapshot()
	table := Compute(snap)
	installer.Sweep(context.Background(), snap, table)
	before := len(installer.Installed())

	installer.Sweep(context.Background(), snap, table)
	after := len(installer.Installed())

	if before != after {
		t.Errorf("resweep changed installed entry count: before=%d after=%d", before, after)
	}
}
