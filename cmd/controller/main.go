// Command controller is the CLI entrypoint for the SDN control-plane
// core. It loads a YAML module config, replays a scripted event file
// against an in-memory switch/device fake, and prints the resulting flow
// tables — standing in for the host framework's real OpenFlow transport
// and device/link discovery services.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ofcore/sdn-controller/pkg/config"
	"github.com/ofcore/sdn-controller/pkg/controller"
	"github.com/ofcore/sdn-controller/pkg/loadbalancer"
	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/switchapi"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "controller",
		Short: "SDN control-plane core: shortest-path switching + VIP load balancing",
	}
	root.AddCommand(runCmd())
	root.AddCommand(validateCmd())
	return root
}

func validateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "parse and validate a module config file without starting the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			reg := loadbalancer.ParseInstances(cfg.LoadBalancer.Instances, zap.NewNop().Sugar())
			fmt.Printf("config ok: sps.table=%d loadbalancer.table=%d vip_instances=%d\n",
				cfg.SPS.Table, cfg.LoadBalancer.Table, len(reg.All()))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "config.yaml", "path to module config YAML")
	return cmd
}

func runCmd() *cobra.Command {
	var cfgPath, eventsPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "load config, replay a scripted event file, print resulting flow tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cfgPath, eventsPath)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "config.yaml", "path to module config YAML")
	cmd.Flags().StringVar(&eventsPath, "events", "events.yaml", "path to scripted event file")
	return cmd
}

func runScenario(cfgPath, eventsPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	fake := newFakeFabric()
	ctrl, err := controller.New(cfg, fake, fake, log)
	if err != nil {
		return fmt.Errorf("building controller: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	scn, err := loadScenario(eventsPath)
	if err != nil {
		return fmt.Errorf("loading scenario: %w", err)
	}
	for i, ev := range scn.Events {
		if err := applyEvent(ctx, ctrl, fake, ev); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, ev.Kind, err)
		}
	}

	// Give the single-goroutine dispatcher a chance to drain the queue
	// before we read the fake fabric's resulting flow tables.
	time.Sleep(50 * time.Millisecond)
	cancel()

	fake.printFlows(os.Stdout)
	return nil
}

// scenarioEvent is one line of a scripted demo/test event file.
type scenarioEvent struct {
	Kind string `yaml:"kind"` // switch_up, switch_down, link_up, link_down, host_add, host_remove

	Switch uint64 `yaml:"switch,omitempty"`

	A     uint64 `yaml:"a,omitempty"`
	APort uint16 `yaml:"a_port,omitempty"`
	B     uint64 `yaml:"b,omitempty"`
	BPort uint16 `yaml:"b_port,omitempty"`

	DeviceKey      string `yaml:"device_key,omitempty"`
	MAC            string `yaml:"mac,omitempty"`
	IPv4           string `yaml:"ipv4,omitempty"`
	AttachedSwitch uint64 `yaml:"attached_switch,omitempty"`
	AttachedPort   uint16 `yaml:"attached_port,omitempty"`
}

type scenario struct {
	Events []scenarioEvent `yaml:"events"`
}

func loadScenario(path string) (*scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &s, nil
}

func applyEvent(ctx context.Context, ctrl *controller.Controller, fake *fakeFabric, ev scenarioEvent) error {
	switch ev.Kind {
	case "switch_up":
		fake.setConnected(ofcore.SwitchId(ev.Switch), true)
		return ctrl.SwitchUp(ctx, ofcore.SwitchId(ev.Switch))

	case "switch_down":
		fake.setConnected(ofcore.SwitchId(ev.Switch), false)
		return ctrl.SwitchDown(ctx, ofcore.SwitchId(ev.Switch))

	case "link_up":
		return ctrl.LinkUp(ctx, ofcore.SwitchId(ev.A), ofcore.PortNo(ev.APort), ofcore.SwitchId(ev.B), ofcore.PortNo(ev.BPort))

	case "link_down":
		return ctrl.LinkDown(ctx, ofcore.SwitchId(ev.A), ofcore.PortNo(ev.APort), ofcore.SwitchId(ev.B), ofcore.PortNo(ev.BPort))

	case "host_add":
		mac, err := ofcore.ParseMAC(ev.MAC)
		if err != nil {
			return fmt.Errorf("mac: %w", err)
		}
		var ipv4 *ofcore.IPv4Addr
		if ev.IPv4 != "" {
			ip, err := ofcore.ParseIPv4(ev.IPv4)
			if err != nil {
				return fmt.Errorf("ipv4: %w", err)
			}
			ipv4 = &ip
		}
		var attached *ofcore.Attachment
		if ev.AttachedSwitch != 0 {
			attached = &ofcore.Attachment{Switch: ofcore.SwitchId(ev.AttachedSwitch), Port: ofcore.PortNo(ev.AttachedPort)}
		}
		fake.putDevice(ofcore.Host{DeviceKey: ev.DeviceKey, MAC: mac, IPv4: ipv4, Attached: attached})
		return ctrl.HostUpdated(ctx, ev.DeviceKey, mac, ipv4, attached)

	case "host_remove":
		return ctrl.HostRemoved(ctx, ev.DeviceKey)

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// fakeFabric is an in-memory stand-in for the host framework's switch
// and device services (spec.md §6's "out of scope" transport), used only
// by this CLI's demo replay.
type fakeFabric struct {
	mu        sync.Mutex
	connected map[ofcore.SwitchId]bool
	flows     map[ofcore.SwitchId]map[string]ofcore.FlowEntry
	devices   map[ofcore.IPv4Addr]ofcore.Host
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{
		connected: make(map[ofcore.SwitchId]bool),
		flows:     make(map[ofcore.SwitchId]map[string]ofcore.FlowEntry),
		devices:   make(map[ofcore.IPv4Addr]ofcore.Host),
	}
}

func (f *fakeFabric) setConnected(id ofcore.SwitchId, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[id] = up
	if up {
		if f.flows[id] == nil {
			f.flows[id] = make(map[string]ofcore.FlowEntry)
		}
	}
}

func (f *fakeFabric) putDevice(h ofcore.Host) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.IPv4 != nil {
		f.devices[*h.IPv4] = h
	}
}

func (f *fakeFabric) Connected(id ofcore.SwitchId) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}

func (f *fakeFabric) SendFlowMod(ctx context.Context, sw ofcore.SwitchId, entry ofcore.FlowEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[sw] {
		return fmt.Errorf("sendflowmod: %w", ofcore.ErrSwitchUnavailable)
	}
	if f.flows[sw] == nil {
		f.flows[sw] = make(map[string]ofcore.FlowEntry)
	}
	f.flows[sw][flowKey(entry.Table, entry.Match)] = entry
	return nil
}

func (f *fakeFabric) RemoveFlowMod(ctx context.Context, sw ofcore.SwitchId, table uint8, match ofcore.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tbl, ok := f.flows[sw]; ok {
		delete(tbl, flowKey(table, match))
	}
	return nil
}

func (f *fakeFabric) SendPacketOut(ctx context.Context, sw ofcore.SwitchId, outPort ofcore.PortNo, frame []byte) error {
	return nil // no real wire to send out in this demo fabric
}

func (f *fakeFabric) QueryDevices(ctx context.Context, filter switchapi.DeviceFilter) ([]ofcore.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ofcore.Host
	for ip, h := range f.devices {
		if filter.IPv4 != nil && ip != *filter.IPv4 {
			continue
		}
		if filter.MAC != nil && h.MAC != *filter.MAC {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// flowKey canonicalizes a (table, match) pair into a comparable map key;
// ofcore.Match carries pointer fields so it cannot be used as a map key
// directly.
func flowKey(table uint8, m ofcore.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|w=%v|et=%v|proto=%v", table, m.Wildcard, m.EthType, m.Proto)
	if m.IPv4Dst != nil {
		fmt.Fprintf(&b, "|dst=%s", m.IPv4Dst)
	}
	if m.IPv4Src != nil {
		fmt.Fprintf(&b, "|src=%s", m.IPv4Src)
	}
	if m.TCPSrc != nil {
		fmt.Fprintf(&b, "|tsrc=%d", *m.TCPSrc)
	}
	if m.TCPDst != nil {
		fmt.Fprintf(&b, "|tdst=%d", *m.TCPDst)
	}
	if m.ArpTPA != nil {
		fmt.Fprintf(&b, "|tpa=%s", m.ArpTPA)
	}
	return b.String()
}

func (f *fakeFabric) printFlows(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switches := make([]ofcore.SwitchId, 0, len(f.flows))
	for id := range f.flows {
		switches = append(switches, id)
	}
	sort.Slice(switches, func(i, j int) bool { return switches[i] < switches[j] })

	for _, id := range switches {
		fmt.Fprintf(w, "switch %s:\n", id)
		keys := make([]string, 0, len(f.flows[id]))
		for k := range f.flows[id] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			entry := f.flows[id][k]
			fmt.Fprintf(w, "  table=%d priority=%d %+v\n", entry.Table, entry.Priority, entry.Match)
		}
	}
}
