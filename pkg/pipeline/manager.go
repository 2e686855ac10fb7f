// Package pipeline implements the Flow Pipeline Manager (C6, spec.md
// §4.6): it owns the two-table pipeline (T_lb then T_sps) and guarantees
// the priority ordering P_flow > P_vip > P_default on every connected
// switch.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ofcore/sdn-controller/pkg/loadbalancer"
	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/switchapi"
)

// Priority ordering required by invariants I5/I6: P_flow > P_vip > P_default.
const (
	PriorityDefault uint16 = 10
	PriorityVip     uint16 = 20
	PriorityFlow    uint16 = 30
)

// Manager installs the fixed per-switch pipeline scaffolding and
// implements switchapi.RoutingOracle so the LB edge handler can emit
// "goto T_sps" without depending on pkg/routing directly.
type Manager struct {
	sw       switchapi.SwitchService
	registry *loadbalancer.Registry

	lbTable  uint8
	spsTable uint8

	log *zap.SugaredLogger
}

// NewManager constructs a Manager owning tables lbTable (T_lb) and
// spsTable (T_sps). The two must differ (spec.md §6's configuration
// constraint); validated by pkg/config at load time.
func NewManager(sw switchapi.SwitchService, registry *loadbalancer.Registry, lbTable, spsTable uint8, log *zap.SugaredLogger) *Manager {
	return &Manager{
		sw:       sw,
		registry: registry,
		lbTable:  lbTable,
		spsTable: spsTable,
		log:      log.Named("pipeline"),
	}
}

// SPSTable implements switchapi.RoutingOracle.
func (m *Manager) SPSTable() uint8 {
	return m.spsTable
}

// OnSwitchUp installs, on a newly connected switch, the VIP ARP/TCP-catch
// rules at P_vip for every registered VIP and the table-miss default
// "goto T_sps" at P_default, per spec.md §4.6.
func (m *Manager) OnSwitchUp(ctx context.Context, sw ofcore.SwitchId) {
	for _, inst := range m.registry.All() {
		vip := inst.VIP
		arpCatch := ofcore.FlowEntry{
			Table:    m.lbTable,
			Priority: PriorityVip,
			Match:    ofcore.Match{EthType: ofcore.EthTypeARP, ArpTPA: &vip},
			Actions:  []ofcore.Action{{Kind: ofcore.ActionOutputController}},
		}
		tcpCatch := ofcore.FlowEntry{
			Table:    m.lbTable,
			Priority: PriorityVip,
			Match:    ofcore.Match{EthType: ofcore.EthTypeIPv4, IPv4Dst: &vip},
			Actions:  []ofcore.Action{{Kind: ofcore.ActionOutputController}},
		}
		if err := m.sw.SendFlowMod(ctx, sw, arpCatch); err != nil {
			m.log.Warnw("failed to install vip arp catch", "switch", sw, "vip", vip, "error", err)
		}
		if err := m.sw.SendFlowMod(ctx, sw, tcpCatch); err != nil {
			m.log.Warnw("failed to install vip tcp catch", "switch", sw, "vip", vip, "error", err)
		}
	}

	tableMiss := ofcore.FlowEntry{
		Table:    m.lbTable,
		Priority: PriorityDefault,
		Match:    ofcore.Match{Wildcard: true},
		Actions:  []ofcore.Action{{Kind: ofcore.ActionGotoTable, GotoTbl: m.spsTable}},
	}
	if err := m.sw.SendFlowMod(ctx, sw, tableMiss); err != nil {
		m.log.Warnw("failed to install default goto-sps", "switch", sw, "error", err)
	}
}
