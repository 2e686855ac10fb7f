package loadbalancer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/packetcodec"
	"github.com/ofcore/sdn-controller/pkg/switchapi"
)

// EdgeHandler is the LB Edge Handler (C5, spec.md §4.5): it reacts to
// packet-ins the VIP catch rules (installed by C6) steer to the
// controller.
type EdgeHandler struct {
	registry *Registry
	sw       switchapi.SwitchService
	devices  switchapi.DeviceService
	oracle   switchapi.RoutingOracle

	lbTable  uint8
	flowPrio uint16
	log      *zap.SugaredLogger
}

// NewEdgeHandler builds an EdgeHandler writing LB rewrite rules into
// lbTable (T_lb) at flowPrio (P_flow).
func NewEdgeHandler(registry *Registry, sw switchapi.SwitchService, devices switchapi.DeviceService, oracle switchapi.RoutingOracle, lbTable uint8, flowPrio uint16, log *zap.SugaredLogger) *EdgeHandler {
	return &EdgeHandler{
		registry: registry,
		sw:       sw,
		devices:  devices,
		oracle:   oracle,
		lbTable:  lbTable,
		flowPrio: flowPrio,
		log:      log.Named("edge"),
	}
}

// HandlePacketIn decodes one packet-in and reacts per spec.md §4.5: ARP
// reply synthesis, TCP SYN interception, or a stray-TCP RST. Malformed
// frames and events unrelated to any configured VIP are dropped silently.
func (h *EdgeHandler) HandlePacketIn(ctx context.Context, in switchapi.PacketIn) {
	frame, err := packetcodec.ParseFrame(in.Payload)
	if err != nil {
		h.log.Debugw("dropping malformed packet-in", "switch", in.Switch, "error", err)
		return
	}

	switch frame.EtherType {
	case ofcore.EthTypeARP:
		h.handleARP(ctx, in, frame)
	case ofcore.EthTypeIPv4:
		h.handleIPv4(ctx, in, frame)
	}
}

func (h *EdgeHandler) handleARP(ctx context.Context, in switchapi.PacketIn, frame *packetcodec.Frame) {
	if !frame.ArpIsRequest {
		return
	}
	inst, ok := h.registry.Lookup(frame.ArpTPA)
	if !ok {
		return
	}
	reply, err := packetcodec.BuildArpReply(frame, inst.VIP, inst.VMAC)
	if err != nil {
		h.log.Warnw("failed to build arp reply", "vip", inst.VIP, "error", err)
		return
	}
	if err := h.sw.SendPacketOut(ctx, in.Switch, in.InPort, reply); err != nil {
		h.log.Warnw("failed to send arp reply", "switch", in.Switch, "error", err)
	}
}

func (h *EdgeHandler) handleIPv4(ctx context.Context, in switchapi.PacketIn, frame *packetcodec.Frame) {
	inst, ok := h.registry.Lookup(frame.IPv4Dst)
	if !ok {
		return
	}
	if frame.IPProto != ofcore.ProtoTCP {
		return // non-TCP to a VIP: ignore, per spec.md §4.5.
	}
	if frame.IsTCPSyn() {
		h.handleSyn(ctx, in, frame, inst)
		return
	}
	h.sendReset(ctx, in, frame, inst)
}

func (h *EdgeHandler) handleSyn(ctx context.Context, in switchapi.PacketIn, frame *packetcodec.Frame, inst *ofcore.VipInstance) {
	backend, err := inst.NextBackend()
	if err != nil {
		h.log.Warnw("vip has no backends", "vip", inst.VIP, "error", err)
		return
	}

	hosts, err := h.devices.QueryDevices(ctx, switchapi.DeviceFilter{IPv4: &backend})
	if err != nil || len(hosts) == 0 {
		h.log.Debugw("backend mac resolution miss, dropping syn", "vip", inst.VIP, "backend", backend, "error", err)
		return
	}
	backendMAC := hosts[0].MAC

	sps := h.oracle.SPSTable()
	clientIP, clientPort := frame.IPv4Src, frame.TCPSrc
	vipPort := frame.TCPDst

	inbound := ofcore.FlowEntry{
		Table:    h.lbTable,
		Priority: h.flowPrio,
		Match: ofcore.Match{
			EthType: ofcore.EthTypeIPv4,
			Proto:   ofcore.ProtoTCP,
			IPv4Src: &clientIP,
			TCPSrc:  &clientPort,
			IPv4Dst: &inst.VIP,
			TCPDst:  &vipPort,
		},
		Actions: []ofcore.Action{
			{Kind: ofcore.ActionSetEthDst, MAC: backendMAC},
			{Kind: ofcore.ActionSetIPv4Dst, IPv4: backend},
			{Kind: ofcore.ActionGotoTable, GotoTbl: sps},
		},
		IdleTimeout: packetcodec.LBIdleTimeout,
	}
	outbound := ofcore.FlowEntry{
		Table:    h.lbTable,
		Priority: h.flowPrio,
		Match: ofcore.Match{
			EthType: ofcore.EthTypeIPv4,
			Proto:   ofcore.ProtoTCP,
			IPv4Src: &backend,
			TCPSrc:  &vipPort,
			IPv4Dst: &clientIP,
			TCPDst:  &clientPort,
		},
		Actions: []ofcore.Action{
			{Kind: ofcore.ActionSetEthSrc, MAC: inst.VMAC},
			{Kind: ofcore.ActionSetIPv4Src, IPv4: inst.VIP},
			{Kind: ofcore.ActionGotoTable, GotoTbl: sps},
		},
		IdleTimeout: packetcodec.LBIdleTimeout,
	}

	if err := h.sw.SendFlowMod(ctx, in.Switch, inbound); err != nil {
		h.logFlowModErr(in.Switch, err)
		return
	}
	if err := h.sw.SendFlowMod(ctx, in.Switch, outbound); err != nil {
		h.logFlowModErr(in.Switch, err)
	}
}

func (h *EdgeHandler) sendReset(ctx context.Context, in switchapi.PacketIn, frame *packetcodec.Frame, inst *ofcore.VipInstance) {
	rst, err := packetcodec.BuildTCPReset(frame, inst.VIP, inst.VMAC)
	if err != nil {
		h.log.Warnw("failed to build tcp reset", "vip", inst.VIP, "error", err)
		return
	}
	if err := h.sw.SendPacketOut(ctx, in.Switch, in.InPort, rst); err != nil {
		h.log.Warnw("failed to send tcp reset", "switch", in.Switch, "error", err)
	}
}

func (h *EdgeHandler) logFlowModErr(sw ofcore.SwitchId, err error) {
	if errors.Is(err, ofcore.ErrSwitchUnavailable) {
		h.log.Warnw("lb flow install dropped, switch unavailable", "switch", sw)
		return
	}
	h.log.Warnw("lb flow install failed", "switch", sw, "error", err)
}
