// Package controller wires the Topology Store, Shortest-Path Engine,
// Host-Route Installer, LB Instance Registry, LB Edge Handler, Flow
// Pipeline Manager, and Event Dispatcher into one runnable Controller,
// mirroring the way the teacher's network.Manager wires its driver,
// state store, and reconciler together.
package controller

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ofcore/sdn-controller/pkg/config"
	"github.com/ofcore/sdn-controller/pkg/dispatch"
	"github.com/ofcore/sdn-controller/pkg/loadbalancer"
	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/pipeline"
	"github.com/ofcore/sdn-controller/pkg/routing"
	"github.com/ofcore/sdn-controller/pkg/switchapi"
	"github.com/ofcore/sdn-controller/pkg/topology"
)

// defaultQueueDepth bounds the dispatcher's event queue.
const defaultQueueDepth = 256

// Controller is the assembled control-plane core.
type Controller struct {
	cfg        *config.Config
	topo       *topology.Topology
	registry   *loadbalancer.Registry
	installer  *routing.Installer
	pipeline   *pipeline.Manager
	edge       *loadbalancer.EdgeHandler
	dispatcher *dispatch.Dispatcher

	log *zap.SugaredLogger
}

// New validates cfg (rejecting colliding table ids; an absent table key is
// rejected earlier, by config.Load) and assembles a Controller around the
// given switch and device services.
func New(cfg *config.Config, sw switchapi.SwitchService, devices switchapi.DeviceService, log *zap.SugaredLogger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	log = log.Named("controller")
	registry := loadbalancer.ParseInstances(cfg.LoadBalancer.Instances, log)
	topo := topology.New()
	installer := routing.NewInstaller(sw, cfg.SPS.Table, pipeline.PriorityDefault, log)
	pm := pipeline.NewManager(sw, registry, cfg.LoadBalancer.Table, cfg.SPS.Table, log)
	edge := loadbalancer.NewEdgeHandler(registry, sw, devices, pm, cfg.LoadBalancer.Table, pipeline.PriorityFlow, log)
	dispatcher := dispatch.New(topo, installer, pm, edge, defaultQueueDepth, log)

	return &Controller{
		cfg:        cfg,
		topo:       topo,
		registry:   registry,
		installer:  installer,
		pipeline:   pm,
		edge:       edge,
		dispatcher: dispatcher,
		log:        log,
	}, nil
}

// Run drains the dispatcher's event queue until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.dispatcher.Run(ctx)
}

// SwitchUp/SwitchDown/LinkUp/LinkDown/HostUpdated/HostRemoved/PacketIn
// submit the corresponding typed event to the dispatcher queue.

func (c *Controller) SwitchUp(ctx context.Context, id ofcore.SwitchId) error {
	return c.dispatcher.Submit(ctx, dispatch.SwitchEvent{ID: id, Up: true})
}

func (c *Controller) SwitchDown(ctx context.Context, id ofcore.SwitchId) error {
	return c.dispatcher.Submit(ctx, dispatch.SwitchEvent{ID: id, Up: false})
}

func (c *Controller) LinkUp(ctx context.Context, a ofcore.SwitchId, aPort ofcore.PortNo, b ofcore.SwitchId, bPort ofcore.PortNo) error {
	return c.dispatcher.Submit(ctx, dispatch.LinkEvent{A: a, APort: aPort, B: b, BPort: bPort, Up: true})
}

func (c *Controller) LinkDown(ctx context.Context, a ofcore.SwitchId, aPort ofcore.PortNo, b ofcore.SwitchId, bPort ofcore.PortNo) error {
	return c.dispatcher.Submit(ctx, dispatch.LinkEvent{A: a, APort: aPort, B: b, BPort: bPort, Up: false})
}

func (c *Controller) HostUpdated(ctx context.Context, deviceKey string, mac ofcore.MAC, ipv4 *ofcore.IPv4Addr, attached *ofcore.Attachment) error {
	return c.dispatcher.Submit(ctx, dispatch.HostEvent{DeviceKey: deviceKey, MAC: mac, IPv4: ipv4, Attached: attached, Present: true})
}

func (c *Controller) HostRemoved(ctx context.Context, deviceKey string) error {
	return c.dispatcher.Submit(ctx, dispatch.HostEvent{DeviceKey: deviceKey, Present: false})
}

func (c *Controller) PacketIn(ctx context.Context, pi switchapi.PacketIn) error {
	return c.dispatcher.Submit(ctx, dispatch.PacketInEvent{PacketIn: pi})
}

// Installer exposes the Host-Route Installer (and through it the installed
// shadow) for introspection.
func (c *Controller) Installer() *routing.Installer {
	return c.installer
}

// Registry exposes the parsed VIP registry for introspection.
func (c *Controller) Registry() *loadbalancer.Registry {
	return c.registry
}
