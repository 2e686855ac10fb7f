// Package loadbalancer implements the LB Instance Registry (C4, spec.md
// §4.4) and the LB Edge Handler (C5, spec.md §4.5).
package loadbalancer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
)

// Registry is the read-mostly set of configured VipInstances, keyed by
// VIP. Parsed once at startup from the `instances` config grammar.
type Registry struct {
	byVIP map[ofcore.IPv4Addr]*ofcore.VipInstance
}

// ParseInstances parses the `instances` grammar of spec.md §4.4:
//
//	instances := VIP_entry (";" VIP_entry)*
//	VIP_entry := IPv4 SP MAC SP IPv4 ("," IPv4)*
//
// Malformed entries are logged and skipped; parsing never fails the
// caller (spec.md §7's ConfigInvalid: logged, entry skipped, module
// continues).
func ParseInstances(raw string, log *zap.SugaredLogger) *Registry {
	log = log.Named("loadbalancer")
	r := &Registry{byVIP: make(map[ofcore.IPv4Addr]*ofcore.VipInstance)}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return r
	}

	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		inst, err := parseEntry(entry)
		if err != nil {
			log.Errorw("skipping malformed vip entry", "entry", entry, "error", err)
			continue
		}
		r.byVIP[inst.VIP] = inst
	}
	return r
}

func parseEntry(entry string) (*ofcore.VipInstance, error) {
	fields := strings.Fields(entry)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: expected \"IPv4 MAC IPv4[,IPv4...]\", got %q", ofcore.ErrConfigInvalid, entry)
	}

	vip, err := ofcore.ParseIPv4(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: vip: %v", ofcore.ErrConfigInvalid, err)
	}
	vmac, err := ofcore.ParseMAC(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: vmac: %v", ofcore.ErrConfigInvalid, err)
	}

	backendStrs := strings.Split(fields[2], ",")
	if len(backendStrs) == 0 {
		return nil, fmt.Errorf("%w: no backends", ofcore.ErrConfigInvalid)
	}
	backends := make([]ofcore.IPv4Addr, 0, len(backendStrs))
	for _, bs := range backendStrs {
		bs = strings.TrimSpace(bs)
		b, err := ofcore.ParseIPv4(bs)
		if err != nil {
			return nil, fmt.Errorf("%w: backend %q: %v", ofcore.ErrConfigInvalid, bs, err)
		}
		backends = append(backends, b)
	}

	return ofcore.NewVipInstance(vip, vmac, backends), nil
}

// Lookup returns the VipInstance fronting vip, if any is configured.
func (r *Registry) Lookup(vip ofcore.IPv4Addr) (*ofcore.VipInstance, bool) {
	inst, ok := r.byVIP[vip]
	return inst, ok
}

// All returns every configured VipInstance, order unspecified. Used by
// the Flow Pipeline Manager (C6) to install per-VIP catch rules on every
// newly connected switch.
func (r *Registry) All() []*ofcore.VipInstance {
	out := make([]*ofcore.VipInstance, 0, len(r.byVIP))
	for _, inst := range r.byVIP {
		out = append(out, inst)
	}
	return out
}
