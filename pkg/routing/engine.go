// Package routing implements the Shortest-Path Engine (C2, spec.md §4.2)
// and the Host-Route Installer (C3, spec.md §4.3).
package routing

import (
	"sort"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
	"github.com/ofcore/sdn-controller/pkg/topology"
)

// Compute runs unit-weight BFS from every switch in the snapshot and
// returns the (src,dst) -> next-hop-port table, per spec.md §4.2. It is a
// pure function with no side effects; ties between equal-length paths are
// broken deterministically by (neighbor_switch_id ascending, port
// ascending), per invariant I2.
func Compute(snap *topology.Snapshot) ofcore.RouteTable {
	table := make(ofcore.RouteTable)
	switches := snap.Switches()

	for _, src := range switches {
		dist, firstHop := bfsFromSource(snap, src)
		for dst, d := range dist {
			if dst == src || d == 0 {
				continue
			}
			if hop, ok := firstHop[dst]; ok {
				table[ofcore.RouteKey{Src: src, Dst: dst}] = hop
			}
		}
	}
	return table
}

// bfsFromSource computes hop-count distances from src to every reachable
// switch and, for each one, the first hop out of src that reaches it along
// a shortest path. The first hop is assigned once, at the moment a switch
// is first discovered, and never revisited: a direct neighbor of src is its
// own first hop, and every switch discovered through some intermediate u
// inherits u's first hop. Because every edge has unit weight, the order in
// which same-distance nodes are dequeued cannot change the resulting
// distances; frontier switch ids are nonetheless sorted before each round,
// and each node's neighbors are visited in (switch id, port) ascending
// order, so that the inherited first hop is the deterministic tie-break
// invariant I2 requires.
func bfsFromSource(snap *topology.Snapshot, src ofcore.SwitchId) (map[ofcore.SwitchId]int, map[ofcore.SwitchId]ofcore.NextHop) {
	dist := map[ofcore.SwitchId]int{src: 0}
	firstHop := make(map[ofcore.SwitchId]ofcore.NextHop)
	frontier := []ofcore.SwitchId{src}

	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })
		var next []ofcore.SwitchId
		for _, u := range frontier {
			neighbors := snap.Neighbors(u)
			sort.Slice(neighbors, func(i, j int) bool {
				if neighbors[i].Switch != neighbors[j].Switch {
					return neighbors[i].Switch < neighbors[j].Switch
				}
				return neighbors[i].Port < neighbors[j].Port
			})
			for _, n := range neighbors {
				if _, seen := dist[n.Switch]; seen {
					continue
				}
				dist[n.Switch] = dist[u] + 1
				if u == src {
					firstHop[n.Switch] = ofcore.NextHop{OutPort: n.Port}
				} else {
					firstHop[n.Switch] = firstHop[u]
				}
				next = append(next, n.Switch)
			}
		}
		frontier = next
	}
	return dist, firstHop
}
