package daemon

import (
	"errors"
	"fmt"
	"sort"

	dag "ocm.software/open-component-model/bindings/go/dag/sync"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

// Asset is one node of the asset graph: its partition space, its upstream
// dependencies, and the compiled condition the daemon evaluates each tick.
// A nil Condition marks an asset that is tracked only as a parent and never
// auto-materialized.
type Asset struct {
	Key       types.AssetKey
	Def       partitions.PartitionsDefinition
	Parents   []types.AssetKey
	Policy    *conditions.AutomationPolicy
	Condition conditions.Condition
}

// Graph is the validated, acyclic asset graph with a fixed evaluation order.
// Layers group assets by dependency depth: every asset's parents live in
// strictly earlier layers, so a tick can evaluate one layer at a time with
// all assets inside a layer running concurrently.
type Graph struct {
	assets map[string]*Asset
	order  []*Asset
	layers [][]*Asset
}

// NewGraph builds the graph from assets, rejecting unknown parent references
// and dependency cycles with ErrInvalidManifest.
func NewGraph(assets []*Asset) (*Graph, error) {
	byKey := make(map[string]*Asset, len(assets))
	d := dag.NewDirectedAcyclicGraph[string]()
	for _, asset := range assets {
		key := asset.Key.String()
		if err := d.AddVertex(key); err != nil {
			if errors.Is(err, dag.ErrAlreadyExists) {
				return nil, fmt.Errorf("%w: duplicate asset %q", types.ErrInvalidManifest, key)
			}
			return nil, err
		}
		byKey[key] = asset
	}

	// Edges point dependent -> parent so the topological sort emits parents
	// first: an asset's upstream state is always settled before its own turn.
	for _, asset := range assets {
		for _, parent := range asset.Parents {
			if _, ok := byKey[parent.String()]; !ok {
				return nil, fmt.Errorf("%w: asset %q references unknown parent %q",
					types.ErrInvalidManifest, asset.Key, parent)
			}
			if err := d.AddEdge(asset.Key.String(), parent.String()); err != nil {
				var cycle *dag.CycleError
				if errors.As(err, &cycle) {
					return nil, fmt.Errorf("%w: dependency cycle: %v", types.ErrInvalidManifest, cycle.Cycle)
				}
				if errors.Is(err, dag.ErrSelfReference) {
					return nil, fmt.Errorf("%w: asset %q depends on itself", types.ErrInvalidManifest, asset.Key)
				}
				return nil, err
			}
		}
	}

	sorted, err := d.TopologicalSort()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return nil, fmt.Errorf("%w: dependency cycle: %v", types.ErrInvalidManifest, cycle.Cycle)
		}
		return nil, err
	}

	g := &Graph{
		assets: byKey,
		order:  make([]*Asset, 0, len(sorted)),
	}
	for _, key := range sorted {
		g.order = append(g.order, byKey[key])
	}
	g.layers = buildLayers(g.order, byKey)
	return g, nil
}

// buildLayers assigns each asset a depth (parents strictly shallower) and
// groups by depth. Walking in topological order guarantees parent depths are
// already known.
func buildLayers(order []*Asset, byKey map[string]*Asset) [][]*Asset {
	depths := make(map[string]int, len(order))
	maxDepth := 0
	for _, asset := range order {
		depth := 0
		for _, parent := range asset.Parents {
			if pd := depths[parent.String()]; pd+1 > depth {
				depth = pd + 1
			}
		}
		depths[asset.Key.String()] = depth
		if depth > maxDepth {
			maxDepth = depth
		}
	}

	layers := make([][]*Asset, maxDepth+1)
	for _, asset := range order {
		depth := depths[asset.Key.String()]
		layers[depth] = append(layers[depth], asset)
	}
	for _, layer := range layers {
		sort.Slice(layer, func(i, j int) bool {
			return layer[i].Key.String() < layer[j].Key.String()
		})
	}
	return layers
}

// Len is the number of assets in the graph.
func (g *Graph) Len() int { return len(g.order) }

// Asset looks up one asset by key.
func (g *Graph) Asset(key types.AssetKey) (*Asset, bool) {
	asset, ok := g.assets[key.String()]
	return asset, ok
}

// Assets lists every asset in topological (upstream-first) order.
func (g *Graph) Assets() []*Asset { return g.order }

// Layers groups assets by dependency depth, shallowest first. Assets within
// a layer are ordered by key and have no dependencies on each other.
func (g *Graph) Layers() [][]*Asset { return g.layers }

// Parents resolves an asset's upstream dependencies into the form the
// condition evaluator consumes.
func (g *Graph) Parents(asset *Asset) []conditions.Parent {
	if len(asset.Parents) == 0 {
		return nil
	}
	out := make([]conditions.Parent, 0, len(asset.Parents))
	for _, key := range asset.Parents {
		parent := g.assets[key.String()]
		out = append(out, conditions.Parent{Key: parent.Key, Def: parent.Def})
	}
	return out
}
