package graph

import (
	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/registry"
)

// Clone returns a deep copy of the graph: every node is cloned with its
// parameters, then every edge is re-created through an old-to-new map so no
// reference aliases the source graph's nodes.
func (g *Graph) Clone() (*Graph, error) {
	c, _, err := g.cloneWithMap(g.dev)
	return c, err
}

// CloneWithMap clones the graph and also returns the old-to-new node map,
// which instantiation keeps to answer cloned-node lookups.
func (g *Graph) CloneWithMap() (*Graph, map[*Node]*Node, error) {
	return g.cloneWithMap(g.dev)
}

func (g *Graph) cloneWithMap(dev device.Device) (*Graph, map[*Node]*Node, error) {
	if g.destroyed {
		return nil, nil, ErrDestroyed
	}

	c := &Graph{
		id:            GraphID(graphSeq.Add(1)),
		dev:           dev,
		pool:          g.pool,
		original:      g,
		userObjects:   make(map[*UserObject]int),
		memAllocCount: g.memAllocCount,
	}
	registry.Graphs.Register(c)

	mapping := make(map[*Node]*Node, len(g.vertices))
	for _, n := range g.vertices {
		nn := n.clone()
		nn.owner = c
		c.vertices = append(c.vertices, nn)
		mapping[n] = nn
	}

	// Re-create every edge through the map. The source graph is consistent
	// by construction, so these cannot fail.
	for _, n := range g.vertices {
		for _, e := range n.edges {
			if err := c.AddEdge(mapping[n], mapping[e]); err != nil {
				return nil, nil, err
			}
		}
	}

	// Free nodes point back at their paired allocation node; remap it.
	for _, nn := range c.vertices {
		if nn.kind == KindMemFree && nn.memFree.allocNode != nil {
			nn.memFree.allocNode = mapping[nn.memFree.allocNode]
		}
	}

	return c, mapping, nil
}

// cloneInto clones a child graph during node cloning. The source is
// well-formed by construction.
func (g *Graph) cloneInto(dev device.Device) *Graph {
	c, _, _ := g.cloneWithMap(dev)
	return c
}
