// Package graph reconstructs image provenance from generation history.
//
// Every record becomes a node keyed by its artifact URL. Edges run from an
// ancestor to the image derived from it and carry the variation strength.
// The only lineage hint a record has is its variation chain, so parents are
// found by resolving the chain's last seed against the nodes seen so far.
//
// Seeds are not unique. The builder keeps an index from seed to every node
// carrying it, in insertion order, and applies two fixed policies:
//
//   - a chain reference resolves to the most recently added earlier node
//     carrying that seed;
//   - the canonical owner of a seed, used for records without a chain, is the
//     first node added with it.
//
// A first-step variation has no chain yet but carries the seed it varied as
// its base seed; it links to the owner of that base seed.
//
// Only nodes added before the one being resolved are candidates, so the graph
// is a forest and bulk and incremental resolution agree.
package graph

import (
	"errors"
	"fmt"

	"github.com/manash/seedgraph/internal/chain"
	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/pkg/models"
)

var (
	ErrDuplicateNode = errors.New("node already exists")
	ErrEmptyURL      = errors.New("record has no url")
)

// Node wraps one generation record. It is never modified after creation.
type Node struct {
	Record models.GenerationRecord
	order  int
}

func (n *Node) ID() string {
	return n.Record.URL
}

// Order is the node's insertion position, starting at 0.
func (n *Node) Order() int {
	return n.order
}

// Edge is a derived-from link, ancestor to descendant.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

type Builder struct {
	nodes  []*Node
	byURL  map[string]*Node
	bySeed map[int64][]*Node
	edges  []Edge
	log    *logging.Logger
}

type Option func(*Builder)

func WithLogger(l *logging.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

func New(opts ...Option) *Builder {
	b := &Builder{log: logging.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	b.Reset()
	return b
}

// Reset starts a new visualization session with an empty graph.
func (b *Builder) Reset() {
	b.nodes = nil
	b.byURL = make(map[string]*Node)
	b.bySeed = make(map[int64][]*Node)
	b.edges = nil
}

func (b *Builder) Len() int {
	return len(b.nodes)
}

// Nodes returns the nodes in insertion order.
func (b *Builder) Nodes() []*Node {
	out := make([]*Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

func (b *Builder) Node(url string) (*Node, bool) {
	n, ok := b.byURL[url]
	return n, ok
}

// Edges returns the edges resolved so far.
func (b *Builder) Edges() []Edge {
	out := make([]Edge, len(b.edges))
	copy(out, b.edges)
	return out
}

// AddNode appends a record to the node set without resolving edges.
func (b *Builder) AddNode(rec models.GenerationRecord) (*Node, error) {
	if rec.URL == "" {
		return nil, ErrEmptyURL
	}
	if _, ok := b.byURL[rec.URL]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, rec.URL)
	}

	n := &Node{Record: rec, order: len(b.nodes)}
	b.nodes = append(b.nodes, n)
	b.byURL[rec.URL] = n
	b.bySeed[rec.Seed] = append(b.bySeed[rec.Seed], n)
	return n, nil
}

// Load bulk-adds history records and re-resolves every edge. Records with a
// URL already in the graph are skipped.
func (b *Builder) Load(records []models.GenerationRecord) []Edge {
	for _, rec := range records {
		if _, err := b.AddNode(rec); err != nil {
			b.log.Warn("skipping history record", "url", rec.URL, "error", err)
		}
	}
	b.edges = b.ResolveEdgesForAll()
	return b.Edges()
}

// AddStreamed adds a freshly produced record and resolves its edges against
// the graph as it stands now. A missing ancestor is not retried later.
func (b *Builder) AddStreamed(rec models.GenerationRecord) (*Node, []Edge, error) {
	n, err := b.AddNode(rec)
	if err != nil {
		return nil, nil, err
	}
	edges := b.ResolveEdgesForNode(n)
	b.edges = append(b.edges, edges...)
	return n, edges, nil
}

// ResolveEdgesForAll resolves every node against the current node set.
func (b *Builder) ResolveEdgesForAll() []Edge {
	var edges []Edge
	for _, n := range b.nodes {
		edges = append(edges, b.ResolveEdgesForNode(n)...)
	}
	return edges
}

// ResolveEdgesForNode derives the incoming edges of n. It reads the node set
// but never changes it.
func (b *Builder) ResolveEdgesForNode(n *Node) []Edge {
	entries, err := chain.Decode(n.Record.WithVariations)
	if err != nil {
		b.log.Debug("unresolvable chain", "url", n.ID(), "chain", n.Record.WithVariations, "error", err)
		return nil
	}

	if last, ok := chain.Last(entries); ok {
		ancestor := b.latestBefore(last.Seed, n)
		if ancestor == nil {
			b.log.Debug("ancestor not found", "url", n.ID(), "seed", last.Seed)
			return nil
		}
		return []Edge{{Source: ancestor.ID(), Target: n.ID(), Weight: last.Weight}}
	}

	if n.Record.VariationAmount > 0 && n.Record.BaseSeed != n.Record.Seed {
		base := b.Owner(n.Record.BaseSeed)
		if base == nil || base.order >= n.order {
			b.log.Debug("variation base not found", "url", n.ID(), "seed", n.Record.BaseSeed)
			return nil
		}
		return []Edge{{Source: base.ID(), Target: n.ID(), Weight: 1.0}}
	}

	owner := b.Owner(n.Record.Seed)
	if owner == nil || owner == n {
		return nil
	}
	return []Edge{{Source: owner.ID(), Target: n.ID(), Weight: 1.0}}
}

// Owner returns the canonical image for a seed: the first node added with it.
func (b *Builder) Owner(seed int64) *Node {
	carriers := b.bySeed[seed]
	if len(carriers) == 0 {
		return nil
	}
	return carriers[0]
}

// Carriers returns every node carrying seed, oldest first.
func (b *Builder) Carriers(seed int64) []*Node {
	carriers := b.bySeed[seed]
	out := make([]*Node, len(carriers))
	copy(out, carriers)
	return out
}

func (b *Builder) latestBefore(seed int64, n *Node) *Node {
	carriers := b.bySeed[seed]
	for i := len(carriers) - 1; i >= 0; i-- {
		if carriers[i].order < n.order {
			return carriers[i]
		}
	}
	return nil
}

// Roots returns nodes with no incoming edge among the resolved edges.
func (b *Builder) Roots() []*Node {
	hasParent := make(map[string]bool, len(b.edges))
	for _, e := range b.edges {
		hasParent[e.Target] = true
	}
	var roots []*Node
	for _, n := range b.nodes {
		if !hasParent[n.ID()] {
			roots = append(roots, n)
		}
	}
	return roots
}

// Children returns the resolved edges leaving url, in resolution order.
func (b *Builder) Children(url string) []Edge {
	var out []Edge
	for _, e := range b.edges {
		if e.Source == url {
			out = append(out, e)
		}
	}
	return out
}

// Lineage walks parent edges from url up to its root and returns the path,
// starting at url.
func (b *Builder) Lineage(url string) []*Node {
	parent := make(map[string]string, len(b.edges))
	for _, e := range b.edges {
		parent[e.Target] = e.Source
	}

	var path []*Node
	seen := make(map[string]bool)
	for cur, ok := url, true; ok && !seen[cur]; cur, ok = parent[cur] {
		n, exists := b.byURL[cur]
		if !exists {
			break
		}
		seen[cur] = true
		path = append(path, n)
	}
	return path
}
