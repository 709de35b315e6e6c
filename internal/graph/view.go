package graph

import (
	"encoding/json"
	"strconv"
)

// NodeView is what a renderer sees of a node: an identity, a grouping key
// and attributes it may show verbatim.
type NodeView struct {
	ID         string            `json:"id"`
	Group      string            `json:"group"`
	Attributes map[string]string `json:"attributes"`
}

type EdgeView struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// Snapshot is the node-link document consumed by force-directed renderers.
type Snapshot struct {
	Nodes []NodeView `json:"nodes"`
	Links []EdgeView `json:"links"`
}

// GroupFunc picks the grouping key for a node.
type GroupFunc func(*Node) string

// ByPrompt groups nodes by prompt text.
func ByPrompt(n *Node) string {
	return n.Record.Prompt
}

func (n *Node) View(group GroupFunc) NodeView {
	if group == nil {
		group = ByPrompt
	}
	rec := n.Record
	return NodeView{
		ID:    n.ID(),
		Group: group(n),
		Attributes: map[string]string{
			"prompt":          rec.Prompt,
			"sampler":         rec.SamplerName,
			"steps":           strconv.Itoa(rec.Steps),
			"cfg_scale":       strconv.FormatFloat(rec.CfgScale, 'f', -1, 64),
			"seed":            strconv.FormatInt(rec.Seed, 10),
			"with_variations": rec.DisplayChain(),
			"url":             rec.URL,
		},
	}
}

func (e Edge) View() EdgeView {
	return EdgeView{Source: e.Source, Target: e.Target, Weight: e.Weight}
}

// Snapshot exports the current graph. Nodes are in insertion order and links
// in resolution order.
func (b *Builder) Snapshot(group GroupFunc) Snapshot {
	s := Snapshot{
		Nodes: make([]NodeView, 0, len(b.nodes)),
		Links: make([]EdgeView, 0, len(b.edges)),
	}
	for _, n := range b.nodes {
		s.Nodes = append(s.Nodes, n.View(group))
	}
	for _, e := range b.edges {
		s.Links = append(s.Links, e.View())
	}
	return s
}

// Filter keeps the nodes whose group equals key and the links between them.
func (s Snapshot) Filter(key string) Snapshot {
	keep := make(map[string]bool)
	out := Snapshot{Nodes: []NodeView{}, Links: []EdgeView{}}
	for _, n := range s.Nodes {
		if n.Group == key {
			keep[n.ID] = true
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, l := range s.Links {
		if keep[l.Source] && keep[l.Target] {
			out.Links = append(out.Links, l)
		}
	}
	return out
}

// Groups lists distinct group keys in first-seen order.
func (s Snapshot) Groups() []string {
	seen := make(map[string]bool)
	var groups []string
	for _, n := range s.Nodes {
		if !seen[n.Group] {
			seen[n.Group] = true
			groups = append(groups, n.Group)
		}
	}
	return groups
}

func (s Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
