package graph

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteDOT renders a snapshot as a Graphviz digraph. Nodes sharing a group
// are placed in one cluster.
func WriteDOT(w io.Writer, s Snapshot) error {
	var b strings.Builder
	b.WriteString("digraph provenance {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	for i, group := range s.Groups() {
		fmt.Fprintf(&b, "  subgraph cluster_%d {\n", i)
		fmt.Fprintf(&b, "    label=%s;\n", strconv.Quote(group))
		for _, n := range s.Nodes {
			if n.Group != group {
				continue
			}
			fmt.Fprintf(&b, "    %s [label=%s];\n", strconv.Quote(n.ID), strconv.Quote(nodeLabel(n)))
		}
		b.WriteString("  }\n")
	}

	for _, l := range s.Links {
		weight := strconv.FormatFloat(l.Weight, 'f', -1, 64)
		fmt.Fprintf(&b, "  %s -> %s [label=%s];\n", strconv.Quote(l.Source), strconv.Quote(l.Target), strconv.Quote(weight))
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func nodeLabel(n NodeView) string {
	label := "seed " + n.Attributes["seed"]
	if chain := n.Attributes["with_variations"]; chain != "" {
		label += "\n" + chain
	}
	return label
}

// WriteTree prints the forest as an indented tree, roots in insertion order.
func WriteTree(w io.Writer, s Snapshot) error {
	children := make(map[string][]EdgeView)
	hasParent := make(map[string]bool)
	for _, l := range s.Links {
		children[l.Source] = append(children[l.Source], l)
		hasParent[l.Target] = true
	}
	byID := make(map[string]NodeView, len(s.Nodes))
	for _, n := range s.Nodes {
		byID[n.ID] = n
	}

	var b strings.Builder
	var walk func(id, prefix string, weight float64, depth int)
	walk = func(id, prefix string, weight float64, depth int) {
		n := byID[id]
		b.WriteString(prefix)
		if depth > 0 {
			fmt.Fprintf(&b, "[%s] ", strconv.FormatFloat(weight, 'f', -1, 64))
		}
		fmt.Fprintf(&b, "%s (seed %s)", n.ID, n.Attributes["seed"])
		if depth == 0 {
			fmt.Fprintf(&b, " %q", n.Group)
		}
		b.WriteString("\n")
		for _, c := range children[id] {
			walk(c.Target, strings.Repeat("  ", depth+1)+"└─ ", c.Weight, depth+1)
		}
	}

	for _, n := range s.Nodes {
		if !hasParent[n.ID] {
			walk(n.ID, "", 0, 0)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
