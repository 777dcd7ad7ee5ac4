package cluster

import (
	"fmt"
	"sort"

	"github.com/afi-canon/internal/fuzzy"
)

// Mode selects the clustering algorithm.
type Mode string

const (
	// Greedy opens a cluster per unassigned variant and pulls in every later
	// unassigned variant similar to that seed. Results depend on input order.
	Greedy Mode = "greedy"
	// UnionFind takes connected components of the similarity graph.
	UnionFind Mode = "union_find"
)

// Clusterer groups the normalized district forms of one state.
type Clusterer struct {
	Threshold float64
	MinSize   int
	Mode      Mode
	Score     fuzzy.Scorer
}

// NewClusterer builds a clusterer from configuration names.
func NewClusterer(threshold float64, minSize int, mode, scorer string) (*Clusterer, error) {
	score, err := fuzzy.ByName(scorer)
	if err != nil {
		return nil, err
	}
	m := Mode(mode)
	switch m {
	case "":
		m = Greedy
	case Greedy, UnionFind:
	default:
		return nil, fmt.Errorf("unknown clustering mode %q", mode)
	}
	return &Clusterer{Threshold: threshold, MinSize: minSize, Mode: m, Score: score}, nil
}

// Cluster partitions forms. Every form lands in exactly one cluster; members
// of a cluster are sorted, clusters follow the order of their seeds.
func (c *Clusterer) Cluster(forms []string) [][]string {
	if len(forms) == 0 {
		return nil
	}
	if len(forms) < c.MinSize {
		out := make([][]string, len(forms))
		for i, f := range forms {
			out[i] = []string{f}
		}
		return out
	}
	if c.Mode == UnionFind {
		return c.unionFind(forms)
	}
	return c.greedy(forms)
}

func (c *Clusterer) greedy(forms []string) [][]string {
	var clusters [][]string
	used := make(map[string]bool, len(forms))

	for _, v := range forms {
		if used[v] {
			continue
		}
		members := []string{v}
		used[v] = true

		for _, u := range forms {
			if used[u] {
				continue
			}
			if c.Score(v, u) >= c.Threshold {
				members = append(members, u)
				used[u] = true
			}
		}
		sort.Strings(members)
		clusters = append(clusters, members)
	}
	return clusters
}

func (c *Clusterer) unionFind(forms []string) [][]string {
	parent := make([]int, len(forms))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// the lower index stays root so clusters keep seed order
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for i := 0; i < len(forms); i++ {
		for j := i + 1; j < len(forms); j++ {
			if c.Score(forms[i], forms[j]) >= c.Threshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]string)
	var roots []int
	for i, f := range forms {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], f)
	}

	out := make([][]string, 0, len(roots))
	for _, r := range roots {
		members := groups[r]
		sort.Strings(members)
		out = append(out, members)
	}
	return out
}
