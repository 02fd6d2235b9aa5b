package chatterlang

import (
	"fmt"
	"sort"

	"github.com/chatterflow/chatterflow/pkg/fn"
)

// arrowGraph is the directed graph that records arrow-fork wiring. Nodes
// are pipeline indices ("pipeline_3") and fork names; edges run
// producer→fork and fork→consumer. The compiler treats this structure as
// the authoritative source for which pipelines produce to or consume from
// which forks.
type arrowGraph struct {
	succ map[string][]string
	pred map[string][]string
}

func newArrowGraph() *arrowGraph {
	return &arrowGraph{
		succ: make(map[string][]string),
		pred: make(map[string][]string),
	}
}

func pipelineNode(idx int) string { return fmt.Sprintf("pipeline_%d", idx) }

func (g *arrowGraph) addEdge(from, to string) {
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
	if _, ok := g.succ[to]; !ok {
		g.succ[to] = nil
	}
	if _, ok := g.pred[from]; !ok {
		g.pred[from] = nil
	}
}

// forkNames returns every fork node in the graph, sorted for determinism.
func (g *arrowGraph) forkNames() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range []map[string][]string{g.succ, g.pred} {
		for node := range m {
			if isForkNode(node) {
				if _, dup := seen[node]; !dup {
					seen[node] = struct{}{}
					names = append(names, node)
				}
			}
		}
	}
	sort.Strings(names)
	return names
}

func isForkNode(node string) bool {
	return len(node) < 9 || node[:9] != "pipeline_"
}

// producers returns the pipeline indices feeding a fork.
func (g *arrowGraph) producers(fork string) []int {
	return pipelineIndices(g.pred[fork])
}

// consumers returns the pipeline indices reading a fork.
func (g *arrowGraph) consumers(fork string) []int {
	return pipelineIndices(g.succ[fork])
}

// isProducer reports whether a pipeline feeds any fork.
func (g *arrowGraph) isProducer(idx int) bool {
	for _, node := range g.succ[pipelineNode(idx)] {
		if isForkNode(node) {
			return true
		}
	}
	return false
}

// isConsumer reports whether a pipeline reads from any fork.
func (g *arrowGraph) isConsumer(idx int) bool {
	for _, node := range g.pred[pipelineNode(idx)] {
		if isForkNode(node) {
			return true
		}
	}
	return false
}

func pipelineIndices(nodes []string) []int {
	out := fn.FilterMap(nodes, func(n string) (int, bool) {
		var idx int
		_, err := fmt.Sscanf(n, "pipeline_%d", &idx)
		return idx, err == nil
	})
	sort.Ints(out)
	return out
}
