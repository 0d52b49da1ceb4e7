package planner

import (
	"container/heap"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/tools"
)

// Node is an action with its tool resolved at plan construction.
type Node struct {
	Action domain.Action
	Agent  *domain.Agent
	Tool   tools.Tool
	Config map[string]interface{}
}

// Plan is a validated DAG of actions. Nodes[i].Action.Index == i.
type Plan struct {
	Nodes []Node
	// Order is a topological order, ties broken by ascending index.
	Order []int
}

// Empty reports whether the plan has no actions.
func (p *Plan) Empty() bool { return p == nil || len(p.Nodes) == 0 }

// Len returns the number of actions.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Nodes)
}

// Actions returns the actions in index order.
func (p *Plan) Actions() []domain.Action {
	if p == nil {
		return []domain.Action{}
	}
	actions := make([]domain.Action, len(p.Nodes))
	for i, n := range p.Nodes {
		actions[i] = n.Action
	}
	return actions
}

// Dependents returns, per index, the indices that depend on it.
func (p *Plan) Dependents() [][]int {
	out := make([][]int, len(p.Nodes))
	for _, n := range p.Nodes {
		for _, d := range n.Action.DependsOn {
			out[d] = append(out[d], n.Action.Index)
		}
	}
	return out
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*action\.(\d+)\s*\}\}`)

// References returns the sorted action indices named by {{action.N}}
// placeholders anywhere inside params.
func References(params map[string]interface{}) []int {
	seen := map[int]struct{}{}
	walkStrings(params, func(s string) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil {
				seen[n] = struct{}{}
			}
		}
	})
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Substitute returns a copy of params with every {{action.N}} replaced by
// results[N]. Unknown references are left untouched.
func Substitute(params map[string]interface{}, results map[int]string) map[string]interface{} {
	out, _ := substituteValue(params, results).(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

func substituteValue(v interface{}, results map[int]string) interface{} {
	switch val := v.(type) {
	case string:
		return placeholderPattern.ReplaceAllStringFunc(val, func(m string) string {
			sub := placeholderPattern.FindStringSubmatch(m)
			n, err := strconv.Atoi(sub[1])
			if err != nil {
				return m
			}
			if content, ok := results[n]; ok {
				return content
			}
			return m
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = substituteValue(item, results)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, results)
		}
		return out
	}
	return v
}

func walkStrings(v interface{}, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]interface{}:
		for _, item := range val {
			walkStrings(item, fn)
		}
	case []interface{}:
		for _, item := range val {
			walkStrings(item, fn)
		}
	}
}

// normalizeDeps merges explicit and placeholder dependencies of action i and
// validates them against a plan of n actions.
func normalizeDeps(i, n int, explicit []int, params map[string]interface{}) ([]int, error) {
	set := map[int]struct{}{}
	for _, d := range explicit {
		set[d] = struct{}{}
	}
	for _, d := range References(params) {
		set[d] = struct{}{}
	}
	deps := make([]int, 0, len(set))
	for d := range set {
		if d == i {
			return nil, apperrors.Newf(apperrors.CodeCyclicPlan, "action %d depends on itself", i)
		}
		if d < 0 || d >= n {
			return nil, apperrors.Newf(apperrors.CodePlanning, "action %d depends on unknown action %d", i, d)
		}
		deps = append(deps, d)
	}
	sort.Ints(deps)
	return deps, nil
}

type minHeap []int

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopoSort orders n nodes given each node's dependencies using Kahn's
// algorithm. Among ready nodes the lowest index goes first. A cycle is a
// CyclicPlan error naming the nodes left unsorted.
func TopoSort(deps [][]int) ([]int, error) {
	n := len(deps)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, ds := range deps {
		indegree[i] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], i)
		}
	}

	ready := &minHeap{}
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			*ready = append(*ready, i)
		}
	}
	heap.Init(ready)

	order := make([]int, 0, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, dep := range dependents[i] {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(order) < n {
		var stuck []string
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				stuck = append(stuck, strconv.Itoa(i))
			}
		}
		return nil, apperrors.New(apperrors.CodeCyclicPlan,
			fmt.Sprintf("plan contains a cycle among actions %s", strings.Join(stuck, ", ")))
	}
	return order, nil
}
