package dag

import "sort"

// Sort computes a deterministic topological order using Kahn's algorithm.
//
// The returned order contains every node whose dependencies can all be
// satisfied. When the graph contains a cycle the residual nodes are split
// into two sets: cyclic holds the exact members of the offending cycles,
// and blocked holds nodes that are acyclic themselves but unreachable
// because they sit downstream of a cycle. All three slices are in a
// deterministic order: the ready set is drained smallest-ID-first, and the
// residual sets are sorted.
func (g *Graph) Sort() (order, cyclic, blocked []string) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		indegree[id] = len(n.deps)
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	done := make(map[string]bool, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		done[id] = true

		var unlocked []string
		for depID := range g.nodes[id].dependents {
			indegree[depID]--
			if indegree[depID] == 0 {
				unlocked = append(unlocked, depID)
			}
		}
		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}

	if len(order) == len(g.nodes) {
		return order, nil, nil
	}

	// The residual set holds cycle members plus everything downstream of a
	// cycle. Stripping nodes with no unresolved dependents, repeatedly,
	// leaves exactly the cycle members.
	residual := make(map[string]bool, len(g.nodes)-len(order))
	for id := range g.nodes {
		if !done[id] {
			residual[id] = true
		}
	}
	outdegree := make(map[string]int, len(residual))
	for id := range residual {
		for depID := range g.nodes[id].dependents {
			if residual[depID] {
				outdegree[id]++
			}
		}
	}
	var strip []string
	for id := range residual {
		if outdegree[id] == 0 {
			strip = append(strip, id)
		}
	}
	inCycle := make(map[string]bool, len(residual))
	for id := range residual {
		inCycle[id] = true
	}
	for len(strip) > 0 {
		id := strip[0]
		strip = strip[1:]
		delete(inCycle, id)
		for depID := range g.nodes[id].deps {
			if !inCycle[depID] {
				continue
			}
			outdegree[depID]--
			if outdegree[depID] == 0 {
				strip = append(strip, depID)
			}
		}
	}

	for id := range residual {
		if inCycle[id] {
			cyclic = append(cyclic, id)
		} else {
			blocked = append(blocked, id)
		}
	}
	sort.Strings(cyclic)
	sort.Strings(blocked)
	return order, cyclic, blocked
}

// mergeSorted merges two sorted string slices into one sorted slice.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
