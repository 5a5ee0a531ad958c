package engine

import "github.com/shaiso/Taskflow/internal/domain"

// Graph — индекс рёбер шаблона.
//
// Строится один раз на версию шаблона и используется оркестратором
// для поиска последователей и предшественников узла.
// Рёбра в несуществующие узлы игнорируются (их отлавливает Validator).
type Graph struct {
	template *domain.Template

	// successors — исходящие рёбра без дубликатов, в порядке объявления.
	successors map[string][]string

	// predecessors — входящие рёбра без дубликатов.
	predecessors map[string][]string

	// entries — узлы без входящих рёбер, в порядке объявления.
	entries []string

	// cyclic — узлы, лежащие на цикле.
	cyclic map[string]bool
}

// BuildGraph строит Graph из шаблона.
func BuildGraph(t *domain.Template) *Graph {
	g := &Graph{
		template:     t,
		successors:   make(map[string][]string, len(t.Nodes)),
		predecessors: make(map[string][]string, len(t.Nodes)),
	}

	known := make(map[string]bool, len(t.Nodes))
	for i := range t.Nodes {
		known[t.Nodes[i].ID] = true
	}

	for i := range t.Nodes {
		node := &t.Nodes[i]
		seen := make(map[string]bool)
		for _, next := range node.Next {
			if !known[next] || seen[next] {
				continue
			}
			seen[next] = true
			g.successors[node.ID] = append(g.successors[node.ID], next)
			g.predecessors[next] = append(g.predecessors[next], node.ID)
		}
	}

	for i := range t.Nodes {
		if len(g.predecessors[t.Nodes[i].ID]) == 0 {
			g.entries = append(g.entries, t.Nodes[i].ID)
		}
	}

	g.cyclic = g.findCyclic()
	return g
}

// Template возвращает шаблон графа.
func (g *Graph) Template() *domain.Template {
	return g.template
}

// Node возвращает узел по ID.
func (g *Graph) Node(id string) (*domain.TaskNode, bool) {
	return g.template.Node(id)
}

// EntryNodes возвращает точки входа: узлы без входящих рёбер.
func (g *Graph) EntryNodes() []*domain.TaskNode {
	nodes := make([]*domain.TaskNode, 0, len(g.entries))
	for _, id := range g.entries {
		if node, ok := g.template.Node(id); ok {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// Successors возвращает ID узлов-последователей.
func (g *Graph) Successors(id string) []string {
	return g.successors[id]
}

// Predecessors возвращает ID узлов-предшественников.
func (g *Graph) Predecessors(id string) []string {
	return g.predecessors[id]
}

// IsJoin возвращает true, если у узла больше одного предшественника.
func (g *Graph) IsJoin(id string) bool {
	return len(g.predecessors[id]) > 1
}

// InCycle возвращает true, если узел лежит на цикле.
func (g *Graph) InCycle(id string) bool {
	return g.cyclic[id]
}

// Reachable возвращает множество узлов, достижимых из точек входа.
func (g *Graph) Reachable() map[string]bool {
	visited := make(map[string]bool, len(g.template.Nodes))
	queue := append([]string(nil), g.entries...)
	for _, id := range queue {
		visited[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.successors[id] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// findCyclic находит узлы, входящие в нетривиальные компоненты сильной связности
// или имеющие петлю (алгоритм Тарьяна).
func (g *Graph) findCyclic() map[string]bool {
	var (
		index   = 0
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		cyclic  = make(map[string]bool)
	)

	var strongConnect func(id string)
	strongConnect = func(id string) {
		indices[id] = index
		lowlink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, next := range g.successors[id] {
			if next == id {
				cyclic[id] = true
			}
			if _, visited := indices[next]; !visited {
				strongConnect(next)
				lowlink[id] = min(lowlink[id], lowlink[next])
			} else if onStack[next] {
				lowlink[id] = min(lowlink[id], indices[next])
			}
		}

		if lowlink[id] != indices[id] {
			return
		}

		var component []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == id {
				break
			}
		}
		if len(component) > 1 {
			for _, member := range component {
				cyclic[member] = true
			}
		}
	}

	for i := range g.template.Nodes {
		id := g.template.Nodes[i].ID
		if _, visited := indices[id]; !visited {
			strongConnect(id)
		}
	}
	return cyclic
}
