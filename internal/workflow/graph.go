// Package workflow executes a directed acyclic graph of named nodes over one
// shared, typed state. Nodes return partial updates which are merged by the
// state's Schema; conditional edges fan out to any subset of their declared
// targets and join nodes wait for every branch that can still reach them.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrCycle        = errors.New("workflow graph has a cycle")
)

// NodeFunc reads the current state and returns a partial update.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Router picks the next nodes after a node completes. It may return zero,
// one or several names, all of which must be declared targets.
type Router[S any] func(state S) []string

type conditional[S any] struct {
	route    Router[S]
	targets  []string
	fallback string
}

// Graph is the mutable builder. Call Compile to get a runnable Engine.
type Graph[S any] struct {
	schema       *Schema[S]
	nodes        map[string]NodeFunc[S]
	order        []string
	entry        string
	edges        map[string][]string
	conditionals map[string]conditional[S]
	onError      func(node string, err error) S
	errs         []error
}

// NewGraph starts a graph over states merged by schema.
func NewGraph[S any](schema *Schema[S]) *Graph[S] {
	return &Graph[S]{
		schema:       schema,
		nodes:        make(map[string]NodeFunc[S]),
		edges:        make(map[string][]string),
		conditionals: make(map[string]conditional[S]),
	}
}

// AddNode registers fn under a unique name.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	if _, dup := g.nodes[name]; dup {
		g.errs = append(g.errs, fmt.Errorf("node %q registered twice", name))
		return g
	}
	g.nodes[name] = fn
	g.order = append(g.order, name)
	return g
}

// SetEntry designates the first node of every run.
func (g *Graph[S]) SetEntry(name string) *Graph[S] {
	g.entry = name
	return g
}

// AddEdge adds an unconditional edge.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdges routes from a node to any subset of targets. When the
// router selects nothing, fallback runs instead (empty means the branch ends).
func (g *Graph[S]) AddConditionalEdges(from string, route Router[S], fallback string, targets ...string) *Graph[S] {
	if _, dup := g.conditionals[from]; dup {
		g.errs = append(g.errs, fmt.Errorf("node %q already has conditional edges", from))
		return g
	}
	g.conditionals[from] = conditional[S]{route: route, targets: targets, fallback: fallback}
	return g
}

// OnError converts a node failure into a state update, so degraded runs
// keep the error as data. Without it a failed node contributes nothing.
func (g *Graph[S]) OnError(fn func(node string, err error) S) *Graph[S] {
	g.onError = fn
	return g
}

// successors lists every node a node may hand off to.
func (g *Graph[S]) successors(name string) []string {
	out := append([]string(nil), g.edges[name]...)
	if c, ok := g.conditionals[name]; ok {
		out = append(out, c.targets...)
		if c.fallback != "" {
			out = append(out, c.fallback)
		}
	}
	return out
}

// Compile validates the graph and precomputes reachability.
func (g *Graph[S]) Compile(opts ...Option) (*Engine[S], error) {
	if len(g.errs) > 0 {
		return nil, errors.Join(g.errs...)
	}
	if g.schema == nil {
		return nil, fmt.Errorf("compile: schema is required")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("compile: entry %q: %w", g.entry, ErrNodeNotFound)
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("compile: edge source %q: %w", from, ErrNodeNotFound)
		}
	}
	for from := range g.conditionals {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("compile: router source %q: %w", from, ErrNodeNotFound)
		}
	}
	for _, name := range g.order {
		for _, to := range g.successors(name) {
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("compile: edge %s -> %s: %w", name, to, ErrNodeNotFound)
			}
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(string) error
	visit = func(n string) error {
		color[n] = grey
		for _, m := range g.successors(n) {
			switch color[m] {
			case grey:
				return fmt.Errorf("compile: %s -> %s: %w", n, m, ErrCycle)
			case white:
				if err := visit(m); err != nil {
					return err
				}
			}
		}
		color[n] = black
		return nil
	}
	for _, n := range g.order {
		if color[n] == white {
			if err := visit(n); err != nil {
				return nil, err
			}
		}
	}

	reach := make(map[string]map[string]bool, len(g.nodes))
	var closure func(string) map[string]bool
	closure = func(n string) map[string]bool {
		if r, ok := reach[n]; ok {
			return r
		}
		r := map[string]bool{}
		for _, m := range g.successors(n) {
			r[m] = true
			for k := range closure(m) {
				r[k] = true
			}
		}
		reach[n] = r
		return r
	}
	for _, n := range g.order {
		closure(n)
	}

	e := &Engine[S]{
		schema:       g.schema,
		nodes:        copyMap(g.nodes),
		entry:        g.entry,
		edges:        make(map[string][]string, len(g.edges)),
		conditionals: copyMap(g.conditionals),
		reach:        reach,
		onError:      g.onError,
		opts:         options{poolSize: 4, logger: zap.NewNop()},
	}
	for k, v := range g.edges {
		e.edges[k] = append([]string(nil), v...)
	}
	for _, o := range opts {
		o(&e.opts)
	}
	return e, nil
}

// Nodes returns the registered node names, sorted.
func (g *Graph[S]) Nodes() []string {
	out := append([]string(nil), g.order...)
	sort.Strings(out)
	return out
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
