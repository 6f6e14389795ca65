package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type options struct {
	poolSize int
	logger   *zap.Logger
}

// Option tunes an Engine at compile time.
type Option func(*options)

// WithPoolSize bounds how many nodes of one step run at once.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Engine is a compiled, immutable graph. It is safe for concurrent runs.
type Engine[S any] struct {
	schema       *Schema[S]
	nodes        map[string]NodeFunc[S]
	entry        string
	edges        map[string][]string
	conditionals map[string]conditional[S]
	reach        map[string]map[string]bool
	onError      func(node string, err error) S
	opts         options
}

// NodeResult records one node execution.
type NodeResult struct {
	Node     string        `json:"node"`
	Step     int           `json:"step"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Report describes a finished run.
type Report struct {
	Results []NodeResult `json:"results"`
}

// Ran reports whether node executed.
func (r *Report) Ran(node string) bool {
	for _, res := range r.Results {
		if res.Node == node {
			return true
		}
	}
	return false
}

// Failed returns the nodes that returned an error, with their errors.
func (r *Report) Failed() map[string]error {
	out := map[string]error{}
	for _, res := range r.Results {
		if res.Err != nil {
			out[res.Node] = res.Err
		}
	}
	return out
}

// Run executes the graph from the entry node over initial and returns the
// final merged state. Node failures never abort the run; only cancellation
// of ctx does.
func (e *Engine[S]) Run(ctx context.Context, initial S) (S, *Report, error) {
	state := initial
	report := &Report{}
	ran := map[string]bool{}
	pending := map[string]bool{e.entry: true}

	for step := 0; len(pending) > 0; step++ {
		if err := ctx.Err(); err != nil {
			return state, report, fmt.Errorf("workflow cancelled at step %d: %w", step, err)
		}

		frontier := e.ready(pending)
		for _, n := range frontier {
			delete(pending, n)
		}

		results := e.runStep(ctx, step, state, frontier)
		for i, n := range frontier {
			ran[n] = true
			res := results[i]
			report.Results = append(report.Results, res.NodeResult)
			if res.Err != nil {
				e.opts.logger.Warn("workflow node failed",
					zap.String("node", n), zap.Int("step", step), zap.Error(res.Err))
				if e.onError != nil {
					e.schema.Merge(&state, e.onError(n, res.Err))
				}
				continue
			}
			e.schema.Merge(&state, res.update)
		}

		for _, n := range frontier {
			for _, next := range e.next(n, state) {
				if !ran[next] {
					pending[next] = true
				}
			}
		}
	}
	return state, report, nil
}

// ready picks the pending nodes that no other pending node can still reach,
// so a join only runs once every branch heading its way has finished.
func (e *Engine[S]) ready(pending map[string]bool) []string {
	var out []string
	for c := range pending {
		blocked := false
		for d := range pending {
			if d != c && e.reach[d][c] {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine[S]) next(node string, state S) []string {
	out := append([]string(nil), e.edges[node]...)
	c, ok := e.conditionals[node]
	if !ok {
		return out
	}

	allowed := make(map[string]bool, len(c.targets))
	for _, t := range c.targets {
		allowed[t] = true
	}
	chosen := 0
	for _, t := range routeSafely(c.route, state, e.opts.logger, node) {
		if !allowed[t] {
			e.opts.logger.Warn("router picked undeclared target",
				zap.String("node", node), zap.String("target", t))
			continue
		}
		out = append(out, t)
		chosen++
	}
	if chosen == 0 && c.fallback != "" {
		out = append(out, c.fallback)
	}
	return out
}

func routeSafely[S any](route Router[S], state S, logger *zap.Logger, node string) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("router panicked", zap.String("node", node), zap.Any("panic", r))
			out = nil
		}
	}()
	return route(state)
}

type stepResult[S any] struct {
	NodeResult
	update S
}

func (e *Engine[S]) runStep(ctx context.Context, step int, state S, frontier []string) []stepResult[S] {
	results := make([]stepResult[S], len(frontier))
	pool := make(chan struct{}, e.opts.poolSize)
	var wg sync.WaitGroup

	for i, name := range frontier {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			pool <- struct{}{}
			defer func() { <-pool }()

			start := time.Now()
			update, err := e.invoke(ctx, name, state)
			results[i] = stepResult[S]{
				NodeResult: NodeResult{Node: name, Step: step, Duration: time.Since(start), Err: err},
				update:     update,
			}
		}(i, name)
	}
	wg.Wait()
	return results
}

func (e *Engine[S]) invoke(ctx context.Context, name string, state S) (update S, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero S
			update, err = zero, fmt.Errorf("node %s panicked: %v", name, r)
		}
	}()
	return e.nodes[name](ctx, state)
}
