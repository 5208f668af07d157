package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Result is the outcome of an asynchronous search.
type Result struct {
	Path Path
	Err  error
}

// Pending is a handle to a search queued on a Planner.
type Pending struct {
	Start, Goal NodeID

	ctx    context.Context
	cancel context.CancelFunc
	reply  chan Result
	res    *Result
}

// Poll returns the result once the search has finished. It never blocks.
func (p *Pending) Poll() (Result, bool) {
	if p == nil {
		return Result{}, false
	}
	if p.res != nil {
		return *p.res, true
	}
	select {
	case r := <-p.reply:
		p.res = &r
		return r, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the search finishes or ctx is done. A nil Pending has
// no search to wait for.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	if p == nil {
		return Result{}, errNoSearch
	}
	if p.res != nil {
		return *p.res, nil
	}
	select {
	case r := <-p.reply:
		p.res = &r
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel abandons the search. A worker that has not started it skips it.
func (p *Pending) Cancel() {
	if p != nil && p.cancel != nil {
		p.cancel()
	}
}

var errNoSearch = errors.New("nav: no pending search")

type planRequest struct {
	pending *Pending
}

// Planner runs searches on a pool of worker goroutines so large graphs do not
// stall the simulation tick. The graph is read-only and shared by all workers.
type Planner struct {
	graph   *Graph
	finder  *PathFinder
	workers int
	log     *slog.Logger

	mu       sync.RWMutex
	closed   bool
	requests chan planRequest
	done     chan struct{}
	wg       sync.WaitGroup
	start    sync.Once
	stop     sync.Once
}

type PlannerOption func(*Planner)

func WithPlannerFinder(pf *PathFinder) PlannerOption {
	return func(p *Planner) {
		if pf != nil {
			p.finder = pf
		}
	}
}

func WithPlannerLogger(l *slog.Logger) PlannerOption {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}

// WithQueueSize sets how many searches may wait for a worker.
func WithQueueSize(n int) PlannerOption {
	return func(p *Planner) {
		if n > 0 {
			p.requests = make(chan planRequest, n)
		}
	}
}

func NewPlanner(g *Graph, workers int, opts ...PlannerOption) *Planner {
	if workers <= 0 {
		workers = 1
	}
	p := &Planner{
		graph:    g,
		finder:   &PathFinder{},
		workers:  workers,
		log:      slog.Default(),
		requests: make(chan planRequest, workers*16),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. When ctx is done the planner closes itself:
// later submits fail with ErrPlannerClosed and queued searches resolve with
// an error wrapping it and ctx's cause.
func (p *Planner) Start(ctx context.Context) {
	p.start.Do(func() {
		for i := range p.workers {
			p.wg.Add(1)
			go p.run(ctx, i)
		}
		go func() {
			select {
			case <-ctx.Done():
				p.shutdown(fmt.Errorf("%w: %w", ErrPlannerClosed, context.Cause(ctx)))
			case <-p.done:
			}
		}()
		p.log.Debug("planner started", "workers", p.workers, "queue", cap(p.requests))
	})
}

// Submit queues a search without blocking. Cancelling ctx abandons it.
func (p *Planner) Submit(ctx context.Context, start, goal NodeID) (*Pending, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPlannerClosed
	}
	if !p.graph.Contains(start) {
		return nil, invalidNode(start)
	}
	if !p.graph.Contains(goal) {
		return nil, invalidNode(goal)
	}

	rctx, cancel := context.WithCancel(ctx)
	pending := &Pending{
		Start:  start,
		Goal:   goal,
		ctx:    rctx,
		cancel: cancel,
		reply:  make(chan Result, 1),
	}
	select {
	case p.requests <- planRequest{pending: pending}:
		return pending, nil
	default:
		cancel()
		return nil, ErrPlannerBusy
	}
}

// Close stops the workers and fails any search still queued.
func (p *Planner) Close() {
	p.shutdown(ErrPlannerClosed)
}

func (p *Planner) shutdown(reason error) {
	p.stop.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		p.wg.Wait()
		drained := 0
		for {
			select {
			case req := <-p.requests:
				req.pending.reply <- Result{Err: reason}
				req.pending.cancel()
				drained++
			default:
				p.log.Debug("planner stopped", "reason", reason, "drained", drained)
				return
			}
		}
	})
}

func (p *Planner) run(ctx context.Context, worker int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case req := <-p.requests:
			p.serve(req.pending, worker)
		}
	}
}

func (p *Planner) serve(pending *Pending, worker int) {
	defer pending.cancel()
	if err := pending.ctx.Err(); err != nil {
		pending.reply <- Result{Err: err}
		return
	}
	path, err := p.finder.FindPath(p.graph, pending.Start, pending.Goal)
	if err != nil {
		p.log.Warn("planner search failed", "worker", worker, "start", pending.Start, "goal", pending.Goal, "error", err)
	}
	pending.reply <- Result{Path: path, Err: err}
}
