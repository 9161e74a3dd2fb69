package bt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// lifecycleState tracks where a node sits in the CREATED -> READY -> ticking
// -> terminal state machine, independent of its last tick Status.
type lifecycleState int

const (
	stateCreated lifecycleState = iota
	stateReady
	stateShutdown
)

// EventBus fans lifecycle events out to any number of listeners. Nodes never
// call listeners directly; they publish through the bus owned by their tree.
type EventBus struct {
	mu        sync.Mutex
	listeners []func(Event)
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn to receive every published Event.
func (b *EventBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Publish delivers evt to every current listener. Listeners are invoked
// synchronously but outside of any node's internal lock. A listener that
// panics is logged at Warn level and does not affect the caller.
func (b *EventBus) Publish(evt Event) {
	b.mu.Lock()
	targets := append([]func(Event){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("event listener panicked", "node_id", evt.NodeID, "kind", evt.Kind, "panic", r)
				}
			}()
			fn(evt)
		}()
	}
}

// NodeStats accumulates lightweight per-node runtime counters, exposed
// through Manager.NodeStats() for observability without a metrics dependency.
type NodeStats struct {
	CreatedAt       int64
	TickCount       uint64
	SuccessCount    uint64
	FailureCount    uint64
	ErrorCount      uint64
	LastStatus      Status
	LastTickAt      int64
	LastDuration    time.Duration
	AverageDuration time.Duration
	LastError       string
}

// Node is the common contract every composite, decorator, and leaf
// satisfies. NodeCore is the sole concrete implementation; behavioral
// differences come from the function fields supplied at construction, not
// from separate types embedding a base.
type Node interface {
	ID() string
	Name() string
	Tick(ctx context.Context, bb *Blackboard) (Status, error)
	Setup(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Reset()
	LastStatus() Status
	Stats() NodeStats
	Children() []Node
}

// TickFunc is the user-supplied tick behavior of a node. self is provided so
// closures can call self.TickChild for composites/decorators without
// capturing a forward reference to the NodeCore being built.
type TickFunc func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error)

// NodeCore is the single concrete Node implementation. Composites,
// decorators, and leaves are all *NodeCore values configured with different
// function fields, following the closure-based "template method" idiom
// rather than a hierarchy of embedded base types.
type NodeCore struct {
	id       string
	name     string
	kind     string // short structural label such as "sequence", "retry" or "wait" - for descriptor/debug use
	children []Node
	bus      *EventBus

	tickFn     TickFunc
	setupFn    func(ctx context.Context, self *NodeCore) error
	shutdownFn func(ctx context.Context, self *NodeCore) error
	resetFn    func(self *NodeCore)

	mu     sync.Mutex
	state  lifecycleState
	status Status
	stats  NodeStats

	preconditions  []func(bb *Blackboard) bool
	postconditions []func(bb *Blackboard) bool
	properties     map[string]any

	// private freely usable by tickFn/setupFn closures to stash per-node
	// state (e.g. a decorator's retry count, a timeout's deadline).
	Private map[string]any
}

// NodeOption configures a NodeCore at construction time.
type NodeOption func(*NodeCore)

// WithChildren attaches child nodes, in tick order.
func WithChildren(children ...Node) NodeOption {
	return func(n *NodeCore) { n.children = children }
}

// WithSetup supplies the node's setup hook.
func WithSetup(fn func(ctx context.Context, self *NodeCore) error) NodeOption {
	return func(n *NodeCore) { n.setupFn = fn }
}

// WithShutdown supplies the node's shutdown hook.
func WithShutdown(fn func(ctx context.Context, self *NodeCore) error) NodeOption {
	return func(n *NodeCore) { n.shutdownFn = fn }
}

// WithReset supplies the node's reset hook, invoked whenever Reset is called
// on this node or on one of its ancestors.
func WithReset(fn func(self *NodeCore)) NodeOption {
	return func(n *NodeCore) { n.resetFn = fn }
}

// WithPreconditions attaches predicates checked before tickFn runs on every
// tick. If any returns false, Tick returns FAILURE without invoking
// tickFn.
func WithPreconditions(fns ...func(bb *Blackboard) bool) NodeOption {
	return func(n *NodeCore) { n.preconditions = append(n.preconditions, fns...) }
}

// WithPostconditions attaches predicates checked after tickFn returns
// SUCCESS. If any returns false, Tick demotes the result to FAILURE.
func WithPostconditions(fns ...func(bb *Blackboard) bool) NodeOption {
	return func(n *NodeCore) { n.postconditions = append(n.postconditions, fns...) }
}

// WithProperties attaches the descriptor properties a node was built from,
// for introspection by callers that don't otherwise have access to the
// originating Descriptor (a CLI inspector, a test assertion).
func WithProperties(props map[string]any) NodeOption {
	return func(n *NodeCore) { n.properties = props }
}

// NewNode constructs a NodeCore. name is the descriptor-assigned name (may
// be empty); kind is a short label such as "sequence" or "wait" used for
// debugging and descriptor round-tripping.
func NewNode(bus *EventBus, kind, name string, tick TickFunc, opts ...NodeOption) *NodeCore {
	n := &NodeCore{
		id:      uuid.NewString(),
		name:    name,
		kind:    kind,
		bus:     bus,
		tickFn:  tick,
		status:  StatusInvalid,
		Private: make(map[string]any),
	}
	n.stats.CreatedAt = time.Now().UnixNano()
	for _, opt := range opts {
		opt(n)
	}
	n.publish(EventInitialized, nil)
	return n
}

func (n *NodeCore) publish(kind EventKind, payload any) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(Event{
		Kind:      kind,
		NodeID:    n.id,
		NodeName:  n.name,
		Timestamp: time.Now().UnixNano(),
		Payload:   payload,
	})
}

// ID returns the node's stable, generated identifier.
func (n *NodeCore) ID() string { return n.id }

// Name returns the descriptor-assigned name, which may be empty.
func (n *NodeCore) Name() string { return n.name }

// Kind returns the short structural label ("sequence", "inverter", "wait", ...).
func (n *NodeCore) Kind() string { return n.kind }

// Children returns the node's children in tick order. Leaves return nil.
func (n *NodeCore) Children() []Node { return n.children }

// LastStatus returns the status produced by the node's most recent tick.
func (n *NodeCore) LastStatus() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Stats returns a copy of the node's accumulated counters.
func (n *NodeCore) Stats() NodeStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Properties returns the descriptor properties this node was built from, or
// nil for a node built directly with a constructor rather than a
// Descriptor.
func (n *NodeCore) Properties() map[string]any { return n.properties }

// Setup transitions the node from CREATED to READY, running setupFn exactly
// once. Calling Setup on an already-ready node is a no-op.
func (n *NodeCore) Setup(ctx context.Context) error {
	n.mu.Lock()
	if n.state != stateCreated {
		n.mu.Unlock()
		return nil
	}
	n.state = stateReady
	n.mu.Unlock()

	n.publish(EventSetup, nil)
	if n.setupFn != nil {
		if err := n.setupFn(ctx, n); err != nil {
			return newError(ErrSetupFailed, fmt.Sprintf("node %s (%s) setup failed", n.name, n.kind), err)
		}
	}
	for _, c := range n.children {
		if err := c.Setup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Tick runs one tick of this node, recovering from panics as StatusError,
// and recording the ENTERING/EXITING/STATUS_CHANGED events and stats the
// runtime relies on for observability and snapshotting. A failed
// precondition short circuits before ENTERING is published: it never runs
// node logic and never counts as having entered the node, only a
// STATUS_CHANGED if the status actually changed.
func (n *NodeCore) Tick(ctx context.Context, bb *Blackboard) (status Status, err error) {
	prev := n.LastStatus()
	start := time.Now()

	select {
	case <-ctx.Done():
		status, err = StatusError, newError(ErrCancelled, fmt.Sprintf("node %s (%s) cancelled", n.name, n.kind), ctx.Err())
		n.recordTick(status, time.Since(start), err)
		if status != prev {
			n.publish(EventStatusChanged, status)
		}
		n.publish(EventError, err)
		return status, err
	default:
	}

	if !n.checkConditions(n.preconditions, bb) {
		status = StatusFailure
		n.recordTick(status, time.Since(start), nil)
		if status != prev {
			n.publish(EventStatusChanged, status)
		}
		return status, nil
	}

	if prev != StatusRunning {
		n.publish(EventEntering, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			status = StatusError
			err = newError(ErrTickError, fmt.Sprintf("node %s (%s) panicked", n.name, n.kind), fmt.Errorf("%v", r))
		}
		var recordErr error
		if status == StatusError {
			recordErr = err
		}
		n.recordTick(status, time.Since(start), recordErr)
		if status != StatusRunning {
			n.publish(EventExiting, nil)
		}
		if status != prev {
			n.publish(EventStatusChanged, status)
		}
		if status == StatusError {
			n.publish(EventError, err)
		}
	}()

	status, err = n.tickFn(ctx, n, bb)
	if verr := status.Validate(); verr != nil || status == StatusInvalid {
		return StatusError, newError(ErrTickError, fmt.Sprintf("node %s (%s) returned invalid status %q", n.name, n.kind, status), verr)
	}
	if status == StatusSuccess && !n.checkConditions(n.postconditions, bb) {
		return StatusFailure, nil
	}
	return status, err
}

// checkConditions evaluates every predicate in fns against bb, short
// circuiting on the first false. An empty list always passes.
func (n *NodeCore) checkConditions(fns []func(bb *Blackboard) bool, bb *Blackboard) bool {
	for _, fn := range fns {
		if !fn(bb) {
			return false
		}
	}
	return true
}

// recordTick updates the node's counters and, for a completed (non-RUNNING)
// tick, its running-mean duration. tickErr, when non-nil, becomes the new
// LastError; a nil tickErr leaves the previous LastError in place, since it
// records the most recent error observed rather than the most recent tick.
func (n *NodeCore) recordTick(status Status, duration time.Duration, tickErr error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
	n.stats.TickCount++
	n.stats.LastStatus = status
	n.stats.LastTickAt = time.Now().UnixNano()
	switch status {
	case StatusSuccess:
		n.stats.SuccessCount++
	case StatusFailure:
		n.stats.FailureCount++
	case StatusError:
		n.stats.ErrorCount++
	}
	if status != StatusRunning {
		n.stats.LastDuration = duration
		completed := n.stats.SuccessCount + n.stats.FailureCount + n.stats.ErrorCount
		n.stats.AverageDuration += (duration - n.stats.AverageDuration) / time.Duration(completed)
	}
	if tickErr != nil {
		n.stats.LastError = tickErr.Error()
	}
}

// TickChild ticks a single child, a convenience used by composite/decorator
// tickFn closures instead of calling child.Tick directly.
func (n *NodeCore) TickChild(ctx context.Context, child Node, bb *Blackboard) (Status, error) {
	return child.Tick(ctx, bb)
}

// Reset returns the node (and, unless it is a leaf, its subtree) to
// StatusInvalid, invoking resetFn if supplied. Reactive composites and
// Parallel call this on children they abandon, and Repeat, Retry and Timeout
// call it on a child they restart; Sequence and Selector do not call it.
func (n *NodeCore) Reset() {
	n.mu.Lock()
	n.status = StatusInvalid
	n.mu.Unlock()
	if n.resetFn != nil {
		n.resetFn(n)
	}
	for _, c := range n.children {
		c.Reset()
	}
}

// Shutdown transitions the node to terminal, idempotently. Safe to call
// multiple times and safe to call on a node that was never set up.
func (n *NodeCore) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.state == stateShutdown {
		n.mu.Unlock()
		return nil
	}
	n.state = stateShutdown
	n.mu.Unlock()

	var firstErr error
	for _, c := range n.children {
		if err := c.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n.shutdownFn != nil {
		if err := n.shutdownFn(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.publish(EventShutdown, nil)
	return firstErr
}
