package bt

import (
	"context"
	"math/rand"
)

// MemoryPolicy controls whether a composite resumes a RUNNING child from
// where it left off (PERSISTENT) or re-evaluates every child from the first
// one on each tick (FRESH).
type MemoryPolicy string

const (
	MemoryPersistent MemoryPolicy = "PERSISTENT"
	MemoryFresh      MemoryPolicy = "FRESH"
)

// NewSequence ticks children left to right, stopping at the first non-SUCCESS
// result. With PERSISTENT memory, a RUNNING child is resumed directly on the
// next tick rather than re-ticking already-succeeded siblings.
func NewSequence(bus *EventBus, name string, memory MemoryPolicy, children ...Node) *NodeCore {
	n := NewNode(bus, "sequence", name, nil, WithChildren(children...))
	cursor := 0
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		start := 0
		if memory == MemoryPersistent {
			start = cursor
		}
		for i := start; i < len(self.children); i++ {
			status, err := self.TickChild(ctx, self.children[i], bb)
			switch status {
			case StatusRunning:
				cursor = i
				return StatusRunning, nil
			case StatusFailure:
				cursor = 0
				return status, nil
			case StatusError:
				cursor = 0
				return status, err
			}
		}
		cursor = 0
		return StatusSuccess, nil
	}
	return n
}

// NewSelector ticks children left to right, stopping at the first non-FAILURE
// result. With PERSISTENT memory a RUNNING child is resumed directly.
func NewSelector(bus *EventBus, name string, memory MemoryPolicy, children ...Node) *NodeCore {
	n := NewNode(bus, "selector", name, nil, WithChildren(children...))
	cursor := 0
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		start := 0
		if memory == MemoryPersistent {
			start = cursor
		}
		for i := start; i < len(self.children); i++ {
			status, err := self.TickChild(ctx, self.children[i], bb)
			switch status {
			case StatusRunning:
				cursor = i
				return StatusRunning, nil
			case StatusSuccess:
				cursor = 0
				return status, nil
			case StatusError:
				cursor = 0
				return status, err
			}
		}
		cursor = 0
		return StatusFailure, nil
	}
	return n
}

// NewReactiveSequence always re-evaluates from the first child on every
// tick, aborting (and resetting) a currently-RUNNING child if an earlier
// sibling's condition no longer holds.
func NewReactiveSequence(bus *EventBus, name string, children ...Node) *NodeCore {
	n := NewNode(bus, "reactive-sequence", name, nil, WithChildren(children...))
	runningIdx := -1
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		for i, c := range self.children {
			status, err := self.TickChild(ctx, c, bb)
			switch status {
			case StatusRunning:
				if runningIdx != -1 && runningIdx != i {
					self.children[runningIdx].Reset()
				}
				runningIdx = i
				return StatusRunning, nil
			case StatusFailure:
				abortRunningSibling(self.children, i, &runningIdx)
				return status, nil
			case StatusError:
				abortRunningSibling(self.children, i, &runningIdx)
				return status, err
			}
		}
		runningIdx = -1
		return StatusSuccess, nil
	}
	return n
}

// NewReactiveSelector always re-evaluates from the first child on every
// tick, aborting a currently-RUNNING child if an earlier sibling now
// succeeds.
func NewReactiveSelector(bus *EventBus, name string, children ...Node) *NodeCore {
	n := NewNode(bus, "reactive-selector", name, nil, WithChildren(children...))
	runningIdx := -1
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		for i, c := range self.children {
			status, err := self.TickChild(ctx, c, bb)
			switch status {
			case StatusRunning:
				if runningIdx != -1 && runningIdx != i {
					self.children[runningIdx].Reset()
				}
				runningIdx = i
				return StatusRunning, nil
			case StatusSuccess:
				abortRunningSibling(self.children, i, &runningIdx)
				return status, nil
			case StatusError:
				abortRunningSibling(self.children, i, &runningIdx)
				return status, err
			}
		}
		runningIdx = -1
		return StatusFailure, nil
	}
	return n
}

func abortRunningSibling(children []Node, upTo int, runningIdx *int) {
	if *runningIdx != -1 && *runningIdx != upTo {
		children[*runningIdx].Reset()
	}
	*runningIdx = -1
}

// NewRandomSelector shuffles the child order once per non-resumed entry,
// then behaves like a Selector over that order. A RUNNING child is always
// resumed directly regardless of shuffle.
func NewRandomSelector(bus *EventBus, name string, rng *rand.Rand, children ...Node) *NodeCore {
	n := NewNode(bus, "random-selector", name, nil, WithChildren(children...))
	var order []int
	cursor := 0
	running := false
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		if !running {
			order = rng.Perm(len(self.children))
			cursor = 0
		}
		for ; cursor < len(order); cursor++ {
			idx := order[cursor]
			status, err := self.TickChild(ctx, self.children[idx], bb)
			switch status {
			case StatusRunning:
				running = true
				return StatusRunning, nil
			case StatusSuccess:
				running = false
				return status, nil
			case StatusError:
				running = false
				return status, err
			}
		}
		running = false
		return StatusFailure, nil
	}
	return n
}

// ParallelPolicy determines when a Parallel composite completes given the
// mix of statuses among its children on the current tick.
type ParallelPolicy string

const (
	// ParallelRequireAll succeeds only once every child has succeeded;
	// any child failure fails the whole node.
	ParallelRequireAll ParallelPolicy = "REQUIRE_ALL"
	// ParallelRequireOne succeeds as soon as one child succeeds; fails
	// only once every child has failed.
	ParallelRequireOne ParallelPolicy = "REQUIRE_ONE"
	// ParallelSequenceStar succeeds once at least SuccessThreshold
	// children have succeeded, subject to FailureThreshold.
	ParallelSequenceStar ParallelPolicy = "SEQUENCE_STAR"
	// ParallelSelectorStar fails once at least FailureThreshold children
	// have failed, subject to SuccessThreshold.
	ParallelSelectorStar ParallelPolicy = "SELECTOR_STAR"
)

// ParallelConfig configures a Parallel composite's completion rule.
type ParallelConfig struct {
	Policy           ParallelPolicy
	SuccessThreshold int  // used by SEQUENCE_STAR/SELECTOR_STAR; 0 selects the default: all children for SEQUENCE_STAR, one for SELECTOR_STAR
	FailureThreshold int  // used by SEQUENCE_STAR/SELECTOR_STAR; 0 selects the default: one child for SEQUENCE_STAR, all for SELECTOR_STAR
	Synchronized     bool // if true, all children are re-ticked every cycle even after reaching a terminal status, and no decision is made until every child is terminal on the same tick; if false, terminal children are held at their last status without re-ticking
}

// NewParallel ticks every child on every tick (unless Synchronized is false,
// in which case children that already reached a terminal status are held
// rather than re-ticked) and evaluates completion per Policy. In
// Synchronized mode it returns RUNNING while any child is still
// non-terminal. On a tie between the success and failure thresholds in the
// same tick, success wins. When Synchronized is false a child's terminal
// status is sticky: once held, it is not re-ticked and not cleared by the
// composite reaching its own decision, only by an external Reset() starting
// a fresh round.
func NewParallel(bus *EventBus, name string, cfg ParallelConfig, children ...Node) *NodeCore {
	held := make([]Status, len(children))
	for i := range held {
		held[i] = StatusInvalid
	}
	n := NewNode(bus, "parallel", name, nil, WithChildren(children...), WithReset(func(self *NodeCore) {
		for i := range held {
			held[i] = StatusInvalid
		}
	}))
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		successes, failures := 0, 0
		pending := false
		var firstErr error
		for i, c := range self.children {
			status := held[i]
			if cfg.Synchronized || !status.IsTerminal() {
				var err error
				status, err = self.TickChild(ctx, c, bb)
				held[i] = status
				// A child ERROR counts toward the failure threshold rather
				// than aborting the whole node immediately; the first error
				// is still surfaced once a terminal status is reached.
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}
			if !status.IsTerminal() {
				pending = true
			}
			effective := status
			if effective == StatusError {
				effective = StatusFailure
			}
			switch effective {
			case StatusSuccess:
				successes++
			case StatusFailure:
				failures++
			}
		}

		if cfg.Synchronized && pending {
			return StatusRunning, nil
		}
		successThreshold, failureThreshold := parallelThresholds(cfg, len(self.children))

		// Tie-break: success wins when both thresholds are met on the same tick.
		if successes >= successThreshold {
			cancelRunningChildren(self.children, held)
			return StatusSuccess, nil
		}
		if failures >= failureThreshold {
			cancelRunningChildren(self.children, held)
			if firstErr != nil {
				return StatusError, firstErr
			}
			return StatusFailure, nil
		}
		return StatusRunning, nil
	}
	return n
}

func parallelThresholds(cfg ParallelConfig, n int) (success, failure int) {
	switch cfg.Policy {
	case ParallelRequireAll:
		return n, 1
	case ParallelRequireOne:
		return 1, n
	case ParallelSequenceStar:
		s := cfg.SuccessThreshold
		if s <= 0 {
			s = n
		}
		f := cfg.FailureThreshold
		if f <= 0 {
			f = 1
		}
		return s, f
	case ParallelSelectorStar:
		s := cfg.SuccessThreshold
		if s <= 0 {
			s = 1
		}
		f := cfg.FailureThreshold
		if f <= 0 {
			f = n
		}
		return s, f
	default:
		return n, 1
	}
}

// cancelRunningChildren invokes cancellation (Reset) only on children that
// hadn't reached a terminal status when the composite decided, leaving
// already-terminal siblings' held status untouched and sticky.
func cancelRunningChildren(children []Node, held []Status) {
	for i, c := range children {
		if !held[i].IsTerminal() {
			c.Reset()
			held[i] = StatusInvalid
		}
	}
}
