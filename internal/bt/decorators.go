package bt

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewInverter flips SUCCESS and FAILURE; RUNNING and ERROR pass through
// unchanged.
func NewInverter(bus *EventBus, name string, child Node) *NodeCore {
	n := NewNode(bus, "inverter", name, nil, WithChildren(child))
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		status, err := self.TickChild(ctx, child, bb)
		switch status {
		case StatusSuccess:
			return StatusFailure, nil
		case StatusFailure:
			return StatusSuccess, nil
		default:
			return status, err
		}
	}
	return n
}

// NewForceSuccess maps any terminal child result to SUCCESS, passing RUNNING
// through.
func NewForceSuccess(bus *EventBus, name string, child Node) *NodeCore {
	n := NewNode(bus, "force-success", name, nil, WithChildren(child))
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		status, err := self.TickChild(ctx, child, bb)
		if status == StatusRunning {
			return status, err
		}
		return StatusSuccess, nil
	}
	return n
}

// NewForceFailure maps any terminal child result to FAILURE, passing RUNNING
// through.
func NewForceFailure(bus *EventBus, name string, child Node) *NodeCore {
	n := NewNode(bus, "force-failure", name, nil, WithChildren(child))
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		status, err := self.TickChild(ctx, child, bb)
		if status == StatusRunning {
			return status, err
		}
		return StatusFailure, nil
	}
	return n
}

// NewRepeat re-ticks the child count times, requiring SUCCESS each time;
// a count of -1 repeats indefinitely until the child fails or errors. The
// decorator itself only reaches a terminal status once the target count is
// hit (SUCCESS) or the child fails/errors (that status passes through).
func NewRepeat(bus *EventBus, name string, child Node, count int) *NodeCore {
	n := NewNode(bus, "repeat", name, nil, WithChildren(child), WithReset(func(self *NodeCore) {
		self.Private["done"] = 0
	}))
	n.Private["done"] = 0
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		status, err := self.TickChild(ctx, child, bb)
		if err != nil {
			return status, err
		}
		switch status {
		case StatusRunning:
			return StatusRunning, nil
		case StatusFailure, StatusError:
			self.Private["done"] = 0
			return status, nil
		}
		done := self.Private["done"].(int) + 1
		self.Private["done"] = done
		if count >= 0 && done >= count {
			self.Private["done"] = 0
			return StatusSuccess, nil
		}
		child.Reset()
		return StatusRunning, nil
	}
	return n
}

// NewRetry re-ticks the child on FAILURE up to maxAttempts times within a
// single Tick call, applying an exponential backoff delay (via backoff/v4)
// between attempts. A child that returns RUNNING suspends the whole retry
// loop and yields RUNNING to the caller, resuming on the next outer tick;
// SUCCESS or exhausting attempts yields a terminal status within the same
// tick that produced it, and ERROR passes through immediately without
// retrying.
func NewRetry(bus *EventBus, name string, child Node, maxAttempts int, initialBackoff time.Duration) *NodeCore {
	n := NewNode(bus, "retry", name, nil, WithChildren(child), WithReset(func(self *NodeCore) {
		self.Private["attempt"] = 0
	}))
	n.Private["attempt"] = 0

	newBackoff := func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initialBackoff
		b.Reset()
		return b
	}
	bo := newBackoff()

	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		for {
			status, err := self.TickChild(ctx, child, bb)
			switch status {
			case StatusRunning:
				return StatusRunning, err
			case StatusSuccess:
				self.Private["attempt"] = 0
				bo.Reset()
				return StatusSuccess, nil
			case StatusError:
				return status, err
			}

			attempt := self.Private["attempt"].(int) + 1
			self.Private["attempt"] = attempt
			if attempt >= maxAttempts {
				self.Private["attempt"] = 0
				bo.Reset()
				return StatusFailure, nil
			}
			child.Reset()

			delay := bo.NextBackOff()
			if delay <= 0 {
				continue
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return StatusError, newError(ErrCancelled, "retry cancelled during backoff", ctx.Err())
			case <-timer.C:
			}
		}
	}
	return n
}

// NewTimeout fails the decorator with a TIMEOUT error once limit has
// elapsed since the child first started running, cancelling the child's
// context.
func NewTimeout(bus *EventBus, name string, child Node, limit time.Duration) *NodeCore {
	n := NewNode(bus, "timeout", name, nil, WithChildren(child), WithReset(func(self *NodeCore) {
		self.Private["deadline"] = int64(0)
	}))
	n.Private["deadline"] = int64(0)
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		deadline := self.Private["deadline"].(int64)
		now := time.Now()
		if deadline == 0 {
			deadline = now.Add(limit).UnixNano()
			self.Private["deadline"] = deadline
		}
		if now.UnixNano() >= deadline {
			self.Private["deadline"] = int64(0)
			child.Reset()
			return StatusFailure, newError(ErrTimeout, "child exceeded timeout", nil)
		}

		childCtx, cancel := context.WithDeadline(ctx, time.Unix(0, deadline))
		defer cancel()
		status, err := self.TickChild(childCtx, child, bb)
		if status != StatusRunning {
			self.Private["deadline"] = int64(0)
		}
		return status, err
	}
	return n
}

// NewCooldown fails ticks immediately (without ticking the child) for
// duration after the child last reached a terminal status.
func NewCooldown(bus *EventBus, name string, child Node, duration time.Duration) *NodeCore {
	n := NewNode(bus, "cooldown", name, nil, WithChildren(child))
	n.Private["cooldownUntil"] = int64(0)
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		until := self.Private["cooldownUntil"].(int64)
		if time.Now().UnixNano() < until {
			return StatusFailure, nil
		}
		status, err := self.TickChild(ctx, child, bb)
		if status.IsTerminal() {
			self.Private["cooldownUntil"] = time.Now().Add(duration).UnixNano()
		}
		return status, err
	}
	return n
}

// NewDelay sleeps for pre before the first tick of the child, and for post
// after the child reaches a terminal status before that status is reported,
// without blocking other siblings (the delay itself is expressed as RUNNING
// ticks).
func NewDelay(bus *EventBus, name string, child Node, pre, post time.Duration) *NodeCore {
	n := NewNode(bus, "delay", name, nil, WithChildren(child), WithReset(func(self *NodeCore) {
		self.Private["phase"] = "pre"
		self.Private["until"] = int64(0)
		self.Private["result"] = StatusInvalid
	}))
	n.Private["phase"] = "pre"
	n.Private["until"] = int64(0)
	n.Private["result"] = StatusInvalid

	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		phase := self.Private["phase"].(string)
		now := time.Now().UnixNano()

		if phase == "pre" {
			until := self.Private["until"].(int64)
			if until == 0 {
				until = now + pre.Nanoseconds()
				self.Private["until"] = until
			}
			if now < until {
				return StatusRunning, nil
			}
			self.Private["phase"] = "run"
		}

		if self.Private["phase"].(string) == "run" {
			status, err := self.TickChild(ctx, child, bb)
			if err != nil {
				self.Private["phase"] = "pre"
				self.Private["until"] = int64(0)
				return status, err
			}
			if status == StatusRunning {
				return StatusRunning, nil
			}
			self.Private["result"] = status
			self.Private["phase"] = "post"
			now = time.Now().UnixNano()
			self.Private["until"] = now + post.Nanoseconds()
		}

		until := self.Private["until"].(int64)
		if now < until {
			return StatusRunning, nil
		}
		result := self.Private["result"].(Status)
		self.Private["phase"] = "pre"
		self.Private["until"] = int64(0)
		return result, nil
	}
	return n
}
