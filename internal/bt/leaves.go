package bt

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ActionFunc is the user logic behind an ActionNode.
type ActionFunc func(ctx context.Context, bb *Blackboard) (Status, error)

// NewAction wraps an arbitrary ActionFunc as a leaf. It is the escape hatch
// for behavior that doesn't fit one of the other leaf kinds.
func NewAction(bus *EventBus, name string, fn ActionFunc) *NodeCore {
	return NewActionWithOptions(bus, name, fn, 0, 0)
}

// NewActionWithOptions wraps fn with an optional per-call timeout and an
// optional count of immediate re-invocations on FAILURE, both applied
// synchronously within a single tick. Unlike the Retry decorator or
// RetryUntilSuccessNode, re-invocations follow each other with no backoff
// delay.
func NewActionWithOptions(bus *EventBus, name string, fn ActionFunc, timeout time.Duration, retryCount int) *NodeCore {
	return NewNode(bus, "action", name, func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		attempts := retryCount + 1
		if attempts < 1 {
			attempts = 1
		}
		var status Status
		var err error
		for attempt := 0; attempt < attempts; attempt++ {
			callCtx := ctx
			var cancel context.CancelFunc
			if timeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			status, err = fn(callCtx, bb)
			if cancel != nil {
				if err == nil && callCtx.Err() == context.DeadlineExceeded {
					status, err = StatusFailure, nil
				}
				cancel()
			}
			if status != StatusFailure {
				return status, err
			}
		}
		return status, err
	})
}

// ConditionFunc evaluates a boolean predicate against the blackboard.
type ConditionFunc func(bb *Blackboard) (bool, error)

// NewCondition wraps a ConditionFunc as a leaf returning SUCCESS/FAILURE,
// never RUNNING.
func NewCondition(bus *EventBus, name string, fn ConditionFunc) *NodeCore {
	return NewNode(bus, "condition", name, func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		ok, err := fn(bb)
		if err != nil {
			return StatusError, newError(ErrTickError, "condition evaluation failed", err)
		}
		if ok {
			return StatusSuccess, nil
		}
		return StatusFailure, nil
	})
}

// NewTimedCondition succeeds only once fn has held true continuously for
// at least hold; any false reading resets the timer.
func NewTimedCondition(bus *EventBus, name string, fn ConditionFunc, hold time.Duration) *NodeCore {
	n := NewNode(bus, "timed-condition", name, nil, WithReset(func(self *NodeCore) {
		self.Private["since"] = int64(0)
	}))
	n.Private["since"] = int64(0)
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		ok, err := fn(bb)
		if err != nil {
			return StatusError, newError(ErrTickError, "timed condition evaluation failed", err)
		}
		if !ok {
			self.Private["since"] = int64(0)
			return StatusFailure, nil
		}
		since := self.Private["since"].(int64)
		now := time.Now().UnixNano()
		if since == 0 {
			self.Private["since"] = now
			return StatusRunning, nil
		}
		if time.Duration(now-since) >= hold {
			self.Private["since"] = int64(0)
			return StatusSuccess, nil
		}
		return StatusRunning, nil
	}
	return n
}

// NewWait runs for duration, ticking RUNNING until it elapses, then
// succeeds.
func NewWait(bus *EventBus, name string, duration time.Duration) *NodeCore {
	n := NewNode(bus, "wait", name, nil, WithReset(func(self *NodeCore) {
		self.Private["until"] = int64(0)
	}))
	n.Private["until"] = int64(0)
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		until := self.Private["until"].(int64)
		now := time.Now().UnixNano()
		if until == 0 {
			self.Private["until"] = now + duration.Nanoseconds()
			return StatusRunning, nil
		}
		if now >= until {
			self.Private["until"] = int64(0)
			return StatusSuccess, nil
		}
		return StatusRunning, nil
	}
	return n
}

// NewThrottle wraps an ActionFunc so it fires at most once per interval;
// calls arriving before the interval elapses immediately fail without
// invoking fn.
func NewThrottle(bus *EventBus, name string, fn ActionFunc, interval time.Duration) *NodeCore {
	n := NewNode(bus, "throttle", name, nil)
	n.Private["nextAt"] = int64(0)
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		nextAt := self.Private["nextAt"].(int64)
		now := time.Now().UnixNano()
		if now < nextAt {
			return StatusFailure, nil
		}
		status, err := fn(ctx, bb)
		if status != StatusRunning {
			self.Private["nextAt"] = now + interval.Nanoseconds()
		}
		return status, err
	}
	return n
}

// NewDebugLog emits a structured log line through logger every time it
// ticks, then always succeeds. Useful for annotating a descriptor without
// writing Go code.
func NewDebugLog(bus *EventBus, name string, logger *slog.Logger, message string, attrs ...slog.Attr) *NodeCore {
	return NewNode(bus, "debug-log", name, func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		logger.LogAttrs(ctx, slog.LevelInfo, message, attrs...)
		return StatusSuccess, nil
	})
}

// NewEventEmit publishes an EventStatusChanged Event carrying the given
// payload on the tree's bus, then always succeeds. The event kind is fixed;
// only the payload is user-supplied.
func NewEventEmit(bus *EventBus, name string, payload any) *NodeCore {
	n := NewNode(bus, "event-emit", name, nil)
	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		self.publish(EventStatusChanged, payload)
		return StatusSuccess, nil
	}
	return n
}

// NewBlackboardSet writes value to namespace/key through a Client scoped to
// scope, succeeding unless the write is denied by that scope, in which case
// it fails with an ACCESS_DENIED error rather than being applied.
func NewBlackboardSet(bus *EventBus, name string, namespace, key string, value any, scope ClientScope) *NodeCore {
	compiled := scope.compile()
	return NewNode(bus, "blackboard-set", name, func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		client := newScopedClient(bb, compiled)
		if err := client.Set(namespace, key, value); err != nil {
			return StatusFailure, err
		}
		return StatusSuccess, nil
	})
}

// NewBlackboardDelete removes namespace/key through a Client scoped to
// scope on every tick, succeeding regardless of whether the key existed,
// unless the delete is denied by that scope, in which case it fails with an
// ACCESS_DENIED error.
func NewBlackboardDelete(bus *EventBus, name string, namespace, key string, scope ClientScope) *NodeCore {
	compiled := scope.compile()
	return NewNode(bus, "blackboard-delete", name, func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		client := newScopedClient(bb, compiled)
		if err := client.Delete(namespace, key); err != nil {
			return StatusFailure, err
		}
		return StatusSuccess, nil
	})
}

// NewRetryUntilSuccess repeatedly invokes fn within a single Tick call,
// applying an exponential backoff between attempts, until it succeeds or
// maxAttempts is exhausted - resolving in the same outer tick rather than
// waiting for a re-tick between attempts. Unlike the Retry decorator this is
// a single leaf: fn is called directly rather than wrapping an arbitrary
// child subtree.
func NewRetryUntilSuccess(bus *EventBus, name string, fn ActionFunc, maxAttempts int, initialBackoff time.Duration) *NodeCore {
	n := NewNode(bus, "retry-until-success", name, nil, WithReset(func(self *NodeCore) {
		self.Private["attempt"] = 0
	}))
	n.Private["attempt"] = 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.Reset()

	n.tickFn = func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		for {
			status, err := fn(ctx, bb)
			if status == StatusSuccess {
				self.Private["attempt"] = 0
				bo.Reset()
				return StatusSuccess, nil
			}

			attempt := self.Private["attempt"].(int) + 1
			self.Private["attempt"] = attempt
			if attempt >= maxAttempts {
				self.Private["attempt"] = 0
				bo.Reset()
				return StatusFailure, err
			}

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
