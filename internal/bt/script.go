package bt

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// NewScriptedAction compiles a JavaScript source once, then on every tick
// runs it in a fresh goja.Runtime with `bb` bound to a scope-filtered,
// flattened snapshot of the blackboard and `set(namespace, key, value)`
// bound to a write-through helper that enforces the same scope. The
// script's completion value must be one of the Status strings ("SUCCESS",
// "FAILURE", "RUNNING").
func NewScriptedAction(bus *EventBus, name, source string, scope ClientScope) (*NodeCore, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, newError(ErrConfigInvalid, "invalid action script", err)
	}
	compiled := scope.compile()

	n := NewNode(bus, "scripted-action", name, func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		client := newScopedClient(bb, compiled)
		vm := goja.New()
		if err := vm.Set("bb", flattenBlackboard(bb, compiled)); err != nil {
			return StatusError, newError(ErrTickError, "failed to bind blackboard to script", err)
		}
		var writeErr error
		if err := vm.Set("set", func(namespace, key string, value any) {
			if err := client.Set(namespace, key, value); err != nil {
				writeErr = err
			}
		}); err != nil {
			return StatusError, newError(ErrTickError, "failed to bind set() to script", err)
		}

		result, err := vm.RunProgram(program)
		if err != nil {
			return StatusError, newError(ErrTickError, "action script raised an exception", err)
		}
		if writeErr != nil {
			return StatusFailure, writeErr
		}

		status := Status(result.String())
		if err := status.Validate(); err != nil || status == StatusInvalid {
			return StatusError, newError(ErrTickError, fmt.Sprintf("action script returned invalid status %q", result.String()), nil)
		}
		return status, nil
	})
	return n, nil
}

// NewScriptedCondition compiles a JavaScript predicate once, then on every
// tick evaluates it with `bb` bound as in NewScriptedAction, succeeding when
// the script's completion value is truthy.
func NewScriptedCondition(bus *EventBus, name, source string, scope ClientScope) (*NodeCore, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, newError(ErrConfigInvalid, "invalid condition script", err)
	}
	compiled := scope.compile()

	n := NewNode(bus, "scripted-condition", name, func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		vm := goja.New()
		if err := vm.Set("bb", flattenBlackboard(bb, compiled)); err != nil {
			return StatusError, newError(ErrTickError, "failed to bind blackboard to script", err)
		}

		result, err := vm.RunProgram(program)
		if err != nil {
			return StatusError, newError(ErrTickError, "condition script raised an exception", err)
		}
		if result.ToBoolean() {
			return StatusSuccess, nil
		}
		return StatusFailure, nil
	})
	return n, nil
}
