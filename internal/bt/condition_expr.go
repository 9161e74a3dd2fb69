package bt

import (
	"context"

	"github.com/expr-lang/expr"
)

// NewConditionExpr compiles source once at construction time and evaluates
// it on every tick against a scope-filtered view of the blackboard in which
// each namespace is a map of its keys, so `perception.battery` reads key
// battery of namespace perception. It succeeds when the expression is true.
// Supported operators are expr-lang's own: ==, !=, <, <=, >, >=, in,
// not in, contains, startsWith, endsWith, plus boolean and/or/not.
func NewConditionExpr(bus *EventBus, name, source string, scope ClientScope) (*NodeCore, error) {
	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, newError(ErrConfigInvalid, "invalid condition expression", err)
	}
	compiled := scope.compile()
	n := NewNode(bus, "condition-expr", name, func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		env := make(map[string]any)
		for ns, kv := range bb.Snapshot() {
			if !compiled.namespaceAllowed(ns) {
				continue
			}
			keys := make(map[string]any, len(kv))
			for k, e := range kv {
				if compiled.readAllowed(ns, k) {
					keys[k] = e.Value
				}
			}
			env[ns] = keys
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return StatusError, newError(ErrTickError, "condition expression evaluation failed", err)
		}
		truthy, ok := out.(bool)
		if !ok {
			return StatusError, newError(ErrTickError, "condition expression did not evaluate to a bool", nil)
		}
		if truthy {
			return StatusSuccess, nil
		}
		return StatusFailure, nil
	})
	return n, nil
}

// flattenBlackboard builds a "namespace.key" -> value map, bound as the `bb`
// object of scripted leaves, omitting any namespace/key the scope doesn't
// permit reading.
func flattenBlackboard(bb *Blackboard, scope *compiledScope) map[string]any {
	env := make(map[string]any)
	for ns, kv := range bb.Snapshot() {
		if !scope.namespaceAllowed(ns) {
			continue
		}
		for k, e := range kv {
			if !scope.readAllowed(ns, k) {
				continue
			}
			env[ns+"."+k] = e.Value
		}
	}
	return env
}
