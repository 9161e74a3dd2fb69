package bt

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"gopkg.in/yaml.v3"
)

// Descriptor is the on-disk shape of a tree or subtree, decoded from YAML.
// It mirrors the node/property/children structure every leaf, decorator,
// and composite in this package can be built from.
type Descriptor struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
	Children   []Descriptor   `yaml:"children"`
}

// ParseDescriptor decodes a single tree descriptor document from YAML.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, newError(ErrConfigInvalid, "failed to parse tree descriptor", err)
	}
	return d, nil
}

// ActionRegistry resolves a descriptor's "action_ref" property to Go code;
// YAML alone cannot express arbitrary imperative logic.
type ActionRegistry map[string]ActionFunc

// ConditionRegistry resolves a descriptor's "condition_ref" property.
type ConditionRegistry map[string]ConditionFunc

// SubtreeRegistry holds named, reusable subtree descriptors that a
// "subtree" node type instantiates by reference.
type SubtreeRegistry map[string]Descriptor

// BuildContext supplies everything a descriptor needs to become a live
// Node tree: the event bus every node publishes on, named registries for
// code a YAML file cannot embed, and the subtree registry for composition.
type BuildContext struct {
	Bus        *EventBus
	Logger     *slog.Logger
	Actions    ActionRegistry
	Conditions ConditionRegistry
	Subtrees   SubtreeRegistry
	Rand       *rand.Rand

	buildingSubtree map[string]bool
}

// Build constructs a live Node tree from d. It is the single entry point
// descriptor consumers (the CLI, tests, subtree instantiation) call.
func Build(ctx *BuildContext, d Descriptor) (Node, error) {
	if ctx.buildingSubtree == nil {
		ctx.buildingSubtree = make(map[string]bool)
	}
	if ctx.Rand == nil {
		ctx.Rand = rand.New(rand.NewSource(1))
	}
	n, err := build(ctx, d)
	if err != nil {
		return nil, err
	}
	if nc, ok := n.(*NodeCore); ok {
		nc.properties = d.Properties
		pre, err := conditionPredicates(ctx, d, "preconditions")
		if err != nil {
			return nil, err
		}
		post, err := conditionPredicates(ctx, d, "postconditions")
		if err != nil {
			return nil, err
		}
		nc.preconditions = append(nc.preconditions, pre...)
		nc.postconditions = append(nc.postconditions, post...)
	}
	return n, nil
}

// conditionPredicates resolves a descriptor's "preconditions"/
// "postconditions" property (a list of condition_ref names) against the
// build context's condition registry.
func conditionPredicates(ctx *BuildContext, d Descriptor, key string) ([]func(bb *Blackboard) bool, error) {
	refs := stringListProp(d, key)
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]func(bb *Blackboard) bool, 0, len(refs))
	for _, ref := range refs {
		fn, ok := ctx.Conditions[ref]
		if !ok {
			return nil, configErrf(d, "no registered condition named %q for %s", ref, key)
		}
		out = append(out, func(bb *Blackboard) bool {
			ok, err := fn(bb)
			return err == nil && ok
		})
	}
	return out, nil
}

func build(ctx *BuildContext, d Descriptor) (Node, error) {
	switch d.Type {
	case "sequence", "selector":
		children, err := buildChildren(ctx, d, 1, -1)
		if err != nil {
			return nil, err
		}
		memory := memoryPolicyOf(d)
		if d.Type == "sequence" {
			return NewSequence(ctx.Bus, d.Name, memory, children...), nil
		}
		return NewSelector(ctx.Bus, d.Name, memory, children...), nil

	case "reactive-sequence":
		children, err := buildChildren(ctx, d, 1, -1)
		if err != nil {
			return nil, err
		}
		return NewReactiveSequence(ctx.Bus, d.Name, children...), nil

	case "reactive-selector":
		children, err := buildChildren(ctx, d, 1, -1)
		if err != nil {
			return nil, err
		}
		return NewReactiveSelector(ctx.Bus, d.Name, children...), nil

	case "random-selector":
		children, err := buildChildren(ctx, d, 1, -1)
		if err != nil {
			return nil, err
		}
		return NewRandomSelector(ctx.Bus, d.Name, ctx.Rand, children...), nil

	case "parallel":
		children, err := buildChildren(ctx, d, 1, -1)
		if err != nil {
			return nil, err
		}
		cfg, err := parallelConfigOf(d)
		if err != nil {
			return nil, err
		}
		return NewParallel(ctx.Bus, d.Name, cfg, children...), nil

	case "inverter", "force-success", "force-failure", "repeat", "retry", "timeout", "cooldown", "delay":
		children, err := buildChildren(ctx, d, 1, 1)
		if err != nil {
			return nil, err
		}
		return buildDecorator(ctx, d, children[0])

	case "action":
		return buildAction(ctx, d)
	case "condition":
		return buildCondition(ctx, d)
	case "condition-expr":
		return buildConditionExpr(ctx, d)
	case "scripted-action":
		return buildScriptedAction(ctx, d)
	case "scripted-condition":
		return buildScriptedCondition(ctx, d)
	case "timed-condition":
		return buildTimedCondition(ctx, d)
	case "wait":
		return buildWait(ctx, d)
	case "throttle":
		return buildThrottle(ctx, d)
	case "debug-log":
		return buildDebugLog(ctx, d)
	case "event-emit":
		return buildEventEmit(ctx, d)
	case "blackboard-set":
		return buildBlackboardSet(ctx, d)
	case "blackboard-delete":
		return buildBlackboardDelete(ctx, d)
	case "retry-until-success":
		return buildRetryUntilSuccess(ctx, d)
	case "subtree":
		return buildSubtree(ctx, d)

	default:
		return nil, configErrf(d, "unrecognized node type %q", d.Type)
	}
}

func buildChildren(ctx *BuildContext, d Descriptor, minArity, maxArity int) ([]Node, error) {
	if len(d.Children) < minArity || (maxArity >= 0 && len(d.Children) > maxArity) {
		if maxArity < 0 {
			return nil, configErrf(d, "node type %q requires at least %d children, got %d", d.Type, minArity, len(d.Children))
		}
		return nil, configErrf(d, "node type %q requires between %d and %d children, got %d", d.Type, minArity, maxArity, len(d.Children))
	}
	seen := make(map[string]bool)
	children := make([]Node, 0, len(d.Children))
	for _, cd := range d.Children {
		if cd.Name != "" {
			if seen[cd.Name] {
				return nil, configErrf(cd, "duplicate sibling name %q", cd.Name)
			}
			seen[cd.Name] = true
		}
		child, err := Build(ctx, cd)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func memoryPolicyOf(d Descriptor) MemoryPolicy {
	v, _ := stringProp(d, "memory_policy", string(MemoryPersistent))
	if v == string(MemoryFresh) {
		return MemoryFresh
	}
	return MemoryPersistent
}

func parallelConfigOf(d Descriptor) (ParallelConfig, error) {
	policy, ok := stringProp(d, "policy", string(ParallelRequireAll))
	if !ok {
		policy = string(ParallelRequireAll)
	}
	switch ParallelPolicy(policy) {
	case ParallelRequireAll, ParallelRequireOne, ParallelSequenceStar, ParallelSelectorStar:
	default:
		return ParallelConfig{}, configErrf(d, "invalid parallel policy %q", policy)
	}
	successThreshold, _ := intProp(d, "success_threshold", 0)
	failureThreshold, _ := intProp(d, "failure_threshold", 0)
	synchronized, _ := boolProp(d, "synchronized", false)
	return ParallelConfig{
		Policy:           ParallelPolicy(policy),
		SuccessThreshold: successThreshold,
		FailureThreshold: failureThreshold,
		Synchronized:     synchronized,
	}, nil
}

func buildDecorator(ctx *BuildContext, d Descriptor, child Node) (Node, error) {
	switch d.Type {
	case "inverter":
		return NewInverter(ctx.Bus, d.Name, child), nil
	case "force-success":
		return NewForceSuccess(ctx.Bus, d.Name, child), nil
	case "force-failure":
		return NewForceFailure(ctx.Bus, d.Name, child), nil
	case "repeat":
		count, ok := intProp(d, "count", -1)
		if !ok {
			return nil, configErrf(d, "repeat requires an integer %q property", "count")
		}
		return NewRepeat(ctx.Bus, d.Name, child, count), nil
	case "retry":
		maxAttempts, ok := intProp(d, "max_attempts", 0)
		if !ok || maxAttempts <= 0 {
			return nil, configErrf(d, "retry requires a positive integer %q property", "max_attempts")
		}
		backoffStr, _ := stringProp(d, "initial_backoff", "100ms")
		backoffDur, err := time.ParseDuration(backoffStr)
		if err != nil {
			return nil, configErrf(d, "retry: invalid initial_backoff %q: %v", backoffStr, err)
		}
		return NewRetry(ctx.Bus, d.Name, child, maxAttempts, backoffDur), nil
	case "timeout":
		limitStr, ok := stringProp(d, "limit", "")
		if !ok || limitStr == "" {
			return nil, configErrf(d, "timeout requires a duration %q property", "limit")
		}
		limit, err := time.ParseDuration(limitStr)
		if err != nil {
			return nil, configErrf(d, "timeout: invalid limit %q: %v", limitStr, err)
		}
		return NewTimeout(ctx.Bus, d.Name, child, limit), nil
	case "cooldown":
		durStr, ok := stringProp(d, "duration", "")
		if !ok || durStr == "" {
			return nil, configErrf(d, "cooldown requires a duration %q property", "duration")
		}
		dur, err := time.ParseDuration(durStr)
		if err != nil {
			return nil, configErrf(d, "cooldown: invalid duration %q: %v", durStr, err)
		}
		return NewCooldown(ctx.Bus, d.Name, child, dur), nil
	case "delay":
		preStr, _ := stringProp(d, "pre", "0s")
		postStr, _ := stringProp(d, "post", "0s")
		pre, err := time.ParseDuration(preStr)
		if err != nil {
			return nil, configErrf(d, "delay: invalid pre %q: %v", preStr, err)
		}
		post, err := time.ParseDuration(postStr)
		if err != nil {
			return nil, configErrf(d, "delay: invalid post %q: %v", postStr, err)
		}
		return NewDelay(ctx.Bus, d.Name, child, pre, post), nil
	default:
		return nil, configErrf(d, "unrecognized decorator type %q", d.Type)
	}
}

func buildAction(ctx *BuildContext, d Descriptor) (Node, error) {
	ref, ok := stringProp(d, "action_ref", "")
	if !ok || ref == "" {
		return nil, configErrf(d, "action requires an %q property", "action_ref")
	}
	fn, ok := ctx.Actions[ref]
	if !ok {
		return nil, configErrf(d, "no registered action named %q", ref)
	}

	var timeout time.Duration
	if timeoutStr, ok := stringProp(d, "timeout", ""); ok && timeoutStr != "" {
		var err error
		timeout, err = time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, configErrf(d, "action: invalid timeout %q: %v", timeoutStr, err)
		}
	}
	retryCount, _ := intProp(d, "retry_count", 0)

	return NewActionWithOptions(ctx.Bus, d.Name, fn, timeout, retryCount), nil
}

func buildCondition(ctx *BuildContext, d Descriptor) (Node, error) {
	ref, ok := stringProp(d, "condition_ref", "")
	if !ok || ref == "" {
		return nil, configErrf(d, "condition requires a %q property", "condition_ref")
	}
	fn, ok := ctx.Conditions[ref]
	if !ok {
		return nil, configErrf(d, "no registered condition named %q", ref)
	}
	return NewCondition(ctx.Bus, d.Name, fn), nil
}

func buildConditionExpr(ctx *BuildContext, d Descriptor) (Node, error) {
	src, ok := stringProp(d, "expr", "")
	if !ok || src == "" {
		return nil, configErrf(d, "condition-expr requires an %q property", "expr")
	}
	n, err := NewConditionExpr(ctx.Bus, d.Name, src, clientScopeOf(d))
	if err != nil {
		return nil, err
	}
	return n, nil
}

func buildScriptedAction(ctx *BuildContext, d Descriptor) (Node, error) {
	src, ok := stringProp(d, "script", "")
	if !ok || src == "" {
		return nil, configErrf(d, "scripted-action requires a %q property", "script")
	}
	return NewScriptedAction(ctx.Bus, d.Name, src, clientScopeOf(d))
}

func buildScriptedCondition(ctx *BuildContext, d Descriptor) (Node, error) {
	src, ok := stringProp(d, "script", "")
	if !ok || src == "" {
		return nil, configErrf(d, "scripted-condition requires a %q property", "script")
	}
	return NewScriptedCondition(ctx.Bus, d.Name, src, clientScopeOf(d))
}

func buildTimedCondition(ctx *BuildContext, d Descriptor) (Node, error) {
	ref, ok := stringProp(d, "condition_ref", "")
	if !ok || ref == "" {
		return nil, configErrf(d, "timed-condition requires a %q property", "condition_ref")
	}
	fn, ok := ctx.Conditions[ref]
	if !ok {
		return nil, configErrf(d, "no registered condition named %q", ref)
	}
	holdStr, ok := stringProp(d, "hold", "")
	if !ok || holdStr == "" {
		return nil, configErrf(d, "timed-condition requires a duration %q property", "hold")
	}
	hold, err := time.ParseDuration(holdStr)
	if err != nil {
		return nil, configErrf(d, "timed-condition: invalid hold %q: %v", holdStr, err)
	}
	return NewTimedCondition(ctx.Bus, d.Name, fn, hold), nil
}

func buildWait(ctx *BuildContext, d Descriptor) (Node, error) {
	durStr, ok := stringProp(d, "duration", "")
	if !ok || durStr == "" {
		return nil, configErrf(d, "wait requires a duration %q property", "duration")
	}
	dur, err := time.ParseDuration(durStr)
	if err != nil {
		return nil, configErrf(d, "wait: invalid duration %q: %v", durStr, err)
	}
	return NewWait(ctx.Bus, d.Name, dur), nil
}

func buildThrottle(ctx *BuildContext, d Descriptor) (Node, error) {
	ref, ok := stringProp(d, "action_ref", "")
	if !ok || ref == "" {
		return nil, configErrf(d, "throttle requires an %q property", "action_ref")
	}
	fn, ok := ctx.Actions[ref]
	if !ok {
		return nil, configErrf(d, "no registered action named %q", ref)
	}
	intervalStr, ok := stringProp(d, "interval", "")
	if !ok || intervalStr == "" {
		return nil, configErrf(d, "throttle requires a duration %q property", "interval")
	}
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, configErrf(d, "throttle: invalid interval %q: %v", intervalStr, err)
	}
	return NewThrottle(ctx.Bus, d.Name, fn, interval), nil
}

func buildDebugLog(ctx *BuildContext, d Descriptor) (Node, error) {
	message, _ := stringProp(d, "message", d.Name)
	return NewDebugLog(ctx.Bus, d.Name, resolveLogger(ctx), message), nil
}

func resolveLogger(ctx *BuildContext) *slog.Logger {
	if ctx.Logger != nil {
		return ctx.Logger
	}
	return slog.Default()
}

func buildEventEmit(ctx *BuildContext, d Descriptor) (Node, error) {
	payload := d.Properties["payload"]
	return NewEventEmit(ctx.Bus, d.Name, payload), nil
}

func buildBlackboardSet(ctx *BuildContext, d Descriptor) (Node, error) {
	ns, ok := stringProp(d, "namespace", "")
	if !ok || ns == "" {
		return nil, configErrf(d, "blackboard-set requires a %q property", "namespace")
	}
	key, ok := stringProp(d, "key", "")
	if !ok || key == "" {
		return nil, configErrf(d, "blackboard-set requires a %q property", "key")
	}
	value := d.Properties["value"]
	return NewBlackboardSet(ctx.Bus, d.Name, ns, key, value, clientScopeOf(d)), nil
}

func buildBlackboardDelete(ctx *BuildContext, d Descriptor) (Node, error) {
	ns, ok := stringProp(d, "namespace", "")
	if !ok || ns == "" {
		return nil, configErrf(d, "blackboard-delete requires a %q property", "namespace")
	}
	key, ok := stringProp(d, "key", "")
	if !ok || key == "" {
		return nil, configErrf(d, "blackboard-delete requires a %q property", "key")
	}
	return NewBlackboardDelete(ctx.Bus, d.Name, ns, key, clientScopeOf(d)), nil
}

func buildRetryUntilSuccess(ctx *BuildContext, d Descriptor) (Node, error) {
	ref, ok := stringProp(d, "action_ref", "")
	if !ok || ref == "" {
		return nil, configErrf(d, "retry-until-success requires an %q property", "action_ref")
	}
	fn, ok := ctx.Actions[ref]
	if !ok {
		return nil, configErrf(d, "no registered action named %q", ref)
	}
	maxAttempts, ok := intProp(d, "max_attempts", 0)
	if !ok || maxAttempts <= 0 {
		return nil, configErrf(d, "retry-until-success requires a positive integer %q property", "max_attempts")
	}
	backoffStr, _ := stringProp(d, "initial_backoff", "100ms")
	backoffDur, err := time.ParseDuration(backoffStr)
	if err != nil {
		return nil, configErrf(d, "retry-until-success: invalid initial_backoff %q: %v", backoffStr, err)
	}
	return NewRetryUntilSuccess(ctx.Bus, d.Name, fn, maxAttempts, backoffDur), nil
}

func buildSubtree(ctx *BuildContext, d Descriptor) (Node, error) {
	ref, ok := stringProp(d, "ref", "")
	if !ok || ref == "" {
		return nil, configErrf(d, "subtree requires a %q property", "ref")
	}
	sub, ok := ctx.Subtrees[ref]
	if !ok {
		return nil, configErrf(d, "no registered subtree named %q", ref)
	}
	if ctx.buildingSubtree[ref] {
		return nil, configErrf(d, "cycle detected instantiating subtree %q", ref)
	}
	ctx.buildingSubtree[ref] = true
	defer delete(ctx.buildingSubtree, ref)
	return Build(ctx, sub)
}

func configErrf(d Descriptor, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if d.Name != "" {
		msg = fmt.Sprintf("%s (node %q)", msg, d.Name)
	}
	return newError(ErrConfigInvalid, msg, nil)
}

func stringProp(d Descriptor, key, def string) (string, bool) {
	v, ok := d.Properties[key]
	if !ok {
		if def != "" {
			return def, true
		}
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intProp(d Descriptor, key string, def int) (int, bool) {
	v, ok := d.Properties[key]
	if !ok {
		return def, true
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func boolProp(d Descriptor, key string, def bool) (bool, bool) {
	v, ok := d.Properties[key]
	if !ok {
		return def, true
	}
	b, ok := v.(bool)
	return b, ok
}

// stringListProp reads a YAML sequence property as a []string. YAML decodes
// a sequence of scalars into []any, so each element is stringified rather
// than type-asserted directly.
func stringListProp(d Descriptor, key string) []string {
	v, ok := d.Properties[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}

// clientScopeOf builds the ClientScope a leaf touching the blackboard should
// be bound to, from a descriptor's optional actor_id/allowed_namespaces/
// read_keys/write_keys properties. Omitting all of them yields an
// unrestricted scope, preserving the behavior of a descriptor written before
// this node type carried scoping.
func clientScopeOf(d Descriptor) ClientScope {
	actorID, _ := stringProp(d, "actor_id", d.Name)
	return ClientScope{
		ActorID:           actorID,
		AllowedNamespaces: stringListProp(d, "allowed_namespaces"),
		ReadKeys:          stringListProp(d, "read_keys"),
		WriteKeys:         stringListProp(d, "write_keys"),
	}
}
