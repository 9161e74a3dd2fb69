package bt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConditionNodeSuccessAndFailure(t *testing.T) {
	bus := NewEventBus()
	bb := NewBlackboard(0)
	bb.Set("perception", "battery", 80, "test")

	cond := NewCondition(bus, "battery-ok", func(bb *Blackboard) (bool, error) {
		v, _, _ := bb.Get("perception", "battery")
		return v.(int) > 20, nil
	})

	status, _ := cond.Tick(context.Background(), bb)
	require.Equal(t, StatusSuccess, status)

	bb.Set("perception", "battery", 10, "test")
	status, _ = cond.Tick(context.Background(), bb)
	require.Equal(t, StatusFailure, status)
}

func TestTimedConditionRequiresSustainedTrue(t *testing.T) {
	bus := NewEventBus()
	holds := true
	tc := NewTimedCondition(bus, "steady", func(bb *Blackboard) (bool, error) { return holds, nil }, 20*time.Millisecond)

	bb := NewBlackboard(0)
	status, _ := tc.Tick(context.Background(), bb)
	require.Equal(t, StatusRunning, status)

	time.Sleep(30 * time.Millisecond)
	status, _ = tc.Tick(context.Background(), bb)
	require.Equal(t, StatusSuccess, status)
}

func TestTimedConditionResetsOnFalseReading(t *testing.T) {
	bus := NewEventBus()
	holds := true
	tc := NewTimedCondition(bus, "steady", func(bb *Blackboard) (bool, error) { return holds, nil }, 20*time.Millisecond)

	bb := NewBlackboard(0)
	_, _ = tc.Tick(context.Background(), bb)
	holds = false
	status, _ := tc.Tick(context.Background(), bb)
	require.Equal(t, StatusFailure, status)
}

func TestWaitCompletesAfterDuration(t *testing.T) {
	bus := NewEventBus()
	w := NewWait(bus, "pause", 10*time.Millisecond)

	bb := NewBlackboard(0)
	status, _ := w.Tick(context.Background(), bb)
	require.Equal(t, StatusRunning, status)

	time.Sleep(15 * time.Millisecond)
	status, _ = w.Tick(context.Background(), bb)
	require.Equal(t, StatusSuccess, status)
}

func TestThrottleBlocksRapidCalls(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	th := NewThrottle(bus, "notify", func(ctx context.Context, bb *Blackboard) (Status, error) {
		calls++
		return StatusSuccess, nil
	}, 50*time.Millisecond)

	bb := NewBlackboard(0)
	status1, _ := th.Tick(context.Background(), bb)
	status2, _ := th.Tick(context.Background(), bb)

	require.Equal(t, StatusSuccess, status1)
	require.Equal(t, StatusFailure, status2)
	require.Equal(t, 1, calls)
}

func TestBlackboardSetAndDeleteLeaves(t *testing.T) {
	bus := NewEventBus()
	bb := NewBlackboard(0)

	setNode := NewBlackboardSet(bus, "remember", "planning", "goal", "dock", ClientScope{})
	status, _ := setNode.Tick(context.Background(), bb)
	require.Equal(t, StatusSuccess, status)

	v, _, ok := bb.Get("planning", "goal")
	require.True(t, ok)
	require.Equal(t, "dock", v)

	delNode := NewBlackboardDelete(bus, "forget", "planning", "goal", ClientScope{})
	status, _ = delNode.Tick(context.Background(), bb)
	require.Equal(t, StatusSuccess, status)

	_, _, ok = bb.Get("planning", "goal")
	require.False(t, ok)
}

func TestBlackboardSetDeniedByScopeFails(t *testing.T) {
	bus := NewEventBus()
	bb := NewBlackboard(0)

	setNode := NewBlackboardSet(bus, "remember", "planning", "goal", "dock", ClientScope{
		ActorID:           "guard",
		AllowedNamespaces: []string{"perception"},
	})
	status, err := setNode.Tick(context.Background(), bb)
	require.Equal(t, StatusFailure, status)
	require.ErrorIs(t, err, SentinelAccessDenied)

	_, _, ok := bb.Get("planning", "goal")
	require.False(t, ok, "a denied write must not reach the blackboard")
}

func TestActionWithOptionsRetriesWithinSingleTick(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	action := NewActionWithOptions(bus, "flaky", func(ctx context.Context, bb *Blackboard) (Status, error) {
		calls++
		if calls < 3 {
			return StatusFailure, nil
		}
		return StatusSuccess, nil
	}, 0, 2)

	bb := NewBlackboard(0)
	status, _ := action.Tick(context.Background(), bb)
	require.Equal(t, StatusSuccess, status)
	require.Equal(t, 3, calls)
}

func TestActionWithOptionsTimeoutFailsSlowCall(t *testing.T) {
	bus := NewEventBus()
	action := NewActionWithOptions(bus, "slow", func(ctx context.Context, bb *Blackboard) (Status, error) {
		<-ctx.Done()
		return StatusRunning, nil
	}, 5*time.Millisecond, 0)

	bb := NewBlackboard(0)
	status, _ := action.Tick(context.Background(), bb)
	require.Equal(t, StatusFailure, status)
}

// TestRetryUntilSuccessLeafEventuallySucceeds mirrors the Retry decorator's
// single-outer-tick scenario for the leaf variant: delay=0 must resolve
// within one Tick call rather than requiring a re-tick per attempt.
func TestRetryUntilSuccessLeafEventuallySucceeds(t *testing.T) {
	bus := NewEventBus()
	attempts := 0
	n := NewRetryUntilSuccess(bus, "connect", func(ctx context.Context, bb *Blackboard) (Status, error) {
		attempts++
		if attempts < 3 {
			return StatusFailure, nil
		}
		return StatusSuccess, nil
	}, 5, 0)

	bb := NewBlackboard(0)
	status, err := n.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)
	require.Equal(t, 3, attempts)
}
