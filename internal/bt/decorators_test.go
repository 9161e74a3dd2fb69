package bt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInverterFlipsSuccessAndFailure(t *testing.T) {
	bus := NewEventBus()
	child := statusLeaf(bus, "child", StatusSuccess)
	inv := NewInverter(bus, "root", child)

	status, _ := inv.Tick(context.Background(), NewBlackboard(0))
	require.Equal(t, StatusFailure, status)
}

func TestForceSuccessPassesRunningThrough(t *testing.T) {
	bus := NewEventBus()
	child := statusLeaf(bus, "child", StatusRunning)
	fs := NewForceSuccess(bus, "root", child)

	status, _ := fs.Tick(context.Background(), NewBlackboard(0))
	require.Equal(t, StatusRunning, status)
}

func TestRepeatSucceedsAfterCount(t *testing.T) {
	bus := NewEventBus()
	child := statusLeaf(bus, "child", StatusSuccess)
	rep := NewRepeat(bus, "root", child, 3)

	bb := NewBlackboard(0)
	var status Status
	for i := 0; i < 3; i++ {
		status, _ = rep.Tick(context.Background(), bb)
	}
	require.Equal(t, StatusSuccess, status)
}

func TestRepeatPassesFailureThrough(t *testing.T) {
	bus := NewEventBus()
	child := statusLeaf(bus, "child", StatusFailure)
	rep := NewRepeat(bus, "root", child, 3)

	status, _ := rep.Tick(context.Background(), NewBlackboard(0))
	require.Equal(t, StatusFailure, status)
}

// TestRetryDecoratorEventuallySucceeds mirrors "Retry(max=3, delay=0) ->
// Action(fails twice then succeeds)" reaching SUCCESS after three internal
// attempts within one outer tick, not across three separate TickOnce calls.
func TestRetryDecoratorEventuallySucceeds(t *testing.T) {
	bus := NewEventBus()
	child := statusLeaf(bus, "child", StatusFailure, StatusFailure, StatusSuccess)
	retry := NewRetry(bus, "root", child, 3, 0)

	bb := NewBlackboard(0)
	status, err := retry.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status, "delay=0 must resolve within a single outer Tick call")
}

func TestRetryDecoratorSuspendsOnChildRunning(t *testing.T) {
	bus := NewEventBus()
	ticks := 0
	child := NewNode(bus, "action", "stalling", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		ticks++
		if ticks < 3 {
			return StatusRunning, nil
		}
		return StatusSuccess, nil
	})
	retry := NewRetry(bus, "root", child, 5, 0)

	bb := NewBlackboard(0)
	status, err := retry.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, status, "a RUNNING child suspends the retry loop rather than looping internally")
	require.Equal(t, 1, ticks)

	status, err = retry.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, status)

	status, err = retry.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)
}

func TestRetryDecoratorExhaustsAttempts(t *testing.T) {
	bus := NewEventBus()
	child := statusLeaf(bus, "child", StatusFailure)
	retry := NewRetry(bus, "root", child, 2, 0)

	bb := NewBlackboard(0)
	status, err := retry.Tick(context.Background(), bb)
	require.NoError(t, err)
	require.Equal(t, StatusFailure, status, "exhausting attempts must also resolve within a single outer Tick call")
}

// TestRetryDecoratorHonorsBackoffDelay checks that a nonzero delay is still
// applied between internal attempts, unlike the zero-delay scenario above.
func TestRetryDecoratorHonorsBackoffDelay(t *testing.T) {
	bus := NewEventBus()
	child := statusLeaf(bus, "child", StatusFailure, StatusSuccess)
	retry := NewRetry(bus, "root", child, 3, 5*time.Millisecond)

	bb := NewBlackboard(0)
	start := time.Now()
	status, err := retry.Tick(context.Background(), bb)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)
	require.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
}

// TestTimeoutEnforcesDeadline mirrors the "timeout enforcement" scenario: a
// child that never terminates is forced to FAILURE once the limit elapses.
func TestTimeoutEnforcesDeadline(t *testing.T) {
	bus := NewEventBus()
	child := NewNode(bus, "action", "forever", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return StatusRunning, nil
	})
	timeout := NewTimeout(bus, "root", child, 5*time.Millisecond)

	bb := NewBlackboard(0)
	deadline := time.Now().Add(200 * time.Millisecond)
	var status Status
	var err error
	for time.Now().Before(deadline) {
		status, err = timeout.Tick(context.Background(), bb)
		if status == StatusFailure {
			break
		}
	}
	require.Equal(t, StatusFailure, status)
	require.ErrorIs(t, err, SentinelTimeout)
}

func TestCooldownBlocksImmediateRetick(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	child := NewNode(bus, "action", "expensive", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		calls++
		return StatusSuccess, nil
	})
	cd := NewCooldown(bus, "root", child, 50*time.Millisecond)

	bb := NewBlackboard(0)
	status1, _ := cd.Tick(context.Background(), bb)
	status2, _ := cd.Tick(context.Background(), bb)

	require.Equal(t, StatusSuccess, status1)
	require.Equal(t, StatusFailure, status2)
	require.Equal(t, 1, calls)
}

func TestDelayHoldsRunningDuringPrePhase(t *testing.T) {
	bus := NewEventBus()
	child := statusLeaf(bus, "child", StatusSuccess)
	d := NewDelay(bus, "root", child, 20*time.Millisecond, 0)

	status, _ := d.Tick(context.Background(), NewBlackboard(0))
	require.Equal(t, StatusRunning, status)
}
