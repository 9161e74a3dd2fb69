package bt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeLifecycleSetupIdempotent(t *testing.T) {
	bus := NewEventBus()
	setupCalls := 0
	n := NewNode(bus, "leaf", "probe", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return StatusSuccess, nil
	}, WithSetup(func(ctx context.Context, self *NodeCore) error {
		setupCalls++
		return nil
	}))

	require.NoError(t, n.Setup(context.Background()))
	require.NoError(t, n.Setup(context.Background()))
	require.Equal(t, 1, setupCalls)
}

func TestNodeTickRecoversPanic(t *testing.T) {
	bus := NewEventBus()
	n := NewNode(bus, "leaf", "panicky", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		panic("kaboom")
	})

	status, err := n.Tick(context.Background(), NewBlackboard(0))
	require.Equal(t, StatusError, status)
	require.Error(t, err)
	require.ErrorIs(t, err, SentinelTickError)
}

func TestNodeTickRejectsInvalidStatus(t *testing.T) {
	bus := NewEventBus()
	n := NewNode(bus, "leaf", "broken", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return Status("NOT_A_STATUS"), nil
	})

	status, err := n.Tick(context.Background(), NewBlackboard(0))
	require.Equal(t, StatusError, status)
	require.Error(t, err)
}

func TestNodeStatsAccumulate(t *testing.T) {
	bus := NewEventBus()
	n := NewNode(bus, "leaf", "counter", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return StatusSuccess, nil
	})

	bb := NewBlackboard(0)
	for i := 0; i < 3; i++ {
		_, _ = n.Tick(context.Background(), bb)
	}

	stats := n.Stats()
	require.Equal(t, uint64(3), stats.TickCount)
	require.Equal(t, uint64(3), stats.SuccessCount)
}

func TestNodeEventsPublishedOnStatusChange(t *testing.T) {
	bus := NewEventBus()
	var kinds []EventKind
	bus.Subscribe(func(evt Event) { kinds = append(kinds, evt.Kind) })

	first := true
	n := NewNode(bus, "leaf", "flip", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		if first {
			first = false
			return StatusRunning, nil
		}
		return StatusSuccess, nil
	})

	bb := NewBlackboard(0)
	_, _ = n.Tick(context.Background(), bb)
	_, _ = n.Tick(context.Background(), bb)

	require.Contains(t, kinds, EventInitialized)
	require.Contains(t, kinds, EventEntering)
	require.Contains(t, kinds, EventExiting)
	require.Contains(t, kinds, EventStatusChanged)
}

func TestNodeShutdownIsIdempotentAndCascades(t *testing.T) {
	bus := NewEventBus()
	childShutdowns := 0
	child := NewNode(bus, "leaf", "child", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return StatusSuccess, nil
	}, WithShutdown(func(ctx context.Context, self *NodeCore) error {
		childShutdowns++
		return nil
	}))
	parent := NewNode(bus, "sequence", "parent", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return self.TickChild(ctx, child, bb)
	}, WithChildren(child))

	require.NoError(t, parent.Shutdown(context.Background()))
	require.NoError(t, parent.Shutdown(context.Background()))
	require.Equal(t, 1, childShutdowns)
}

func TestNodePreconditionFailureSkipsTickFn(t *testing.T) {
	bus := NewEventBus()
	var kinds []EventKind
	bus.Subscribe(func(evt Event) { kinds = append(kinds, evt.Kind) })

	invoked := false
	n := NewNode(bus, "leaf", "gated", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		invoked = true
		return StatusSuccess, nil
	}, WithPreconditions(func(bb *Blackboard) bool { return false }))
	kinds = nil // drop EventInitialized from NewNode

	status, err := n.Tick(context.Background(), NewBlackboard(0))
	require.NoError(t, err)
	require.Equal(t, StatusFailure, status)
	require.False(t, invoked, "tickFn must not run when a precondition fails")
	require.Equal(t, []EventKind{EventStatusChanged}, kinds, "a precondition failure emits only STATUS_CHANGED, not ENTERING/EXITING")
}

func TestNodePostconditionFailureDemotesSuccess(t *testing.T) {
	bus := NewEventBus()
	n := NewNode(bus, "leaf", "overclaimed", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return StatusSuccess, nil
	}, WithPostconditions(func(bb *Blackboard) bool { return false }))

	status, err := n.Tick(context.Background(), NewBlackboard(0))
	require.NoError(t, err)
	require.Equal(t, StatusFailure, status)
}

func TestNodePostconditionOnlyCheckedOnSuccess(t *testing.T) {
	bus := NewEventBus()
	checked := false
	n := NewNode(bus, "leaf", "failing", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return StatusFailure, nil
	}, WithPostconditions(func(bb *Blackboard) bool { checked = true; return true }))

	status, _ := n.Tick(context.Background(), NewBlackboard(0))
	require.Equal(t, StatusFailure, status)
	require.False(t, checked, "postconditions only gate a SUCCESS result")
}

func TestNodePropertiesAccessor(t *testing.T) {
	bus := NewEventBus()
	props := map[string]any{"foo": "bar"}
	n := NewNode(bus, "leaf", "annotated", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return StatusSuccess, nil
	}, WithProperties(props))

	require.Equal(t, "bar", n.Properties()["foo"])
}

func TestNodeStatsTracksAverageDurationAndLastError(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	n := NewNode(bus, "leaf", "flaky", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		calls++
		if calls == 1 {
			return StatusError, newError(ErrTickError, "first attempt failed", nil)
		}
		return StatusSuccess, nil
	})

	stats := n.Stats()
	require.NotZero(t, stats.CreatedAt)

	bb := NewBlackboard(0)
	_, err := n.Tick(context.Background(), bb)
	require.Error(t, err)

	stats = n.Stats()
	require.Equal(t, uint64(1), stats.ErrorCount)
	require.NotEmpty(t, stats.LastError)
	firstAvg := stats.AverageDuration
	require.True(t, firstAvg >= 0)

	_, err = n.Tick(context.Background(), bb)
	require.NoError(t, err)

	stats = n.Stats()
	require.Equal(t, uint64(1), stats.SuccessCount)
	require.NotEmpty(t, stats.LastError, "LastError persists until the next error, not cleared by a later success")
}

func TestNodeStatsSkipsRunningTicksFromAverage(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	n := NewNode(bus, "leaf", "settling", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		calls++
		if calls < 3 {
			return StatusRunning, nil
		}
		return StatusSuccess, nil
	})

	bb := NewBlackboard(0)
	for i := 0; i < 3; i++ {
		_, _ = n.Tick(context.Background(), bb)
	}

	stats := n.Stats()
	require.Equal(t, uint64(3), stats.TickCount)
	require.Equal(t, uint64(1), stats.SuccessCount+stats.FailureCount+stats.ErrorCount, "only the completed tick counts toward the average")
}

func TestNodeTickCancelledContext(t *testing.T) {
	bus := NewEventBus()
	n := NewNode(bus, "leaf", "cancelable", func(ctx context.Context, self *NodeCore, bb *Blackboard) (Status, error) {
		return StatusRunning, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := n.Tick(ctx, NewBlackboard(0))
	require.Equal(t, StatusError, status)
	require.True(t, errors.Is(err, SentinelCancelled))
}
