package bt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerTickOnceRequiresRoot(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	_, err := mgr.TickOnce(context.Background())
	require.Error(t, err)
}

func TestManagerLoadFromConfigAndTick(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	actions := ActionRegistry{
		"drive": func(ctx context.Context, bb *Blackboard) (Status, error) { return StatusSuccess, nil },
	}
	err := mgr.LoadFromConfig(context.Background(), []byte(`
name: root
type: action
properties:
  action_ref: drive
`), actions, ConditionRegistry{})
	require.NoError(t, err)

	status, err := mgr.TickOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)
}

func TestManagerFatalOnErrorLatchesTree(t *testing.T) {
	mgr := NewManager(ManagerConfig{FatalOnError: true})
	actions := ActionRegistry{
		"boom": func(ctx context.Context, bb *Blackboard) (Status, error) {
			return StatusError, newError(ErrTickError, "boom", nil)
		},
	}
	err := mgr.LoadFromConfig(context.Background(), []byte(`
name: root
type: action
properties:
  action_ref: boom
`), actions, ConditionRegistry{})
	require.NoError(t, err)

	_, _ = mgr.TickOnce(context.Background())
	_, err = mgr.TickOnce(context.Background())
	require.Error(t, err)
}

// TestManagerSnapshotRestore mirrors the snapshot/restore scenario: a tree
// mid-flight through a persistent-memory sequence is snapshotted and round-
// tripped through YAML, a fresh manager is built from the same descriptor,
// and restoring the snapshot carries the blackboard state over. Node states
// are keyed by node id, which the fresh manager generates anew, so only the
// blackboard is checked here.
func TestManagerSnapshotRestore(t *testing.T) {
	descriptor := []byte(`
name: root
type: sequence
properties:
  memory_policy: PERSISTENT
children:
  - name: step-one
    type: action
    properties:
      action_ref: step-one
  - name: step-two
    type: action
    properties:
      action_ref: step-two
`)

	actions := ActionRegistry{
		"step-one": func(ctx context.Context, bb *Blackboard) (Status, error) { return StatusSuccess, nil },
		"step-two": func(ctx context.Context, bb *Blackboard) (Status, error) { return StatusRunning, nil },
	}

	mgr := NewManager(ManagerConfig{})
	require.NoError(t, mgr.LoadFromConfig(context.Background(), descriptor, actions, ConditionRegistry{}))
	mgr.Blackboard().Set("planning", "progress", 1, "test")

	status, err := mgr.TickOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusRunning, status)

	snap := mgr.TakeSnapshot()
	require.Equal(t, StatusRunning, snap.RootStatus)

	data, err := SaveSnapshotYAML(snap)
	require.NoError(t, err)
	restored, err := LoadSnapshotYAML(data)
	require.NoError(t, err)

	mgr2 := NewManager(ManagerConfig{})
	require.NoError(t, mgr2.LoadFromConfig(context.Background(), descriptor, actions, ConditionRegistry{}))
	require.NoError(t, mgr2.RestoreSnapshot(restored))

	v, _, ok := mgr2.Blackboard().Get("planning", "progress")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestManagerStatsAccumulatesExecutionContext(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	actions := ActionRegistry{
		"drive": func(ctx context.Context, bb *Blackboard) (Status, error) { return StatusSuccess, nil },
	}
	require.NoError(t, mgr.LoadFromConfig(context.Background(), []byte(`
name: root
type: action
properties:
  action_ref: drive
`), actions, ConditionRegistry{}))

	for i := 0; i < 3; i++ {
		_, err := mgr.TickOnce(context.Background())
		require.NoError(t, err)
	}

	exec := mgr.Stats()
	require.Equal(t, uint64(3), exec.TickCount)
	require.Equal(t, uint64(3), exec.SuccessCount)
	require.Len(t, exec.History, 3)
	require.Equal(t, uint64(3), exec.History[2].TickNo)
}

func TestManagerSnapshotCarriesTickNo(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	actions := ActionRegistry{
		"drive": func(ctx context.Context, bb *Blackboard) (Status, error) { return StatusSuccess, nil },
	}
	require.NoError(t, mgr.LoadFromConfig(context.Background(), []byte(`
name: root
type: action
properties:
  action_ref: drive
`), actions, ConditionRegistry{}))

	_, err := mgr.TickOnce(context.Background())
	require.NoError(t, err)
	_, err = mgr.TickOnce(context.Background())
	require.NoError(t, err)

	snap := mgr.TakeSnapshot()
	require.Equal(t, uint64(2), snap.TickNo)
}

func TestManagerRegisterAndInstantiateSubtree(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	mgr.RegisterSubtree("patrol", Descriptor{
		Name: "patrol",
		Type: "action",
		Properties: map[string]any{
			"action_ref": "patrol",
		},
	})

	actions := ActionRegistry{
		"patrol": func(ctx context.Context, bb *Blackboard) (Status, error) { return StatusSuccess, nil },
	}

	node, err := mgr.InstantiateSubtree("patrol", actions, ConditionRegistry{})
	require.NoError(t, err)

	status, err := node.Tick(context.Background(), mgr.Blackboard())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)
}

func TestManagerRunStopsOnContextCancel(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	actions := ActionRegistry{
		"noop": func(ctx context.Context, bb *Blackboard) (Status, error) { return StatusSuccess, nil },
	}
	require.NoError(t, mgr.LoadFromConfig(context.Background(), []byte(`
name: root
type: action
properties:
  action_ref: noop
`), actions, ConditionRegistry{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := mgr.Run(ctx, time.Millisecond)
	require.Error(t, err)
}
