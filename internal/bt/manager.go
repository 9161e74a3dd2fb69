package bt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ManagerConfig configures a Manager's construction.
type ManagerConfig struct {
	Logger        *slog.Logger
	FatalOnError  bool // if true, a root ERROR tick stops Run entirely instead of just being reported
	ActivityLogSz int
	HistorySz     int // bounded tick-history length; 0 uses a default of 256
	Actions       ActionRegistry
	Conditions    ConditionRegistry
}

// Snapshot captures a point-in-time view of a tree's root status, node
// statuses, and blackboard contents, restorable later with RestoreSnapshot.
type Snapshot struct {
	TickNo       uint64                               `yaml:"tick_no"`
	TakenAt      int64                                `yaml:"taken_at"`
	RootStatus   Status                               `yaml:"root_status"`
	NodeStatuses map[string]Status                    `yaml:"node_statuses"`
	NodeStats    map[string]NodeStats                 `yaml:"node_stats"`
	Blackboard   map[string]map[string]snapshotEntry `yaml:"blackboard"`
}

// TickRecord is one bounded-history entry in a Manager's ExecutionContext.
type TickRecord struct {
	TickNo   uint64
	Status   Status
	Duration time.Duration
}

// ExecutionContext is the manager-level aggregate of every tick the
// manager's root has run: counts by outcome, timing, and a bounded history
// of individual ticks. Manager.Stats returns a copy of this; per-node stats
// come from Manager.NodeStats.
type ExecutionContext struct {
	TickCount        uint64
	TotalDuration    time.Duration
	SuccessCount     uint64
	FailureCount     uint64
	ErrorCount       uint64
	LastTickDuration time.Duration
	History          []TickRecord
}

const defaultHistorySize = 256

// Manager owns a running tree: its root node, blackboard, event bus,
// subtree registry, and the scheduling loop that ticks it at a fixed rate.
// It mirrors a supervisor process more than a library value - most callers
// construct exactly one per running tree.
type Manager struct {
	logger *slog.Logger
	bus    *EventBus
	bb     *Blackboard

	mu       sync.Mutex
	root     Node
	rootID   string
	nodeByID map[string]Node

	subtreesMu sync.Mutex
	subtrees   SubtreeRegistry

	fatalOnError bool
	fatal        bool

	execMu    sync.Mutex
	exec      ExecutionContext
	historySz int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a Manager with its own blackboard and event bus.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	historySz := cfg.HistorySz
	if historySz <= 0 {
		historySz = defaultHistorySize
	}
	return &Manager{
		logger:       logger,
		bus:          NewEventBus(),
		bb:           NewBlackboard(cfg.ActivityLogSz),
		subtrees:     make(SubtreeRegistry),
		fatalOnError: cfg.FatalOnError,
		historySz:    historySz,
		stopCh:       make(chan struct{}),
	}
}

// Bus returns the manager's event bus, for subscribers such as a CLI logger
// or a terminal visualizer.
func (m *Manager) Bus() *EventBus { return m.bus }

// Blackboard returns the manager's shared blackboard.
func (m *Manager) Blackboard() *Blackboard { return m.bb }

// RegisterSubtree makes a named descriptor available to "subtree" nodes
// elsewhere in the tree, or for direct instantiation via InstantiateSubtree.
func (m *Manager) RegisterSubtree(name string, d Descriptor) {
	m.subtreesMu.Lock()
	defer m.subtreesMu.Unlock()
	m.subtrees[name] = d
}

// InstantiateSubtree builds a standalone Node from a previously registered
// subtree descriptor, independent of the manager's current root.
func (m *Manager) InstantiateSubtree(name string, actions ActionRegistry, conditions ConditionRegistry) (Node, error) {
	m.subtreesMu.Lock()
	d, ok := m.subtrees[name]
	m.subtreesMu.Unlock()
	if !ok {
		return nil, newError(ErrConfigInvalid, fmt.Sprintf("no registered subtree named %q", name), nil)
	}
	ctx := &BuildContext{Bus: m.bus, Logger: m.logger, Actions: actions, Conditions: conditions, Subtrees: m.subtrees}
	return Build(ctx, d)
}

// LoadFromConfig parses a YAML tree descriptor and builds it as the
// manager's root, running Setup on every node before returning.
func (m *Manager) LoadFromConfig(ctx context.Context, data []byte, actions ActionRegistry, conditions ConditionRegistry) error {
	d, err := ParseDescriptor(data)
	if err != nil {
		return err
	}
	buildCtx := &BuildContext{Bus: m.bus, Logger: m.logger, Actions: actions, Conditions: conditions, Subtrees: m.subtrees}
	root, err := Build(buildCtx, d)
	if err != nil {
		return err
	}
	if err := root.Setup(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.root = root
	m.rootID = root.ID()
	m.nodeByID = indexByID(root)
	m.mu.Unlock()
	return nil
}

// SetRoot installs an already-built and set-up tree as the manager's root,
// for callers that construct a tree with Build directly instead of going
// through LoadFromConfig.
func (m *Manager) SetRoot(root Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = root
	m.rootID = root.ID()
	m.nodeByID = indexByID(root)
}

func indexByID(n Node) map[string]Node {
	out := make(map[string]Node)
	var walk func(Node)
	walk = func(n Node) {
		out[n.ID()] = n
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(n)
	return out
}

// TickOnce ticks the current root exactly once and returns its result.
// If the manager is configured with FatalOnError and the root returns
// ERROR, the manager latches into a fatal state and every subsequent
// TickOnce/Run call returns immediately without ticking.
func (m *Manager) TickOnce(ctx context.Context) (Status, error) {
	m.mu.Lock()
	root := m.root
	fatal := m.fatal
	m.mu.Unlock()

	if root == nil {
		return StatusInvalid, newError(ErrConfigInvalid, "no root tree loaded", nil)
	}
	if fatal {
		return StatusError, newError(ErrTickError, "tree is latched in a fatal error state", nil)
	}

	start := time.Now()
	status, err := root.Tick(ctx, m.bb)
	duration := time.Since(start)
	tickNo := m.recordTick(status, duration)

	if status == StatusError && m.fatalOnError {
		m.mu.Lock()
		m.fatal = true
		m.mu.Unlock()
		m.logger.Error("root tick returned ERROR, tree is now fatal", "tick_no", tickNo, "error", err)
	}
	return status, err
}

// recordTick folds one root tick's outcome into the manager's
// ExecutionContext and returns the tick number just recorded.
func (m *Manager) recordTick(status Status, duration time.Duration) uint64 {
	m.execMu.Lock()
	defer m.execMu.Unlock()

	m.exec.TickCount++
	m.exec.TotalDuration += duration
	m.exec.LastTickDuration = duration
	switch status {
	case StatusSuccess:
		m.exec.SuccessCount++
	case StatusFailure:
		m.exec.FailureCount++
	case StatusError:
		m.exec.ErrorCount++
	}

	tickNo := m.exec.TickCount
	m.exec.History = append(m.exec.History, TickRecord{TickNo: tickNo, Status: status, Duration: duration})
	if len(m.exec.History) > m.historySz {
		m.exec.History = m.exec.History[len(m.exec.History)-m.historySz:]
	}
	return tickNo
}

// Run ticks the tree at tickRate until ctx is cancelled or Stop is called,
// pacing each cycle by sleeping off whatever time remains in the interval
// after the tick itself completes.
func (m *Manager) Run(ctx context.Context, tickRate time.Duration) error {
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return nil
		case <-ticker.C:
			start := time.Now()
			status, err := m.TickOnce(ctx)
			if err != nil {
				m.logger.Warn("tick error", "status", status, "error", err)
			}
			m.mu.Lock()
			fatal := m.fatal
			m.mu.Unlock()
			if fatal {
				return err
			}
			elapsed := time.Since(start)
			if elapsed > tickRate {
				m.logger.Warn("tick overran tick rate", "elapsed", elapsed, "tick_rate", tickRate)
			}
		}
	}
}

// Stop signals a running Run loop to exit at the start of its next
// iteration.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// TakeSnapshot captures the current tick number, root status, every node's
// status and stats, and the full blackboard contents.
func (m *Manager) TakeSnapshot() Snapshot {
	m.mu.Lock()
	root := m.root
	nodes := m.nodeByID
	m.mu.Unlock()

	m.execMu.Lock()
	tickNo := m.exec.TickCount
	m.execMu.Unlock()

	snap := Snapshot{
		TickNo:       tickNo,
		TakenAt:      time.Now().UnixNano(),
		NodeStatuses: make(map[string]Status, len(nodes)),
		NodeStats:    make(map[string]NodeStats, len(nodes)),
		Blackboard:   m.bb.Snapshot(),
	}
	if root != nil {
		snap.RootStatus = root.LastStatus()
	}
	for id, n := range nodes {
		snap.NodeStatuses[id] = n.LastStatus()
		snap.NodeStats[id] = n.Stats()
	}
	return snap
}

// RestoreSnapshot restores every node's last-observed status and the full
// blackboard from snap. Node stats are restored too, a deliberate
// improvement over restoring status alone: a resumed tree's stats() call
// should reflect its history, not read as freshly created.
func (m *Manager) RestoreSnapshot(snap Snapshot) error {
	m.mu.Lock()
	nodes := m.nodeByID
	m.mu.Unlock()
	if nodes == nil {
		return newError(ErrConfigInvalid, "no root tree loaded to restore into", nil)
	}

	for id, status := range snap.NodeStatuses {
		n, ok := nodes[id]
		if !ok {
			continue
		}
		if nc, ok := n.(*NodeCore); ok {
			nc.mu.Lock()
			nc.status = status
			if stats, ok := snap.NodeStats[id]; ok {
				nc.stats = stats
			}
			nc.mu.Unlock()
		}
	}
	m.bb.Restore(snap.Blackboard)

	m.execMu.Lock()
	if snap.TickNo > m.exec.TickCount {
		m.exec.TickCount = snap.TickNo
	}
	m.execMu.Unlock()
	return nil
}

// SaveSnapshotYAML serializes a Snapshot for persistence to disk.
func SaveSnapshotYAML(snap Snapshot) ([]byte, error) {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, newError(ErrTickError, "failed to marshal snapshot", err)
	}
	return data, nil
}

// LoadSnapshotYAML deserializes a Snapshot previously produced by
// SaveSnapshotYAML.
func LoadSnapshotYAML(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, newError(ErrConfigInvalid, "failed to parse snapshot", err)
	}
	return snap, nil
}

// NodeStats returns the accumulated NodeStats for every node currently in
// the tree, keyed by node id.
func (m *Manager) NodeStats() map[string]NodeStats {
	m.mu.Lock()
	nodes := m.nodeByID
	m.mu.Unlock()
	out := make(map[string]NodeStats, len(nodes))
	for id, n := range nodes {
		out[id] = n.Stats()
	}
	return out
}

// Stats returns the manager's execution context: tick counts by outcome,
// timing, and the bounded tick history.
func (m *Manager) Stats() ExecutionContext {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	out := m.exec
	out.History = append([]TickRecord(nil), m.exec.History...)
	return out
}

// Shutdown tears down the current root tree, releasing any resources held
// by its nodes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	root := m.root
	m.mu.Unlock()
	if root == nil {
		return nil
	}
	return root.Shutdown(ctx)
}
