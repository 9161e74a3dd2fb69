package bt

import (
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// entry is a single versioned blackboard value, carrying enough metadata to
// answer "who touched this last, and when" without consulting the activity
// log.
type entry struct {
	Value          any
	CreatedAt      int64
	LastModifiedAt int64
	LastModifiedBy string
	Version        uint64
}

func (e entry) clone() entry { return e }

// namespace groups related keys under one lock, mirroring the way a tree's
// subsystems (perception, planning, actuation) are kept from stepping on
// each other's writes.
type namespace struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Subscriber is invoked whenever a key changes, outside of the blackboard's
// critical section. A slow subscriber therefore cannot stall a writer.
type Subscriber func(namespace, key string, oldValue, newValue any, version uint64)

// ActivityOp identifies the kind of write an activityRecord describes.
type ActivityOp string

const (
	ActivitySet    ActivityOp = "SET"
	ActivityDelete ActivityOp = "DELETE"
	ActivityClear  ActivityOp = "CLEAR"
)

// activityRecord is one bounded log line of blackboard activity.
type activityRecord struct {
	Timestamp  int64
	Op         ActivityOp
	Namespace  string
	Key        string
	Actor      string
	OldVersion uint64
	NewVersion uint64
}

// Blackboard is the shared, namespaced key-value store nodes read and write
// through during a tick. Every write bumps a per-key version and notifies
// subscribers after the namespace lock is released.
type Blackboard struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace

	subMu   sync.Mutex
	subs    map[string][]Subscriber // keyed by "namespace/key", "" key means whole-namespace
	allSubs []Subscriber

	logMu  sync.Mutex
	log    []activityRecord
	logCap int
}

// NewBlackboard creates an empty blackboard with the given bounded activity
// log capacity. A non-positive capacity disables the activity log.
func NewBlackboard(logCapacity int) *Blackboard {
	return &Blackboard{
		namespaces: make(map[string]*namespace),
		subs:       make(map[string][]Subscriber),
		logCap:     logCapacity,
	}
}

// CreateNamespace ensures ns exists, without writing any key into it. It is
// idempotent: calling it on an existing namespace is a no-op. Most callers
// never need it since Set auto-creates a namespace on first write; it exists
// for callers that want to pre-declare a namespace before scoping a Client
// to it.
func (b *Blackboard) CreateNamespace(ns string) {
	b.namespaceFor(ns)
}

func (b *Blackboard) namespaceFor(ns string) *namespace {
	b.mu.RLock()
	n, ok := b.namespaces[ns]
	b.mu.RUnlock()
	if ok {
		return n
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok = b.namespaces[ns]; ok {
		return n
	}
	n = &namespace{entries: make(map[string]*entry)}
	b.namespaces[ns] = n
	return n
}

// Get returns the current value for ns/key. ok is false if the key has never
// been set.
func (b *Blackboard) Get(ns, key string) (value any, version uint64, ok bool) {
	n := b.namespaceFor(ns)
	n.mu.Lock()
	defer n.mu.Unlock()
	e, present := n.entries[key]
	if !present {
		return nil, 0, false
	}
	return e.Value, e.Version, true
}

// Entry returns the full entry metadata for ns/key, not just its value.
func (b *Blackboard) Entry(ns, key string) (e entry, ok bool) {
	n := b.namespaceFor(ns)
	n.mu.Lock()
	defer n.mu.Unlock()
	stored, present := n.entries[key]
	if !present {
		return entry{}, false
	}
	return stored.clone(), true
}

// Set writes ns/key on behalf of actor, bumping its version, and fires
// subscribers after the namespace lock is released. actor is attributed in
// the entry's LastModifiedBy field and in the activity log; an empty actor
// means "unattributed" rather than an error.
func (b *Blackboard) Set(ns, key string, value any, actor string) uint64 {
	n := b.namespaceFor(ns)

	n.mu.Lock()
	e, existed := n.entries[key]
	var oldValue any
	var oldVersion uint64
	now := time.Now().UnixNano()
	if existed {
		oldValue = e.Value
		oldVersion = e.Version
		e.Value = value
		e.Version++
		e.LastModifiedAt = now
		e.LastModifiedBy = actor
	} else {
		e = &entry{Value: value, CreatedAt: now, LastModifiedAt: now, LastModifiedBy: actor, Version: 1}
		n.entries[key] = e
	}
	version := e.Version
	n.mu.Unlock()

	b.recordActivity(ActivitySet, ns, key, actor, oldVersion, version)
	b.notify(ns, key, oldValue, value, version)
	return version
}

// Delete removes ns/key on behalf of actor. It reports whether the key
// existed.
func (b *Blackboard) Delete(ns, key string, actor string) bool {
	n := b.namespaceFor(ns)
	n.mu.Lock()
	e, existed := n.entries[key]
	if existed {
		delete(n.entries, key)
	}
	n.mu.Unlock()

	if !existed {
		return false
	}
	b.recordActivity(ActivityDelete, ns, key, actor, e.Version, e.Version+1)
	b.notify(ns, key, e.Value, nil, e.Version+1)
	return true
}

// Clear removes every key from ns on behalf of actor, or from every
// namespace if ns is empty. It returns the number of keys removed.
// Subscribers are notified per removed key; the activity log receives a
// single CLEAR record for the call, with Namespace set to ns and an empty
// Key.
func (b *Blackboard) Clear(ns string, actor string) int {
	b.mu.RLock()
	var targets []string
	if ns == "" {
		for name := range b.namespaces {
			targets = append(targets, name)
		}
	} else if _, ok := b.namespaces[ns]; ok {
		targets = []string{ns}
	}
	b.mu.RUnlock()

	cleared := 0
	for _, name := range targets {
		n := b.namespaceFor(name)
		n.mu.Lock()
		removed := n.entries
		n.entries = make(map[string]*entry)
		n.mu.Unlock()

		for key, e := range removed {
			cleared++
			b.notify(name, key, e.Value, nil, e.Version+1)
		}
	}
	b.recordActivity(ActivityClear, ns, "", actor, 0, 0)
	return cleared
}

// Subscribe registers fn to fire on any change within ns. If key is
// non-empty, only changes to that specific key are delivered.
func (b *Blackboard) Subscribe(ns, key string, fn Subscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if ns == "" && key == "" {
		b.allSubs = append(b.allSubs, fn)
		return
	}
	b.subs[ns+"/"+key] = append(b.subs[ns+"/"+key], fn)
}

func (b *Blackboard) notify(ns, key string, oldValue, newValue any, version uint64) {
	b.subMu.Lock()
	targets := append([]Subscriber{}, b.subs[ns+"/"+key]...)
	targets = append(targets, b.subs[ns+"/"]...)
	targets = append(targets, b.allSubs...)
	b.subMu.Unlock()

	for _, fn := range targets {
		fn(ns, key, oldValue, newValue, version)
	}
}

func (b *Blackboard) recordActivity(op ActivityOp, ns, key, actor string, oldVersion, newVersion uint64) {
	if b.logCap <= 0 {
		return
	}
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.log = append(b.log, activityRecord{
		Timestamp:  time.Now().UnixNano(),
		Op:         op,
		Namespace:  ns,
		Key:        key,
		Actor:      actor,
		OldVersion: oldVersion,
		NewVersion: newVersion,
	})
	if len(b.log) > b.logCap {
		b.log = b.log[len(b.log)-b.logCap:]
	}
}

// ActivityLog returns a copy of the bounded activity log, oldest first.
func (b *Blackboard) ActivityLog() []activityRecord {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	out := make([]activityRecord, len(b.log))
	copy(out, b.log)
	return out
}

// snapshotEntry is the serializable form of an entry, keeping every field
// invariant P9 requires a restore to reproduce exactly.
type snapshotEntry struct {
	Value          any    `yaml:"value"`
	CreatedAt      int64  `yaml:"created_at"`
	LastModifiedAt int64  `yaml:"last_modified_at"`
	LastModifiedBy string `yaml:"last_modified_by"`
	Version        uint64 `yaml:"version"`
}

// snapshotDoc is the on-disk representation used by MarshalYAML/UnmarshalYAML.
type snapshotDoc struct {
	Namespaces map[string]map[string]snapshotEntry `yaml:"namespaces"`
}

// Snapshot returns a deep-enough copy of every namespace's current entries,
// preserving each key's full metadata (value, timestamps, actor, version)
// so Restore can reproduce it exactly rather than replaying it as a fresh
// write.
func (b *Blackboard) Snapshot() map[string]map[string]snapshotEntry {
	b.mu.RLock()
	names := make([]string, 0, len(b.namespaces))
	nsRefs := make([]*namespace, 0, len(b.namespaces))
	for name, n := range b.namespaces {
		names = append(names, name)
		nsRefs = append(nsRefs, n)
	}
	b.mu.RUnlock()

	out := make(map[string]map[string]snapshotEntry, len(names))
	for i, name := range names {
		n := nsRefs[i]
		n.mu.Lock()
		vals := make(map[string]snapshotEntry, len(n.entries))
		for k, e := range n.entries {
			vals[k] = snapshotEntry{
				Value:          e.Value,
				CreatedAt:      e.CreatedAt,
				LastModifiedAt: e.LastModifiedAt,
				LastModifiedBy: e.LastModifiedBy,
				Version:        e.Version,
			}
		}
		n.mu.Unlock()
		out[name] = vals
	}
	return out
}

// Restore replaces the blackboard's contents with the given snapshot,
// reproducing each key's exact value and version rather than layering a new
// write with a bumped version on top of whatever the blackboard currently
// holds. Keys absent from the snapshot are removed. Subscribers still fire,
// with the value the key held immediately before the restore as oldValue.
func (b *Blackboard) Restore(snap map[string]map[string]snapshotEntry) {
	var notices []func()
	b.mu.RLock()
	for name, n := range b.namespaces {
		n.mu.Lock()
		for k, e := range n.entries {
			if _, keep := snap[name][k]; !keep {
				delete(n.entries, k)
				notices = append(notices, func() { b.notify(name, k, e.Value, nil, e.Version+1) })
			}
		}
		n.mu.Unlock()
	}
	b.mu.RUnlock()
	for _, fire := range notices {
		fire()
	}
	for ns, kv := range snap {
		n := b.namespaceFor(ns)
		for k, se := range kv {
			n.mu.Lock()
			existing, existed := n.entries[k]
			var oldValue any
			if existed {
				oldValue = existing.Value
			}
			n.entries[k] = &entry{
				Value:          se.Value,
				CreatedAt:      se.CreatedAt,
				LastModifiedAt: se.LastModifiedAt,
				LastModifiedBy: se.LastModifiedBy,
				Version:        se.Version,
			}
			n.mu.Unlock()
			b.notify(ns, k, oldValue, se.Value, se.Version)
		}
	}
}

// MarshalYAML encodes the blackboard's current state for persistence.
func (b *Blackboard) MarshalYAML() ([]byte, error) {
	doc := snapshotDoc{Namespaces: b.Snapshot()}
	return yaml.Marshal(doc)
}

// UnmarshalYAML loads a previously persisted blackboard state, restoring it
// into the receiver.
func (b *Blackboard) UnmarshalYAML(data []byte) error {
	var doc snapshotDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return newError(ErrConfigInvalid, "failed to parse blackboard snapshot", err)
	}
	b.Restore(doc.Namespaces)
	return nil
}
