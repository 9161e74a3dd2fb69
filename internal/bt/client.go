package bt

import "fmt"

// ClientScope declares what a Client is permitted to touch. Empty
// AllowedNamespaces means no namespace restriction; empty ReadKeys/WriteKeys
// means no key restriction within allowed namespaces.
type ClientScope struct {
	ActorID           string
	AllowedNamespaces []string
	ReadKeys          []string // "namespace/key"
	WriteKeys         []string // "namespace/key"
}

// compile builds the lookup-map form of the scope once, so a node that
// constructs a fresh Client every tick doesn't rebuild the same sets on
// every call.
func (s ClientScope) compile() *compiledScope {
	cs := &compiledScope{
		actorID:           s.ActorID,
		allowedNamespaces: make(map[string]bool, len(s.AllowedNamespaces)),
		readKeys:          make(map[string]bool, len(s.ReadKeys)),
		writeKeys:         make(map[string]bool, len(s.WriteKeys)),
	}
	for _, ns := range s.AllowedNamespaces {
		cs.allowedNamespaces[ns] = true
	}
	for _, k := range s.ReadKeys {
		cs.readKeys[k] = true
	}
	for _, k := range s.WriteKeys {
		cs.writeKeys[k] = true
	}
	return cs
}

// compiledScope is the compiled form of a ClientScope.
type compiledScope struct {
	actorID           string
	allowedNamespaces map[string]bool
	readKeys          map[string]bool // "namespace/key", empty set means "any key in an allowed namespace"
	writeKeys         map[string]bool
}

func (s *compiledScope) namespaceAllowed(ns string) bool {
	return len(s.allowedNamespaces) == 0 || s.allowedNamespaces[ns]
}

func (s *compiledScope) readAllowed(ns, key string) bool {
	if !s.namespaceAllowed(ns) {
		return false
	}
	return len(s.readKeys) == 0 || s.readKeys[ns+"/"+key]
}

func (s *compiledScope) writeAllowed(ns, key string) bool {
	if !s.namespaceAllowed(ns) {
		return false
	}
	return len(s.writeKeys) == 0 || s.writeKeys[ns+"/"+key]
}

// Client is a scoped view over a Blackboard, restricting an actor (typically
// one node) to a declared set of namespaces and keys. It exists so a
// misbehaving leaf cannot silently read or clobber state outside its
// intended contract.
type Client struct {
	bb    *Blackboard
	scope *compiledScope
}

// NewClient builds a scoped Client over bb per scope.
func NewClient(bb *Blackboard, scope ClientScope) *Client {
	return &Client{bb: bb, scope: scope.compile()}
}

// newScopedClient builds a Client from an already-compiled scope, the form
// leaves hold onto across ticks so scoping a fresh Client to the current
// tick's Blackboard doesn't recompile the scope's lookup sets each time.
func newScopedClient(bb *Blackboard, scope *compiledScope) *Client {
	return &Client{bb: bb, scope: scope}
}

// Get reads ns/key through the client's scope.
func (c *Client) Get(ns, key string) (any, error) {
	if !c.scope.readAllowed(ns, key) {
		return nil, newError(ErrAccessDenied, fmt.Sprintf("actor %s cannot read %s/%s", c.scope.actorID, ns, key), nil)
	}
	v, _, ok := c.bb.Get(ns, key)
	if !ok {
		return nil, newError(ErrKeyNotFound, fmt.Sprintf("%s/%s", ns, key), nil)
	}
	return v, nil
}

// GetDefault reads ns/key through the client's scope, returning def instead
// of an error when the key is absent.
func (c *Client) GetDefault(ns, key string, def any) (any, error) {
	v, err := c.Get(ns, key)
	if err != nil {
		var te *TreeError
		if isKind(err, ErrKeyNotFound, &te) {
			return def, nil
		}
		return nil, err
	}
	return v, nil
}

// Set writes ns/key through the client's scope, attributing the write to
// the scope's actor ID.
func (c *Client) Set(ns, key string, value any) error {
	if !c.scope.writeAllowed(ns, key) {
		return newError(ErrAccessDenied, fmt.Sprintf("actor %s cannot write %s/%s", c.scope.actorID, ns, key), nil)
	}
	c.bb.Set(ns, key, value, c.scope.actorID)
	return nil
}

// Delete removes ns/key through the client's scope, attributing the delete
// to the scope's actor ID.
func (c *Client) Delete(ns, key string) error {
	if !c.scope.writeAllowed(ns, key) {
		return newError(ErrAccessDenied, fmt.Sprintf("actor %s cannot delete %s/%s", c.scope.actorID, ns, key), nil)
	}
	c.bb.Delete(ns, key, c.scope.actorID)
	return nil
}

// Subscribe registers fn for changes to ns/key, provided the client is
// allowed to read that key.
func (c *Client) Subscribe(ns, key string, fn Subscriber) error {
	if !c.scope.readAllowed(ns, key) {
		return newError(ErrAccessDenied, fmt.Sprintf("actor %s cannot subscribe to %s/%s", c.scope.actorID, ns, key), nil)
	}
	c.bb.Subscribe(ns, key, fn)
	return nil
}

func isKind(err error, kind ErrorKind, out **TreeError) bool {
	te, ok := err.(*TreeError)
	if !ok || te.Kind != kind {
		return false
	}
	*out = te
	return true
}
