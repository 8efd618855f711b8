package addrspace

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ValueFunc produces the value of the call-th read of a variable (0-based).
type ValueFunc func(call int) (any, error)

// Constant always returns v.
func Constant(v any) ValueFunc {
	return func(int) (any, error) { return v, nil }
}

// Sequence returns vs in order and then repeats the last value.
func Sequence(vs ...any) ValueFunc {
	return func(call int) (any, error) {
		if call >= len(vs) {
			return vs[len(vs)-1], nil
		}
		return vs[call], nil
	}
}

// ChangeAfter returns first for the first n reads and then for all later ones.
func ChangeAfter(first, then any, n int) ValueFunc {
	return func(call int) (any, error) {
		if call < n {
			return first, nil
		}
		return then, nil
	}
}

// Counter returns start, start+step, start+2*step, ...
func Counter(start, step float64) ValueFunc {
	return func(call int) (any, error) {
		return start + float64(call)*step, nil
	}
}

// FailAfter delegates to fn for the first n reads and fails afterwards.
func FailAfter(fn ValueFunc, n int, err error) ValueFunc {
	return func(call int) (any, error) {
		if call >= n {
			return nil, err
		}
		return fn(call)
	}
}

type memNode struct {
	ref      NodeRef
	class    NodeClass
	parent   string
	children []string
	value    ValueFunc

	mu    sync.Mutex
	reads int
}

// Memory is an in-memory address space. It is safe for concurrent use and
// records read statistics, which makes it the Source of choice for tests
// and for the simulated plant.
type Memory struct {
	// ReadDelay is added to every Read. Reads honor context cancellation
	// while waiting.
	ReadDelay time.Duration

	mu          sync.Mutex
	root        string
	nodes       map[string]*memNode
	inFlight    int
	maxInFlight int
}

var _ Source = (*Memory)(nil)

// NewMemory creates an address space holding only its root object.
func NewMemory(rootID, rootName string) *Memory {
	m := &Memory{nodes: make(map[string]*memNode)}
	ref := m.mustRef(rootID, rootName)
	m.nodes[rootID] = &memNode{ref: ref, class: ClassObject}
	m.root = rootID
	return m
}

func (m *Memory) mustRef(id, name string) NodeRef {
	kind, err := KindOf(id)
	if err != nil {
		panic(err)
	}
	return NodeRef{ID: id, BrowseName: name, Kind: kind}
}

// RootRef returns the root reference without a context.
func (m *Memory) RootRef() NodeRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[m.root].ref
}

// AddObject adds a container below parent. It panics on a malformed id or
// unknown parent, since trees are built by test and simulation code.
func (m *Memory) AddObject(parent NodeRef, id, name string) NodeRef {
	return m.add(parent, id, name, ClassObject, nil)
}

// AddVariable adds a variable below parent whose reads are served by value.
func (m *Memory) AddVariable(parent NodeRef, id, name string, value ValueFunc) NodeRef {
	return m.add(parent, id, name, ClassVariable, value)
}

// AddMethod adds a node of a class the walker ignores.
func (m *Memory) AddMethod(parent NodeRef, id, name string) NodeRef {
	return m.add(parent, id, name, ClassOther, nil)
}

func (m *Memory) add(parent NodeRef, id, name string, class NodeClass, value ValueFunc) NodeRef {
	ref := m.mustRef(id, name)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.nodes[parent.ID]
	if !ok {
		panic(fmt.Sprintf("addrspace: parent %s not found", parent.ID))
	}
	if _, dup := m.nodes[id]; dup {
		panic(fmt.Sprintf("addrspace: duplicate node %s", id))
	}
	m.nodes[id] = &memNode{ref: ref, class: class, parent: parent.ID, value: value}
	p.children = append(p.children, id)
	return ref
}

func (m *Memory) node(id string) (*memNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return n, nil
}

func (m *Memory) Root(ctx context.Context) (NodeRef, error) {
	if err := ctx.Err(); err != nil {
		return NodeRef{}, err
	}
	return m.RootRef(), nil
}

func (m *Memory) Children(ctx context.Context, ref NodeRef) ([]NodeRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := m.node(ref.ID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NodeRef, 0, len(n.children))
	for _, id := range n.children {
		out = append(out, m.nodes[id].ref)
	}
	return out, nil
}

func (m *Memory) Class(ctx context.Context, ref NodeRef) (NodeClass, error) {
	if err := ctx.Err(); err != nil {
		return ClassOther, err
	}
	n, err := m.node(ref.ID)
	if err != nil {
		return ClassOther, err
	}
	return n.class, nil
}

func (m *Memory) Read(ctx context.Context, ref NodeRef) (any, error) {
	n, err := m.node(ref.ID)
	if err != nil {
		return nil, err
	}
	if n.class != ClassVariable {
		return nil, fmt.Errorf("read %s: not a variable", ref.ID)
	}

	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.ReadDelay > 0 {
		timer := time.NewTimer(m.ReadDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	call := n.reads
	n.reads++
	n.mu.Unlock()
	return n.value(call)
}

func (m *Memory) Parent(ctx context.Context, ref NodeRef) (NodeRef, bool, error) {
	if err := ctx.Err(); err != nil {
		return NodeRef{}, false, err
	}
	n, err := m.node(ref.ID)
	if err != nil {
		return NodeRef{}, false, err
	}
	if n.parent == "" {
		return NodeRef{}, false, nil
	}
	p, err := m.node(n.parent)
	if err != nil {
		return NodeRef{}, false, err
	}
	return p.ref, true, nil
}

// Reads returns how many reads of ref have been served.
func (m *Memory) Reads(ref NodeRef) int {
	n, err := m.node(ref.ID)
	if err != nil {
		return 0
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reads
}

// MaxConcurrentReads is the highest number of reads observed in flight at once.
func (m *Memory) MaxConcurrentReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}
