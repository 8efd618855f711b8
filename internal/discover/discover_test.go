package discover_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/discover"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
)

func ids(refs []addrspace.NodeRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

func fastFilter(src addrspace.Source, opts ...discover.FilterOption) *discover.Filter {
	base := []discover.FilterOption{
		discover.WithProbe(60*time.Millisecond, 5*time.Millisecond),
		discover.WithFilterLogger(logging.Discard()),
	}
	return discover.NewFilter(src, append(base, opts...)...)
}

// mixedTree has containers, numeric and string variables, a string-keyed
// numeric node and an unreadable node.
func mixedTree() (*addrspace.Memory, []string) {
	m := addrspace.NewMemory(addrspace.RootFolderID, "Root")
	objects := m.AddObject(m.RootRef(), addrspace.ObjectsFolderID, "Objects")
	dev := m.AddObject(objects, "ns=2;i=10", "Device")
	m.AddVariable(dev, "ns=2;i=11", "Voltage", addrspace.Constant(230.0))
	m.AddVariable(dev, "ns=2;i=12", "Name", addrspace.Constant("pump"))
	m.AddVariable(dev, "ns=2;i=13", "Count", addrspace.Constant(uint32(4)))
	m.AddMethod(dev, "ns=2;i=14", "Reset")
	sub := m.AddObject(dev, "ns=2;i=20", "Sub")
	m.AddVariable(sub, "ns=2;i=21", "Current", addrspace.Constant(float32(1.5)))
	m.AddVariable(sub, "ns=2;s=Sub.Power", "Power", addrspace.Constant(100.0))
	m.AddVariable(sub, "ns=2;i=22", "Locked", addrspace.FailAfter(addrspace.Constant(1.0), 0, errors.New("BadNotReadable")))
	m.AddVariable(sub, "ns=2;i=23", "Running", addrspace.Constant(true))
	m.AddVariable(objects, "i=2267", "ServiceLevel", addrspace.Constant(uint8(200)))
	return m, []string{"ns=2;i=11", "ns=2;i=13", "ns=2;i=21", "i=2267"}
}

func TestWalk_KeepsOnlyNumericVariables(t *testing.T) {
	m, want := mixedTree()
	w := discover.NewWalker(m, discover.WithWalkLogger(logging.Discard()))

	got, err := w.Walk(context.Background(), m.RootRef())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("walk result (-want +got):\n%s", diff)
	}

	st := w.Stats()
	if st.WrongKind != 1 {
		t.Errorf("WrongKind = %d, want 1", st.WrongKind)
	}
	if st.NotNumeric != 2 {
		t.Errorf("NotNumeric = %d, want 2 (string and bool)", st.NotNumeric)
	}
	if st.ReadFailed != 1 {
		t.Errorf("ReadFailed = %d, want 1", st.ReadFailed)
	}
}

func TestWalk_AcceptedKindsConfigurable(t *testing.T) {
	m, _ := mixedTree()
	w := discover.NewWalker(m,
		discover.WithAcceptedKinds(addrspace.KindString),
		discover.WithWalkLogger(logging.Discard()))

	got, err := w.Walk(context.Background(), m.RootRef())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if diff := cmp.Diff([]string{"ns=2;s=Sub.Power"}, ids(got)); diff != "" {
		t.Errorf("walk result (-want +got):\n%s", diff)
	}
}

func TestWalk_CancelledContext(t *testing.T) {
	m, _ := mixedTree()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := discover.NewWalker(m, discover.WithWalkLogger(logging.Discard())).Walk(ctx, m.RootRef())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// fiveNodes is two constant nodes at 10 and three nodes that change once
// within the probe window.
func fiveNodes() (*addrspace.Memory, []addrspace.NodeRef) {
	m := addrspace.NewMemory(addrspace.RootFolderID, "Root")
	root := m.RootRef()
	refs := []addrspace.NodeRef{
		m.AddVariable(root, "ns=2;i=1", "c1", addrspace.Constant(10)),
		m.AddVariable(root, "ns=2;i=2", "d1", addrspace.ChangeAfter(10, 11, 2)),
		m.AddVariable(root, "ns=2;i=3", "c2", addrspace.Constant(10)),
		m.AddVariable(root, "ns=2;i=4", "d2", addrspace.ChangeAfter(10.0, 10.5, 4)),
		m.AddVariable(root, "ns=2;i=5", "d3", addrspace.Counter(0, 1)),
	}
	return m, refs
}

func TestFilterDynamic_FiveNodeExample(t *testing.T) {
	m, refs := fiveNodes()

	got, err := fastFilter(m).FilterDynamic(context.Background(), refs)
	if err != nil {
		t.Fatalf("FilterDynamic: %v", err)
	}
	if diff := cmp.Diff([]string{"ns=2;i=2", "ns=2;i=4", "ns=2;i=5"}, ids(got)); diff != "" {
		t.Errorf("dynamic set (-want +got):\n%s", diff)
	}
}

func TestFilterDynamic_SubsetOfCandidates(t *testing.T) {
	m := addrspace.Simulation(7)
	candidates, err := discover.NewWalker(m, discover.WithWalkLogger(logging.Discard())).Walk(context.Background(), m.RootRef())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	dynamic, err := fastFilter(m).FilterDynamic(context.Background(), candidates)
	if err != nil {
		t.Fatalf("FilterDynamic: %v", err)
	}
	in := make(map[addrspace.NodeRef]bool, len(candidates))
	for _, c := range candidates {
		in[c] = true
	}
	for _, d := range dynamic {
		if !in[d] {
			t.Errorf("dynamic node %s is not a candidate", d.ID)
		}
	}
	if len(dynamic) == 0 || len(dynamic) >= len(candidates) {
		t.Errorf("expected a proper non-empty subset, got %d of %d", len(dynamic), len(candidates))
	}
}

func TestFilterDynamic_StopsProbingOnFirstChange(t *testing.T) {
	m, refs := fiveNodes()
	f := fastFilter(m)

	if _, err := f.FilterDynamic(context.Background(), refs); err != nil {
		t.Fatalf("FilterDynamic: %v", err)
	}
	// initial read, one equal re-read, then the differing one
	if got := m.Reads(refs[1]); got != 3 {
		t.Errorf("reads of early-changing node = %d, want 3", got)
	}
	// constant nodes are read once plus every re-read
	if got, want := m.Reads(refs[0]), 1+f.Rereads(); got != want {
		t.Errorf("reads of constant node = %d, want %d", got, want)
	}
}

func TestFilterDynamic_ReadFailureMeansStatic(t *testing.T) {
	m := addrspace.NewMemory(addrspace.RootFolderID, "Root")
	boom := errors.New("BadCommunicationError")
	refs := []addrspace.NodeRef{
		m.AddVariable(m.RootRef(), "ns=2;i=1", "first-fails", addrspace.FailAfter(addrspace.Counter(0, 1), 0, boom)),
		m.AddVariable(m.RootRef(), "ns=2;i=2", "later-fails", addrspace.FailAfter(addrspace.Constant(3.0), 2, boom)),
		m.AddVariable(m.RootRef(), "ns=2;i=3", "changes", addrspace.Counter(0, 1)),
	}

	got, err := fastFilter(m).FilterDynamic(context.Background(), refs)
	if err != nil {
		t.Fatalf("FilterDynamic: %v", err)
	}
	if diff := cmp.Diff([]string{"ns=2;i=3"}, ids(got)); diff != "" {
		t.Errorf("dynamic set (-want +got):\n%s", diff)
	}
}

func TestFilterDynamic_RespectsMaxConcurrent(t *testing.T) {
	m := addrspace.NewMemory(addrspace.RootFolderID, "Root")
	m.ReadDelay = 2 * time.Millisecond
	var refs []addrspace.NodeRef
	for i := 1; i <= 24; i++ {
		refs = append(refs, m.AddVariable(m.RootRef(), fmt.Sprintf("ns=2;i=%d", i), "v", addrspace.Constant(1.0)))
	}

	f := fastFilter(m, discover.WithProbe(20*time.Millisecond, 5*time.Millisecond), discover.WithMaxConcurrent(3))
	got, err := f.FilterDynamic(context.Background(), refs)
	if err != nil {
		t.Fatalf("FilterDynamic: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no dynamic nodes, got %d", len(got))
	}
	if peak := m.MaxConcurrentReads(); peak > 3 {
		t.Errorf("peak concurrent probes = %d, want <= 3", peak)
	}
}

func TestFilterDynamic_ReadTimeoutBoundsHungNode(t *testing.T) {
	m := addrspace.NewMemory(addrspace.RootFolderID, "Root")
	m.ReadDelay = time.Hour
	ref := m.AddVariable(m.RootRef(), "ns=2;i=1", "hung", addrspace.Counter(0, 1))

	f := fastFilter(m, discover.WithProbeReadTimeout(20*time.Millisecond))
	done := make(chan struct{})
	var got []addrspace.NodeRef
	var err error
	go func() {
		got, err = f.FilterDynamic(context.Background(), []addrspace.NodeRef{ref})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("filter did not finish with a hung node")
	}
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v; want empty set and nil error", ids(got), err)
	}
}

func TestFilterDynamic_Cancelled(t *testing.T) {
	m, refs := fiveNodes()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fastFilter(m).FilterDynamic(ctx, refs); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFilter_EstimatedWait(t *testing.T) {
	f := discover.NewFilter(nil, discover.WithProbe(5*time.Second, 250*time.Millisecond), discover.WithMaxConcurrent(500))
	if got := f.EstimatedWait(1200); got != 15*time.Second {
		t.Errorf("EstimatedWait(1200) = %v, want 15s", got)
	}
	if got := f.Rereads(); got != 20 {
		t.Errorf("Rereads = %d, want 20", got)
	}
}
