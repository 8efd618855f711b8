package addrspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	"github.com/GeraldRistow/opcua-browser/internal/logging"
)

// DialConfig selects the server and session parameters for Dial.
type DialConfig struct {
	Endpoint       string
	SecurityPolicy string
	SecurityMode   string
	RequestTimeout time.Duration
	// RootNode is the node Root returns. Defaults to the Root folder (i=84).
	RootNode string
}

// OPCUA is a Source backed by a live gopcua client session.
type OPCUA struct {
	client *opcua.Client
	root   *ua.NodeID
	log    *slog.Logger

	// node classes learned while browsing, keyed by node id
	classes sync.Map
}

var _ Source = (*OPCUA)(nil)

// Dial connects to cfg.Endpoint. The caller owns the session and must Close it.
func Dial(ctx context.Context, cfg DialConfig) (*OPCUA, error) {
	rootID := cfg.RootNode
	if rootID == "" {
		rootID = RootFolderID
	}
	root, err := ua.ParseNodeID(rootID)
	if err != nil {
		return nil, fmt.Errorf("parse root node %q: %w", rootID, err)
	}

	opts := []opcua.Option{
		opcua.SecurityPolicy(orDefault(cfg.SecurityPolicy, "None")),
		opcua.SecurityModeString(orDefault(cfg.SecurityMode, "None")),
		opcua.AutoReconnect(false),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, opcua.RequestTimeout(cfg.RequestTimeout))
	}

	c, err := opcua.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", cfg.Endpoint, err)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint, err)
	}

	log := logging.New("opcua")
	log.Info("connected", slog.String("endpoint", cfg.Endpoint), slog.String("root", root.String()))
	return &OPCUA{client: c, root: root, log: log}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Close ends the session.
func (s *OPCUA) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func (s *OPCUA) Root(ctx context.Context) (NodeRef, error) {
	qn, err := s.client.Node(s.root).BrowseName(ctx)
	if err != nil {
		return NodeRef{}, fmt.Errorf("browse name of root %s: %w", s.root, err)
	}
	s.classes.Store(s.root.String(), ClassObject)
	return refOf(s.root, qn), nil
}

func (s *OPCUA) Children(ctx context.Context, n NodeRef) ([]NodeRef, error) {
	nid, err := ua.ParseNodeID(n.ID)
	if err != nil {
		return nil, err
	}
	refs, err := s.client.Node(nid).References(ctx, id.HierarchicalReferences,
		ua.BrowseDirectionForward, ua.NodeClassObject|ua.NodeClassVariable, true)
	if err != nil {
		return nil, fmt.Errorf("browse %s: %w", n.ID, err)
	}
	out := make([]NodeRef, 0, len(refs))
	for _, rd := range refs {
		if rd.NodeID == nil || rd.NodeID.NodeID == nil {
			continue
		}
		child := refOf(rd.NodeID.NodeID, rd.BrowseName)
		s.classes.Store(child.ID, classOf(rd.NodeClass))
		out = append(out, child)
	}
	return out, nil
}

func (s *OPCUA) Class(ctx context.Context, n NodeRef) (NodeClass, error) {
	if c, ok := s.classes.Load(n.ID); ok {
		return c.(NodeClass), nil
	}
	nid, err := ua.ParseNodeID(n.ID)
	if err != nil {
		return ClassOther, err
	}
	nc, err := s.client.Node(nid).NodeClass(ctx)
	if err != nil {
		return ClassOther, fmt.Errorf("node class of %s: %w", n.ID, err)
	}
	c := classOf(nc)
	s.classes.Store(n.ID, c)
	return c, nil
}

func (s *OPCUA) Read(ctx context.Context, n NodeRef) (any, error) {
	nid, err := ua.ParseNodeID(n.ID)
	if err != nil {
		return nil, err
	}
	v, err := s.client.Node(nid).Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", n.ID, err)
	}
	if v == nil {
		return nil, fmt.Errorf("read %s: empty variant", n.ID)
	}
	return v.Value(), nil
}

func (s *OPCUA) Parent(ctx context.Context, n NodeRef) (NodeRef, bool, error) {
	nid, err := ua.ParseNodeID(n.ID)
	if err != nil {
		return NodeRef{}, false, err
	}
	refs, err := s.client.Node(nid).References(ctx, id.HierarchicalReferences,
		ua.BrowseDirectionInverse, ua.NodeClassUnspecified, true)
	if err != nil {
		return NodeRef{}, false, fmt.Errorf("parent of %s: %w", n.ID, err)
	}
	for _, rd := range refs {
		if rd.NodeID != nil && rd.NodeID.NodeID != nil {
			return refOf(rd.NodeID.NodeID, rd.BrowseName), true, nil
		}
	}
	return NodeRef{}, false, nil
}

func refOf(nid *ua.NodeID, qn *ua.QualifiedName) NodeRef {
	ref := NodeRef{ID: nid.String(), Kind: kindOfNodeID(nid)}
	if qn != nil {
		ref.BrowseName = qn.Name
	}
	return ref
}

func kindOfNodeID(nid *ua.NodeID) IDKind {
	switch nid.Type() {
	case ua.NodeIDTypeTwoByte:
		return KindTwoByte
	case ua.NodeIDTypeFourByte:
		return KindFourByte
	case ua.NodeIDTypeNumeric:
		return KindNumeric
	case ua.NodeIDTypeString:
		return KindString
	case ua.NodeIDTypeGUID:
		return KindGUID
	}
	return KindByteString
}

func classOf(nc ua.NodeClass) NodeClass {
	switch nc {
	case ua.NodeClassObject:
		return ClassObject
	case ua.NodeClassVariable:
		return ClassVariable
	}
	return ClassOther
}
