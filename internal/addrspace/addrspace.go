// Package addrspace defines the boundary to an OPC UA address space: node
// references, the Source interface the discovery pipeline reads through, and
// two implementations (a gopcua client adapter and an in-memory tree).
package addrspace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NodeClass is the subset of OPC UA node classes the walker distinguishes.
type NodeClass int

const (
	ClassOther NodeClass = iota
	ClassObject
	ClassVariable
)

func (c NodeClass) String() string {
	switch c {
	case ClassObject:
		return "object"
	case ClassVariable:
		return "variable"
	}
	return "other"
}

// IDKind is the binary encoding of a node identifier.
type IDKind int

const (
	KindTwoByte IDKind = iota
	KindFourByte
	KindNumeric
	KindString
	KindGUID
	KindByteString
)

var kindNames = map[IDKind]string{
	KindTwoByte:    "two_byte",
	KindFourByte:   "four_byte",
	KindNumeric:    "numeric",
	KindString:     "string",
	KindGUID:       "guid",
	KindByteString: "byte_string",
}

func (k IDKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseIDKind accepts the names produced by IDKind.String.
func ParseIDKind(s string) (IDKind, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == want {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown identifier kind %q", s)
}

// NodeRef identifies a node. It is comparable and safe to use as a map key.
type NodeRef struct {
	ID         string `json:"id"`
	BrowseName string `json:"browse_name"`
	Kind       IDKind `json:"kind"`
}

func (r NodeRef) String() string {
	if r.BrowseName == "" {
		return r.ID
	}
	return r.BrowseName + " (" + r.ID + ")"
}

// Source is everything the pipeline needs from an address space.
type Source interface {
	Root(ctx context.Context) (NodeRef, error)
	Children(ctx context.Context, n NodeRef) ([]NodeRef, error)
	Class(ctx context.Context, n NodeRef) (NodeClass, error)
	Read(ctx context.Context, n NodeRef) (any, error)
	// Parent reports ok=false for the root of the address space.
	Parent(ctx context.Context, n NodeRef) (parent NodeRef, ok bool, err error)
}

var ErrUnknownNode = errors.New("unknown node")

// KindOf derives the identifier encoding from the textual node id form
// ("i=85", "ns=2;i=1001", "ns=3;s=Pump.Speed"). Numeric ids use the most
// compact encoding the namespace and value allow.
func KindOf(id string) (IDKind, error) {
	ns := uint64(0)
	rest := id
	if strings.HasPrefix(rest, "ns=") {
		sep := strings.IndexByte(rest, ';')
		if sep < 0 {
			return 0, fmt.Errorf("node id %q: missing identifier", id)
		}
		v, err := strconv.ParseUint(rest[3:sep], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("node id %q: namespace: %w", id, err)
		}
		ns = v
		rest = rest[sep+1:]
	}
	if len(rest) < 2 || rest[1] != '=' {
		return 0, fmt.Errorf("node id %q: malformed identifier", id)
	}
	switch rest[0] {
	case 'i':
		v, err := strconv.ParseUint(rest[2:], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("node id %q: %w", id, err)
		}
		switch {
		case ns == 0 && v < 256:
			return KindTwoByte, nil
		case ns < 256 && v < 65536:
			return KindFourByte, nil
		}
		return KindNumeric, nil
	case 's':
		return KindString, nil
	case 'g':
		return KindGUID, nil
	case 'b':
		return KindByteString, nil
	}
	return 0, fmt.Errorf("node id %q: unknown identifier type %q", id, rest[0])
}

// AsNumber reports whether v is an integer or floating point value and
// returns it as float64. Booleans are not numbers.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

const maxPathDepth = 64

// BrowsePath returns the browse names from the first level below the
// address-space root down to n.
func BrowsePath(ctx context.Context, src Source, n NodeRef) ([]string, error) {
	path := []string{n.BrowseName}
	cur := n
	for depth := 0; ; depth++ {
		if depth > maxPathDepth {
			return nil, fmt.Errorf("browse path of %s: deeper than %d levels", n.ID, maxPathDepth)
		}
		parent, ok, err := src.Parent(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("browse path of %s: %w", n.ID, err)
		}
		if !ok {
			// cur is the root itself
			return path[:0], nil
		}
		_, hasGrand, err := src.Parent(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("browse path of %s: %w", n.ID, err)
		}
		if !hasGrand {
			break
		}
		path = append(path, parent.BrowseName)
		cur = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}
