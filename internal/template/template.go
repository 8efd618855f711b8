// Package template builds Cumulocity OPC UA device protocols from confirmed
// mappings.
package template

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GeraldRistow/opcua-browser/internal/label"
)

//go:embed template.json
var skeletonJSON []byte

// DefaultOutput is where Save writes when no path is configured.
const DefaultOutput = "output/new_template.json"

// Document is a device protocol as free-form JSON. Fields the builder does
// not touch pass through unchanged.
type Document map[string]any

// Meta identifies the server a protocol belongs to.
type Meta struct {
	Name       string `json:"name" yaml:"name" toml:"name"`
	ServerID   string `json:"server_id" yaml:"server_id" toml:"server_id"`
	ServerName string `json:"server_name" yaml:"server_name" toml:"server_name"`
	RootNodeID string `json:"root_node_id" yaml:"root_node_id" toml:"root_node_id"`
}

func DefaultMeta() Meta {
	return Meta{
		Name:       "KI4ETA-Tree",
		ServerID:   "178830",
		ServerName: "ETA-Klimaraum-SPS",
		RootNodeID: "i=85",
	}
}

// Entry is one mapped node.
type Entry struct {
	BrowsePath []string
	Name       string
	Fragment   string
	Unit       string
	Series     string
}

// EntriesFrom converts mappings in order.
func EntriesFrom(ms []label.Mapping) []Entry {
	out := make([]Entry, len(ms))
	for i, m := range ms {
		out[i] = Entry{
			BrowsePath: m.Path,
			Name:       m.Node.BrowseName,
			Fragment:   m.Fragment,
			Unit:       m.Unit,
			Series:     m.Series,
		}
	}
	return out
}

var errNoPrototype = errors.New("skeleton has no mapping prototype")

// Skeleton returns a fresh copy of the built-in protocol skeleton.
func Skeleton() (Document, error) {
	return parse(skeletonJSON)
}

// LoadSkeleton reads a skeleton from disk.
func LoadSkeleton(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skeleton: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse skeleton: %w", err)
	}
	return d, nil
}

// Build fills a copy of skeleton with meta and one mapping per entry. The
// first element of the skeleton's mappings is the prototype of every entry;
// the skeleton itself is left untouched.
func Build(skeleton Document, meta Meta, entries []Entry) (Document, error) {
	doc, err := clone(skeleton)
	if err != nil {
		return nil, err
	}
	doc["name"] = meta.Name
	doc["referencedServerId"] = meta.ServerID
	doc["referencedServerName"] = meta.ServerName
	doc["referencedRootNodeId"] = meta.RootNodeID

	protos, _ := doc["mappings"].([]any)
	if len(protos) == 0 {
		return nil, errNoPrototype
	}
	proto, ok := protos[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: mappings[0] is %T", errNoPrototype, protos[0])
	}

	mappings := make([]any, 0, len(entries))
	for _, e := range entries {
		m, err := clone(proto)
		if err != nil {
			return nil, err
		}
		path := make([]any, len(e.BrowsePath))
		for i, p := range e.BrowsePath {
			path[i] = p
		}
		m["browsePath"] = path
		m["name"] = e.Name

		mc, _ := m["measurementCreation"].(map[string]any)
		if mc == nil {
			mc = map[string]any{}
		}
		mc["unit"] = e.Unit
		mc["type"] = e.Fragment
		mc["fragmentName"] = "c8y_" + strings.ToLower(e.Name)
		mc["series"] = e.Series
		m["measurementCreation"] = mc
		mappings = append(mappings, map[string]any(m))
	}
	doc["mappings"] = mappings
	return doc, nil
}

func clone[M ~map[string]any](src M) (Document, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("copy template: %w", err)
	}
	return parse(data)
}

// Save writes doc as indented JSON, creating parent directories.
func Save(path string, doc Document) error {
	if path == "" {
		path = DefaultOutput
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}
