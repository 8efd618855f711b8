package template_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/template"
)

func entries() []template.Entry {
	return template.EntriesFrom([]label.Mapping{
		{
			Node:     addrspace.NodeRef{ID: "ns=2;i=1101", BrowseName: "Spannung_L1"},
			Path:     []string{"Objects", "Klimaraum", "Energiezaehler", "Spannung_L1"},
			Fragment: "Spannung L1-N", Unit: "V", Series: "L1-N",
		},
		{
			Node:     addrspace.NodeRef{ID: "ns=2;i=1201", BrowseName: "Temperatur_Zuluft"},
			Path:     []string{"Objects", "Klimaraum", "Klima", "Temperatur_Zuluft"},
			Fragment: "Temperatur", Unit: "C", Series: "Grad",
		},
	})
}

func TestBuild(t *testing.T) {
	skel, err := template.Skeleton()
	if err != nil {
		t.Fatalf("Skeleton: %v", err)
	}
	doc, err := template.Build(skel, template.DefaultMeta(), entries())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for k, want := range map[string]string{
		"name":                 "KI4ETA-Tree",
		"referencedServerId":   "178830",
		"referencedServerName": "ETA-Klimaraum-SPS",
		"referencedRootNodeId": "i=85",
	} {
		if doc[k] != want {
			t.Errorf("%s = %v, want %q", k, doc[k], want)
		}
	}
	if doc["enabled"] != true {
		t.Error("skeleton fields must pass through")
	}

	mappings := doc["mappings"].([]any)
	if len(mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(mappings))
	}
	first := mappings[0].(map[string]any)
	if first["name"] != "Spannung_L1" {
		t.Errorf("name = %v", first["name"])
	}
	wantPath := []any{"Objects", "Klimaraum", "Energiezaehler", "Spannung_L1"}
	if diff := cmp.Diff(wantPath, first["browsePath"]); diff != "" {
		t.Errorf("browsePath (-want +got):\n%s", diff)
	}
	wantMC := map[string]any{"unit": "V", "type": "Spannung L1-N", "fragmentName": "c8y_spannung_l1", "series": "L1-N"}
	if diff := cmp.Diff(wantMC, first["measurementCreation"]); diff != "" {
		t.Errorf("measurementCreation (-want +got):\n%s", diff)
	}
	second := mappings[1].(map[string]any)
	if mc := second["measurementCreation"].(map[string]any); mc["fragmentName"] != "c8y_temperatur_zuluft" {
		t.Errorf("second fragmentName = %v", mc["fragmentName"])
	}
}

func TestBuild_LeavesSkeletonUntouched(t *testing.T) {
	skel, err := template.Skeleton()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := template.Build(skel, template.DefaultMeta(), entries()); err != nil {
		t.Fatal(err)
	}
	if skel["name"] != "" || len(skel["mappings"].([]any)) != 1 {
		t.Errorf("skeleton was modified: %v", skel)
	}
}

func TestBuild_NoEntries(t *testing.T) {
	skel, _ := template.Skeleton()
	doc, err := template.Build(skel, template.DefaultMeta(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc["mappings"].([]any); len(got) != 0 {
		t.Errorf("expected empty mappings, got %v", got)
	}
}

func TestBuild_RequiresPrototype(t *testing.T) {
	if _, err := template.Build(template.Document{"mappings": []any{}}, template.DefaultMeta(), entries()); err == nil {
		t.Error("expected error for skeleton without prototype")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	skel, _ := template.Skeleton()
	doc, err := template.Build(skel, template.DefaultMeta(), entries())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "output", "new_template.json")
	if err := template.Save(path, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("saved file is not JSON: %v", err)
	}
	if back["referencedServerName"] != "ETA-Klimaraum-SPS" {
		t.Errorf("round trip lost server name: %v", back["referencedServerName"])
	}

	// a saved protocol can serve as the skeleton of the next one
	again, err := template.LoadSkeleton(path)
	if err != nil {
		t.Fatalf("LoadSkeleton: %v", err)
	}
	if _, err := template.Build(again, template.Meta{Name: "next"}, entries()[:1]); err != nil {
		t.Errorf("Build from saved protocol: %v", err)
	}
}
