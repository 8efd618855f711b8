// Package display provides human-readable names for machine codes.
//
// Code is for machines, words are for humans: use these functions in CLI
// output and Markdown tables. Keep raw codes for JSON fields, store columns
// and comparisons.
package display

import "strings"

// --- Decision sources ---

var sources = map[string]string{
	"auto":     "Auto-accepted",
	"selected": "Operator selected",
	"override": "Operator override",
}

// Source returns the human-readable name for a mapping source.
// Unknown codes are returned as-is.
func Source(code string) string {
	if name, ok := sources[code]; ok {
		return name
	}
	return code
}

// SourceWithCode returns "Operator override (override)" format.
func SourceWithCode(code string) string {
	if name, ok := sources[code]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// --- Labeling states ---

var states = map[string]string{
	"pending":               "Pending",
	"classified":            "Classified",
	"awaiting_confirmation": "Awaiting confirmation",
	"confirmed":             "Confirmed",
}

// State returns the human-readable name for a labeling state.
func State(code string) string {
	if name, ok := states[code]; ok {
		return name
	}
	return code
}

// StatePath converts a sequence of state codes to an arrow-joined path.
// ["pending", "classified"] -> "Pending → Classified"
func StatePath(codes []string) string {
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = State(c)
	}
	return strings.Join(names, " → ")
}

// --- Runs ---

var runStatuses = map[string]string{
	"running": "Running",
	"done":    "Done",
	"error":   "Failed",
}

// RunStatus names a stored run status. An early-terminated run that
// finished cleanly reads "Done (closed early)".
func RunStatus(code string, early bool) string {
	name, ok := runStatuses[code]
	if !ok {
		return code
	}
	if early && code == "done" {
		name += " (closed early)"
	}
	return name
}

// --- Node ids ---

var idKinds = map[string]string{
	"two_byte":    "Two-byte numeric",
	"four_byte":   "Four-byte numeric",
	"numeric":     "Numeric",
	"string":      "String",
	"guid":        "GUID",
	"byte_string": "Byte string",
}

// IDKind returns the human-readable name for a node id encoding.
func IDKind(code string) string {
	if name, ok := idKinds[code]; ok {
		return name
	}
	return code
}

// IDKinds joins several encodings, "Two-byte numeric, Four-byte numeric".
func IDKinds(codes []string) string {
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = IDKind(c)
	}
	return strings.Join(names, ", ")
}

// Placeholder marks unresolved template values, shown as "(unresolved)".
func Placeholder(v, placeholder string) string {
	if v == placeholder {
		return "(unresolved)"
	}
	return v
}
