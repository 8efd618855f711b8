// Package vocabulary maps quantity names, German or English, to the unit and
// series a measurement of that quantity is stored under.
package vocabulary

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
)

// Entry is the structured metadata of one quantity.
type Entry struct {
	Quantity string
	Unit     string
	Series   string
}

// Vocabulary looks up entries by lower-case term. Longer terms win, so
// "wirkleistung" beats "leistung".
type Vocabulary struct {
	terms map[string]Entry
	order []string
}

// New returns the built-in vocabulary.
func New() *Vocabulary {
	v := &Vocabulary{terms: make(map[string]Entry)}
	registerElectrical(v)
	registerClimate(v)
	registerProcess(v)
	return v
}

func registerElectrical(v *Vocabulary) {
	voltage := Entry{Quantity: "voltage", Unit: "V", Series: "L1-N"}
	current := Entry{Quantity: "current", Unit: "A", Series: "I1-N"}
	v.Register(map[string]Entry{
		"spannung":     voltage,
		"voltage":      voltage,
		"netzspannung": voltage,
		"spannung l1":  voltage,
		"spannung l2":  {Quantity: "voltage", Unit: "V", Series: "L2-N"},
		"spannung l3":  {Quantity: "voltage", Unit: "V", Series: "L3-N"},
		"strom":        current,
		"current":      current,
		"wirkleistung": {Quantity: "active power", Unit: "W", Series: "P"},
		"active power": {Quantity: "active power", Unit: "W", Series: "P"},
		"leistung":     {Quantity: "power", Unit: "W", Series: "P"},
		"power":        {Quantity: "power", Unit: "W", Series: "P"},
		"frequenz":     {Quantity: "frequency", Unit: "Hz", Series: "f"},
		"frequency":    {Quantity: "frequency", Unit: "Hz", Series: "f"},
		"energie":      {Quantity: "energy", Unit: "kWh", Series: "E"},
		"energy":       {Quantity: "energy", Unit: "kWh", Series: "E"},
	})
}

func registerClimate(v *Vocabulary) {
	v.Register(map[string]Entry{
		"temperatur":  {Quantity: "temperature", Unit: "C", Series: "Grad"},
		"temperature": {Quantity: "temperature", Unit: "C", Series: "Grad"},
		"feuchte":     {Quantity: "humidity", Unit: "%", Series: "rH"},
		"humidity":    {Quantity: "humidity", Unit: "%", Series: "rH"},
	})
}

func registerProcess(v *Vocabulary) {
	v.Register(map[string]Entry{
		"druck":      {Quantity: "pressure", Unit: "bar", Series: "p"},
		"pressure":   {Quantity: "pressure", Unit: "bar", Series: "p"},
		"durchfluss": {Quantity: "flow", Unit: "m3/h", Series: "Q"},
		"flow":       {Quantity: "flow", Unit: "m3/h", Series: "Q"},
	})
}

// Register adds or replaces terms.
func (v *Vocabulary) Register(entries map[string]Entry) {
	for term, e := range entries {
		term = strings.ToLower(strings.TrimSpace(term))
		if _, ok := v.terms[term]; !ok {
			v.order = append(v.order, term)
		}
		v.terms[term] = e
	}
	sort.SliceStable(v.order, func(i, j int) bool {
		if len(v.order[i]) != len(v.order[j]) {
			return len(v.order[i]) > len(v.order[j])
		}
		return v.order[i] < v.order[j]
	})
}

// Lookup finds the entry for a free-text fragment: an exact term first, then
// the longest term contained in the text.
func (v *Vocabulary) Lookup(text string) (Entry, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return Entry{}, false
	}
	if e, ok := v.terms[s]; ok {
		return e, true
	}
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	for _, term := range v.order {
		if strings.Contains(s, term) {
			return v.terms[term], true
		}
	}
	return Entry{}, false
}

// Reconcile fills placeholder units and series of override mappings whose
// fragment names a known quantity. It returns the updated copy and the
// number of mappings that still carry placeholders.
func (v *Vocabulary) Reconcile(mappings []label.Mapping) ([]label.Mapping, int) {
	log := logging.New("vocabulary")
	out := make([]label.Mapping, len(mappings))
	copy(out, mappings)
	unresolved := 0
	for i := range out {
		m := &out[i]
		if !m.NeedsReconciliation() {
			continue
		}
		e, ok := v.Lookup(m.Fragment)
		if !ok {
			unresolved++
			log.Warn("no unit known for override", slog.String("node", m.Node.ID), slog.String("fragment", m.Fragment))
			continue
		}
		if m.Unit == label.Placeholder {
			m.Unit = e.Unit
		}
		if m.Series == label.Placeholder {
			m.Series = e.Series
		}
		log.Debug("override reconciled", slog.String("fragment", m.Fragment), slog.String("quantity", e.Quantity))
	}
	return out, unresolved
}
