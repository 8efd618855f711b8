package sample

import (
	"fmt"
	"strconv"
)

// EncodeValues renders samples as shortest round-trip decimal strings.
// NaN and the infinities come out as "NaN", "+Inf" and "-Inf", which
// plain JSON numbers cannot carry.
func EncodeValues(values []float64) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}

// DecodeValues parses the output of EncodeValues.
func DecodeValues(raw []string) ([]float64, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]float64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
