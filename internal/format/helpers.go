package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var sparks = []rune("▁▂▃▄▅▆▇█")

// gap marks a NaN or infinite sample.
const gap = '·'

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Sparkline draws values as one line of block characters scaled between the
// series minimum and maximum. Series wider than width are downsampled by
// averaging buckets; width <= 0 keeps every value. Non-finite samples do
// not affect the scale and are drawn as a dot.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}
	if width > 0 && len(values) > width {
		values = downsample(values, width)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if finite(v) {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	var b strings.Builder
	for _, v := range values {
		if !finite(v) {
			b.WriteRune(gap)
			continue
		}
		idx := 0
		if hi > lo {
			idx = int(math.Round((v - lo) / (hi - lo) * float64(len(sparks)-1)))
		}
		b.WriteRune(sparks[idx])
	}
	return b.String()
}

// downsample averages the finite samples of each bucket. A bucket without
// any becomes NaN.
func downsample(values []float64, width int) []float64 {
	out := make([]float64, width)
	for i := range out {
		from := i * len(values) / width
		to := (i + 1) * len(values) / width
		sum, n := 0.0, 0
		for _, v := range values[from:to] {
			if finite(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// Percent formats a confidence percentage with one decimal.
func Percent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}

// Number formats a sample compactly.
func Number(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// Path joins browse names the way operators read them.
func Path(path []string) string {
	return strings.Join(path, " / ")
}

// Duration formats a duration as "Xm Ys" or "Ys".
func Duration(d time.Duration) string {
	s := int(d.Round(time.Second).Seconds())
	if s >= 60 {
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
	return fmt.Sprintf("%ds", s)
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
