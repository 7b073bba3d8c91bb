package fader

import (
	"sort"

	"github.com/alucardeht/code-fader/internal/types"
)

// Merge sorts intervals by start line and fuses any that overlap or touch
// (next.Start <= current.End+1). The result is disjoint and non-adjacent.
func Merge(intervals []types.LineInterval) []types.LineInterval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]types.LineInterval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	merged := make([]types.LineInterval, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start <= cur.End+1 {
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	return append(merged, cur)
}

// Complement emits every line in [0, totalLines) not covered by merged as its
// own single-line interval. merged must be the output of Merge.
func Complement(merged []types.LineInterval, totalLines int) []types.LineInterval {
	var out []types.LineInterval
	line := 0
	for _, iv := range merged {
		for ; line < iv.Start && line < totalLines; line++ {
			out = append(out, types.LineInterval{Start: line, End: line})
		}
		if iv.End+1 > line {
			line = iv.End + 1
		}
	}
	for ; line < totalLines; line++ {
		out = append(out, types.LineInterval{Start: line, End: line})
	}
	return out
}

func rangesToLines(ranges []types.Range) []types.LineInterval {
	lines := make([]types.LineInterval, 0, len(ranges))
	for _, r := range ranges {
		lines = append(lines, r.Lines())
	}
	return lines
}
