package search

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// Divider separates context groups in formatted results.
	Divider = "---"
	// groupGap is the largest index gap that still joins two groups.
	groupGap  = 2
	checkmark = "✓"
)

// Groups splits sorted context indices into runs; a gap larger than two
// lines starts a new run.
func Groups(indices []int) [][]int {
	var groups [][]int
	for _, i := range indices {
		if n := len(groups); n > 0 {
			last := groups[n-1]
			if i-last[len(last)-1] <= groupGap {
				groups[n-1] = append(last, i)
				continue
			}
		}
		groups = append(groups, []int{i})
	}
	return groups
}

// Format renders a result as grouped blocks. Matched lines get a checkmark
// in place of their first non-space character's position.
func Format(res Result) string {
	if res.TotalMatches == 0 {
		return "No matches found"
	}
	matched := make(map[int]bool, len(res.MatchedLines))
	for _, i := range res.MatchedLines {
		matched[i] = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d match", res.TotalMatches)
	if res.TotalMatches != 1 {
		sb.WriteString("es")
	}
	sb.WriteByte('\n')

	for gi, group := range Groups(res.ContextLines) {
		if gi > 0 {
			sb.WriteString(Divider)
			sb.WriteByte('\n')
		}
		for _, i := range group {
			if i < 0 || i >= len(res.Lines) {
				continue
			}
			line := res.Lines[i]
			if matched[i] {
				line = markLine(line)
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func markLine(line string) string {
	idx := strings.IndexFunc(line, func(r rune) bool { return !unicode.IsSpace(r) })
	if idx < 0 {
		return line + checkmark
	}
	return line[:idx] + checkmark + line[idx:]
}
