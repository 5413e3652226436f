// Package search runs multi-term queries over formatted snapshot text.
package search

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// GlobMode selects how query terms are matched.
type GlobMode int

const (
	// GlobAuto uses glob matching when any term has a glob metacharacter.
	GlobAuto GlobMode = iota
	GlobOn
	GlobOff
)

const globChars = "*?[]{}"

// NoContext asks for the matched lines only.
const NoContext = -1

// ContextLevels turns a user-supplied line count, where 0 means none, into
// an Options.ContextLevels value.
func ContextLevels(n int) int {
	if n == 0 {
		return NoContext
	}
	return n
}

// structuralRoles are skipped when widening a match with context lines.
var structuralRoles = map[string]bool{
	"generic":       true,
	"none":          true,
	"group":         true,
	"main":          true,
	"navigation":    true,
	"contentinfo":   true,
	"search":        true,
	"banner":        true,
	"complementary": true,
	"region":        true,
	"article":       true,
	"section":       true,
	"InlineTextBox": true,
}

// Options configures a search.
type Options struct {
	// ContextLevels is how many non-structural lines to include before and
	// after each match. Zero means the default of 1; negative means none.
	ContextLevels int
	CaseSensitive bool
	Glob          GlobMode
}

// Result holds line indices into the searched text.
type Result struct {
	Lines        []string `json:"-"`
	MatchedLines []int    `json:"matchedLines"`
	ContextLines []int    `json:"contextLines"`
	TotalMatches int      `json:"totalMatches"`
}

type matcher func(line string) bool

// Search matches query against every line of text. Terms are separated by
// "|" and combined with OR.
func Search(text, query string, opts Options) Result {
	levels := opts.ContextLevels
	if levels == 0 {
		levels = 1
	}
	if levels < 0 {
		levels = 0
	}

	lines := strings.Split(text, "\n")
	res := Result{Lines: lines}

	match := compile(query, opts)
	if match == nil {
		return res
	}

	context := make(map[int]bool)
	for i, line := range lines {
		if !match(line) {
			continue
		}
		res.MatchedLines = append(res.MatchedLines, i)
		context[i] = true

		for j, taken := i-1, 0; j >= 0 && taken < levels; j-- {
			if isStructural(lines[j]) {
				continue
			}
			context[j] = true
			taken++
		}
		for j, taken := i+1, 0; j < len(lines) && taken < levels; j++ {
			if isStructural(lines[j]) {
				continue
			}
			context[j] = true
			taken++
		}
	}

	res.TotalMatches = len(res.MatchedLines)
	res.ContextLines = make([]int, 0, len(context))
	for i := range context {
		res.ContextLines = append(res.ContextLines, i)
	}
	sort.Ints(res.ContextLines)
	return res
}

// Terms splits a query on "|" and drops blank terms.
func Terms(query string) []string {
	var terms []string
	for _, t := range strings.Split(query, "|") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// HasGlob reports whether any term contains a glob metacharacter.
func HasGlob(terms []string) bool {
	for _, t := range terms {
		if strings.ContainsAny(t, globChars) {
			return true
		}
	}
	return false
}

func compile(query string, opts Options) matcher {
	terms := Terms(query)
	if len(terms) == 0 {
		return nil
	}

	useGlob := opts.Glob == GlobOn || (opts.Glob == GlobAuto && HasGlob(terms))
	fold := func(s string) string {
		if opts.CaseSensitive {
			return s
		}
		return strings.ToLower(s)
	}

	var matchers []matcher
	for _, term := range terms {
		term := fold(term)
		if useGlob {
			// Substring semantics: a glob may match anywhere in the line.
			g, err := glob.Compile("*" + term + "*")
			if err == nil {
				matchers = append(matchers, func(line string) bool { return g.Match(fold(line)) })
				continue
			}
		}
		matchers = append(matchers, func(line string) bool { return strings.Contains(fold(line), term) })
	}

	return func(line string) bool {
		for _, m := range matchers {
			if m(line) {
				return true
			}
		}
		return false
	}
}

// isStructural reports whether a line's leading token is a layout role.
func isStructural(line string) bool {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "*→ ")
	if s == "" {
		return false
	}
	token := s
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		token = s[:i]
	}
	return structuralRoles[token]
}
