// ABOUTME: Fuzzy entity-code resolution mapping free-text names to canonical short codes.
// ABOUTME: Exact match first, then edit-distance similarity with a 0.8 cutoff.

package resolve

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Threshold is the minimum similarity ratio for a fuzzy match to win.
const Threshold = 0.8

// Alias pairs a free-text name with its canonical code.
type Alias struct {
	Name string
	Code string
}

// Table is an ordered alias table built once at startup and read-only
// afterwards. Iteration order is insertion order, which makes fuzzy
// tie-breaking deterministic.
type Table struct {
	keys  []string
	codes map[string]string
}

// NewTable builds a table from the given aliases. Names are normalized
// (trimmed, lowercased); a later duplicate of the same normalized name
// is ignored so the first insertion wins.
func NewTable(aliases []Alias) *Table {
	t := &Table{codes: make(map[string]string, len(aliases))}
	for _, a := range aliases {
		t.Add(a.Name, a.Code)
	}
	return t
}

// Add inserts one alias. Only used during startup table construction.
func (t *Table) Add(name, code string) {
	key := normalize(name)
	if key == "" {
		return
	}
	if _, exists := t.codes[key]; exists {
		return
	}
	t.keys = append(t.keys, key)
	t.codes[key] = code
}

// Len returns the number of aliases in the table.
func (t *Table) Len() int { return len(t.keys) }

// Resolve maps free-text input to a canonical code. Exact matches on
// the normalized input never fall through to fuzzy matching. When no
// alias clears the similarity threshold the input is returned
// uppercased verbatim; callers reject unknown codes downstream.
func (t *Table) Resolve(input string) string {
	key := normalize(input)
	if code, ok := t.codes[key]; ok {
		return code
	}

	bestRatio := 0.0
	bestKey := ""
	for _, candidate := range t.keys {
		// strict greater-than keeps the first-inserted alias on ties
		if r := similarity(key, candidate); r > bestRatio {
			bestRatio = r
			bestKey = candidate
		}
	}
	if bestRatio >= Threshold {
		return t.codes[bestKey]
	}

	return strings.ToUpper(strings.TrimSpace(input))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// similarity returns an edit-distance ratio in [0,1]: 1 minus the
// Levenshtein distance normalized by the longer string.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
