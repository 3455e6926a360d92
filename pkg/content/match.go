package content

import (
	"sort"
	"strings"
)

// DefaultMaxMatches is the FAQ result cap used when max <= 0.
const DefaultMaxMatches = 3

// ScoreKeywords counts the whitespace tokens of query that occur as
// substrings of text, case-insensitively.
func ScoreKeywords(query, text string) int {
	text = strings.ToLower(text)
	score := 0
	for _, token := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(text, token) {
			score++
		}
	}
	return score
}

// FindFAQMatches ranks entries by keyword overlap of query with the question
// and tags. Ties keep file order.
func FindFAQMatches(entries []FAQEntry, query string, max int) []FAQEntry {
	if max <= 0 {
		max = DefaultMaxMatches
	}

	type scored struct {
		score int
		entry FAQEntry
	}
	matches := []scored{}
	for _, entry := range entries {
		text := entry.Question + " " + strings.Join(entry.Tags, " ")
		if s := ScoreKeywords(query, text); s > 0 {
			matches = append(matches, scored{score: s, entry: entry})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > max {
		matches = matches[:max]
	}
	out := make([]FAQEntry, len(matches))
	for i, m := range matches {
		out[i] = m.entry
	}
	return out
}

// FindConcept returns the first concept whose id, or else title, appears in text.
func FindConcept(concepts []Concept, text string) (Concept, bool) {
	text = strings.ToLower(text)
	for _, c := range concepts {
		if c.ID != "" && strings.Contains(text, strings.ToLower(c.ID)) {
			return c, true
		}
		if c.Title != "" && strings.Contains(text, strings.ToLower(c.Title)) {
			return c, true
		}
	}
	return Concept{}, false
}

// FindProduct returns the first product whose name or any tag appears in text.
func FindProduct(catalog []Product, text string) (Product, bool) {
	text = strings.ToLower(text)
	for _, p := range catalog {
		if p.Name != "" && strings.Contains(text, strings.ToLower(p.Name)) {
			return p, true
		}
		for _, tag := range p.Tags {
			if tag != "" && strings.Contains(text, strings.ToLower(tag)) {
				return p, true
			}
		}
	}
	return Product{}, false
}

// ProductByID looks a product up by exact id.
func ProductByID(catalog []Product, id string) (Product, error) {
	if len(catalog) == 0 {
		return Product{}, ErrNotLoaded
	}
	for _, p := range catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, ErrNotFound
}
