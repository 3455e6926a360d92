package content

import (
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/rs/zerolog/log"
)

// Paths locates the three content files. An empty path leaves that set empty.
type Paths struct {
	Concepts string
	FAQ      string
	Catalog  string
}

// Stats reports the item count of each set after a reload.
type Stats struct {
	Concepts int       `json:"concepts"`
	FAQ      int       `json:"faq"`
	Catalog  int       `json:"catalog"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Library holds the loaded content sets. Readers get copies; Reload swaps
// all three sets under one lock.
type Library struct {
	paths Paths

	mu       sync.RWMutex
	concepts []Concept
	faq      []FAQEntry
	catalog  []Product
	loadedAt time.Time
}

// NewLibrary loads every configured set.
func NewLibrary(paths Paths) *Library {
	l := &Library{paths: paths}
	l.Reload()
	return l
}

// NewStaticLibrary wraps in-memory sets, for tests and tools.
func NewStaticLibrary(concepts []Concept, faq []FAQEntry, catalog []Product) *Library {
	return &Library{
		concepts: concepts,
		faq:      faq,
		catalog:  catalog,
		loadedAt: time.Now(),
	}
}

// Paths returns the configured file locations.
func (l *Library) Paths() Paths {
	return l.paths
}

// Reload rereads every configured file.
func (l *Library) Reload() Stats {
	concepts := []Concept{}
	faq := []FAQEntry{}
	catalog := []Product{}
	if l.paths.Concepts != "" {
		concepts = LoadConcepts(l.paths.Concepts)
	}
	if l.paths.FAQ != "" {
		faq = LoadFAQ(l.paths.FAQ)
	}
	if l.paths.Catalog != "" {
		catalog = LoadCatalog(l.paths.Catalog)
	}

	l.mu.Lock()
	l.concepts, l.faq, l.catalog = concepts, faq, catalog
	l.loadedAt = time.Now()
	stats := l.statsLocked()
	l.mu.Unlock()

	observability.SetContentItems("concepts", stats.Concepts)
	observability.SetContentItems("faq", stats.FAQ)
	observability.SetContentItems("catalog", stats.Catalog)
	log.Info().
		Int("concepts", stats.Concepts).
		Int("faq", stats.FAQ).
		Int("catalog", stats.Catalog).
		Msg("Content loaded")
	return stats
}

// Stats returns the current set sizes.
func (l *Library) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statsLocked()
}

func (l *Library) statsLocked() Stats {
	return Stats{
		Concepts: len(l.concepts),
		FAQ:      len(l.faq),
		Catalog:  len(l.catalog),
		LoadedAt: l.loadedAt,
	}
}

// Concepts returns a copy of the concept set.
func (l *Library) Concepts() []Concept {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Concept(nil), l.concepts...)
}

// FAQ returns a copy of the FAQ set.
func (l *Library) FAQ() []FAQEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]FAQEntry(nil), l.faq...)
}

// Catalog returns a copy of the product catalog.
func (l *Library) Catalog() []Product {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Product(nil), l.catalog...)
}

// FindFAQMatches ranks the loaded FAQ by keyword overlap with query and
// returns at most max entries, or DefaultMaxMatches when max <= 0.
func (l *Library) FindFAQMatches(query string, max int) []FAQEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return FindFAQMatches(l.faq, query, max)
}

// FindConcept returns the first loaded concept whose id or title appears in text.
func (l *Library) FindConcept(text string) (Concept, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return FindConcept(l.concepts, text)
}

// FindProduct returns the first catalog product whose name or a tag appears in text.
func (l *Library) FindProduct(text string) (Product, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return FindProduct(l.catalog, text)
}

// ProductByID looks up a catalog product by exact id. It returns ErrNotLoaded
// for an empty catalog and ErrNotFound for an unknown id.
func (l *Library) ProductByID(id string) (Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ProductByID(l.catalog, id)
}
