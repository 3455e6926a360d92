package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotLoaded is returned when a lookup runs against an empty set.
	ErrNotLoaded = errors.New("content set not loaded")
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("content item not found")
)

// Concept is one course topic used by the tutor.
type Concept struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	SampleQuestion string `json:"sample_question"`
}

// FAQEntry is one product FAQ answer.
type FAQEntry struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Tags     []string `json:"tags,omitempty"`
}

// Product is one catalog item.
type Product struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// LoadConcepts reads the tutor concepts. Failures degrade to an empty list.
func LoadConcepts(path string) []Concept {
	return loadList[Concept](path, "concepts")
}

// LoadFAQ reads the FAQ entries. Failures degrade to an empty list.
func LoadFAQ(path string) []FAQEntry {
	return loadList[FAQEntry](path, "faq")
}

// LoadCatalog reads the product catalog. Failures degrade to an empty list.
func LoadCatalog(path string) []Product {
	return loadList[Product](path, "catalog")
}

func loadList[T any](path, set string) []T {
	items, err := readList[T](path)
	if err != nil {
		log.Error().Err(err).Str("set", set).Str("path", path).Msg("Failed to load content file")
		return []T{}
	}
	return items
}

func readList[T any](path string) ([]T, error) {
	if path == "" {
		return nil, fmt.Errorf("no path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("content file is not a list")
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode content list: %w", err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}
