// Package roster defines the tracked-entity model and the provider interface
// through which the pipeline reads the current roster. The roster itself is
// owned by an external collaborator; the pipeline never mutates it.
package roster

import (
	"context"
	"strings"
)

// Entity is a tracked subject whose name and aliases form search terms.
type Entity struct {
	// ID is the stable identifier used for batch partitioning and article
	// attribution. Batch boundaries are computed from a stable sort on ID.
	ID string

	// Name is the display name.
	Name string

	// Aliases are additional search terms (stage names, common misspellings).
	Aliases []string

	// Active controls whether the entity participates in fetch cycles.
	Active bool

	// Priority is a weight used by consumers for sort keys. The pipeline
	// carries it through but does not interpret it.
	Priority int
}

// SearchTerms returns the entity's name followed by its aliases, with empty
// and duplicate terms removed.
func (e Entity) SearchTerms() []string {
	seen := make(map[string]struct{}, len(e.Aliases)+1)
	terms := make([]string, 0, len(e.Aliases)+1)

	for _, term := range append([]string{e.Name}, e.Aliases...) {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		lower := strings.ToLower(term)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		terms = append(terms, term)
	}

	return terms
}

// Matches reports whether any of the entity's search terms appears in the
// given text (case-insensitive). Used to attribute fetched items back to the
// entity they were queried for.
func (e Entity) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range e.SearchTerms() {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Provider yields the current roster. Implementations are expected to be
// cheap to call once per fetch cycle.
type Provider interface {
	// ActiveEntities returns all entities with the active flag set.
	ActiveEntities(ctx context.Context) ([]Entity, error)
}

// StaticProvider serves a fixed roster, typically loaded from configuration.
type StaticProvider struct {
	entities []Entity
}

// NewStaticProvider creates a provider over a fixed entity list.
func NewStaticProvider(entities []Entity) *StaticProvider {
	return &StaticProvider{entities: entities}
}

// ActiveEntities returns the active subset of the fixed roster.
func (p *StaticProvider) ActiveEntities(_ context.Context) ([]Entity, error) {
	active := make([]Entity, 0, len(p.entities))
	for _, e := range p.entities {
		if e.Active {
			active = append(active, e)
		}
	}
	return active, nil
}
