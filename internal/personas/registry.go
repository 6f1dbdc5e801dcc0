// Package personas manages the embedded expert persona catalog and roster
// selection.
package personas

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"quorum/internal/domain/models"
)

//go:embed catalog.yaml
var catalogFile []byte

type catalog struct {
	Personas []models.Persona `yaml:"personas"`
}

// Registry holds the loaded persona catalog.
type Registry struct {
	personas []models.Persona
	byCode   map[string]*models.Persona
	mu       sync.RWMutex
}

// NewRegistry loads the embedded persona catalog.
func NewRegistry() (*Registry, error) {
	var c catalog
	if err := yaml.Unmarshal(catalogFile, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal persona catalog: %w", err)
	}
	if len(c.Personas) == 0 {
		return nil, fmt.Errorf("persona catalog is empty")
	}

	r := &Registry{
		personas: c.Personas,
		byCode:   make(map[string]*models.Persona, len(c.Personas)),
	}
	for i := range r.personas {
		r.byCode[r.personas[i].Code] = &r.personas[i]
	}
	return r, nil
}

// Get returns the persona with the given code.
func (r *Registry) Get(code string) (*models.Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byCode[code]
	if !ok {
		return nil, fmt.Errorf("unknown persona: %s", code)
	}
	return p, nil
}

// All returns every persona in catalog order.
func (r *Registry) All() []models.Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Persona, len(r.personas))
	copy(out, r.personas)
	return out
}

// Select scores the catalog against the goal text by expertise-keyword
// overlap and returns a roster of between min and max personas. Catalog
// order breaks ties, keeping selection deterministic for identical goals.
func (r *Registry) Select(goal string, min, max int) []models.Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if max <= 0 || max > len(r.personas) {
		max = len(r.personas)
	}
	if min <= 0 {
		min = 1
	}
	if min > max {
		min = max
	}

	goalWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(goal)) {
		goalWords[strings.Trim(w, ".,;:!?\"'()")] = struct{}{}
	}

	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(r.personas))
	for i, p := range r.personas {
		s := 0
		for _, kw := range p.Expertise {
			if _, ok := goalWords[strings.ToLower(kw)]; ok {
				s++
			}
		}
		ranked = append(ranked, scored{idx: i, score: s})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	// Take every persona with a positive score, padded up to min from the
	// remaining catalog order, capped at max.
	roster := make([]models.Persona, 0, max)
	for _, s := range ranked {
		if len(roster) >= max {
			break
		}
		if s.score > 0 || len(roster) < min {
			roster = append(roster, r.personas[s.idx])
		}
	}
	return roster
}
