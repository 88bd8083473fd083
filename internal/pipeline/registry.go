// Package pipeline holds the table of registered processing stages and the
// dependency graph between them. Stages are pure functions keyed by name;
// there is no inheritance hierarchy, new stages are added by registration.
package pipeline

import (
	"fmt"
	"sort"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/ports/adapter"
)

// Stage classes map to worker pools with independent concurrency budgets.
const (
	ClassOCR       = "ocr"
	ClassNLP       = "nlp"
	ClassEmbedding = "embedding"
)

// Built-in stage names. StageExtract is always required; everything else
// depends on its extracted text.
const (
	StageExtract   = "extract"
	StageClassify  = "classify"
	StageEntities  = "entities"
	StageSentiment = "sentiment"
	StageEmbed     = "embed"
)

// Definition describes one registered stage.
type Definition struct {
	Name      string
	Class     string
	DependsOn []string
	Fn        adapter.StageFunc
}

type Registry struct {
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a stage definition. Dependencies must already be registered,
// which rules out cycles by construction.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || def.Class == "" || def.Fn == nil {
		return fmt.Errorf("%w: incomplete stage definition %q", domain.ErrInvalidArgument, def.Name)
	}
	if _, dup := r.defs[def.Name]; dup {
		return fmt.Errorf("%w: stage %q already registered", domain.ErrInvalidArgument, def.Name)
	}
	for _, dep := range def.DependsOn {
		if _, ok := r.defs[dep]; !ok {
			return fmt.Errorf("%w: stage %q depends on unregistered %q", domain.ErrUnknownStage, def.Name, dep)
		}
	}
	r.defs[def.Name] = def
	return nil
}

func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered stage names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Classes returns the distinct stage classes in use.
func (r *Registry) Classes() []string {
	seen := map[string]bool{}
	var classes []string
	for _, n := range r.Names() {
		if c := r.defs[n].Class; !seen[c] {
			seen[c] = true
			classes = append(classes, c)
		}
	}
	return classes
}

// Resolve expands the requested stage names to their dependency closure and
// returns the definitions in topological order. The extraction stage is
// always included. Unknown names fail with domain.ErrUnknownStage.
func (r *Registry) Resolve(requested []string) ([]Definition, error) {
	want := map[string]bool{StageExtract: true}
	var add func(name string) error
	add = func(name string) error {
		def, ok := r.defs[name]
		if !ok {
			return fmt.Errorf("%w: %q", domain.ErrUnknownStage, name)
		}
		if want[name] {
			return nil
		}
		want[name] = true
		for _, dep := range def.DependsOn {
			if err := add(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range requested {
		if err := add(name); err != nil {
			return nil, err
		}
	}
	return r.topoSort(want)
}

// topoSort orders the selected stages so that every stage follows its
// dependencies (Kahn's algorithm, name-sorted for determinism).
func (r *Registry) topoSort(selected map[string]bool) ([]Definition, error) {
	indeg := make(map[string]int, len(selected))
	for name := range selected {
		indeg[name] = 0
	}
	for name := range selected {
		for _, dep := range r.defs[name].DependsOn {
			if selected[dep] {
				indeg[name]++
			}
		}
	}

	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := make([]Definition, 0, len(selected))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, r.defs[name])
		var unlocked []string
		for other := range selected {
			for _, dep := range r.defs[other].DependsOn {
				if dep == name {
					indeg[other]--
					if indeg[other] == 0 {
						unlocked = append(unlocked, other)
					}
				}
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}
	if len(ordered) != len(selected) {
		return nil, fmt.Errorf("%w: dependency cycle among stages", domain.ErrInvalidArgument)
	}
	return ordered, nil
}
