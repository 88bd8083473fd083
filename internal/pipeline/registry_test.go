package pipeline

import (
	"context"
	"errors"
	"testing"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/adapter"
)

func noop(ctx context.Context, in adapter.StageInput) (*model.StageOutput, error) {
	return &model.StageOutput{}, nil
}

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewDefaultRegistry(StageFuncs{
		Extract: noop, Classify: noop, Entities: noop, Sentiment: noop, Embed: noop,
	})
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}
	return reg
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if err := r.Register(Definition{Name: "", Class: ClassNLP, Fn: noop}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("incomplete definition: %v", err)
	}
	if err := r.Register(Definition{Name: "a", Class: ClassNLP, Fn: noop}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(Definition{Name: "a", Class: ClassNLP, Fn: noop}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("duplicate: %v", err)
	}
	// Forward references are impossible, which rules out cycles.
	if err := r.Register(Definition{Name: "b", Class: ClassNLP, DependsOn: []string{"c"}, Fn: noop}); !errors.Is(err, domain.ErrUnknownStage) {
		t.Fatalf("unregistered dependency: %v", err)
	}
}

func TestRegistry_ResolveClosureAndOrder(t *testing.T) {
	t.Parallel()
	reg := defaultRegistry(t)

	// Requesting classify pulls in extract and orders it first.
	defs, err := reg.Resolve([]string{StageClassify})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(defs) != 2 || defs[0].Name != StageExtract || defs[1].Name != StageClassify {
		names := make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
		t.Fatalf("unexpected order: %v", names)
	}

	// The full set keeps every dependency ahead of its dependents.
	defs, err = reg.Resolve(reg.Names())
	if err != nil {
		t.Fatalf("Resolve all: %v", err)
	}
	if len(defs) != 5 {
		t.Fatalf("expected 5 stages, got %d", len(defs))
	}
	pos := make(map[string]int, len(defs))
	for i, d := range defs {
		pos[d.Name] = i
	}
	for _, d := range defs {
		for _, dep := range d.DependsOn {
			if pos[dep] > pos[d.Name] {
				t.Fatalf("%s ordered before its dependency %s", d.Name, dep)
			}
		}
	}

	if _, err := reg.Resolve([]string{"translate"}); !errors.Is(err, domain.ErrUnknownStage) {
		t.Fatalf("unknown stage: %v", err)
	}
}

func TestRegistry_ResolveAlwaysIncludesExtract(t *testing.T) {
	t.Parallel()
	reg := defaultRegistry(t)

	defs, err := reg.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != StageExtract {
		t.Fatalf("empty request must yield just extract, got %v", defs)
	}
}

func TestRegistry_Classes(t *testing.T) {
	t.Parallel()
	reg := defaultRegistry(t)

	classes := reg.Classes()
	want := map[string]bool{ClassOCR: true, ClassNLP: true, ClassEmbedding: true}
	if len(classes) != len(want) {
		t.Fatalf("classes: %v", classes)
	}
	for _, c := range classes {
		if !want[c] {
			t.Fatalf("unexpected class %q", c)
		}
	}
}
