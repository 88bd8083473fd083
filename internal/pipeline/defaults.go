package pipeline

import "intellidoc-pipeline/internal/domain/ports/adapter"

// StageFuncs bundles the concrete functions behind the built-in stages.
type StageFuncs struct {
	Extract   adapter.StageFunc
	Classify  adapter.StageFunc
	Entities  adapter.StageFunc
	Sentiment adapter.StageFunc
	Embed     adapter.StageFunc
}

// NewDefaultRegistry registers the built-in document pipeline: extraction
// first, then classification, entity extraction and sentiment (independent of
// each other, all on extracted text), and embedding generation.
func NewDefaultRegistry(fns StageFuncs) (*Registry, error) {
	r := NewRegistry()
	defs := []Definition{
		{Name: StageExtract, Class: ClassOCR, Fn: fns.Extract},
		{Name: StageClassify, Class: ClassNLP, DependsOn: []string{StageExtract}, Fn: fns.Classify},
		{Name: StageEntities, Class: ClassNLP, DependsOn: []string{StageExtract}, Fn: fns.Entities},
		{Name: StageSentiment, Class: ClassNLP, DependsOn: []string{StageExtract}, Fn: fns.Sentiment},
		{Name: StageEmbed, Class: ClassEmbedding, DependsOn: []string{StageExtract}, Fn: fns.Embed},
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}
