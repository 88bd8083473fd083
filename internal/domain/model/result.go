package model

import "time"

// StageOutput is the serialized product of one stage invocation. Only the
// fields relevant to the producing stage are populated; the whole struct is
// stored as a JSON blob in the object store and referenced by
// StageRecord.OutputRef.
type StageOutput struct {
	// extraction
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
	PageCount  int     `json:"page_count,omitempty"`

	// classification
	Label   string            `json:"label,omitempty"`
	Summary string            `json:"summary,omitempty"`
	KeyInfo map[string]string `json:"key_info,omitempty"`

	// entity extraction
	Entities []Entity `json:"entities,omitempty"`

	// sentiment
	Sentiment *Sentiment `json:"sentiment,omitempty"`

	// embedding
	Embedding []float64 `json:"embedding,omitempty"`
}

type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	StartPos   int     `json:"start_pos,omitempty"`
	EndPos     int     `json:"end_pos,omitempty"`
}

type Sentiment struct {
	Overall    string             `json:"overall_sentiment"`
	Confidence float64            `json:"confidence"`
	Emotions   map[string]float64 `json:"emotions,omitempty"`
}

// AggregatedResult assembles the per-stage outputs into the single structure
// served to clients once a job completes.
type AggregatedResult struct {
	JobID          string            `json:"job_id"`
	Filename       string            `json:"filename"`
	FileType       string            `json:"file_type"`
	FileSize       int64             `json:"file_size"`
	PageCount      int               `json:"page_count,omitempty"`
	ProcessingTime float64           `json:"processing_time"` // seconds
	ExtractedText  string            `json:"extracted_text"`
	TextConfidence float64           `json:"text_confidence"`
	Language       string            `json:"language_detected,omitempty"`
	Classification *StageOutput      `json:"document_classification,omitempty"`
	Entities       []Entity          `json:"entities,omitempty"`
	Sentiment      *Sentiment        `json:"sentiment_analysis,omitempty"`
	Embedding      []float64         `json:"embedding,omitempty"`
	Metadata       map[string]string `json:"processing_metadata,omitempty"`
	CompletedAt    time.Time         `json:"completed_at"`
}
