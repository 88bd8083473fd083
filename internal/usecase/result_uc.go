package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/adapter"
	"intellidoc-pipeline/internal/domain/ports/repository"
	"intellidoc-pipeline/internal/infra/logging"
	"intellidoc-pipeline/internal/pipeline"
)

// Download formats.
const (
	FormatJSON = "json"
	FormatText = "txt"
	FormatDocx = "docx"
	FormatPDF  = "pdf"
)

// ResultUC assembles and serves the outputs of completed jobs.
type ResultUC interface {
	// GetResult returns the aggregated result of a completed job. Jobs that
	// are still in flight or have failed yield domain.ErrNotReady.
	GetResult(ctx context.Context, jobID string) (*model.AggregatedResult, error)
	// Download renders the result in the requested format and returns the
	// suggested filename, the content type and the payload.
	Download(ctx context.Context, jobID, format string) (string, string, []byte, error)
}

var _ ResultUC = (*resultUC)(nil)

type resultUC struct {
	jobs  repository.JobRepository
	store adapter.ObjectStore
	log   *zerolog.Logger
}

func NewResultUC(jobs repository.JobRepository, store adapter.ObjectStore, logger *zerolog.Logger) *resultUC {
	l := logger.With().Str("component", "result_uc").Logger()
	return &resultUC{jobs: jobs, store: store, log: &l}
}

func (u *resultUC) GetResult(ctx context.Context, jobID string) (*model.AggregatedResult, error) {
	defer logging.TraceDuration(u.log, "ResultUC.GetResult")()

	job, err := u.jobs.FindJob(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusCompleted:
	case model.JobStatusFailed:
		return nil, fmt.Errorf("%w: job failed: %s", domain.ErrNotReady, job.Reason)
	default:
		return nil, domain.ErrNotReady
	}

	doc, err := u.jobs.FindDocument(ctx, repository.NoTX, job.DocumentID)
	if err != nil {
		return nil, err
	}
	stages, err := u.jobs.ListStages(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}

	result := &model.AggregatedResult{
		JobID:    job.ID,
		Filename: doc.Filename,
		FileType: doc.MimeType,
		FileSize: doc.SizeBytes,
		Metadata: map[string]string{"stages": strings.Join(job.Stages, ",")},
	}
	if job.CompletedAt != nil {
		result.CompletedAt = *job.CompletedAt
		start := job.CreatedAt
		if job.StartedAt != nil {
			start = *job.StartedAt
		}
		result.ProcessingTime = job.CompletedAt.Sub(start).Seconds()
	}

	for _, sr := range stages {
		if sr.Status != model.StageSucceeded || sr.OutputRef == "" {
			continue
		}
		b, err := u.store.Get(ctx, sr.OutputRef)
		if err != nil {
			return nil, fmt.Errorf("load output of %q: %w", sr.Name, err)
		}
		var out model.StageOutput
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, fmt.Errorf("decode output of %q: %w", sr.Name, err)
		}

		switch sr.Name {
		case pipeline.StageExtract:
			result.ExtractedText = out.Text
			result.TextConfidence = out.Confidence
			result.Language = out.Language
			result.PageCount = out.PageCount
		case pipeline.StageClassify:
			result.Classification = &model.StageOutput{Label: out.Label, Summary: out.Summary, KeyInfo: out.KeyInfo}
		case pipeline.StageEntities:
			result.Entities = out.Entities
		case pipeline.StageSentiment:
			result.Sentiment = out.Sentiment
		case pipeline.StageEmbed:
			result.Embedding = out.Embedding
		}
	}
	return result, nil
}

func (u *resultUC) Download(ctx context.Context, jobID, format string) (string, string, []byte, error) {
	result, err := u.GetResult(ctx, jobID)
	if err != nil {
		return "", "", nil, err
	}
	base := result.Filename
	if ext := trailingExt(base); ext != "" {
		base = strings.TrimSuffix(base, "."+ext)
	}

	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return "", "", nil, err
		}
		return base + ".json", "application/json", b, nil

	case FormatText:
		return base + ".txt", "text/plain; charset=utf-8", []byte(result.ExtractedText), nil

	case FormatDocx:
		b, err := buildDocx(result)
		if err != nil {
			return "", "", nil, err
		}
		return base + ".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", b, nil

	case FormatPDF:
		// The original artifact, as stored at submission time.
		job, err := u.jobs.FindJob(ctx, repository.NoTX, jobID)
		if err != nil {
			return "", "", nil, err
		}
		doc, err := u.jobs.FindDocument(ctx, repository.NoTX, job.DocumentID)
		if err != nil {
			return "", "", nil, err
		}
		if doc.MimeType != "application/pdf" {
			return "", "", nil, domain.ErrUnsupportedFormat
		}
		raw, err := u.store.Get(ctx, doc.Locator)
		if err != nil {
			return "", "", nil, err
		}
		return base + ".pdf", "application/pdf", raw, nil

	default:
		return "", "", nil, domain.ErrUnsupportedFormat
	}
}

func trailingExt(filename string) string {
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		return filename[i+1:]
	}
	return ""
}

// buildDocx renders the extracted text as a minimal WordprocessingML package:
// the content-types part, the package relationships and one document part
// with a paragraph per input line.
func buildDocx(result *model.AggregatedResult) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`},
		{"_rels/.rels", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`},
		{"word/document.xml", documentXML(result.ExtractedText)},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func documentXML(text string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, line := range strings.Split(text, "\n") {
		var escaped bytes.Buffer
		_ = xml.EscapeText(&escaped, []byte(line))
		sb.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		sb.Write(escaped.Bytes())
		sb.WriteString(`</w:t></w:r></w:p>`)
	}
	sb.WriteString(`</w:body></w:document>`)
	return sb.String()
}
