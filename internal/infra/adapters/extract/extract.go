// Package extract implements the extraction stage: document validation,
// page-count metadata and text recognition. The actual OCR model call is
// delegated to a TextRecognizer so the stage stays pure with respect to the
// pipeline.
package extract

import (
	"bytes"
	"context"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/adapter"
)

// TextRecognizer turns raw document bytes into text. Implemented by the AI
// adapter against an OCR-capable model endpoint.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, data []byte, mimeType string) (text string, confidence float64, language string, err error)
}

type Adapter struct {
	ocr TextRecognizer
	log *zerolog.Logger
}

func New(ocr TextRecognizer, logger *zerolog.Logger) *Adapter {
	l := logger.With().Str("component", "extract").Logger()
	return &Adapter{ocr: ocr, log: &l}
}

// Fn is the extraction stage function.
func (a *Adapter) Fn(ctx context.Context, in adapter.StageInput) (*model.StageOutput, error) {
	pageCount := 1

	switch in.Document.MimeType {
	case "application/pdf":
		conf := pdfmodel.NewDefaultConfiguration()
		conf.ValidationMode = pdfmodel.ValidationRelaxed

		if err := api.Validate(bytes.NewReader(in.Raw), conf); err != nil {
			return nil, domain.NewPermanentStageError("malformed pdf", err)
		}
		n, err := api.PageCount(bytes.NewReader(in.Raw), conf)
		if err != nil {
			return nil, domain.NewPermanentStageError("pdf page count", err)
		}
		pageCount = n
	case "image/png", "image/jpeg":
		// single-page artifacts
	default:
		return nil, domain.NewPermanentStageError("unsupported mime type "+in.Document.MimeType, nil)
	}

	text, confidence, language, err := a.ocr.RecognizeText(ctx, in.Raw, in.Document.MimeType)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, domain.NewPermanentStageError("no recognizable text in document", nil)
	}

	a.log.Debug().Int("pages", pageCount).Int("chars", len(text)).Msg("extraction done")
	return &model.StageOutput{
		Text:       text,
		Confidence: confidence,
		Language:   language,
		PageCount:  pageCount,
	}, nil
}
