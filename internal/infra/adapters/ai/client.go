// Package ai talks to an OpenAI-compatible endpoint (Ollama, OpenAI, vLLM)
// and exposes the model-backed stage functions: classification, entity
// extraction, sentiment, embedding and image OCR.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/config"
	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/adapter"
)

// maxPromptChars bounds the document text shipped to the model per call.
const maxPromptChars = 12000

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type Client struct {
	apiKey     string
	base       string
	model      string
	embedModel string
	httpc      *http.Client
	log        *zerolog.Logger
}

func NewClient(cfg *config.AIConfig, logger *zerolog.Logger) *Client {
	l := logger.With().Str("component", "ai").Logger()
	return &Client{
		apiKey:     cfg.APIKey,
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		httpc:      &http.Client{Timeout: 90 * time.Second},
		log:        &l,
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return domain.NewPermanentStageError("encode model request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return domain.NewPermanentStageError("build model request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.NewTransientStageError("model endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("model endpoint http %d", resp.StatusCode)
		// Rate limits and server-side failures are worth a retry, the rest
		// of the 4xx family is not.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.NewTransientStageError("model endpoint busy", err)
		}
		return domain.NewPermanentStageError("model endpoint rejected request", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewTransientStageError("decode model response", err)
	}
	return nil
}

func (c *Client) chat(ctx context.Context, messages []message) (string, error) {
	reqBody := struct {
		Model       string    `json:"model"`
		Messages    []message `json:"messages"`
		Temperature float64   `json:"temperature"`
	}{Model: c.model, Messages: messages, Temperature: 0}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", reqBody, &payload); err != nil {
		return "", err
	}
	for _, choice := range payload.Choices {
		if choice.Message.Content != "" {
			return choice.Message.Content, nil
		}
	}
	return "", domain.NewTransientStageError("model returned no choice content", nil)
}

// chatJSON runs a chat turn and unmarshals the reply into out, tolerating the
// markdown code fences smaller models like to wrap JSON in.
func (c *Client) chatJSON(ctx context.Context, system, user string, out any) error {
	reply, err := c.chat(ctx, []message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(reply)), out); err != nil {
		return domain.NewTransientStageError("model reply is not valid json", err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func upstreamText(in adapter.StageInput) (string, error) {
	up, ok := in.Upstream["extract"]
	if !ok || up.Text == "" {
		return "", domain.NewPermanentStageError("no extracted text available", nil)
	}
	return truncate(up.Text, maxPromptChars), nil
}

// Classify determines document type and produces a summary plus key fields.
func (c *Client) Classify(ctx context.Context, in adapter.StageInput) (*model.StageOutput, error) {
	text, err := upstreamText(in)
	if err != nil {
		return nil, err
	}

	var out struct {
		Label   string            `json:"label"`
		Summary string            `json:"summary"`
		KeyInfo map[string]string `json:"key_info"`
	}
	system := `You classify business documents. Reply with JSON only: ` +
		`{"label": one of "invoice","contract","report","letter","form","other", ` +
		`"summary": two sentences, "key_info": object of notable field names to values}.`
	if err := c.chatJSON(ctx, system, text, &out); err != nil {
		return nil, err
	}
	if out.Label == "" {
		out.Label = "other"
	}
	return &model.StageOutput{Label: out.Label, Summary: out.Summary, KeyInfo: out.KeyInfo}, nil
}

// Entities extracts named entities from the document text.
func (c *Client) Entities(ctx context.Context, in adapter.StageInput) (*model.StageOutput, error) {
	text, err := upstreamText(in)
	if err != nil {
		return nil, err
	}

	var out struct {
		Entities []model.Entity `json:"entities"`
	}
	system := `You extract named entities from documents. Reply with JSON only: ` +
		`{"entities": [{"text": string, "label": one of "person","organization","location","date","money","other", "confidence": 0..1}]}.`
	if err := c.chatJSON(ctx, system, text, &out); err != nil {
		return nil, err
	}
	return &model.StageOutput{Entities: out.Entities}, nil
}

// Sentiment scores the overall tone of the document.
func (c *Client) Sentiment(ctx context.Context, in adapter.StageInput) (*model.StageOutput, error) {
	text, err := upstreamText(in)
	if err != nil {
		return nil, err
	}

	var out model.Sentiment
	system := `You analyze document sentiment. Reply with JSON only: ` +
		`{"overall_sentiment": one of "positive","neutral","negative", "confidence": 0..1, ` +
		`"emotions": object of emotion names to 0..1 scores}.`
	if err := c.chatJSON(ctx, system, text, &out); err != nil {
		return nil, err
	}
	return &model.StageOutput{Sentiment: &out}, nil
}

// Embed produces a dense vector for the document text.
func (c *Client) Embed(ctx context.Context, in adapter.StageInput) (*model.StageOutput, error) {
	text, err := upstreamText(in)
	if err != nil {
		return nil, err
	}

	reqBody := struct {
		Model string `json:"model"`
		Input string `json:"input"`
	}{Model: c.embedModel, Input: text}

	var payload struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", reqBody, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 || len(payload.Data[0].Embedding) == 0 {
		return nil, domain.NewTransientStageError("model returned empty embedding", nil)
	}
	return &model.StageOutput{Embedding: payload.Data[0].Embedding}, nil
}

// RecognizeText OCRs image bytes through the vision-capable chat model. For
// PDFs the bytes are attached as a file part; servers without PDF support
// reject this with a 4xx, which surfaces as a permanent stage failure.
func (c *Client) RecognizeText(ctx context.Context, data []byte, mimeType string) (string, float64, string, error) {
	prompt := `Transcribe all text in the attached document verbatim. Reply with JSON only: ` +
		`{"text": the full transcription, "language": ISO 639-1 code, "confidence": 0..1}.`

	var attachment map[string]any
	if mimeType == "application/pdf" {
		attachment = map[string]any{
			"type": "file",
			"file": map[string]any{
				"filename":  "document.pdf",
				"file_data": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
			},
		}
	} else {
		attachment = map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
			},
		}
	}

	reply, err := c.chat(ctx, []message{
		{Role: "user", Content: []any{
			map[string]any{"type": "text", "text": prompt},
			attachment,
		}},
	})
	if err != nil {
		return "", 0, "", err
	}

	var out struct {
		Text       string  `json:"text"`
		Language   string  `json:"language"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(reply)), &out); err != nil {
		return "", 0, "", domain.NewTransientStageError("ocr reply is not valid json", err)
	}
	return out.Text, out.Confidence, out.Language, nil
}
