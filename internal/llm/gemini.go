package llm

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini analyzes invoices with Google's Gemini models. Credentials come from
// the environment (GOOGLE_API_KEY, or Vertex AI settings).
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider with a shared client.
func NewGemini(ctx context.Context, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return "Gemini" }

// AnalyzeInvoice implements Provider.
func (g *Gemini) AnalyzeInvoice(ctx context.Context, document []byte, ocrText string) (*AnalysisResult, error) {
	parts := []*genai.Part{{Text: buildInvoicePrompt(ocrText)}}
	if len(document) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: mimetype.Detect(document).String(),
				Data:     document,
			},
		})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Gemini.AnalyzeInvoice: generate content: %w", err)
	}

	res, err := ParseAnalysis(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("Gemini.AnalyzeInvoice: %w", err)
	}
	return res, nil
}

// ProcessQuery implements Provider.
func (g *Gemini) ProcessQuery(ctx context.Context, text, userID string) (string, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: text}},
	}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: querySystemPrompt}}},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("Gemini.ProcessQuery: generate content: %w", err)
	}
	return resp.Text(), nil
}
