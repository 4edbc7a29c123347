package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// OpenAI analyzes invoices with OpenAI chat models.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates an OpenAI provider. timeout bounds each HTTP call.
func NewOpenAI(apiKey, model string, maxTokens int, timeout time.Duration) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "OpenAI" }

// AnalyzeInvoice implements Provider. Only image documents are sent inline;
// PDFs are analyzed from the OCR text.
func (o *OpenAI) AnalyzeInvoice(ctx context.Context, document []byte, ocrText string) (*AnalysisResult, error) {
	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: buildInvoicePrompt(ocrText),
	}}

	if mt := mimetype.Detect(document).String(); len(document) > 0 && strings.HasPrefix(mt, "image/") {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(document),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI.AnalyzeInvoice: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI.AnalyzeInvoice: empty response from model")
	}

	res, err := ParseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("OpenAI.AnalyzeInvoice: %w", err)
	}
	return res, nil
}

// ProcessQuery implements Provider.
func (o *OpenAI) ProcessQuery(ctx context.Context, text, userID string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		User:      userID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: querySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI.ProcessQuery: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI.ProcessQuery: empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}
