package llm

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/expense-ingest/internal/config"
)

func TestNew(t *testing.T) {
	p, err := New(context.Background(), config.LLMConfig{Provider: "openai", OpenAIAPIKey: "sk-test", Timeout: time.Second})
	if err != nil {
		t.Fatalf("New(openai) error = %v", err)
	}
	if p.Name() != "OpenAI" {
		t.Errorf("Name() = %q, want OpenAI", p.Name())
	}

	if _, err := New(context.Background(), config.LLMConfig{Provider: "clippy"}); err == nil {
		t.Error("New(unknown) expected error")
	}
}

func TestNewOpenAI_Defaults(t *testing.T) {
	o := NewOpenAI("k", "", 0, time.Second)
	if o.model != DefaultOpenAIModel || o.maxTokens != 1000 {
		t.Errorf("defaults = %q/%d", o.model, o.maxTokens)
	}
}
