package llm

import (
	"context"
	"fmt"

	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider    string // openrouter|openai|ollama|gemini
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	MaxRetries  int
}

// EinoModel is a ChatModel backed by an eino component.
type EinoModel struct {
	m        model.BaseChatModel
	provider string
}

// NewEinoModel wraps an already constructed eino model.
func NewEinoModel(m model.BaseChatModel, provider string) *EinoModel {
	return &EinoModel{m: m, provider: provider}
}

// Provider names the backend, for logs.
func (e *EinoModel) Provider() string { return e.provider }

// Complete implements ChatModel.
func (e *EinoModel) Complete(ctx context.Context, msgs []Message) (string, error) {
	in := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			in = append(in, schema.SystemMessage(m.Content))
		case RoleAssistant:
			in = append(in, schema.AssistantMessage(m.Content, nil))
		default:
			in = append(in, schema.UserMessage(m.Content))
		}
	}
	out, err := e.m.Generate(ctx, in)
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", e.provider, err)
	}
	if out == nil {
		return "", nil
	}
	return out.Content, nil
}

// New builds the configured ChatModel, wrapped in Retrying when
// cfg.MaxRetries > 0. It returns ErrNoModel when a hosted provider has no
// API key, so callers can fall back to the placeholder responder.
func New(ctx context.Context, cfg Config) (ChatModel, error) {
	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Provider {
	case "openrouter", "openai", "":
		m, err = newOpenAI(ctx, cfg)
	case "ollama":
		m, err = newOllama(ctx, cfg)
	case "gemini":
		m, err = newGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	var cm ChatModel = NewEinoModel(m, cfg.Provider)
	if cfg.MaxRetries > 0 {
		cm = &Retrying{Next: cm, MaxTries: uint(cfg.MaxRetries) + 1}
	}
	return cm, nil
}

// newOpenAI covers OpenAI itself and OpenAI-compatible gateways such as
// OpenRouter, selected by BaseURL.
func newOpenAI(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoModel
	}
	maxTokens := cfg.MaxTokens
	temp := cfg.Temperature
	return einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
}

func newOllama(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
	})
}

func newGemini(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Model,
	})
}
