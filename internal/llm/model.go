// Package llm provides the language model used by the migration workflow,
// built on langchaingo.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/Satyacharanv/CodeConversionAI/internal/config"
	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
)

// ErrNoChoices is returned when the provider answers without any choice.
var ErrNoChoices = errors.New("no response choices")

// Model wraps a langchaingo LLM with logging, metrics and error classification.
type Model struct {
	llm         llms.Model
	modelName   string
	temperature float64
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// Options configures a Model built around an existing llms.Model.
type Options struct {
	Temperature float64
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector, logger *slog.Logger) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderAzure:
		if cfg.AzureAPIKey == "" || cfg.AzureEndpoint == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT required")
		}
		if cfg.LLMModel == "" {
			return nil, fmt.Errorf("DEPLOYMENT_NAME required")
		}
		model, err = openai.New(
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithToken(cfg.AzureAPIKey),
			openai.WithBaseURL(cfg.AzureEndpoint),
			openai.WithAPIVersion(cfg.AzureAPIVersion),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create azure openai model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if awsErr != nil {
			return nil, fmt.Errorf("load aws config: %w", awsErr)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewModelFromLLM(model, cfg.LLMModel, Options{
		Temperature: cfg.Temperature,
		Logger:      logger,
		Metrics:     collector,
	}), nil
}

// NewModelFromLLM wraps an already constructed langchaingo model.
func NewModelFromLLM(model llms.Model, name string, opts Options) *Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		llm:         model,
		modelName:   name,
		temperature: opts.Temperature,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// GenerateContent sends messages to the provider and returns the first choice.
// Every call is timed and its token usage recorded.
func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentChoice, error) {
	options = append([]llms.CallOption{llms.WithTemperature(m.temperature)}, options...)

	start := time.Now()
	resp, err := m.llm.GenerateContent(ctx, messages, options...)
	duration := time.Since(start)

	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = ErrNoChoices
	}
	if err != nil {
		err = wrapFatalError(err)
		m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, duration, 0, 0, err)
		level := slog.LevelWarn
		if errors.Is(err, ErrFatalAPI) {
			level = slog.LevelError
		}
		m.logger.Log(ctx, level, "llm generation failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("generate: %w", err)
	}

	choice := resp.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out, nil)
	m.logger.Debug("llm generation completed",
		"model", m.modelName,
		"duration_ms", duration.Milliseconds(),
		"input_tokens", in,
		"output_tokens", out,
		"tool_calls", len(choice.ToolCalls))

	return choice, nil
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	choice, err := m.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	return choice.Content, nil
}

// GenerateStructured asks for a JSON object and decodes it into out.
func (m *Model) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	choice, err := m.GenerateContent(ctx, messages, llms.WithJSONMode())
	if err != nil {
		return err
	}
	return DecodeJSON(choice.Content, out)
}

// DecodeJSON decodes a model answer that should be a JSON object. Markdown
// code fences and text around the outermost braces are tolerated.
func DecodeJSON(content string, out any) error {
	text := stripCodeFence(strings.TrimSpace(content))
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	return nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// tokenUsage reads token counts from provider-specific generation info.
func tokenUsage(info map[string]any) (in, out int64) {
	in = firstInt(info, "PromptTokens", "InputTokens", "input_tokens")
	out = firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens")
	return in, out
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
