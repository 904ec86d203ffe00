package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
	"github.com/Satyacharanv/CodeConversionAI/internal/tools"
)

// DefaultMaxSteps bounds the number of model turns in one agent run.
const DefaultMaxSteps = 50

// ErrMaxSteps is returned when the model keeps requesting tools past the step limit.
var ErrMaxSteps = errors.New("agent exceeded maximum steps")

// ToolSet is what the agent needs from a tool registry.
type ToolSet interface {
	Definitions() []llms.Tool
	Call(ctx context.Context, name, arguments string) tools.Result
}

// Agent runs a tool-calling loop: the model may inspect the filesystem
// through the tool set before answering.
type Agent struct {
	model    *Model
	tools    ToolSet
	maxSteps int
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewAgent creates an agent. maxSteps <= 0 uses DefaultMaxSteps.
func NewAgent(model *Model, toolSet ToolSet, maxSteps int, collector *metrics.Collector, logger *slog.Logger) *Agent {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		model:    model,
		tools:    toolSet,
		maxSteps: maxSteps,
		logger:   logger,
		metrics:  collector,
	}
}

// Run sends the prompts and executes requested tool calls, feeding each
// result back, until the model answers without calling a tool.
func (a *Agent) Run(ctx context.Context, systemPrompt, userPrompt string) (result string, err error) {
	start := time.Now()
	defer func() { a.metrics.RecordTiming(metrics.OpAgentRun, time.Since(start), err) }()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	var opts []llms.CallOption
	if a.tools != nil {
		if defs := a.tools.Definitions(); len(defs) > 0 {
			opts = append(opts, llms.WithTools(defs))
		}
	}

	for step := 1; step <= a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		choice, err := a.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", err
		}
		if len(choice.ToolCalls) == 0 {
			a.logger.Debug("agent finished", "steps", step, "duration_ms", time.Since(start).Milliseconds())
			return choice.Content, nil
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			assistant.Parts = append(assistant.Parts, llms.TextPart(choice.Content))
		}
		for _, call := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, call)
		}
		messages = append(messages, assistant)

		for _, call := range choice.ToolCalls {
			messages = append(messages, a.execute(ctx, call))
		}
	}

	return "", fmt.Errorf("%w (%d)", ErrMaxSteps, a.maxSteps)
}

func (a *Agent) execute(ctx context.Context, call llms.ToolCall) llms.MessageContent {
	var name, args string
	if call.FunctionCall != nil {
		name, args = call.FunctionCall.Name, call.FunctionCall.Arguments
	}

	var res tools.Result
	switch {
	case name == "":
		res = tools.ErrorResult("tool call without a function name", "Call one of the declared tools")
	case a.tools == nil:
		res = tools.ErrorResult("no tools available", "Answer without calling tools")
	default:
		res = a.tools.Call(ctx, name, args)
	}

	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: call.ID,
			Name:       name,
			Content:    res.Text,
		}},
	}
}

// GenerateStructured produces a JSON answer without tools.
func (a *Agent) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	return a.model.GenerateStructured(ctx, systemPrompt, userPrompt, out)
}
