package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
	"github.com/tmc/langchaingo/llms"
)

// ErrToolAlreadyRegistered is returned when a tool name is registered twice.
var ErrToolAlreadyRegistered = errors.New("tool already registered")

// Handler executes a tool with the raw JSON arguments produced by the model.
type Handler func(ctx context.Context, args json.RawMessage) Result

// Tool is a named capability the agent may invoke.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any
	Handler    Handler
}

// Registry holds the tools offered to the model. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
	deps  *Dependencies
}

// NewRegistry creates an empty registry. deps supplies logging and metrics for Call.
func NewRegistry(deps *Dependencies) *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
		deps:  deps,
	}
}

// NewDefaultRegistry creates a registry with every directory inspection tool registered.
func NewDefaultRegistry(deps *Dependencies) *Registry {
	r := NewRegistry(deps)
	RegisterAll(r, deps)
	return r
}

// RegisterAll registers the directory inspection tools.
func RegisterAll(r *Registry, deps *Dependencies) {
	r.MustRegister(&Tool{
		Name:        "list_directory",
		Description: "Lists the contents of a directory. Provide the full path to the directory.",
		Parameters:  pathSchema("Full path to the directory"),
		Handler:     NewListDirectoryHandler(deps),
	})

	r.MustRegister(&Tool{
		Name:        "describe_tree",
		Description: "Gets the folder structure of a directory as a JSON tree. Provide the full path to the directory.",
		Parameters:  pathSchema("Full path to the directory"),
		Handler:     NewDescribeTreeHandler(deps),
	})

	r.MustRegister(&Tool{
		Name:        "read_file",
		Description: "Reads the text content of a file, such as a version documentation page. Provide the full path to the file.",
		Parameters:  pathSchema("Full path to the file"),
		Handler:     NewReadFileHandler(deps),
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("invalid tool: name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("invalid tool %s: handler is required", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// MustRegister registers a tool and panics on error.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool: %v", err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns the function-calling schema for every tool, in registration order.
func (r *Registry) Definitions() []llms.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llms.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

// Call dispatches a model tool call. Unknown tools and handler failures are
// reported back as error results rather than Go errors.
func (r *Registry) Call(ctx context.Context, name, arguments string) Result {
	log := r.deps.logger()
	log.Info("tool called", "tool", name, "args", truncate(arguments, 200))

	tool := r.Get(name)
	if tool == nil {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name), "Available tools: "+strings.Join(r.Names(), ", "))
	}

	args := json.RawMessage(arguments)
	if strings.TrimSpace(arguments) == "" {
		args = json.RawMessage("{}")
	}

	start := time.Now()
	result := tool.Handler(ctx, args)
	duration := time.Since(start)

	var callErr error
	if result.IsError {
		callErr = errors.New(result.Text)
		log.Warn("tool returned error", "tool", name, "duration_ms", duration.Milliseconds(), "result", truncate(result.Text, 200))
	}
	if r.deps != nil {
		r.deps.Metrics.RecordTiming(metrics.OpToolCall, duration, callErr)
	}
	return result
}

func pathSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{"path"},
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
