// Package tools maintains the registry of investigation tools exposed to the
// model. Each tool pairs a schema descriptor with a handler; specs are built
// once at registration and served to the encoder, and the registry itself is
// the executor the agentic loop drives.
//
// Responsibilities:
//   - Register tools with introspected or explicit input schemas
//   - Exclude (not fail) tools whose schemas cannot be built
//   - Execute tool calls by name with metric and duration tracking
//   - Serve repeated read-only calls from a short-TTL result cache
//   - Serve the cached spec list for request encoding
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelops/sentinel-ai/internal/cache"
	"github.com/sentinelops/sentinel-ai/internal/llm/toolschema"
	"github.com/sentinelops/sentinel-ai/internal/llm/types"
	"github.com/sentinelops/sentinel-ai/internal/metrics"
)

// Handler executes a single tool call. The result string is fed back to the
// model verbatim as tool output.
type Handler func(ctx context.Context, args map[string]any) (string, error)

type entry struct {
	spec     types.ToolSpec
	handler  Handler
	cacheTTL time.Duration
}

// Registry holds registered tools and implements types.ToolExecutor.
type Registry struct {
	logger  *zap.Logger
	results *cache.Cache

	mu      sync.RWMutex
	tools   map[string]entry
	order   []string
	skipped []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		results: cache.New(0),
		tools:   make(map[string]entry),
	}
}

// Register adds a tool. A descriptor that cannot be turned into a spec
// excludes the tool and returns the build error; the registry stays usable.
func (r *Registry) Register(d toolschema.Descriptor, handler Handler) error {
	return r.RegisterCached(d, 0, handler)
}

// RegisterCached adds a read-only tool whose results are cached for ttl.
// Identical calls within the window are served from cache.
func (r *Registry) RegisterCached(d toolschema.Descriptor, ttl time.Duration, handler Handler) error {
	spec, err := toolschema.Build(d)
	if err != nil {
		r.mu.Lock()
		r.skipped = append(r.skipped, d.Name)
		r.mu.Unlock()
		r.logger.Warn("excluding tool with unbuildable schema",
			zap.String("tool", d.Name),
			zap.Error(err),
		)
		return err
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	r.tools[spec.Name] = entry{spec: spec, handler: handler, cacheTTL: ttl}
	r.order = append(r.order, spec.Name)
	return nil
}

// Specs returns tool specifications in registration order.
func (r *Registry) Specs() []types.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]types.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].spec)
	}
	return specs
}

// Skipped returns the names of tools excluded at registration time.
func (r *Registry) Skipped() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.skipped...)
}

// Execute runs the named tool. Implements types.ToolExecutor.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]any) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		metrics.ToolCalls.WithLabelValues(toolName, "unknown").Inc()
		return "", fmt.Errorf("unknown tool: %s", toolName)
	}

	var key string
	if e.cacheTTL > 0 {
		key = cache.Key(toolName, args)
		if cached, ok := r.results.Get(key); ok {
			metrics.ToolCalls.WithLabelValues(toolName, "cached").Inc()
			return cached, nil
		}
	}

	start := time.Now()
	result, err := e.handler(ctx, args)
	elapsed := time.Since(start)

	metrics.ToolDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())
	if err != nil {
		metrics.ToolCalls.WithLabelValues(toolName, "error").Inc()
		r.logger.Warn("tool execution failed",
			zap.String("tool", toolName),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return "", err
	}
	metrics.ToolCalls.WithLabelValues(toolName, "ok").Inc()
	if key != "" {
		r.results.Set(key, result, e.cacheTTL)
	}
	return result, nil
}

// CacheStats reports hit/miss counters for the tool result cache.
func (r *Registry) CacheStats() cache.Stats {
	return r.results.GetStats()
}

// ─── Argument helpers ─────────────────────────────────────────────────────────

// Tool arguments arrive as generic JSON values; numbers decode as float64.

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}
