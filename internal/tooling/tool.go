package tooling

import (
	"context"
	"encoding/json"

	"hearth/internal/domain"
)

// SchemaTool is one invocable, schema-described capability. Implementations
// must return only *domain.ToolResult (Data, Metadata, Artifacts) — no raw
// dumps of whatever the underlying API produced.
//
// Call receives raw JSON arguments that have already been validated against
// Definition() by the dispatch engine; tools re-validating is harmless but
// not required. Blocking I/O inside Call must respect ctx.
type SchemaTool interface {
	// Name returns the tool name used in function-calling. Unique per registry.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// Definition returns the JSON Schema document for the tool's input.
	Definition() string

	// Call executes the tool with the given arguments.
	Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error)
}

// Definitions converts tools into the public metadata advertised to a backend.
func Definitions(tools []SchemaTool) []domain.ToolDefinition {
	out := make([]domain.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: json.RawMessage(t.Definition()),
		})
	}
	return out
}
