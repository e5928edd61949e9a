// Package prompt manages the system and investigation prompt templates.
//
// Responsibilities:
//   - Hold the system prompt that defines the investigator's role and rules
//   - Render investigation-specific prompts from templates by trigger type
//   - Load operator-provided template overrides from a YAML file
//   - Fall back to the general template for unknown investigation types
//
// Templates use {{.Description}} and {{.Context}} placeholders. Rendering is
// plain string substitution; templates are authored text, not untrusted input.
package prompt

// Manager renders prompts for investigation sessions.
type Manager interface {
	// SystemPrompt returns the system prompt sent on every model request.
	SystemPrompt() string

	// Render produces the opening user prompt for an investigation.
	// Unknown types fall back to the "general" template.
	Render(investigationType, description, clusterContext string) string

	// Types lists the investigation types with a dedicated template.
	Types() []string
}
