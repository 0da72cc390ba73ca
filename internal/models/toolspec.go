package models

// ToolSpec declares a tool's parameter contract. The dispatcher embeds
// the full catalog of specs in the classification prompt, and the tool
// registry validates dispatched parameters against them.
type ToolSpec struct {
	Name        ToolName          `json:"name"`
	Description string            `json:"description"`
	// Required lists parameter names that must be present for the tool
	// to execute.
	Required []string `json:"required,omitempty"`
	// Defaults maps optional parameter names to the value used when the
	// classifier omits them.
	Defaults map[string]string `json:"defaults,omitempty"`
}
