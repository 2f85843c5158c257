package ollama

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// GenerateResult is what Generate hands back to the caller.
type GenerateResult struct {
	Response string
	// Raw is the decoded backend payload. For streamed generations it is the
	// final chunk with "response" replaced by the assembled text.
	Raw map[string]any

	PromptTokens     int
	CompletionTokens int
}

type ModelDetails struct {
	Format            string `json:"format,omitempty"`
	Family            string `json:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

type Model struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	ModifiedAt string       `json:"modified_at,omitempty"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest,omitempty"`
	Details    ModelDetails `json:"details"`
}

// ModelList is the body of GET /api/tags.
type ModelList struct {
	Models []Model `json:"models"`
}

func (l *ModelList) Has(name string) bool {
	for _, m := range l.Models {
		if m.Name == name || m.Model == name {
			return true
		}
	}
	return false
}

type HealthStatus int

const (
	Healthy HealthStatus = iota
	Unhealthy
	Unreachable
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}
