package batch

// Preset holds per-model batch limits. Token limits reflect the
// provider's documented request ceiling for the model, not its context
// window.
type Preset struct {
	MaxTokens int
	MaxItems  int
}

// presets maps model identifiers to their batch limits.
var presets = map[string]Preset{
	"text-embedding-3-small": {MaxTokens: 8191, MaxItems: 2048},
	"text-embedding-3-large": {MaxTokens: 8191, MaxItems: 2048},
	"text-embedding-ada-002": {MaxTokens: 8191, MaxItems: 2048},
	"gpt-4o":                 {MaxTokens: 128000, MaxItems: 50},
	"gpt-4o-mini":            {MaxTokens: 128000, MaxItems: 100},
	"claude-sonnet":          {MaxTokens: 200000, MaxItems: 50},
	"claude-haiku":           {MaxTokens: 200000, MaxItems: 100},
	"nomic-embed-text":       {MaxTokens: 8192, MaxItems: 512},
}

// defaultPreset applies when the model is unknown or unset.
var defaultPreset = Preset{MaxTokens: 8000, MaxItems: 100}

// PresetFor returns the batch limits for a model identifier. The second
// return reports whether the model was found; callers that ignore it
// get the defaults.
func PresetFor(model string) (Preset, bool) {
	if p, ok := presets[model]; ok {
		return p, true
	}
	return defaultPreset, false
}
