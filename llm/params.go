package llm

import "github.com/sashabaranov/go-openai"

const (
	// DefaultMaxTokens is the completion cap requested from every model.
	DefaultMaxTokens = 16384
	// DefaultTemperature applies to models that accept sampling parameters.
	DefaultTemperature = 0.7
)

// DefaultReasoningModels take max_completion_tokens and no temperature.
var DefaultReasoningModels = []string{"o3-mini"}

// IsReasoningModel reports whether model is listed in reasoning (or the defaults
// when reasoning is nil).
func IsReasoningModel(model string, reasoning []string) bool {
	if reasoning == nil {
		reasoning = DefaultReasoningModels
	}
	for _, m := range reasoning {
		if m == model {
			return true
		}
	}
	return false
}

// TemperatureOr returns the configured temperature, or def when none is set.
// An explicit zero is a valid setting.
func TemperatureOr(temperature *float64, def float64) float64 {
	if temperature == nil || *temperature < 0 {
		return def
	}
	return *temperature
}

// ApplyModelParams sets the token cap and sampling parameters for req.Model.
// A zero maxTokens or a nil temperature falls back to the defaults.
func ApplyModelParams(req *openai.ChatCompletionRequest, reasoning []string, maxTokens int, temperature *float64) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	if IsReasoningModel(req.Model, reasoning) {
		req.MaxCompletionTokens = maxTokens
		req.MaxTokens = 0
		req.Temperature = 0
		return
	}
	req.MaxTokens = maxTokens
	req.MaxCompletionTokens = 0
	req.Temperature = float32(TemperatureOr(temperature, DefaultTemperature))
}
