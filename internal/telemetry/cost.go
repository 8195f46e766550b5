package telemetry

// PricingConfig is a flat per-token rate table.
type PricingConfig struct {
	AudioInputCost  float64 `json:"audioInputCost" yaml:"audio_input_cost"`
	AudioOutputCost float64 `json:"audioOutputCost" yaml:"audio_output_cost"`
	CachedAudioCost float64 `json:"cachedAudioCost" yaml:"cached_audio_cost"`
	TextInputCost   float64 `json:"textInputCost" yaml:"text_input_cost"`
	TextOutputCost  float64 `json:"textOutputCost" yaml:"text_output_cost"`
}

// DefaultPricing holds the published realtime preview rates.
var DefaultPricing = PricingConfig{
	AudioInputCost:  0.00004,
	AudioOutputCost: 0.00008,
	CachedAudioCost: 0.0000025,
	TextInputCost:   0.0000025,
	TextOutputCost:  0.00001,
}

// TokenCounts is the token contribution of one response.
type TokenCounts struct {
	AudioInputTokens  int `json:"audioInputTokens"`
	TextInputTokens   int `json:"textInputTokens"`
	CachedInputTokens int `json:"cachedInputTokens"`
	AudioOutputTokens int `json:"audioOutputTokens"`
	TextOutputTokens  int `json:"textOutputTokens"`
}

// InputTokens returns audio plus text input, excluding cached tokens.
func (c TokenCounts) InputTokens() int {
	return c.AudioInputTokens + c.TextInputTokens
}

// OutputTokens returns audio plus text output.
func (c TokenCounts) OutputTokens() int {
	return c.AudioOutputTokens + c.TextOutputTokens
}

// HasNegative reports whether any count is below zero, which happens when the
// endpoint reports more cached tokens than raw tokens.
func (c TokenCounts) HasNegative() bool {
	return c.AudioInputTokens < 0 || c.TextInputTokens < 0 || c.CachedInputTokens < 0 ||
		c.AudioOutputTokens < 0 || c.TextOutputTokens < 0
}

func (c TokenCounts) add(o TokenCounts) TokenCounts {
	return TokenCounts{
		AudioInputTokens:  c.AudioInputTokens + o.AudioInputTokens,
		TextInputTokens:   c.TextInputTokens + o.TextInputTokens,
		CachedInputTokens: c.CachedInputTokens + o.CachedInputTokens,
		AudioOutputTokens: c.AudioOutputTokens + o.AudioOutputTokens,
		TextOutputTokens:  c.TextOutputTokens + o.TextOutputTokens,
	}
}

// CostBreakdown is the estimated cost of a set of token counts.
type CostBreakdown struct {
	InputCost  float64 `json:"inputCost"`
	OutputCost float64 `json:"outputCost"`
	TotalCost  float64 `json:"totalCost"`
}

func (b CostBreakdown) add(o CostBreakdown) CostBreakdown {
	return CostBreakdown{
		InputCost:  b.InputCost + o.InputCost,
		OutputCost: b.OutputCost + o.OutputCost,
		TotalCost:  b.TotalCost + o.TotalCost,
	}
}

// CalculateCosts prices token counts against a rate table. Values are not
// rounded and negative counts are not rejected.
func CalculateCosts(delta TokenCounts, rates PricingConfig) CostBreakdown {
	input := float64(delta.AudioInputTokens)*rates.AudioInputCost +
		float64(delta.TextInputTokens)*rates.TextInputCost +
		float64(delta.CachedInputTokens)*rates.CachedAudioCost
	output := float64(delta.AudioOutputTokens)*rates.AudioOutputCost +
		float64(delta.TextOutputTokens)*rates.TextOutputCost
	return CostBreakdown{
		InputCost:  input,
		OutputCost: output,
		TotalCost:  input + output,
	}
}

// ExtractDelta converts a response.done usage payload into token counts.
// Cached tokens are subtracted from the raw per-modality counts; absent cached
// fields count as zero.
func ExtractDelta(usage Usage) TokenCounts {
	cached := CachedTokens{}
	if usage.Input.CachedBreakdown != nil {
		cached = *usage.Input.CachedBreakdown
	}
	cachedTotal := 0
	if usage.Input.CachedTokens != nil {
		cachedTotal = *usage.Input.CachedTokens
	}
	return TokenCounts{
		AudioInputTokens:  usage.Input.AudioTokens - cached.AudioTokens,
		TextInputTokens:   usage.Input.TextTokens - cached.TextTokens,
		CachedInputTokens: cachedTotal,
		AudioOutputTokens: usage.Output.AudioTokens,
		TextOutputTokens:  usage.Output.TextTokens,
	}
}
