// Package classify wraps the Gemini API for best-effort waste
// categorization. Classification is advisory: it may fail or be
// unavailable, and never blocks request creation.
package classify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"ecosort/internal/types"
)

// DefaultModel is the generation model used for waste analysis.
const DefaultModel = "gemini-2.5-flash"

// WasteAnalysis is the classifier's best-effort reading of a free-text
// waste description.
type WasteAnalysis struct {
	Category    types.WasteCategory `json:"category"`
	Confidence  float64             `json:"confidence"`
	SafetyTips  string              `json:"safetyTips"`
	WeightGuess string              `json:"estimatedWeightGuess"`
}

// Fallback is the clearly-marked manual-categorization value used whenever
// the classifier is unavailable.
func Fallback() *WasteAnalysis {
	return &WasteAnalysis{
		Category:    types.CategoryDry,
		Confidence:  0,
		SafetyTips:  "AI unavailable. Please categorize manually.",
		WeightGuess: "Unknown",
	}
}

// Analyzer classifies waste descriptions with Gemini structured output.
type Analyzer struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewAnalyzer creates an analyzer. An empty API key yields an analyzer that
// always returns the manual fallback rather than an error.
func NewAnalyzer(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if model == "" {
		model = DefaultModel
	}
	if apiKey == "" {
		logger.Warn("no Gemini API key configured, waste analysis will fall back to manual categorization")
		return &Analyzer{model: model, logger: logger}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Analyzer{client: client, model: model, logger: logger}, nil
}

// Available reports whether a real classifier backend is configured.
func (a *Analyzer) Available() bool { return a.client != nil }

// Analyze classifies a waste description. Without a configured backend it
// returns the manual fallback; with one, a request failure is reported as
// ErrCategorizerUnavailable so callers can soft-fail the same way.
func (a *Analyzer) Analyze(ctx context.Context, description string) (*WasteAnalysis, error) {
	if a.client == nil {
		return Fallback(), nil
	}

	prompt := fmt.Sprintf(`Analyze the following waste description: %q.
Categorize it strictly into one of these three: 'DRY', 'WET', 'E-WASTE'.
Provide a brief safety tip for handling this waste.
Guess an estimated weight (e.g., small, medium, heavy) based on the item.`, description)

	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"category":             {Type: genai.TypeString, Enum: []string{"DRY", "WET", "E-WASTE"}},
				"confidence":           {Type: genai.TypeNumber},
				"safetyTips":           {Type: genai.TypeString},
				"estimatedWeightGuess": {Type: genai.TypeString},
			},
			Required: []string{"category", "safetyTips", "estimatedWeightGuess"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCategorizerUnavailable, err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", types.ErrCategorizerUnavailable)
	}

	var raw struct {
		Category    string  `json:"category"`
		Confidence  float64 `json:"confidence"`
		SafetyTips  string  `json:"safetyTips"`
		WeightGuess string  `json:"estimatedWeightGuess"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: unparseable response: %v", types.ErrCategorizerUnavailable, err)
	}

	category, err := types.ParseCategory(raw.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCategorizerUnavailable, err)
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &WasteAnalysis{
		Category:    category,
		Confidence:  confidence,
		SafetyTips:  raw.SafetyTips,
		WeightGuess: raw.WeightGuess,
	}, nil
}
