package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/and161185/qris-classifier/internal/model"
)

// Generator is the subset of the Gemini client the classifier needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, images []model.Image, jsonMode bool) (string, error)
}

// Gemini classifies images with a multimodal model.
type Gemini struct {
	gen Generator
}

// NewGemini wraps gen.
func NewGemini(gen Generator) *Gemini { return &Gemini{gen: gen} }

var classifyPrompt = "You are looking at photographs of a small Indonesian merchant that accepts QRIS payments. " +
	"Decide what kind of business it is. Answer with a JSON object {\"businessType\": \"<type>\"} where <type> is exactly one of: " +
	strings.Join(Types, ", ") + ". Use \"other\" when none fits."

type classifyAnswer struct {
	BusinessType string `json:"businessType"`
}

// Classify implements Classifier.
func (g *Gemini) Classify(ctx context.Context, images []model.Image) (string, error) {
	text, err := g.gen.Generate(ctx, classifyPrompt, images, true)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	var ans classifyAnswer
	if err := json.Unmarshal([]byte(stripFence(text)), &ans); err == nil && ans.BusinessType != "" {
		return Normalize(ans.BusinessType), nil
	}
	// plain-text answer
	return Normalize(text), nil
}

// stripFence removes a ```json fence some models wrap answers in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
