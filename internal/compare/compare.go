// Package compare scores a user-supplied business name against a classified type.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/classifier"
	"github.com/and161185/qris-classifier/internal/model"
)

// MethodAI marks comparisons produced by the model.
const MethodAI = "ai"

// DefaultTimeout bounds one AI comparison.
const DefaultTimeout = 10 * time.Second

// Comparator scores name against classifiedType.
type Comparator interface {
	Compare(ctx context.Context, name, classifiedType string) (model.Comparison, error)
}

// AI asks the model whether the name fits the classified type.
type AI struct {
	gen classifier.Generator
}

// NewAI wraps gen.
func NewAI(gen classifier.Generator) *AI { return &AI{gen: gen} }

type aiAnswer struct {
	IsMatch     *bool    `json:"isMatch"`
	MatchScore  *float64 `json:"matchScore"`
	MatchReason string   `json:"matchReason"`
}

const comparePrompt = `A merchant registered the business name %q. Photos of the premises were classified as %q.
Does the name plausibly describe that kind of business? Answer with a JSON object
{"isMatch": boolean, "matchScore": number between 0 and 1, "matchReason": short sentence}.`

// Compare implements Comparator.
func (a *AI) Compare(ctx context.Context, name, classifiedType string) (model.Comparison, error) {
	text, err := a.gen.Generate(ctx, fmt.Sprintf(comparePrompt, name, classifiedType), nil, true)
	if err != nil {
		return model.Comparison{}, fmt.Errorf("compare: %w", err)
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```"), "```")

	var ans aiAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &ans); err != nil {
		return model.Comparison{}, fmt.Errorf("compare: decode answer: %w", err)
	}
	if ans.IsMatch == nil || ans.MatchScore == nil {
		return model.Comparison{}, errors.New("compare: incomplete answer")
	}
	score := *ans.MatchScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return model.Comparison{
		ProvidedName:   name,
		ClassifiedType: classifiedType,
		IsMatch:        *ans.IsMatch,
		MatchScore:     score,
		MatchReason:    ans.MatchReason,
		Method:         MethodAI,
	}, nil
}

// WithFallback runs primary under a timeout and answers with the keyword
// matcher when it fails. It never returns an error.
type WithFallback struct {
	primary Comparator
	timeout time.Duration
	log     *zap.Logger
}

// NewWithFallback wraps primary. A nil primary always uses the keyword table.
func NewWithFallback(primary Comparator, timeout time.Duration, log *zap.Logger) *WithFallback {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WithFallback{primary: primary, timeout: timeout, log: log}
}

// Compare implements Comparator.
func (w *WithFallback) Compare(ctx context.Context, name, classifiedType string) (model.Comparison, error) {
	if w.primary != nil {
		cctx, cancel := context.WithTimeout(ctx, w.timeout)
		res, err := w.primary.Compare(cctx, name, classifiedType)
		cancel()
		if err == nil {
			return res, nil
		}
		w.log.Warn("compare: falling back to keyword match",
			zap.String("classified_type", classifiedType),
			zap.Error(err),
		)
	}
	return Keyword{}.Match(name, classifiedType), nil
}
