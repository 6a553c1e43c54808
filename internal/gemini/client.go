// Package gemini is a minimal client for the Gemini generateContent REST endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/and161185/qris-classifier/internal/model"
)

// DefaultBaseURL is the public Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const maxErrBody = 512

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("gemini: empty response")

// Client calls a single Gemini model.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

// Option tweaks a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// New builds a client for model authenticated with apiKey.
func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		model:   model,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d: %s", e.StatusCode, e.Body)
}

// Generate sends prompt and images and returns the concatenated text parts.
// When jsonMode is set the model is asked to answer with a JSON document.
func (c *Client) Generate(ctx context.Context, prompt string, images []model.Image, jsonMode bool) (string, error) {
	parts := make([]part, 0, len(images)+1)
	parts = append(parts, part{Text: prompt})
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{MimeType: img.MimeType, Data: img.Data}})
	}
	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if jsonMode {
		reqBody.GenerationConfig.ResponseMimeType = "application/json"
	}

	buf, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("gemini: encode request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini: prompt blocked: %s", out.PromptFeedback.BlockReason)
	}

	var sb strings.Builder
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
