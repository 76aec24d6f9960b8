package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
)

// HTTPProvider implements Provider against an OpenAI-compatible chat
// completions endpoint.
type HTTPProvider struct {
	name     string
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewHTTPProvider creates a chat provider for the given endpoint.
func NewHTTPProvider(name, endpoint, apiKey, model string) *HTTPProvider {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if name == "" {
		name = "openai"
	}
	return &HTTPProvider{
		name:     name,
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

func (o *HTTPProvider) Name() string {
	return o.name
}

func (o *HTTPProvider) Available() bool {
	return o.apiKey != "" && o.model != ""
}

// Generate sends the prompt and returns the first choice's content.
func (o *HTTPProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if !o.Available() {
		return Response{}, fmt.Errorf("oracle: provider %s not configured", o.name)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("oracle: rate limiter wait failed: %w", err)
	}

	logging.Debug("oracle request starting", "provider", o.name, "model", o.model)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{
			"role":    "system",
			"content": req.SystemPrompt,
		})
	}
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": req.UserPrompt,
	})

	body := map[string]interface{}{
		"model":                 o.model,
		"max_completion_tokens": maxTokens,
		"messages":              messages,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, fmt.Errorf("oracle: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Response{}, fmt.Errorf("oracle: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.Error("oracle API error", "provider", o.name, "status", resp.StatusCode, "body", string(respBody))
		return Response{}, fmt.Errorf("oracle: API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, fmt.Errorf("oracle: failed to parse response: %w", err)
	}

	content := ""
	finishReason := ""
	if len(result.Choices) > 0 {
		content = result.Choices[0].Message.Content
		finishReason = result.Choices[0].FinishReason
	}

	if finishReason == "length" {
		logging.Warn("oracle response truncated at max tokens",
			"model", result.Model,
			"max_tokens", maxTokens,
			"content_length", len(content))
	}

	logging.Info("oracle response",
		"provider", o.name,
		"model", result.Model,
		"content_length", len(content),
		"finish_reason", finishReason)

	return Response{
		Content:     content,
		Model:       result.Model,
		RawResponse: string(respBody),
	}, nil
}
