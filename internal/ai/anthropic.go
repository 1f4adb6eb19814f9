package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicDefaultURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion    = "2023-06-01"
)

// AnthropicProvider talks to the Claude Messages API.
type AnthropicProvider struct {
	apiKey    string
	model     string
	maxTokens int
	apiURL    string
	client    *http.Client
}

// NewAnthropicProvider creates a Claude-backed provider. baseURL may be
// empty to use the public endpoint.
func NewAnthropicProvider(apiKey, model string, maxTokens int, baseURL string) *AnthropicProvider {
	url := anthropicDefaultURL
	if baseURL != "" {
		url = strings.TrimRight(baseURL, "/") + "/v1/messages"
	}
	return &AnthropicProvider{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		apiURL:    url,
		client:    &http.Client{},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate produces plain text for the given prompts.
func (p *AnthropicProvider) Generate(
	ctx context.Context,
	system, prompt string,
	opts GenerateOptions,
) (string, error) {
	resp, err := p.callAPI(ctx, system, prompt, opts, nil)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, ""), nil
}

// GenerateWithActions offers the declared actions to the model and
// reports any calls it requested.
func (p *AnthropicProvider) GenerateWithActions(
	ctx context.Context,
	system, prompt string,
	opts GenerateOptions,
	actions []ActionDecl,
) (*Reply, error) {
	tools := make([]anthropicTool, 0, len(actions))
	for _, a := range actions {
		tools = append(tools, anthropicTool{
			Name:        a.Name,
			Description: a.Description,
			InputSchema: a.Schema,
		})
	}

	resp, err := p.callAPI(ctx, system, prompt, opts, tools)
	if err != nil {
		return nil, err
	}

	reply := &Reply{}
	var parts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("decoding tool input for %s: %w", block.Name, err)
				}
			}
			reply.ActionCalls = append(reply.ActionCalls, ActionCall{
				Name: block.Name,
				Args: args,
			})
		}
	}
	reply.Text = strings.Join(parts, "")

	return reply, nil
}

// HealthCheck issues a minimal generation to verify reachability and
// credentials.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.Generate(ctx, "", "ping", GenerateOptions{MaxTokens: 1})
	return err == nil
}

// callAPI makes a single request to the Claude Messages API.
func (p *AnthropicProvider) callAPI(
	ctx context.Context,
	system, prompt string,
	opts GenerateOptions,
	tools []anthropicTool,
) (*anthropicResponse, error) {
	maxTokens := p.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	reqBody := anthropicRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: []anthropicContentBlock{{Type: "text", Text: prompt}},
			},
		},
		Tools: tools,
	}
	if opts.Temperature > 0 {
		reqBody.Temperature = &opts.Temperature
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, p.apiURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{
			Provider: p.Name(),
			Kind:     ErrUnavailable,
			Message:  err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var apiErr anthropicErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, &ProviderError{
			Provider: p.Name(),
			Status:   resp.StatusCode,
			Kind:     classifyStatus(resp.StatusCode),
			Message:  msg,
		}
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

// --- Claude API wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
