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

const openaiDefaultURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider talks to the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey    string
	model     string
	maxTokens int
	apiURL    string
	client    *http.Client
}

// NewOpenAIProvider creates an OpenAI-backed provider. baseURL may be
// empty to use the public endpoint.
func NewOpenAIProvider(apiKey, model string, maxTokens int, baseURL string) *OpenAIProvider {
	url := openaiDefaultURL
	if baseURL != "" {
		url = strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
	}
	return &OpenAIProvider{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		apiURL:    url,
		client:    &http.Client{},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Generate produces plain text for the given prompts.
func (p *OpenAIProvider) Generate(
	ctx context.Context,
	system, prompt string,
	opts GenerateOptions,
) (string, error) {
	resp, err := p.callAPI(ctx, system, prompt, opts, nil)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithActions offers the declared actions to the model as
// function tools and reports any calls it requested.
func (p *OpenAIProvider) GenerateWithActions(
	ctx context.Context,
	system, prompt string,
	opts GenerateOptions,
	actions []ActionDecl,
) (*Reply, error) {
	tools := make([]openaiTool, 0, len(actions))
	for _, a := range actions {
		tools = append(tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        a.Name,
				Description: a.Description,
				Parameters:  a.Schema,
			},
		})
	}

	resp, err := p.callAPI(ctx, system, prompt, opts, tools)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	msg := resp.Choices[0].Message
	reply := &Reply{Text: msg.Content}

	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("decoding tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		reply.ActionCalls = append(reply.ActionCalls, ActionCall{
			Name: tc.Function.Name,
			Args: args,
		})
	}

	return reply, nil
}

// HealthCheck issues a minimal generation to verify reachability and
// credentials.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.Generate(ctx, "", "ping", GenerateOptions{MaxTokens: 1})
	return err == nil
}

// callAPI makes a single request to the chat completions endpoint.
func (p *OpenAIProvider) callAPI(
	ctx context.Context,
	system, prompt string,
	opts GenerateOptions,
	tools []openaiTool,
) (*openaiResponse, error) {
	maxTokens := p.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	messages := []openaiMessage{}
	if system != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: system})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: prompt})

	reqBody := openaiRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Tools:     tools,
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
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

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
		var apiErr openaiErrorResponse
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

	var result openaiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

type openaiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
