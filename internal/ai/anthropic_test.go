package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicGenerate(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{
				{Type: "text", Text: "hello "},
				{Type: "text", Text: "world"},
			},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", "claude-test", 256, srv.URL)
	text, err := p.Generate(context.Background(), "be brief", "say hi", GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "be brief", gotReq.System)
	assert.Equal(t, "claude-test", gotReq.Model)
	assert.Equal(t, 256, gotReq.MaxTokens)
}

func TestAnthropicGenerateWithActions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "record_work_report", req.Tools[0].Name)

		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{
				{Type: "text", Text: "recording that"},
				{
					Type:  "tool_use",
					ID:    "tu_1",
					Name:  "record_work_report",
					Input: json.RawMessage(`{"content":"deployed v2"}`),
				},
			},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", "claude-test", 256, srv.URL)
	reply, err := p.GenerateWithActions(context.Background(), "sys", "done with deploy",
		GenerateOptions{}, []ActionDecl{{
			Name:        "record_work_report",
			Description: "record work",
			Schema:      json.RawMessage(`{"type":"object"}`),
		}})
	require.NoError(t, err)
	assert.Equal(t, "recording that", reply.Text)
	require.Len(t, reply.ActionCalls, 1)
	assert.Equal(t, "record_work_report", reply.ActionCalls[0].Name)
	assert.Equal(t, "deployed v2", reply.ActionCalls[0].Args["content"])
}

func TestAnthropicErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrUnavailable},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(anthropicErrorResponse{})
		}))

		p := NewAnthropicProvider("bad-key", "claude-test", 16, srv.URL)
		_, err := p.Generate(context.Background(), "", "hi", GenerateOptions{})
		require.Error(t, err, "status %d", tc.status)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)

		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, tc.status, perr.Status)
		assert.Equal(t, "anthropic", perr.Provider)

		srv.Close()
	}
}
