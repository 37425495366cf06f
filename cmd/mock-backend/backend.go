package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// --- Request types ---

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Tools          []chatTool      `json:"tools,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name       string          `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type toolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function funcCall `json:"function"`
}

type funcCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// sampleCUI fills CUI arguments of scripted tool calls.
const sampleCUI = "C0006142"

type backend struct {
	failEvery int
	latency   time.Duration
	requests  atomic.Int64
}

func (b *backend) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("POST /openai/deployments/{deployment}/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

func (b *backend) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	n := b.requests.Add(1)
	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-r.Context().Done():
			return
		}
	}
	if b.failEvery > 0 && n%int64(b.failEvery) == 0 {
		writeError(w, http.StatusServiceUnavailable, "server_error", "scripted failure")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request")
		return
	}
	if req.Stream {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "streaming is not scripted")
		return
	}

	resp := respond(&req)
	resp.Model = req.Model
	if resp.Model == "" {
		resp.Model = "mock-model"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// respond picks the scripted reply: one call to the first offered tool,
// then an answer built from the tool results.
func respond(req *chatRequest) chatResponse {
	results := toolResults(req)
	if len(req.Tools) > 0 && len(results) == 0 {
		return toolCallResponse(req.Tools[0])
	}

	question := lastUserMessage(req)
	text := "Mock answer: " + question
	if len(results) > 0 {
		text = fmt.Sprintf("Mock answer from %d tool result(s): %s", len(results), truncate(results[len(results)-1], 200))
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		data, _ := json.Marshal(map[string]string{
			"question":       question,
			"answer":         text,
			"reasoning":      "Scripted reasoning.",
			"reasoning_path": "question -> answer",
		})
		text = string(data)
	}
	return textResponse(text)
}

func toolCallResponse(tool chatTool) chatResponse {
	return chatResponse{
		ID:     "chatcmpl-mock-tool",
		Object: "chat.completion",
		Choices: []chatChoice{{
			Message: chatMessage{
				Role: "assistant",
				ToolCalls: []toolCall{{
					ID:   "call_mock_1",
					Type: "function",
					Function: funcCall{
						Name:      tool.Function.Name,
						Arguments: scriptedArguments(tool.Function.Parameters),
					},
				}},
			},
			FinishReason: "tool_calls",
		}},
		Usage: chatUsage{PromptTokens: 20, CompletionTokens: 15, TotalTokens: 35},
	}
}

// scriptedArguments fills the required properties of a JSON schema with
// placeholder values of the declared type.
func scriptedArguments(schema json.RawMessage) string {
	var s struct {
		Properties map[string]struct {
			Type string `json:"type"`
			Enum []any  `json:"enum"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	args := map[string]any{}
	if err := json.Unmarshal(schema, &s); err == nil {
		for _, name := range s.Required {
			prop := s.Properties[name]
			switch {
			case len(prop.Enum) > 0:
				args[name] = prop.Enum[0]
			case prop.Type == "integer" || prop.Type == "number":
				args[name] = 1
			case prop.Type == "boolean":
				args[name] = true
			case prop.Type == "array":
				args[name] = []string{}
			case strings.Contains(strings.ToLower(name), "cui"):
				args[name] = sampleCUI
			default:
				args[name] = "breast cancer"
			}
		}
	}
	data, _ := json.Marshal(args)
	return string(data)
}

func textResponse(text string) chatResponse {
	return chatResponse{
		ID:     "chatcmpl-mock-text",
		Object: "chat.completion",
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: &text},
			FinishReason: "stop",
		}},
		Usage: chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": typ},
	})
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "maia-mock"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" && req.Messages[i].Content != nil {
			return *req.Messages[i].Content
		}
	}
	return ""
}

func toolResults(req *chatRequest) []string {
	var out []string
	for _, m := range req.Messages {
		if m.Role == "tool" && m.Content != nil {
			out = append(out, *m.Content)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
