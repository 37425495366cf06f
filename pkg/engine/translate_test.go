package engine

import (
	"encoding/json"
	"testing"

	"github.com/maia-bench/maia/pkg/conversation"
)

func TestMessagesFrom(t *testing.T) {
	c := conversation.New("sys", "q")
	if err := c.AppendAssistant("checking", []conversation.Invocation{
		{ID: "c1", DispatchID: "pubmed_search", Arguments: json.RawMessage(`{"query":"x"}`)},
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.AppendToolResult("c1", "pubmed_search", `{"error":"timeout"}`, true); err != nil {
		t.Fatal(err)
	}

	msgs := messagesFrom(c.Turns())
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	a := msgs[2]
	if a.Role != "assistant" || a.Content != "checking" || len(a.ToolCalls) != 1 {
		t.Fatalf("assistant message = %+v", a)
	}
	if a.ToolCalls[0].Function.Name != "pubmed_search" || a.ToolCalls[0].Function.Arguments != `{"query":"x"}` {
		t.Errorf("tool call = %+v", a.ToolCalls[0])
	}
	tool := msgs[3]
	if tool.Role != "tool" || tool.ToolCallID != "c1" || tool.Name != "pubmed_search" || !tool.IsError {
		t.Errorf("tool message = %+v", tool)
	}
}

func TestToolsFor_NilRegistry(t *testing.T) {
	if tools := toolsFor(nil); tools != nil {
		t.Errorf("expected no tools, got %+v", tools)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}\n", `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"```JSON {\"a\":1} ```", `{"a":1}`},
		{"no fence here", "no fence here"},
	}
	for _, tt := range tests {
		if got := StripCodeFence(tt.in); got != tt.want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
