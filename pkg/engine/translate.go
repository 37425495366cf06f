package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/conversation"
	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/provider"
)

// buildRequest converts the conversation and capability list into a
// provider request.
func (e *Engine) buildRequest(conv *conversation.Conversation, tools []provider.Tool) *provider.Request {
	req := &provider.Request{
		Model:          e.cfg.Model,
		Messages:       messagesFrom(conv.Turns()),
		Tools:          tools,
		Temperature:    e.cfg.Temperature,
		TopP:           e.cfg.TopP,
		MaxTokens:      e.cfg.MaxTokens,
		ResponseFormat: e.cfg.ResponseFormat,
	}
	if len(tools) > 0 {
		req.ToolChoice = e.cfg.toolChoice()
	}
	return req
}

// toolsFor advertises every canonical capability under its dispatch ID.
func toolsFor(reg *capability.Registry) []provider.Tool {
	if reg == nil || reg.Len() == 0 {
		return nil
	}
	caps := reg.Capabilities()
	tools := make([]provider.Tool, 0, len(caps))
	for _, c := range caps {
		tools = append(tools, provider.Tool{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        c.DispatchID,
				Description: c.Description,
				Parameters:  c.Parameters,
			},
		})
	}
	return tools
}

// messagesFrom maps conversation turns one-to-one onto provider messages.
func messagesFrom(turns []conversation.Turn) []provider.Message {
	msgs := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleAssistant:
			m := provider.Message{Role: "assistant", Content: t.Content}
			for _, inv := range t.Invocations {
				m.ToolCalls = append(m.ToolCalls, provider.ToolCall{
					ID:   inv.ID,
					Type: "function",
					Function: provider.FunctionCall{
						Name:      inv.DispatchID,
						Arguments: string(inv.Arguments),
					},
				})
			}
			msgs = append(msgs, m)
		case conversation.RoleTool:
			msgs = append(msgs, provider.Message{
				Role:       "tool",
				Content:    t.Content,
				ToolCallID: t.InvocationID,
				Name:       t.DispatchID,
				IsError:    t.IsError,
			})
		default:
			msgs = append(msgs, provider.Message{Role: string(t.Role), Content: t.Content})
		}
	}
	return msgs
}

func (e *Engine) structured() bool {
	rf := e.cfg.ResponseFormat
	if rf == nil {
		return false
	}
	return rf.Type == provider.FormatJSONObject || rf.Type == provider.FormatJSONSchema || e.schema != nil
}

// validateStructured checks a final answer in structured-output mode and
// returns the JSON text. A failure is a model error, which the retry
// executor treats as a failed attempt.
func (e *Engine) validateStructured(text string) (string, error) {
	body := StripCodeFence(text)
	if !json.Valid([]byte(body)) {
		return "", api.NewModelError(fmt.Sprintf("structured output is not valid JSON: %s", debug.Truncate(body, 120)))
	}
	if e.schema == nil {
		return body, nil
	}

	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return "", api.NewModelError(err.Error())
	}
	if result := e.schema.Validate(v); !result.IsValid() {
		return "", api.NewModelError(fmt.Sprintf("structured output does not match schema: %v", result.Error()))
	}
	return body, nil
}

// codeFenceRe matches a markdown code fence wrapping the whole answer.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// StripCodeFence removes a surrounding markdown code fence, such as
// ```json ... ```, and surrounding whitespace.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}
