package openaicompat

import (
	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/provider"
)

// TranslateResponse converts a ChatCompletionResponse into a provider.Response.
// It uses only choices[0]. A response without choices is a model error.
func TranslateResponse(resp *ChatCompletionResponse) (*provider.Response, error) {
	pr := &provider.Response{
		Model:   resp.Model,
		Message: provider.Message{Role: "assistant"},
	}

	if resp.Usage != nil {
		pr.Usage = api.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}

	if len(resp.Choices) == 0 {
		return nil, api.NewModelError("backend returned no choices")
	}

	choice := resp.Choices[0]
	pr.FinishReason = choice.FinishReason
	pr.Message.Content = ExtractContentString(choice.Message.Content)

	for _, tc := range choice.Message.ToolCalls {
		pr.Message.ToolCalls = append(pr.Message.ToolCalls, provider.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: provider.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return pr, nil
}

// ExtractContentString returns the message content as a plain string. The
// content field can be a string, null, or an array of text parts.
func ExtractContentString(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				out += text
			}
		}
		return out
	default:
		return ""
	}
}
