package openaicompat

import (
	"github.com/maia-bench/maia/pkg/provider"
)

// TranslateToChat converts a provider.Request into a ChatCompletionRequest.
func TranslateToChat(req *provider.Request) ChatCompletionRequest {
	cr := ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		N:           1,
		User:        req.User,
	}

	for _, pm := range req.Messages {
		cm := ChatMessage{
			Role:       pm.Role,
			Content:    pm.Content,
			ToolCallID: pm.ToolCallID,
			Name:       pm.Name,
		}
		for _, tc := range pm.ToolCalls {
			typ := tc.Type
			if typ == "" {
				typ = "function"
			}
			cm.ToolCalls = append(cm.ToolCalls, ChatToolCall{
				ID:   tc.ID,
				Type: typ,
				Function: ChatFunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		// An assistant message that only calls tools carries null content.
		if pm.Role == "assistant" && pm.Content == "" && len(cm.ToolCalls) > 0 {
			cm.Content = nil
		}
		cr.Messages = append(cr.Messages, cm)
	}

	for _, pt := range req.Tools {
		typ := pt.Type
		if typ == "" {
			typ = "function"
		}
		cr.Tools = append(cr.Tools, ChatTool{
			Type: typ,
			Function: ChatFunctionDef{
				Name:        pt.Function.Name,
				Description: pt.Function.Description,
				Parameters:  pt.Function.Parameters,
			},
		})
	}

	if req.ToolChoice != "" && len(cr.Tools) > 0 {
		cr.ToolChoice = req.ToolChoice
	}

	if rf := req.ResponseFormat; rf != nil && rf.Type != "" {
		cr.ResponseFormat = &ChatResponseFormat{Type: rf.Type}
		if rf.Type == provider.FormatJSONSchema {
			name := rf.Name
			if name == "" {
				name = "response"
			}
			cr.ResponseFormat.JSONSchema = &ChatJSONSchema{
				Name:   name,
				Schema: rf.Schema,
				Strict: rf.Strict,
			}
		}
	}

	return cr
}
