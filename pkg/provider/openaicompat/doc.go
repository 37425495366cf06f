// Package openaicompat implements provider.Provider for Chat Completions
// backends: OpenAI itself, OpenAI-compatible servers (vLLM, LiteLLM, the
// mock backend) and Azure OpenAI deployments. It handles request
// serialization, response parsing and error mapping.
package openaicompat
