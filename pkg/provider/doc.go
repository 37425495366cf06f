// Package provider defines the contract between the orchestrator and an
// inference service. Adapters (openaicompat, anthropic) translate the
// protocol-agnostic Request and Response types to their wire formats so the
// engine never sees backend protocol details.
package provider
