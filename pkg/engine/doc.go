// Package engine implements the conversation orchestrator: it drives one
// multi-turn exchange with the inference service, dispatching the
// capability invocations the model requests until a final text answer is
// produced.
//
// Every blocking call (the model and each capability) runs through the
// retry executor. Dependencies are passed explicitly, so independent runs
// may share one Engine, Registry and Table concurrently.
package engine
