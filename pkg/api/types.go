package api

// Outcome is the terminal state recorded for an orchestration run or a
// batch entry.
type Outcome string

const (
	// OutcomeCompleted means the work finished normally.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFallback means retries were exhausted and a degraded value was used.
	OutcomeFallback Outcome = "fallback"
	// OutcomeAborted means a contract violation or cancellation stopped the work.
	OutcomeAborted Outcome = "aborted"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeFallback, OutcomeAborted:
		return true
	}
	return false
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage report.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
}

// AnswerRequest is the body of POST /v1/answers.
type AnswerRequest struct {
	Question string `json:"question"`
}

// AnswerResponse is returned by POST /v1/answers.
type AnswerResponse struct {
	RunID       string    `json:"run_id"`
	Status      Outcome   `json:"status"`
	Answer      string    `json:"answer"`
	Invocations int       `json:"invocations"`
	Usage       Usage     `json:"usage"`
	Error       *APIError `json:"error,omitempty"`
}
