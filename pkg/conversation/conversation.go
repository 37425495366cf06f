// Package conversation holds the append-only turn sequence of one
// orchestration run.
//
// A Conversation enforces its correlation invariant on every append: a tool
// result must answer exactly one pending invocation of the latest assistant
// turn, and no new assistant turn may start while invocations are pending.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

var (
	// ErrUncorrelatedResult is returned when a tool result names no pending invocation.
	ErrUncorrelatedResult = errors.New("conversation: tool result does not answer a pending invocation")

	// ErrPendingInvocations is returned when a model or user turn is appended
	// before every invocation of the previous assistant turn has a result.
	ErrPendingInvocations = errors.New("conversation: invocations still pending")

	// ErrInvalidInvocation is returned for an invocation without an ID or
	// with an ID another pending invocation already holds. IDs answered in
	// earlier turns may be reused.
	ErrInvalidInvocation = errors.New("conversation: invalid invocation request")
)

// Invocation is a capability invocation requested by the model.
type Invocation struct {
	ID         string          `json:"id"`
	DispatchID string          `json:"dispatch_id"`
	Arguments  json.RawMessage `json:"arguments"`
}

// Turn is one entry of the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Invocations is set on assistant turns that request capabilities.
	Invocations []Invocation `json:"invocations,omitempty"`

	// InvocationID and DispatchID are set on tool turns.
	InvocationID string `json:"invocation_id,omitempty"`
	DispatchID   string `json:"dispatch_id,omitempty"`

	// IsError marks a tool turn carrying an error payload.
	IsError bool `json:"is_error,omitempty"`
}

// Conversation is owned by a single run and is not safe for concurrent use.
type Conversation struct {
	turns   []Turn
	pending []string
}

// Example is a few-shot exchange placed between the system turn and the
// user turn.
type Example struct {
	User      string
	Assistant string
}

// New starts a conversation with an optional system turn, any few-shot
// examples, and the user turn.
func New(system, user string, examples ...Example) *Conversation {
	c := &Conversation{}
	if system != "" {
		c.turns = append(c.turns, Turn{Role: RoleSystem, Content: system})
	}
	for _, ex := range examples {
		c.turns = append(c.turns,
			Turn{Role: RoleUser, Content: ex.User},
			Turn{Role: RoleAssistant, Content: ex.Assistant},
		)
	}
	c.turns = append(c.turns, Turn{Role: RoleUser, Content: user})
	return c
}

// AppendUser adds a user turn.
func (c *Conversation) AppendUser(text string) error {
	if len(c.pending) > 0 {
		return ErrPendingInvocations
	}
	c.turns = append(c.turns, Turn{Role: RoleUser, Content: text})
	return nil
}

// AppendAssistant adds a model turn. Its invocations become pending.
func (c *Conversation) AppendAssistant(text string, invocations []Invocation) error {
	if len(c.pending) > 0 {
		return ErrPendingInvocations
	}
	seen := make(map[string]bool, len(invocations))
	for _, inv := range invocations {
		if inv.ID == "" {
			return fmt.Errorf("%w: empty id for %q", ErrInvalidInvocation, inv.DispatchID)
		}
		if seen[inv.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidInvocation, inv.ID)
		}
		seen[inv.ID] = true
	}

	turn := Turn{Role: RoleAssistant, Content: text}
	if len(invocations) > 0 {
		turn.Invocations = make([]Invocation, len(invocations))
		copy(turn.Invocations, invocations)
	}
	for _, inv := range invocations {
		c.pending = append(c.pending, inv.ID)
	}
	c.turns = append(c.turns, turn)
	return nil
}

// AppendToolResult adds the result for a pending invocation.
func (c *Conversation) AppendToolResult(invocationID, dispatchID, content string, isError bool) error {
	idx := -1
	for i, id := range c.pending {
		if id == invocationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUncorrelatedResult, invocationID)
	}
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	c.turns = append(c.turns, Turn{
		Role:         RoleTool,
		Content:      content,
		InvocationID: invocationID,
		DispatchID:   dispatchID,
		IsError:      isError,
	})
	return nil
}

// Pending returns the IDs of invocations still awaiting a result, in the
// order the model emitted them.
func (c *Conversation) Pending() []string {
	out := make([]string, len(c.pending))
	copy(out, c.pending)
	return out
}

// Turns returns a copy of the turns.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }

// Last returns the most recent turn.
func (c *Conversation) Last() Turn { return c.turns[len(c.turns)-1] }

// ToolResults returns the tool turns in append order.
func (c *Conversation) ToolResults() []Turn {
	var out []Turn
	for _, t := range c.turns {
		if t.Role == RoleTool {
			out = append(out, t)
		}
	}
	return out
}

// MarshalJSON encodes the turns as a JSON array.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.turns)
}
