package transport

import (
	"context"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/storage"
)

// Answerer answers one question. A run that ended in fallback or abort is
// still a response; the returned error is reserved for requests that never
// produced a run (invalid input, internal failures).
type Answerer interface {
	Answer(ctx context.Context, req *api.AnswerRequest) (*api.AnswerResponse, error)
}

// AnswererFunc is an adapter that allows using an ordinary function as an
// Answerer.
type AnswererFunc func(ctx context.Context, req *api.AnswerRequest) (*api.AnswerResponse, error)

// Answer calls f(ctx, req).
func (f AnswererFunc) Answer(ctx context.Context, req *api.AnswerRequest) (*api.AnswerResponse, error) {
	return f(ctx, req)
}

// RunReader is the read side of the ledger used by the run endpoints.
// storage.Ledger satisfies it.
type RunReader interface {
	Get(ctx context.Context, id string) (*storage.Record, error)
	List(ctx context.Context, f storage.Filter) ([]*storage.Record, error)
	Summary(ctx context.Context, batchID string) (*storage.Summary, error)
	HealthCheck(ctx context.Context) error
}

// RunList is one page of ledger records.
type RunList struct {
	Object  string            `json:"object"`
	Data    []*storage.Record `json:"data"`
	HasMore bool              `json:"has_more"`
	FirstID string            `json:"first_id,omitempty"`
	LastID  string            `json:"last_id,omitempty"`
}

// NewRunList builds a page from up to limit+1 records; the extra record
// only signals that another page exists.
func NewRunList(records []*storage.Record, limit int) *RunList {
	list := &RunList{Object: "list", Data: records}
	if limit > 0 && len(records) > limit {
		list.Data = records[:limit]
		list.HasMore = true
	}
	if list.Data == nil {
		list.Data = []*storage.Record{}
	}
	if n := len(list.Data); n > 0 {
		list.FirstID = list.Data[0].ID
		list.LastID = list.Data[n-1].ID
	}
	return list
}
