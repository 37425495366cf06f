package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/storage"
	"github.com/maia-bench/maia/pkg/storage/memory"
	"github.com/maia-bench/maia/pkg/transport"
)

func staticAnswerer(resp *api.AnswerResponse, err error) transport.Answerer {
	return transport.AnswererFunc(func(context.Context, *api.AnswerRequest) (*api.AnswerResponse, error) {
		return resp, err
	})
}

// seedLedger stores n completed records of one batch, oldest first.
func seedLedger(t *testing.T, n int) (*memory.Store, string, []string) {
	t.Helper()
	ledger := memory.New(0)
	batchID := api.NewBatchID()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < n; i++ {
		rec := &storage.Record{
			ID:        api.NewRunID(),
			BatchID:   batchID,
			Pipeline:  "rewrite",
			Index:     i,
			Status:    api.OutcomeCompleted,
			Attempts:  1,
			Usage:     api.Usage{TotalTokens: 10},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if i == n-1 {
			rec.Status = api.OutcomeFallback
		}
		if err := ledger.Record(context.Background(), rec); err != nil {
			t.Fatalf("seeding ledger: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	return ledger, batchID, ids
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *api.APIError {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v (%s)", err, rec.Body.String())
	}
	return resp.Error
}

func TestPostAnswer(t *testing.T) {
	var got *api.AnswerRequest
	answerer := transport.AnswererFunc(func(ctx context.Context, req *api.AnswerRequest) (*api.AnswerResponse, error) {
		got = req
		if transport.RequestIDFromContext(ctx) != "req-from-client" {
			t.Errorf("request id = %q", transport.RequestIDFromContext(ctx))
		}
		return &api.AnswerResponse{RunID: api.NewRunID(), Status: api.OutcomeCompleted, Answer: "TP53"}, nil
	})
	h := NewAdapter(answerer, nil, nil, DefaultConfig()).Handler()

	rec := do(t, h, http.MethodPost, "/v1/answers", `{"question":"Which gene encodes p53?"}`,
		"Content-Type", "application/json; charset=utf-8", "X-Request-ID", "req-from-client")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") != "req-from-client" {
		t.Errorf("X-Request-ID = %q", rec.Header().Get("X-Request-ID"))
	}
	if got == nil || got.Question != "Which gene encodes p53?" {
		t.Errorf("answerer got %+v", got)
	}
	var resp api.AnswerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "TP53" || resp.Status != api.OutcomeCompleted {
		t.Errorf("resp = %+v", resp)
	}
}

func TestPostAnswerDegradedRunIs200(t *testing.T) {
	h := NewAdapter(staticAnswerer(&api.AnswerResponse{
		RunID:  api.NewRunID(),
		Status: api.OutcomeFallback,
		Error:  api.NewModelError("upstream unavailable"),
	}, nil), nil, nil, DefaultConfig()).Handler()

	rec := do(t, h, http.MethodPost, "/v1/answers", `{"question":"q"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"fallback"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPostAnswerErrors(t *testing.T) {
	tests := []struct {
		name       string
		answerer   transport.Answerer
		body       string
		headers    []string
		wantStatus int
		wantType   api.ErrorType
	}{
		{
			name:       "wrong content type",
			body:       `{"question":"q"}`,
			headers:    []string{"Content-Type", "text/plain"},
			wantStatus: http.StatusUnsupportedMediaType,
			wantType:   api.ErrorTypeInvalidRequest,
		},
		{
			name:       "malformed json",
			body:       `{"question":`,
			wantStatus: http.StatusBadRequest,
			wantType:   api.ErrorTypeInvalidRequest,
		},
		{
			name:       "unknown field",
			body:       `{"question":"q","model":"gpt"}`,
			wantStatus: http.StatusBadRequest,
			wantType:   api.ErrorTypeInvalidRequest,
		},
		{
			name:       "body too large",
			body:       `{"question":"` + strings.Repeat("a", 2048) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   api.ErrorTypeInvalidRequest,
		},
		{
			name:       "answerer rejects",
			answerer:   staticAnswerer(nil, api.NewInvalidRequestError("question", "question is required")),
			body:       `{"question":""}`,
			wantStatus: http.StatusBadRequest,
			wantType:   api.ErrorTypeInvalidRequest,
		},
		{
			name:       "answerer fails",
			answerer:   staticAnswerer(nil, errors.New("ledger exploded")),
			body:       `{"question":"q"}`,
			wantStatus: http.StatusInternalServerError,
			wantType:   api.ErrorTypeServerError,
		},
		{
			name: "answerer panics",
			answerer: transport.AnswererFunc(func(context.Context, *api.AnswerRequest) (*api.AnswerResponse, error) {
				panic("nil map")
			}),
			body:       `{"question":"q"}`,
			wantStatus: http.StatusInternalServerError,
			wantType:   api.ErrorTypeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answerer := tt.answerer
			if answerer == nil {
				answerer = staticAnswerer(&api.AnswerResponse{}, nil)
			}
			h := NewAdapter(answerer, nil, nil, Config{MaxBodySize: 1024}, transport.Recovery()).Handler()

			rec := do(t, h, http.MethodPost, "/v1/answers", tt.body, tt.headers...)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if e := decodeError(t, rec); e.Type != tt.wantType {
				t.Errorf("error type = %q, want %q", e.Type, tt.wantType)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("expected a generated X-Request-ID")
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	ledger, _, ids := seedLedger(t, 2)
	h := NewAdapter(staticAnswerer(nil, nil), ledger, nil, DefaultConfig()).Handler()

	rec := do(t, h, http.MethodGet, "/v1/runs/"+ids[0], "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got storage.Record
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != ids[0] || got.Pipeline != "rewrite" {
		t.Errorf("record = %+v", got)
	}

	if rec := do(t, h, http.MethodGet, "/v1/runs/"+api.NewRunID(), ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown run: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/runs/not-a-run", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d", rec.Code)
	}
}

func TestRunEndpointsWithoutLedger(t *testing.T) {
	h := NewAdapter(staticAnswerer(nil, nil), nil, nil, DefaultConfig()).Handler()
	for _, target := range []string{"/v1/runs/" + api.NewRunID(), "/v1/runs", "/v1/batches/" + api.NewBatchID()} {
		if rec := do(t, h, http.MethodGet, target, ""); rec.Code != http.StatusNotImplemented {
			t.Errorf("%s: status = %d, want 501", target, rec.Code)
		}
	}
}

func TestListRuns(t *testing.T) {
	ledger, batchID, ids := seedLedger(t, 5)
	h := NewAdapter(staticAnswerer(nil, nil), ledger, nil, DefaultConfig()).Handler()

	list := func(t *testing.T, query string) transport.RunList {
		t.Helper()
		rec := do(t, h, http.MethodGet, "/v1/runs"+query, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var l transport.RunList
		if err := json.NewDecoder(rec.Body).Decode(&l); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return l
	}

	first := list(t, "?batch_id="+batchID+"&limit=2")
	if len(first.Data) != 2 || !first.HasMore || first.FirstID != ids[0] || first.LastID != ids[1] {
		t.Fatalf("first page = %+v", first)
	}
	second := list(t, "?batch_id="+batchID+"&limit=2&after="+first.LastID)
	if second.FirstID != ids[2] || !second.HasMore {
		t.Errorf("second page = %+v", second)
	}
	last := list(t, "?limit=2&after="+ids[3])
	if len(last.Data) != 1 || last.HasMore {
		t.Errorf("last page = %+v", last)
	}

	fallback := list(t, "?status=fallback")
	if len(fallback.Data) != 1 || fallback.Data[0].ID != ids[4] {
		t.Errorf("status filter = %+v", fallback)
	}
	if none := list(t, "?pipeline=qagen"); len(none.Data) != 0 || none.Object != "list" {
		t.Errorf("pipeline filter = %+v", none)
	}

	for _, q := range []string{"?limit=0", "?limit=101", "?limit=x", "?status=done", "?after=bogus"} {
		if rec := do(t, h, http.MethodGet, "/v1/runs"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestCancelRun(t *testing.T) {
	ledger, _, ids := seedLedger(t, 1)
	inflight := transport.NewInFlightRegistry()
	h := NewAdapter(staticAnswerer(nil, nil), ledger, inflight, DefaultConfig()).Handler()

	running := api.NewRunID()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inflight.Register(running, cancel)

	if rec := do(t, h, http.MethodDelete, "/v1/runs/"+running, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("in-flight cancel: status = %d", rec.Code)
	}
	if ctx.Err() == nil {
		t.Error("run context was not cancelled")
	}

	rec := do(t, h, http.MethodDelete, "/v1/runs/"+ids[0], "")
	if rec.Code != http.StatusConflict {
		t.Errorf("finished run: status = %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/v1/runs/"+running, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second cancel: status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/v1/runs/nope", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed: status = %d, want 400", rec.Code)
	}
}

func TestBatchSummary(t *testing.T) {
	ledger, batchID, _ := seedLedger(t, 3)
	h := NewAdapter(staticAnswerer(nil, nil), ledger, nil, DefaultConfig()).Handler()

	rec := do(t, h, http.MethodGet, "/v1/batches/"+batchID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var sum storage.Summary
	if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Total != 3 || sum.Completed != 2 || sum.Fallback != 1 || sum.Usage.TotalTokens != 30 {
		t.Errorf("summary = %+v", sum)
	}

	if rec := do(t, h, http.MethodGet, "/v1/batches/"+api.NewBatchID(), ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown batch: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/batches/"+api.NewRunID(), ""); rec.Code != http.StatusBadRequest {
		t.Errorf("run id as batch id: status = %d", rec.Code)
	}
}

// sickLedger fails its health check.
type sickLedger struct{ *memory.Store }

func (sickLedger) HealthCheck(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoints(t *testing.T) {
	healthy := NewAdapter(staticAnswerer(nil, nil), memory.New(0), nil, DefaultConfig()).Handler()
	sick := NewAdapter(staticAnswerer(nil, nil), sickLedger{memory.New(0)}, nil, DefaultConfig()).Handler()

	if rec := do(t, healthy, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := do(t, healthy, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	if rec := do(t, sick, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("sick healthz = %d, want 200", rec.Code)
	}
	rec := do(t, sick, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("sick readyz = %d: %s", rec.Code, rec.Body.String())
	}
}
