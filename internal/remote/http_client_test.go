package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
	"discover-engine/internal/wire"
)

func decodeParams(t *testing.T, r *http.Request, v interface{}) *wire.Request {
	t.Helper()
	var req wire.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if v != nil {
		if err := wire.DecodeParams(&req, v); err != nil {
			t.Fatalf("decode params: %v", err)
		}
	}
	return &req
}

func writeResult(w http.ResponseWriter, id uint64, result interface{}) {
	resp, _ := wire.NewResult(id, result)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestHTTPClient_QueryCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params wire.QueryCandidatesParams
		req := decodeParams(t, r, &params)

		if req.Method != wire.MethodQueryCandidates {
			t.Errorf("expected method %s, got %s", wire.MethodQueryCandidates, req.Method)
		}
		if got := r.Header.Get(wire.HeaderUser); got != "viewer" {
			t.Errorf("expected user header viewer, got %q", got)
		}
		if params.Cursor != "abc" {
			t.Errorf("expected cursor abc, got %q", params.Cursor)
		}
		if params.Limit != 2 {
			t.Errorf("expected limit 2, got %d", params.Limit)
		}
		if params.Fragment.MaxDistanceKm == nil || *params.Fragment.MaxDistanceKm != 25 {
			t.Errorf("expected distance 25, got %v", params.Fragment.MaxDistanceKm)
		}

		writeResult(w, req.ID, wire.QueryCandidatesResult{
			Candidates: []wire.Candidate{
				{ID: "p1", DisplayName: "Ana", Age: 25, Gender: "female", Intent: "dating", IsVerified: true},
				{ID: "p2", DisplayName: "Ben", Age: 31, Gender: "male", Intent: "friendship"},
			},
			NextCursor: "def",
			HasMore:    true,
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithUser("viewer"))
	ctx := context.Background()

	distance := 25
	page, err := client.QueryCandidates(ctx, filter.QueryFragment{MaxDistanceKm: &distance}, "abc", 2)
	if err != nil {
		t.Fatalf("QueryCandidates: %v", err)
	}

	if len(page.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(page.Candidates))
	}
	if page.Candidates[0].ID != "p1" || page.Candidates[0].Gender != domain.GenderFemale {
		t.Errorf("unexpected first candidate: %+v", page.Candidates[0])
	}
	if !page.Candidates[0].IsVerified {
		t.Error("expected first candidate verified")
	}
	if page.NextCursor != "def" || !page.HasMore {
		t.Errorf("unexpected paging: cursor=%q hasMore=%v", page.NextCursor, page.HasMore)
	}
}

func TestHTTPClient_SubmitSwipe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params wire.SubmitSwipeParams
		req := decodeParams(t, r, &params)

		if req.Method != wire.MethodSubmitSwipe {
			t.Errorf("expected method %s, got %s", wire.MethodSubmitSwipe, req.Method)
		}
		if params.SwipeID != "s1" || params.CandidateID != "p1" || params.Decision != "superlike" {
			t.Errorf("unexpected params: %+v", params)
		}
		writeResult(w, req.ID, wire.AckResult{OK: true})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	err := client.SubmitSwipe(context.Background(), domain.SwipeRequest{
		SwipeID:     "s1",
		CandidateID: "p1",
		Decision:    domain.DecisionSuperlike,
		CreatedAt:   1700000000000,
	})
	if err != nil {
		t.Fatalf("SubmitSwipe: %v", err)
	}
}

func TestHTTPClient_GetReceivedEngagementCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params wire.CountParams
		req := decodeParams(t, r, &params)
		if params.UserID != "u1" {
			t.Errorf("expected user u1, got %q", params.UserID)
		}
		writeResult(w, req.ID, wire.CountResult{Count: 7})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	count, err := client.GetReceivedEngagementCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetReceivedEngagementCount: %v", err)
	}
	if count != 7 {
		t.Errorf("expected 7, got %d", count)
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		req := decodeParams(t, r, nil)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeNotFound, "swipe not found")))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	err := client.UndoSwipe(context.Background(), "missing", "p1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !wire.IsCode(err, wire.CodeNotFound) {
		t.Errorf("expected not found code, got %v", err)
	}
	// RPC errors are not retried
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		req := decodeParams(t, r, nil)
		if count < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeResult(w, req.ID, wire.CountResult{Count: 1})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	count, err := client.GetReceivedEngagementCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetReceivedEngagementCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1, got %d", count)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RateLimit(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		req := decodeParams(t, r, nil)
		if count == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeResult(w, req.ID, wire.AckResult{OK: true})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(10*time.Millisecond))
	if err := client.UndoSwipe(context.Background(), "s1", "p1"); err != nil {
		t.Fatalf("UndoSwipe: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RecordActivityNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(time.Millisecond),
	)

	err := client.RecordActivity(context.Background(), domain.ActivityDailyLogin, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestHTTPClient_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(10),
		WithRetryDelay(100*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetReceivedEngagementCount(ctx, "u1")
	if err == nil {
		t.Fatal("expected error on context cancel")
	}
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)

	_, err := client.QueryCandidates(context.Background(), filter.QueryFragment{}, "", 20)
	if err == nil {
		t.Fatal("expected error after max retries")
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts.Load())
	}
}
