package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"discover-engine/internal/domain"
	"discover-engine/internal/observability"
	"discover-engine/internal/storage"
	"discover-engine/internal/wire"
)

// maxBodyBytes bounds a JSON-RPC request body.
const maxBodyBytes = 1 << 20

// RPCHandler serves JSON-RPC 2.0 requests over HTTP POST.
// The caller is identified by the wire.HeaderUser header.
type RPCHandler struct {
	service *Service
}

// NewRPCHandler creates an RPCHandler.
func NewRPCHandler(service *Service) *RPCHandler {
	return &RPCHandler{service: service}
}

// ServeHTTP decodes one request, dispatches it and writes the response.
// RPC-level failures are reported in the JSON-RPC error object with status 200.
func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var req wire.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, wire.NewErrorResponse(0, wire.NewError(wire.CodeParseError, "parse request: %v", err)))
		return
	}

	start := time.Now()
	resp := h.dispatch(r.Context(), r.Header.Get(wire.HeaderUser), &req)
	status := "ok"
	if resp.Error != nil {
		status = "error"
	}
	observability.RecordBackendRequest(req.Method, status, time.Since(start).Seconds())

	writeResponse(w, resp)
}

func (h *RPCHandler) dispatch(ctx context.Context, viewer string, req *wire.Request) *wire.Response {
	if req.JSONRPC != wire.Version {
		return wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeInvalidRequest, "unsupported jsonrpc version %q", req.JSONRPC))
	}
	if viewer == "" {
		return wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeInvalidRequest, "missing %s header", wire.HeaderUser))
	}

	result, err := h.call(ctx, viewer, req)
	if err != nil {
		return wire.NewErrorResponse(req.ID, toRPCError(err))
	}

	resp, err := wire.NewResult(req.ID, result)
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeInternal, "%v", err))
	}
	return resp
}

func (h *RPCHandler) call(ctx context.Context, viewer string, req *wire.Request) (any, error) {
	switch req.Method {
	case wire.MethodQueryCandidates:
		var p wire.QueryCandidatesParams
		if err := wire.DecodeParams(req, &p); err != nil {
			return nil, err
		}
		page, err := h.service.QueryCandidates(ctx, viewer, p.Fragment, p.Cursor, p.Limit)
		if err != nil {
			return nil, err
		}
		result := wire.QueryCandidatesResult{
			Candidates: make([]wire.Candidate, 0, len(page.Candidates)),
			NextCursor: page.NextCursor,
			HasMore:    page.HasMore,
		}
		for _, c := range page.Candidates {
			result.Candidates = append(result.Candidates, wire.CandidateFromDomain(c))
		}
		return result, nil

	case wire.MethodSubmitSwipe:
		var p wire.SubmitSwipeParams
		if err := wire.DecodeParams(req, &p); err != nil {
			return nil, err
		}
		err := h.service.SubmitSwipe(ctx, viewer, domain.SwipeRequest{
			SwipeID:     p.SwipeID,
			CandidateID: p.CandidateID,
			Decision:    domain.Decision(p.Decision),
			CreatedAt:   p.CreatedAt,
		})
		if err != nil {
			return nil, err
		}
		return wire.AckResult{OK: true}, nil

	case wire.MethodUndoSwipe:
		var p wire.UndoSwipeParams
		if err := wire.DecodeParams(req, &p); err != nil {
			return nil, err
		}
		if err := h.service.UndoSwipe(ctx, viewer, p.SwipeID); err != nil {
			return nil, err
		}
		return wire.AckResult{OK: true}, nil

	case wire.MethodGetReceivedEngagementCount:
		var p wire.CountParams
		if err := wire.DecodeParams(req, &p); err != nil {
			return nil, err
		}
		count, err := h.service.ReceivedEngagementCount(ctx, viewer, p.UserID)
		if err != nil {
			return nil, err
		}
		return wire.CountResult{Count: count}, nil

	case wire.MethodRecordActivity:
		var p wire.RecordActivityParams
		if err := wire.DecodeParams(req, &p); err != nil {
			return nil, err
		}
		if err := h.service.RecordActivity(ctx, viewer, domain.ActivityType(p.Activity), p.Metadata); err != nil {
			return nil, err
		}
		return wire.AckResult{OK: true}, nil

	default:
		return nil, wire.NewError(wire.CodeMethodNotFound, "method %q not found", req.Method)
	}
}

// toRPCError maps service and storage errors to JSON-RPC error codes.
func toRPCError(err error) *wire.Error {
	var rpcErr *wire.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	code := wire.CodeInternal
	switch {
	case errors.Is(err, ErrInvalidCursor),
		errors.Is(err, ErrInvalidDecision),
		errors.Is(err, ErrInvalidActivity),
		errors.Is(err, ErrSelfSwipe),
		errors.Is(err, storage.ErrInvalidInput):
		code = wire.CodeInvalidParams
	case errors.Is(err, ErrUnknownCandidate),
		errors.Is(err, storage.ErrNotFound):
		code = wire.CodeNotFound
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrAlreadySwiped):
		code = wire.CodeConflict
	case errors.Is(err, ErrForbidden):
		code = wire.CodeInvalidRequest
	}
	return wire.NewError(code, "%v", err)
}

func writeResponse(w http.ResponseWriter, resp *wire.Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
