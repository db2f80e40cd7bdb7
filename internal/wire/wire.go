// Package wire defines the JSON-RPC 2.0 messages exchanged between the
// discover client and the remote service, over HTTP and WebSocket.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the JSON-RPC protocol version.
const Version = "2.0"

// HeaderUser carries the caller's user ID. Authentication is handled upstream.
const HeaderUser = "X-Discover-User"

// RPC methods.
const (
	MethodQueryCandidates            = "queryCandidates"
	MethodSubmitSwipe                = "submitSwipe"
	MethodUndoSwipe                  = "undoSwipe"
	MethodGetReceivedEngagementCount = "getReceivedEngagementCount"
	MethodRecordActivity             = "recordActivity"

	MethodEngagementSubscribe    = "engagementSubscribe"
	MethodEngagementUnsubscribe  = "engagementUnsubscribe"
	MethodEngagementNotification = "engagementNotification"
)

// Error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeNotFound       = -32004
	CodeConflict       = -32009
)

// Request is a JSON-RPC 2.0 request. Params is a one-element array holding
// the method's parameter object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// NewError creates an Error with the given code.
func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is (or wraps) an RPC error with the given code.
func IsCode(err error, code int) bool {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == code
	}
	return false
}

// NewRequest builds a request whose params array holds the single value params.
func NewRequest(id uint64, method string, params interface{}) (*Request, error) {
	req := &Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal([]interface{}{params})
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

// DecodeParams unmarshals the single parameter object of a request into v.
func DecodeParams(req *Request, v interface{}) error {
	if len(req.Params) == 0 {
		return NewError(CodeInvalidParams, "missing params")
	}
	var params []json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(CodeInvalidParams, "params must be an array: %v", err)
	}
	if len(params) != 1 {
		return NewError(CodeInvalidParams, "expected 1 param, got %d", len(params))
	}
	if err := json.Unmarshal(params[0], v); err != nil {
		return NewError(CodeInvalidParams, "decode params: %v", err)
	}
	return nil
}

// NewResult builds a successful response for id.
func NewResult(id uint64, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id uint64, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}
