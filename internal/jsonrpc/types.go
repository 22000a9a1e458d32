// Package jsonrpc holds the JSON-RPC 1.0 envelope spoken by bitcoind and by
// this node's own RPC server, plus an HTTP client for it.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Standard and application error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeMisc           = -1

	ErrCodeInvalidAddress    = -5
	ErrCodeInsufficientFunds = -6
	ErrCodeNotConnected      = -9
)

// Request is a JSON-RPC request.
type Request struct {
	JSONRPC string            `json:"jsonrpc,omitempty"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// NewError builds an *Error with a formatted message.
func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
