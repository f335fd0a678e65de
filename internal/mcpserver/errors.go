// Package mcpserver exposes the indexing engine and query engine as a
// Model Context Protocol server: one tool per remote-tool verb, plus
// per-root resource URIs for status and branch introspection.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/llmtornado/fskb/internal/apperrors"
)

// Custom MCP error codes, namespaced below the JSON-RPC reserved range.
const (
	ErrCodeIndexNotFound   = -32001
	ErrCodeEmbeddingFailed = -32002
	ErrCodeTimeout         = -32003
	ErrCodeFileNotFound    = -32004
	ErrCodeFileTooLarge    = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	ErrRootNotFound     = errors.New("root not tracked")
	ErrToolNotFound     = errors.New("tool not found")
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError is a JSON-RPC error: code plus human-readable message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// MapError converts a domain error into an MCPError, preferring the
// structured IndexerError category/code mapping when present.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var ie *apperrors.IndexerError
	if errors.As(err, &ie) {
		return mapIndexerError(ie)
	}

	switch {
	case errors.Is(err, ErrRootNotFound):
		return &MCPError{Code: ErrCodeIndexNotFound, Message: "root is not indexed. Call add_root first."}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "tool not found."}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "resource not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "internal server error."}
	}
}

// NewInvalidParamsError creates an invalid-params error with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("tool %q not found.", name)}
}

// NewResourceNotFoundError creates an error for an unknown resource URI.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("resource %q not found.", uri)}
}

// mapIndexerError maps an apperrors.IndexerError onto an MCP error code
// by category, narrowing a few IO codes to more specific MCP codes.
func mapIndexerError(ie *apperrors.IndexerError) *MCPError {
	message := ie.Message
	if ie.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ie.Message, ie.Suggestion)
	}

	switch ie.Category {
	case apperrors.CategoryConfig:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	case apperrors.CategoryIO:
		switch ie.Code {
		case apperrors.ErrCodeFileNotFound:
			return &MCPError{Code: ErrCodeFileNotFound, Message: message}
		case apperrors.ErrCodeFileTooLarge:
			return &MCPError{Code: ErrCodeFileTooLarge, Message: message}
		case apperrors.ErrCodeCorruptIndex:
			return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: message}
		}
	case apperrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case apperrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
