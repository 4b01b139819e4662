// Package errors defines the error taxonomy used across cruxe: a closed set
// of tool-facing error codes carried inside successful JSON-RPC responses,
// and a StateError wrapping lower-layer failures (sqlite, text index, vcs,
// io) that get mapped to internal_error at the tool boundary.
package errors

import (
	"database/sql"
	"errors"
	"fmt"
)

// Code is the closed tool error code set from the protocol contract.
type Code string

const (
	CodeInvalidInput           Code = "invalid_input"
	CodeProjectNotFound        Code = "project_not_found"
	CodeWorkspaceNotRegistered Code = "workspace_not_registered"
	CodeWorkspaceNotAllowed    Code = "workspace_not_allowed"
	CodeWorkspaceLimitExceeded Code = "workspace_limit_exceeded"
	CodeFileNotFound           Code = "file_not_found"
	CodeSymbolNotFound         Code = "symbol_not_found"
	CodeResultNotFound         Code = "result_not_found"
	CodeRefNotIndexed          Code = "ref_not_indexed"
	CodeOverlayNotReady        Code = "overlay_not_ready"
	CodeNoEdgesAvailable       Code = "no_edges_available"
	CodeIndexStale             Code = "index_stale"
	CodeIndexIncompatible      Code = "index_incompatible"
	CodeIndexInProgress        Code = "index_in_progress"
	CodeInvalidStrategy        Code = "invalid_strategy"
	CodeInvalidMaxTokens       Code = "invalid_max_tokens"
	CodeInternalError          Code = "internal_error"
)

// ToolError is the error payload returned inside a successful JSON-RPC
// tools/call response body, never as a transport-level JSON-RPC error.
type ToolError struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a ToolError with no data payload.
func New(code Code, message string) *ToolError {
	return &ToolError{Code: code, Message: message}
}

// Newf builds a ToolError with a formatted message.
func Newf(code Code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches remediation/context data to a ToolError and returns it,
// for chained construction at call sites.
func (e *ToolError) WithData(data map[string]any) *ToolError {
	e.Data = data
	return e
}

// AsToolError unwraps err looking for a *ToolError; if none is found it is
// mapped to CodeInternalError, matching the "StateError -> internal_error"
// propagation rule.
func AsToolError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return New(CodeInternalError, err.Error())
}

// StateError wraps a failure originating below the tool boundary, tagging
// its origin subsystem the way the protocol's StateError kind does
// (sqlite, tantivy/textindex, vcs, io).
type StateError struct {
	Origin string
	Op     string
	Err    error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Origin, e.Op, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

func Wrap(origin, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StateError{Origin: origin, Op: op, Err: err}
}

// Sentinel causes, used by internal/storage for not-found/conflict
// classification.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// WrapDB converts sql.ErrNoRows to ErrNotFound and tags the failure as a
// sqlite-origin StateError.
func WrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Wrap("sqlite", op, ErrNotFound)
	}
	return Wrap("sqlite", op, err)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
