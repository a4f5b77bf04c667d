// Package ops exposes the store as a line-oriented JSON protocol so
// external agent harnesses can drive plans and progress without linking
// against this module. Each request line names an operation and its
// parameters; each response line carries either a result or a coded
// error the caller can branch on.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gangworks/strawboss/internal/driver"
	"github.com/gangworks/strawboss/internal/store"
)

// Error codes returned in Response.Error.Code.
const (
	CodeValidation        = "VALIDATION"
	CodeTaskNotFound      = "TASK_NOT_FOUND"
	CodeIllegalTransition = "ILLEGAL_TRANSITION"
	CodeCorruptedState    = "CORRUPTED_STATE"
	CodeNotFound          = "NOT_FOUND"
	CodeDispatchFailure   = "DISPATCH_FAILURE"
	CodeBadRequest        = "BAD_REQUEST"
	CodeInternal          = "INTERNAL"
)

// Request is one line of input: an operation name, its parameters, and
// an optional caller-chosen id echoed back on the response.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one line of output.
type Response struct {
	ID     string   `json:"id,omitempty"`
	OK     bool     `json:"ok"`
	Result any      `json:"result,omitempty"`
	Error  *OpError `json:"error,omitempty"`
}

// OpError is a machine-readable failure. Code is stable across
// releases; Message is for humans.
type OpError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Handler executes one operation.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Registry maps operation names to handlers.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces a handler.
func (r *Registry) Register(op string, h Handler) {
	r.handlers[op] = h
}

// Ops returns the registered operation names, sorted.
func (r *Registry) Ops() []string {
	names := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}

// Call dispatches a request to its handler and folds any failure into
// a coded error response.
func (r *Registry) Call(ctx context.Context, req Request) Response {
	h, ok := r.handlers[req.Op]
	if !ok {
		return Response{
			ID: req.ID,
			Error: &OpError{
				Code:    CodeBadRequest,
				Message: fmt.Sprintf("unknown op %q", req.Op),
				Details: map[string]any{"ops": r.Ops()},
			},
		}
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: classify(err)}
	}
	return Response{ID: req.ID, OK: true, Result: result}
}

// classify maps store and driver failures onto stable error codes.
// Anything unrecognized is INTERNAL.
func classify(err error) *OpError {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr
	}

	var verr *store.ValidationError
	if errors.As(err, &verr) {
		var details map[string]any
		if len(verr.Cycle) > 0 {
			details = map[string]any{"cycle": verr.Cycle}
		}
		return &OpError{Code: CodeValidation, Message: verr.Message, Details: details}
	}

	var tnf *store.TaskNotFoundError
	if errors.As(err, &tnf) {
		return &OpError{
			Code:    CodeTaskNotFound,
			Message: tnf.Error(),
			Details: map[string]any{"identity": tnf.Identity, "task_id": tnf.TaskID},
		}
	}

	var ill *store.IllegalTransitionError
	if errors.As(err, &ill) {
		return &OpError{
			Code:    CodeIllegalTransition,
			Message: ill.Error(),
			Details: map[string]any{
				"task_id": ill.TaskID,
				"from":    string(ill.From),
				"to":      string(ill.To),
			},
		}
	}

	var corr *store.CorruptedError
	if errors.As(err, &corr) {
		return &OpError{
			Code:    CodeCorruptedState,
			Message: corr.Error(),
			Details: map[string]any{"identity": corr.Identity, "path": corr.Path},
		}
	}

	if errors.Is(err, store.ErrNotFound) {
		return &OpError{Code: CodeNotFound, Message: err.Error()}
	}

	var disp *driver.DispatchError
	if errors.As(err, &disp) {
		return &OpError{
			Code:    CodeDispatchFailure,
			Message: disp.Error(),
			Details: map[string]any{"task_id": disp.TaskID, "agent": disp.Agent},
		}
	}

	return &OpError{Code: CodeInternal, Message: err.Error()}
}
