// Package rpc implements the supervisor control protocol: newline-delimited
// JSON requests and responses over a stream socket.
package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"procpanel/internal/models"
)

const (
	MethodPing     = "ping"
	MethodList     = "list"
	MethodStart    = "start"
	MethodRestart  = "restart"
	MethodStop     = "stop"
	MethodDelete   = "delete"
	MethodDescribe = "describe"
)

// Error codes carried in responses.
const (
	CodeNotFound = "not_found"
	CodeInvalid  = "invalid"
	CodeInternal = "internal"
)

var (
	ErrConnectionLost = errors.New("supervisor connection lost")
	ErrInvalid        = errors.New("invalid request")
)

// Service is the control API the supervisor exposes.
type Service interface {
	List(ctx context.Context) ([]models.Process, error)
	Start(ctx context.Context, spec models.StartSpec) ([]models.Process, error)
	Restart(ctx context.Context, target string) error
	Stop(ctx context.Context, target string) error
	Delete(ctx context.Context, target string) error
	Describe(ctx context.Context, target string) (models.ProcessDetail, error)
}

type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TargetParams struct {
	Target string `json:"target"`
}

// RemoteError is a failure reported by the supervisor.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return "supervisor: " + e.Message
}

func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == models.ErrProcessNotFound
	case CodeInvalid:
		return target == ErrInvalid
	}
	return false
}

func errorPayload(err error) *ErrorPayload {
	code := CodeInternal
	switch {
	case errors.Is(err, models.ErrProcessNotFound):
		code = CodeNotFound
	case errors.Is(err, ErrInvalid):
		code = CodeInvalid
	}
	return &ErrorPayload{Code: code, Message: err.Error()}
}
