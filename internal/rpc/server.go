package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"procpanel/internal/models"
)

const maxMessageSize = 4 << 20

// Server accepts control connections and dispatches requests to a Service.
type Server struct {
	svc Service

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewServer(svc Service) *Server {
	return &Server{
		svc:   svc,
		conns: make(map[net.Conn]struct{}),
	}
}

// ListenUnix removes a stale socket file and listens on path.
func ListenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Serve handles connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	slog.Debug("rpc: client connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	encoder := json.NewEncoder(conn)

	var (
		writeMu  sync.Mutex
		inflight sync.WaitGroup
	)
	write := func(resp Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := encoder.Encode(resp); err != nil {
			slog.Warn("rpc: write response failed", "id", resp.ID, "error", err)
		}
	}
	defer inflight.Wait()

	// Requests run concurrently; the service serializes its own mutations.
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			slog.Warn("rpc: malformed request", "error", err)
			write(Response{Error: &ErrorPayload{Code: CodeInvalid, Message: "malformed request"}})
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			write(s.dispatch(ctx, req))
		}()
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("rpc: read failed", "error", err)
	}
	slog.Debug("rpc: client disconnected")
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	result, err := s.call(ctx, req)
	if err != nil {
		slog.Debug("rpc: request failed", "method", req.Method, "error", err)
		return Response{ID: req.ID, Error: errorPayload(err)}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: errorPayload(err)}
	}
	return Response{ID: req.ID, Result: raw}
}

func (s *Server) call(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodPing:
		return "pong", nil
	case MethodList:
		return s.svc.List(ctx)
	case MethodStart:
		var spec models.StartSpec
		if err := decodeParams(req.Params, &spec); err != nil {
			return nil, err
		}
		return s.svc.Start(ctx, spec)
	case MethodRestart, MethodStop, MethodDelete, MethodDescribe:
		var params TargetParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		if params.Target == "" {
			return nil, fmt.Errorf("%w: target is required", ErrInvalid)
		}
		switch req.Method {
		case MethodRestart:
			return true, s.svc.Restart(ctx, params.Target)
		case MethodStop:
			return true, s.svc.Stop(ctx, params.Target)
		case MethodDelete:
			return true, s.svc.Delete(ctx, params.Target)
		default:
			return s.svc.Describe(ctx, params.Target)
		}
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalid, req.Method)
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing params", ErrInvalid)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
