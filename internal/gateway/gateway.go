// Package gateway adapts the supervisor control API for the HTTP layer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"procpanel/internal/models"
	"procpanel/internal/sandbox"
)

var (
	ErrNotReady   = errors.New("supervisor not ready")
	ErrValidation = errors.New("invalid request")
	ErrSandbox    = errors.New("access denied")
)

// State is the lifecycle of the supervisor connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	// StateLost means the connection dropped after startup. It is not
	// re-established automatically.
	StateLost
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateLost:
		return "lost"
	}
	return "unknown"
}

// Backend is the supervisor control connection.
type Backend interface {
	List(ctx context.Context) ([]models.Process, error)
	Start(ctx context.Context, spec models.StartSpec) ([]models.Process, error)
	Restart(ctx context.Context, target string) error
	Stop(ctx context.Context, target string) error
	Delete(ctx context.Context, target string) error
	Describe(ctx context.Context, target string) (models.ProcessDetail, error)
	// Done is closed when the connection is gone for good.
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens the backend connection.
type DialFunc func(ctx context.Context) (Backend, error)

// DefaultMaxInstances caps instances per start request when Options leaves
// it unset.
const DefaultMaxInstances = 16

// secretEnv names panel settings that are never handed to started processes.
var secretEnv = map[string]bool{
	"ADMIN_PASSWORD": true,
	"SESSION_SECRET": true,
}

type Options struct {
	MaxInstances int
}

// Gateway is a stateless pass-through to the supervisor once connected.
type Gateway struct {
	sandbox      *sandbox.Sandbox
	maxInstances int

	mu      sync.RWMutex
	state   State
	backend Backend
}

func New(sb *sandbox.Sandbox, opts Options) *Gateway {
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = DefaultMaxInstances
	}
	return &Gateway{sandbox: sb, maxInstances: opts.MaxInstances}
}

// Connect establishes the one control connection. It may succeed only once.
func (g *Gateway) Connect(ctx context.Context, dial DialFunc) error {
	g.mu.Lock()
	if g.state != StateDisconnected {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("connect called in state %s", state)
	}
	g.state = StateConnecting
	g.mu.Unlock()

	backend, err := dial(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.state = StateDisconnected
		return err
	}
	g.backend = backend
	g.state = StateReady

	go g.watch(backend)
	slog.Info("gateway: connected to supervisor")
	return nil
}

func (g *Gateway) watch(backend Backend) {
	<-backend.Done()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.backend == backend && g.state == StateReady {
		g.state = StateLost
		slog.Error("gateway: supervisor connection lost; operations will fail until restart")
	}
}

func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gateway) Ready() bool {
	return g.State() == StateReady
}

// Close releases the backend connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	backend := g.backend
	g.backend = nil
	g.state = StateDisconnected
	g.mu.Unlock()

	if backend == nil {
		return nil
	}
	return backend.Close()
}

func (g *Gateway) ready() (Backend, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state != StateReady || g.backend == nil {
		return nil, ErrNotReady
	}
	return g.backend, nil
}

// List queries the supervisor on every call.
func (g *Gateway) List(ctx context.Context) ([]models.Process, error) {
	backend, err := g.ready()
	if err != nil {
		return nil, err
	}
	processes, err := backend.List(ctx)
	if err != nil {
		return nil, err
	}
	if processes == nil {
		processes = []models.Process{}
	}
	return processes, nil
}

// StartResult identifies the first instance that was launched.
type StartResult struct {
	Pid int
	ID  int
}

// Start validates req, confines the script to the sandbox and launches it
// from the script's directory with this process's environment.
func (g *Gateway) Start(ctx context.Context, req models.StartRequest) (StartResult, error) {
	backend, err := g.ready()
	if err != nil {
		return StartResult{}, err
	}

	if strings.TrimSpace(req.Script) == "" || strings.TrimSpace(req.Name) == "" {
		return StartResult{}, fmt.Errorf("%w: script and name are required", ErrValidation)
	}
	if req.Instances == 0 {
		req.Instances = 1
	}
	if req.Instances < 1 {
		return StartResult{}, fmt.Errorf("%w: instances must be at least 1", ErrValidation)
	}
	if req.Instances > g.maxInstances {
		return StartResult{}, fmt.Errorf("%w: instances must be at most %d", ErrValidation, g.maxInstances)
	}
	switch req.ExecMode {
	case "":
		req.ExecMode = models.ExecModeFork
	case models.ExecModeFork, models.ExecModeCluster:
	default:
		return StartResult{}, fmt.Errorf("%w: exec_mode must be fork or cluster", ErrValidation)
	}

	script, err := g.ResolveScript(req.Script)
	if err != nil {
		return StartResult{}, err
	}

	spec := models.StartSpec{
		Script:    script,
		Name:      strings.TrimSpace(req.Name),
		Args:      req.Args,
		Instances: req.Instances,
		ExecMode:  req.ExecMode,
		Cwd:       filepath.Dir(script),
		Env:       childEnv(),
	}

	started, err := backend.Start(ctx, spec)
	if err != nil {
		return StartResult{}, err
	}
	if len(started) == 0 {
		return StartResult{}, errors.New("supervisor started no processes")
	}
	return StartResult{Pid: started[0].Pid, ID: started[0].ID}, nil
}

// ResolveScript maps a user-supplied script path to an existing regular file
// inside the sandbox.
func (g *Gateway) ResolveScript(rel string) (string, error) {
	script, err := g.sandbox.Resolve(rel)
	if err != nil {
		slog.Warn("gateway: script path rejected", "script", rel, "error", err)
		return "", fmt.Errorf("%w: %v", ErrSandbox, err)
	}
	info, err := os.Stat(script)
	if err != nil {
		slog.Warn("gateway: script not found", "script", rel, "error", err)
		return "", fmt.Errorf("%w: script does not exist", ErrSandbox)
	}
	if !info.Mode().IsRegular() {
		slog.Warn("gateway: script is not a file", "script", rel)
		return "", fmt.Errorf("%w: script is not a file", ErrSandbox)
	}
	return script, nil
}

func (g *Gateway) Restart(ctx context.Context, id string) error {
	return g.target(ctx, id, Backend.Restart)
}

func (g *Gateway) Stop(ctx context.Context, id string) error {
	return g.target(ctx, id, Backend.Stop)
}

func (g *Gateway) Delete(ctx context.Context, id string) error {
	return g.target(ctx, id, Backend.Delete)
}

func (g *Gateway) RestartAll(ctx context.Context) error {
	return g.target(ctx, models.TargetAll, Backend.Restart)
}

func (g *Gateway) StopAll(ctx context.Context) error {
	return g.target(ctx, models.TargetAll, Backend.Stop)
}

func (g *Gateway) target(ctx context.Context, id string, op func(Backend, context.Context, string) error) error {
	backend, err := g.ready()
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: process id is required", ErrValidation)
	}
	return op(backend, ctx, id)
}

// Describe returns process detail, or models.ErrProcessNotFound when the
// supervisor does not know id.
func (g *Gateway) Describe(ctx context.Context, id string) (models.ProcessDetail, error) {
	backend, err := g.ready()
	if err != nil {
		return models.ProcessDetail{}, err
	}
	if id == models.TargetAll {
		return models.ProcessDetail{}, fmt.Errorf("%w: %s", models.ErrProcessNotFound, id)
	}
	detail, err := backend.Describe(ctx, id)
	if err != nil {
		return models.ProcessDetail{}, err
	}
	if detail.Name == "" {
		return models.ProcessDetail{}, fmt.Errorf("%w: %s", models.ErrProcessNotFound, id)
	}
	return detail, nil
}

// childEnv is this process's environment minus the panel's own secrets.
func childEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if !secretEnv[key] {
			out = append(out, kv)
		}
	}
	return out
}
