// Package gatewaytest provides an in-memory supervisor for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"procpanel/internal/gateway"
	"procpanel/internal/models"
)

// Backend records calls and keeps a process table in memory. Log files are
// placed under LogDir but never created.
type Backend struct {
	LogDir string

	mu        sync.Mutex
	processes map[int]*models.ProcessDetail
	nextID    int
	starts    []models.StartSpec
	calls     []string
	failWith  error
	done      chan struct{}
	closeOnce sync.Once
}

var _ gateway.Backend = (*Backend)(nil)

func New(logDir string) *Backend {
	return &Backend{
		LogDir:    logDir,
		processes: make(map[int]*models.ProcessDetail),
		done:      make(chan struct{}),
	}
}

// Dial returns a gateway.DialFunc that hands out b.
func (b *Backend) Dial() gateway.DialFunc {
	return func(ctx context.Context) (gateway.Backend, error) {
		return b, nil
	}
}

// FailWith makes every mutating call return err.
func (b *Backend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}

// Drop simulates the connection going away.
func (b *Backend) Drop() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Backend) Starts() []models.StartSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.StartSpec(nil), b.starts...)
}

func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *Backend) List(ctx context.Context) ([]models.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "list")

	ids := make([]int, 0, len(b.processes))
	for id := range b.processes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	result := make([]models.Process, 0, len(ids))
	for _, id := range ids {
		p := b.processes[id].Process
		if p.Status == models.StatusOnline {
			// Live metrics move between calls.
			p.CPU = float64(time.Now().UnixNano()%100) / 10
		}
		result = append(result, p)
	}
	return result, nil
}

func (b *Backend) Start(ctx context.Context, spec models.StartSpec) ([]models.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "start")
	if b.failWith != nil {
		return nil, b.failWith
	}
	b.starts = append(b.starts, spec)

	var started []models.Process
	for i := 0; i < spec.Instances; i++ {
		id := b.nextID
		b.nextID++
		detail := &models.ProcessDetail{
			Process: models.Process{
				ID:        id,
				Name:      spec.Name,
				Pid:       1000 + id,
				Status:    models.StatusOnline,
				Script:    spec.Script,
				Uptime:    time.Now().UnixMilli(),
				ExecMode:  spec.ExecMode,
				Instances: spec.Instances,
			},
			Args:       spec.Args,
			Cwd:        spec.Cwd,
			OutLogPath: filepath.Join(b.LogDir, fmt.Sprintf("%s-out-%d.log", spec.Name, id)),
			ErrLogPath: filepath.Join(b.LogDir, fmt.Sprintf("%s-err-%d.log", spec.Name, id)),
		}
		b.processes[id] = detail
		started = append(started, detail.Process)
	}
	return started, nil
}

func (b *Backend) Restart(ctx context.Context, target string) error {
	return b.mutate("restart", target, func(p *models.ProcessDetail) {
		p.Status = models.StatusOnline
		p.Pid += 100
		p.Restarts++
	})
}

func (b *Backend) Stop(ctx context.Context, target string) error {
	return b.mutate("stop", target, func(p *models.ProcessDetail) {
		p.Status = models.StatusStopped
		p.Pid = 0
		p.Uptime = 0
	})
}

func (b *Backend) Delete(ctx context.Context, target string) error {
	return b.mutate("delete", target, func(p *models.ProcessDetail) {
		delete(b.processes, p.ID)
	})
}

func (b *Backend) Describe(ctx context.Context, target string) (models.ProcessDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "describe")

	targets, err := b.resolveLocked(target)
	if err != nil {
		return models.ProcessDetail{}, err
	}
	if len(targets) == 0 {
		return models.ProcessDetail{}, nil
	}
	return *targets[0], nil
}

func (b *Backend) Done() <-chan struct{} {
	return b.done
}

func (b *Backend) Close() error {
	b.Drop()
	return nil
}

func (b *Backend) mutate(call, target string, fn func(*models.ProcessDetail)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call+" "+target)
	if b.failWith != nil {
		return b.failWith
	}

	targets, err := b.resolveLocked(target)
	if err != nil {
		return err
	}
	for _, p := range targets {
		fn(p)
	}
	return nil
}

func (b *Backend) resolveLocked(target string) ([]*models.ProcessDetail, error) {
	var matches []*models.ProcessDetail
	if target == models.TargetAll {
		for _, p := range b.processes {
			matches = append(matches, p)
		}
		return matches, nil
	}
	if id, err := strconv.Atoi(target); err == nil {
		if p, ok := b.processes[id]; ok {
			matches = append(matches, p)
		}
	} else {
		for _, p := range b.processes {
			if p.Name == target {
				matches = append(matches, p)
			}
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrProcessNotFound, target)
	}
	return matches, nil
}
