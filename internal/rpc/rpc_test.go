package rpc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"procpanel/internal/models"
)

type fakeService struct {
	mu        sync.Mutex
	processes []models.Process
	stopped   []string
	block     chan struct{}
}

func (f *fakeService) List(ctx context.Context) ([]models.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Process(nil), f.processes...), nil
}

func (f *fakeService) Start(ctx context.Context, spec models.StartSpec) ([]models.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := models.Process{ID: len(f.processes), Name: spec.Name, Pid: 4242, Status: models.StatusOnline, Script: spec.Script}
	f.processes = append(f.processes, p)
	return []models.Process{p}, nil
}

func (f *fakeService) Restart(ctx context.Context, target string) error { return nil }

func (f *fakeService) Stop(ctx context.Context, target string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, target)
	return nil
}

func (f *fakeService) Delete(ctx context.Context, target string) error {
	return models.ErrProcessNotFound
}

func (f *fakeService) Describe(ctx context.Context, target string) (models.ProcessDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.processes {
		if p.Name == target {
			return models.ProcessDetail{Process: p, OutLogPath: "/tmp/out.log"}, nil
		}
	}
	return models.ProcessDetail{}, models.ErrProcessNotFound
}

func startServer(t *testing.T, svc Service) (*Server, string) {
	t.Helper()
	// Short directory: unix socket paths are length limited.
	dir, err := os.MkdirTemp("", "rpc")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "s.sock")
	ln, err := ListenUnix(path)
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(svc)
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, path
}

func dial(t *testing.T, path string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, "unix", path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRoundTrip(t *testing.T) {
	svc := &fakeService{}
	_, path := startServer(t, svc)
	c := dial(t, path)
	ctx := context.Background()

	started, err := c.Start(ctx, models.StartSpec{Script: "/srv/app.sh", Name: "app", Instances: 1})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if len(started) != 1 || started[0].Pid != 4242 {
		t.Fatalf("unexpected start result: %+v", started)
	}

	list, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].Name != "app" {
		t.Errorf("unexpected list: %+v", list)
	}

	detail, err := c.Describe(ctx, "app")
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if detail.OutLogPath != "/tmp/out.log" {
		t.Errorf("unexpected detail: %+v", detail)
	}

	if err := c.Stop(ctx, "app"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestClientMapsRemoteErrors(t *testing.T) {
	_, path := startServer(t, &fakeService{})
	c := dial(t, path)
	ctx := context.Background()

	if _, err := c.Describe(ctx, "ghost"); !errors.Is(err, models.ErrProcessNotFound) {
		t.Errorf("expected ErrProcessNotFound, got %v", err)
	}
	if err := c.Delete(ctx, "ghost"); !errors.Is(err, models.ErrProcessNotFound) {
		t.Errorf("expected ErrProcessNotFound, got %v", err)
	}
	if err := c.Stop(ctx, ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for empty target, got %v", err)
	}
	if err := c.call(ctx, "explode", nil, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for unknown method, got %v", err)
	}

	// The connection survives remote errors.
	if err := c.Ping(ctx); err != nil {
		t.Errorf("ping after errors failed: %v", err)
	}
}

func TestClientCancelledCallKeepsConnection(t *testing.T) {
	svc := &fakeService{block: make(chan struct{})}
	_, path := startServer(t, svc)
	c := dial(t, path)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Stop(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(svc.block)

	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("list after cancelled call failed: %v", err)
	}
	select {
	case <-c.Done():
		t.Fatal("connection should still be open")
	default:
	}
}

func TestClientDetectsLostConnection(t *testing.T) {
	srv, path := startServer(t, &fakeService{})
	c := dial(t, path)

	srv.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the closed connection")
	}

	if _, err := c.List(context.Background()); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost, got %v", err)
	}
}

func TestDialFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "unix", filepath.Join(t.TempDir(), "missing.sock")); err == nil {
		t.Fatal("expected dial error")
	}
}
