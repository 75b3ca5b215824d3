// Package supervisor runs and tracks processes on behalf of the control API.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"procpanel/internal/config"
	"procpanel/internal/models"
	"procpanel/internal/rpc"
)

// interpreters maps script extensions to the program that runs them.
// Anything else is executed directly.
var interpreters = map[string]string{
	".sh":   "sh",
	".bash": "bash",
	".py":   "python3",
	".js":   "node",
	".rb":   "ruby",
}

type Options struct {
	LogDir              string
	Store               *Store
	StopTimeout         time.Duration
	RestartDelay        time.Duration
	MinUptime           time.Duration
	MaxUnstableRestarts int
}

func (o *Options) setDefaults() {
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = time.Second
	}
	if o.MinUptime <= 0 {
		o.MinUptime = time.Second
	}
	if o.MaxUnstableRestarts <= 0 {
		o.MaxUnstableRestarts = 15
	}
}

type process struct {
	id       int
	instance int
	spec     models.StartSpec

	status    string
	cmd       *exec.Cmd
	pid       int
	startTime time.Time
	restarts  int
	unstable  int
	stopping  bool
	exited    chan struct{}
	retry     *time.Timer
}

// Manager owns every supervised process. It implements rpc.Service.
type Manager struct {
	mu        sync.RWMutex
	processes map[int]*process
	nextID    int
	opts      Options
}

var _ rpc.Service = (*Manager)(nil)

func NewManager(opts Options) (*Manager, error) {
	opts.setDefaults()
	if opts.LogDir == "" {
		return nil, errors.New("log directory is required")
	}
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Manager{
		processes: make(map[int]*process),
		opts:      opts,
	}, nil
}

// Resurrect restores the persisted process table and relaunches whatever was
// running when the supervisor last exited.
func (m *Manager) Resurrect() error {
	records, err := m.opts.Store.load()
	if err != nil {
		return fmt.Errorf("load process table: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		p := &process{id: rec.ID, instance: rec.Instance, spec: rec.Spec, status: models.StatusStopped}
		m.processes[p.id] = p
		if p.id >= m.nextID {
			m.nextID = p.id + 1
		}
		if rec.Running {
			if err := m.launchLocked(p); err != nil {
				slog.Warn("supervisor: resurrect failed", "id", p.id, "name", p.spec.Name, "error", err)
			}
		}
	}
	slog.Info("supervisor: process table restored", "count", len(records))
	return nil
}

// LoadApps registers ecosystem apps that are not already known by name.
func (m *Manager) LoadApps(apps []config.AppConfig) error {
	for _, app := range apps {
		if m.hasName(app.Name) {
			continue
		}

		script, err := filepath.Abs(app.Script)
		if err != nil {
			return err
		}
		cwd := app.Cwd
		if cwd == "" {
			cwd = filepath.Dir(script)
		}
		env := os.Environ()
		for k, v := range app.Environment {
			env = append(env, k+"="+v)
		}
		spec := models.StartSpec{
			Script:    script,
			Name:      app.Name,
			Args:      app.Args,
			Instances: app.Instances,
			ExecMode:  app.ExecMode,
			Cwd:       cwd,
			Env:       env,
		}
		if err := validateSpec(&spec); err != nil {
			return fmt.Errorf("app %s: %w", app.Name, err)
		}

		m.mu.Lock()
		_, err = m.addLocked(spec, app.AutoStart)
		m.mu.Unlock()
		if err != nil {
			slog.Error("supervisor: failed to auto-start app", "name", app.Name, "error", err)
		}
	}
	return nil
}

func (m *Manager) List(ctx context.Context) ([]models.Process, error) {
	m.mu.RLock()
	result := make([]models.Process, 0, len(m.processes))
	for _, p := range m.sortedLocked() {
		result = append(result, p.descriptor())
	}
	m.mu.RUnlock()

	for i := range result {
		if result[i].Status == models.StatusOnline {
			result[i].Memory, result[i].CPU = sampleUsage(result[i].Pid)
		}
	}
	return result, nil
}

func (m *Manager) Start(ctx context.Context, spec models.StartSpec) ([]models.Process, error) {
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(spec, true)
}

func (m *Manager) Restart(ctx context.Context, target string) error {
	targets, err := m.resolve(target)
	if err != nil {
		return err
	}
	for _, p := range targets {
		if err := m.restart(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) Stop(ctx context.Context, target string) error {
	targets, err := m.resolve(target)
	if err != nil {
		return err
	}
	for _, p := range targets {
		m.stop(p, true)
	}
	return nil
}

func (m *Manager) Delete(ctx context.Context, target string) error {
	targets, err := m.resolve(target)
	if err != nil {
		return err
	}
	for _, p := range targets {
		m.stop(p, false)

		m.mu.Lock()
		delete(m.processes, p.id)
		m.mu.Unlock()

		if err := m.opts.Store.delete(p.id); err != nil {
			slog.Warn("supervisor: failed to drop persisted process", "id", p.id, "error", err)
		}
		slog.Info("supervisor: process deleted", "id", p.id, "name", p.spec.Name)
	}
	return nil
}

func (m *Manager) Describe(ctx context.Context, target string) (models.ProcessDetail, error) {
	targets, err := m.resolve(target)
	if err != nil {
		return models.ProcessDetail{}, err
	}
	if len(targets) == 0 {
		return models.ProcessDetail{}, fmt.Errorf("%w: %s", models.ErrProcessNotFound, target)
	}

	p := targets[0]
	m.mu.RLock()
	detail := models.ProcessDetail{
		Process:    p.descriptor(),
		Args:       p.spec.Args,
		Cwd:        p.spec.Cwd,
		OutLogPath: m.logPath(p, "out"),
		ErrLogPath: m.logPath(p, "err"),
	}
	m.mu.RUnlock()

	if detail.Status == models.StatusOnline {
		detail.Memory, detail.CPU = sampleUsage(detail.Pid)
	}
	return detail, nil
}

// Shutdown stops every process but leaves the persisted table untouched so
// the next Resurrect brings them back.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	all := m.sortedLocked()
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.stop(p, false)
		}()
	}
	wg.Wait()
}

func (m *Manager) addLocked(spec models.StartSpec, launch bool) ([]models.Process, error) {
	started := make([]models.Process, 0, spec.Instances)
	for i := 0; i < spec.Instances; i++ {
		p := &process{id: m.nextID, instance: i, spec: spec, status: models.StatusStopped}
		m.nextID++
		m.processes[p.id] = p

		if launch {
			if err := m.launchLocked(p); err != nil {
				m.persistLocked(p, false)
				return started, err
			}
		}
		m.persistLocked(p, launch)
		started = append(started, p.descriptor())
	}
	return started, nil
}

func (m *Manager) restart(p *process) error {
	m.stop(p, false)

	m.mu.Lock()
	if m.processes[p.id] != p {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", models.ErrProcessNotFound, p.id)
	}
	p.restarts++
	p.unstable = 0
	err := m.launchLocked(p)
	m.mu.Unlock()

	m.persist(p, err == nil)
	return err
}

// stop terminates p and waits for it to exit, killing it after StopTimeout.
func (m *Manager) stop(p *process, persist bool) {
	m.mu.Lock()
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.stopping = true
	cmd, exited := p.cmd, p.exited
	if cmd == nil {
		if p.status != models.StatusErrored {
			p.status = models.StatusStopped
		}
		m.mu.Unlock()
		if persist {
			m.persist(p, false)
		}
		return
	}
	p.status = models.StatusStopping
	pid := p.pid
	m.mu.Unlock()

	slog.Info("supervisor: stopping process", "id", p.id, "name", p.spec.Name, "pid", pid)
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		slog.Warn("supervisor: failed to signal process", "id", p.id, "error", err)
	}

	select {
	case <-exited:
	case <-time.After(m.opts.StopTimeout):
		slog.Warn("supervisor: process did not stop in time, killing", "id", p.id, "name", p.spec.Name)
		signalGroup(pid, syscall.SIGKILL)
		<-exited
	}

	if persist {
		m.persist(p, false)
	}
}

func (m *Manager) launchLocked(p *process) error {
	outFile, err := openLog(m.logPath(p, "out"))
	if err != nil {
		p.status = models.StatusErrored
		return err
	}
	errFile, err := openLog(m.logPath(p, "err"))
	if err != nil {
		outFile.Close()
		p.status = models.StatusErrored
		return err
	}

	cmd := commandFor(p.spec)
	cmd.Dir = p.spec.Cwd
	env := p.spec.Env
	if len(env) == 0 {
		env = os.Environ()
	}
	cmd.Env = append(append([]string(nil), env...),
		"PM_ID="+strconv.Itoa(p.id),
		"NAME="+p.spec.Name,
		"EXEC_MODE="+p.spec.ExecMode,
		"INSTANCE_ID="+strconv.Itoa(p.instance),
	)
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p.status = models.StatusLaunching
	if err := cmd.Start(); err != nil {
		outFile.Close()
		errFile.Close()
		p.status = models.StatusErrored
		p.pid = 0
		slog.Error("supervisor: failed to start process", "id", p.id, "name", p.spec.Name, "error", err)
		return fmt.Errorf("start %s: %w", p.spec.Name, err)
	}

	exited := make(chan struct{})
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startTime = time.Now()
	p.status = models.StatusOnline
	p.stopping = false
	p.exited = exited

	slog.Info("supervisor: process started", "id", p.id, "name", p.spec.Name, "pid", p.pid)

	go m.monitor(p, cmd, exited, outFile, errFile)
	return nil
}

func (m *Manager) monitor(p *process, cmd *exec.Cmd, exited chan struct{}, outFile, errFile *os.File) {
	waitErr := cmd.Wait()
	outFile.Close()
	errFile.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(exited)

	if p.cmd != cmd {
		return
	}
	uptime := time.Since(p.startTime)
	p.cmd = nil
	p.pid = 0

	if p.stopping {
		p.status = models.StatusStopped
		slog.Info("supervisor: process stopped", "id", p.id, "name", p.spec.Name)
		return
	}
	if m.processes[p.id] != p {
		return
	}

	if waitErr != nil {
		slog.Warn("supervisor: process exited with error", "id", p.id, "name", p.spec.Name, "error", waitErr)
	} else {
		slog.Info("supervisor: process exited", "id", p.id, "name", p.spec.Name)
	}

	if uptime < m.opts.MinUptime {
		p.unstable++
	} else {
		p.unstable = 0
	}
	if p.unstable > m.opts.MaxUnstableRestarts {
		p.status = models.StatusErrored
		slog.Error("supervisor: too many unstable restarts, giving up", "id", p.id, "name", p.spec.Name)
		return
	}

	p.status = models.StatusLaunching
	p.restarts++
	p.retry = time.AfterFunc(m.opts.RestartDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if p.retry == nil || p.stopping || p.cmd != nil || m.processes[p.id] != p {
			return
		}
		p.retry = nil
		m.launchLocked(p)
	})
}

func (m *Manager) resolve(target string) ([]*process, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if target == models.TargetAll {
		return m.sortedLocked(), nil
	}

	var matches []*process
	if id, err := strconv.Atoi(target); err == nil {
		if p, ok := m.processes[id]; ok {
			matches = append(matches, p)
		}
	} else {
		for _, p := range m.sortedLocked() {
			if p.spec.Name == target {
				matches = append(matches, p)
			}
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrProcessNotFound, target)
	}
	return matches, nil
}

func (m *Manager) hasName(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.processes {
		if p.spec.Name == name {
			return true
		}
	}
	return false
}

func (m *Manager) sortedLocked() []*process {
	all := make([]*process, 0, len(m.processes))
	for _, p := range m.processes {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	return all
}

func (m *Manager) persist(p *process, running bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.persistLocked(p, running)
}

func (m *Manager) persistLocked(p *process, running bool) {
	if m.processes[p.id] != p {
		return
	}
	rec := record{ID: p.id, Instance: p.instance, Spec: p.spec, Running: running}
	if err := m.opts.Store.save(rec); err != nil {
		slog.Warn("supervisor: failed to persist process", "id", p.id, "error", err)
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (m *Manager) logPath(p *process, stream string) string {
	name := unsafeName.ReplaceAllString(p.spec.Name, "_")
	return filepath.Join(m.opts.LogDir, fmt.Sprintf("%s-%s-%d.log", name, stream, p.id))
}

func (p *process) descriptor() models.Process {
	d := models.Process{
		ID:        p.id,
		Name:      p.spec.Name,
		Pid:       p.pid,
		Status:    p.status,
		Script:    p.spec.Script,
		ExecMode:  p.spec.ExecMode,
		Instances: p.spec.Instances,
		Restarts:  p.restarts,
	}
	if p.status == models.StatusOnline && !p.startTime.IsZero() {
		d.Uptime = p.startTime.UnixMilli()
	}
	return d
}

func validateSpec(spec *models.StartSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: name is required", rpc.ErrInvalid)
	}
	if strings.TrimSpace(spec.Script) == "" {
		return fmt.Errorf("%w: script is required", rpc.ErrInvalid)
	}
	if !filepath.IsAbs(spec.Script) {
		return fmt.Errorf("%w: script must be an absolute path", rpc.ErrInvalid)
	}
	if spec.Instances == 0 {
		spec.Instances = 1
	}
	if spec.Instances < 0 {
		return fmt.Errorf("%w: instances must be at least 1", rpc.ErrInvalid)
	}
	switch spec.ExecMode {
	case "":
		spec.ExecMode = models.ExecModeFork
	case models.ExecModeFork, models.ExecModeCluster:
	default:
		return fmt.Errorf("%w: unknown exec_mode %q", rpc.ErrInvalid, spec.ExecMode)
	}
	if spec.Cwd == "" {
		spec.Cwd = filepath.Dir(spec.Script)
	}
	return nil
}

func commandFor(spec models.StartSpec) *exec.Cmd {
	if interp, ok := interpreters[strings.ToLower(filepath.Ext(spec.Script))]; ok {
		return exec.Command(interp, append([]string{spec.Script}, spec.Args...)...)
	}
	return exec.Command(spec.Script, spec.Args...)
}

func openLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// signalGroup signals the process group led by pid so children go too.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	return nil
}
