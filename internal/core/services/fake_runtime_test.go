package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/ports"
)

var _ ports.ContainerRuntime = (*fakeRuntime)(nil)

var errBoom = errors.New("boom")

type fakeContainer struct {
	domain.RunningContainer
	running bool
}

// fakeRuntime is an in-memory container runtime. The fail* hooks inject
// errors per operation.
type fakeRuntime struct {
	mu         sync.Mutex
	nextID     int
	containers map[string]*fakeContainer
	networks   []string
	execOutput map[string]string // container ID or name -> log content
	calls      []string

	// allowConflicts lets containers share a name, which keeps tests on
	// narrow port ranges deterministic.
	allowConflicts bool

	failNetwork bool
	failRun     func(spec domain.ContainerSpec) bool
	failStop    func(c domain.RunningContainer) bool
	failRemove  func(c domain.RunningContainer) bool
	failRename  func(c domain.RunningContainer) bool
	failExec    func(c domain.RunningContainer) bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: map[string]*fakeContainer{},
		execOutput: map[string]string{},
	}
}

func (f *fakeRuntime) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeRuntime) CreateNetwork(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("network %s", name)
	if f.failNetwork {
		return "", &domain.RuntimeError{Op: "create network " + name, Err: errBoom}
	}
	f.networks = append(f.networks, name)
	return "net-" + name, nil
}

func (f *fakeRuntime) RunContainer(_ context.Context, spec domain.ContainerSpec) (domain.RunningContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("run %s", spec.Name)
	if f.failRun != nil && f.failRun(spec) {
		return domain.RunningContainer{}, &domain.RuntimeError{Op: "create container " + spec.Name, Err: errBoom}
	}
	for _, c := range f.containers {
		if c.Name == spec.Name && !f.allowConflicts {
			return domain.RunningContainer{}, &domain.RuntimeError{
				Op:  "create container " + spec.Name,
				Err: fmt.Errorf("conflict: name %s already in use", spec.Name),
			}
		}
	}
	f.nextID++
	c := domain.RunningContainer{ID: fmt.Sprintf("c%04d", f.nextID), ContainerSpec: spec}
	f.containers[c.ID] = &fakeContainer{RunningContainer: c, running: true}
	return c, nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, c domain.RunningContainer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", c.Name)
	if f.failStop != nil && f.failStop(c) {
		return &domain.RuntimeError{Op: "stop container " + c.Name, Err: errBoom}
	}
	// like the engine adapter, a container that is gone counts as stopped
	if fc, ok := f.containers[c.ID]; ok {
		fc.running = false
	}
	return nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, c domain.RunningContainer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove %s", c.Name)
	if f.failRemove != nil && f.failRemove(c) {
		return &domain.RuntimeError{Op: "remove container " + c.Name, Err: errBoom}
	}
	delete(f.containers, c.ID)
	return nil
}

func (f *fakeRuntime) RenameContainer(_ context.Context, c domain.RunningContainer, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rename %s %s", c.Name, newName)
	if f.failRename != nil && f.failRename(c) {
		return &domain.RuntimeError{Op: "rename container " + c.Name, Err: errBoom}
	}
	fc, ok := f.containers[c.ID]
	if !ok {
		return &domain.RuntimeError{Op: "rename container " + c.Name, Err: errors.New("no such container")}
	}
	for _, other := range f.containers {
		if other.ID != c.ID && other.Name == newName {
			return &domain.RuntimeError{Op: "rename container " + c.Name, Err: errors.New("conflict")}
		}
	}
	fc.Name = newName
	return nil
}

func (f *fakeRuntime) ExecCapture(_ context.Context, c domain.RunningContainer, cmd []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exec %s %v", c.Name, cmd)
	if f.failExec != nil && f.failExec(c) {
		return nil, &domain.RuntimeError{Op: "exec in container " + c.Name, Err: errBoom}
	}
	out, ok := f.execOutput[c.ID]
	if !ok {
		out = f.execOutput[c.Name]
	}
	return []byte(out), nil
}

func (f *fakeRuntime) ListRunning(_ context.Context) ([]domain.RunningContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	var list []domain.RunningContainer
	for _, c := range f.containers {
		if c.running {
			list = append(list, c.RunningContainer)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// running returns the names of all running containers, sorted.
func (f *fakeRuntime) running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.containers {
		if c.running {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// byName returns the container currently carrying name.
func (f *fakeRuntime) byName(name string) (domain.RunningContainer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.Name == name {
			return c.RunningContainer, true
		}
	}
	return domain.RunningContainer{}, false
}

// count returns how many recorded calls start with prefix.
func (f *fakeRuntime) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fixedCredentials struct {
	creds domain.Credentials
}

func (f fixedCredentials) Credentials() domain.Credentials { return f.creds }

// fakeRecorder counts what the services report.
type fakeRecorder struct {
	mu          sync.Mutex
	rotations   map[string][]bool
	recycles    []bool
	detections  map[string]int
	sweepErrors map[string]int
	production  int
	decoys      int
}

var _ ports.Recorder = (*fakeRecorder)(nil)

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		rotations:   map[string][]bool{},
		detections:  map[string]int{},
		sweepErrors: map[string]int{},
	}
}

func (r *fakeRecorder) RotationDone(service string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotations[service] = append(r.rotations[service], ok)
}

func (r *fakeRecorder) RecycleDone(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recycles = append(r.recycles, ok)
}

func (r *fakeRecorder) Detection(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detections[service]++
}

func (r *fakeRecorder) SweepError(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepErrors[service]++
}

func (r *fakeRecorder) FleetSize(production, decoys int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.production, r.decoys = production, decoys
}
