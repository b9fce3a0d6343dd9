package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the tick period of the control loop.
const DefaultPollInterval = 10 * time.Second

// historySize bounds the number of detection events kept for readers.
const historySize = 256

// State of the control loop.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
)

// Settings are the timing and placement parameters of the control loop.
type Settings struct {
	Network            string
	ProductionInterval time.Duration
	RecycleInterval    time.Duration
	PollInterval       time.Duration
}

// Status summarizes the control loop for readers.
type Status struct {
	State        State     `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	LastRotation time.Time `json:"last_rotation"`
	LastRecycle  time.Time `json:"last_recycle"`
	Rotations    int       `json:"rotations"`
	Recycles     int       `json:"recycles"`
	Detections   int       `json:"detections"`
}

// OrchestratorOptions bundles everything an Orchestrator drives.
type OrchestratorOptions struct {
	Runtime   ports.ContainerRuntime
	Decoys    *DecoyManager
	Rotator   *Rotator
	Sentinel  *Sentinel
	Recorder  ports.Recorder
	Settings  Settings
	Services  []domain.ServiceTemplate
	Templates []domain.DecoyTemplate
	Log       *logrus.Entry
}

// Orchestrator owns the fleet and runs rotation, recycling and log sweeps
// on their own schedules from a single goroutine. Readers only ever see
// snapshots published between ticks.
type Orchestrator struct {
	runtime   ports.ContainerRuntime
	decoys    *DecoyManager
	rotator   *Rotator
	sentinel  *Sentinel
	recorder  ports.Recorder
	settings  Settings
	services  []domain.ServiceTemplate
	templates []domain.DecoyTemplate
	log       *logrus.Entry
	now       func() time.Time

	// owned by the loop goroutine
	fleet        domain.FleetState
	lastRotation time.Time
	lastRecycle  time.Time

	mu       sync.RWMutex
	status   Status
	snapshot domain.FleetState
	history  []domain.DetectionEvent
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Recorder == nil {
		opts.Recorder = ports.NopRecorder{}
	}
	if opts.Settings.PollInterval <= 0 {
		opts.Settings.PollInterval = DefaultPollInterval
	}
	return &Orchestrator{
		runtime:   opts.Runtime,
		decoys:    opts.Decoys,
		rotator:   opts.Rotator,
		sentinel:  opts.Sentinel,
		recorder:  opts.Recorder,
		settings:  opts.Settings,
		services:  opts.Services,
		templates: opts.Templates,
		log:       opts.Log.WithField("component", "orchestrator"),
		now:       time.Now,
		status:    Status{State: StateIdle},
	}
}

// Run starts the fleet and ticks until ctx is cancelled, then tears the
// fleet down. It only returns an error when the initial fleet cannot be
// created.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(o.settings.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.log.Info("Shutting down...")
			o.Shutdown(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			o.Tick(ctx, o.now())
		}
	}
}

// Start creates the network and the initial production and decoy fleets.
func (o *Orchestrator) Start(ctx context.Context) error {
	if _, err := o.runtime.CreateNetwork(ctx, o.settings.Network); err != nil {
		return fmt.Errorf("error creating network: %w", err)
	}

	production, err := o.rotator.Launch(ctx, o.services)
	if err != nil {
		o.stopAll(context.WithoutCancel(ctx), production)
		return fmt.Errorf("error creating main containers: %w", err)
	}

	decoys, err := o.decoys.CreateFleet(ctx, o.templates)
	if err != nil {
		o.stopAll(context.WithoutCancel(ctx), production)
		return fmt.Errorf("error creating dummy containers: %w", err)
	}

	now := o.now()
	o.fleet = domain.FleetState{Production: production, Decoys: decoys}
	o.lastRotation = now
	o.lastRecycle = now

	o.mu.Lock()
	o.status.State = StateRunning
	o.status.StartedAt = now
	o.status.LastRotation = now
	o.status.LastRecycle = now
	o.mu.Unlock()
	o.publish()

	o.log.WithFields(logrus.Fields{
		"production": len(production),
		"decoys":     len(decoys),
	}).Info("fleet started")
	return nil
}

// Tick runs whatever is due at now: endpoint rotation, decoy recycling and
// the log sweep, in this order. It returns the detections of the sweep.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) []domain.DetectionEvent {
	rotated, recycled := false, false

	if now.Sub(o.lastRotation) >= o.settings.ProductionInterval {
		o.fleet.Production = o.rotator.Rotate(ctx, o.fleet.Production, o.services)
		o.lastRotation = now
		rotated = true
	}

	if now.Sub(o.lastRecycle) >= o.settings.RecycleInterval {
		decoys, err := o.decoys.RecycleFleet(ctx, o.fleet.Decoys, o.templates)
		if err != nil {
			o.log.Errorf("error recycling dummy containers: %v", err)
		}
		o.recorder.RecycleDone(err == nil)
		o.fleet.Decoys = decoys
		o.lastRecycle = now
		recycled = true
	}

	events := o.sentinel.Sweep(ctx, o.fleet.Decoys, now)
	for _, ev := range events {
		o.log.WithFields(logrus.Fields{
			"container": ev.Container,
			"service":   ev.ServiceName,
			"port":      ev.Port,
			"username":  ev.ActorIdentity,
			"source":    ev.Source,
		}).Warnf("Successful login detected on dummy container %s", ev.Container)
		o.recorder.Detection(ev.ServiceName)
	}

	o.mu.Lock()
	if rotated {
		o.status.Rotations++
		o.status.LastRotation = now
	}
	if recycled {
		o.status.Recycles++
		o.status.LastRecycle = now
	}
	o.status.Detections += len(events)
	o.history = append(o.history, events...)
	if over := len(o.history) - historySize; over > 0 {
		o.history = append([]domain.DetectionEvent(nil), o.history[over:]...)
	}
	o.mu.Unlock()
	o.publish()

	return events
}

// Shutdown stops and removes every container the runtime lists as ours.
// It is terminal: the orchestrator cannot be restarted.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	o.status.State = StateShuttingDown
	o.mu.Unlock()

	running, err := o.runtime.ListRunning(ctx)
	if err != nil {
		o.log.Errorf("failed to list running containers: %v", err)
		running = append(append([]domain.RunningContainer{}, o.fleet.Production...), decoyContainers(o.fleet.Decoys)...)
	}
	o.stopAll(ctx, running)

	o.fleet = domain.FleetState{}
	o.publish()
}

func (o *Orchestrator) stopAll(ctx context.Context, containers []domain.RunningContainer) {
	for _, c := range containers {
		if err := o.runtime.StopContainer(ctx, c); err != nil {
			o.log.Errorf("failed to stop %s: %v", c.Name, err)
			continue
		}
		if err := o.runtime.RemoveContainer(ctx, c); err != nil {
			o.log.Errorf("failed to remove %s: %v", c.Name, err)
			continue
		}
		o.log.WithField("container", c.Name).Info("container stopped")
	}
}

func (o *Orchestrator) publish() {
	snap := o.fleet.Clone()
	o.recorder.FleetSize(len(snap.Production), len(snap.Decoys))
	o.mu.Lock()
	o.snapshot = snap
	o.mu.Unlock()
}

// Snapshot returns the fleet as of the end of the last tick.
func (o *Orchestrator) Snapshot() domain.FleetState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot.Clone()
}

// Detections returns the most recent detection events, oldest first.
func (o *Orchestrator) Detections() []domain.DetectionEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]domain.DetectionEvent(nil), o.history...)
}

// Status returns the current loop status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func decoyContainers(decoys []domain.DecoyInstance) []domain.RunningContainer {
	out := make([]domain.RunningContainer, 0, len(decoys))
	for _, d := range decoys {
		out = append(out, d.Container)
	}
	return out
}
