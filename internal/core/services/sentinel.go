package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// Sentinel watches decoy log files for successful logins.
type Sentinel struct {
	runtime  ports.ContainerRuntime
	recorder ports.Recorder
	log      *logrus.Entry
}

// NewSentinel creates a sentinel reading logs through runtime.
func NewSentinel(runtime ports.ContainerRuntime, recorder ports.Recorder, log *logrus.Entry) *Sentinel {
	if recorder == nil {
		recorder = ports.NopRecorder{}
	}
	return &Sentinel{
		runtime:  runtime,
		recorder: recorder,
		log:      log.WithField("component", "sentinel"),
	}
}

// CheckInstance reads the whole log file of inst and returns one event per
// match of its success pattern. A completed pass moves inst.LastCheck to
// now; a failed one leaves it alone so the decoy is retried.
func (s *Sentinel) CheckInstance(ctx context.Context, inst *domain.DecoyInstance, now time.Time) ([]domain.DetectionEvent, error) {
	mon := inst.Monitoring
	if !mon.Enabled() {
		return nil, nil
	}

	out, err := s.runtime.ExecCapture(ctx, inst.Container, []string{"tail", "-n", "+1", mon.LogFile})
	if err != nil {
		return nil, &domain.MonitoringError{Container: inst.Container.Name, Err: err}
	}

	var events []domain.DetectionEvent
	for _, m := range mon.SuccessPattern.FindAllStringSubmatch(string(out), -1) {
		if len(m) < 3 {
			continue
		}
		events = append(events, domain.DetectionEvent{
			ID:            uuid.NewString(),
			Time:          now,
			Container:     inst.Container.Name,
			ServiceName:   inst.ServiceName,
			Port:          inst.Port,
			ActorIdentity: m[1],
			Source:        m[2],
		})
	}

	if now.After(inst.LastCheck) {
		inst.LastCheck = now
	}
	return events, nil
}

// Sweep checks every decoy whose check interval has elapsed since its last
// check. Decoys without an interval are never checked. Failures are logged
// per decoy and do not stop the sweep.
func (s *Sentinel) Sweep(ctx context.Context, fleet []domain.DecoyInstance, now time.Time) []domain.DetectionEvent {
	var events []domain.DetectionEvent
	for i := range fleet {
		inst := &fleet[i]
		interval := inst.Monitoring.CheckInterval
		if interval <= 0 || now.Sub(inst.LastCheck) < interval {
			continue
		}

		found, err := s.CheckInstance(ctx, inst, now)
		if err != nil {
			s.log.WithField("service", inst.ServiceName).Warn(err)
			s.recorder.SweepError(inst.ServiceName)
			continue
		}
		events = append(events, found...)
	}
	return events
}
