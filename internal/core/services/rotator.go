package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// DefaultGracePeriod is how long a replacement container gets before the
// container it replaces is torn down.
const DefaultGracePeriod = 10 * time.Second

// Rotator launches the production services and moves their published
// ports around.
type Rotator struct {
	runtime   ports.ContainerRuntime
	rng       *rand.Rand
	portRange domain.PortRange
	network   string
	grace     time.Duration
	recorder  ports.Recorder
	log       *logrus.Entry
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRotator creates a rotator publishing ports from portRange and
// attaching containers to network.
func NewRotator(runtime ports.ContainerRuntime, rng *rand.Rand, portRange domain.PortRange, network string, grace time.Duration, recorder ports.Recorder, log *logrus.Entry) *Rotator {
	if recorder == nil {
		recorder = ports.NopRecorder{}
	}
	return &Rotator{
		runtime:   runtime,
		rng:       rng,
		portRange: portRange,
		network:   network,
		grace:     grace,
		recorder:  recorder,
		log:       log.WithField("component", "rotator"),
		sleep:     sleepContext,
	}
}

// Launch starts every production service under its logical name with
// freshly drawn host ports.
func (r *Rotator) Launch(ctx context.Context, templates []domain.ServiceTemplate) ([]domain.RunningContainer, error) {
	var containers []domain.RunningContainer
	for _, tpl := range templates {
		c, err := r.runtime.RunContainer(ctx, domain.ContainerSpec{
			Name:    tpl.Name,
			Service: tpl.Name,
			Image:   tpl.Image,
			Ports:   r.drawBindings(tpl.Ports),
			Env:     tpl.Environment,
			Volumes: tpl.Volumes,
			Network: r.network,
		})
		if err != nil {
			return containers, err
		}
		r.log.WithFields(logrus.Fields{
			"container": c.Name,
			"ports":     c.HostPorts(),
		}).Info("production service launched")
		containers = append(containers, c)
	}
	return containers, nil
}

// Rotate hands every container of current over to a replacement with new
// host ports. A failure only affects the container it happened on; the
// remaining containers are still rotated. The returned list holds whichever
// container ended up serving each service.
func (r *Rotator) Rotate(ctx context.Context, current []domain.RunningContainer, templates []domain.ServiceTemplate) []domain.RunningContainer {
	byName := make(map[string]domain.ServiceTemplate, len(templates))
	for _, tpl := range templates {
		byName[tpl.Name] = tpl
	}

	result := make([]domain.RunningContainer, 0, len(current))
	for _, old := range current {
		log := r.log.WithField("service", old.Service)

		tpl, ok := byName[old.Service]
		if !ok {
			log.Errorf("no service template for container %s", old.Name)
			r.recorder.RotationDone(old.Service, false)
			result = append(result, old)
			continue
		}

		next, err := r.handoff(ctx, old, tpl)
		if err != nil {
			log.Errorf("error updating main container ports: %v", err)
		} else {
			log.WithFields(logrus.Fields{
				"old_ports": old.HostPorts(),
				"new_ports": next.HostPorts(),
			}).Info("production service rotated")
		}
		r.recorder.RotationDone(old.Service, err == nil)
		result = append(result, next)
	}
	return result
}

// handoff replaces old and returns the container now serving the service.
// On error the returned container is still the one serving it.
func (r *Rotator) handoff(ctx context.Context, old domain.RunningContainer, tpl domain.ServiceTemplate) (domain.RunningContainer, error) {
	spec := old.ContainerSpec
	spec.Name = temporaryName(old.Service)
	spec.Ports = r.drawBindings(tpl.Ports)

	next, err := r.runtime.RunContainer(ctx, spec)
	if err != nil {
		return old, err
	}

	// Blind wait, there is no readiness check.
	if err := r.sleep(ctx, r.grace); err != nil {
		r.discard(ctx, next)
		return old, fmt.Errorf("handoff of %s interrupted: %w", old.Name, err)
	}

	if err := r.runtime.StopContainer(ctx, old); err != nil {
		r.discard(ctx, next)
		return old, err
	}
	if err := r.runtime.RemoveContainer(ctx, old); err != nil {
		// The old container is stopped but still holds the name; keep the
		// replacement rather than leaving the service down.
		return next, err
	}

	if err := r.runtime.RenameContainer(ctx, next, old.Service); err != nil {
		return next, err
	}
	next.Name = old.Service
	return next, nil
}

// discard tears down a replacement that will not take over.
func (r *Rotator) discard(ctx context.Context, c domain.RunningContainer) {
	ctx = context.WithoutCancel(ctx)
	if err := r.runtime.StopContainer(ctx, c); err != nil {
		r.log.Warnf("failed to stop replacement %s: %v", c.Name, err)
		return
	}
	if err := r.runtime.RemoveContainer(ctx, c); err != nil {
		r.log.Warnf("failed to remove replacement %s: %v", c.Name, err)
	}
}

func (r *Rotator) drawBindings(containerPorts []int) []domain.PortBinding {
	bindings := make([]domain.PortBinding, 0, len(containerPorts))
	for _, p := range containerPorts {
		bindings = append(bindings, domain.PortBinding{
			ContainerPort: p,
			Protocol:      "tcp",
			HostPort:      randomPort(r.rng, r.portRange),
		})
	}
	return bindings
}

// temporaryName is the name a replacement runs under until it takes over
// the logical name.
func temporaryName(service string) string {
	return fmt.Sprintf("%s_new_%s", service, uuid.NewString()[:8])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
