package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// DecoyManager creates and recycles the honeypot fleet.
type DecoyManager struct {
	runtime ports.ContainerRuntime
	creds   ports.CredentialSource
	rng     *rand.Rand
	log     *logrus.Entry
	now     func() time.Time
}

// NewDecoyManager creates a decoy manager launching containers on runtime
// with credentials drawn from creds.
func NewDecoyManager(runtime ports.ContainerRuntime, creds ports.CredentialSource, rng *rand.Rand, log *logrus.Entry) *DecoyManager {
	return &DecoyManager{
		runtime: runtime,
		creds:   creds,
		rng:     rng,
		log:     log.WithField("component", "decoys"),
		now:     time.Now,
	}
}

// CreateFleet launches a fresh set of decoys. The number of instances per
// template is drawn from [MinInstances, MaxInstances] on every call.
//
// If any launch fails, the decoys launched so far are torn down again and
// the error is returned.
func (m *DecoyManager) CreateFleet(ctx context.Context, templates []domain.DecoyTemplate) ([]domain.DecoyInstance, error) {
	fleet := []domain.DecoyInstance{}
	for _, tpl := range templates {
		count := randomCount(m.rng, tpl.MinInstances, tpl.MaxInstances)
		for i := 0; i < count; i++ {
			inst, err := m.launch(ctx, tpl)
			if err != nil {
				if terr := m.Teardown(context.WithoutCancel(ctx), fleet); terr != nil {
					m.log.Warnf("cleanup after failed decoy launch incomplete: %v", terr)
				}
				return nil, err
			}
			fleet = append(fleet, inst)
		}
	}
	return fleet, nil
}

func (m *DecoyManager) launch(ctx context.Context, tpl domain.DecoyTemplate) (domain.DecoyInstance, error) {
	port := randomPort(m.rng, tpl.PortRange)
	creds := m.creds.Credentials()

	containerPort := tpl.ContainerPort
	if containerPort == 0 {
		containerPort = port
	}

	spec := domain.ContainerSpec{
		Name:    decoyName(tpl.Name, port),
		Service: tpl.Name,
		Image:   tpl.Image,
		Ports: []domain.PortBinding{
			{ContainerPort: containerPort, Protocol: "tcp", HostPort: port},
		},
		Env:     renderEnvironment(tpl.Environment, creds),
		Volumes: tpl.Volumes,
	}

	c, err := m.runtime.RunContainer(ctx, spec)
	if err != nil {
		return domain.DecoyInstance{}, err
	}

	m.log.WithFields(logrus.Fields{
		"container": c.Name,
		"service":   tpl.Name,
		"port":      port,
	}).Info("decoy launched")

	return domain.DecoyInstance{
		Container:   c,
		Credentials: creds,
		Port:        port,
		ServiceName: tpl.Name,
		Monitoring:  tpl.Monitoring,
		LastCheck:   m.now(),
	}, nil
}

// RecycleFleet tears down current and creates a new fleet in its place.
// Should tearing down fail, current is returned as is together with the
// error, so callers keep their old decoys. Should only the re-creation fail,
// an empty fleet is returned together with the error.
func (m *DecoyManager) RecycleFleet(ctx context.Context, current []domain.DecoyInstance, templates []domain.DecoyTemplate) ([]domain.DecoyInstance, error) {
	for _, inst := range current {
		if err := m.destroy(ctx, inst.Container); err != nil {
			return current, err
		}
	}

	fleet, err := m.CreateFleet(ctx, templates)
	if err != nil {
		return []domain.DecoyInstance{}, err
	}
	return fleet, nil
}

// Teardown stops and removes every decoy of fleet. It keeps going after a
// failure and returns the first error encountered.
func (m *DecoyManager) Teardown(ctx context.Context, fleet []domain.DecoyInstance) error {
	var first error
	for _, inst := range fleet {
		if err := m.destroy(ctx, inst.Container); err != nil {
			m.log.Warnf("failed to tear down decoy %s: %v", inst.Container.Name, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *DecoyManager) destroy(ctx context.Context, c domain.RunningContainer) error {
	if err := m.runtime.StopContainer(ctx, c); err != nil {
		return err
	}
	return m.runtime.RemoveContainer(ctx, c)
}

// decoyName derives the container name from the template and port, so two
// decoys only collide when their ports do.
func decoyName(service string, port int) string {
	return fmt.Sprintf("%s_%d", service, port)
}

func renderEnvironment(env map[string]string, creds domain.Credentials) map[string]string {
	r := strings.NewReplacer("{username}", creds.Username, "{password}", creds.Password)
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = r.Replace(v)
	}
	return out
}
