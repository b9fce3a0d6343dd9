package ports

import (
	"context"

	"github.com/melih/howls-moving-docker/internal/core/domain"
)

// ContainerRuntime defines the container operations the orchestrator needs.
// Implementations return every failure as a *domain.RuntimeError wrapping
// the underlying API error.
type ContainerRuntime interface {
	CreateNetwork(ctx context.Context, name string) (string, error)
	// RunContainer creates and starts a detached container exactly as
	// described by spec.
	RunContainer(ctx context.Context, spec domain.ContainerSpec) (domain.RunningContainer, error)
	StopContainer(ctx context.Context, c domain.RunningContainer) error
	RemoveContainer(ctx context.Context, c domain.RunningContainer) error
	RenameContainer(ctx context.Context, c domain.RunningContainer, newName string) error
	// ExecCapture runs a one-shot command inside the container and returns
	// its combined stdout and stderr.
	ExecCapture(ctx context.Context, c domain.RunningContainer, cmd []string) ([]byte, error)
	ListRunning(ctx context.Context) ([]domain.RunningContainer, error)
}
