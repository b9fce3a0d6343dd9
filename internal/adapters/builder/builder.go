package builder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/go-git/go-git/v5"
	"github.com/melih/howls-moving-docker/internal/core/ports"
	"github.com/sirupsen/logrus"
)

var _ ports.BuilderService = (*Adapter)(nil)

type Adapter struct {
	cli *client.Client
	log *logrus.Entry
}

func NewBuilderAdapter(log *logrus.Entry) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, log: log.WithField("component", "builder")}, nil
}

// BuildImage clones a repo and builds a Docker image
func (a *Adapter) BuildImage(ctx context.Context, repoURL, dockerfile, imageName string) (string, error) {
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	// 1. Create temporary directory
	tmpDir, err := os.MkdirTemp("", "hmd-build-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir) // Clean up after build

	// 2. Clone Repository
	a.log.WithFields(logrus.Fields{"repo": repoURL, "dir": tmpDir}).Info("cloning")
	_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:   repoURL,
		Depth: 1, // Shallow clone for speed
	})
	if err != nil {
		return "", fmt.Errorf("failed to clone repo: %w", err)
	}

	// 3. Create Build Context (Tar)
	tar, err := archive.TarWithOptions(tmpDir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	// 4. Build Docker Image
	a.log.WithField("image", imageName).Info("building image")
	resp, err := a.cli.ImageBuild(ctx, tar, build.ImageBuildOptions{
		Tags:       []string{imageName},
		Dockerfile: dockerfile,
		Remove:     true, // Remove intermediate containers
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// The build finishes only once the body is drained; a failed step is
	// reported inside the stream, not as an HTTP error.
	if err := drainBuildOutput(resp.Body, a.log); err != nil {
		return "", fmt.Errorf("failed to build image %s: %w", imageName, err)
	}
	return imageName, nil
}

// buildMessage is one line of the JSON progress stream of an image build.
type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func drainBuildOutput(r io.Reader, log *logrus.Entry) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg buildMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			if msg.ErrorDetail.Message != "" {
				return errors.New(msg.ErrorDetail.Message)
			}
			return errors.New(msg.Error)
		}
		if msg.Stream != "" {
			log.Debug(msg.Stream)
		}
	}
	return scanner.Err()
}
