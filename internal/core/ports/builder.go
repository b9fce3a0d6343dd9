package ports

import "context"

// BuilderService defines operations for building container images from source code.
type BuilderService interface {
	// BuildImage clones a repository and builds a Docker image from it,
	// using dockerfile relative to the repository root.
	// It returns the tag of the built image or an error.
	BuildImage(ctx context.Context, repoURL, dockerfile, imageName string) (string, error)
}
