package services

import (
	"context"

	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// PrepareImages builds the image of every template that declares a build
// source, each image at most once. Templates without one are left to the
// runtime, which pulls missing images on launch.
func PrepareImages(ctx context.Context, builder ports.BuilderService, services []domain.ServiceTemplate, decoys []domain.DecoyTemplate, log *logrus.Entry) error {
	type job struct {
		image string
		src   *domain.BuildSource
	}
	var jobs []job
	for _, s := range services {
		if s.Build != nil {
			jobs = append(jobs, job{s.Image, s.Build})
		}
	}
	for _, d := range decoys {
		if d.Build != nil {
			jobs = append(jobs, job{d.Image, d.Build})
		}
	}

	built := map[string]bool{}
	for _, j := range jobs {
		if built[j.image] {
			continue
		}
		log.WithFields(logrus.Fields{"image": j.image, "repo": j.src.RepoURL}).Info("building image")
		if _, err := builder.BuildImage(ctx, j.src.RepoURL, j.src.Dockerfile, j.image); err != nil {
			return err
		}
		built[j.image] = true
	}
	return nil
}
