package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the system utility service providing health reports.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (repositories.HealthReport, error) {
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return repositories.HealthReport{}, err
	}

	if report.CheckedAt.IsZero() {
		report.CheckedAt = s.clock()
	}
	if report.Components == nil {
		report.Components = map[string]string{}
	}
	if version := strings.TrimSpace(s.build.Version); version != "" {
		report.Components["version"] = version
	}
	if env := strings.TrimSpace(s.build.Environment); env != "" {
		report.Components["environment"] = env
	}

	return report, nil
}
