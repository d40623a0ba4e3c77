package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/repositories"
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
	// CacheTTL reuses a collected report for load balancer probes arriving in bursts. Zero disables it.
	CacheTTL time.Duration
}

type systemService struct {
	healthRepo repositories.HealthRepository
	now        func() time.Time
	build      BuildInfo
	cacheTTL   time.Duration

	mu       sync.Mutex
	cached   SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the readiness reporter over the dependency checks.
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
		now:        func() time.Time { return clock().UTC() },
		build:      build,
		cacheTTL:   deps.CacheTTL,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	now := s.now()
	if report, ok := s.fromCache(now); ok {
		return report, nil
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	report.Version = firstNonBlank(report.Version, s.build.Version)
	report.CommitSHA = firstNonBlank(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonBlank(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = overallStatus(report.Checks)
	}

	s.store(report, now)
	return report, nil
}

// Ready reports whether every required dependency answered. Degraded optional dependencies keep
// the instance in rotation.
func (s *systemService) Ready(ctx context.Context) (SystemHealthReport, bool, error) {
	report, err := s.HealthReport(ctx)
	if err != nil {
		return SystemHealthReport{}, false, err
	}
	return report, report.Status != domain.HealthStatusError, nil
}

func (s *systemService) fromCache(now time.Time) (SystemHealthReport, bool) {
	if s.cacheTTL <= 0 {
		return SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedAt.IsZero() || now.Sub(s.cachedAt) >= s.cacheTTL {
		return SystemHealthReport{}, false
	}
	report := s.cached
	report.Uptime = now.Sub(s.build.StartedAt)
	return report, true
}

func (s *systemService) store(report SystemHealthReport, now time.Time) {
	if s.cacheTTL <= 0 {
		return
	}
	s.mu.Lock()
	s.cached = report
	s.cachedAt = now
	s.mu.Unlock()
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// overallStatus is error when any check failed, degraded when any check is neither ok nor blank.
func overallStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
