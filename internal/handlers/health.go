package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
	"github.com/spiritcandles/fulfillment/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs probes. Without a system service /readyz reports liveness only.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// WithHealthSystemService sets the dependency checker used by /readyz.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata echoed by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

type healthResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details,omitempty"`
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

// Healthz reports that the process is serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   formatTime(now),
	})
}

// Readyz probes dependencies and fails with 503 when a required one is unreachable.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	report, ready, err := h.system.Ready(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", "health checks failed to run", http.StatusServiceUnavailable))
		return
	}

	payload := healthResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		Timestamp:   formatTime(report.GeneratedAt),
		Checks:      make(map[string]healthCheckPayload, len(report.Checks)),
	}
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		payload.Checks[name] = healthCheckPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK {
			payload.Details = append(payload.Details, name+": "+check.Status)
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}
