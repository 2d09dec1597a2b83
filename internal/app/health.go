package app

import (
	"context"
	"fmt"
	"time"
)

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthDisabled  = "disabled"

	healthCheckTimeout = 5 * time.Second
)

type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

func (r *HealthReport) Healthy() bool {
	return r.Status == HealthHealthy
}

func check(ctx context.Context, ping func(context.Context) error, okMessage string) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := ping(ctx); err != nil {
		return ComponentHealth{Status: HealthUnhealthy, Message: err.Error()}
	}
	return ComponentHealth{Status: HealthHealthy, Message: okMessage}
}

// HealthCheck pings every component. The report is unhealthy when any
// enabled component is.
func (s *AdminService) HealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     HealthHealthy,
		Components: make(map[string]ComponentHealth),
		Timestamp:  time.Now(),
	}

	report.Components["vector_index"] = check(ctx, func(ctx context.Context) error {
		if err := s.index.Ping(ctx); err != nil {
			return err
		}
		_, err := s.index.Count(ctx)
		return err
	}, fmt.Sprintf("%s index reachable", s.index.Backend()))

	emb := s.currentEmbedder()
	report.Components["embedding_model"] = check(ctx, emb.Ping,
		fmt.Sprintf("%s loaded (dimension %d)", emb.ModelName(), emb.Dimension()))

	report.Components["document_store"] = check(ctx, s.store.Ping, s.store.Root())

	if s.generation == nil {
		report.Components["generation"] = ComponentHealth{Status: HealthDisabled, Message: "no generation model configured"}
	} else {
		report.Components["generation"] = check(ctx, s.generation.Ping, s.generation.Model()+" reachable")
	}

	for _, p := range s.probes {
		report.Components[p.Name] = check(ctx, p.Ping, "ok")
	}

	for _, c := range report.Components {
		if c.Status == HealthUnhealthy {
			report.Status = HealthUnhealthy
			break
		}
	}
	return report
}
