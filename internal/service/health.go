package service

import (
	"context"
	"time"

	"github.com/leadloop/outreach-backend/internal/repository"
)

// HealthService aggregates the de-enrollment monitoring view: tenants whose
// runs keep failing or hang in running state, plus leads whose sequence
// finished long ago without being swept.
type HealthService struct {
	Runs  repository.RunRepositoryInterface
	Leads repository.LeadRepositoryInterface

	// Window and FailureThreshold define an unhealthy tenant: more than
	// FailureThreshold failed runs inside Window.
	Window           time.Duration
	FailureThreshold int

	// StuckAfter is how long a concluded lead may wait before it counts as
	// stuck.
	StuckAfter time.Duration
}

type HealthReport struct {
	Healthy          bool                      `json:"healthy"`
	UnhealthyTenants []repository.TenantHealth `json:"unhealthy_tenants"`
	StuckLeads       int                       `json:"stuck_leads"`
	GeneratedAt      time.Time                 `json:"generated_at"`
}

func (s *HealthService) Report(ctx context.Context) (*HealthReport, error) {
	tenants, err := s.Runs.TenantHealthReport(ctx, s.Window, s.FailureThreshold)
	if err != nil {
		return nil, err
	}
	stuck, err := s.Leads.StuckLeadCount(ctx, s.StuckAfter)
	if err != nil {
		return nil, err
	}

	return &HealthReport{
		Healthy:          len(tenants) == 0 && stuck == 0,
		UnhealthyTenants: tenants,
		StuckLeads:       stuck,
		GeneratedAt:      time.Now().UTC(),
	}, nil
}
