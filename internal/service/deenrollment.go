package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/leadloop/outreach-backend/internal/errors"
	"github.com/leadloop/outreach-backend/internal/model"
	"github.com/leadloop/outreach-backend/internal/repository"
)

// DeEnrollmentService sweeps concluded leads out of their campaigns in
// batches. Every batch commits in its own transaction, so a crash loses at
// most one batch of progress and the stored checkpoint lets the next run
// resume where this one stopped.
type DeEnrollmentService struct {
	DB        *sql.DB
	Leads     repository.LeadRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Runs      repository.RunRepositoryInterface

	BatchSize int

	// RunBudget bounds one tenant's sweep; GlobalBudget bounds a pass over
	// all tenants. Exceeding either produces a partial run, never an error.
	RunBudget    time.Duration
	GlobalBudget time.Duration

	// RunTx overrides transaction handling in tests; nil uses DB defaults.
	RunTx func(ctx context.Context, fn func(tx *sql.Tx) error) error

	Now func() time.Time
}

func (s *DeEnrollmentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *DeEnrollmentService) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.RunTx != nil {
		return s.RunTx(ctx, fn)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ProcessTenant runs one de-enrollment pass for a tenant. When resumeRunID
// is non-empty the pass continues a previous partial run from its stored
// checkpoint instead of starting over.
func (s *DeEnrollmentService) ProcessTenant(ctx context.Context, tenantID, runType, resumeRunID string) (*model.DeEnrollmentRun, error) {
	started := s.now()

	var run *model.DeEnrollmentRun
	var cursor *string

	if resumeRunID != "" {
		prev, err := s.Runs.GetByID(ctx, resumeRunID)
		if err != nil {
			return nil, err
		}
		if prev.TenantID != tenantID {
			return nil, appErrors.NewValidation("resume_run_id", "run belongs to a different tenant")
		}
		if prev.Status != model.RunStatusPartial {
			return nil, appErrors.NewValidation("resume_run_id",
				fmt.Sprintf("only partial runs can be resumed, run is %s", prev.Status))
		}
		cursor = prev.Checkpoint
		run = &model.DeEnrollmentRun{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			RunType:   model.RunTypeRetry,
			Status:    model.RunStatusRunning,
			StartedAt: started,
		}
	} else {
		run = &model.DeEnrollmentRun{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			RunType:   runType,
			Status:    model.RunStatusRunning,
			StartedAt: started,
		}
	}

	if err := s.Runs.Create(ctx, run); err != nil {
		return nil, err
	}

	var batchErrors []string
	timedOut := false

	for {
		if s.RunBudget > 0 && s.now().Sub(started) > s.RunBudget {
			timedOut = true
			break
		}

		batch, err := s.Leads.FetchConcludedBatch(ctx, tenantID, cursor, s.BatchSize)
		if err != nil {
			// Fetch failure ends the run; the next run retries from the
			// same checkpoint.
			batchErrors = append(batchErrors, fmt.Sprintf("fetch batch: %v", err))
			break
		}
		if len(batch) == 0 {
			break
		}

		counts, err := s.processBatch(ctx, batch)
		run.LeadsEvaluated += len(batch)
		if err != nil {
			// The batch transaction rolled back; record and move the
			// cursor past it so one poisoned batch cannot wedge the whole
			// tenant.
			batchErrors = append(batchErrors, fmt.Sprintf("batch after %v: %v", deref(cursor), err))
			run.LeadsSkipped += len(batch)
		} else {
			run.LeadsDeEnrolled += counts.Total()
			run.LeadsSkipped += len(batch) - counts.Total()
			run.ByOutcome.Completed += counts.Completed
			run.ByOutcome.OptedOut += counts.OptedOut
			run.ByOutcome.Booked += counts.Booked
		}

		last := batch[len(batch)-1].LeadID
		cursor = &last

		if len(batch) < s.BatchSize {
			break
		}
	}

	run.DurationMs = s.now().Sub(started).Milliseconds()
	switch {
	case timedOut:
		run.Status = model.RunStatusPartial
		run.Checkpoint = cursor
		msg := "run budget exhausted before all leads were processed"
		run.ErrorDetails = &msg
	case len(batchErrors) > 0 && run.LeadsDeEnrolled == 0:
		run.Status = model.RunStatusFailed
		run.Checkpoint = cursor
		joined := joinErrors(batchErrors)
		run.ErrorDetails = &joined
	case len(batchErrors) > 0:
		run.Status = model.RunStatusPartial
		run.Checkpoint = cursor
		joined := joinErrors(batchErrors)
		run.ErrorDetails = &joined
	default:
		run.Status = model.RunStatusSuccess
	}

	if err := s.Runs.Finalize(ctx, run); err != nil {
		log.WithFields(log.Fields{"run_id": run.ID}).
			WithError(err).Error("failed to finalize de-enrollment run")
		return run, err
	}

	log.WithFields(log.Fields{
		"run_id":      run.ID,
		"tenant_id":   tenantID,
		"status":      run.Status,
		"evaluated":   run.LeadsEvaluated,
		"de_enrolled": run.LeadsDeEnrolled,
	}).Info("de-enrollment run finished")
	return run, nil
}

// processBatch de-enrolls one batch inside a single transaction: each lead
// gets its history entry appended and its membership cleared, then the
// affected campaigns' counters absorb the batch's outcome totals.
func (s *DeEnrollmentService) processBatch(ctx context.Context, batch []repository.ConcludedLead) (model.OutcomeCounts, error) {
	var total model.OutcomeCounts
	perCampaign := make(map[string]model.OutcomeCounts)
	completedAt := s.now()

	err := s.runTx(ctx, func(tx *sql.Tx) error {
		for _, lead := range batch {
			outcome := model.Classify(lead.Booked, lead.OptedOut)

			entry := model.HistoryEntry{
				CampaignID:       lead.CampaignID,
				CampaignName:     lead.CampaignName,
				EnrolledVersion:  lead.EnrolledVersion,
				CompletedAt:      completedAt.UTC().Format(time.RFC3339),
				MessagesReceived: lead.SequencePosition,
				Outcome:          outcome,
			}
			if lead.EnrolledAt != nil {
				entry.EnrolledAt = lead.EnrolledAt.UTC().Format(time.RFC3339)
			}

			changed, err := s.Leads.DeEnroll(ctx, tx, lead.LeadID, entry, completedAt)
			if err != nil {
				return err
			}
			// Guarded update matched zero rows: the lead was already
			// de-enrolled by an overlapping run. Not an exit for counting.
			if !changed {
				continue
			}

			c := perCampaign[lead.CampaignID]
			switch outcome {
			case model.OutcomeBooked:
				c.Booked++
				total.Booked++
			case model.OutcomeOptedOut:
				c.OptedOut++
				total.OptedOut++
			default:
				c.Completed++
				total.Completed++
			}
			perCampaign[lead.CampaignID] = c
		}

		for campaignID, counts := range perCampaign {
			if err := s.Campaigns.ApplyDeEnrollment(ctx, tx, campaignID, counts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.OutcomeCounts{}, err
	}
	return total, nil
}

// TenantResult is one tenant's slice of a ProcessAll pass.
type TenantResult struct {
	TenantID string                 `json:"tenant_id"`
	Run      *model.DeEnrollmentRun `json:"run,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Skipped  bool                   `json:"skipped,omitempty"`
}

// ProcessAll sweeps every tenant that currently has concluded leads. The
// global budget stops the pass between tenants; unprocessed tenants are
// reported skipped and picked up by the next cron tick.
func (s *DeEnrollmentService) ProcessAll(ctx context.Context, runType string) ([]TenantResult, error) {
	started := s.now()

	tenants, err := s.Leads.TenantsWithConcludedLeads(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]TenantResult, 0, len(tenants))
	for i, tenantID := range tenants {
		if s.GlobalBudget > 0 && s.now().Sub(started) > s.GlobalBudget {
			for _, remaining := range tenants[i:] {
				results = append(results, TenantResult{TenantID: remaining, Skipped: true})
			}
			log.WithFields(log.Fields{"skipped": len(tenants) - i}).
				Warn("global de-enrollment budget exhausted")
			break
		}

		run, err := s.ProcessTenant(ctx, tenantID, runType, "")
		result := TenantResult{TenantID: tenantID, Run: run}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results, nil
}

func deref(s *string) string {
	if s == nil {
		return "<start>"
	}
	return *s
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}
