package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/leadloop/outreach-backend/internal/lock"
	"github.com/leadloop/outreach-backend/internal/repository"
)

// Enroller is the single enrollment transaction component, shared by the
// interactive creation path and the scheduled activation job. Keeping one
// copy is a correctness requirement: any drift between two copies of this
// loop reintroduces the races the locking exists to prevent.
type Enroller struct {
	Leads repository.LeadRepositoryInterface

	// Budget is the wall-clock allowance for the loop. Exceeding it is a
	// partial success, not an error.
	Budget time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// EnrollmentParams carries one campaign's snapshot data plus the ordered,
// pre-filtered, pre-capped candidate list.
type EnrollmentParams struct {
	TenantID        string
	CampaignID      string
	CampaignName    string
	CampaignVersion int
	MessageCount    int
	LeadIDs         []string
}

// EnrollmentResult reports what the loop did. Verified is the fresh
// membership count from the lead table and is the only number callers may
// trust for counters; Enrolled is the loop's own tally, kept for progress
// logging and drift detection.
type EnrollmentResult struct {
	Requested int
	Processed int
	Enrolled  int
	Skipped   int
	Verified  int
	TimedOut  bool
}

// Enroll runs the per-lead enrollment loop inside the caller's transaction.
// The transaction must be serializable: the eligibility re-check below is
// only sound if no concurrent enrollment can read a stale snapshot of the
// same lead. Per-lead failures are logged and skipped; only the final
// verification query can fail the call.
func (e *Enroller) Enroll(ctx context.Context, tx *sql.Tx, p EnrollmentParams) (*EnrollmentResult, error) {
	now := e.Now
	if now == nil {
		now = time.Now
	}

	result := &EnrollmentResult{Requested: len(p.LeadIDs)}

	// Structural validity first: malformed ids must never reach the lock
	// or eligibility layer.
	validIDs := make([]string, 0, len(p.LeadIDs))
	for _, id := range p.LeadIDs {
		if _, err := uuid.Parse(id); err != nil {
			log.WithFields(log.Fields{"lead_id": id, "campaign_id": p.CampaignID}).
				Warn("skipping malformed lead id")
			result.Skipped++
			continue
		}
		validIDs = append(validIDs, id)
	}

	started := now()
	for _, leadID := range validIDs {
		// The elapsed-time check between leads is the only cancellation
		// mechanism; bailing out here is a clean partial completion.
		if e.Budget > 0 && now().Sub(started) > e.Budget {
			log.WithFields(log.Fields{
				"campaign_id": p.CampaignID,
				"enrolled":    result.Enrolled,
				"requested":   result.Requested,
			}).Warn("enrollment budget exceeded, stopping early")
			result.TimedOut = true
			break
		}
		result.Processed++

		key1, key2 := lock.LeadKey(p.TenantID, leadID)
		acquired, err := e.Leads.TryAdvisoryLock(ctx, tx, key1, key2)
		if err != nil {
			log.WithFields(log.Fields{"lead_id": leadID}).
				WithError(err).Error("advisory lock attempt failed")
			result.Skipped++
			continue
		}
		if !acquired {
			// Lost the race: another enrollment already claimed this lead.
			// Expected under concurrency, not an error.
			result.Skipped++
			continue
		}

		// Re-check eligibility under the transaction. Time has passed
		// since the candidate list was built.
		eligible, err := e.Leads.IsEligible(ctx, tx, leadID)
		if err != nil {
			log.WithFields(log.Fields{"lead_id": leadID}).
				WithError(err).Error("eligibility re-check failed")
			result.Skipped++
			continue
		}
		if !eligible {
			result.Skipped++
			continue
		}

		snap := repository.EnrollmentSnapshot{
			CampaignID:      p.CampaignID,
			CampaignName:    p.CampaignName,
			CampaignVersion: p.CampaignVersion,
			MessageCount:    p.MessageCount,
			EnrolledAt:      now(),
		}
		if err := e.Leads.Enroll(ctx, tx, leadID, snap); err != nil {
			log.WithFields(log.Fields{"lead_id": leadID}).
				WithError(err).Error("failed to enroll lead")
			result.Skipped++
			continue
		}
		result.Enrolled++
	}

	// The loop counter can be wrong if the budget guard fired or a lead
	// errored after partial work; the lead table is the source of truth.
	verified, err := e.Leads.CountByCampaign(ctx, tx, p.CampaignID)
	if err != nil {
		return nil, err
	}
	result.Verified = verified

	if verified != result.Enrolled {
		log.WithFields(log.Fields{
			"campaign_id": p.CampaignID,
			"loop_count":  result.Enrolled,
			"db_count":    verified,
		}).Warn("enrollment count mismatch, using database count")
	}

	return result, nil
}
