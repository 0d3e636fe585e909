package service

import (
	"context"
	"database/sql"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leadloop/outreach-backend/internal/filter"
	"github.com/leadloop/outreach-backend/internal/lock"
	"github.com/leadloop/outreach-backend/internal/model"
	"github.com/leadloop/outreach-backend/internal/repository"
)

// ActivationService promotes due scheduled campaigns to active and runs
// their deferred enrollment. It is driven by the cron surface, so any
// number of overlapping invocations must converge on each campaign being
// activated exactly once; a per-campaign advisory lock carries that.
type ActivationService struct {
	DB        *sql.DB
	Campaigns repository.CampaignRepositoryInterface
	Leads     repository.LeadRepositoryInterface
	Enroller  *Enroller

	// ScheduledCap bounds enrollment per activated campaign on the
	// background path.
	ScheduledCap int

	// Staleness is how far past its start time a scheduled campaign may
	// still be activated. Older ones are left alone for manual review.
	Staleness time.Duration

	// RunTx overrides transaction handling in tests; nil uses DB with
	// serializable isolation.
	RunTx func(ctx context.Context, fn func(tx *sql.Tx) error) error

	Now func() time.Time
}

// ActivationOutcome reports what happened to one due campaign.
type ActivationOutcome struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Status     string `json:"status"` // activated, skipped, failed
	Enrolled   int    `json:"enrolled,omitempty"`
	Matched    int    `json:"matched,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *ActivationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ActivationService) runSerializable(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.RunTx != nil {
		return s.RunTx(ctx, fn)
	}
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ActivateDue finds scheduled campaigns whose start time has arrived and
// activates them oldest first. One failing campaign never blocks the rest.
func (s *ActivationService) ActivateDue(ctx context.Context) ([]ActivationOutcome, error) {
	due, err := s.Campaigns.FindDueScheduled(ctx, s.now(), s.Staleness)
	if err != nil {
		return nil, err
	}

	outcomes := make([]ActivationOutcome, 0, len(due))
	for _, c := range due {
		outcome := s.activateOne(ctx, c)
		outcomes = append(outcomes, outcome)
		log.WithFields(log.Fields{
			"campaign_id": outcome.CampaignID,
			"status":      outcome.Status,
			"enrolled":    outcome.Enrolled,
		}).Info("scheduled activation processed")
	}
	return outcomes, nil
}

func (s *ActivationService) activateOne(ctx context.Context, c *model.Campaign) ActivationOutcome {
	outcome := ActivationOutcome{CampaignID: c.ID, Name: c.Name}

	err := s.runSerializable(ctx, func(tx *sql.Tx) error {
		// Advisory lock keyed to the campaign; a concurrent cron tick
		// holding it is already activating this one, so skip rather than
		// wait.
		k1, k2 := lock.CampaignActivationKey(c.ID)
		acquired, err := s.Leads.TryAdvisoryLock(ctx, tx, k1, k2)
		if err != nil {
			return err
		}
		if !acquired {
			outcome.Status = "skipped"
			return nil
		}

		enrolled := 0
		if c.Type == model.TypeCustom {
			f, err := filter.FromCampaign(c)
			if err != nil {
				return err
			}
			ids, err := s.Leads.FindMatchingIDs(ctx, tx, f)
			if err != nil {
				return err
			}
			outcome.Matched = len(ids)

			capped := ids
			if c.MaxLeadsToEnroll != nil && len(capped) > *c.MaxLeadsToEnroll {
				capped = capped[:*c.MaxLeadsToEnroll]
			}
			if s.ScheduledCap > 0 && len(capped) > s.ScheduledCap {
				capped = capped[:s.ScheduledCap]
			}

			res, err := s.Enroller.Enroll(ctx, tx, EnrollmentParams{
				TenantID:        c.TenantID,
				CampaignID:      c.ID,
				CampaignName:    c.Name,
				CampaignVersion: c.Version,
				MessageCount:    len(c.Messages),
				LeadIDs:         capped,
			})
			if err != nil {
				return err
			}
			enrolled = res.Verified
		}

		if err := s.Campaigns.Activate(ctx, tx, c.ID, enrolled, outcome.Matched); err != nil {
			return err
		}
		outcome.Status = "activated"
		outcome.Enrolled = enrolled
		return nil
	})
	if err != nil {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		log.WithFields(log.Fields{"campaign_id": c.ID}).
			WithError(err).Error("scheduled activation failed")
	}
	return outcome
}
