package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/leadloop/outreach-backend/internal/errors"
	"github.com/leadloop/outreach-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	CreateTx(ctx context.Context, tx *sql.Tx, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	NameExists(ctx context.Context, tenantID, name string) (bool, error)
	List(ctx context.Context, tenantID string, offset, limit int, campaignType, status string) ([]*model.Campaign, int, error)
	FindDueScheduled(ctx context.Context, now time.Time, staleness time.Duration) ([]*model.Campaign, error)
	SetEnrollmentCounts(ctx context.Context, tx *sql.Tx, id string, enrolled, totalMatched int) error
	Activate(ctx context.Context, tx *sql.Tx, id string, enrolled, totalMatched int) error
	ApplyDeEnrollment(ctx context.Context, tx *sql.Tx, id string, counts model.OutcomeCounts) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, campaign_type, status, version,
        form_id, targeting, messages, webinar, start_at, max_leads_to_enroll,
        total_matched, leads_enrolled, active_leads_count,
        completed_leads_count, opted_out_count, booked_count,
        created_at, updated_at`

// CreateTx inserts a campaign inside the enrollment transaction. A unique
// violation on (tenant_id, name) maps to the duplicate-name conflict class:
// two simultaneous creations of the same name are an expected race, not a
// generic failure.
func (r *CampaignRepository) CreateTx(ctx context.Context, tx *sql.Tx, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusActive
	}
	if c.Version == 0 {
		c.Version = 1
	}

	targeting, messages, webinar, err := marshalVariant(c)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO campaigns (
            id, tenant_id, name, campaign_type, status, version, form_id,
            targeting, messages, webinar, start_at, max_leads_to_enroll,
            created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.TenantID, c.Name, c.Type, c.Status, c.Version, c.FormID,
		targeting, messages, webinar, c.StartAt, c.MaxLeadsToEnroll, c.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return appErrors.NewDuplicateCampaignName(c.TenantID, c.Name)
		}
		return err
	}
	return nil
}

func marshalVariant(c *model.Campaign) (targeting, messages, webinar interface{}, err error) {
	if c.Targeting != nil {
		b, err := json.Marshal(c.Targeting)
		if err != nil {
			return nil, nil, nil, err
		}
		targeting = b
	}
	if c.Messages != nil {
		b, err := json.Marshal(c.Messages)
		if err != nil {
			return nil, nil, nil, err
		}
		messages = b
	}
	if c.Webinar != nil {
		b, err := json.Marshal(c.Webinar)
		if err != nil {
			return nil, nil, nil, err
		}
		webinar = b
	}
	return targeting, messages, webinar, nil
}

func scanCampaign(scanner interface{ Scan(...interface{}) error }) (*model.Campaign, error) {
	var (
		c                            model.Campaign
		targeting, messages, webinar []byte
	)
	err := scanner.Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.Status, &c.Version,
		&c.FormID, &targeting, &messages, &webinar, &c.StartAt, &c.MaxLeadsToEnroll,
		&c.TotalMatched, &c.LeadsEnrolled, &c.ActiveLeads,
		&c.Completed, &c.OptedOut, &c.Booked,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if targeting != nil {
		if err := json.Unmarshal(targeting, &c.Targeting); err != nil {
			return nil, fmt.Errorf("campaign %s: bad targeting payload: %w", c.ID, err)
		}
	}
	if messages != nil {
		if err := json.Unmarshal(messages, &c.Messages); err != nil {
			return nil, fmt.Errorf("campaign %s: bad messages payload: %w", c.ID, err)
		}
	}
	if webinar != nil {
		if err := json.Unmarshal(webinar, &c.Webinar); err != nil {
			return nil, fmt.Errorf("campaign %s: bad webinar payload: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM campaigns WHERE id = $1", campaignColumns), id)
	c, err := scanCampaign(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) NameExists(ctx context.Context, tenantID, name string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM campaigns WHERE tenant_id = $1 AND name = $2)",
		tenantID, name).Scan(&exists)
	return exists, err
}

func (r *CampaignRepository) List(ctx context.Context, tenantID string, offset, limit int, campaignType, status string) ([]*model.Campaign, int, error) {
	where := "tenant_id = $1"
	args := []interface{}{tenantID}

	if campaignType != "" {
		args = append(args, campaignType)
		where += fmt.Sprintf(" AND campaign_type = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM campaigns WHERE %s", where), args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM campaigns WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		campaignColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// FindDueScheduled returns scheduled campaigns whose start time has
// arrived but is not older than the staleness window, in creation order so
// overlapping job runs activate campaigns deterministically.
func (r *CampaignRepository) FindDueScheduled(ctx context.Context, now time.Time, staleness time.Duration) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`
        SELECT %s FROM campaigns
        WHERE status = $1
          AND start_at <= $2
          AND start_at >= $3
        ORDER BY created_at, id`, campaignColumns),
		model.StatusScheduled, now, now.Add(-staleness))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) SetEnrollmentCounts(ctx context.Context, tx *sql.Tx, id string, enrolled, totalMatched int) error {
	_, err := tx.ExecContext(ctx, `
        UPDATE campaigns
        SET leads_enrolled = $1,
            active_leads_count = $1,
            total_matched = $2,
            updated_at = NOW()
        WHERE id = $3`,
		enrolled, totalMatched, id)
	return err
}

func (r *CampaignRepository) Activate(ctx context.Context, tx *sql.Tx, id string, enrolled, totalMatched int) error {
	_, err := tx.ExecContext(ctx, `
        UPDATE campaigns
        SET status = $1,
            leads_enrolled = $2,
            active_leads_count = $2,
            total_matched = $3,
            updated_at = NOW()
        WHERE id = $4`,
		model.StatusActive, enrolled, totalMatched, id)
	return err
}

// ApplyDeEnrollment moves a batch's worth of exits onto the campaign
// counters. Active count is floored at zero to tolerate pre-existing
// drift rather than going negative.
func (r *CampaignRepository) ApplyDeEnrollment(ctx context.Context, tx *sql.Tx, id string, counts model.OutcomeCounts) error {
	_, err := tx.ExecContext(ctx, `
        UPDATE campaigns
        SET active_leads_count = GREATEST(0, active_leads_count - $1),
            completed_leads_count = completed_leads_count + $2,
            opted_out_count = opted_out_count + $3,
            booked_count = booked_count + $4,
            updated_at = NOW()
        WHERE id = $5`,
		counts.Total(), counts.Completed, counts.OptedOut, counts.Booked, id)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
