package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/leadloop/outreach-backend/internal/errors"
	"github.com/leadloop/outreach-backend/internal/filter"
	"github.com/leadloop/outreach-backend/internal/model"
	"github.com/leadloop/outreach-backend/internal/queue"
	"github.com/leadloop/outreach-backend/internal/repository"
)

// MaxDelayMinutes caps a message step's delay at 30 days; longer nurture
// sequences belong in separate campaigns.
const MaxDelayMinutes = 30 * 24 * 60

// MaxMessageLength is the SMS limit per step.
const MaxMessageLength = 1600

// Partial-enrollment warning reasons.
const (
	ReasonEnrollmentCap = "enrollment_cap"
	ReasonTimeout       = "timeout"
)

type CampaignService struct {
	DB        *sql.DB
	Campaigns repository.CampaignRepositoryInterface
	Leads     repository.LeadRepositoryInterface
	Enroller  *Enroller
	Queue     queue.Queue

	// SyncTopic is the downstream CRM feed queue name.
	SyncTopic string

	// InteractiveCap bounds synchronous enrollment on the request path.
	InteractiveCap int

	// RunTx overrides transaction handling in tests; nil uses DB with
	// serializable isolation.
	RunTx func(ctx context.Context, fn func(tx *sql.Tx) error) error
}

func (s *CampaignService) runSerializable(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

// CreateCustomCampaignInput is the interactive "create campaign with
// targeting" request.
type CreateCustomCampaignInput struct {
	TenantID string
	Name     string

	TargetTags       []string
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
	MinIcpScore      *int
	MaxIcpScore      *int
	EngagementLevels []string

	Messages []model.Message

	IsPaused         bool
	StartAt          *time.Time
	MaxLeadsToEnroll *int

	ExcludeBooked           bool
	ExcludeOptedOut         bool
	ExcludeInActiveCampaign bool
}

// Filter builds the eligibility predicate. The same builder serves the
// preview endpoint, so counts shown before creation match enrollment.
func (in *CreateCustomCampaignInput) Filter() filter.LeadFilter {
	return filter.LeadFilter{
		TenantID:                in.TenantID,
		TargetTags:              in.TargetTags,
		CreatedAfter:            in.CreatedAfter,
		CreatedBefore:           in.CreatedBefore,
		MinIcpScore:             in.MinIcpScore,
		MaxIcpScore:             in.MaxIcpScore,
		EngagementLevels:        in.EngagementLevels,
		ExcludeBooked:           in.ExcludeBooked,
		ExcludeOptedOut:         in.ExcludeOptedOut,
		ExcludeInActiveCampaign: in.ExcludeInActiveCampaign,
	}
}

func (in *CreateCustomCampaignInput) Validate(now time.Time) error {
	if in.Name == "" {
		return appErrors.NewValidation("name", "campaign name is required")
	}
	if len(in.Name) > 255 {
		return appErrors.NewValidation("name", "campaign name must be at most 255 characters")
	}
	if err := in.Filter().Validate(); err != nil {
		return err
	}
	if err := validateMessages(in.Messages); err != nil {
		return err
	}
	if in.MaxLeadsToEnroll != nil && *in.MaxLeadsToEnroll <= 0 {
		return appErrors.NewValidation("max_leads_to_enroll", "must be positive")
	}
	if in.StartAt != nil && !in.IsPaused && in.StartAt.Before(now) {
		return appErrors.NewValidation("start_at", "start time must be in the future for active campaigns")
	}
	return nil
}

func validateMessages(messages []model.Message) error {
	if len(messages) < 1 || len(messages) > 3 {
		return appErrors.NewValidation("messages", "between 1 and 3 messages required")
	}
	steps := make([]int, len(messages))
	for i, m := range messages {
		if len(m.Text) == 0 || len(m.Text) > MaxMessageLength {
			return appErrors.NewValidation("messages",
				fmt.Sprintf("step %d text must be 1-%d characters", m.Step, MaxMessageLength))
		}
		if m.DelayMinutes < 0 || m.DelayMinutes > MaxDelayMinutes {
			return appErrors.NewValidation("messages",
				fmt.Sprintf("step %d delay must be 0-%d minutes", m.Step, MaxDelayMinutes))
		}
		steps[i] = m.Step
	}
	// Steps must be unique and contiguous from 1; a gap would strand the
	// scheduler mid-sequence.
	sort.Ints(steps)
	for i, step := range steps {
		if step != i+1 {
			return appErrors.NewValidation("messages", "message steps must be sequential starting from 1, with no gaps or duplicates")
		}
	}
	return nil
}

// PartialWarning is the structured payload attached when a campaign is
// created successfully but fewer leads were enrolled than matched.
type PartialWarning struct {
	TotalMatching int    `json:"total_matching"`
	Enrolled      int    `json:"enrolled"`
	Remaining     int    `json:"remaining"`
	Reason        string `json:"reason"`
	Message       string `json:"message"`
}

type CreateCampaignResult struct {
	Campaign *model.Campaign `json:"campaign"`
	Message  string          `json:"message"`
	Warning  *PartialWarning `json:"warning,omitempty"`
}

func enrollmentStatus(in *CreateCustomCampaignInput, now time.Time) string {
	if in.IsPaused {
		return model.StatusPaused
	}
	if in.StartAt != nil && in.StartAt.After(now) {
		return model.StatusScheduled
	}
	return model.StatusActive
}

// CreateCustomCampaign creates a custom campaign and, when it starts
// active, enrolls matching leads inside the same serializable transaction.
// The downstream sync enqueue happens after commit and can fail without
// touching membership state.
func (s *CampaignService) CreateCustomCampaign(ctx context.Context, in *CreateCustomCampaignInput) (*CreateCampaignResult, error) {
	now := time.Now()
	if err := in.Validate(now); err != nil {
		return nil, err
	}

	// Pre-check gives a friendly conflict before opening a transaction;
	// the unique constraint still backstops the concurrent-create race.
	exists, err := s.Campaigns.NameExists(ctx, in.TenantID, in.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, appErrors.NewDuplicateCampaignName(in.TenantID, in.Name)
	}

	status := enrollmentStatus(in, now)
	campaign := &model.Campaign{
		ID:       uuid.NewString(),
		TenantID: in.TenantID,
		Name:     in.Name,
		Type:     model.TypeCustom,
		Status:   status,
		Version:  1,
		Targeting: &model.Targeting{
			TargetTags:              in.TargetTags,
			CreatedAfter:            in.CreatedAfter,
			CreatedBefore:           in.CreatedBefore,
			MinIcpScore:             in.MinIcpScore,
			MaxIcpScore:             in.MaxIcpScore,
			EngagementLevels:        in.EngagementLevels,
			ExcludeBooked:           in.ExcludeBooked,
			ExcludeOptedOut:         in.ExcludeOptedOut,
			ExcludeInActiveCampaign: in.ExcludeInActiveCampaign,
		},
		Messages:         in.Messages,
		StartAt:          in.StartAt,
		MaxLeadsToEnroll: in.MaxLeadsToEnroll,
	}

	var (
		totalMatching int
		enrollRes     *EnrollmentResult
		wasCapped     bool
	)

	err = s.runSerializable(ctx, func(tx *sql.Tx) error {
		if err := s.Campaigns.CreateTx(ctx, tx, campaign); err != nil {
			return err
		}
		if status != model.StatusActive {
			return nil
		}

		ids, err := s.Leads.FindMatchingIDs(ctx, tx, in.Filter())
		if err != nil {
			return err
		}
		totalMatching = len(ids)

		capped := ids
		if in.MaxLeadsToEnroll != nil && len(capped) > *in.MaxLeadsToEnroll {
			capped = capped[:*in.MaxLeadsToEnroll]
		}
		if s.InteractiveCap > 0 && len(capped) > s.InteractiveCap {
			log.WithFields(log.Fields{
				"campaign": in.Name,
				"matching": len(capped),
				"cap":      s.InteractiveCap,
			}).Warn("capping synchronous enrollment")
			capped = capped[:s.InteractiveCap]
		}
		wasCapped = len(capped) < totalMatching

		enrollRes, err = s.Enroller.Enroll(ctx, tx, EnrollmentParams{
			TenantID:        in.TenantID,
			CampaignID:      campaign.ID,
			CampaignName:    campaign.Name,
			CampaignVersion: campaign.Version,
			MessageCount:    len(campaign.Messages),
			LeadIDs:         capped,
		})
		if err != nil {
			return err
		}

		if err := s.Campaigns.SetEnrollmentCounts(ctx, tx, campaign.ID, enrollRes.Verified, totalMatching); err != nil {
			return err
		}
		campaign.LeadsEnrolled = enrollRes.Verified
		campaign.ActiveLeads = enrollRes.Verified
		campaign.TotalMatched = totalMatching
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueueSync(in.TenantID, "campaigns", campaign.ID, "create", map[string]any{
		"name":   campaign.Name,
		"type":   campaign.Type,
		"status": campaign.Status,
	})

	result := &CreateCampaignResult{Campaign: campaign}
	switch status {
	case model.StatusScheduled:
		result.Message = fmt.Sprintf("Campaign scheduled for %s. Leads will be enrolled automatically.", in.StartAt.Format(time.RFC3339))
	case model.StatusPaused:
		result.Message = "Campaign created in paused state. Activate to start enrollment."
	default:
		result.Message = fmt.Sprintf("Campaign created and %d leads enrolled.", campaign.LeadsEnrolled)
		result.Warning = buildPartialWarning(totalMatching, enrollRes, wasCapped)
	}
	return result, nil
}

func buildPartialWarning(totalMatching int, res *EnrollmentResult, wasCapped bool) *PartialWarning {
	if res == nil {
		return nil
	}
	if !wasCapped && !res.TimedOut {
		return nil
	}
	remaining := totalMatching - res.Verified
	reason := ReasonTimeout
	if wasCapped {
		reason = ReasonEnrollmentCap
	}
	return &PartialWarning{
		TotalMatching: totalMatching,
		Enrolled:      res.Verified,
		Remaining:     remaining,
		Reason:        reason,
		Message: fmt.Sprintf(
			"Partial enrollment: %d of %d matching leads were enrolled (%s). %d leads remain unprocessed.",
			res.Verified, totalMatching, reason, remaining),
	}
}

// enqueueSync hands a record to the downstream CRM feed. Failures are
// logged only: sync delivery must never roll back membership state.
func (s *CampaignService) enqueueSync(tenantID, table, recordID, operation string, payload map[string]any) {
	if s.Queue == nil {
		return
	}
	event := map[string]any{
		"tenant_id": tenantID,
		"table":     table,
		"record_id": recordID,
		"operation": operation,
		"payload":   payload,
	}
	if err := s.Queue.Publish(s.SyncTopic, event); err != nil {
		log.WithFields(log.Fields{"record_id": recordID, "table": table}).
			WithError(err).Warn("failed to enqueue downstream sync")
	}
}

// CreateFormCampaignInput is the form-driven "standard" and "webinar"
// variant request. These campaigns carry no targeting; leads come in via
// the linked form, so creation never enrolls anyone.
type CreateFormCampaignInput struct {
	TenantID string
	Name     string
	Type     model.CampaignType
	FormID   string
	IsPaused bool
	StartAt  *time.Time
	Webinar  *model.WebinarDetails
}

func (in *CreateFormCampaignInput) Validate(now time.Time) error {
	if in.Name == "" {
		return appErrors.NewValidation("name", "campaign name is required")
	}
	if len(in.Name) > 255 {
		return appErrors.NewValidation("name", "campaign name must be at most 255 characters")
	}
	if in.TenantID == "" {
		return appErrors.NewValidation("tenant_id", "tenant is required")
	}
	switch in.Type {
	case model.TypeStandard:
		if in.Webinar != nil {
			return appErrors.NewValidation("webinar", "standard campaigns carry no webinar details")
		}
	case model.TypeWebinar:
		if in.Webinar != nil {
			// A follow-up resource is a name and a link together or
			// neither; a dangling half renders as a broken message.
			hasName := in.Webinar.ResourceName != ""
			hasLink := in.Webinar.ResourceLink != ""
			if hasName != hasLink {
				return appErrors.NewValidation("webinar", "resource_name and resource_link must both be set or both be empty")
			}
		}
		if !in.IsPaused {
			if in.Webinar == nil || in.Webinar.Datetime == nil || in.Webinar.ZoomLink == "" {
				return appErrors.NewValidation("webinar", "active webinar campaigns require a datetime and zoom link")
			}
		}
	default:
		return appErrors.NewValidation("campaign_type", "must be standard or webinar")
	}
	if in.StartAt != nil && !in.IsPaused && in.StartAt.Before(now) {
		return appErrors.NewValidation("start_at", "start time must be in the future for active campaigns")
	}
	return nil
}

// CreateFormCampaign creates a standard or webinar campaign.
func (s *CampaignService) CreateFormCampaign(ctx context.Context, in *CreateFormCampaignInput) (*model.Campaign, error) {
	now := time.Now()
	if err := in.Validate(now); err != nil {
		return nil, err
	}

	exists, err := s.Campaigns.NameExists(ctx, in.TenantID, in.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, appErrors.NewDuplicateCampaignName(in.TenantID, in.Name)
	}

	status := model.StatusActive
	switch {
	case in.IsPaused:
		status = model.StatusPaused
	case in.StartAt != nil && in.StartAt.After(now):
		status = model.StatusScheduled
	}

	campaign := &model.Campaign{
		ID:       uuid.NewString(),
		TenantID: in.TenantID,
		Name:     in.Name,
		Type:     in.Type,
		Status:   status,
		Version:  1,
		StartAt:  in.StartAt,
		Webinar:  in.Webinar,
	}
	if in.FormID != "" {
		campaign.FormID = &in.FormID
	}

	err = s.runSerializable(ctx, func(tx *sql.Tx) error {
		return s.Campaigns.CreateTx(ctx, tx, campaign)
	})
	if err != nil {
		return nil, err
	}

	s.enqueueSync(in.TenantID, "campaigns", campaign.ID, "create", map[string]any{
		"name":   campaign.Name,
		"type":   campaign.Type,
		"status": campaign.Status,
	})
	return campaign, nil
}

// PreviewResult is what the targeting preview returns before creation.
type PreviewResult struct {
	TotalMatching int            `json:"total_matching"`
	Sample        []model.Lead   `json:"sample"`
	Breakdown     map[string]int `json:"breakdown"`
}

// PreviewLeads counts and samples leads for a prospective campaign using
// the exact predicate enrollment will use.
func (s *CampaignService) PreviewLeads(ctx context.Context, f filter.LeadFilter) (*PreviewResult, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	total, err := s.Leads.CountMatching(ctx, f)
	if err != nil {
		return nil, err
	}
	sample, err := s.Leads.SampleMatching(ctx, f, 10)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.Leads.EngagementBreakdown(ctx, f)
	if err != nil {
		return nil, err
	}

	return &PreviewResult{TotalMatching: total, Sample: sample, Breakdown: breakdown}, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID string, page, pageSize int, campaignType, status string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.Campaigns.List(ctx, tenantID, offset, pageSize, campaignType, status)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return s.Campaigns.GetByID(ctx, id)
}
