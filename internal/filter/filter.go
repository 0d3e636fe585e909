// Package filter builds the lead eligibility predicate shared by the
// preview and enrollment paths. Both paths must produce identical SQL for
// identical parameters; any divergence makes preview counts lie.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/leadloop/outreach-backend/internal/errors"
	"github.com/leadloop/outreach-backend/internal/model"
)

// MaxTargetTags bounds the required-tag set of a campaign.
const MaxTargetTags = 10

// LeadFilter holds campaign targeting parameters. EngagementLevels nil
// means "no engagement filter"; an empty non-nil set is rejected outright
// rather than silently matching nothing or everything.
type LeadFilter struct {
	TenantID                string
	TargetTags              []string
	CreatedAfter            *time.Time
	CreatedBefore           *time.Time
	MinIcpScore             *int
	MaxIcpScore             *int
	EngagementLevels        []string
	ExcludeBooked           bool
	ExcludeOptedOut         bool
	ExcludeInActiveCampaign bool
}

func (f LeadFilter) Validate() error {
	if f.TenantID == "" {
		return appErrors.NewValidation("tenant_id", "tenant id is required")
	}
	if len(f.TargetTags) == 0 {
		return appErrors.NewValidation("target_tags", "at least one tag required")
	}
	if len(f.TargetTags) > MaxTargetTags {
		return appErrors.NewValidation("target_tags", fmt.Sprintf("at most %d tags allowed", MaxTargetTags))
	}
	for _, tag := range f.TargetTags {
		if strings.TrimSpace(tag) == "" {
			return appErrors.NewValidation("target_tags", "tags must be non-empty")
		}
	}
	if f.EngagementLevels != nil && len(f.EngagementLevels) == 0 {
		return appErrors.NewValidation("engagement_levels", "engagement level set must not be empty")
	}
	for _, lvl := range f.EngagementLevels {
		switch lvl {
		case "High", "Medium", "Low":
		default:
			return appErrors.NewValidation("engagement_levels", fmt.Sprintf("unknown engagement level %q", lvl))
		}
	}
	if f.MinIcpScore != nil && f.MaxIcpScore != nil && *f.MinIcpScore > *f.MaxIcpScore {
		return appErrors.NewValidation("min_icp_score", "min score must not exceed max score")
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && f.CreatedAfter.After(*f.CreatedBefore) {
		return appErrors.NewValidation("created_after", "created_after must not be later than created_before")
	}
	return nil
}

// Clause renders the WHERE fragment and its arguments. Placeholders start
// at argOffset+1 so the fragment can follow earlier parameters in a larger
// query. Every tag in TargetTags must be present on the lead (array
// containment, not overlap).
func (f LeadFilter) Clause(argOffset int) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(format string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(format, argOffset+len(args)))
	}

	add("tenant_id = $%d", f.TenantID)
	clauses = append(clauses, "is_active = TRUE")
	add("tags @> $%d", pq.Array(f.TargetTags))

	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", *f.CreatedBefore)
	}
	if f.MinIcpScore != nil {
		add("icp_score >= $%d", *f.MinIcpScore)
	}
	if f.MaxIcpScore != nil {
		add("icp_score <= $%d", *f.MaxIcpScore)
	}
	if len(f.EngagementLevels) > 0 {
		add("engagement_level = ANY($%d)", pq.Array(f.EngagementLevels))
	}
	if f.ExcludeBooked {
		clauses = append(clauses, "booked = FALSE")
	}
	if f.ExcludeOptedOut {
		clauses = append(clauses, "opted_out = FALSE")
	}
	if f.ExcludeInActiveCampaign {
		clauses = append(clauses, "campaign_id IS NULL")
	}

	return strings.Join(clauses, " AND "), args
}

// FromCampaign rebuilds the filter from a stored custom campaign so
// scheduled activation applies the same predicate the campaign was created
// with.
func FromCampaign(c *model.Campaign) (LeadFilter, error) {
	if c.Type != model.TypeCustom || c.Targeting == nil {
		return LeadFilter{}, appErrors.NewValidation("campaign", "campaign has no stored targeting")
	}
	t := c.Targeting
	f := LeadFilter{
		TenantID:                c.TenantID,
		TargetTags:              t.TargetTags,
		CreatedAfter:            t.CreatedAfter,
		CreatedBefore:           t.CreatedBefore,
		MinIcpScore:             t.MinIcpScore,
		MaxIcpScore:             t.MaxIcpScore,
		EngagementLevels:        t.EngagementLevels,
		ExcludeBooked:           t.ExcludeBooked,
		ExcludeOptedOut:         t.ExcludeOptedOut,
		ExcludeInActiveCampaign: t.ExcludeInActiveCampaign,
	}
	if err := f.Validate(); err != nil {
		return LeadFilter{}, err
	}
	return f, nil
}
