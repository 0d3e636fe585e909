package model

import "time"

// CampaignType discriminates the closed set of campaign variants. The
// per-variant payloads (Targeting/Messages for custom, Webinar for
// webinar) are only populated for their own variant.
type CampaignType string

const (
	TypeStandard CampaignType = "standard"
	TypeWebinar  CampaignType = "webinar"
	TypeCustom   CampaignType = "custom"
)

// Campaign lifecycle status.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

type Campaign struct {
	ID       string       `db:"id" json:"id"`
	TenantID string       `db:"tenant_id" json:"tenant_id"`
	Name     string       `db:"name" json:"name"`
	Type     CampaignType `db:"campaign_type" json:"campaign_type"`
	Status   string       `db:"status" json:"status"`
	Version  int          `db:"version" json:"version"`

	// Variant payloads
	FormID    *string         `db:"form_id" json:"form_id,omitempty"`     // standard, webinar
	Targeting *Targeting      `db:"targeting" json:"targeting,omitempty"` // custom
	Messages  []Message       `db:"messages" json:"messages,omitempty"`   // custom
	Webinar   *WebinarDetails `db:"webinar" json:"webinar,omitempty"`     // webinar

	StartAt          *time.Time `db:"start_at" json:"start_at,omitempty"`
	MaxLeadsToEnroll *int       `db:"max_leads_to_enroll" json:"max_leads_to_enroll,omitempty"`

	// Aggregate counters. ActiveLeads must equal
	// LeadsEnrolled - Completed - OptedOut - Booked after every transaction.
	TotalMatched  int `db:"total_matched" json:"total_matched"`
	LeadsEnrolled int `db:"leads_enrolled" json:"leads_enrolled"`
	ActiveLeads   int `db:"active_leads_count" json:"active_leads_count"`
	Completed     int `db:"completed_leads_count" json:"completed_leads_count"`
	OptedOut      int `db:"opted_out_count" json:"opted_out_count"`
	Booked        int `db:"booked_count" json:"booked_count"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Targeting holds the stored filtering parameters of a custom campaign so
// scheduled activation can rebuild the exact eligibility predicate.
type Targeting struct {
	TargetTags              []string   `json:"target_tags"`
	CreatedAfter            *time.Time `json:"created_after,omitempty"`
	CreatedBefore           *time.Time `json:"created_before,omitempty"`
	MinIcpScore             *int       `json:"min_icp_score,omitempty"`
	MaxIcpScore             *int       `json:"max_icp_score,omitempty"`
	EngagementLevels        []string   `json:"engagement_levels,omitempty"`
	ExcludeBooked           bool       `json:"exclude_booked"`
	ExcludeOptedOut         bool       `json:"exclude_opted_out"`
	ExcludeInActiveCampaign bool       `json:"exclude_in_active_campaign"`
}

// Message is one step of a custom campaign's sequence. Steps are contiguous
// from 1 and unique within a campaign.
type Message struct {
	Step         int    `json:"step"`
	DelayMinutes int    `json:"delayMinutes"`
	Text         string `json:"text"`
}

// WebinarDetails is the webinar variant payload. ResourceName and
// ResourceLink are both set or both empty.
type WebinarDetails struct {
	Datetime     *time.Time `json:"datetime,omitempty"`
	ZoomLink     string     `json:"zoom_link,omitempty"`
	ResourceName string     `json:"resource_name,omitempty"`
	ResourceLink string     `json:"resource_link,omitempty"`
}
