package model

import "time"

// Lead is a tenant-scoped contact that can be enrolled in at most one
// active campaign at a time. CampaignID is the membership reference; it is
// non-nil iff the enrollment snapshot fields are meaningful.
type Lead struct {
	ID                      string     `db:"id" json:"id"`
	TenantID                string     `db:"tenant_id" json:"tenant_id"`
	Phone                   string     `db:"phone" json:"phone"`
	FirstName               string     `db:"first_name" json:"first_name"`
	LastName                string     `db:"last_name" json:"last_name"`
	Tags                    []string   `db:"tags" json:"tags"`
	IcpScore                int        `db:"icp_score" json:"icp_score"`
	EngagementLevel         string     `db:"engagement_level" json:"engagement_level"`
	CampaignID              *string    `db:"campaign_id" json:"campaign_id,omitempty"`
	EnrolledCampaignVersion *int       `db:"enrolled_campaign_version" json:"enrolled_campaign_version,omitempty"`
	EnrolledMessageCount    int        `db:"enrolled_message_count" json:"enrolled_message_count"`
	SequencePosition        int        `db:"sequence_position" json:"sequence_position"`
	Booked                  bool       `db:"booked" json:"booked"`
	OptedOut                bool       `db:"opted_out" json:"opted_out"`
	IsActive                bool       `db:"is_active" json:"is_active"`
	EnrolledAt              *time.Time `db:"enrolled_at" json:"enrolled_at,omitempty"`
	CompletedAt             *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updated_at"`
}

// HistoryEntry is one record in a lead's append-only campaign_history log.
// CompletedAt and Outcome are set by de-enrollment, not enrollment.
type HistoryEntry struct {
	CampaignID       string  `json:"campaignId"`
	CampaignName     string  `json:"campaignName"`
	EnrolledVersion  int     `json:"enrolledVersion"`
	EnrolledAt       string  `json:"enrolledAt"`
	CompletedAt      string  `json:"completedAt,omitempty"`
	MessagesReceived int     `json:"messagesReceived"`
	Outcome          Outcome `json:"outcome,omitempty"`
}

// Outcome classifies why a lead exited a campaign.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeOptedOut  Outcome = "opted_out"
	OutcomeBooked    Outcome = "booked"
)

// Classify derives the exit outcome for a concluded lead. Booked wins over
// opted-out; anything else means the sequence ran to completion.
func Classify(booked, optedOut bool) Outcome {
	switch {
	case booked:
		return OutcomeBooked
	case optedOut:
		return OutcomeOptedOut
	default:
		return OutcomeCompleted
	}
}
