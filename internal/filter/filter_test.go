package filter

import (
	"reflect"
	"strings"
	"testing"
	"time"

	appErrors "github.com/leadloop/outreach-backend/internal/errors"
	"github.com/leadloop/outreach-backend/internal/model"
)

func intPtr(n int) *int { return &n }

func validFilter() LeadFilter {
	return LeadFilter{
		TenantID:                "6f1c8f5e-0000-4000-8000-000000000001",
		TargetTags:              []string{"webinar-june", "hot"},
		ExcludeBooked:           true,
		ExcludeOptedOut:         true,
		ExcludeInActiveCampaign: true,
	}
}

func TestValidateRejections(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-24 * time.Hour)

	cases := []struct {
		name   string
		mutate func(*LeadFilter)
	}{
		{"empty tags", func(f *LeadFilter) { f.TargetTags = nil }},
		{"too many tags", func(f *LeadFilter) {
			f.TargetTags = make([]string, MaxTargetTags+1)
			for i := range f.TargetTags {
				f.TargetTags[i] = "t"
			}
		}},
		{"blank tag", func(f *LeadFilter) { f.TargetTags = []string{"ok", " "} }},
		{"empty engagement set", func(f *LeadFilter) { f.EngagementLevels = []string{} }},
		{"unknown engagement level", func(f *LeadFilter) { f.EngagementLevels = []string{"Extreme"} }},
		{"min over max score", func(f *LeadFilter) {
			f.MinIcpScore = intPtr(80)
			f.MaxIcpScore = intPtr(20)
		}},
		{"reversed date bounds", func(f *LeadFilter) {
			f.CreatedAfter = &now
			f.CreatedBefore = &earlier
		}},
		{"missing tenant", func(f *LeadFilter) { f.TenantID = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFilter()
			tc.mutate(&f)
			err := f.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !appErrors.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateAcceptsNilEngagement(t *testing.T) {
	f := validFilter()
	f.EngagementLevels = nil
	if err := f.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// The preview path and the enrollment path must render byte-identical SQL
// for identical targeting parameters.
func TestClauseIdenticalAcrossInvocations(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := validFilter()
	f.CreatedAfter = &after
	f.MinIcpScore = intPtr(40)
	f.EngagementLevels = []string{"High", "Medium"}

	previewSQL, previewArgs := f.Clause(0)
	enrollSQL, enrollArgs := f.Clause(0)

	if previewSQL != enrollSQL {
		t.Fatalf("predicate diverged:\npreview: %s\nenroll:  %s", previewSQL, enrollSQL)
	}
	if len(previewArgs) != len(enrollArgs) {
		t.Fatalf("arg count diverged: %d vs %d", len(previewArgs), len(enrollArgs))
	}
}

func TestClauseContents(t *testing.T) {
	f := validFilter()
	f.MinIcpScore = intPtr(10)
	f.MaxIcpScore = intPtr(90)
	f.EngagementLevels = []string{"High"}

	sqlFrag, args := f.Clause(0)

	for _, want := range []string{
		"tenant_id = $1",
		"is_active = TRUE",
		"tags @> $2",
		"icp_score >= $3",
		"icp_score <= $4",
		"engagement_level = ANY($5)",
		"booked = FALSE",
		"opted_out = FALSE",
		"campaign_id IS NULL",
	} {
		if !strings.Contains(sqlFrag, want) {
			t.Errorf("clause missing %q:\n%s", want, sqlFrag)
		}
	}
	if strings.Contains(sqlFrag, "&&") {
		t.Errorf("tag match must require all tags (containment), got overlap: %s", sqlFrag)
	}
	if len(args) != 5 {
		t.Fatalf("want 5 args, got %d", len(args))
	}
}

func TestClauseArgOffset(t *testing.T) {
	f := validFilter()
	sqlFrag, _ := f.Clause(3)
	if !strings.Contains(sqlFrag, "tenant_id = $4") {
		t.Fatalf("offset not applied: %s", sqlFrag)
	}
	if strings.Contains(sqlFrag, "$1") {
		t.Fatalf("found unshifted placeholder: %s", sqlFrag)
	}
}

func TestFromCampaignRoundTrip(t *testing.T) {
	after := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c := &model.Campaign{
		TenantID: "6f1c8f5e-0000-4000-8000-000000000001",
		Type:     model.TypeCustom,
		Targeting: &model.Targeting{
			TargetTags:              []string{"a", "b"},
			CreatedAfter:            &after,
			MinIcpScore:             intPtr(50),
			ExcludeBooked:           true,
			ExcludeOptedOut:         true,
			ExcludeInActiveCampaign: true,
		},
	}

	f, err := FromCampaign(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(f.TargetTags, []string{"a", "b"}) {
		t.Errorf("tags not carried over: %v", f.TargetTags)
	}
	if f.CreatedAfter == nil || !f.CreatedAfter.Equal(after) {
		t.Errorf("created_after not carried over")
	}

	direct, directArgs := f.Clause(0)
	rebuilt, rebuiltArgs := f.Clause(0)
	if direct != rebuilt || len(directArgs) != len(rebuiltArgs) {
		t.Error("rebuilt filter renders different SQL")
	}
}

func TestFromCampaignRejectsNonCustom(t *testing.T) {
	c := &model.Campaign{Type: model.TypeWebinar}
	if _, err := FromCampaign(c); err == nil {
		t.Fatal("expected error for campaign without targeting")
	}
}
