package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	appErrors "github.com/leadloop/outreach-backend/internal/errors"
	"github.com/leadloop/outreach-backend/internal/model"
	"github.com/leadloop/outreach-backend/internal/service"
)

func validInput() *service.CreateCustomCampaignInput {
	return &service.CreateCustomCampaignInput{
		TenantID:   "11111111-1111-1111-1111-111111111111",
		Name:       "June Webinar Follow-up",
		TargetTags: []string{"webinar-june"},
		Messages: []model.Message{
			{Step: 1, DelayMinutes: 0, Text: "Thanks for joining!"},
			{Step: 2, DelayMinutes: 2880, Text: "Here is the recording."},
		},
		ExcludeBooked:           true,
		ExcludeOptedOut:         true,
		ExcludeInActiveCampaign: true,
	}
}

func newCampaignService(leads *mockLeadRepo, campaigns *mockCampaignRepo, q *mockQueue) *service.CampaignService {
	return &service.CampaignService{
		Campaigns:      campaigns,
		Leads:          leads,
		Enroller:       &service.Enroller{Leads: leads},
		Queue:          q,
		SyncTopic:      "crm_sync",
		InteractiveCap: 1000,
		RunTx:          passthroughTx,
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*service.CreateCustomCampaignInput)
	}{
		{"empty name", func(in *service.CreateCustomCampaignInput) { in.Name = "" }},
		{"name too long", func(in *service.CreateCustomCampaignInput) { in.Name = strings.Repeat("x", 256) }},
		{"no tags", func(in *service.CreateCustomCampaignInput) { in.TargetTags = nil }},
		{"too many tags", func(in *service.CreateCustomCampaignInput) {
			in.TargetTags = make([]string, 11)
			for i := range in.TargetTags {
				in.TargetTags[i] = "t"
			}
		}},
		{"blank tag", func(in *service.CreateCustomCampaignInput) { in.TargetTags = []string{"ok", "  "} }},
		{"no messages", func(in *service.CreateCustomCampaignInput) { in.Messages = nil }},
		{"four messages", func(in *service.CreateCustomCampaignInput) {
			in.Messages = []model.Message{
				{Step: 1, Text: "a"}, {Step: 2, Text: "b"}, {Step: 3, Text: "c"}, {Step: 4, Text: "d"},
			}
		}},
		{"step gap", func(in *service.CreateCustomCampaignInput) {
			in.Messages = []model.Message{{Step: 1, Text: "a"}, {Step: 3, Text: "b"}}
		}},
		{"duplicate steps", func(in *service.CreateCustomCampaignInput) {
			in.Messages = []model.Message{{Step: 1, Text: "a"}, {Step: 1, Text: "b"}}
		}},
		{"steps not from one", func(in *service.CreateCustomCampaignInput) {
			in.Messages = []model.Message{{Step: 2, Text: "a"}, {Step: 3, Text: "b"}}
		}},
		{"empty message text", func(in *service.CreateCustomCampaignInput) {
			in.Messages = []model.Message{{Step: 1, Text: ""}}
		}},
		{"message too long", func(in *service.CreateCustomCampaignInput) {
			in.Messages = []model.Message{{Step: 1, Text: strings.Repeat("x", 1601)}}
		}},
		{"negative delay", func(in *service.CreateCustomCampaignInput) {
			in.Messages = []model.Message{{Step: 1, Text: "a", DelayMinutes: -1}}
		}},
		{"delay over 30 days", func(in *service.CreateCustomCampaignInput) {
			in.Messages = []model.Message{{Step: 1, Text: "a", DelayMinutes: 43201}}
		}},
		{"score range reversed", func(in *service.CreateCustomCampaignInput) {
			lo, hi := 80, 20
			in.MinIcpScore = &lo
			in.MaxIcpScore = &hi
		}},
		{"empty engagement set", func(in *service.CreateCustomCampaignInput) {
			in.EngagementLevels = []string{}
		}},
		{"unknown engagement level", func(in *service.CreateCustomCampaignInput) {
			in.EngagementLevels = []string{"Lukewarm"}
		}},
		{"zero max leads", func(in *service.CreateCustomCampaignInput) {
			zero := 0
			in.MaxLeadsToEnroll = &zero
		}},
		{"past start for active", func(in *service.CreateCustomCampaignInput) {
			past := time.Now().Add(-time.Hour)
			in.StartAt = &past
		}},
	}

	svc := newCampaignService(&mockLeadRepo{}, &mockCampaignRepo{}, &mockQueue{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(in)
			_, err := svc.CreateCustomCampaign(context.Background(), in)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !appErrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateCampaignNilEngagementLevelsAccepted(t *testing.T) {
	leads := &mockLeadRepo{}
	svc := newCampaignService(leads, &mockCampaignRepo{}, &mockQueue{})

	in := validInput()
	in.EngagementLevels = nil

	if _, err := svc.CreateCustomCampaign(context.Background(), in); err != nil {
		t.Fatalf("nil engagement levels should be accepted, got %v", err)
	}
}

func TestCreateCampaignDuplicateName(t *testing.T) {
	svc := newCampaignService(&mockLeadRepo{}, &mockCampaignRepo{nameTaken: true}, &mockQueue{})

	_, err := svc.CreateCustomCampaign(context.Background(), validInput())
	if err == nil {
		t.Fatal("expected conflict")
	}
	if !appErrors.IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestCreateCampaignEnrollsMatchingLeads(t *testing.T) {
	leads := &mockLeadRepo{matching: leadIDs(7)}
	campaigns := &mockCampaignRepo{}
	q := &mockQueue{}
	svc := newCampaignService(leads, campaigns, q)

	res, err := svc.CreateCustomCampaign(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if res.Campaign.Status != model.StatusActive {
		t.Errorf("status = %s, want active", res.Campaign.Status)
	}
	if res.Campaign.LeadsEnrolled != 7 {
		t.Errorf("enrolled = %d, want 7", res.Campaign.LeadsEnrolled)
	}
	if res.Warning != nil {
		t.Errorf("unexpected warning: %+v", res.Warning)
	}
	got, ok := campaigns.setCounts[res.Campaign.ID]
	if !ok || got != [2]int{7, 7} {
		t.Errorf("stored counts = %v, want {7 7}", got)
	}
	if len(q.published) != 1 {
		t.Errorf("published %d sync events, want 1", len(q.published))
	}
}

func TestCreateCampaignCapWarning(t *testing.T) {
	leads := &mockLeadRepo{matching: leadIDs(10)}
	svc := newCampaignService(leads, &mockCampaignRepo{}, &mockQueue{})

	in := validInput()
	limit := 5
	in.MaxLeadsToEnroll = &limit

	res, err := svc.CreateCustomCampaign(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Campaign.LeadsEnrolled != 5 {
		t.Fatalf("enrolled = %d, want 5", res.Campaign.LeadsEnrolled)
	}
	w := res.Warning
	if w == nil {
		t.Fatal("expected partial warning")
	}
	if w.Reason != service.ReasonEnrollmentCap {
		t.Errorf("reason = %s, want %s", w.Reason, service.ReasonEnrollmentCap)
	}
	if w.TotalMatching != 10 || w.Enrolled != 5 || w.Remaining != 5 {
		t.Errorf("warning = %+v, want 10/5/5", w)
	}
}

func TestCreateCampaignInteractiveCap(t *testing.T) {
	leads := &mockLeadRepo{matching: leadIDs(30)}
	svc := newCampaignService(leads, &mockCampaignRepo{}, &mockQueue{})
	svc.InteractiveCap = 20

	res, err := svc.CreateCustomCampaign(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if res.Campaign.LeadsEnrolled != 20 {
		t.Fatalf("enrolled = %d, want 20", res.Campaign.LeadsEnrolled)
	}
	if res.Warning == nil || res.Warning.Reason != service.ReasonEnrollmentCap {
		t.Fatalf("expected enrollment_cap warning, got %+v", res.Warning)
	}
}

func TestCreateCampaignTimeoutWarning(t *testing.T) {
	leads := &mockLeadRepo{matching: leadIDs(50)}
	campaigns := &mockCampaignRepo{}
	svc := newCampaignService(leads, campaigns, &mockQueue{})

	var elapsed time.Duration
	base := time.Now()
	svc.Enroller.Budget = 50 * time.Second
	svc.Enroller.Now = func() time.Time {
		elapsed += 10 * time.Second
		return base.Add(elapsed)
	}

	res, err := svc.CreateCustomCampaign(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	w := res.Warning
	if w == nil {
		t.Fatal("expected partial warning")
	}
	if w.Reason != service.ReasonTimeout {
		t.Errorf("reason = %s, want %s", w.Reason, service.ReasonTimeout)
	}
	if w.Enrolled+w.Remaining != w.TotalMatching {
		t.Errorf("warning does not add up: %+v", w)
	}
}

func TestCreateScheduledCampaignSkipsEnrollment(t *testing.T) {
	leads := &mockLeadRepo{matching: leadIDs(10)}
	campaigns := &mockCampaignRepo{}
	svc := newCampaignService(leads, campaigns, &mockQueue{})

	in := validInput()
	future := time.Now().Add(2 * time.Hour)
	in.StartAt = &future

	res, err := svc.CreateCustomCampaign(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Campaign.Status != model.StatusScheduled {
		t.Errorf("status = %s, want scheduled", res.Campaign.Status)
	}
	if len(leads.enrolled) != 0 {
		t.Errorf("scheduled campaign enrolled %d leads, want 0", len(leads.enrolled))
	}
	if res.Warning != nil {
		t.Errorf("unexpected warning on scheduled campaign: %+v", res.Warning)
	}
}

func TestCreatePausedCampaignSkipsEnrollment(t *testing.T) {
	leads := &mockLeadRepo{matching: leadIDs(10)}
	svc := newCampaignService(leads, &mockCampaignRepo{}, &mockQueue{})

	in := validInput()
	in.IsPaused = true

	res, err := svc.CreateCustomCampaign(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Campaign.Status != model.StatusPaused {
		t.Errorf("status = %s, want paused", res.Campaign.Status)
	}
	if len(leads.enrolled) != 0 {
		t.Errorf("paused campaign enrolled %d leads, want 0", len(leads.enrolled))
	}
}

func TestCreateCampaignSurvivesSyncFailure(t *testing.T) {
	leads := &mockLeadRepo{matching: leadIDs(3)}
	q := &mockQueue{publishErr: errQueueDown}
	svc := newCampaignService(leads, &mockCampaignRepo{}, q)

	res, err := svc.CreateCustomCampaign(context.Background(), validInput())
	if err != nil {
		t.Fatalf("sync failure must not fail creation: %v", err)
	}
	if res.Campaign.LeadsEnrolled != 3 {
		t.Errorf("enrolled = %d, want 3", res.Campaign.LeadsEnrolled)
	}
}

func TestCreateWebinarCampaignResourceRule(t *testing.T) {
	svc := newCampaignService(&mockLeadRepo{}, &mockCampaignRepo{}, &mockQueue{})
	when := time.Now().Add(48 * time.Hour)

	base := func() *service.CreateFormCampaignInput {
		return &service.CreateFormCampaignInput{
			TenantID: "11111111-1111-1111-1111-111111111111",
			Name:     "Q3 Product Webinar",
			Type:     model.TypeWebinar,
			Webinar: &model.WebinarDetails{
				Datetime: &when,
				ZoomLink: "https://zoom.example/j/123",
			},
		}
	}

	in := base()
	in.Webinar.ResourceName = "Slides"
	if _, err := svc.CreateFormCampaign(context.Background(), in); !appErrors.IsValidation(err) {
		t.Fatalf("resource name without link: got %v, want validation error", err)
	}

	in = base()
	in.Webinar.ResourceLink = "https://cdn.example/slides.pdf"
	if _, err := svc.CreateFormCampaign(context.Background(), in); !appErrors.IsValidation(err) {
		t.Fatalf("resource link without name: got %v, want validation error", err)
	}

	in = base()
	in.Webinar.ResourceName = "Slides"
	in.Webinar.ResourceLink = "https://cdn.example/slides.pdf"
	c, err := svc.CreateFormCampaign(context.Background(), in)
	if err != nil {
		t.Fatalf("both set should pass: %v", err)
	}
	if c.Type != model.TypeWebinar || c.Status != model.StatusActive {
		t.Errorf("got type=%s status=%s", c.Type, c.Status)
	}

	if _, err := svc.CreateFormCampaign(context.Background(), base()); err != nil {
		t.Fatalf("neither set should pass: %v", err)
	}
}

func TestCreateActiveWebinarRequiresDetails(t *testing.T) {
	svc := newCampaignService(&mockLeadRepo{}, &mockCampaignRepo{}, &mockQueue{})

	in := &service.CreateFormCampaignInput{
		TenantID: "11111111-1111-1111-1111-111111111111",
		Name:     "Missing details",
		Type:     model.TypeWebinar,
	}
	if _, err := svc.CreateFormCampaign(context.Background(), in); !appErrors.IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}

	// Paused creation may defer the details.
	in.IsPaused = true
	if _, err := svc.CreateFormCampaign(context.Background(), in); err != nil {
		t.Fatalf("paused webinar without details should pass: %v", err)
	}
}

func TestCreateStandardCampaign(t *testing.T) {
	campaigns := &mockCampaignRepo{}
	svc := newCampaignService(&mockLeadRepo{}, campaigns, &mockQueue{})

	c, err := svc.CreateFormCampaign(context.Background(), &service.CreateFormCampaignInput{
		TenantID: "11111111-1111-1111-1111-111111111111",
		Name:     "Landing Page Signups",
		Type:     model.TypeStandard,
		FormID:   "form-42",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.FormID == nil || *c.FormID != "form-42" {
		t.Errorf("form id = %v", c.FormID)
	}
	if len(campaigns.created) != 1 {
		t.Errorf("created %d campaigns, want 1", len(campaigns.created))
	}
}

func TestCreateFormCampaignRejectsCustomType(t *testing.T) {
	svc := newCampaignService(&mockLeadRepo{}, &mockCampaignRepo{}, &mockQueue{})

	in := &service.CreateFormCampaignInput{
		TenantID: "11111111-1111-1111-1111-111111111111",
		Name:     "Wrong endpoint",
		Type:     model.TypeCustom,
	}
	if _, err := svc.CreateFormCampaign(context.Background(), in); !appErrors.IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestPreviewLeads(t *testing.T) {
	leads := &mockLeadRepo{
		countMatching: 42,
		sample: []model.Lead{
			{ID: "aaaaaaaa-0000-0000-0000-000000000001", FirstName: "Ada"},
		},
		breakdown: map[string]int{"High": 30, "Medium": 12},
	}
	svc := newCampaignService(leads, &mockCampaignRepo{}, &mockQueue{})

	preview, err := svc.PreviewLeads(context.Background(), validInput().Filter())
	if err != nil {
		t.Fatal(err)
	}
	if preview.TotalMatching != 42 {
		t.Errorf("total = %d, want 42", preview.TotalMatching)
	}
	if len(preview.Sample) != 1 {
		t.Errorf("sample size = %d, want 1", len(preview.Sample))
	}
	if preview.Breakdown["High"] != 30 {
		t.Errorf("breakdown = %v", preview.Breakdown)
	}
}

func TestPreviewLeadsRejectsInvalidFilter(t *testing.T) {
	svc := newCampaignService(&mockLeadRepo{}, &mockCampaignRepo{}, &mockQueue{})

	f := validInput().Filter()
	f.TargetTags = nil

	if _, err := svc.PreviewLeads(context.Background(), f); !appErrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
