package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/leadloop/outreach-backend/internal/errors"
	"github.com/leadloop/outreach-backend/internal/filter"
	"github.com/leadloop/outreach-backend/internal/model"
	"github.com/leadloop/outreach-backend/internal/ratelimit"
	"github.com/leadloop/outreach-backend/internal/service"
)

// CampaignHandler holds the dependencies for campaign-related HTTP handlers
type CampaignHandler struct {
	Service *service.CampaignService
	Limiter ratelimit.LimiterInterface
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service error classes onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case appErrors.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case appErrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// createCampaignPayload is the wire shape of POST /api/campaigns/custom.
// The exclusion flags default to true when omitted; sending false is an
// explicit opt-out.
type createCampaignPayload struct {
	TenantID         string          `json:"tenant_id"`
	Name             string          `json:"name"`
	TargetTags       []string        `json:"target_tags"`
	CreatedAfter     *time.Time      `json:"created_after,omitempty"`
	CreatedBefore    *time.Time      `json:"created_before,omitempty"`
	MinIcpScore      *int            `json:"min_icp_score,omitempty"`
	MaxIcpScore      *int            `json:"max_icp_score,omitempty"`
	EngagementLevels []string        `json:"engagement_levels,omitempty"`
	Messages         []model.Message `json:"messages"`
	IsPaused         bool            `json:"is_paused"`
	StartAt          *time.Time      `json:"start_at,omitempty"`
	MaxLeadsToEnroll *int            `json:"max_leads_to_enroll,omitempty"`

	ExcludeBooked           *bool `json:"exclude_booked,omitempty"`
	ExcludeOptedOut         *bool `json:"exclude_opted_out,omitempty"`
	ExcludeInActiveCampaign *bool `json:"exclude_in_active_campaign,omitempty"`
}

func boolOrTrue(p *bool) bool {
	if p == nil {
		return true
	}
	return *p
}

func (p *createCampaignPayload) toInput() *service.CreateCustomCampaignInput {
	return &service.CreateCustomCampaignInput{
		TenantID:                p.TenantID,
		Name:                    p.Name,
		TargetTags:              p.TargetTags,
		CreatedAfter:            p.CreatedAfter,
		CreatedBefore:           p.CreatedBefore,
		MinIcpScore:             p.MinIcpScore,
		MaxIcpScore:             p.MaxIcpScore,
		EngagementLevels:        p.EngagementLevels,
		Messages:                p.Messages,
		IsPaused:                p.IsPaused,
		StartAt:                 p.StartAt,
		MaxLeadsToEnroll:        p.MaxLeadsToEnroll,
		ExcludeBooked:           boolOrTrue(p.ExcludeBooked),
		ExcludeOptedOut:         boolOrTrue(p.ExcludeOptedOut),
		ExcludeInActiveCampaign: boolOrTrue(p.ExcludeInActiveCampaign),
	}
}

// allow applies the per-tenant rate limit; a limiter failure lets the
// request through rather than turning a storage hiccup into an outage.
func (h *CampaignHandler) allow(r *http.Request, tenantID string) bool {
	if h.Limiter == nil {
		return true
	}
	ok, err := h.Limiter.Allow(r.Context(), tenantID)
	if err != nil {
		log.WithError(err).Warn("rate limiter unavailable, admitting request")
		return true
	}
	return ok
}

// CreateCustomCampaignHandler handles creating a custom campaign with
// synchronous enrollment
func (h *CampaignHandler) CreateCustomCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var payload createCampaignPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if payload.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if !h.allow(r, payload.TenantID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again shortly")
		return
	}

	result, err := h.Service.CreateCustomCampaign(r.Context(), payload.toInput())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// CreateCampaignHandler handles creating a standard or webinar campaign
func (h *CampaignHandler) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TenantID string                `json:"tenant_id"`
		Name     string                `json:"name"`
		Type     model.CampaignType    `json:"campaign_type"`
		FormID   string                `json:"form_id,omitempty"`
		IsPaused bool                  `json:"is_paused"`
		StartAt  *time.Time            `json:"start_at,omitempty"`
		Webinar  *model.WebinarDetails `json:"webinar,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if payload.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if !h.allow(r, payload.TenantID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again shortly")
		return
	}

	campaign, err := h.Service.CreateFormCampaign(r.Context(), &service.CreateFormCampaignInput{
		TenantID: payload.TenantID,
		Name:     payload.Name,
		Type:     payload.Type,
		FormID:   payload.FormID,
		IsPaused: payload.IsPaused,
		StartAt:  payload.StartAt,
		Webinar:  payload.Webinar,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

// PreviewLeadsHandler counts and samples the leads a prospective campaign
// would target, without creating anything
func (h *CampaignHandler) PreviewLeadsHandler(w http.ResponseWriter, r *http.Request) {
	var payload createCampaignPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if payload.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if !h.allow(r, payload.TenantID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again shortly")
		return
	}

	f := filter.LeadFilter{
		TenantID:                payload.TenantID,
		TargetTags:              payload.TargetTags,
		CreatedAfter:            payload.CreatedAfter,
		CreatedBefore:           payload.CreatedBefore,
		MinIcpScore:             payload.MinIcpScore,
		MaxIcpScore:             payload.MaxIcpScore,
		EngagementLevels:        payload.EngagementLevels,
		ExcludeBooked:           boolOrTrue(payload.ExcludeBooked),
		ExcludeOptedOut:         boolOrTrue(payload.ExcludeOptedOut),
		ExcludeInActiveCampaign: boolOrTrue(payload.ExcludeInActiveCampaign),
	}

	preview, err := h.Service.PreviewLeads(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	page := 1
	pageSize := 20
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}

	campaignType := r.URL.Query().Get("campaign_type")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), tenantID, page, pageSize, campaignType, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaignHandler returns details of a single campaign by ID
func (h *CampaignHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := h.Service.GetCampaign(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}
