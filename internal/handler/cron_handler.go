package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/leadloop/outreach-backend/internal/model"
	"github.com/leadloop/outreach-backend/internal/repository"
	"github.com/leadloop/outreach-backend/internal/service"
)

// CronHandler exposes the background maintenance surface: scheduled
// campaign activation, the de-enrollment sweep, and its health report.
// Every route requires the shared cron secret as a bearer token.
type CronHandler struct {
	Secret     string
	Activation *service.ActivationService
	DeEnroll   *service.DeEnrollmentService
	Health     *service.HealthService
	Runs       repository.RunRepositoryInterface
}

// Authenticate is chi middleware guarding the cron routes. The token
// comparison is constant-time so response timing leaks nothing about the
// secret.
func (h *CronHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || h.Secret == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if len(token) != len(h.Secret) ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActivateCampaignsHandler promotes due scheduled campaigns
func (h *CronHandler) ActivateCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.Activation.ActivateDue(r.Context())
	if err != nil {
		log.WithError(err).Error("scheduled activation pass failed")
		writeError(w, http.StatusInternalServerError, "activation pass failed")
		return
	}

	activated := 0
	for _, o := range outcomes {
		if o.Status == "activated" {
			activated++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": len(outcomes),
		"activated": activated,
		"results":   outcomes,
	})
}

type deEnrollPayload struct {
	TenantID    string `json:"tenant_id,omitempty"`
	AllTenants  bool   `json:"all_tenants,omitempty"`
	ResumeRunID string `json:"resume_run_id,omitempty"`
}

// DeEnrollHandler runs the de-enrollment sweep for one tenant or all
// tenants with concluded leads
func (h *CronHandler) DeEnrollHandler(w http.ResponseWriter, r *http.Request) {
	var payload deEnrollPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	switch {
	case payload.AllTenants:
		if payload.ResumeRunID != "" {
			writeError(w, http.StatusBadRequest, "resume_run_id requires a tenant_id")
			return
		}
		results, err := h.DeEnroll.ProcessAll(r.Context(), model.RunTypeScheduled)
		if err != nil {
			log.WithError(err).Error("de-enrollment pass failed")
			writeError(w, http.StatusInternalServerError, "de-enrollment pass failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tenants": len(results),
			"results": results,
		})
	case payload.TenantID != "":
		run, err := h.DeEnroll.ProcessTenant(r.Context(), payload.TenantID, model.RunTypeManual, payload.ResumeRunID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	default:
		writeError(w, http.StatusBadRequest, "either tenant_id or all_tenants is required")
	}
}

// GetRunHandler returns one de-enrollment run record
func (h *CronHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := h.Runs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// DeEnrollHealthHandler reports tenants with failing or stuck runs. Always
// 200; the payload's healthy flag carries the verdict so monitors can alert
// on content rather than status code.
func (h *CronHandler) DeEnrollHealthHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.Health.Report(r.Context())
	if err != nil {
		log.WithError(err).Error("health report failed")
		writeError(w, http.StatusInternalServerError, "health report failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
