package handler_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leadloop/outreach-backend/internal/handler"
)

func protectedRouter(secret string) http.Handler {
	h := &handler.CronHandler{Secret: secret}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h.Authenticate(ok)
}

func TestCronAuthAcceptsCorrectToken(t *testing.T) {
	router := protectedRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/api/cron/de-enroll", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCronAuthRejections(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
	}{
		{"missing header", "s3cret", ""},
		{"wrong scheme", "s3cret", "Basic s3cret"},
		{"wrong token", "s3cret", "Bearer nope"},
		{"token with correct prefix", "s3cret", "Bearer s3cret-but-longer"},
		{"empty configured secret", "", "Bearer anything"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := protectedRouter(tc.secret)

			req := httptest.NewRequest(http.MethodPost, "/api/cron/de-enroll", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestDeEnrollRequiresTarget(t *testing.T) {
	h := &handler.CronHandler{Secret: "s3cret"}

	req := httptest.NewRequest(http.MethodPost, "/api/cron/de-enroll", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.DeEnrollHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeEnrollRejectsResumeWithAllTenants(t *testing.T) {
	h := &handler.CronHandler{Secret: "s3cret"}

	body := bytes.NewBufferString(`{"all_tenants": true, "resume_run_id": "run-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/cron/de-enroll", body)
	rec := httptest.NewRecorder()
	h.DeEnrollHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
