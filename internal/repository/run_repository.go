package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/leadloop/outreach-backend/internal/errors"
	"github.com/leadloop/outreach-backend/internal/model"
)

// TenantHealth is one row of the de-enrollment health report.
type TenantHealth struct {
	TenantID      string     `json:"tenant_id"`
	FailedRuns24h int        `json:"failed_runs_24h"`
	StuckRunning  int        `json:"stuck_running"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
}

type RunRepositoryInterface interface {
	Create(ctx context.Context, run *model.DeEnrollmentRun) error
	GetByID(ctx context.Context, id string) (*model.DeEnrollmentRun, error)
	Finalize(ctx context.Context, run *model.DeEnrollmentRun) error
	TenantHealthReport(ctx context.Context, window time.Duration, failureThreshold int) ([]TenantHealth, error)
}

type RunRepository struct {
	DB *sql.DB
}

// Create persists a new run in running state. The terminal state arrives
// via Finalize exactly once; a run that never gets there stays visible as
// stuck-running for health reporting.
func (r *RunRepository) Create(ctx context.Context, run *model.DeEnrollmentRun) error {
	run.Status = model.RunStatusRunning
	run.StartedAt = time.Now()

	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO de_enrollment_runs (id, tenant_id, run_type, status, started_at)
        VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.TenantID, run.RunType, run.Status, run.StartedAt)
	return err
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.DeEnrollmentRun, error) {
	var (
		run       model.DeEnrollmentRun
		byOutcome []byte
	)
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, tenant_id, run_type, status, leads_evaluated,
               leads_de_enrolled, leads_skipped, by_outcome, duration_ms,
               error_details, checkpoint, started_at, updated_at
        FROM de_enrollment_runs WHERE id = $1`, id).Scan(
		&run.ID, &run.TenantID, &run.RunType, &run.Status, &run.LeadsEvaluated,
		&run.LeadsDeEnrolled, &run.LeadsSkipped, &byOutcome, &run.DurationMs,
		&run.ErrorDetails, &run.Checkpoint, &run.StartedAt, &run.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewRunNotFound(id)
		}
		return nil, err
	}
	if len(byOutcome) > 0 {
		if err := json.Unmarshal(byOutcome, &run.ByOutcome); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

func (r *RunRepository) Finalize(ctx context.Context, run *model.DeEnrollmentRun) error {
	byOutcome, err := json.Marshal(run.ByOutcome)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx, `
        UPDATE de_enrollment_runs
        SET status = $1,
            leads_evaluated = $2,
            leads_de_enrolled = $3,
            leads_skipped = $4,
            by_outcome = $5,
            duration_ms = $6,
            error_details = $7,
            checkpoint = $8,
            updated_at = NOW()
        WHERE id = $9`,
		run.Status, run.LeadsEvaluated, run.LeadsDeEnrolled, run.LeadsSkipped,
		byOutcome, run.DurationMs, run.ErrorDetails, run.Checkpoint, run.ID)
	return err
}

// TenantHealthReport surfaces tenants whose recent runs look unhealthy:
// repeated failures inside the window, no success inside the window, or
// runs stuck in running state.
func (r *RunRepository) TenantHealthReport(ctx context.Context, window time.Duration, failureThreshold int) ([]TenantHealth, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT tenant_id,
               COUNT(*) FILTER (WHERE status = 'failed' AND started_at > NOW() - $1::interval) AS failed_recent,
               COUNT(*) FILTER (WHERE status = 'running' AND started_at < NOW() - $2::interval) AS stuck_running,
               MAX(updated_at) FILTER (WHERE status = 'success') AS last_success
        FROM de_enrollment_runs
        GROUP BY tenant_id
        HAVING COUNT(*) FILTER (WHERE status = 'failed' AND started_at > NOW() - $1::interval) > $3
            OR COUNT(*) FILTER (WHERE status = 'running' AND started_at < NOW() - $2::interval) > 0
            OR MAX(updated_at) FILTER (WHERE status = 'success') IS NULL
            OR MAX(updated_at) FILTER (WHERE status = 'success') < NOW() - $1::interval
        ORDER BY tenant_id`,
		durationInterval(window), durationInterval(time.Hour), failureThreshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := []TenantHealth{}
	for rows.Next() {
		var th TenantHealth
		if err := rows.Scan(&th.TenantID, &th.FailedRuns24h, &th.StuckRunning, &th.LastSuccess); err != nil {
			return nil, err
		}
		report = append(report, th)
	}
	return report, rows.Err()
}

func durationInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

var _ RunRepositoryInterface = (*RunRepository)(nil)
