package model

import "time"

// De-enrollment run types.
const (
	RunTypeScheduled = "scheduled"
	RunTypeManual    = "manual"
	RunTypeRetry     = "retry"
)

// De-enrollment run statuses. A run is created in running state and
// finalized exactly once to success, failed, or partial. A run stuck in
// running indicates a crashed worker and surfaces through health reporting.
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusPartial = "partial"
)

// OutcomeCounts breaks de-enrolled leads down by exit classification.
type OutcomeCounts struct {
	Completed int `json:"completed"`
	OptedOut  int `json:"opted_out"`
	Booked    int `json:"booked"`
}

func (o OutcomeCounts) Total() int {
	return o.Completed + o.OptedOut + o.Booked
}

// DeEnrollmentRun is the monitoring record of one de-enrollment pass for a
// tenant. Checkpoint holds the last processed lead id so a partial run can
// resume without reprocessing.
type DeEnrollmentRun struct {
	ID             string        `db:"id" json:"id"`
	TenantID       string        `db:"tenant_id" json:"tenant_id"`
	RunType        string        `db:"run_type" json:"run_type"`
	Status         string        `db:"status" json:"status"`
	LeadsEvaluated int           `db:"leads_evaluated" json:"leads_evaluated"`
	LeadsDeEnrolled int          `db:"leads_de_enrolled" json:"leads_de_enrolled"`
	LeadsSkipped   int           `db:"leads_skipped" json:"leads_skipped"`
	ByOutcome      OutcomeCounts `db:"by_outcome" json:"by_outcome"`
	DurationMs     int64         `db:"duration_ms" json:"duration_ms"`
	ErrorDetails   *string       `db:"error_details" json:"error_details,omitempty"`
	Checkpoint     *string       `db:"checkpoint" json:"checkpoint,omitempty"`
	StartedAt      time.Time     `db:"started_at" json:"started_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}
