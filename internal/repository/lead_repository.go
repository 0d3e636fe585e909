package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/leadloop/outreach-backend/internal/filter"
	"github.com/leadloop/outreach-backend/internal/lock"
	"github.com/leadloop/outreach-backend/internal/model"
)

// EnrollmentSnapshot is what the enrollment transaction stamps onto a lead:
// the campaign identity plus the version and message count frozen at
// enrollment time, so the lead finishes the sequence it signed up for even
// if the campaign is edited mid-flight.
type EnrollmentSnapshot struct {
	CampaignID      string
	CampaignName    string
	CampaignVersion int
	MessageCount    int
	EnrolledAt      time.Time
}

// ConcludedLead is one row of a de-enrollment batch: a lead whose sequence
// has finished, together with everything needed to classify and log the
// exit.
type ConcludedLead struct {
	LeadID           string
	CampaignID       string
	CampaignName     string
	SequencePosition int
	MessageCount     int
	Booked           bool
	OptedOut         bool
	EnrolledAt       *time.Time
	EnrolledVersion  int
}

type LeadRepositoryInterface interface {
	// Enrollment path (tx-scoped)
	FindMatchingIDs(ctx context.Context, tx *sql.Tx, f filter.LeadFilter) ([]string, error)
	TryAdvisoryLock(ctx context.Context, tx *sql.Tx, key1, key2 int32) (bool, error)
	IsEligible(ctx context.Context, tx *sql.Tx, leadID string) (bool, error)
	Enroll(ctx context.Context, tx *sql.Tx, leadID string, snap EnrollmentSnapshot) error
	CountByCampaign(ctx context.Context, tx *sql.Tx, campaignID string) (int, error)

	// Preview path
	CountMatching(ctx context.Context, f filter.LeadFilter) (int, error)
	SampleMatching(ctx context.Context, f filter.LeadFilter, limit int) ([]model.Lead, error)
	EngagementBreakdown(ctx context.Context, f filter.LeadFilter) (map[string]int, error)

	// De-enrollment path
	FetchConcludedBatch(ctx context.Context, tenantID string, cursor *string, limit int) ([]ConcludedLead, error)
	DeEnroll(ctx context.Context, tx *sql.Tx, leadID string, entry model.HistoryEntry, completedAt time.Time) (bool, error)
	TenantsWithConcludedLeads(ctx context.Context) ([]string, error)
	StuckLeadCount(ctx context.Context, olderThan time.Duration) (int, error)
}

type LeadRepository struct {
	DB *sql.DB
}

// FindMatchingIDs returns candidate lead ids for enrollment, ordered by
// creation time so repeated runs process leads deterministically. Runs
// inside the enrollment transaction so the candidate set is read under the
// same isolation as the per-lead re-checks.
func (r *LeadRepository) FindMatchingIDs(ctx context.Context, tx *sql.Tx, f filter.LeadFilter) ([]string, error) {
	where, args := f.Clause(0)
	query := fmt.Sprintf("SELECT id FROM leads WHERE %s ORDER BY created_at, id", where)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *LeadRepository) TryAdvisoryLock(ctx context.Context, tx *sql.Tx, key1, key2 int32) (bool, error) {
	return lock.TryAcquire(ctx, tx, key1, key2)
}

// IsEligible re-checks a lead at enrollment time: not already a member of
// a campaign, not opted out, still active. Must run under the enrollment
// transaction's isolation.
func (r *LeadRepository) IsEligible(ctx context.Context, tx *sql.Tx, leadID string) (bool, error) {
	var eligible bool
	err := tx.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM leads
            WHERE id = $1
              AND campaign_id IS NULL
              AND opted_out = FALSE
              AND is_active = TRUE
        )`, leadID).Scan(&eligible)
	return eligible, err
}

func (r *LeadRepository) Enroll(ctx context.Context, tx *sql.Tx, leadID string, snap EnrollmentSnapshot) error {
	entry := model.HistoryEntry{
		CampaignID:      snap.CampaignID,
		CampaignName:    snap.CampaignName,
		EnrolledVersion: snap.CampaignVersion,
		EnrolledAt:      snap.EnrolledAt.UTC().Format(time.RFC3339),
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE leads
        SET campaign_id = $1,
            enrolled_campaign_version = $2,
            enrolled_message_count = $3,
            enrolled_at = $4,
            sequence_position = 0,
            campaign_history = campaign_history || $5::jsonb,
            updated_at = $4
        WHERE id = $6`,
		snap.CampaignID, snap.CampaignVersion, snap.MessageCount,
		snap.EnrolledAt, entryJSON, leadID,
	)
	return err
}

// CountByCampaign is the verified membership count. The database is the
// source of truth for enrollment totals, never the loop counter.
func (r *LeadRepository) CountByCampaign(ctx context.Context, tx *sql.Tx, campaignID string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM leads WHERE campaign_id = $1", campaignID,
	).Scan(&count)
	return count, err
}

func (r *LeadRepository) CountMatching(ctx context.Context, f filter.LeadFilter) (int, error) {
	where, args := f.Clause(0)
	var count int
	err := r.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM leads WHERE %s", where), args...,
	).Scan(&count)
	return count, err
}

func (r *LeadRepository) SampleMatching(ctx context.Context, f filter.LeadFilter, limit int) ([]model.Lead, error) {
	where, args := f.Clause(0)
	query := fmt.Sprintf(`
        SELECT id, tenant_id, phone, first_name, last_name, tags, icp_score,
               engagement_level, created_at
        FROM leads WHERE %s
        ORDER BY created_at, id
        LIMIT $%d`, where, len(args)+1)
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []model.Lead{}
	for rows.Next() {
		var l model.Lead
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Phone, &l.FirstName, &l.LastName,
			pq.Array(&l.Tags), &l.IcpScore, &l.EngagementLevel, &l.CreatedAt); err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (r *LeadRepository) EngagementBreakdown(ctx context.Context, f filter.LeadFilter) (map[string]int, error) {
	where, args := f.Clause(0)
	query := fmt.Sprintf(
		"SELECT engagement_level, COUNT(*) FROM leads WHERE %s GROUP BY engagement_level", where)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := map[string]int{"High": 0, "Medium": 0, "Low": 0}
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		breakdown[level] = count
	}
	return breakdown, rows.Err()
}

// FetchConcludedBatch pages through leads whose sequence has finished
// (booked, opted out, or all snapshotted messages sent), keyed by lead id
// so an interrupted run can resume from its checkpoint cursor.
func (r *LeadRepository) FetchConcludedBatch(ctx context.Context, tenantID string, cursor *string, limit int) ([]ConcludedLead, error) {
	var cursorArg interface{}
	if cursor != nil {
		cursorArg = *cursor
	}

	rows, err := r.DB.QueryContext(ctx, `
        SELECT l.id, l.campaign_id, c.name, l.sequence_position,
               l.enrolled_message_count, l.booked, l.opted_out, l.enrolled_at,
               COALESCE(l.enrolled_campaign_version, 1)
        FROM leads l
        JOIN campaigns c ON c.id = l.campaign_id
        WHERE l.tenant_id = $1
          AND l.is_active = TRUE
          AND l.completed_at IS NULL
          AND l.campaign_id IS NOT NULL
          AND (l.booked = TRUE
               OR l.opted_out = TRUE
               OR (l.enrolled_message_count > 0
                   AND l.sequence_position >= l.enrolled_message_count))
          AND ($2::uuid IS NULL OR l.id > $2::uuid)
        ORDER BY l.id
        LIMIT $3`, tenantID, cursorArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batch := []ConcludedLead{}
	for rows.Next() {
		var cl ConcludedLead
		if err := rows.Scan(&cl.LeadID, &cl.CampaignID, &cl.CampaignName,
			&cl.SequencePosition, &cl.MessageCount, &cl.Booked, &cl.OptedOut,
			&cl.EnrolledAt, &cl.EnrolledVersion); err != nil {
			return nil, err
		}
		batch = append(batch, cl)
	}
	return batch, rows.Err()
}

// DeEnroll deactivates a lead and clears its membership reference. The
// guard clauses make the update a no-op if another run already processed
// the lead, which is how resumed runs stay exactly-once.
func (r *LeadRepository) DeEnroll(ctx context.Context, tx *sql.Tx, leadID string, entry model.HistoryEntry, completedAt time.Time) (bool, error) {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
        UPDATE leads
        SET is_active = FALSE,
            campaign_id = NULL,
            completed_at = $1,
            campaign_history = campaign_history || $2::jsonb,
            updated_at = $1
        WHERE id = $3
          AND is_active = TRUE
          AND completed_at IS NULL`,
		completedAt, entryJSON, leadID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *LeadRepository) TenantsWithConcludedLeads(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT DISTINCT l.tenant_id
        FROM leads l
        WHERE l.is_active = TRUE
          AND l.completed_at IS NULL
          AND l.campaign_id IS NOT NULL
          AND (l.booked = TRUE
               OR l.opted_out = TRUE
               OR (l.enrolled_message_count > 0
                   AND l.sequence_position >= l.enrolled_message_count))
        ORDER BY l.tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// StuckLeadCount counts leads that look concluded but have sat unprocessed
// longer than olderThan. Feeds health reporting only.
func (r *LeadRepository) StuckLeadCount(ctx context.Context, olderThan time.Duration) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*)
        FROM leads l
        WHERE l.is_active = TRUE
          AND l.completed_at IS NULL
          AND l.campaign_id IS NOT NULL
          AND l.enrolled_message_count > 0
          AND l.sequence_position >= l.enrolled_message_count
          AND l.updated_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	).Scan(&count)
	return count, err
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
