package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leadloop/outreach-backend/internal/filter"
	"github.com/leadloop/outreach-backend/internal/model"
	"github.com/leadloop/outreach-backend/internal/repository"
)

// Mock repositories

type mockLeadRepo struct {
	matching    []string
	matchingErr error

	// lockDenials is consumed one entry per TryAdvisoryLock call; true
	// means the lock is reported as held elsewhere. Exhausted entries
	// grant the lock.
	lockDenials []bool
	lockCalls   int

	ineligible map[string]bool
	enrollErr  map[string]error
	enrolled   []string

	countErr error

	countMatching int
	sample        []model.Lead
	breakdown     map[string]int

	// concluded is ordered by LeadID, mirroring the keyset pagination the
	// real query does.
	concluded    []repository.ConcludedLead
	fetchErrOnce bool
	deEnrollErr  map[string]error
	alreadyGone  map[string]bool
	deEnrolled   []string
	tenants      []string
	stuck        int
}

func (m *mockLeadRepo) FindMatchingIDs(ctx context.Context, tx *sql.Tx, f filter.LeadFilter) ([]string, error) {
	if m.matchingErr != nil {
		return nil, m.matchingErr
	}
	return m.matching, nil
}

func (m *mockLeadRepo) TryAdvisoryLock(ctx context.Context, tx *sql.Tx, key1, key2 int32) (bool, error) {
	i := m.lockCalls
	m.lockCalls++
	if i < len(m.lockDenials) && m.lockDenials[i] {
		return false, nil
	}
	return true, nil
}

func (m *mockLeadRepo) IsEligible(ctx context.Context, tx *sql.Tx, leadID string) (bool, error) {
	return !m.ineligible[leadID], nil
}

func (m *mockLeadRepo) Enroll(ctx context.Context, tx *sql.Tx, leadID string, snap repository.EnrollmentSnapshot) error {
	if err := m.enrollErr[leadID]; err != nil {
		return err
	}
	m.enrolled = append(m.enrolled, leadID)
	return nil
}

func (m *mockLeadRepo) CountByCampaign(ctx context.Context, tx *sql.Tx, campaignID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.enrolled), nil
}

func (m *mockLeadRepo) CountMatching(ctx context.Context, f filter.LeadFilter) (int, error) {
	return m.countMatching, nil
}

func (m *mockLeadRepo) SampleMatching(ctx context.Context, f filter.LeadFilter, limit int) ([]model.Lead, error) {
	if len(m.sample) > limit {
		return m.sample[:limit], nil
	}
	return m.sample, nil
}

func (m *mockLeadRepo) EngagementBreakdown(ctx context.Context, f filter.LeadFilter) (map[string]int, error) {
	return m.breakdown, nil
}

func (m *mockLeadRepo) FetchConcludedBatch(ctx context.Context, tenantID string, cursor *string, limit int) ([]repository.ConcludedLead, error) {
	if m.fetchErrOnce {
		m.fetchErrOnce = false
		return nil, fmt.Errorf("connection reset")
	}
	var out []repository.ConcludedLead
	for _, lead := range m.concluded {
		if cursor != nil && lead.LeadID <= *cursor {
			continue
		}
		out = append(out, lead)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockLeadRepo) DeEnroll(ctx context.Context, tx *sql.Tx, leadID string, entry model.HistoryEntry, completedAt time.Time) (bool, error) {
	if err := m.deEnrollErr[leadID]; err != nil {
		return false, err
	}
	if m.alreadyGone[leadID] {
		return false, nil
	}
	m.deEnrolled = append(m.deEnrolled, leadID)
	return true, nil
}

func (m *mockLeadRepo) TenantsWithConcludedLeads(ctx context.Context) ([]string, error) {
	return m.tenants, nil
}

func (m *mockLeadRepo) StuckLeadCount(ctx context.Context, olderThan time.Duration) (int, error) {
	return m.stuck, nil
}

var _ repository.LeadRepositoryInterface = (*mockLeadRepo)(nil)

type mockCampaignRepo struct {
	nameTaken bool
	createErr error
	created   []*model.Campaign

	byID map[string]*model.Campaign
	due  []*model.Campaign

	setCounts map[string][2]int // id -> {enrolled, totalMatched}
	activated map[string][2]int // id -> {enrolled, totalMatched}
	applied   map[string]model.OutcomeCounts
}

func (m *mockCampaignRepo) CreateTx(ctx context.Context, tx *sql.Tx, c *model.Campaign) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, c)
	return nil
}

func (m *mockCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	if c, ok := m.byID[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("campaign %s not found", id)
}

func (m *mockCampaignRepo) NameExists(ctx context.Context, tenantID, name string) (bool, error) {
	return m.nameTaken, nil
}

func (m *mockCampaignRepo) List(ctx context.Context, tenantID string, offset, limit int, campaignType, status string) ([]*model.Campaign, int, error) {
	return m.created, len(m.created), nil
}

func (m *mockCampaignRepo) FindDueScheduled(ctx context.Context, now time.Time, staleness time.Duration) ([]*model.Campaign, error) {
	return m.due, nil
}

func (m *mockCampaignRepo) SetEnrollmentCounts(ctx context.Context, tx *sql.Tx, id string, enrolled, totalMatched int) error {
	if m.setCounts == nil {
		m.setCounts = make(map[string][2]int)
	}
	m.setCounts[id] = [2]int{enrolled, totalMatched}
	return nil
}

func (m *mockCampaignRepo) Activate(ctx context.Context, tx *sql.Tx, id string, enrolled, totalMatched int) error {
	if m.activated == nil {
		m.activated = make(map[string][2]int)
	}
	m.activated[id] = [2]int{enrolled, totalMatched}
	return nil
}

func (m *mockCampaignRepo) ApplyDeEnrollment(ctx context.Context, tx *sql.Tx, id string, counts model.OutcomeCounts) error {
	if m.applied == nil {
		m.applied = make(map[string]model.OutcomeCounts)
	}
	c := m.applied[id]
	c.Completed += counts.Completed
	c.OptedOut += counts.OptedOut
	c.Booked += counts.Booked
	m.applied[id] = c
	return nil
}

var _ repository.CampaignRepositoryInterface = (*mockCampaignRepo)(nil)

type mockRunRepo struct {
	created   []*model.DeEnrollmentRun
	finalized []*model.DeEnrollmentRun
	byID      map[string]*model.DeEnrollmentRun
	health    []repository.TenantHealth
}

func (m *mockRunRepo) Create(ctx context.Context, run *model.DeEnrollmentRun) error {
	m.created = append(m.created, run)
	return nil
}

func (m *mockRunRepo) GetByID(ctx context.Context, id string) (*model.DeEnrollmentRun, error) {
	if r, ok := m.byID[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("run %s not found", id)
}

func (m *mockRunRepo) Finalize(ctx context.Context, run *model.DeEnrollmentRun) error {
	m.finalized = append(m.finalized, run)
	return nil
}

func (m *mockRunRepo) TenantHealthReport(ctx context.Context, window time.Duration, failureThreshold int) ([]repository.TenantHealth, error) {
	return m.health, nil
}

var _ repository.RunRepositoryInterface = (*mockRunRepo)(nil)

var errQueueDown = fmt.Errorf("queue down")

// mockQueue records published sync events.
type mockQueue struct {
	published  []any
	publishErr error
}

func (q *mockQueue) Publish(topic string, payload any) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, payload)
	return nil
}

func (q *mockQueue) Subscribe(topic string, handler func(payload any) error) error {
	return nil
}

// passthroughTx satisfies the services' RunTx hook: mocks ignore the tx
// argument, so no real transaction is needed.
func passthroughTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}
