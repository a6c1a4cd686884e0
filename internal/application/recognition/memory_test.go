package recognition

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory backing store for the repository fakes below.
// Reads return copies so that unsaved changes never leak into the store.
type memStore struct {
	mu       sync.Mutex
	jobs     map[recognition.JobRef]*recognition.Job
	policies map[uuid.UUID]*recognition.Policy
	ledgers  map[recognition.JobRef]*recognition.JobRecognition
	postings []recognition.Posting
	actuals  []recognition.ActualEntry
	runs     map[uuid.UUID]*recognition.PeriodCloseRun

	jobErr map[recognition.JobRef]error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     map[recognition.JobRef]*recognition.Job{},
		policies: map[uuid.UUID]*recognition.Policy{},
		ledgers:  map[recognition.JobRef]*recognition.JobRecognition{},
		runs:     map[uuid.UUID]*recognition.PeriodCloseRun{},
		jobErr:   map[recognition.JobRef]error{},
	}
}

func copyJob(j *recognition.Job) *recognition.Job {
	c := *j
	c.ClearDomainEvents()
	return &c
}

func copyLedger(r *recognition.JobRecognition) *recognition.JobRecognition {
	c := *r
	c.WIP.AdjustmentPostingIDs = append([]uuid.UUID{}, r.WIP.AdjustmentPostingIDs...)
	c.Accrual.AdjustmentPostingIDs = append([]uuid.UUID{}, r.Accrual.AdjustmentPostingIDs...)
	c.WIP.FlaggedTriggers = append([]string{}, r.WIP.FlaggedTriggers...)
	c.Accrual.FlaggedTriggers = append([]string{}, r.Accrual.FlaggedTriggers...)
	c.ClearDomainEvents()
	return &c
}

func copyPolicy(p *recognition.Policy) *recognition.Policy {
	c := *p
	c.ClearDomainEvents()
	return &c
}

// ---- jobs ----

type memJobs struct{ s *memStore }

func (r memJobs) GetJob(_ context.Context, ref recognition.JobRef) (*recognition.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.jobErr[ref]; err != nil {
		return nil, err
	}
	j, ok := r.s.jobs[ref]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return copyJob(j), nil
}

func (r memJobs) Create(_ context.Context, job *recognition.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.Ref]; ok {
		return shared.ErrAlreadyExists
	}
	r.s.jobs[job.Ref] = copyJob(job)
	return nil
}

func (r memJobs) SaveWithLock(_ context.Context, job *recognition.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.jobs[job.Ref]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != job.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.s.jobs[job.Ref] = copyJob(job)
	return nil
}

// ---- policies ----

type memPolicies struct{ s *memStore }

func (r memPolicies) FindByID(_ context.Context, id uuid.UUID) (*recognition.Policy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.policies[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return copyPolicy(p), nil
}

func (r memPolicies) FindActiveByCompany(_ context.Context, company string) ([]*recognition.Policy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*recognition.Policy
	for _, p := range r.s.policies {
		if p.Company == company && p.IsActive() {
			out = append(out, copyPolicy(p))
		}
	}
	return out, nil
}

func (r memPolicies) FindAll(_ context.Context, filter recognition.PolicyFilter) ([]*recognition.Policy, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*recognition.Policy
	for _, p := range r.s.policies {
		if p.Company != filter.Company || (p.IsDeleted() && !filter.IncludeDeleted) {
			continue
		}
		if filter.Enabled != nil && p.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, copyPolicy(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, int64(len(out)), nil
}

func (r memPolicies) ExistsActiveWithScope(_ context.Context, scope recognition.Scope, excludeID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.policies {
		if p.ID != excludeID && p.IsActive() && p.Scope().SameAs(scope) {
			return true, nil
		}
	}
	return false, nil
}

func (r memPolicies) Create(_ context.Context, policy *recognition.Policy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.policies[policy.ID] = copyPolicy(policy)
	return nil
}

func (r memPolicies) SaveWithLock(_ context.Context, policy *recognition.Policy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.policies[policy.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != policy.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.s.policies[policy.ID] = copyPolicy(policy)
	return nil
}

// ---- ledgers ----

type memLedgers struct{ s *memStore }

func (r memLedgers) FindByJob(_ context.Context, ref recognition.JobRef) (*recognition.JobRecognition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.ledgers[ref]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return copyLedger(rec), nil
}

func (r memLedgers) FindByJobForUpdate(ctx context.Context, ref recognition.JobRef) (*recognition.JobRecognition, error) {
	return r.FindByJob(ctx, ref)
}

func (r memLedgers) FindOpenPage(_ context.Context, company string, asOf time.Time, cursor shared.Cursor) ([]*recognition.JobRecognition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*recognition.JobRecognition
	for _, rec := range r.s.ledgers {
		if rec.Company != company || bytes.Compare(rec.ID[:], cursor.AfterID[:]) <= 0 {
			continue
		}
		if openOnOrBefore(&rec.WIP, asOf) || openOnOrBefore(&rec.Accrual, asOf) {
			out = append(out, copyLedger(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	if cursor.Limit > 0 && len(out) > cursor.Limit {
		out = out[:cursor.Limit]
	}
	return out, nil
}

func openOnOrBefore(s *recognition.SideState, asOf time.Time) bool {
	return s.IsOpen() && s.RecognitionDate != nil && !s.RecognitionDate.After(asOf)
}

func (r memLedgers) Create(_ context.Context, rec *recognition.JobRecognition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.ledgers[rec.Job]; ok {
		return shared.ErrAlreadyExists
	}
	r.s.ledgers[rec.Job] = copyLedger(rec)
	return nil
}

func (r memLedgers) SaveWithLock(_ context.Context, rec *recognition.JobRecognition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.ledgers[rec.Job]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != rec.Version {
		return shared.ErrConcurrencyConflict
	}
	rec.Version++
	r.s.ledgers[rec.Job] = copyLedger(rec)
	return nil
}

// ---- postings ----

type memPostings struct{ s *memStore }

func (r memPostings) Create(_ context.Context, postings ...*recognition.Posting) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range postings {
		for _, existing := range r.s.postings {
			if existing.IdempotencyKey == p.IdempotencyKey {
				return shared.ErrAlreadyExists
			}
		}
	}
	for _, p := range postings {
		r.s.postings = append(r.s.postings, *p)
	}
	return nil
}

func (r memPostings) FindByIdempotencyKey(_ context.Context, key string) (*recognition.Posting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.postings {
		if p.IdempotencyKey == key {
			found := p
			return &found, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memPostings) FindByJob(_ context.Context, ref recognition.JobRef) ([]recognition.Posting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []recognition.Posting{}
	for _, p := range r.s.postings {
		if p.Job == ref {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memPostings) FindAll(_ context.Context, filter recognition.PostingFilter) ([]recognition.Posting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []recognition.Posting{}
	for _, p := range r.s.postings {
		if p.Company == filter.Company {
			out = append(out, p)
		}
	}
	return out, nil
}

// ---- actuals ----

type memActuals struct{ s *memStore }

func (r memActuals) ActualsAsOf(_ context.Context, ref recognition.JobRef, asOf time.Time) (recognition.Actuals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := recognition.Actuals{Revenue: decimal.Zero, Cost: decimal.Zero}
	for _, e := range r.s.actuals {
		if e.Job != ref || e.PostedOn.After(asOf) {
			continue
		}
		if e.Side == recognition.SideAccrual {
			a.Cost = a.Cost.Add(e.Amount)
		} else {
			a.Revenue = a.Revenue.Add(e.Amount)
		}
	}
	return a, nil
}

func (r memActuals) Record(_ context.Context, entry *recognition.ActualEntry) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.actuals {
		if e.Job == entry.Job && e.Side == entry.Side && e.SourceDocument == entry.SourceDocument {
			return false, nil
		}
	}
	r.s.actuals = append(r.s.actuals, *entry)
	return true, nil
}

// ---- runs ----

type memRuns struct{ s *memStore }

func (r memRuns) FindByID(_ context.Context, id uuid.UUID) (*recognition.PeriodCloseRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *run
	return &c, nil
}

func (r memRuns) FindByCompany(_ context.Context, company string, _ shared.Filter) ([]*recognition.PeriodCloseRun, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*recognition.PeriodCloseRun
	for _, run := range r.s.runs {
		if run.Company == company {
			c := *run
			out = append(out, &c)
		}
	}
	return out, int64(len(out)), nil
}

func (r memRuns) Create(_ context.Context, run *recognition.PeriodCloseRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *run
	r.s.runs[run.ID] = &c
	return nil
}

func (r memRuns) Save(_ context.Context, run *recognition.PeriodCloseRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.runs[run.ID]; !ok {
		return shared.ErrNotFound
	}
	c := *run
	r.s.runs[run.ID] = &c
	return nil
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// recordingPublisher keeps every published event type
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

// harness wires the services over one memStore
type harness struct {
	store     *memStore
	recog     *RecognitionService
	period    *PeriodCloseService
	policies  *PolicyService
	jobs      *JobService
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	logger := zap.NewNop()
	scope := NewNoOpTransactionScope(memLedgers{store}, memPostings{store}, memRuns{store})
	pub := &recordingPublisher{}

	h := &harness{
		store:     store,
		recog:     NewRecognitionService(memJobs{store}, memPolicies{store}, memLedgers{store}, memPostings{store}, scope, logger),
		period:    NewPeriodCloseService(memJobs{store}, memPolicies{store}, memLedgers{store}, memActuals{store}, memRuns{store}, scope, 2, logger),
		policies:  NewPolicyService(memPolicies{store}, logger),
		jobs:      NewJobService(memJobs{store}, memActuals{store}, logger),
		publisher: pub,
	}
	h.recog.SetEventPublisher(pub)
	h.period.SetEventPublisher(pub)
	h.policies.SetEventPublisher(pub)
	h.jobs.SetEventPublisher(pub)
	return h
}

// ---- fixtures ----

var (
	march5  = time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	march31 = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	april30 = time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sideSettings(debit, credit string, minimum int64) recognition.SideSettings {
	return recognition.SideSettings{
		Enabled:       true,
		DateBasis:     recognition.DateBasisJobCreationDate,
		DebitAccount:  debit,
		CreditAccount: credit,
		MinimumAmount: decimal.NewFromInt(minimum),
	}
}

func (h *harness) addPolicy(t *testing.T, name string, scope recognition.Scope, priority int, minWIP int64) *recognition.Policy {
	t.Helper()
	p, err := h.policies.Create(context.Background(), PolicyCommand{
		Name:     name,
		Scope:    scope,
		Priority: priority,
		WIP:      sideSettings("1410-WIP", "2410-DEFERRED-REV", minWIP),
		Accrual:  sideSettings("5410-COST-ACCRUAL", "2420-ACCRUED-COST", 0),
	})
	require.NoError(t, err)
	return p
}

func (h *harness) addJob(t *testing.T, id string, scope recognition.Scope, revenue, cost string) recognition.JobRef {
	t.Helper()
	ref, err := recognition.NewJobRef(recognition.JobTypeSeaShipment, id)
	require.NoError(t, err)
	values := map[string]string{}
	if revenue != "" {
		values[recognition.FieldEstimatedRevenue] = revenue
	}
	if cost != "" {
		values[recognition.FieldEstimatedCost] = cost
	}
	_, err = h.jobs.UpsertJob(context.Background(), UpsertJobCommand{
		Job:         ref,
		Scope:       scope,
		Dates:       recognition.JobDates{CreatedAt: march5},
		ChargeLines: []recognition.ChargeLine{{LineNo: 1, Values: values}},
	})
	require.NoError(t, err)
	return ref
}

// overrideJob stores (or refreshes) a job carrying job-level overrides
func (h *harness) overrideJob(t *testing.T, id string, revenue string, overrides recognition.JobOverrides) recognition.JobRef {
	t.Helper()
	ref, err := recognition.NewJobRef(recognition.JobTypeSeaShipment, id)
	require.NoError(t, err)
	_, err = h.jobs.UpsertJob(context.Background(), UpsertJobCommand{
		Job:         ref,
		Scope:       acme,
		Dates:       recognition.JobDates{CreatedAt: march5},
		ChargeLines: []recognition.ChargeLine{{LineNo: 1, Values: map[string]string{recognition.FieldEstimatedRevenue: revenue}}},
		Overrides:   overrides,
	})
	require.NoError(t, err)
	return ref
}

func (h *harness) addActual(t *testing.T, ref recognition.JobRef, side recognition.Side, amount string, postedOn time.Time, doc string) {
	t.Helper()
	_, err := h.jobs.RecordActual(context.Background(), RecordActualCommand{
		Job:            ref,
		Side:           side,
		Amount:         d(amount),
		PostedOn:       postedOn,
		SourceDocument: doc,
	})
	require.NoError(t, err)
}

func (h *harness) ledger(t *testing.T, ref recognition.JobRef) *recognition.JobRecognition {
	t.Helper()
	rec, err := memLedgers{h.store}.FindByJob(context.Background(), ref)
	require.NoError(t, err)
	return rec
}

func (h *harness) postingCount() int {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return len(h.store.postings)
}

var acme = recognition.Scope{Company: "ACME", CostCenter: "CC1"}

var errBoom = errors.New("boom")
