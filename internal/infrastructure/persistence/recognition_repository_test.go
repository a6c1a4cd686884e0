package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	march5  = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	march31 = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
)

func setupRecognitionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// each pooled connection would otherwise see its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.RecognitionModels()...))
	return db
}

func testSettings(debit, credit string) recognition.SideSettings {
	return recognition.SideSettings{
		Enabled:       true,
		DateBasis:     recognition.DateBasisJobCreationDate,
		DebitAccount:  debit,
		CreditAccount: credit,
		MinimumAmount: decimal.Zero,
	}
}

func testPolicy(t *testing.T, name string, scope recognition.Scope) *recognition.Policy {
	t.Helper()
	p, err := recognition.NewPolicy(name, scope, 0,
		testSettings("1410-WIP", "2410-DEFERRED-REV"),
		testSettings("5410-COST-ACCRUAL", "2420-ACCRUED-COST"))
	require.NoError(t, err)
	return p
}

func testJob(t *testing.T, id string, company string) *recognition.Job {
	t.Helper()
	ref, err := recognition.NewJobRef(recognition.JobTypeSeaShipment, id)
	require.NoError(t, err)
	job, err := recognition.NewJob(ref, recognition.Scope{Company: company, CostCenter: "CC1"},
		recognition.JobDates{CreatedAt: march5},
		[]recognition.ChargeLine{{LineNo: 1, Values: map[string]string{"amount": "500", "cost": "300"}}},
		recognition.JobOverrides{})
	require.NoError(t, err)
	return job
}

// openLedger creates a ledger with the WIP side recognized for amount
func openLedger(t *testing.T, job *recognition.Job, amount string) (*recognition.JobRecognition, *recognition.Posting) {
	t.Helper()
	rec := recognition.NewJobRecognition(job)
	tr, err := rec.Recognize(recognition.SideWIP, decimal.RequireFromString(amount),
		testSettings("1410-WIP", "2410-DEFERRED-REV"), uuid.New(), march5, "test")
	require.NoError(t, err)
	require.Equal(t, recognition.OutcomePosted, tr.Outcome)
	return rec, tr.Posting
}

func TestGormPolicyRepository(t *testing.T) {
	db := setupRecognitionTestDB(t)
	repo := NewGormPolicyRepository(db)
	ctx := context.Background()

	general := testPolicy(t, "company default", recognition.Scope{Company: "ACME"})
	specific := testPolicy(t, "cc1", recognition.Scope{Company: "ACME", CostCenter: " CC1 "})
	other := testPolicy(t, "other company", recognition.Scope{Company: "BETA"})
	for _, p := range []*recognition.Policy{general, specific, other} {
		require.NoError(t, repo.Create(ctx, p))
	}

	t.Run("round trips settings", func(t *testing.T) {
		found, err := repo.FindByID(ctx, specific.ID)
		require.NoError(t, err)
		assert.Equal(t, "CC1", found.CostCenter)
		assert.Equal(t, "1410-WIP", found.WIP.DebitAccount)
		assert.Equal(t, recognition.DateBasisJobCreationDate, found.Accrual.DateBasis)
		assert.True(t, found.Enabled)
		assert.Equal(t, 1, found.Version)
	})

	t.Run("missing policy", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("active by company", func(t *testing.T) {
		active, err := repo.FindActiveByCompany(ctx, "ACME")
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("scope conflict check", func(t *testing.T) {
		exists, err := repo.ExistsActiveWithScope(ctx, recognition.Scope{Company: "ACME ", CostCenter: "CC1"}, uuid.Nil)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.ExistsActiveWithScope(ctx, specific.Scope(), specific.ID)
		require.NoError(t, err)
		assert.False(t, exists, "the policy itself is excluded")
	})

	t.Run("disable persists and stale writes are rejected", func(t *testing.T) {
		stale, err := repo.FindByID(ctx, general.ID)
		require.NoError(t, err)

		general.Disable()
		require.NoError(t, repo.SaveWithLock(ctx, general))

		found, err := repo.FindByID(ctx, general.ID)
		require.NoError(t, err)
		assert.False(t, found.Enabled)
		assert.Equal(t, 2, found.Version)

		stale.Delete()
		assert.ErrorIs(t, repo.SaveWithLock(ctx, stale), shared.ErrConcurrencyConflict)

		active, err := repo.FindActiveByCompany(ctx, "ACME")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, specific.ID, active[0].ID)
	})

	t.Run("list with filters", func(t *testing.T) {
		enabled := true
		list, total, err := repo.FindAll(ctx, recognition.PolicyFilter{Company: "ACME", Enabled: &enabled})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, list, 1)

		list, total, err = repo.FindAll(ctx, recognition.PolicyFilter{
			Company: "ACME",
			Filter:  shared.Filter{Search: "default", Page: 1, PageSize: 10},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, general.ID, list[0].ID)
	})

	t.Run("deleted policies are hidden unless requested", func(t *testing.T) {
		specific.Delete()
		require.NoError(t, repo.SaveWithLock(ctx, specific))

		_, total, err := repo.FindAll(ctx, recognition.PolicyFilter{Company: "ACME"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)

		_, total, err = repo.FindAll(ctx, recognition.PolicyFilter{Company: "ACME", IncludeDeleted: true})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)

		found, err := repo.FindByID(ctx, specific.ID)
		require.NoError(t, err)
		assert.True(t, found.IsDeleted())
	})
}

func TestGormJobRepository(t *testing.T) {
	db := setupRecognitionTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()

	job := testJob(t, "SEA-100", "ACME")
	require.NoError(t, repo.Create(ctx, job))
	assert.ErrorIs(t, repo.Create(ctx, testJob(t, "SEA-100", "ACME")), shared.ErrAlreadyExists)

	found, err := repo.GetJob(ctx, job.Ref)
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)
	assert.Equal(t, recognition.JobStatusOpen, found.Status)
	require.Len(t, found.ChargeLines, 1)
	assert.Equal(t, "500", found.ChargeLines[0].Values["amount"])
	assert.True(t, found.Dates.CreatedAt.Equal(march5))

	require.NoError(t, found.ChangeStatus(recognition.JobStatusCompleted, "delivered"))
	require.NoError(t, repo.SaveWithLock(ctx, found))

	require.NoError(t, job.ChangeStatus(recognition.JobStatusCancelled, "stale"))
	assert.ErrorIs(t, repo.SaveWithLock(ctx, job), shared.ErrConcurrencyConflict)

	found, err = repo.GetJob(ctx, job.Ref)
	require.NoError(t, err)
	assert.Equal(t, recognition.JobStatusCompleted, found.Status)

	missing, _ := recognition.NewJobRef(recognition.JobTypeAirShipment, "NOPE")
	_, err = repo.GetJob(ctx, missing)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormJobRecognitionRepository(t *testing.T) {
	db := setupRecognitionTestDB(t)
	repo := NewGormJobRecognitionRepository(db)
	ctx := context.Background()

	rec, _ := openLedger(t, testJob(t, "SEA-200", "ACME"), "500")
	require.NoError(t, repo.Create(ctx, rec))
	assert.ErrorIs(t, repo.Create(ctx, recognition.NewJobRecognition(testJob(t, "SEA-200", "ACME"))), shared.ErrAlreadyExists)

	t.Run("round trips side state", func(t *testing.T) {
		found, err := repo.FindByJobForUpdate(ctx, rec.Job)
		require.NoError(t, err)
		assert.Equal(t, recognition.SideStatusOpen, found.WIP.Status)
		assert.True(t, found.WIP.Balance.Equal(decimal.NewFromInt(500)))
		assert.Equal(t, "1410-WIP", found.WIP.Accounts.Debit)
		require.NotNil(t, found.WIP.RecognitionDate)
		assert.True(t, found.WIP.RecognitionDate.Equal(march5))
		assert.Equal(t, rec.WIP.InitialPostingID, found.WIP.InitialPostingID)
		assert.Equal(t, recognition.SideStatusNotStarted, found.Accrual.Status)
	})

	t.Run("save advances the version once", func(t *testing.T) {
		found, err := repo.FindByJob(ctx, rec.Job)
		require.NoError(t, err)
		stale, err := repo.FindByJob(ctx, rec.Job)
		require.NoError(t, err)

		_, err = found.Adjust(recognition.SideWIP, decimal.NewFromInt(200), march31, "INV-1")
		require.NoError(t, err)
		require.NoError(t, repo.SaveWithLock(ctx, found))
		assert.Equal(t, rec.Version+1, found.Version)

		_, err = stale.Adjust(recognition.SideWIP, decimal.NewFromInt(50), march31, "INV-2")
		require.NoError(t, err)
		assert.ErrorIs(t, repo.SaveWithLock(ctx, stale), shared.ErrConcurrencyConflict)

		reloaded, err := repo.FindByJob(ctx, rec.Job)
		require.NoError(t, err)
		assert.True(t, reloaded.WIP.Balance.Equal(decimal.NewFromInt(300)))
		assert.Len(t, reloaded.WIP.AdjustmentPostingIDs, 1)
		assert.Equal(t, found.Version, reloaded.Version)
		assert.Empty(t, reloaded.WIP.FlaggedTriggers)
	})

	t.Run("keeps flagged triggers", func(t *testing.T) {
		found, err := repo.FindByJob(ctx, rec.Job)
		require.NoError(t, err)
		_, err = found.Adjust(recognition.SideWIP, decimal.NewFromInt(300), march31, "INV-3")
		require.NoError(t, err)
		_, err = found.Adjust(recognition.SideWIP, decimal.NewFromInt(40), march31, "INV-4")
		require.NoError(t, err)
		require.NoError(t, repo.SaveWithLock(ctx, found))

		reloaded, err := repo.FindByJob(ctx, rec.Job)
		require.NoError(t, err)
		assert.Equal(t, []string{"INV-4"}, reloaded.WIP.FlaggedTriggers)
		assert.True(t, reloaded.WIP.Overage.Equal(decimal.NewFromInt(40)))
		assert.Equal(t, []string{}, reloaded.Accrual.FlaggedTriggers)
	})

	t.Run("missing ledger", func(t *testing.T) {
		missing, _ := recognition.NewJobRef(recognition.JobTypeSeaShipment, "NOPE")
		_, err := repo.FindByJob(ctx, missing)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormJobRecognitionRepository_FindOpenPage(t *testing.T) {
	db := setupRecognitionTestDB(t)
	repo := NewGormJobRecognitionRepository(db)
	ctx := context.Background()

	var open []uuid.UUID
	for _, id := range []string{"SEA-1", "SEA-2", "SEA-3"} {
		rec, _ := openLedger(t, testJob(t, id, "ACME"), "100")
		require.NoError(t, repo.Create(ctx, rec))
		open = append(open, rec.ID)
	}
	// not started, other company
	require.NoError(t, repo.Create(ctx, recognition.NewJobRecognition(testJob(t, "SEA-4", "ACME"))))
	other, _ := openLedger(t, testJob(t, "SEA-5", "BETA"), "100")
	require.NoError(t, repo.Create(ctx, other))

	first, err := repo.FindOpenPage(ctx, "ACME", march31, shared.Cursor{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := repo.FindOpenPage(ctx, "ACME", march31, shared.Cursor{Limit: 2}.Next(first[1].ID))
	require.NoError(t, err)
	require.Len(t, second, 1)

	var seen []uuid.UUID
	for _, r := range append(first, second...) {
		seen = append(seen, r.ID)
	}
	assert.ElementsMatch(t, open, seen)

	early, err := repo.FindOpenPage(ctx, "ACME", march5.AddDate(0, 0, -1), shared.Cursor{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, early, "recognized after the period end")
}

func TestGormPostingRepository(t *testing.T) {
	db := setupRecognitionTestDB(t)
	repo := NewGormPostingRepository(db)
	ctx := context.Background()

	rec, initial := openLedger(t, testJob(t, "SEA-300", "ACME"), "500")
	tr, err := rec.Adjust(recognition.SideWIP, decimal.NewFromInt(120), march31, "INV-1")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, initial, tr.Posting))

	t.Run("duplicate key is rejected", func(t *testing.T) {
		dup := *tr.Posting
		dup.ID = uuid.New()
		assert.ErrorIs(t, repo.Create(ctx, &dup), shared.ErrAlreadyExists)
	})

	t.Run("find by key", func(t *testing.T) {
		found, err := repo.FindByIdempotencyKey(ctx, tr.Posting.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, tr.Posting.ID, found.ID)
		assert.Equal(t, recognition.PostingKindWIPAdjustment, found.Kind)
		assert.True(t, found.Amount.Equal(decimal.NewFromInt(120)))

		_, err = repo.FindByIdempotencyKey(ctx, "nope")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("by job in creation order", func(t *testing.T) {
		list, err := repo.FindByJob(ctx, rec.Job)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, recognition.PostingKindInitialWIP, list[0].Kind)
	})

	t.Run("journal filters", func(t *testing.T) {
		from := march31
		list, err := repo.FindAll(ctx, recognition.PostingFilter{Company: "ACME", FromDate: &from})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, tr.Posting.ID, list[0].ID)

		list, err = repo.FindAll(ctx, recognition.PostingFilter{Company: "ACME", Kinds: []recognition.PostingKind{recognition.PostingKindInitialWIP}})
		require.NoError(t, err)
		require.Len(t, list, 1)

		list, err = repo.FindAll(ctx, recognition.PostingFilter{Company: "BETA"})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestGormActualRepository(t *testing.T) {
	db := setupRecognitionTestDB(t)
	repo := NewGormActualRepository(db)
	ctx := context.Background()

	ref, err := recognition.NewJobRef(recognition.JobTypeSeaShipment, "SEA-400")
	require.NoError(t, err)
	record := func(side recognition.Side, amount string, on time.Time, doc string) bool {
		e, err := recognition.NewActualEntry("ACME", ref, side, decimal.RequireFromString(amount), on, doc)
		require.NoError(t, err)
		ok, err := repo.Record(ctx, e)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, record(recognition.SideWIP, "100", march5, "INV-1"))
	assert.True(t, record(recognition.SideWIP, "50", march31, "INV-2"))
	assert.True(t, record(recognition.SideAccrual, "70", march5, "BILL-1"))
	assert.True(t, record(recognition.SideWIP, "30", march31.AddDate(0, 0, 1), "INV-3"))
	assert.False(t, record(recognition.SideWIP, "100", march5, "INV-1"), "same document twice")

	actuals, err := repo.ActualsAsOf(ctx, ref, march31)
	require.NoError(t, err)
	assert.True(t, actuals.Revenue.Equal(decimal.NewFromInt(150)), actuals.Revenue.String())
	assert.True(t, actuals.Cost.Equal(decimal.NewFromInt(70)), actuals.Cost.String())

	none, err := repo.ActualsAsOf(ctx, ref, march5.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.True(t, none.Revenue.IsZero())
	assert.True(t, none.Cost.IsZero())
}

func TestGormPeriodCloseRunRepository(t *testing.T) {
	db := setupRecognitionTestDB(t)
	repo := NewGormPeriodCloseRunRepository(db)
	ctx := context.Background()

	run, err := recognition.NewPeriodCloseRun("ACME", march31)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, run))

	result := recognition.NewBatchResult("ACME", march31)
	result.Add(recognition.BatchItem{Disposition: recognition.DispositionSkipped})
	require.NoError(t, run.Complete(result))
	run.SetReportLocation("s3://reports/period-close/ACME/2024-03-31.json")
	require.NoError(t, repo.Save(ctx, run))

	found, err := repo.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, recognition.PeriodRunStatusCompleted, found.Status)
	assert.Equal(t, 1, found.SkippedCount)
	assert.Len(t, found.Items, 1)
	assert.NotNil(t, found.FinishedAt)
	assert.Equal(t, run.ReportLocation, found.ReportLocation)

	list, total, err := repo.FindByCompany(ctx, "ACME", shared.Filter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	missing := *run
	missing.ID = uuid.New()
	assert.ErrorIs(t, repo.Save(ctx, &missing), shared.ErrNotFound)
}

func TestGormTransactionScope(t *testing.T) {
	db := setupRecognitionTestDB(t)
	scope := NewGormTransactionScope(db)
	ctx := context.Background()

	rec, initial := openLedger(t, testJob(t, "SEA-600", "ACME"), "500")

	t.Run("commits ledger and postings together", func(t *testing.T) {
		err := scope.Execute(ctx, func(repos apprec.TransactionalRepositories) error {
			if err := repos.Recognitions().Create(ctx, rec); err != nil {
				return err
			}
			return repos.Postings().Create(ctx, initial)
		})
		require.NoError(t, err)

		list, err := NewGormPostingRepository(db).FindByJob(ctx, rec.Job)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("rolls back when a posting is a duplicate", func(t *testing.T) {
		err := scope.Execute(ctx, func(repos apprec.TransactionalRepositories) error {
			locked, err := repos.Recognitions().FindByJobForUpdate(ctx, rec.Job)
			if err != nil {
				return err
			}
			tr, err := locked.Adjust(recognition.SideWIP, decimal.NewFromInt(100), march31, "INV-1")
			if err != nil {
				return err
			}
			if err := repos.Recognitions().SaveWithLock(ctx, locked); err != nil {
				return err
			}
			dup := *initial
			dup.ID = uuid.New()
			return repos.Postings().Create(ctx, tr.Posting, &dup)
		})
		require.True(t, errors.Is(err, shared.ErrAlreadyExists))

		stored, err := NewGormJobRecognitionRepository(db).FindByJob(ctx, rec.Job)
		require.NoError(t, err)
		assert.True(t, stored.WIP.Balance.Equal(decimal.NewFromInt(500)), "ledger change rolled back")
		assert.Equal(t, rec.Version, stored.Version)
	})
}
