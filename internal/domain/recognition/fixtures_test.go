package recognition

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func wipSettings(minimum int64) SideSettings {
	return SideSettings{
		Enabled:       true,
		DateBasis:     DateBasisJobCreationDate,
		DebitAccount:  "1410-WIP",
		CreditAccount: "2410-DEFERRED-REV",
		MinimumAmount: decimal.NewFromInt(minimum),
	}
}

func accrualSettings(minimum int64) SideSettings {
	return SideSettings{
		Enabled:       true,
		DateBasis:     DateBasisJobCreationDate,
		DebitAccount:  "5410-COST-ACCRUAL",
		CreditAccount: "2420-ACCRUED-COST",
		MinimumAmount: decimal.NewFromInt(minimum),
	}
}

func newTestPolicy(t *testing.T, name string, scope Scope, priority int) *Policy {
	t.Helper()
	p, err := NewPolicy(name, scope, priority, wipSettings(0), accrualSettings(0))
	require.NoError(t, err)
	return p
}

func newTestJob(t *testing.T, id string, scope Scope, lines ...ChargeLine) *Job {
	t.Helper()
	ref, err := NewJobRef(JobTypeSeaShipment, id)
	require.NoError(t, err)
	created := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	job, err := NewJob(ref, scope, JobDates{CreatedAt: created}, lines, JobOverrides{})
	require.NoError(t, err)
	return job
}

func line(no int, values map[string]string) ChargeLine {
	return ChargeLine{LineNo: no, Values: values}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}
