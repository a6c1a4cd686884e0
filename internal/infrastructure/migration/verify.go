package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RecognitionTables are the tables the service reads and writes
var RecognitionTables = []string{
	"recognition_policies",
	"recognition_jobs",
	"job_recognitions",
	"recognition_postings",
	"recognition_actuals",
	"period_close_runs",
}

// PostingImmutableTrigger rejects UPDATE and DELETE on recognition_postings
const PostingImmutableTrigger = "trg_recognition_postings_immutable"

// VerifySchema checks that every recognition table exists and that the
// posting journal is still append-only. It reports all problems at once.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	var problems []string

	for _, table := range RecognitionTables {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)::text", table).Scan(&regclass); err != nil {
			return fmt.Errorf("failed to look up table %s: %w", table, err)
		}
		if !regclass.Valid {
			problems = append(problems, "missing table "+table)
		}
	}

	var triggers int
	err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM pg_trigger WHERE tgname = $1 AND NOT tgisinternal AND tgenabled <> 'D'",
		PostingImmutableTrigger,
	).Scan(&triggers)
	if err != nil {
		return fmt.Errorf("failed to look up trigger %s: %w", PostingImmutableTrigger, err)
	}
	if triggers == 0 {
		problems = append(problems, "missing or disabled trigger "+PostingImmutableTrigger)
	}

	if len(problems) > 0 {
		return fmt.Errorf("schema check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
