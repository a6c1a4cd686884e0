// Package models contains GORM persistence models that map to database tables.
// Domain entities carry no ORM tags; each model converts to and from its
// domain aggregate with ToDomain and FromDomain.
//
// Tables:
//   - recognition_policies: recognition policies (one column group per side)
//   - recognition_jobs: job snapshots pushed by the owning modules
//   - job_recognitions: per-job recognition ledgers
//   - recognition_postings: append-only posting journal
//   - recognition_actuals: invoiced revenue and billed cost entries
//   - period_close_runs: period-close run history
package models
