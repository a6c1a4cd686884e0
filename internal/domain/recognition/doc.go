// Package recognition models revenue (work-in-progress) and cost (accrual)
// recognition for freight jobs.
//
// The package is split along the life of a recognition:
//
//   - Policy and the ranking in resolver.go decide which accounting policy
//     applies to a job scope.
//   - The amount and date tables turn a job snapshot into the amount and the
//     calendar date of an initial recognition.
//   - JobRecognition is the per-job ledger state. It owns both sides (WIP and
//     accrual), moves each through NotStarted, Open and Closed, and emits the
//     immutable Posting records through the posting table in posting.go.
//   - PeriodCloseRun records the outcome of a period-end reconciliation.
//
// Nothing here performs I/O. Repositories and collaborator interfaces are
// declared in repository.go and implemented in the infrastructure layer.
package recognition
