package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
)

// ReportArchiver writes period-close run reports as JSON objects keyed
// <prefix>/<company>/<period end>/<run id>.json
type ReportArchiver struct {
	store  ObjectStore
	prefix string
}

// NewReportArchiver creates an archiver writing under prefix
func NewReportArchiver(store ObjectStore, prefix string) *ReportArchiver {
	return &ReportArchiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// runReport is the archived document
type runReport struct {
	ArchivedAt time.Time                   `json:"archived_at"`
	Run        *recognition.PeriodCloseRun `json:"run"`
}

// Archive uploads the run report and returns its location
func (a *ReportArchiver) Archive(ctx context.Context, run *recognition.PeriodCloseRun) (string, error) {
	data, err := json.MarshalIndent(runReport{ArchivedAt: time.Now().UTC(), Run: run}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run report: %w", err)
	}

	key := a.Key(run)
	if err := a.store.Put(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	return a.store.Location(key), nil
}

// Key returns the object key of a run report
func (a *ReportArchiver) Key(run *recognition.PeriodCloseRun) string {
	return path.Join(a.prefix, run.Company, run.PeriodEnd.Format(time.DateOnly), run.ID.String()+".json")
}
