// Package export renders recognition postings as spreadsheets.
package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ContentTypeXLSX is the MIME type of the exported workbook
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	journalSheet = "Journal"
	summarySheet = "Summary"
)

var journalHeader = []any{
	"Date", "Job", "Kind", "Debit Account", "Credit Account", "Amount",
	"Memo", "Trigger", "Idempotency Key", "Posted At",
}

// JournalMeta describes the exported range
type JournalMeta struct {
	Company  string
	FromDate *time.Time
	ToDate   *time.Time
}

// Filename returns a download name such as journal_ACME_2024-03-01_2024-03-31.xlsx
func (m JournalMeta) Filename() string {
	from, to := "start", "now"
	if m.FromDate != nil {
		from = m.FromDate.Format(time.DateOnly)
	}
	if m.ToDate != nil {
		to = m.ToDate.Format(time.DateOnly)
	}
	return fmt.Sprintf("journal_%s_%s_%s.xlsx", m.Company, from, to)
}

// WriteJournal writes a workbook with one row per posting on the Journal
// sheet and per-kind totals on the Summary sheet
func WriteJournal(w io.Writer, meta JournalMeta, postings []recognition.Posting) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", journalSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}

	if err := f.SetSheetRow(journalSheet, "A1", &journalHeader); err != nil {
		return err
	}
	if err := f.SetCellStyle(journalSheet, "A1", "J1", headerStyle); err != nil {
		return err
	}

	totals := make(map[recognition.PostingKind]decimal.Decimal)
	for i, p := range postings {
		row := []any{
			p.Date.Format(time.DateOnly),
			p.Job.String(),
			string(p.Kind),
			p.DebitAccount,
			p.CreditAccount,
			p.Amount.InexactFloat64(),
			p.Memo,
			p.TriggerID,
			p.IdempotencyKey,
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(journalSheet, cell, &row); err != nil {
			return err
		}
		totals[p.Kind] = totals[p.Kind].Add(p.Amount)
	}
	if len(postings) > 0 {
		last := fmt.Sprintf("F%d", len(postings)+1)
		if err := f.SetCellStyle(journalSheet, "F2", last, amountStyle); err != nil {
			return err
		}
	}
	for col, width := range map[string]float64{"A": 12, "B": 26, "C": 20, "D": 20, "E": 20, "F": 14, "G": 28, "H": 28, "I": 48, "J": 22} {
		if err := f.SetColWidth(journalSheet, col, col, width); err != nil {
			return err
		}
	}

	if err := writeSummary(f, meta, totals, len(postings), headerStyle, amountStyle); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

func writeSummary(f *excelize.File, meta JournalMeta, totals map[recognition.PostingKind]decimal.Decimal, count, headerStyle, amountStyle int) error {
	from, to := "", ""
	if meta.FromDate != nil {
		from = meta.FromDate.Format(time.DateOnly)
	}
	if meta.ToDate != nil {
		to = meta.ToDate.Format(time.DateOnly)
	}
	rows := [][]any{
		{"Company", meta.Company},
		{"From", from},
		{"To", to},
		{"Postings", count},
		{},
		{"Kind", "Total"},
	}

	kinds := make([]string, 0, len(totals))
	for k := range totals {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		rows = append(rows, []any{k, totals[recognition.PostingKind(k)].InexactFloat64()})
	}

	for i, row := range rows {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A4", headerStyle); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A6", "B6", headerStyle); err != nil {
		return err
	}
	if len(kinds) > 0 {
		if err := f.SetCellStyle(summarySheet, "B7", fmt.Sprintf("B%d", len(rows)), amountStyle); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 22)
}
