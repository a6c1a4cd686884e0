package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/export"
	"github.com/gin-gonic/gin"
)

// JournalHandler exports posting journals
type JournalHandler struct {
	BaseHandler
	recognition *apprec.RecognitionService
}

// NewJournalHandler creates a new JournalHandler
func NewJournalHandler(recognitionService *apprec.RecognitionService) *JournalHandler {
	return &JournalHandler{recognition: recognitionService}
}

// JournalQuery selects the postings to export
type JournalQuery struct {
	From string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To   string `form:"to" binding:"omitempty,datetime=2006-01-02"`
	// Kinds is a comma separated list of posting kinds
	Kinds string `form:"kinds"`
}

// Export godoc
// @ID           exportJournal
// @Summary      Export posting journal
// @Description  Downloads the postings of the caller's company as an XLSX workbook with a
// @Description  Journal sheet and a per-kind Summary sheet
// @Tags         recognition
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        from  query string false "First posting date (YYYY-MM-DD)"
// @Param        to    query string false "Last posting date (YYYY-MM-DD)"
// @Param        kinds query string false "Comma separated posting kinds"
// @Success      200 {file} file
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/postings/export [get]
func (h *JournalHandler) Export(c *gin.Context) {
	company, ok := h.Company(c)
	if !ok {
		return
	}
	var q JournalQuery
	if !h.BindQuery(c, &q) {
		return
	}

	filter := recognition.PostingFilter{Company: company}
	if q.From != "" {
		from, err := ParseDate(q.From)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		filter.FromDate = &from
	}
	if q.To != "" {
		to, err := ParseDate(q.To)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		filter.ToDate = &to
	}
	if filter.FromDate != nil && filter.ToDate != nil && filter.ToDate.Before(*filter.FromDate) {
		h.HandleError(c, shared.NewDomainError("INVALID_DATE_RANGE", "to must not be before from"))
		return
	}
	for _, raw := range strings.Split(q.Kinds, ",") {
		raw = strings.ToUpper(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		kind := recognition.PostingKind(raw)
		if !kind.IsValid() {
			h.HandleError(c, shared.NewDomainError("INVALID_POSTING_KIND", fmt.Sprintf("Unknown posting kind %q", raw)))
			return
		}
		filter.Kinds = append(filter.Kinds, kind)
	}

	postings, err := h.recognition.ListJournal(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	meta := export.JournalMeta{Company: company, FromDate: filter.FromDate, ToDate: filter.ToDate}
	var buf bytes.Buffer
	if err := export.WriteJournal(&buf, meta, postings); err != nil {
		h.HandleError(c, fmt.Errorf("failed to render journal: %w", err))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, meta.Filename()))
	c.Data(http.StatusOK, export.ContentTypeXLSX, buf.Bytes())
}
