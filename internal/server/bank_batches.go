package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
)

type buildOutboundRequest struct {
	BusinessDate string `json:"business_date,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

type batchView struct {
	ID           string    `json:"id"`
	Direction    string    `json:"direction"`
	Channel      string    `json:"channel"`
	BusinessDate string    `json:"business_date"`
	Status       string    `json:"status"`
	FileName     string    `json:"file_name"`
	RecordCount  int       `json:"record_count"`
	AmountCents  int64     `json:"amount_cents"`
	Checksum     string    `json:"checksum"`
	Warnings     []string  `json:"warnings,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type buildOutboundResponse struct {
	Batch    *batchView                   `json:"batch"`
	Totals   bankfiledomain.ControlTotals `json:"totals"`
	RowCount int                          `json:"row_count"`
}

type importInboundResponse struct {
	Batch      *batchView                      `json:"batch"`
	Validation bankfiledomain.ValidationResult `json:"validation"`
	Applied    int                             `json:"applied"`
	Skipped    int                             `json:"skipped"`
	Warnings   []string                        `json:"warnings,omitempty"`
}

func viewOfBatch(b *bankfiledomain.PresentmentBatch) *batchView {
	if b == nil {
		return nil
	}
	return &batchView{
		ID:           b.ID.String(),
		Direction:    string(b.Direction),
		Channel:      b.Channel,
		BusinessDate: b.BusinessDate.Format("2006-01-02"),
		Status:       string(b.Status),
		FileName:     b.FileName,
		RecordCount:  b.RecordCount,
		AmountCents:  b.AmountCents,
		Checksum:     b.Checksum,
		Warnings:     b.Warnings,
		CreatedAt:    b.CreatedAt,
	}
}

func (s *Server) BuildOutboundBatch(c *gin.Context) {
	var req buildOutboundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	var businessDate *time.Time
	if raw := strings.TrimSpace(req.BusinessDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			AbortWithError(c, newValidationError("business_date", "invalid_business_date", "business date must be YYYY-MM-DD"))
			return
		}
		businessDate = &parsed
	}

	resp, err := s.bankSvc.BuildOutbound(c.Request.Context(), bankfiledomain.BuildOutboundRequest{
		BusinessDate: businessDate,
		Limit:        req.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": buildOutboundResponse{
		Batch:    viewOfBatch(resp.Batch),
		Totals:   resp.Totals,
		RowCount: resp.RowCount,
	}})
}

func (s *Server) ImportInboundBatch(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "file_required", "multipart field 'file' is required"))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.bankSvc.ImportInbound(c.Request.Context(), bankfiledomain.ImportInboundRequest{
		FileName: fileHeader.Filename,
		Data:     data,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": importInboundResponse{
		Batch:      viewOfBatch(resp.Batch),
		Validation: resp.Validation,
		Applied:    resp.Applied,
		Skipped:    resp.Skipped,
		Warnings:   resp.Warnings,
	}})
}

func (s *Server) ListBankBatches(c *gin.Context) {
	var query struct {
		Direction string `form:"direction"`
		Limit     int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	direction := bankfiledomain.Direction(strings.ToUpper(strings.TrimSpace(query.Direction)))
	switch direction {
	case "", bankfiledomain.DirectionOutbound, bankfiledomain.DirectionInbound:
	default:
		AbortWithError(c, newValidationError("direction", "invalid_direction", "direction must be OUTBOUND or INBOUND"))
		return
	}

	batches, err := s.bankSvc.ListBatches(c.Request.Context(), bankfiledomain.ListBatchesRequest{
		Direction: direction,
		Limit:     query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]*batchView, 0, len(batches))
	for i := range batches {
		views = append(views, viewOfBatch(&batches[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) DownloadBankBatchFile(c *gin.Context) {
	batchID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_batch_id", "invalid batch id"))
		return
	}

	batch, data, err := s.bankSvc.GetBatchFile(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batch.FileName))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

func (s *Server) DownloadBankBatchManifest(c *gin.Context) {
	batchID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_batch_id", "invalid batch id"))
		return
	}

	batch, pdf, err := s.bankSvc.BuildManifest(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	name := strings.TrimSuffix(batch.FileName, ".txt") + "-manifest.pdf"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
