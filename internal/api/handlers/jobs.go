package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/core"
	"github.com/orrn/thermalspool/internal/db"
	"github.com/orrn/thermalspool/internal/logger"
)

// multipartOverhead is allowed on top of the image limit for the text fields
// and part headers.
const multipartOverhead = 64 << 10

type SubmitJobResponse struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

type QueueResponse struct {
	Pending int `json:"pending"`
}

type ListJobsQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=completed failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

type ListJobsResponse struct {
	Jobs  []*db.PrintRecord `json:"jobs"`
	Count int               `json:"count"`
}

type StatsQuery struct {
	Days int `form:"days" binding:"omitempty,min=1,max=366"`
}

type StatsResponse struct {
	Total     int64              `json:"total"`
	Completed int64              `json:"completed"`
	Failed    int64              `json:"failed"`
	Daily     []*db.PrintCounter `json:"daily"`
}

type JobHandler struct {
	queue          *core.Queue
	history        *db.HistoryOperations
	counters       *db.CounterOperations
	maxUploadBytes int64
}

// NewJobHandler builds the submission and history handlers. history and
// counters may be nil when the history database is disabled.
func NewJobHandler(queue *core.Queue, history *db.HistoryOperations, counters *db.CounterOperations, maxUploadBytes int64) *JobHandler {
	return &JobHandler{
		queue:          queue,
		history:        history,
		counters:       counters,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *JobHandler) SubmitJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	job := &core.PrintJob{
		Name:        strings.TrimSpace(c.PostForm("name")),
		Text:        strings.TrimSpace(c.PostForm("text")),
		SubmittedBy: c.ClientIP(),
	}

	image, err := h.readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_image",
			Message: err.Error(),
		})
		return
	}
	job.Image = image

	if job.Text == "" && job.Image == nil {
		job.Text = core.BlankPrint
	}

	pos := h.queue.Enqueue(job)

	logger.Info("Print job accepted",
		zap.String("job_id", job.ID),
		zap.Int("position", pos),
		zap.Bool("has_image", job.Image != nil),
		zap.String("client_ip", job.SubmittedBy))

	resp := SubmitJobResponse{ID: job.ID, Position: pos}
	switch c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) {
	case gin.MIMEHTML:
		c.HTML(http.StatusAccepted, "accepted", resp)
	default:
		c.JSON(http.StatusAccepted, resp)
	}
}

// readImage returns the uploaded image, or nil when none was sent.
func (h *JobHandler) readImage(c *gin.Context) (*core.Attachment, error) {
	header, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("image exceeds %d bytes", h.maxUploadBytes)
		}
		return nil, fmt.Errorf("failed to read upload: %v", err)
	}

	if header.Size == 0 {
		return nil, nil
	}
	if header.Size > h.maxUploadBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", h.maxUploadBytes)
	}

	data, err := readPart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %v", err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("unsupported content type %q", mimeType)
	}

	return &core.Attachment{
		Filename: header.Filename,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (h *JobHandler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, QueueResponse{Pending: h.queue.Len()})
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "history_disabled",
			Message: "Print history is not enabled",
		})
		return
	}

	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_query",
			Message: err.Error(),
		})
		return
	}

	records, err := h.history.List(c.Request.Context(), db.HistoryFilter{
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		logger.Error("Failed to list print history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list print history",
		})
		return
	}
	if records == nil {
		records = []*db.PrintRecord{}
	}

	c.JSON(http.StatusOK, ListJobsResponse{Jobs: records, Count: len(records)})
}

func (h *JobHandler) GetStats(c *gin.Context) {
	if h.history == nil || h.counters == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "history_disabled",
			Message: "Print history is not enabled",
		})
		return
	}

	var query StatsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_query",
			Message: err.Error(),
		})
		return
	}
	if query.Days == 0 {
		query.Days = 7
	}

	ctx := c.Request.Context()
	stats, err := h.history.Stats(ctx)
	if err != nil {
		logger.Error("Failed to count print history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load statistics",
		})
		return
	}

	now := time.Now()
	daily, err := h.counters.GetCounters(ctx, now.AddDate(0, 0, -(query.Days-1)), now)
	if err != nil {
		logger.Error("Failed to load print counters", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load statistics",
		})
		return
	}
	if daily == nil {
		daily = []*db.PrintCounter{}
	}

	c.JSON(http.StatusOK, StatsResponse{
		Total:     stats.Total,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Daily:     daily,
	})
}

func (h *JobHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/print", h.SubmitJob)

	api := router.Group("/api")
	api.GET("/queue", h.GetQueue)
	api.GET("/jobs", h.ListJobs)
	api.GET("/stats", h.GetStats)
}
