package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/core"
	"github.com/orrn/thermalspool/internal/logger"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PrinterStatusResponse struct {
	core.StatusSnapshot
	Pending int `json:"pending"`
}

type PrinterHandler struct {
	status *core.Status
	queue  *core.Queue
}

func NewPrinterHandler(status *core.Status, queue *core.Queue) *PrinterHandler {
	return &PrinterHandler{
		status: status,
		queue:  queue,
	}
}

func (h *PrinterHandler) GetPrinterStatus(c *gin.Context) {
	c.JSON(http.StatusOK, PrinterStatusResponse{
		StatusSnapshot: h.status.Snapshot(),
		Pending:        h.queue.Len(),
	})
}

// TestPrinter queues a test receipt. It goes through the queue like any other
// job so it never races the consumer for the transport.
func (h *PrinterHandler) TestPrinter(c *gin.Context) {
	job := core.TestJob(c.ClientIP())
	pos := h.queue.Enqueue(job)

	logger.Info("Test print queued",
		zap.String("job_id", job.ID),
		zap.Int("position", pos))

	c.JSON(http.StatusAccepted, SubmitJobResponse{ID: job.ID, Position: pos})
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printer", h.GetPrinterStatus)
	r.POST("/printer/test", h.TestPrinter)
}
