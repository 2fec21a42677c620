package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/archive"
	"github.com/orrn/thermalspool/internal/db"
	"github.com/orrn/thermalspool/internal/logger"
)

type ArchiveHandler struct {
	archiver   *archive.Archiver
	archiveLog *db.ArchiveOperations
}

func NewArchiveHandler(archiver *archive.Archiver, archiveLog *db.ArchiveOperations) *ArchiveHandler {
	return &ArchiveHandler{
		archiver:   archiver,
		archiveLog: archiveLog,
	}
}

type ArchiveListResponse struct {
	Archives    []*archive.ArchiveFile `json:"archives"`
	Count       int                    `json:"count"`
	ArchiveDays int                    `json:"archive_days"`
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives()
	if err != nil {
		logger.Error("Failed to list archives", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archives"})
		return
	}
	if archives == nil {
		archives = []*archive.ArchiveFile{}
	}

	c.JSON(http.StatusOK, ArchiveListResponse{
		Archives:    archives,
		Count:       len(archives),
		ArchiveDays: h.archiver.GetArchiveDays(),
	})
}

type ArchiveLogResponse struct {
	Entries []*db.ArchiveEntry `json:"entries"`
	Count   int                `json:"count"`
}

func (h *ArchiveHandler) GetArchiveLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.archiveLog.List(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to list archive log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archive log"})
		return
	}
	if entries == nil {
		entries = []*db.ArchiveEntry{}
	}

	c.JSON(http.StatusOK, ArchiveLogResponse{Entries: entries, Count: len(entries)})
}

type TriggerArchiveResponse struct {
	Message  string `json:"message"`
	Archived int    `json:"archived"`
	Error    string `json:"error,omitempty"`
}

func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	n, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		logger.Error("Manual archive failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, TriggerArchiveResponse{
			Message: "archive completed with errors",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, TriggerArchiveResponse{
		Message:  "archive completed successfully",
		Archived: n,
	})
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/archives", h.ListArchives)
	r.GET("/archives/log", h.GetArchiveLog)
	r.POST("/archives/run", h.TriggerArchive)
}
