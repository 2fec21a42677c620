// Package api wires the HTTP surface: the submission form, the submit
// endpoint and the JSON status endpoints.
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/orrn/thermalspool/internal/api/handlers"
	"github.com/orrn/thermalspool/internal/api/middleware"
	"github.com/orrn/thermalspool/internal/archive"
	"github.com/orrn/thermalspool/internal/config"
	"github.com/orrn/thermalspool/internal/core"
	"github.com/orrn/thermalspool/internal/db"
	"github.com/orrn/thermalspool/internal/webhook"
)

type Deps struct {
	Queue          *core.Queue
	Status         *core.Status
	MaxUploadBytes int64

	// Optional: nil when the history database is disabled.
	History  *db.HistoryOperations
	Counters *db.CounterOperations
	// Optional: nil when history retention is off.
	Archiver   *archive.Archiver
	ArchiveLog *db.ArchiveOperations
	// Optional: nil when no webhook endpoints are configured.
	Webhooks *webhook.WebhookSender
	// Optional: exposes the effective configuration at /api/settings.
	Config *config.Config
}

func NewRouter(d Deps) (*gin.Engine, error) {
	if d.Queue == nil || d.Status == nil {
		return nil, fmt.Errorf("router requires a queue and a printer status")
	}

	tmpl, err := handlers.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.RequestLogger(), middleware.Recovery())
	router.SetHTMLTemplate(tmpl)
	router.MaxMultipartMemory = d.MaxUploadBytes

	handlers.NewWebUIHandler(d.Status, d.Queue, d.MaxUploadBytes).RegisterRoutes(router)
	handlers.NewJobHandler(d.Queue, d.History, d.Counters, d.MaxUploadBytes).RegisterRoutes(router)

	api := router.Group("/api")
	handlers.NewPrinterHandler(d.Status, d.Queue).RegisterRoutes(api)
	if d.Archiver != nil && d.ArchiveLog != nil {
		handlers.NewArchiveHandler(d.Archiver, d.ArchiveLog).RegisterRoutes(api)
	}
	if d.Webhooks != nil {
		handlers.NewWebhookHandler(d.Webhooks).RegisterRoutes(api)
	}
	if d.Config != nil {
		handlers.NewSettingsHandler(d.Config).RegisterRoutes(api)
	}

	return router, nil
}
