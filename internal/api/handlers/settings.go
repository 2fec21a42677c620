package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/thermalspool/internal/config"
)

type SettingsHandler struct {
	config *config.Config
}

// ServerConfigResponse is the effective configuration minus secrets.
type ServerConfigResponse struct {
	Port           int     `json:"port"`
	MaxUploadBytes int64   `json:"max_upload_bytes"`
	Transport      string  `json:"transport"`
	DotWidth       int     `json:"dot_width"`
	CodePage       string  `json:"codepage,omitempty"`
	HasLogo        bool    `json:"has_logo"`
	FeedLines      int     `json:"feed_lines"`
	DitherAlgo     string  `json:"dither_algorithm"`
	Threshold      float64 `json:"threshold"`
	QueueInterval  string  `json:"queue_interval"`
	RasterTimeout  string  `json:"raster_timeout"`
	WriteTimeout   string  `json:"write_timeout"`
	DatabasePath   string  `json:"database_path,omitempty"`
	RetentionDays  int     `json:"retention_days"`
	WebhookCount   int     `json:"webhook_count"`
	LogLevel       string  `json:"log_level"`
	LogFormat      string  `json:"log_format"`
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:           cfg.Server.Port,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Transport:      cfg.Printer.Transport,
		DotWidth:       cfg.Printer.DotWidth,
		CodePage:       cfg.Printer.CodePage,
		HasLogo:        cfg.Printer.LogoPath != "",
		FeedLines:      cfg.Printer.FeedLines,
		DitherAlgo:     cfg.Raster.Algorithm,
		Threshold:      cfg.Raster.Threshold,
		QueueInterval:  cfg.Queue.Interval.String(),
		RasterTimeout:  cfg.Queue.RasterTimeout.String(),
		WriteTimeout:   cfg.Queue.WriteTimeout.String(),
		DatabasePath:   cfg.Database.Path,
		RetentionDays:  cfg.Database.RetentionDays,
		WebhookCount:   len(cfg.Webhook.Endpoints),
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
	})
}

func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.GetServerConfig)
}
