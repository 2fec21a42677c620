package handlers

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/thermalspool/internal/core"
)

//go:embed templates/*.html
var templateFS embed.FS

// LoadTemplates parses the embedded page templates for gin's HTML renderer.
func LoadTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

type IndexData struct {
	Title                string
	Pending              int
	Transport            string
	Connected            bool
	StatusClass          string
	StatusIndicatorClass string
	LastPrintFormatted   string
	LastError            string
	Printed              int64
	Failed               int64
	MaxUploadMB          int64
}

type WebUIHandler struct {
	status         *core.Status
	queue          *core.Queue
	maxUploadBytes int64
}

func NewWebUIHandler(status *core.Status, queue *core.Queue, maxUploadBytes int64) *WebUIHandler {
	return &WebUIHandler{
		status:         status,
		queue:          queue,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *WebUIHandler) Index(c *gin.Context) {
	snap := h.status.Snapshot()

	data := IndexData{
		Title:                "Send a receipt",
		Pending:              h.queue.Len(),
		Transport:            snap.Transport,
		Connected:            snap.Connected,
		StatusClass:          getStatusClass(snap),
		StatusIndicatorClass: getIndicatorClass(snap),
		LastError:            snap.LastError,
		Printed:              snap.Printed,
		Failed:               snap.Failed,
		MaxUploadMB:          h.maxUploadBytes >> 20,
	}
	if snap.LastPrintAt != nil {
		data.LastPrintFormatted = formatLastSeen(*snap.LastPrintAt)
	}

	c.HTML(http.StatusOK, "index", data)
}

func getStatusClass(s core.StatusSnapshot) string {
	switch {
	case s.Connected:
		return "bg-green-100 text-green-800"
	case s.LastError != "":
		return "bg-red-100 text-red-800"
	default:
		return "bg-gray-100 text-gray-800"
	}
}

func getIndicatorClass(s core.StatusSnapshot) string {
	switch {
	case s.Connected:
		return "bg-green-400"
	case s.LastError != "":
		return "bg-red-400"
	default:
		return "bg-gray-400"
	}
}

func formatLastSeen(t time.Time) string {
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	} else if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	} else if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	}
	return t.Format("Jan 2, 15:04")
}

func (h *WebUIHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.Index)
}
