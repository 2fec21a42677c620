package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/thermalspool/internal/webhook"
)

type WebhookHandler struct {
	sender *webhook.WebhookSender
}

type WebhookResponse struct {
	Index     int      `json:"index"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	HasSecret bool     `json:"has_secret"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewWebhookHandler(sender *webhook.WebhookSender) *WebhookHandler {
	return &WebhookHandler{sender: sender}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	endpoints := h.sender.Endpoints()
	resp := make([]WebhookResponse, len(endpoints))
	for i, ep := range endpoints {
		events := ep.Events
		if events == nil {
			events = []string{}
		}
		resp[i] = WebhookResponse{
			Index:     i,
			URL:       ep.URL,
			Events:    events,
			HasSecret: ep.Secret != "",
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_index",
			Message: "Invalid webhook index",
		})
		return
	}

	if err := h.sender.SendTest(index); err != nil {
		if errors.Is(err, webhook.ErrUnknownEndpoint) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Webhook not found",
			})
			return
		}
		c.JSON(http.StatusOK, TestWebhookResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to send webhook: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, TestWebhookResponse{
		Success: true,
		Message: "Webhook test successful",
	})
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks/:index/test", h.TestWebhook)
}
