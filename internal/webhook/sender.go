package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/core"
	"github.com/orrn/thermalspool/internal/logger"
)

type WebhookEvent string

const (
	EventJobCompleted         WebhookEvent = "job_completed"
	EventJobFailed            WebhookEvent = "job_failed"
	EventPrinterStatusChanged WebhookEvent = "printer_status_changed"
	EventTest                 WebhookEvent = "test"
)

var ErrUnknownEndpoint = errors.New("unknown webhook endpoint")

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type PrinterStatusData struct {
	Transport         string    `json:"transport"`
	PreviousConnected bool      `json:"previous_connected"`
	Connected         bool      `json:"connected"`
	Timestamp         time.Time `json:"timestamp"`
}

type Endpoint struct {
	URL    string
	Secret string
	// Events limits delivery to the named events. Empty means all.
	Events []string
}

func (e Endpoint) wants(event WebhookEvent) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == string(event) {
			return true
		}
	}
	return false
}

type WebhookConfig struct {
	Endpoints   []Endpoint
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type webhookTask struct {
	endpoint Endpoint
	event    WebhookEvent
	payload  *WebhookPayload
	attempt  int
}

type WebhookSender struct {
	endpoints   []Endpoint
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func NewWebhookSender(config WebhookConfig) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	return &WebhookSender{
		endpoints: config.Endpoints,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		queue:       make(chan *webhookTask, config.QueueSize),
		stopCh:      make(chan struct{}),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *WebhookSender) SendJobEvent(ev core.JobEvent) {
	event := EventJobCompleted
	if ev.Status == core.JobStatusFailed {
		event = EventJobFailed
	}
	s.enqueue(event, ev)
}

func (s *WebhookSender) SendPrinterStatusChange(transport string, wasConnected, connected bool) {
	s.enqueue(EventPrinterStatusChanged, &PrinterStatusData{
		Transport:         transport,
		PreviousConnected: wasConnected,
		Connected:         connected,
		Timestamp:         time.Now(),
	})
}

func (s *WebhookSender) Endpoints() []Endpoint {
	return append([]Endpoint(nil), s.endpoints...)
}

// SendTest delivers a signed test event to one endpoint synchronously,
// without retries, and returns the delivery error.
func (s *WebhookSender) SendTest(index int) error {
	if index < 0 || index >= len(s.endpoints) {
		return fmt.Errorf("%w: %d", ErrUnknownEndpoint, index)
	}
	return s.sendRequest(s.endpoints[index], &WebhookPayload{
		Event:     string(EventTest),
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"test":    true,
			"message": "Test webhook from thermalspool",
		},
	})
}

func (s *WebhookSender) enqueue(event WebhookEvent, data interface{}) {
	for _, endpoint := range s.endpoints {
		if !endpoint.wants(event) {
			continue
		}

		task := &webhookTask{
			endpoint: endpoint,
			event:    event,
			payload: &WebhookPayload{
				Event:     string(event),
				Timestamp: time.Now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			logger.Warn("Webhook queue full, dropping delivery",
				zap.String("url", endpoint.URL),
				zap.String("event", string(event)))
		}
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				logger.Error("Webhook delivery failed",
					zap.Int("worker", id),
					zap.String("url", task.endpoint.URL),
					zap.String("event", string(task.event)),
					zap.Int("attempts", task.attempt),
					zap.Error(err))
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.endpoint, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			logger.Debug("Retrying webhook",
				zap.String("url", task.endpoint.URL),
				zap.Int("attempt", task.attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(endpoint Endpoint, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	signed := *payload
	if endpoint.Secret != "" {
		signed.Signature = signPayload(dataBytes, endpoint.Secret)
	}

	body, err := json.Marshal(&signed)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", signed.Event)
	if signed.Signature != "" {
		req.Header.Set("X-Webhook-Signature", signed.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

// signPayload returns the hex HMAC-SHA256 of the JSON-encoded data field.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
