package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"moneymind/internal/cacheworker"
	"moneymind/internal/config"
	"moneymind/internal/logging"
	"moneymind/internal/metrics"
)

const userAgent = "MoneyMind/1.0"

// Event identifies a notification type.
type Event string

const (
	EventUploadSucceeded Event = "upload_succeeded"
	EventUploadFailed    Event = "upload_failed"
	EventPush            Event = "push"
	EventTest            Event = "test"
)

// Payload carries the event fields used to render a message.
type Payload map[string]any

func (p Payload) string(key string) string {
	if p == nil {
		return ""
	}
	switch value := p[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	ShowNotification(ctx context.Context, n cacheworker.Notification) error
}

// Option customizes the ntfy service.
type Option func(*ntfyService)

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(n *ntfyService) {
		if logger != nil {
			n.logger = logging.NewComponentLogger(logger, "notifications")
		}
	}
}

// WithMetrics counts deliveries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *ntfyService) {
		n.metrics = m
	}
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config, opts ...Option) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	svc := &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		clickURL: rootURL(cfg.Worker.OriginURL),
		logger:   logging.NewNop(),
		enabled: map[Event]bool{
			EventUploadSucceeded: cfg.Notifications.UploadSuccess,
			EventUploadFailed:    cfg.Notifications.UploadFailure,
			EventPush:            cfg.Notifications.Push,
			EventTest:            true,
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
	click    string
	icon     string
	actions  string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
	enabled  map[Event]bool
	clickURL string
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	err := n.send(ctx, msg)
	n.metrics.ObserveNotification(string(event), err)
	if err != nil {
		logging.WarnWithContext(n.logger, "notification not delivered", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access to the ntfy server"),
		)
	}
	return err
}

func (n *ntfyService) ShowNotification(ctx context.Context, note cacheworker.Notification) error {
	if !n.enabled[EventPush] {
		return nil
	}
	msg := message{
		title: note.Title,
		body:  note.Body,
		tags:  []string{"moneymind", "push"},
		icon:  note.Icon,
	}
	if strings.HasPrefix(msg.icon, "/") && n.clickURL != "" {
		msg.icon = strings.TrimRight(n.clickURL, "/") + msg.icon
	}
	var actions []string
	for _, action := range note.Actions {
		if action.Action == cacheworker.ActionExplore && n.clickURL != "" {
			actions = append(actions, fmt.Sprintf("view, %s, %s", action.Title, n.clickURL))
		}
	}
	msg.actions = strings.Join(actions, "; ")
	msg.click = n.clickURL
	err := n.send(ctx, msg)
	n.metrics.ObserveNotification(string(EventPush), err)
	return err
}

func render(event Event, payload Payload) (message, bool) {
	switch event {
	case EventUploadSucceeded:
		file := payload.string("fileName")
		body := fmt.Sprintf("Uploaded %s", file)
		if owner := payload.string("ownerId"); owner != "" {
			body = fmt.Sprintf("Uploaded %s for supplier %s", file, owner)
		}
		return message{
			title: "MoneyMind - Upload Complete",
			body:  body,
			tags:  []string{"moneymind", "upload", "completed"},
		}, true
	case EventUploadFailed:
		var builder strings.Builder
		builder.WriteString("Upload of ")
		builder.WriteString(payload.string("fileName"))
		builder.WriteString(" failed")
		if errText := payload.string("error"); errText != "" {
			builder.WriteString(": ")
			builder.WriteString(errText)
		}
		return message{
			title:    "MoneyMind - Upload Failed",
			body:     builder.String(),
			tags:     []string{"moneymind", "upload", "error"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "MoneyMind - Test",
			body:     "Notification system test",
			tags:     []string{"moneymind", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	if data.icon != "" && (strings.HasPrefix(data.icon, "http://") || strings.HasPrefix(data.icon, "https://")) {
		req.Header.Set("Icon", data.icon)
	}
	if data.click != "" {
		req.Header.Set("Click", data.click)
	}
	if data.actions != "" {
		req.Header.Set("Actions", data.actions)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func rootURL(origin string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return ""
	}
	return origin + "/"
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

func (noopService) ShowNotification(context.Context, cacheworker.Notification) error { return nil }
